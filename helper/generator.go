package helper

import (
	"crypto/rand"

	"github.com/hashicorp/go-secure-stdlib/base62"
	"github.com/oklog/ulid"
)

// GenerateTokenID returns a unique, lexicographically sortable token
// identifier. ULIDs embed a millisecond timestamp, so IDs minted for the
// same wallet within the same second never collide.
func GenerateTokenID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// GenerateRandomString generates a cryptographically secure base62 string
func GenerateRandomString(length int) string {
	s, err := base62.Random(length)
	if err != nil {
		panic(err)
	}
	return s
}
