package token

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// SigningAlgorithm is the only algorithm accepted on both the encode
// and decode paths. Tokens carrying any other "alg" are malformed.
const SigningAlgorithm = "HS256"

var (
	// ErrTokenExpired means the token's signature and structure are
	// valid but its expiry has passed. The claims are still recoverable
	// via DecodeExpired for cleanup.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenMalformed means the token cannot be honored: bad
	// signature, bad structure, unsupported algorithm, or a missing
	// required claim.
	ErrTokenMalformed = errors.New("token is malformed")
)

// Claims is the payload carried by an auth token.
type Claims struct {
	// WalletID identifies the tenant wallet the token is scoped to.
	WalletID string

	// TokenID is the unique issuance identifier ("jti"). It is the
	// membership key in the wallet's valid-issuance set; IssuedAt is
	// kept for expiry computation and display only.
	TokenID string

	// IssuedAt and ExpiresAt are seconds since epoch.
	IssuedAt  int64
	ExpiresAt int64

	// WalletKey is the caller-supplied key for unmanaged wallets.
	WalletKey string
}

// jwtClaims is the wire shape of Claims
type jwtClaims struct {
	WalletID  string `json:"wallet_id"`
	WalletKey string `json:"wallet_key,omitempty"`
	jwtv5.RegisteredClaims
}

// CodecConfig configures a Codec
type CodecConfig struct {
	// Secret is the process-wide symmetric signing secret. Required.
	Secret string

	// Clock returns the current time; defaults to time.Now. Injected so
	// expiry behavior is testable.
	Clock func() time.Time
}

// Codec signs claims into compact tokens and verifies them back. It is
// purely functional over the injected secret and clock and carries no
// other state, so a single instance is safe for concurrent use.
type Codec struct {
	secret []byte
	clock  func() time.Time
}

func NewCodec(conf CodecConfig) (*Codec, error) {
	if conf.Secret == "" {
		return nil, fmt.Errorf("codec requires a signing secret")
	}
	clock := conf.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Codec{
		secret: []byte(conf.Secret),
		clock:  clock,
	}, nil
}

// Encode signs the claims into a compact token string
func (c *Codec) Encode(claims *Claims) (string, error) {
	wire := &jwtClaims{
		WalletID:  claims.WalletID,
		WalletKey: claims.WalletKey,
		RegisteredClaims: jwtv5.RegisteredClaims{
			ID:        claims.TokenID,
			IssuedAt:  jwtv5.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwtv5.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
	}

	signed, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, wire).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the token and returns its claims. It distinguishes
// expiry (ErrTokenExpired) from every other failure (ErrTokenMalformed):
// an expired token still had a valid signature, so its claims are
// trustworthy for cleanup via DecodeExpired.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	return c.decode(tokenString, false)
}

// DecodeExpired verifies the token's signature and structure but
// ignores its expiry, returning the claims of an expired token
func (c *Codec) DecodeExpired(tokenString string) (*Claims, error) {
	return c.decode(tokenString, true)
}

func (c *Codec) decode(tokenString string, ignoreExpiry bool) (*Claims, error) {
	keyfunc := func(t *jwtv5.Token) (any, error) {
		return c.secret, nil
	}

	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{SigningAlgorithm}),
		jwtv5.WithTimeFunc(c.clock),
		jwtv5.WithExpirationRequired(),
	}
	if ignoreExpiry {
		opts = append(opts, jwtv5.WithoutClaimsValidation())
	}

	var wire jwtClaims
	tok, err := jwtv5.ParseWithClaims(tokenString, &wire, keyfunc, opts...)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !tok.Valid {
		return nil, ErrTokenMalformed
	}

	return claimsFromWire(&wire)
}

func claimsFromWire(wire *jwtClaims) (*Claims, error) {
	if wire.WalletID == "" {
		return nil, fmt.Errorf("%w: missing wallet_id claim", ErrTokenMalformed)
	}
	if wire.ID == "" {
		return nil, fmt.Errorf("%w: missing jti claim", ErrTokenMalformed)
	}
	if wire.IssuedAt == nil || wire.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing iat or exp claim", ErrTokenMalformed)
	}

	return &Claims{
		WalletID:  wire.WalletID,
		TokenID:   wire.ID,
		IssuedAt:  wire.IssuedAt.Unix(),
		ExpiresAt: wire.ExpiresAt.Unix(),
		WalletKey: wire.WalletKey,
	}, nil
}
