package multitenant

import (
	"context"

	"github.com/walletmesh/multitoken/wallet"
)

// Outcome classifies the result of validating a token. Every outcome is
// an expected, recoverable result returned to the caller as data, not
// an error; only infrastructure faults surface as errors.
type Outcome int

const (
	// OutcomeAuthenticated means the token was honored and the wallet's
	// profile was resolved.
	OutcomeAuthenticated Outcome = iota

	// OutcomeExpired means the token was structurally valid but past
	// its expiry. The stale issuance entry has been cleaned up
	// best-effort. The caller must obtain a new token.
	OutcomeExpired

	// OutcomeMalformed means the token cannot be honored: bad signature
	// or structure, or it references an unknown wallet. The caller must
	// re-authenticate from scratch.
	OutcomeMalformed

	// OutcomeRevoked means the token was valid and unexpired but its
	// issuance is no longer in the wallet's valid set.
	OutcomeRevoked

	// OutcomeMissingWalletKey means the wallet requires a caller-held
	// key that the token does not carry. The caller can retry
	// immediately with the key supplied.
	OutcomeMissingWalletKey
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeExpired:
		return "expired"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeRevoked:
		return "revoked"
	case OutcomeMissingWalletKey:
		return "missing_wallet_key"
	default:
		return "unknown"
	}
}

// Validation is the result of ValidateToken. Profile is non-nil exactly
// when Outcome is OutcomeAuthenticated.
type Validation struct {
	Outcome Outcome
	Profile Profile
}

// Profile is the tenant-scoped execution context returned after
// successful authentication. The host system provides the concrete
// implementation; this core only passes it through.
type Profile interface {
	WalletID() string
	Settings() map[string]any
}

// ProfileResolver opens the isolated execution context for a wallet.
// Implemented by the host system; the wallet key, when present, is
// passed through as extraSettings["wallet.key"].
type ProfileResolver interface {
	ResolveProfile(ctx context.Context, record *wallet.Record, extraSettings map[string]any) (Profile, error)
}
