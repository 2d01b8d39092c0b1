package wallet

import "time"

// Key management modes for a wallet record.
const (
	// KeyManagementModeManaged means the server holds the wallet key
	// material and callers never supply one.
	KeyManagementModeManaged = "managed"

	// KeyManagementModeUnmanaged means the wallet key is held by the
	// caller and must accompany every issue/validate operation.
	KeyManagementModeUnmanaged = "unmanaged"
)

// Issuance is one currently-valid token issuance for a wallet. The
// TokenID is the membership key used for revocation; IssuedAt and
// ExpiresAt are kept for expiry computation and display.
type Issuance struct {
	TokenID   string `json:"token_id"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Expired reports whether the issuance's expiry has passed at the given time
func (i Issuance) Expired(now time.Time) bool {
	return now.Unix() > i.ExpiresAt
}

// Record is the persisted state of one tenant wallet. ValidIssuances is
// the sole source of truth for which issued tokens are still live: an
// entry is appended when a token is issued and removed on expiry cleanup
// or explicit revocation.
type Record struct {
	WalletID          string         `json:"wallet_id"`
	KeyManagementMode string         `json:"key_management_mode"`
	Settings          map[string]any `json:"settings,omitempty"`
	ValidIssuances    []Issuance     `json:"valid_issuances"`

	// Version is the optimistic concurrency control version managed by
	// the store. A Put with a stale version fails with ErrVersionConflict.
	Version uint64 `json:"version"`
}

// RequiresExternalKey reports whether operations on this wallet need a
// caller-supplied wallet key
func (r *Record) RequiresExternalKey() bool {
	return r.KeyManagementMode == KeyManagementModeUnmanaged
}

// AddIssuance appends an issuance entry, keeping insertion order.
// Duplicate token IDs are ignored.
func (r *Record) AddIssuance(iss Issuance) {
	for _, existing := range r.ValidIssuances {
		if existing.TokenID == iss.TokenID {
			return
		}
	}
	r.ValidIssuances = append(r.ValidIssuances, iss)
}

// RemoveIssuance removes the issuance with the given token ID and
// reports whether an entry was removed
func (r *Record) RemoveIssuance(tokenID string) bool {
	for i, iss := range r.ValidIssuances {
		if iss.TokenID == tokenID {
			r.ValidIssuances = append(r.ValidIssuances[:i], r.ValidIssuances[i+1:]...)
			return true
		}
	}
	return false
}

// HasIssuance reports whether the token ID is still registered as valid
func (r *Record) HasIssuance(tokenID string) bool {
	for _, iss := range r.ValidIssuances {
		if iss.TokenID == tokenID {
			return true
		}
	}
	return false
}

// PruneExpired removes all issuance entries whose expiry has passed and
// returns the number of entries removed
func (r *Record) PruneExpired(now time.Time) int {
	kept := r.ValidIssuances[:0]
	removed := 0
	for _, iss := range r.ValidIssuances {
		if iss.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, iss)
	}
	r.ValidIssuances = kept
	return removed
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	clone := &Record{
		WalletID:          r.WalletID,
		KeyManagementMode: r.KeyManagementMode,
		Version:           r.Version,
	}
	if r.Settings != nil {
		clone.Settings = make(map[string]any, len(r.Settings))
		for k, v := range r.Settings {
			clone.Settings[k] = v
		}
	}
	if r.ValidIssuances != nil {
		clone.ValidIssuances = make([]Issuance, len(r.ValidIssuances))
		copy(clone.ValidIssuances, r.ValidIssuances)
	}
	return clone
}
