package multitenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/walletmesh/multitoken/helper"
	"github.com/walletmesh/multitoken/logger"
	"github.com/walletmesh/multitoken/token"
	"github.com/walletmesh/multitoken/wallet"
)

var (
	// ErrWalletKeyMissing is returned by CreateAuthToken when an
	// unmanaged wallet is addressed without a caller-supplied key
	ErrWalletKeyMissing = errors.New("wallet key is missing")

	// ErrManagerClosed is returned after Close
	ErrManagerClosed = errors.New("multitenant manager is closed")
)

// DefaultTokenTTL is the token lifetime used when none is configured
const DefaultTokenTTL = time.Minute

// defaultPutRetries bounds the read-modify-write retry loop around
// wallet record mutations when the store reports a version conflict
const defaultPutRetries = 5

// Manager issues, validates, and revokes wallet-scoped auth tokens. A
// wallet may hold any number of concurrently valid tokens; each is
// tracked by its issuance entry in the wallet record, which is the sole
// source of truth for token liveness.
type Manager interface {
	// CreateAuthToken issues a new signed token for the wallet and
	// durably registers its issuance before returning it.
	CreateAuthToken(ctx context.Context, walletID string, walletKey string) (string, error)

	// ValidateToken classifies a bare token and, when it is honored,
	// resolves the wallet's profile. Every taxonomy outcome is returned
	// as a Validation; only infrastructure faults return errors.
	ValidateToken(ctx context.Context, tokenString string) (*Validation, error)

	// RevokeToken removes the token's issuance entry so it can no
	// longer authenticate. Revoking an already-dead token is a no-op.
	RevokeToken(ctx context.Context, tokenString string) error

	// Store exposes the wallet record store so the host system can
	// provision and administer wallet records. Record creation and
	// deletion are host operations, not manager ones.
	Store() wallet.Store

	GetMetrics() map[string]int64
	Close() error
}

// ManagerConfig holds configuration shared by all manager kinds
type ManagerConfig struct {
	// SigningSecret is the process-wide token signing secret. Required.
	SigningSecret string

	// TokenTTL is the lifetime of issued tokens. Defaults to DefaultTokenTTL.
	TokenTTL time.Duration

	// Clock returns the current time; defaults to time.Now.
	Clock func() time.Time
}

// resolveFunc resolves a wallet profile; the cached manager substitutes
// its caching resolution here
type resolveFunc func(ctx context.Context, record *wallet.Record, walletKey string) (Profile, error)

// BasicManager is the baseline Manager. It holds no per-call state and
// never caches wallet records: every operation re-reads the record and
// persists mutations under the store's optimistic concurrency control,
// retrying a bounded number of times on version conflicts.
type BasicManager struct {
	mu       sync.RWMutex
	store    wallet.Store
	resolver ProfileResolver
	codec    *token.Codec
	ttl      time.Duration
	clock    func() time.Time
	logger   logger.Logger
	metrics  *Metrics
	sweeper  *Sweeper
	closed   bool
}

// Verify interface is satisfied
var _ Manager = (*BasicManager)(nil)

func NewBasicManager(conf ManagerConfig, store wallet.Store, resolver ProfileResolver, log logger.Logger) (*BasicManager, error) {
	if store == nil {
		return nil, fmt.Errorf("manager requires a wallet store")
	}
	if resolver == nil {
		return nil, fmt.Errorf("manager requires a profile resolver")
	}

	clock := conf.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := conf.TokenTTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}

	codec, err := token.NewCodec(token.CodecConfig{
		Secret: conf.SigningSecret,
		Clock:  clock,
	})
	if err != nil {
		return nil, err
	}

	return &BasicManager{
		store:    store,
		resolver: resolver,
		codec:    codec,
		ttl:      ttl,
		clock:    clock,
		logger:   log,
		metrics:  &Metrics{},
	}, nil
}

// CreateAuthToken issues a token for the wallet. The issuance entry is
// persisted before the token string is returned; if persistence fails,
// no token is handed out.
func (m *BasicManager) CreateAuthToken(ctx context.Context, walletID string, walletKey string) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}

	record, err := m.store.Get(ctx, walletID)
	if err != nil {
		return "", fmt.Errorf("failed to load wallet %q: %w", walletID, err)
	}

	if record.RequiresExternalKey() && walletKey == "" {
		m.metrics.IncrementMissingKeyFailures()
		return "", ErrWalletKeyMissing
	}

	now := m.clock().UTC()
	claims := &token.Claims{
		WalletID:  walletID,
		TokenID:   helper.GenerateTokenID(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(m.ttl).Unix(),
	}
	if record.RequiresExternalKey() {
		claims.WalletKey = walletKey
	}

	signed, err := m.codec.Encode(claims)
	if err != nil {
		return "", err
	}

	issuance := wallet.Issuance{
		TokenID:   claims.TokenID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}
	err = m.mutateRecord(ctx, walletID, func(rec *wallet.Record) bool {
		rec.AddIssuance(issuance)
		return true
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist issuance for wallet %q: %w", walletID, err)
	}

	m.metrics.IncrementTokensIssued()
	m.logger.Debug("auth token issued",
		logger.String("wallet_id", walletID),
		logger.String("token_id", claims.TokenID),
		logger.Time("expires_at", time.Unix(claims.ExpiresAt, 0).UTC()),
		logger.String("request_id", middleware.GetReqID(ctx)),
	)

	return signed, nil
}

// ValidateToken runs the validation decision procedure over current
// state. It takes no locks across the storage round trips: a validate
// racing a concurrent issue may observe either the pre- or post-append
// record, which is acceptable.
func (m *BasicManager) ValidateToken(ctx context.Context, tokenString string) (*Validation, error) {
	return m.validateToken(ctx, tokenString, m.directResolve)
}

func (m *BasicManager) validateToken(ctx context.Context, tokenString string, resolve resolveFunc) (*Validation, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	claims, err := m.codec.Decode(tokenString)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			m.cleanupExpired(ctx, tokenString)
			m.metrics.IncrementTokensExpired()
			return &Validation{Outcome: OutcomeExpired}, nil
		default:
			m.metrics.IncrementTokensMalformed()
			m.logger.Warn("rejecting malformed token",
				logger.Err(err),
				logger.String("request_id", middleware.GetReqID(ctx)),
			)
			return &Validation{Outcome: OutcomeMalformed}, nil
		}
	}

	record, err := m.store.Get(ctx, claims.WalletID)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			// A token naming a nonexistent wallet is treated the same
			// as a forged one.
			m.metrics.IncrementTokensMalformed()
			m.logger.Warn("token references unknown wallet",
				logger.String("wallet_id", claims.WalletID),
				logger.String("request_id", middleware.GetReqID(ctx)),
			)
			return &Validation{Outcome: OutcomeMalformed}, nil
		}
		return nil, fmt.Errorf("failed to load wallet %q: %w", claims.WalletID, err)
	}

	if record.RequiresExternalKey() && claims.WalletKey == "" {
		m.metrics.IncrementMissingKeyFailures()
		return &Validation{Outcome: OutcomeMissingWalletKey}, nil
	}

	if !record.HasIssuance(claims.TokenID) {
		m.metrics.IncrementTokensRevoked()
		m.logger.Info("rejecting revoked token",
			logger.String("wallet_id", claims.WalletID),
			logger.String("token_id", claims.TokenID),
			logger.String("request_id", middleware.GetReqID(ctx)),
		)
		return &Validation{Outcome: OutcomeRevoked}, nil
	}

	profile, err := resolve(ctx, record, claims.WalletKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile for wallet %q: %w", claims.WalletID, err)
	}

	m.metrics.IncrementTokensAuthed()
	return &Validation{Outcome: OutcomeAuthenticated, Profile: profile}, nil
}

// directResolve calls the host's profile resolver, passing the wallet
// key through as extra settings
func (m *BasicManager) directResolve(ctx context.Context, record *wallet.Record, walletKey string) (Profile, error) {
	extraSettings := map[string]any{}
	if walletKey != "" {
		extraSettings["wallet.key"] = walletKey
	}
	return m.resolver.ResolveProfile(ctx, record, extraSettings)
}

// cleanupExpired removes the expired token's issuance entry. Cleanup is
// advisory: failures are logged and swallowed so a storage hiccup never
// masks the Expired outcome.
func (m *BasicManager) cleanupExpired(ctx context.Context, tokenString string) {
	claims, err := m.codec.DecodeExpired(tokenString)
	if err != nil {
		return
	}

	err = m.mutateRecord(ctx, claims.WalletID, func(rec *wallet.Record) bool {
		return rec.RemoveIssuance(claims.TokenID)
	})
	if err != nil && !errors.Is(err, wallet.ErrWalletNotFound) {
		m.logger.Warn("failed to clean up expired issuance",
			logger.String("wallet_id", claims.WalletID),
			logger.String("token_id", claims.TokenID),
			logger.Err(err),
		)
		return
	}

	m.logger.Debug("expired issuance cleaned up",
		logger.String("wallet_id", claims.WalletID),
		logger.String("token_id", claims.TokenID),
	)
}

// RevokeToken removes the token's issuance entry. The token itself only
// needs a valid signature; an expired token can still be revoked.
func (m *BasicManager) RevokeToken(ctx context.Context, tokenString string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	claims, err := m.codec.DecodeExpired(tokenString)
	if err != nil {
		return err
	}

	removed := false
	err = m.mutateRecord(ctx, claims.WalletID, func(rec *wallet.Record) bool {
		removed = rec.RemoveIssuance(claims.TokenID)
		return removed
	})
	if err != nil {
		return fmt.Errorf("failed to revoke token for wallet %q: %w", claims.WalletID, err)
	}

	if removed {
		m.metrics.IncrementTokensRevoked()
		m.logger.Info("token revoked",
			logger.String("wallet_id", claims.WalletID),
			logger.String("token_id", claims.TokenID),
			logger.String("request_id", middleware.GetReqID(ctx)),
		)
	}
	return nil
}

// mutateRecord runs a read-modify-write cycle against the wallet
// record, retrying on version conflicts. The mutation reports whether
// anything changed; an unchanged record is not written.
func (m *BasicManager) mutateRecord(ctx context.Context, walletID string, mutate func(*wallet.Record) bool) error {
	var lastErr error
	for attempt := 0; attempt < defaultPutRetries; attempt++ {
		record, err := m.store.Get(ctx, walletID)
		if err != nil {
			return err
		}

		if !mutate(record) {
			return nil
		}

		err = m.store.Put(ctx, record)
		if err == nil {
			return nil
		}
		if !errors.Is(err, wallet.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("record update contention persisted after %d attempts: %w", defaultPutRetries, lastErr)
}

func (m *BasicManager) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrManagerClosed
	}
	return nil
}

// setSweeper attaches a background sweeper whose lifecycle is tied to
// the manager's
func (m *BasicManager) setSweeper(s *Sweeper) {
	m.sweeper = s
}

// Store returns the wallet record store backing this manager
func (m *BasicManager) Store() wallet.Store {
	return m.store
}

// GetMetrics returns a snapshot of current metrics
func (m *BasicManager) GetMetrics() map[string]int64 {
	return m.metrics.GetSnapshot()
}

// Close stops the attached sweeper (if any) and shuts down the wallet
// store
func (m *BasicManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.sweeper != nil {
		m.sweeper.Stop()
	}

	if err := m.store.Stop(); err != nil {
		return fmt.Errorf("error stopping wallet store: %w", err)
	}
	return nil
}
