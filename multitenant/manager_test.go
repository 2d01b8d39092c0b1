package multitenant

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/walletmesh/multitoken/helper"
	"github.com/walletmesh/multitoken/logger"
	"github.com/walletmesh/multitoken/token"
	"github.com/walletmesh/multitoken/wallet"
)

const testSecret = "unit-test-signing-secret-32-byte"

func testLogger() logger.Logger {
	return logger.NewZerologLogger(&logger.Config{
		Level:       logger.ErrorLevel,
		Format:      logger.JSONFormat,
		Outputs:     []io.Writer{io.Discard},
		Environment: "production",
	})
}

// fakeClock is a manually advanced clock shared by manager and codec
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(unix int64) *fakeClock {
	return &fakeClock{now: time.Unix(unix, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(unix, 0).UTC()
}

// staticProfile is the test double for the host's profile type
type staticProfile struct {
	walletID string
	settings map[string]any
}

func (p *staticProfile) WalletID() string         { return p.walletID }
func (p *staticProfile) Settings() map[string]any { return p.settings }

// fakeResolver records resolution calls and returns static profiles
type fakeResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeResolver) ResolveProfile(ctx context.Context, record *wallet.Record, extraSettings map[string]any) (Profile, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}

	settings := make(map[string]any, len(record.Settings)+len(extraSettings))
	for k, v := range record.Settings {
		settings[k] = v
	}
	for k, v := range extraSettings {
		settings[k] = v
	}
	return &staticProfile{walletID: record.WalletID, settings: settings}, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type managerFixture struct {
	manager  *BasicManager
	store    *wallet.InmemStore
	resolver *fakeResolver
	clock    *fakeClock
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	store := wallet.NewInmemStore()
	resolver := &fakeResolver{}
	clock := newFakeClock(1000)

	mgr, err := NewBasicManager(ManagerConfig{
		SigningSecret: testSecret,
		TokenTTL:      time.Minute,
		Clock:         clock.Now,
	}, store, resolver, testLogger())
	require.NoError(t, err)

	return &managerFixture{
		manager:  mgr,
		store:    store,
		resolver: resolver,
		clock:    clock,
	}
}

func (f *managerFixture) provision(t *testing.T, mode string) string {
	t.Helper()
	walletID := uuid.NewString()
	rec := &wallet.Record{
		WalletID:          walletID,
		KeyManagementMode: mode,
		Settings:          map[string]any{"default_label": "Test Wallet"},
	}
	require.NoError(t, f.store.Put(context.Background(), rec))
	return walletID
}

func (f *managerFixture) record(t *testing.T, walletID string) *wallet.Record {
	t.Helper()
	rec, err := f.store.Get(context.Background(), walletID)
	require.NoError(t, err)
	return rec
}

func TestManager_IssueThenValidate(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	// Issue at t=1000 with a 60s TTL.
	signed, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	rec := f.record(t, walletID)
	require.Len(t, rec.ValidIssuances, 1)
	assert.Equal(t, int64(1000), rec.ValidIssuances[0].IssuedAt)
	assert.Equal(t, int64(1060), rec.ValidIssuances[0].ExpiresAt)

	// Validate inside the window.
	f.clock.Set(1030)
	validation, err := f.manager.ValidateToken(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, validation.Outcome)
	require.NotNil(t, validation.Profile)
	assert.Equal(t, walletID, validation.Profile.WalletID())
	assert.Equal(t, "Test Wallet", validation.Profile.Settings()["default_label"])
}

func TestManager_Issue_UnknownWallet(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.CreateAuthToken(context.Background(), "no-such-wallet", "")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestManager_Issue_RequiresWalletKey(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeUnmanaged)

	_, err := f.manager.CreateAuthToken(ctx, walletID, "")
	assert.ErrorIs(t, err, ErrWalletKeyMissing)

	// No issuance was recorded for the failed attempt.
	assert.Empty(t, f.record(t, walletID).ValidIssuances)

	walletKey := helper.GenerateRandomString(32)
	signed, err := f.manager.CreateAuthToken(ctx, walletID, walletKey)
	require.NoError(t, err)

	validation, err := f.manager.ValidateToken(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, validation.Outcome)
	assert.Equal(t, walletKey, validation.Profile.Settings()["wallet.key"])
}

func TestManager_Validate_MissingWalletKey(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeUnmanaged)

	// A token for an unmanaged wallet that does not carry the key
	// claim, e.g. minted before the wallet's mode changed.
	codec, err := token.NewCodec(token.CodecConfig{Secret: testSecret, Clock: f.clock.Now})
	require.NoError(t, err)
	claims := &token.Claims{
		WalletID:  walletID,
		TokenID:   helper.GenerateTokenID(),
		IssuedAt:  1000,
		ExpiresAt: 1060,
	}
	signed, err := codec.Encode(claims)
	require.NoError(t, err)

	rec := f.record(t, walletID)
	rec.AddIssuance(wallet.Issuance{TokenID: claims.TokenID, IssuedAt: 1000, ExpiresAt: 1060})
	require.NoError(t, f.store.Put(ctx, rec))

	validation, err := f.manager.ValidateToken(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissingWalletKey, validation.Outcome)
	assert.Nil(t, validation.Profile)
}

func TestManager_Validate_Expired(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	signed, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)
	require.Len(t, f.record(t, walletID).ValidIssuances, 1)

	// Past the expiry the outcome is Expired and the stale issuance
	// entry is cleaned up.
	f.clock.Set(1100)
	validation, err := f.manager.ValidateToken(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, validation.Outcome)
	assert.Empty(t, f.record(t, walletID).ValidIssuances)

	// The same token keeps reporting Expired, never Authenticated.
	validation, err = f.manager.ValidateToken(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, validation.Outcome)
}

func TestManager_Validate_ExpiredDespiteCleanupFailure(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	signed, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)

	f.clock.Set(1100)
	f.store.FailPut(true)
	defer f.store.FailPut(false)

	// A storage failure during cleanup must not mask the expiry.
	validation, err := f.manager.ValidateToken(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, validation.Outcome)
	assert.Len(t, f.record(t, walletID).ValidIssuances, 1)
}

func TestManager_RevocationIndependence(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	t1, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)
	t2, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)
	require.Len(t, f.record(t, walletID).ValidIssuances, 2)

	require.NoError(t, f.manager.RevokeToken(ctx, t1))

	v1, err := f.manager.ValidateToken(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRevoked, v1.Outcome)

	v2, err := f.manager.ValidateToken(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, v2.Outcome)
}

func TestManager_Revoke_Idempotent(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	signed, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)

	require.NoError(t, f.manager.RevokeToken(ctx, signed))
	require.NoError(t, f.manager.RevokeToken(ctx, signed))

	validation, err := f.manager.ValidateToken(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRevoked, validation.Outcome)
}

func TestManager_Revoke_ExpiredToken(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	signed, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)

	// Expired tokens can still be revoked explicitly.
	f.clock.Set(1100)
	require.NoError(t, f.manager.RevokeToken(ctx, signed))
	assert.Empty(t, f.record(t, walletID).ValidIssuances)
}

func TestManager_Validate_Malformed(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)
	before := f.record(t, walletID)

	for _, input := range []string{"", "garbage", "eyJhbGciOiJIUzI1NiJ9.e30.bad"} {
		validation, err := f.manager.ValidateToken(ctx, input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, OutcomeMalformed, validation.Outcome, "input %q", input)
	}

	// A token signed with a different secret is forged.
	other, err := token.NewCodec(token.CodecConfig{Secret: "completely-different-secret-32b!", Clock: f.clock.Now})
	require.NoError(t, err)
	forged, err := other.Encode(&token.Claims{
		WalletID:  walletID,
		TokenID:   helper.GenerateTokenID(),
		IssuedAt:  1000,
		ExpiresAt: 1060,
	})
	require.NoError(t, err)
	validation, err := f.manager.ValidateToken(ctx, forged)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, validation.Outcome)

	// Malformed tokens never mutate wallet records.
	assert.Equal(t, before, f.record(t, walletID))
	assert.Zero(t, f.resolver.callCount())
}

func TestManager_Validate_UnknownWalletIsMalformed(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	codec, err := token.NewCodec(token.CodecConfig{Secret: testSecret, Clock: f.clock.Now})
	require.NoError(t, err)
	signed, err := codec.Encode(&token.Claims{
		WalletID:  "deleted-wallet",
		TokenID:   helper.GenerateTokenID(),
		IssuedAt:  1000,
		ExpiresAt: 1060,
	})
	require.NoError(t, err)

	validation, err := f.manager.ValidateToken(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, validation.Outcome)
}

func TestManager_Issue_PersistFailureReturnsNoToken(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	f.store.FailPut(true)
	defer f.store.FailPut(false)

	signed, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.Error(t, err)
	assert.Empty(t, signed)
}

func TestManager_ConcurrentIssuance(t *testing.T) {
	store := wallet.NewInmemStore()
	resolver := &fakeResolver{}
	mgr, err := NewBasicManager(ManagerConfig{
		SigningSecret: testSecret,
		TokenTTL:      time.Minute,
	}, store, resolver, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	walletID := uuid.NewString()
	require.NoError(t, store.Put(ctx, &wallet.Record{
		WalletID:          walletID,
		KeyManagementMode: wallet.KeyManagementModeManaged,
	}))

	const n = 16
	tokens := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			signed, err := mgr.CreateAuthToken(ctx, walletID, "")
			if err != nil {
				return err
			}
			tokens[i] = signed
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// No lost updates: all n issuances are registered, distinctly.
	rec, err := store.Get(ctx, walletID)
	require.NoError(t, err)
	require.Len(t, rec.ValidIssuances, n)
	seen := make(map[string]bool, n)
	for _, iss := range rec.ValidIssuances {
		assert.False(t, seen[iss.TokenID])
		seen[iss.TokenID] = true
	}

	// And every token validates.
	for _, signed := range tokens {
		validation, err := mgr.ValidateToken(ctx, signed)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAuthenticated, validation.Outcome)
	}
}

func TestManager_ResolverFailurePropagates(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	signed, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)

	f.resolver.err = assert.AnError
	_, err = f.manager.ValidateToken(ctx, signed)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestManager_Metrics(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	signed, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)

	_, err = f.manager.ValidateToken(ctx, signed)
	require.NoError(t, err)
	_, err = f.manager.ValidateToken(ctx, "garbage")
	require.NoError(t, err)
	require.NoError(t, f.manager.RevokeToken(ctx, signed))

	snapshot := f.manager.GetMetrics()
	assert.Equal(t, int64(1), snapshot["tokens_issued"])
	assert.Equal(t, int64(1), snapshot["tokens_authenticated"])
	assert.Equal(t, int64(1), snapshot["tokens_malformed"])
	assert.Equal(t, int64(1), snapshot["tokens_revoked"])
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	walletID := f.provision(t, wallet.KeyManagementModeManaged)

	signed, err := f.manager.CreateAuthToken(ctx, walletID, "")
	require.NoError(t, err)

	require.NoError(t, f.manager.Close())
	require.NoError(t, f.manager.Close())

	_, err = f.manager.CreateAuthToken(ctx, walletID, "")
	assert.ErrorIs(t, err, ErrManagerClosed)
	_, err = f.manager.ValidateToken(ctx, signed)
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, f.manager.RevokeToken(ctx, signed), ErrManagerClosed)
}
