package multitenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/walletmesh/multitoken/logger"
	"github.com/walletmesh/multitoken/wallet"
)

// Verify interface is satisfied
var _ Manager = (*CachedManager)(nil)

// CacheConfig holds configuration for the cached manager's profile cache
type CacheConfig struct {
	// MaxCost is the maximum number of cached profiles
	MaxCost int64

	// NumCounters is the number of keys to track frequency
	NumCounters int64
}

// DefaultCacheConfig returns a production-ready default configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MaxCost:     10_000,
		NumCounters: 100_000,
	}
}

// CachedManager wraps BasicManager with a profile cache. Opening a
// wallet profile is the expensive step of validation, so resolved
// profiles are kept in a ristretto cache for one token lifetime, keyed
// by wallet ID plus a hash of the wallet key. Concurrent resolutions of
// the same wallet are deduplicated with singleflight. Wallet records
// themselves are never cached: the validation decision always runs
// against a fresh read.
type CachedManager struct {
	inner *BasicManager
	cache *ristretto.Cache[string, Profile]
	group singleflight.Group
}

func NewCachedManager(conf ManagerConfig, cacheConf *CacheConfig, store wallet.Store, resolver ProfileResolver, log logger.Logger) (*CachedManager, error) {
	inner, err := NewBasicManager(conf, store, resolver, log)
	if err != nil {
		return nil, err
	}

	if cacheConf == nil {
		cacheConf = DefaultCacheConfig()
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Profile]{
		NumCounters: cacheConf.NumCounters,
		MaxCost:     cacheConf.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profile cache: %w", err)
	}

	return &CachedManager{
		inner: inner,
		cache: cache,
	}, nil
}

func (c *CachedManager) CreateAuthToken(ctx context.Context, walletID string, walletKey string) (string, error) {
	return c.inner.CreateAuthToken(ctx, walletID, walletKey)
}

func (c *CachedManager) ValidateToken(ctx context.Context, tokenString string) (*Validation, error) {
	return c.inner.validateToken(ctx, tokenString, c.cachedResolve)
}

func (c *CachedManager) cachedResolve(ctx context.Context, record *wallet.Record, walletKey string) (Profile, error) {
	key := profileCacheKey(record.WalletID, walletKey)

	if profile, found := c.cache.Get(key); found {
		c.inner.metrics.IncrementCacheHits()
		return profile, nil
	}
	c.inner.metrics.IncrementCacheMisses()

	value, err, _ := c.group.Do(key, func() (any, error) {
		profile, err := c.inner.directResolve(ctx, record, walletKey)
		if err != nil {
			return nil, err
		}
		c.cache.SetWithTTL(key, profile, 1, c.inner.ttl)
		c.cache.Wait()
		return profile, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(Profile), nil
}

// RevokeToken revokes the token and drops the wallet's cached profile
func (c *CachedManager) RevokeToken(ctx context.Context, tokenString string) error {
	if claims, err := c.inner.codec.DecodeExpired(tokenString); err == nil {
		c.cache.Del(profileCacheKey(claims.WalletID, claims.WalletKey))
	}
	return c.inner.RevokeToken(ctx, tokenString)
}

// Store returns the wallet record store backing this manager
func (c *CachedManager) Store() wallet.Store {
	return c.inner.Store()
}

func (c *CachedManager) GetMetrics() map[string]int64 {
	return c.inner.GetMetrics()
}

func (c *CachedManager) Close() error {
	c.cache.Clear()
	c.cache.Close()
	return c.inner.Close()
}

// setSweeper attaches a background sweeper to the underlying manager
func (c *CachedManager) setSweeper(s *Sweeper) {
	c.inner.setSweeper(s)
}

// profileCacheKey derives the cache key from the wallet ID and a hash
// of the wallet key. The key is hashed so raw key material never sits
// in cache keys; including it means a profile opened with one key is
// never served for another.
func profileCacheKey(walletID, walletKey string) string {
	if walletKey == "" {
		return walletID
	}
	h := sha256.Sum256([]byte(walletKey))
	return walletID + ":" + hex.EncodeToString(h[:8])
}
