package multitenant

import "sync"

// Metrics tracks operational statistics. Revoked and malformed are
// counted separately even though callers see both as a denied
// authentication; the distinction only matters for observability.
type Metrics struct {
	mu                 sync.RWMutex
	TokensIssued       int64
	TokensAuthed       int64
	TokensExpired      int64
	TokensRevoked      int64
	TokensMalformed    int64
	MissingKeyFailures int64
	CacheHits          int64
	CacheMisses        int64
}

func (m *Metrics) IncrementTokensIssued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensIssued++
}

func (m *Metrics) IncrementTokensAuthed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensAuthed++
}

func (m *Metrics) IncrementTokensExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensExpired++
}

func (m *Metrics) IncrementTokensRevoked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensRevoked++
}

func (m *Metrics) IncrementTokensMalformed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensMalformed++
}

func (m *Metrics) IncrementMissingKeyFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MissingKeyFailures++
}

func (m *Metrics) IncrementCacheHits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheHits++
}

func (m *Metrics) IncrementCacheMisses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheMisses++
}

func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"tokens_issued":        m.TokensIssued,
		"tokens_authenticated": m.TokensAuthed,
		"tokens_expired":       m.TokensExpired,
		"tokens_revoked":       m.TokensRevoked,
		"tokens_malformed":     m.TokensMalformed,
		"missing_key_failures": m.MissingKeyFailures,
		"cache_hits":           m.CacheHits,
		"cache_misses":         m.CacheMisses,
	}
}
