// Package cache provides a size-bounded, TTL-bounded cache in front of
// remote data providers.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/terravine/backend/internal/logging"
	"github.com/terravine/backend/internal/models"
	"github.com/terravine/backend/internal/store"
)

// DefaultMaxEntries bounds the cache because provider responses
// (weather series) can be large; growth must not be unbounded.
const DefaultMaxEntries = 50

// DefaultTTLHours is the expiry applied when callers pass no TTL.
const DefaultTTLHours = 24

// Manager composes cache keys, enforces expiry and the entry bound,
// and records hit/miss counters. Eviction is strictly creation-time
// ascending, not access-time: entries are date-ranged datasets whose
// value does not increase with re-access, so LRU buys nothing here.
type Manager struct {
	store      store.Storage
	maxEntries int

	now func() time.Time

	mu     sync.Mutex
	hits   int64
	misses int64
}

// Stats holds cache counters. HitRate is 0 when no lookups happened.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`
}

// NewManager creates a Manager over the given store. maxEntries <= 0
// selects DefaultMaxEntries.
func NewManager(s store.Storage, maxEntries int) *Manager {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Manager{
		store:      s,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Key composes the cache key from the owning resource and the query
// parameters that produced the payload.
func Key(owner, paramsKey string) string {
	return owner + "_" + paramsKey
}

// Get returns the cached payload for owner+paramsKey, or ok=false on
// miss or staleness. Expired entries are removed by the store as a
// side effect of the read.
func (m *Manager) Get(owner, paramsKey string) (json.RawMessage, bool, error) {
	entry, err := m.store.GetCache(Key(owner, paramsKey), m.now())
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry == nil {
		m.misses++
		return nil, false, nil
	}
	m.hits++
	return entry.Payload, true, nil
}

// Put stores a payload under owner+paramsKey with the given TTL,
// evicting oldest-first when the entry bound would be exceeded.
func (m *Manager) Put(owner, paramsKey string, payload json.RawMessage, ttlHours int) error {
	if ttlHours < 0 {
		ttlHours = DefaultTTLHours
	}

	now := m.now()

	// Overwriting a live key does not grow the cache, so the bound
	// cannot be exceeded and nothing needs evicting.
	existing, err := m.store.GetCache(Key(owner, paramsKey), now)
	if err != nil {
		return err
	}
	if existing == nil {
		count, err := m.store.CountCache()
		if err != nil {
			return err
		}
		if count >= m.maxEntries {
			evicted, err := m.store.EvictOldestCache(count - m.maxEntries + 1)
			if err != nil {
				return err
			}
			logging.Debug("Evicted cache entries to respect bound",
				map[string]interface{}{"evicted": evicted, "max_entries": m.maxEntries})
		}
	}
	return m.store.SetCache(&models.CacheEntry{
		Key:       Key(owner, paramsKey),
		Payload:   payload,
		Owner:     owner,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(time.Duration(ttlHours) * time.Hour).Unix(),
	})
}

// Invalidate removes every entry owned by the given resource. Used
// when a resource is deleted or mutated in a way that stales all
// cached derivations.
func (m *Manager) Invalidate(owner string) (int, error) {
	return m.store.InvalidateCache(owner)
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	hits, misses := m.hits, m.misses
	m.mu.Unlock()

	stats := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	if entries, err := m.store.CountCache(); err == nil {
		stats.Entries = entries
	}
	return stats
}
