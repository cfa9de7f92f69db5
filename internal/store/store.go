// Package store provides the durable local store backing the offline
// cache and the pending-action queue.
package store

import (
	"time"

	"github.com/terravine/backend/internal/models"
)

// Storage is the persistence contract for the two local collections:
// cached read data (offline_data) and the pending-action queue
// (sync_queue). Every operation performs exactly one attempt; retries
// are the caller's responsibility.
//
// Two implementations exist: SQLiteStore for production and
// MemoryStore for tests.
type Storage interface {
	// SetCache upserts a cache entry.
	SetCache(entry *models.CacheEntry) error

	// GetCache returns the entry for key, or (nil, nil) if no entry
	// exists or the entry has expired at the given instant. An expired
	// entry is deleted as a side effect (lazy expiry).
	GetCache(key string, now time.Time) (*models.CacheEntry, error)

	// InvalidateCache deletes all entries owned by the given resource.
	// Returns the number of entries removed.
	InvalidateCache(owner string) (int, error)

	// SweepExpired deletes all entries expired at the given instant.
	// Returns the number of entries removed.
	SweepExpired(now time.Time) (int, error)

	// CountCache returns the number of cache entries, expired or not.
	CountCache() (int, error)

	// EvictOldestCache deletes the n entries with the smallest
	// created_at. Returns the number of entries removed.
	EvictOldestCache(n int) (int, error)

	// Enqueue assigns an id to the action, persists it, and returns
	// the id. A persistence failure is reported, never swallowed.
	Enqueue(action *models.QueuedAction) (models.UUID, error)

	// ListQueued returns all queued actions in insertion order.
	ListQueued() ([]*models.QueuedAction, error)

	// UpdateRetry sets the retry count of a queued action.
	UpdateRetry(id models.UUID, retryCount int) error

	// UpdateStatus sets the queue status of a queued action.
	UpdateStatus(id models.UUID, status models.ActionStatus) error

	// UpdateStrategy sets the conflict strategy of a queued action.
	UpdateStrategy(id models.UUID, strategy models.ConflictStrategy) error

	// RemoveQueued deletes a queued action.
	RemoveQueued(id models.UUID) error

	// CountQueued returns the number of queued actions.
	CountQueued() (int, error)

	// Close releases the underlying storage.
	Close() error
}
