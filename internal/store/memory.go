// Package store provides the durable local store backing the offline
// cache and the pending-action queue.
package store

import (
	"sync"
	"time"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/models"
	"github.com/terravine/backend/internal/uuid"
)

// MemoryStore implements Storage on in-process maps. Intended for
// tests; gives each test an isolated, fresh store with no disk I/O.
type MemoryStore struct {
	mu      sync.Mutex
	cache   map[string]*models.CacheEntry
	queue   []*models.QueuedAction
	closed  bool
	failAll bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: make(map[string]*models.CacheEntry),
	}
}

// SetUnavailable makes every subsequent operation fail with
// STORAGE_UNAVAILABLE. Used to test caller failure handling.
func (s *MemoryStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = unavailable
}

func (s *MemoryStore) check() error {
	if s.closed || s.failAll {
		return apperrors.New(apperrors.ErrStorageUnavailable, "memory store unavailable")
	}
	return nil
}

// SetCache upserts a cache entry.
func (s *MemoryStore) SetCache(entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	copied := *entry
	s.cache[entry.Key] = &copied
	return nil
}

// GetCache returns the entry for key, deleting it first if expired.
func (s *MemoryStore) GetCache(key string, now time.Time) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	entry, ok := s.cache[key]
	if !ok {
		return nil, nil
	}
	if entry.Expired(now) {
		delete(s.cache, key)
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

// InvalidateCache deletes all entries with the given owner.
func (s *MemoryStore) InvalidateCache(owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	removed := 0
	for key, entry := range s.cache {
		if entry.Owner == owner {
			delete(s.cache, key)
			removed++
		}
	}
	return removed, nil
}

// SweepExpired deletes all entries expired at the given instant.
func (s *MemoryStore) SweepExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	removed := 0
	for key, entry := range s.cache {
		if entry.Expired(now) {
			delete(s.cache, key)
			removed++
		}
	}
	return removed, nil
}

// CountCache returns the number of cache entries.
func (s *MemoryStore) CountCache() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	return len(s.cache), nil
}

// EvictOldestCache deletes the n entries with the smallest created_at.
func (s *MemoryStore) EvictOldestCache(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	removed := 0
	for removed < n && len(s.cache) > 0 {
		oldestKey := ""
		var oldestAt int64
		for key, entry := range s.cache {
			if oldestKey == "" || entry.CreatedAt < oldestAt ||
				(entry.CreatedAt == oldestAt && key < oldestKey) {
				oldestKey = key
				oldestAt = entry.CreatedAt
			}
		}
		delete(s.cache, oldestKey)
		removed++
	}
	return removed, nil
}

// Enqueue assigns an id, stores the action, and returns the id.
func (s *MemoryStore) Enqueue(action *models.QueuedAction) (models.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return "", err
	}
	action.ID = models.UUID(uuid.New())
	if action.EnqueuedAt == 0 {
		action.EnqueuedAt = time.Now().Unix()
	}
	if action.MaxRetries == 0 {
		action.MaxRetries = models.DefaultMaxRetries
	}
	if action.Status == "" {
		action.Status = models.ActionStatusPending
	}
	copied := *action
	s.queue = append(s.queue, &copied)
	return action.ID, nil
}

// ListQueued returns all queued actions in insertion order.
func (s *MemoryStore) ListQueued() ([]*models.QueuedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	actions := make([]*models.QueuedAction, 0, len(s.queue))
	for _, a := range s.queue {
		copied := *a
		actions = append(actions, &copied)
	}
	return actions, nil
}

// UpdateRetry sets the retry count of a queued action.
func (s *MemoryStore) UpdateRetry(id models.UUID, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	a := s.find(id)
	if a == nil {
		return apperrors.Newf(apperrors.ErrNotFound, "queued action not found: %s", id)
	}
	a.RetryCount = retryCount
	return nil
}

// UpdateStatus sets the queue status of a queued action.
func (s *MemoryStore) UpdateStatus(id models.UUID, status models.ActionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	a := s.find(id)
	if a == nil {
		return apperrors.Newf(apperrors.ErrNotFound, "queued action not found: %s", id)
	}
	a.Status = status
	return nil
}

// UpdateStrategy sets the conflict strategy of a queued action.
func (s *MemoryStore) UpdateStrategy(id models.UUID, strategy models.ConflictStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	a := s.find(id)
	if a == nil {
		return apperrors.Newf(apperrors.ErrNotFound, "queued action not found: %s", id)
	}
	a.Strategy = strategy
	return nil
}

// RemoveQueued deletes a queued action.
func (s *MemoryStore) RemoveQueued(id models.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for i, a := range s.queue {
		if a.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrNotFound, "queued action not found: %s", id)
}

// CountQueued returns the number of queued actions.
func (s *MemoryStore) CountQueued() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	return len(s.queue), nil
}

// Close marks the store closed; further operations fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// find returns the queued action with the given id. Callers hold mu.
func (s *MemoryStore) find(id models.UUID) *models.QueuedAction {
	for _, a := range s.queue {
		if a.ID == id {
			return a
		}
	}
	return nil
}

var _ Storage = (*MemoryStore)(nil)
