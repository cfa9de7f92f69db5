// Package store provides the durable local store backing the offline
// cache and the pending-action queue.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/models"
	"github.com/terravine/backend/internal/uuid"
)

// schema holds the two local tables. Applied idempotently on open.
const schema = `
CREATE TABLE IF NOT EXISTS offline_data (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	owner      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offline_data_owner ON offline_data(owner);
CREATE INDEX IF NOT EXISTS idx_offline_data_expires ON offline_data(expires_at);

CREATE TABLE IF NOT EXISTS sync_queue (
	id            TEXT PRIMARY KEY,
	method        TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	record_id     TEXT NOT NULL,
	payload       BLOB NOT NULL,
	enqueued_at   INTEGER NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	max_retries   INTEGER NOT NULL DEFAULT 3,
	strategy      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending'
);
`

// SQLiteStore implements Storage on a local SQLite database.
// Queue writes are serialized through a single mutex so concurrent
// sync passes cannot lose updates on the same action id.
type SQLiteStore struct {
	db      *sql.DB
	queueMu sync.Mutex
}

// Open opens (or creates) the local database under dataDir.
// The database is opened with:
// - WAL mode for concurrent reads/writes
// - Foreign key constraints enabled
// - A single connection, since SQLite has one writer
func Open(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "vinesync.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to enable foreign keys", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to apply schema", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SetCache upserts a cache entry.
func (s *SQLiteStore) SetCache(entry *models.CacheEntry) error {
	query := `
	INSERT INTO offline_data (key, payload, owner, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		payload = excluded.payload,
		owner = excluded.owner,
		created_at = excluded.created_at,
		expires_at = excluded.expires_at
	`
	_, err := s.db.Exec(query, entry.Key, []byte(entry.Payload), entry.Owner,
		entry.CreatedAt, entry.ExpiresAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to write cache entry", err)
	}
	return nil
}

// GetCache returns the entry for key, deleting it first if expired.
func (s *SQLiteStore) GetCache(key string, now time.Time) (*models.CacheEntry, error) {
	query := `SELECT key, payload, owner, created_at, expires_at FROM offline_data WHERE key = ?`

	var entry models.CacheEntry
	var payload []byte
	err := s.db.QueryRow(query, key).Scan(&entry.Key, &payload, &entry.Owner,
		&entry.CreatedAt, &entry.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to read cache entry", err)
	}
	entry.Payload = payload

	if entry.Expired(now) {
		if _, err := s.db.Exec(`DELETE FROM offline_data WHERE key = ?`, key); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to delete expired entry", err)
		}
		return nil, nil
	}

	return &entry, nil
}

// InvalidateCache deletes all entries with the given owner.
func (s *SQLiteStore) InvalidateCache(owner string) (int, error) {
	result, err := s.db.Exec(`DELETE FROM offline_data WHERE owner = ?`, owner)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to invalidate cache", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// SweepExpired deletes all entries expired at the given instant.
func (s *SQLiteStore) SweepExpired(now time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM offline_data WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to sweep expired entries", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// CountCache returns the number of cache entries.
func (s *SQLiteStore) CountCache() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM offline_data`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to count cache entries", err)
	}
	return count, nil
}

// EvictOldestCache deletes the n entries with the smallest created_at.
func (s *SQLiteStore) EvictOldestCache(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	query := `
	DELETE FROM offline_data WHERE key IN (
		SELECT key FROM offline_data ORDER BY created_at ASC, key ASC LIMIT ?
	)`
	result, err := s.db.Exec(query, n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to evict cache entries", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// Enqueue assigns an id, persists the action, and returns the id.
func (s *SQLiteStore) Enqueue(action *models.QueuedAction) (models.UUID, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

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

	query := `
	INSERT INTO sync_queue (id, method, resource_type, record_id, payload,
		enqueued_at, retry_count, max_retries, strategy, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, action.ID, action.Method, action.ResourceType,
		action.RecordID, []byte(action.Payload), action.EnqueuedAt,
		action.RetryCount, action.MaxRetries, action.Strategy, action.Status)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to enqueue action", err)
	}
	return action.ID, nil
}

// ListQueued returns all queued actions in insertion order.
func (s *SQLiteStore) ListQueued() ([]*models.QueuedAction, error) {
	query := `
	SELECT id, method, resource_type, record_id, payload, enqueued_at,
		   retry_count, max_retries, strategy, status
	FROM sync_queue ORDER BY rowid ASC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to list queue", err)
	}
	defer rows.Close()

	var actions []*models.QueuedAction
	for rows.Next() {
		var a models.QueuedAction
		var payload []byte
		err := rows.Scan(&a.ID, &a.Method, &a.ResourceType, &a.RecordID, &payload,
			&a.EnqueuedAt, &a.RetryCount, &a.MaxRetries, &a.Strategy, &a.Status)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to scan queued action", err)
		}
		a.Payload = payload
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to iterate queue", err)
	}
	return actions, nil
}

// UpdateRetry sets the retry count of a queued action.
func (s *SQLiteStore) UpdateRetry(id models.UUID, retryCount int) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.updateQueueField(`UPDATE sync_queue SET retry_count = ? WHERE id = ?`, retryCount, id)
}

// UpdateStatus sets the queue status of a queued action.
func (s *SQLiteStore) UpdateStatus(id models.UUID, status models.ActionStatus) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.updateQueueField(`UPDATE sync_queue SET status = ? WHERE id = ?`, status, id)
}

// UpdateStrategy sets the conflict strategy of a queued action.
func (s *SQLiteStore) UpdateStrategy(id models.UUID, strategy models.ConflictStrategy) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.updateQueueField(`UPDATE sync_queue SET strategy = ? WHERE id = ?`, strategy, id)
}

// updateQueueField runs a single-column queue update and reports a
// missing action id. Callers hold queueMu.
func (s *SQLiteStore) updateQueueField(query string, value interface{}, id models.UUID) error {
	result, err := s.db.Exec(query, value, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to update queued action", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "queued action not found: %s", id)
	}
	return nil
}

// RemoveQueued deletes a queued action.
func (s *SQLiteStore) RemoveQueued(id models.UUID) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	result, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to remove queued action", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "queued action not found: %s", id)
	}
	return nil
}

// CountQueued returns the number of queued actions.
func (s *SQLiteStore) CountQueued() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to count queue", err)
	}
	return count, nil
}

var _ Storage = (*SQLiteStore)(nil)
