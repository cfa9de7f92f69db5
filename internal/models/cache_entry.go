// Package models provides data model definitions for the vinesync core.
package models

import (
	"encoding/json"
	"time"
)

// CacheEntry represents a cached server-derived payload with expiry.
// The key is a composite of the owning resource id and the query
// parameters that produced the payload.
type CacheEntry struct {
	Key       string          `db:"key" json:"key"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	Owner     string          `db:"owner" json:"owner"`
	CreatedAt int64           `db:"created_at" json:"created_at"`
	ExpiresAt int64           `db:"expires_at" json:"expires_at"`
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "offline_data"
}

// Expired reports whether the entry is stale at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Unix() >= e.ExpiresAt
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (e *CacheEntry) CreatedAtTime() time.Time {
	return time.Unix(e.CreatedAt, 0)
}
