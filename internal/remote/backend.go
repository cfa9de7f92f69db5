// Package remote defines the remote backend interface the sync engine
// drains the queue against, plus its REST/JSON binding.
package remote

import (
	"context"
	"encoding/json"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/models"
)

// ErrNotFound is returned by Get when no remote record exists for an id.
var ErrNotFound = apperrors.New(apperrors.ErrNotFound, "remote record not found")

// Backend is the remote server the core reconciles against. The remote
// is the single source of truth; local cache and queue are subordinate.
// Implementations must treat the record id as the upsert key so that
// re-applying the same mutation is a no-op overwrite, never a
// duplicate insert.
type Backend interface {
	// Get fetches a record by id, or ErrNotFound.
	Get(ctx context.Context, resourceType models.ResourceType, id string) (*models.RemoteRecord, error)

	// Create inserts a record. The payload carries the record id.
	Create(ctx context.Context, resourceType models.ResourceType, payload json.RawMessage) (*models.RemoteRecord, error)

	// Update overwrites the record with the given id.
	Update(ctx context.Context, resourceType models.ResourceType, id string, payload json.RawMessage) (*models.RemoteRecord, error)

	// Delete removes the record with the given id.
	Delete(ctx context.Context, resourceType models.ResourceType, id string) error
}
