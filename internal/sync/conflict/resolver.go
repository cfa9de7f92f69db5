// Package conflict decides how a queued local change is reconciled
// against a remote record that already exists.
package conflict

import (
	"encoding/json"
	"reflect"

	"github.com/terravine/backend/internal/logging"
	"github.com/terravine/backend/internal/models"
)

// Decision is the outcome of applying a conflict strategy.
type Decision int

const (
	// KeepRemote discards the local payload; the remote copy stands
	// and the caller must re-read it.
	KeepRemote Decision = iota

	// OverwriteRemote writes the local payload over the remote record.
	OverwriteRemote

	// NeedsManual surfaces both payloads to the caller; the action
	// stays queued until externally resolved.
	NeedsManual
)

// Resolver maps a queued action's strategy to a decision and detects
// whether local and remote content actually differ.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Detect reports whether the local and remote payloads differ. The
// comparison is structural, so key order and whitespace don't count
// as differences.
func (r *Resolver) Detect(local, remote json.RawMessage) bool {
	var localValue, remoteValue interface{}
	if err := json.Unmarshal(local, &localValue); err != nil {
		return true
	}
	if err := json.Unmarshal(remote, &remoteValue); err != nil {
		return true
	}
	return !reflect.DeepEqual(localValue, remoteValue)
}

// Decide applies the action's strategy to a detected conflict.
// An unknown strategy falls back to server-wins: the remote is the
// source of truth.
func (r *Resolver) Decide(strategy models.ConflictStrategy, resourceType models.ResourceType, recordID string) Decision {
	switch strategy {
	case models.StrategyServerWins:
		logging.Info("Conflict resolved, server wins",
			map[string]interface{}{"resource_type": resourceType, "record_id": recordID})
		return KeepRemote
	case models.StrategyClientWins:
		logging.Info("Conflict resolved, client wins",
			map[string]interface{}{"resource_type": resourceType, "record_id": recordID})
		return OverwriteRemote
	case models.StrategyManual:
		logging.Warn("Conflict requires manual resolution",
			map[string]interface{}{"resource_type": resourceType, "record_id": recordID})
		return NeedsManual
	default:
		logging.Warn("Unknown conflict strategy, defaulting to server wins",
			map[string]interface{}{"strategy": strategy, "record_id": recordID})
		return KeepRemote
	}
}
