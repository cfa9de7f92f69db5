// Package models provides data model definitions for the vinesync core.
package models

import (
	"encoding/json"
	"time"
)

// UUID is a string-typed UUID v4 identifier.
type UUID string

// Method is the mutation kind a queued action applies remotely.
type Method string

const (
	MethodCreate Method = "create"
	MethodUpdate Method = "update"
	MethodDelete Method = "delete"
)

// ResourceType identifies the kind of record an action targets.
type ResourceType string

const (
	ResourceActivity ResourceType = "activity"
	ResourceVineyard ResourceType = "vineyard"
)

// ConflictStrategy is the policy chosen at enqueue time for reconciling
// a queued local change against a remote record that has since changed.
type ConflictStrategy string

const (
	StrategyServerWins ConflictStrategy = "server_wins"
	StrategyClientWins ConflictStrategy = "client_wins"
	StrategyManual     ConflictStrategy = "manual"
)

// ActionStatus is the persisted queue state of an action.
// Conflicted actions remain queued until resolved by the caller.
type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusConflicted ActionStatus = "conflicted"
)

// DefaultMaxRetries is the retry budget assigned at enqueue time.
const DefaultMaxRetries = 3

// QueuedAction represents a mutation performed while offline, waiting
// to be applied against the remote backend.
type QueuedAction struct {
	ID           UUID             `db:"id" json:"id"`
	Method       Method           `db:"method" json:"method"`
	ResourceType ResourceType     `db:"resource_type" json:"resource_type"`
	RecordID     string           `db:"record_id" json:"record_id"`
	Payload      json.RawMessage  `db:"payload" json:"payload"`
	EnqueuedAt   int64            `db:"enqueued_at" json:"enqueued_at"`
	RetryCount   int              `db:"retry_count" json:"retry_count"`
	MaxRetries   int              `db:"max_retries" json:"max_retries"`
	Strategy     ConflictStrategy `db:"strategy" json:"strategy"`
	Status       ActionStatus     `db:"status" json:"status"`
}

// TableName returns the table name for QueuedAction.
func (QueuedAction) TableName() string {
	return "sync_queue"
}

// EnqueuedAtTime returns the EnqueuedAt as time.Time.
func (a *QueuedAction) EnqueuedAtTime() time.Time {
	return time.Unix(a.EnqueuedAt, 0)
}

// RetriesExhausted reports whether the action has spent its retry budget.
func (a *QueuedAction) RetriesExhausted() bool {
	return a.RetryCount >= a.MaxRetries
}
