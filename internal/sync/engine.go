// Package sync converts queued offline actions into remote state
// changes, with conflict awareness and bounded retry.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/logging"
	"github.com/terravine/backend/internal/models"
	"github.com/terravine/backend/internal/remote"
	"github.com/terravine/backend/internal/store"
	"github.com/terravine/backend/internal/sync/conflict"
)

const (
	// DefaultBatchSize is the fan-out width of a sync pass.
	DefaultBatchSize = 10

	// DefaultTimeout bounds a whole sync pass.
	DefaultTimeout = 2 * time.Minute
)

// Options configures a single sync pass.
type Options struct {
	BatchSize int
	Timeout   time.Duration
}

// Conflict surfaces a manual-strategy collision to the caller for
// out-of-band resolution.
type Conflict struct {
	ActionID     models.UUID         `json:"action_id"`
	ResourceType models.ResourceType `json:"resource_type"`
	RecordID     string              `json:"record_id"`
	Local        json.RawMessage     `json:"local"`
	Remote       json.RawMessage     `json:"remote"`
}

// Result is produced fresh per sync pass and never persisted.
// Every removal from the queue is paired with either a success count
// or an explicit terminal-failure entry in Errors.
type Result struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	SucceededCount int           `json:"succeeded_count"`
	ConflictCount  int           `json:"conflict_count"`
	FailedCount    int           `json:"failed_count"`
	Errors         []string      `json:"errors"`
	Conflicts      []Conflict    `json:"conflicts"`
}

// EventHandler receives notifications during sync passes. All methods
// are called synchronously; implementations should not block.
type EventHandler interface {
	SyncStarted(pending int)
	SyncCompleted(result *Result)
	ConflictDetected(c Conflict)
}

// Engine drains the pending-action queue against the remote backend.
// It holds no per-record state between passes; everything it needs is
// read from and written back to the store.
type Engine struct {
	store    store.Storage
	backend  remote.Backend
	resolver *conflict.Resolver

	// runMu serializes drains. A sync requested while one is running
	// blocks here and executes after the in-flight pass completes, so
	// at most one drain is ever active.
	runMu sync.Mutex

	statusMu sync.RWMutex
	syncing  bool
	lastSync *time.Time
	events   EventHandler
}

// NewEngine creates an Engine over the given store and backend.
func NewEngine(s store.Storage, b remote.Backend) *Engine {
	return &Engine{
		store:    s,
		backend:  b,
		resolver: conflict.NewResolver(),
	}
}

// SetEventHandler sets the handler notified during sync passes.
func (e *Engine) SetEventHandler(h EventHandler) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.events = h
}

// InProgress reports whether a sync pass is currently draining.
func (e *Engine) InProgress() bool {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.syncing
}

// LastSync returns the end time of the last completed pass.
func (e *Engine) LastSync() *time.Time {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.lastSync
}

// PendingChanges returns the queue depth.
func (e *Engine) PendingChanges() (int, error) {
	return e.store.CountQueued()
}

// Resolve re-submits a conflicted action with a decided strategy.
// The action returns to pending and is applied on the next pass.
func (e *Engine) Resolve(id models.UUID, strategy models.ConflictStrategy) error {
	if strategy == models.StrategyManual {
		return apperrors.New(apperrors.ErrInvalid, "resolution strategy must be server_wins or client_wins")
	}
	if err := e.store.UpdateStrategy(id, strategy); err != nil {
		return err
	}
	return e.store.UpdateStatus(id, models.ActionStatusPending)
}

// Discard drops a conflicted action, keeping the remote copy.
func (e *Engine) Discard(id models.UUID) error {
	return e.store.RemoveQueued(id)
}

// outcomeKind classifies the terminal state an action reached this pass.
type outcomeKind int

const (
	outcomeApplied outcomeKind = iota
	outcomeConflicted
	outcomeFailed   // retry budget exhausted, removed from queue
	outcomeDeferred // transient failure, stays queued for a later pass
	outcomeSkipped  // conflicted on an earlier pass, awaiting resolution
)

type outcome struct {
	kind     outcomeKind
	errMsg   string
	conflict *Conflict
}

// Run drains the queue in FIFO batches. If a pass is already running
// the call blocks and drains afterwards. The timeout lets in-flight
// batch items finish but starts no new batch; partial progress is
// returned, never discarded.
func (e *Engine) Run(ctx context.Context, opts *Options) (*Result, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	batchSize := DefaultBatchSize
	timeout := DefaultTimeout
	if opts != nil {
		if opts.BatchSize > 0 {
			batchSize = opts.BatchSize
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
	}

	e.statusMu.Lock()
	e.syncing = true
	handler := e.events
	e.statusMu.Unlock()

	result := &Result{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		e.statusMu.Lock()
		e.syncing = false
		end := result.EndTime
		e.lastSync = &end
		e.statusMu.Unlock()
	}()

	actions, err := e.store.ListQueued()
	if err != nil {
		return nil, err
	}

	if handler != nil {
		handler.SyncStarted(len(actions))
	}
	logging.Info("Sync pass started",
		map[string]interface{}{"pending": len(actions), "batch_size": batchSize})

	// passCtx only gates starting the next batch. Items already fanned
	// out run against the caller's ctx so an expiring deadline lets
	// them finish instead of aborting them and charging a retry.
	passCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timedOut := false
	for start := 0; start < len(actions); start += batchSize {
		if passCtx.Err() != nil {
			timedOut = true
			break
		}

		end := start + batchSize
		if end > len(actions) {
			end = len(actions)
		}
		batch := actions[start:end]

		// Fan out the batch; per-item failures are isolated so one
		// item cannot abort its siblings.
		outcomes := make([]outcome, len(batch))
		var wg sync.WaitGroup
		for i, action := range batch {
			wg.Add(1)
			go func(i int, action *models.QueuedAction) {
				defer wg.Done()
				outcomes[i] = e.apply(ctx, action)
			}(i, action)
		}
		wg.Wait()

		for _, o := range outcomes {
			switch o.kind {
			case outcomeApplied:
				result.SucceededCount++
			case outcomeConflicted:
				result.ConflictCount++
				result.Conflicts = append(result.Conflicts, *o.conflict)
				if handler != nil {
					handler.ConflictDetected(*o.conflict)
				}
			case outcomeFailed:
				result.FailedCount++
				result.Errors = append(result.Errors, o.errMsg)
			}
			if o.kind != outcomeFailed && o.errMsg != "" {
				result.Errors = append(result.Errors, o.errMsg)
			}
		}
	}

	// The deadline may also expire during the final batch; the partial
	// result still carries the timeout entry.
	if passCtx.Err() != nil {
		timedOut = true
	}
	if timedOut {
		result.Errors = append(result.Errors,
			apperrors.New(apperrors.ErrSyncTimeout, "timeout reached").Error())
	}

	logging.Info("Sync pass completed",
		map[string]interface{}{
			"succeeded": result.SucceededCount,
			"conflicts": result.ConflictCount,
			"failed":    result.FailedCount,
		})
	if handler != nil {
		handler.SyncCompleted(result)
	}
	return result, nil
}

// apply moves one pending action to a terminal state for this pass.
func (e *Engine) apply(ctx context.Context, action *models.QueuedAction) outcome {
	if action.Status == models.ActionStatusConflicted {
		// Surfaced on an earlier pass; waits for Resolve or Discard.
		return outcome{kind: outcomeSkipped}
	}

	record, err := e.backend.Get(ctx, action.ResourceType, action.RecordID)
	if err != nil && err != remote.ErrNotFound {
		return e.deferOrFail(action, err)
	}

	if err == remote.ErrNotFound {
		return e.applyToMissing(ctx, action)
	}
	return e.applyToExisting(ctx, action, record)
}

// applyToMissing handles the no-remote-record case: creates apply the
// payload, deletes are already done.
func (e *Engine) applyToMissing(ctx context.Context, action *models.QueuedAction) outcome {
	if action.Method == models.MethodDelete {
		return e.complete(action)
	}
	if _, err := e.backend.Create(ctx, action.ResourceType, action.Payload); err != nil {
		return e.deferOrFail(action, err)
	}
	return e.complete(action)
}

// applyToExisting resolves the action against a live remote record via
// its conflict strategy.
func (e *Engine) applyToExisting(ctx context.Context, action *models.QueuedAction, record *models.RemoteRecord) outcome {
	if action.Method != models.MethodDelete && !e.resolver.Detect(action.Payload, record.Payload) {
		// Content already matches; nothing to write.
		return e.complete(action)
	}

	switch e.resolver.Decide(action.Strategy, action.ResourceType, action.RecordID) {
	case conflict.KeepRemote:
		// Local payload discarded; callers re-read the remote copy.
		return e.complete(action)

	case conflict.OverwriteRemote:
		var err error
		if action.Method == models.MethodDelete {
			err = e.backend.Delete(ctx, action.ResourceType, action.RecordID)
		} else {
			_, err = e.backend.Update(ctx, action.ResourceType, action.RecordID, action.Payload)
		}
		if err != nil {
			return e.deferOrFail(action, err)
		}
		return e.complete(action)

	default: // conflict.NeedsManual
		if err := e.store.UpdateStatus(action.ID, models.ActionStatusConflicted); err != nil {
			logging.Error("Failed to mark action conflicted", err,
				map[string]interface{}{"action_id": action.ID})
		}
		return outcome{
			kind: outcomeConflicted,
			conflict: &Conflict{
				ActionID:     action.ID,
				ResourceType: action.ResourceType,
				RecordID:     action.RecordID,
				Local:        action.Payload,
				Remote:       record.Payload,
			},
		}
	}
}

// complete removes a successfully applied action from the queue.
func (e *Engine) complete(action *models.QueuedAction) outcome {
	if err := e.store.RemoveQueued(action.ID); err != nil {
		// The remote accepted the write; re-application next pass is a
		// no-op overwrite because the record id is the upsert key.
		logging.Error("Applied action could not be removed from queue", err,
			map[string]interface{}{"action_id": action.ID})
		return outcome{kind: outcomeApplied, errMsg: err.Error()}
	}
	return outcome{kind: outcomeApplied}
}

// deferOrFail increments the retry count; at the budget the action is
// removed with a terminal error, otherwise it stays queued.
func (e *Engine) deferOrFail(action *models.QueuedAction, cause error) outcome {
	newCount := action.RetryCount + 1
	if newCount >= action.MaxRetries {
		errMsg := apperrors.Newf(apperrors.ErrRetryBudgetExhausted,
			"%s %s %s failed after %d attempts: %v",
			action.Method, action.ResourceType, action.RecordID, newCount, cause).Error()
		if err := e.store.RemoveQueued(action.ID); err != nil {
			logging.Error("Failed to remove exhausted action", err,
				map[string]interface{}{"action_id": action.ID})
		}
		logging.Warn("Action retry budget exhausted",
			map[string]interface{}{"action_id": action.ID, "record_id": action.RecordID})
		return outcome{kind: outcomeFailed, errMsg: errMsg}
	}

	if err := e.store.UpdateRetry(action.ID, newCount); err != nil {
		return outcome{kind: outcomeDeferred, errMsg: err.Error()}
	}
	logging.Debug("Action deferred for retry",
		map[string]interface{}{
			"action_id": action.ID,
			"retry":     newCount,
			"max":       action.MaxRetries,
		})
	return outcome{kind: outcomeDeferred}
}
