package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/models"
	"github.com/terravine/backend/internal/remote"
	"github.com/terravine/backend/internal/store"
)

// mockBackend is an in-memory Backend keyed by resource type and
// record id, so repeated creates of the same record upsert.
type mockBackend struct {
	mu      stdsync.Mutex
	records map[string]json.RawMessage
	failErr error
	delay   time.Duration

	getCalls    int
	createCalls int
	updateCalls int
	deleteCalls int
}

func newMockBackend() *mockBackend {
	return &mockBackend{records: make(map[string]json.RawMessage)}
}

func key(resourceType models.ResourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

func (m *mockBackend) seed(resourceType models.ResourceType, id string, payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key(resourceType, id)] = json.RawMessage(payload)
}

func (m *mockBackend) payload(resourceType models.ResourceType, id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.records[key(resourceType, id)])
}

func (m *mockBackend) Get(ctx context.Context, resourceType models.ResourceType, id string) (*models.RemoteRecord, error) {
	m.mu.Lock()
	m.getCalls++
	failErr, delay := m.failErr, m.delay
	m.mu.Unlock()
	if delay > 0 {
		// Honors cancellation like a real HTTP client would.
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.records[key(resourceType, id)]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return &models.RemoteRecord{ID: id, ResourceType: resourceType, Payload: payload}, nil
}

func (m *mockBackend) Create(ctx context.Context, resourceType models.ResourceType, payload json.RawMessage) (*models.RemoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.failErr != nil {
		return nil, m.failErr
	}

	var fields struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	m.records[key(resourceType, fields.ID)] = payload
	return &models.RemoteRecord{ID: fields.ID, ResourceType: resourceType, Payload: payload}, nil
}

func (m *mockBackend) Update(ctx context.Context, resourceType models.ResourceType, id string, payload json.RawMessage) (*models.RemoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failErr != nil {
		return nil, m.failErr
	}
	if _, ok := m.records[key(resourceType, id)]; !ok {
		return nil, remote.ErrNotFound
	}
	m.records[key(resourceType, id)] = payload
	return &models.RemoteRecord{ID: id, ResourceType: resourceType, Payload: payload}, nil
}

func (m *mockBackend) Delete(ctx context.Context, resourceType models.ResourceType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.failErr != nil {
		return m.failErr
	}
	delete(m.records, key(resourceType, id))
	return nil
}

func enqueue(t *testing.T, s store.Storage, method models.Method, recordID, payload string, strategy models.ConflictStrategy) models.UUID {
	t.Helper()
	id, err := s.Enqueue(&models.QueuedAction{
		Method:       method,
		ResourceType: models.ResourceActivity,
		RecordID:     recordID,
		Payload:      json.RawMessage(payload),
		Strategy:     strategy,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return id
}

func queueDepth(t *testing.T, s store.Storage) int {
	t.Helper()
	n, err := s.CountQueued()
	if err != nil {
		t.Fatalf("CountQueued failed: %v", err)
	}
	return n
}

// TestRunAppliesCreates tests the happy path: queued creates land on
// the backend and leave the queue.
func TestRunAppliesCreates(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	e := NewEngine(s, b)

	enqueue(t, s, models.MethodCreate, "A1", `{"id":"A1","kind":"pruning"}`, models.StrategyServerWins)
	enqueue(t, s, models.MethodCreate, "A2", `{"id":"A2","kind":"harvest"}`, models.StrategyServerWins)

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.SucceededCount != 2 || result.ConflictCount != 0 || result.FailedCount != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Expected no errors, got %v", result.Errors)
	}
	if queueDepth(t, s) != 0 {
		t.Error("Expected empty queue after successful pass")
	}
	if b.payload(models.ResourceActivity, "A2") == "" {
		t.Error("Expected record A2 on the backend")
	}
}

// TestRunRetryBudget tests that a persistently failing action is
// deferred silently until the last allowed pass, then removed with a
// terminal error.
func TestRunRetryBudget(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	b.failErr = apperrors.New(apperrors.ErrTransientNetwork, "connection refused")
	e := NewEngine(s, b)

	enqueue(t, s, models.MethodCreate, "A1", `{"id":"A1"}`, models.StrategyServerWins)

	for pass := 1; pass <= 2; pass++ {
		result, err := e.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("Run %d failed: %v", pass, err)
		}
		if result.FailedCount != 0 || len(result.Errors) != 0 {
			t.Errorf("Pass %d: expected silent deferral, got %+v", pass, result)
		}
		if queueDepth(t, s) != 1 {
			t.Fatalf("Pass %d: expected action to stay queued", pass)
		}
	}

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Final run failed: %v", err)
	}
	if result.FailedCount != 1 {
		t.Errorf("Expected 1 terminal failure, got %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], string(apperrors.ErrRetryBudgetExhausted)) {
		t.Errorf("Expected RETRY_BUDGET_EXHAUSTED error, got %v", result.Errors)
	}
	if queueDepth(t, s) != 0 {
		t.Error("Expected exhausted action removed from queue")
	}
}

// TestRunManualConflict tests the full manual-resolution loop: the
// conflict is surfaced once, the action waits, and a resolution
// strategy applies it on the next pass.
func TestRunManualConflict(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	b.seed(models.ResourceActivity, "A1", `{"id":"A1","notes":"remote edit"}`)
	e := NewEngine(s, b)

	actionID := enqueue(t, s, models.MethodUpdate, "A1", `{"id":"A1","notes":"local edit"}`, models.StrategyManual)

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ConflictCount != 1 || len(result.Conflicts) != 1 {
		t.Fatalf("Expected one surfaced conflict, got %+v", result)
	}
	c := result.Conflicts[0]
	if c.ActionID != actionID || string(c.Remote) != `{"id":"A1","notes":"remote edit"}` {
		t.Errorf("Unexpected conflict: %+v", c)
	}
	if queueDepth(t, s) != 1 {
		t.Fatal("Expected conflicted action to stay queued")
	}

	// A second pass skips the conflicted action without re-surfacing it.
	result, err = e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if result.ConflictCount != 0 || result.SucceededCount != 0 {
		t.Errorf("Expected conflicted action skipped, got %+v", result)
	}

	if err := e.Resolve(actionID, models.StrategyClientWins); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	result, err = e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Post-resolve run failed: %v", err)
	}
	if result.SucceededCount != 1 {
		t.Errorf("Expected resolved action applied, got %+v", result)
	}
	if got := b.payload(models.ResourceActivity, "A1"); got != `{"id":"A1","notes":"local edit"}` {
		t.Errorf("Expected local payload on backend, got %s", got)
	}
	if queueDepth(t, s) != 0 {
		t.Error("Expected empty queue after resolution")
	}
}

// TestResolveRejectsManual tests that manual is not a valid resolution.
func TestResolveRejectsManual(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), newMockBackend())
	err := e.Resolve("some-id", models.StrategyManual)
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Expected INVALID_REQUEST, got %v", err)
	}
}

// TestRunServerWins tests that the remote copy survives and the local
// change is dropped without a backend write.
func TestRunServerWins(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	b.seed(models.ResourceActivity, "A1", `{"id":"A1","notes":"remote"}`)
	e := NewEngine(s, b)

	enqueue(t, s, models.MethodUpdate, "A1", `{"id":"A1","notes":"local"}`, models.StrategyServerWins)

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SucceededCount != 1 || result.ConflictCount != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if b.updateCalls != 0 {
		t.Errorf("Expected no backend write, got %d updates", b.updateCalls)
	}
	if got := b.payload(models.ResourceActivity, "A1"); got != `{"id":"A1","notes":"remote"}` {
		t.Errorf("Expected remote payload preserved, got %s", got)
	}
	if queueDepth(t, s) != 0 {
		t.Error("Expected action dequeued")
	}
}

// TestRunClientWins tests that the local payload overwrites the remote.
func TestRunClientWins(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	b.seed(models.ResourceActivity, "A1", `{"id":"A1","notes":"remote"}`)
	e := NewEngine(s, b)

	enqueue(t, s, models.MethodUpdate, "A1", `{"id":"A1","notes":"local"}`, models.StrategyClientWins)

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SucceededCount != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if got := b.payload(models.ResourceActivity, "A1"); got != `{"id":"A1","notes":"local"}` {
		t.Errorf("Expected local payload on backend, got %s", got)
	}
}

// TestRunEqualPayloadSkipsWrite tests that structurally identical
// content is applied without touching the backend.
func TestRunEqualPayloadSkipsWrite(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	b.seed(models.ResourceActivity, "A1", `{"id":"A1","notes":"same"}`)
	e := NewEngine(s, b)

	// Key order differs but content matches; manual strategy must not
	// trigger because nothing actually conflicts.
	enqueue(t, s, models.MethodUpdate, "A1", `{"notes":"same","id":"A1"}`, models.StrategyManual)

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SucceededCount != 1 || result.ConflictCount != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if b.updateCalls != 0 {
		t.Errorf("Expected no backend write, got %d updates", b.updateCalls)
	}
}

// TestRunDeleteMissingRemote tests delete idempotence: removing a
// record that no longer exists succeeds.
func TestRunDeleteMissingRemote(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	e := NewEngine(s, b)

	enqueue(t, s, models.MethodDelete, "gone", `{"id":"gone"}`, models.StrategyServerWins)

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SucceededCount != 1 || len(result.Errors) != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if queueDepth(t, s) != 0 {
		t.Error("Expected delete dequeued")
	}
}

// TestRunDeleteClientWins tests that a client-wins delete removes the
// surviving remote record.
func TestRunDeleteClientWins(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	b.seed(models.ResourceActivity, "A1", `{"id":"A1"}`)
	e := NewEngine(s, b)

	enqueue(t, s, models.MethodDelete, "A1", `{"id":"A1"}`, models.StrategyClientWins)

	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if b.payload(models.ResourceActivity, "A1") != "" {
		t.Error("Expected remote record deleted")
	}
}

// TestRunIdempotentReapply tests that applying the same create twice
// leaves a single record in the final state.
func TestRunIdempotentReapply(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	e := NewEngine(s, b)

	payload := `{"id":"A1","kind":"pruning"}`
	enqueue(t, s, models.MethodCreate, "A1", payload, models.StrategyClientWins)
	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	enqueue(t, s, models.MethodCreate, "A1", payload, models.StrategyClientWins)
	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if got := b.payload(models.ResourceActivity, "A1"); got != payload {
		t.Errorf("Expected single upserted record, got %s", got)
	}
	if queueDepth(t, s) != 0 {
		t.Error("Expected empty queue")
	}
}

// TestRunTimeoutKeepsPartialProgress tests that a pass hitting its
// deadline finishes the in-flight batch, records a timeout error, and
// leaves the rest queued.
func TestRunTimeoutKeepsPartialProgress(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	b.delay = 60 * time.Millisecond
	e := NewEngine(s, b)

	for i := 1; i <= 3; i++ {
		enqueue(t, s, models.MethodCreate, fmt.Sprintf("A%d", i),
			fmt.Sprintf(`{"id":"A%d"}`, i), models.StrategyServerWins)
	}

	result, err := e.Run(context.Background(), &Options{
		BatchSize: 1,
		Timeout:   30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The in-flight item outlives the deadline and still lands; the
	// timeout only stops the next batch from starting.
	if result.SucceededCount != 1 {
		t.Errorf("Expected first batch to complete, got %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], string(apperrors.ErrSyncTimeout)) {
		t.Errorf("Expected SYNC_TIMEOUT error entry, got %v", result.Errors)
	}

	remaining, err := s.ListQueued()
	if err != nil {
		t.Fatalf("ListQueued failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("Expected remaining actions left queued, got depth %d", len(remaining))
	}
	for _, a := range remaining {
		if a.RetryCount != 0 {
			t.Errorf("Expected no retry charged by the local timeout, got %d for %s", a.RetryCount, a.RecordID)
		}
	}
}

// TestRunTimeoutDuringFinalBatch tests that an item in flight when the
// deadline expires is allowed to finish and succeed, with the timeout
// still recorded on the result.
func TestRunTimeoutDuringFinalBatch(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	b.delay = 60 * time.Millisecond
	e := NewEngine(s, b)

	enqueue(t, s, models.MethodCreate, "A1", `{"id":"A1"}`, models.StrategyServerWins)

	result, err := e.Run(context.Background(), &Options{
		BatchSize: 1,
		Timeout:   30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.SucceededCount != 1 || result.FailedCount != 0 {
		t.Errorf("Expected the in-flight item to finish and succeed, got %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], string(apperrors.ErrSyncTimeout)) {
		t.Errorf("Expected SYNC_TIMEOUT error entry, got %v", result.Errors)
	}
	if queueDepth(t, s) != 0 {
		t.Error("Expected applied action dequeued despite the timeout")
	}
}

// TestRunBatchIsolation tests that one failing item in a batch does
// not prevent its siblings from applying.
func TestRunBatchIsolation(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	e := NewEngine(s, b)

	enqueue(t, s, models.MethodCreate, "A1", `{"id":"A1"}`, models.StrategyServerWins)
	enqueue(t, s, models.MethodCreate, "A2", `{broken`, models.StrategyServerWins)
	enqueue(t, s, models.MethodCreate, "A3", `{"id":"A3"}`, models.StrategyServerWins)

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SucceededCount != 2 {
		t.Errorf("Expected healthy siblings applied, got %+v", result)
	}
	if queueDepth(t, s) != 1 {
		t.Errorf("Expected only the broken action queued, got depth %d", queueDepth(t, s))
	}
}

// recordingHandler captures sync events for assertions.
type recordingHandler struct {
	mu        stdsync.Mutex
	started   []int
	completed []*Result
	conflicts []Conflict
}

func (h *recordingHandler) SyncStarted(pending int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, pending)
}

func (h *recordingHandler) SyncCompleted(result *Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, result)
}

func (h *recordingHandler) ConflictDetected(c Conflict) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflicts = append(h.conflicts, c)
}

// TestRunEmitsEvents tests the event lifecycle around a pass with a
// manual conflict.
func TestRunEmitsEvents(t *testing.T) {
	s := store.NewMemoryStore()
	b := newMockBackend()
	b.seed(models.ResourceActivity, "A1", `{"id":"A1","v":"remote"}`)
	e := NewEngine(s, b)
	h := &recordingHandler{}
	e.SetEventHandler(h)

	enqueue(t, s, models.MethodCreate, "A2", `{"id":"A2"}`, models.StrategyServerWins)
	enqueue(t, s, models.MethodUpdate, "A1", `{"id":"A1","v":"local"}`, models.StrategyManual)

	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(h.started) != 1 || h.started[0] != 2 {
		t.Errorf("Expected SyncStarted with 2 pending, got %v", h.started)
	}
	if len(h.completed) != 1 || h.completed[0].SucceededCount != 1 {
		t.Errorf("Unexpected completion events: %+v", h.completed)
	}
	if len(h.conflicts) != 1 || h.conflicts[0].RecordID != "A1" {
		t.Errorf("Unexpected conflict events: %+v", h.conflicts)
	}
}

// TestRunStatusBookkeeping tests InProgress and LastSync transitions.
func TestRunStatusBookkeeping(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), newMockBackend())

	if e.InProgress() {
		t.Error("Expected no sync in progress initially")
	}
	if e.LastSync() != nil {
		t.Error("Expected no last sync time initially")
	}

	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if e.InProgress() {
		t.Error("Expected sync finished")
	}
	if e.LastSync() == nil {
		t.Error("Expected last sync time recorded")
	}
}
