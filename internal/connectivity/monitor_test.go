package connectivity

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"testing"
	"time"

	"github.com/terravine/backend/internal/models"
	"github.com/terravine/backend/internal/remote"
	"github.com/terravine/backend/internal/store"
	"github.com/terravine/backend/internal/sync"
)

// stubBackend accepts every write and holds no state beyond a counter.
type stubBackend struct {
	mu      stdsync.Mutex
	applied int
}

func (b *stubBackend) Get(ctx context.Context, resourceType models.ResourceType, id string) (*models.RemoteRecord, error) {
	return nil, remote.ErrNotFound
}

func (b *stubBackend) Create(ctx context.Context, resourceType models.ResourceType, payload json.RawMessage) (*models.RemoteRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applied++
	return &models.RemoteRecord{Payload: payload, ResourceType: resourceType}, nil
}

func (b *stubBackend) Update(ctx context.Context, resourceType models.ResourceType, id string, payload json.RawMessage) (*models.RemoteRecord, error) {
	return &models.RemoteRecord{ID: id, Payload: payload, ResourceType: resourceType}, nil
}

func (b *stubBackend) Delete(ctx context.Context, resourceType models.ResourceType, id string) error {
	return nil
}

func newFixture(opts *Options) (*Monitor, *store.MemoryStore) {
	s := store.NewMemoryStore()
	engine := sync.NewEngine(s, &stubBackend{})
	return NewMonitor(engine, s, opts), s
}

func enqueueOne(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	_, err := s.Enqueue(&models.QueuedAction{
		Method:       models.MethodCreate,
		ResourceType: models.ResourceActivity,
		RecordID:     "A1",
		Payload:      json.RawMessage(`{"id":"A1"}`),
		Strategy:     models.StrategyServerWins,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// TestOnlineTransitionTriggersSync tests that coming back online drains
// the queue without waiting for the next periodic tick.
func TestOnlineTransitionTriggersSync(t *testing.T) {
	m, s := newFixture(&Options{SyncInterval: time.Hour, SweepInterval: time.Hour})
	enqueueOne(t, s)

	m.Start()
	defer m.Stop()

	m.SetOnline(true)

	drained := waitFor(t, time.Second, func() bool {
		n, _ := s.CountQueued()
		return n == 0
	})
	if !drained {
		t.Error("Expected queue drained after online transition")
	}
}

// TestPeriodicSyncWhileOnline tests the interval drain.
func TestPeriodicSyncWhileOnline(t *testing.T) {
	m, s := newFixture(&Options{SyncInterval: 20 * time.Millisecond, SweepInterval: time.Hour})
	m.Start()
	defer m.Stop()
	m.SetOnline(true)

	// Wait out the transition drain, then enqueue; only a periodic tick
	// can pick this one up.
	time.Sleep(30 * time.Millisecond)
	enqueueOne(t, s)

	drained := waitFor(t, time.Second, func() bool {
		n, _ := s.CountQueued()
		return n == 0
	})
	if !drained {
		t.Error("Expected periodic tick to drain the queue")
	}
}

// TestNoSyncWhileOffline tests that periodic ticks are inert offline.
func TestNoSyncWhileOffline(t *testing.T) {
	m, s := newFixture(&Options{SyncInterval: 10 * time.Millisecond, SweepInterval: time.Hour})
	enqueueOne(t, s)

	m.Start()
	defer m.Stop()

	time.Sleep(60 * time.Millisecond)
	if n, _ := s.CountQueued(); n != 1 {
		t.Errorf("Expected queue untouched while offline, depth %d", n)
	}
}

// TestSweepLoop tests that the background sweep purges expired entries.
func TestSweepLoop(t *testing.T) {
	m, s := newFixture(&Options{SyncInterval: time.Hour, SweepInterval: 20 * time.Millisecond})

	err := s.SetCache(&models.CacheEntry{
		Key:       "u1_stale",
		Payload:   json.RawMessage(`{}`),
		Owner:     "u1",
		CreatedAt: time.Now().Add(-2 * time.Hour).Unix(),
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("SetCache failed: %v", err)
	}

	m.Start()
	defer m.Stop()

	swept := waitFor(t, time.Second, func() bool {
		n, _ := s.CountCache()
		return n == 0
	})
	if !swept {
		t.Error("Expected expired entry swept")
	}
}

// TestStatusSnapshot tests the status fields against known state.
func TestStatusSnapshot(t *testing.T) {
	m, s := newFixture(nil)
	enqueueOne(t, s)

	status, err := m.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Online {
		t.Error("Expected offline before SetOnline")
	}
	if status.QueueDepth != 1 {
		t.Errorf("Expected queue depth 1, got %d", status.QueueDepth)
	}
	if status.SyncInProgress || status.LastSync != nil {
		t.Errorf("Unexpected sync state: %+v", status)
	}

	m.SetOnline(true)
	if !m.Online() {
		t.Error("Expected online after SetOnline")
	}
}

// TestConnectivityCallback tests transition-only notification.
func TestConnectivityCallback(t *testing.T) {
	m, _ := newFixture(nil)

	var mu stdsync.Mutex
	var calls []bool
	m.SetOnConnectivityChange(func(online bool) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, online)
	})

	m.SetOnline(true)
	m.SetOnline(true) // no transition, no callback
	m.SetOnline(false)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 || calls[0] != true || calls[1] != false {
		t.Errorf("Unexpected callback sequence: %v", calls)
	}
}

// TestStopIsIdempotent tests that Stop before Start and double Stop
// are safe.
func TestStopIsIdempotent(t *testing.T) {
	m, _ := newFixture(nil)
	m.Stop()
	m.Start()
	m.Stop()
	m.Stop()
}
