// Package connectivity tracks whether the remote backend is reachable
// and drives background sync and cache maintenance off that state.
package connectivity

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/terravine/backend/internal/logging"
	"github.com/terravine/backend/internal/store"
	"github.com/terravine/backend/internal/sync"
)

const (
	// DefaultSyncInterval is how often the queue is drained while online.
	DefaultSyncInterval = 5 * time.Minute

	// DefaultSweepInterval is how often expired cache entries are purged.
	DefaultSweepInterval = time.Hour
)

// Options configures the monitor's background cadence.
type Options struct {
	SyncInterval  time.Duration
	SweepInterval time.Duration
}

// Status is a point-in-time snapshot of the sync subsystem.
type Status struct {
	Online         bool       `json:"online"`
	QueueDepth     int        `json:"queue_depth"`
	SyncInProgress bool       `json:"sync_in_progress"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
}

// Monitor owns the background loops: periodic queue drains while
// online, an immediate drain on the offline-to-online transition, and
// the hourly expired-cache sweep.
type Monitor struct {
	engine *sync.Engine
	store  store.Storage

	syncInterval  time.Duration
	sweepInterval time.Duration

	mu       stdsync.Mutex
	online   bool
	started  bool
	onChange func(online bool)

	stopCh chan struct{}
	kickCh chan struct{}
	wg     stdsync.WaitGroup
}

// NewMonitor creates a Monitor. The node starts offline; callers
// report reachability through SetOnline.
func NewMonitor(engine *sync.Engine, s store.Storage, opts *Options) *Monitor {
	m := &Monitor{
		engine:        engine,
		store:         s,
		syncInterval:  DefaultSyncInterval,
		sweepInterval: DefaultSweepInterval,
		kickCh:        make(chan struct{}, 1),
	}
	if opts != nil {
		if opts.SyncInterval > 0 {
			m.syncInterval = opts.SyncInterval
		}
		if opts.SweepInterval > 0 {
			m.sweepInterval = opts.SweepInterval
		}
	}
	return m
}

// SetOnConnectivityChange sets a callback fired on every online/offline
// transition. Must be called before Start.
func (m *Monitor) SetOnConnectivityChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Start launches the background loops. Safe to call once.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.run()
	logging.Info("Connectivity monitor started",
		map[string]interface{}{
			"sync_interval":  m.syncInterval.String(),
			"sweep_interval": m.sweepInterval.String(),
		})
}

// Stop shuts the loops down and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	logging.Info("Connectivity monitor stopped", nil)
}

// Online reports the last known reachability state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a reachability change. Coming back online kicks an
// immediate drain so queued work doesn't wait for the next tick.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	onChange := m.onChange
	m.mu.Unlock()

	if !changed {
		return
	}
	logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	if onChange != nil {
		onChange(online)
	}
	if online {
		select {
		case m.kickCh <- struct{}{}:
		default:
		}
	}
}

// Status reports the current sync snapshot.
func (m *Monitor) Status() (*Status, error) {
	depth, err := m.engine.PendingChanges()
	if err != nil {
		return nil, err
	}
	return &Status{
		Online:         m.Online(),
		QueueDepth:     depth,
		SyncInProgress: m.engine.InProgress(),
		LastSync:       m.engine.LastSync(),
	}, nil
}

func (m *Monitor) run() {
	defer m.wg.Done()

	syncTicker := time.NewTicker(m.syncInterval)
	defer syncTicker.Stop()
	sweepTicker := time.NewTicker(m.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.kickCh:
			m.drain()
		case <-syncTicker.C:
			if m.Online() {
				m.drain()
			}
		case <-sweepTicker.C:
			m.sweep()
		}
	}
}

// drain runs one sync pass. Pass-level failures are logged, not fatal;
// the next tick tries again.
func (m *Monitor) drain() {
	if _, err := m.engine.Run(context.Background(), nil); err != nil {
		logging.Error("Background sync pass failed", err, nil)
	}
}

// sweep purges expired cache entries.
func (m *Monitor) sweep() {
	removed, err := m.store.SweepExpired(time.Now())
	if err != nil {
		logging.Error("Cache sweep failed", err, nil)
		return
	}
	if removed > 0 {
		logging.Info("Swept expired cache entries", map[string]interface{}{"removed": removed})
	}
}
