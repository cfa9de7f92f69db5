package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/cache"
	"github.com/terravine/backend/internal/connectivity"
	"github.com/terravine/backend/internal/logging"
	"github.com/terravine/backend/internal/models"
	"github.com/terravine/backend/internal/remote"
	"github.com/terravine/backend/internal/store"
	"github.com/terravine/backend/internal/sync"
	"github.com/terravine/backend/internal/weather"
)

var (
	flagListenAddr        string
	flagVisualCrossingKey string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local sync server",
	Long: `Starts the local HTTP/WebSocket server that field clients talk to.
Writes are queued locally and drained against the remote backend in
the background whenever connectivity is reported.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListenAddr, "listen", "localhost:8090", "address to listen on")
	serveCmd.Flags().StringVar(&flagVisualCrossingKey, "visual-crossing-key", "", "Visual Crossing API key")
	rootCmd.AddCommand(serveCmd)
}

// server bundles the composed subsystems behind the HTTP handlers.
type server struct {
	store   store.Storage
	cache   *cache.Manager
	weather *weather.Client
	engine  *sync.Engine
	monitor *connectivity.Monitor
	hub     *WSHub
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := store.Open(flagDataDir)
	if err != nil {
		return err
	}
	defer s.Close()

	backend := remote.NewHTTPBackend(flagBackendURL, flagAuthToken)
	engine := sync.NewEngine(s, backend)
	hub := NewWSHub()
	engine.SetEventHandler(hub)

	monitor := connectivity.NewMonitor(engine, s, nil)
	monitor.SetOnConnectivityChange(hub.ConnectivityChanged)
	monitor.Start()
	defer monitor.Stop()

	srv := &server{
		store: s,
		cache: cache.NewManager(s, cache.DefaultMaxEntries),
		weather: weather.NewClient(
			weather.NewVisualCrossingProvider("", flagVisualCrossingKey),
			weather.NewOpenMeteoProvider(""),
			nil,
		),
		engine:  engine,
		monitor: monitor,
		hub:     hub,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", srv.handleHealth)
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/connectivity", srv.handleConnectivity)
	mux.HandleFunc("/api/sync", srv.handleSync)
	mux.HandleFunc("/api/sync/resolve", srv.handleResolve)
	mux.HandleFunc("/api/queue", srv.handleQueue)
	mux.HandleFunc("/api/weather", srv.handleWeather)
	mux.HandleFunc("/ws", HandleWebSocket(hub))

	httpServer := &http.Server{
		Addr:         flagListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server listening", map[string]interface{}{"addr": flagListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (srv *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "vinesync",
	})
}

func (srv *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status, err := srv.monitor.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sync":  status,
		"cache": srv.cache.Stats(),
	})
}

// handleConnectivity lets clients report backend reachability; the
// core itself never probes the network.
func (srv *server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "malformed request body", err))
		return
	}
	srv.monitor.SetOnline(body.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{"online": body.Online})
}

// handleSync triggers an immediate drain and returns its result. If a
// pass is already running this request waits its turn behind it.
func (srv *server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := srv.engine.Run(r.Context(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (srv *server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ActionID models.UUID             `json:"action_id"`
		Strategy models.ConflictStrategy `json:"strategy"`
		Discard  bool                    `json:"discard"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "malformed request body", err))
		return
	}

	var err error
	if body.Discard {
		err = srv.engine.Discard(body.ActionID)
	} else {
		err = srv.engine.Resolve(body.ActionID, body.Strategy)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"action_id": body.ActionID})
}

// handleQueue captures offline writes (POST) and lists pending ones
// (GET). Enqueued work applies on the next drain.
func (srv *server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actions, err := srv.store.ListQueued()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"actions": actions})

	case http.MethodPost:
		var action models.QueuedAction
		if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
			writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "malformed request body", err))
			return
		}
		if err := validateAction(&action); err != nil {
			writeError(w, err)
			return
		}
		id, err := srv.store.Enqueue(&action)
		if err != nil {
			writeError(w, err)
			return
		}
		// A queued mutation stales every cached derivation of its
		// owning vineyard.
		if owner := cacheOwner(&action); owner != "" {
			if _, err := srv.cache.Invalidate(owner); err != nil {
				logging.Warn("Cache invalidation failed",
					map[string]interface{}{"owner": owner, "error": err.Error()})
			}
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"action_id": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWeather serves a daily weather series, from cache when fresh.
func (srv *server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	lat, lon, err := parseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, err)
		return
	}
	start, err := time.Parse("2006-01-02", q.Get("start"))
	if err != nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "start must be a YYYY-MM-DD date"))
		return
	}
	end, err := time.Parse("2006-01-02", q.Get("end"))
	if err != nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "end must be a YYYY-MM-DD date"))
		return
	}

	owner := q.Get("vineyard_id")
	if owner == "" {
		owner = "weather"
	}
	paramsKey := fmt.Sprintf("%.4f,%.4f,%s,%s",
		lat, lon, start.Format("2006-01-02"), end.Format("2006-01-02"))

	if payload, ok, err := srv.cache.Get(owner, paramsKey); err == nil && ok {
		w.Header().Set("X-Cache", "hit")
		writeRaw(w, http.StatusOK, payload)
		return
	}

	days, err := srv.weather.FetchDaily(r.Context(), lat, lon, start, end)
	if err != nil {
		writeError(w, err)
		return
	}

	payload, err := json.Marshal(map[string]interface{}{"days": days})
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to encode weather series", err))
		return
	}
	if err := srv.cache.Put(owner, paramsKey, payload, cache.DefaultTTLHours); err != nil {
		logging.Warn("Failed to cache weather series",
			map[string]interface{}{"owner": owner, "error": err.Error()})
	}
	w.Header().Set("X-Cache", "miss")
	writeRaw(w, http.StatusOK, payload)
}
