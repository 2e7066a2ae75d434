// Package main runs the habitsync core as a local service. UI layers talk
// to it over REST and WebSocket on localhost.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/habitsync/habitsync/internal/auth"
	"github.com/habitsync/habitsync/internal/bus"
	"github.com/habitsync/habitsync/internal/cache"
	"github.com/habitsync/habitsync/internal/config"
	"github.com/habitsync/habitsync/internal/device"
	"github.com/habitsync/habitsync/internal/eventlog"
	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/metrics"
	"github.com/habitsync/habitsync/internal/remote"
	syncpkg "github.com/habitsync/habitsync/internal/sync"
	"github.com/habitsync/habitsync/internal/sync/conflict"
	"github.com/habitsync/habitsync/internal/sync/dedupe"
	"github.com/habitsync/habitsync/internal/sync/queue"
	"github.com/habitsync/habitsync/internal/sync/scheduler"
)

func main() {
	cfgPath := os.Getenv("HABITSYNC_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Init(os.Stdout, logging.LevelInfo)
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}
	logging.Init(os.Stdout, logging.LogLevel(cfg.LogLevel))

	app, err := buildApp(cfg)
	if err != nil {
		logging.Error("Startup failed", err, nil)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.start(ctx)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: app.routes(),
	}
	go func() {
		logging.Info("Core service listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server failed", err, nil)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("HTTP shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	app.stop()
}

// app wires the sync core's components together.
type app struct {
	cfg       *config.Config
	store     cache.Store
	engine    *syncpkg.Engine
	router    *syncpkg.Router
	scheduler *scheduler.Scheduler
	detector  *dedupe.Detector
	queue     *queue.Queue
	bus       *bus.Bus
	metrics   *metrics.Metrics
	provider  *auth.StaticProvider
	hub       *WSHub
	unsubAuth func()
}

func buildApp(cfg *config.Config) (*app, error) {
	store, err := cache.OpenSQLite(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	collections := cache.NewCollections(store)

	dev, err := device.NewManager(store)
	if err != nil {
		return nil, err
	}
	logging.Info("Device identity", map[string]interface{}{"device_id": dev.ID()})

	m := metrics.New()
	b := bus.New()
	b.OnDrop(m.IncBusDrops)

	var log eventlog.Log
	if cfg.EventLogURL != "" {
		log = eventlog.NewHTTPLog(cfg.EventLogURL, nil)
	} else {
		log = eventlog.NewMemoryLog()
	}
	events := eventlog.NewClient(log)

	q, err := queue.New(store, m, queue.Options{
		MaxSize:    cfg.QueueMaxSize,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	})
	if err != nil {
		return nil, err
	}

	provider := auth.NewStaticProvider()

	var remoteStore remote.Store
	if cfg.RemoteBaseURL != "" {
		remoteStore = remote.NewHTTPStore(&remote.HTTPConfig{
			BaseURL: cfg.RemoteBaseURL,
			WSURL:   cfg.RemoteWSURL,
		})
	}

	detector := dedupe.NewDetector(events, m)
	engine := syncpkg.NewEngine(syncpkg.Deps{
		Collections: collections,
		Remote:      remoteStore,
		Queue:       q,
		Events:      events,
		Resolver:    conflict.NewResolver(events, m),
		Detector:    detector,
		Bus:         b,
		Metrics:     m,
		Auth:        provider,
		DeviceID:    dev.ID(),
	})

	a := &app{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		router:   syncpkg.NewRouter(engine),
		detector: detector,
		queue:    q,
		bus:      b,
		metrics:  m,
		provider: provider,
		hub:      NewWSHub(cfg.ListenAddr),
	}
	a.scheduler = scheduler.New(engine, events, dev, &scheduler.Config{
		DrainInterval:     cfg.DrainInterval,
		RetentionInterval: cfg.RetentionInterval,
		RetentionWindow:   cfg.RetentionWindow,
	})
	return a, nil
}

// start launches background work and bridges bus events to the hub.
func (a *app) start(ctx context.Context) {
	a.detector.Start()
	a.scheduler.Start(ctx)
	a.hub.BridgeBus(ctx, a.bus)

	// Operations queued before the last shutdown should not wait for the
	// first scheduler tick.
	if a.hasRemote() {
		a.scheduler.TriggerDrain(ctx)
	}

	// Auth transitions drive the sync lifecycle: login runs initial sync
	// and starts the change router, logout tears the feeds down.
	a.unsubAuth = a.provider.OnAuthChange(func(userID string, loggedIn bool) {
		if !loggedIn {
			a.router.Stop()
			a.engine.ForgetUser(userID)
			return
		}
		if !a.hasRemote() {
			return
		}
		go func() {
			if _, err := a.engine.InitialSync(ctx, userID); err != nil {
				logging.Error("Initial sync failed", err,
					map[string]interface{}{"user_id": userID})
			}
			a.router.Start(ctx, userID)
			a.engine.DrainQueue(ctx)
		}()
	})
}

func (a *app) hasRemote() bool {
	return a.cfg.RemoteBaseURL != ""
}

func (a *app) stop() {
	if a.unsubAuth != nil {
		a.unsubAuth()
	}
	a.router.Stop()
	a.scheduler.Stop()
	a.detector.Stop()
	a.queue.Close()
	if err := a.store.Close(); err != nil {
		logging.Warn("Cache close failed", map[string]interface{}{"error": err.Error()})
	}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", a.handleHealth)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/metrics", a.handleMetrics)
	mux.HandleFunc("/api/session", a.handleSession)
	mux.HandleFunc("/api/sync/trigger", a.handleTriggerSync)
	mux.HandleFunc("/api/queue/clear", a.handleQueueClear)
	mux.HandleFunc("/api/online", a.handleOnline)
	mux.HandleFunc("/ws", a.hub.Handler())
	return mux
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "service": "habitsync-core"})
}

func (a *app) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, loggedIn := a.provider.CurrentUser()
	status := a.scheduler.GetStatus()
	writeJSON(w, map[string]interface{}{
		"online":            a.engine.Online(),
		"logged_in":         loggedIn,
		"user_id":           userID,
		"pending":           a.queue.Pending(),
		"scheduler_running": status.IsRunning,
		"drain_in_progress": status.DrainInProgress,
	})
}

func (a *app) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, a.metrics.Snapshot())
}

// handleSession logs a user in (POST) or out (DELETE).
func (a *app) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}
		a.provider.Login(body.UserID)
		writeJSON(w, map[string]interface{}{"user_id": body.UserID, "logged_in": true})
	case http.MethodDelete:
		a.provider.Logout()
		writeJSON(w, map[string]interface{}{"logged_in": false})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *app) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// The drain outlives the request, so it gets its own context.
	started := a.scheduler.TriggerDrain(context.Background())
	writeJSON(w, map[string]interface{}{"started": started})
}

// handleQueueClear drops queued operations, optionally only the ones that
// already failed. Used when the queue holds stale data from a previous
// identity.
func (a *app) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		FailedOnly bool `json:"failed_only"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	var err error
	if body.FailedOnly {
		err = a.queue.ClearFailed()
	} else {
		err = a.queue.Clear()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"pending": a.queue.Pending()})
}

// handleOnline lets the embedding platform report connectivity changes.
func (a *app) handleOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.engine.SetOnline(body.Online)
	writeJSON(w, map[string]interface{}{"online": body.Online})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Response encode failed", map[string]interface{}{"error": err.Error()})
	}
}
