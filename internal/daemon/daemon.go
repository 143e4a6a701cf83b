// internal/daemon/daemon.go
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loopautoma/loopautoma/internal/action"
	"github.com/loopautoma/loopautoma/internal/automation"
	"github.com/loopautoma/loopautoma/internal/config"
	"github.com/loopautoma/loopautoma/internal/event"
	"github.com/loopautoma/loopautoma/internal/llm"
	"github.com/loopautoma/loopautoma/internal/logging"
	"github.com/loopautoma/loopautoma/internal/monitor"
	"github.com/loopautoma/loopautoma/internal/ocr"
	"github.com/loopautoma/loopautoma/internal/screen"
	"github.com/loopautoma/loopautoma/internal/security"
	"github.com/loopautoma/loopautoma/internal/state"
)

// Daemon hosts the monitor runtime: it loads configuration and profiles,
// selects the capture and automation backends, persists run history, serves
// the control API, and hot-reloads profiles between runs.
type Daemon struct {
	configPath  string
	profilesDir string
	config      *config.Global
	logger      *slog.Logger
	httpServer  *http.Server
	stateDB     *state.DB
	startTime   time.Time

	capture screen.Capture
	auto    automation.Automation
	llmCli  llm.Client
	ocrProv ocr.Provider

	// baseCtx is the daemon's lifetime context; monitor loops are bound to
	// it, not to the request that started them.
	baseCtx context.Context

	mu            sync.RWMutex
	profiles      map[string]*config.Profile
	mon           *monitor.Monitor
	monProfile    string
	monRunID      string
	monDone       chan struct{}
	pendingReload bool
}

// stopRecorder remembers how one run ended. It is created per run and carries
// its own lock: the recorder sink fires while the monitor holds its own lock,
// and taking d.mu there would deadlock against API handlers that hold d.mu
// and query monitor state.
type stopRecorder struct {
	mu     sync.Mutex
	reason string
}

func (r *stopRecorder) record(reason string) {
	r.mu.Lock()
	r.reason = reason
	r.mu.Unlock()
}

func (r *stopRecorder) get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// New creates a daemon instance.
func New(configPath, profilesDir string) *Daemon {
	return &Daemon{
		configPath:  configPath,
		profilesDir: profilesDir,
		profiles:    make(map[string]*config.Profile),
	}
}

// Bootstrap loads configuration, backends, the history database, and
// profiles. Run calls it; the MCP stdio server calls it directly since it
// needs a working daemon without the HTTP server or the watcher.
func (d *Daemon) Bootstrap(ctx context.Context) error {
	d.startTime = time.Now()
	d.baseCtx = ctx

	cfg, err := config.LoadGlobal(d.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	d.config = cfg

	logWriter, err := d.initLogWriter()
	if err != nil {
		d.logger = logging.NewLogger(cfg.Logging.Format, cfg.Daemon.LogLevel, os.Stdout)
		d.logger.Warn("failed to initialize rotating log writer, using stdout", "error", err)
	} else {
		d.logger = logging.NewLogger(cfg.Logging.Format, cfg.Daemon.LogLevel, logWriter)
	}

	d.logger.Info("starting daemon", "config", d.configPath, "profiles_dir", d.profilesDir)

	if err := security.ValidateDirectoryPermissions(d.profilesDir); err != nil {
		d.logger.Error("CRITICAL: profiles directory has unsafe permissions", "error", err, "path", d.profilesDir)
		// Log critical but continue; the operator should fix permissions
	}

	if err := d.initStateDB(); err != nil {
		d.logger.Warn("failed to initialize history database, runs will not be recorded", "error", err)
	}

	if err := d.initBackends(); err != nil {
		return fmt.Errorf("initializing backends: %w", err)
	}
	d.initLLM()

	if err := d.loadProfiles(); err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	return nil
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Bootstrap(ctx); err != nil {
		return err
	}

	go d.startHTTPServer(ctx)
	go d.startHotReload(ctx)

	d.mu.RLock()
	loaded := len(d.profiles)
	d.mu.RUnlock()
	d.logger.Info("daemon started", "profiles_loaded", loaded)

	<-ctx.Done()
	d.logger.Info("daemon stopping")
	return d.shutdown()
}

func (d *Daemon) initLogWriter() (*logging.RotatingWriter, error) {
	path := d.config.Logging.Path
	if path == "" {
		return nil, fmt.Errorf("no log path configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return logging.NewRotatingWriter(path, 50*1024*1024)
}

func (d *Daemon) initStateDB() error {
	path := d.config.History.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, ".local", "share", "loopautoma", "history.db")
	}

	db, err := state.Open(path)
	if err != nil {
		return err
	}
	d.stateDB = db

	go func() {
		if deleted, err := db.Cleanup(d.config.History.RetentionDays); err != nil {
			d.logger.Warn("history cleanup failed", "error", err)
		} else if deleted > 0 {
			d.logger.Info("cleaned up old history records", "deleted", deleted)
		}
	}()
	return nil
}

// initBackends selects the capture and automation backends. A failing x11
// backend falls back to the fake backend so the daemon stays operable; the
// operator sees the recommendation in the log.
func (d *Daemon) initBackends() error {
	auto := d.config.Automation
	opts := automation.Options{
		Settle:        time.Duration(auto.SettleMs) * time.Millisecond,
		WarpTolerance: auto.WarpTolerancePx,
	}

	switch auto.Backend {
	case "x11":
		capt, err := screen.NewX11Capture(auto.Display)
		if err != nil {
			d.logger.Error("x11 capture unavailable, falling back to fake backend; set automation.backend to \"fake\" to silence this", "error", err)
			d.capture = screen.NewFakeCapture()
			d.auto = automation.NewFake()
			return nil
		}
		synth, err := automation.NewX11Automation(auto.Display, opts)
		if err != nil {
			capt.Close()
			d.logger.Error("x11 automation unavailable, falling back to fake backend; set automation.backend to \"fake\" to silence this", "error", err)
			d.capture = screen.NewFakeCapture()
			d.auto = automation.NewFake()
			return nil
		}
		d.capture = capt
		d.auto = synth
	case "fake":
		d.capture = screen.NewFakeCapture()
		d.auto = automation.NewFake()
	default:
		return fmt.Errorf("unknown automation backend %q", auto.Backend)
	}
	return nil
}

func (d *Daemon) initLLM() {
	apiKey := os.Getenv("LOOPAUTOMA_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		d.logger.Warn("no API key in environment, LLM actions will fail")
	}
	d.llmCli = llm.NewOpenAIClient(d.config.LLM, apiKey)

	prov, err := ocr.New(d.config.OCR, d.capture, d.llmCli)
	if err != nil {
		d.logger.Warn("OCR provider unavailable", "error", err)
		return
	}
	d.ocrProv = prov
}

func (d *Daemon) loadProfiles() error {
	profiles, err := config.LoadProfilesDir(d.profilesDir)
	if err != nil {
		return err
	}

	loaded := make(map[string]*config.Profile)
	for _, p := range profiles {
		if err := config.ValidateProfile(p); err != nil {
			if d.logger != nil {
				d.logger.Error("skipping invalid profile", "error", err)
			}
			continue
		}
		loaded[p.ID] = p
	}

	d.mu.Lock()
	d.profiles = loaded
	d.mu.Unlock()
	return nil
}

// StartProfile begins a monitor run for the named profile. Only one monitor
// runs at a time; a second start while one is active is rejected.
func (d *Daemon) StartProfile(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mon != nil && d.mon.State() == monitor.Running {
		if d.monProfile == id {
			return monitor.ErrAlreadyRunning
		}
		return fmt.Errorf("profile %q is already running", d.monProfile)
	}

	p, ok := d.profiles[id]
	if !ok {
		return fmt.Errorf("profile not found: %s", id)
	}
	if !p.Enabled {
		return fmt.Errorf("profile %q is disabled", id)
	}

	env := &action.Env{
		Auto:    d.auto,
		Capture: d.capture,
		LLM:     d.llmCli,
		OCR:     d.ocrProv,
		Log:     logging.WithProfile(d.logger, p.ID),
	}
	delay := time.Duration(d.config.Automation.InterActionDelayMs) * time.Millisecond

	rec := &stopRecorder{}
	mon, err := monitor.New(p, env, d.buildSink(rec), delay)
	if err != nil {
		return fmt.Errorf("building monitor: %w", err)
	}
	if err := mon.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	d.mon = mon
	d.monProfile = id
	d.monRunID = mon.RunID()
	d.monDone = done

	if d.stateDB != nil {
		if err := d.stateDB.StartRun(mon.RunID(), p.ID, time.Now()); err != nil {
			d.logger.Warn("failed to record run start", "error", err)
		}
	}

	ctx := d.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go d.runMonitor(ctx, mon, mon.RunID(), done, rec)
	return nil
}

// runMonitor drives the monitor loop and finalizes the run record when the
// loop exits. The run's id, done channel, and stop recorder are captured at
// launch: a stopped run's loop goroutine may still be parked on its ticker
// when a fresh start replaces the daemon fields, and it must finalize its own
// run, never the new one.
func (d *Daemon) runMonitor(ctx context.Context, mon *monitor.Monitor, runID string, done chan struct{}, rec *stopRecorder) {
	mon.Loop(ctx)

	reason := rec.get()
	finalState := string(mon.State())

	d.mu.Lock()
	pending := false
	if d.monDone == done {
		pending = d.pendingReload
		d.pendingReload = false
	}
	close(done)
	d.mu.Unlock()

	if d.stateDB != nil {
		if err := d.stateDB.FinishRun(runID, finalState, reason, time.Now()); err != nil {
			d.logger.Warn("failed to record run finish", "error", err)
		}
	}

	if pending {
		d.logger.Info("applying queued profile reload")
		if err := d.loadProfiles(); err != nil {
			d.logger.Error("queued profile reload failed", "error", err)
		}
	}
}

// buildSink assembles the event pipeline for one run: history persistence
// plus the run's stop recorder.
func (d *Daemon) buildSink(rec *stopRecorder) event.Sink {
	sinks := event.MultiSink{
		event.SinkFunc(func(e event.Event) {
			if e.Type == event.StateChanged && e.To != string(monitor.Running) {
				rec.record(e.Reason)
			}
		}),
	}
	if d.stateDB != nil {
		sinks = append(sinks, state.NewSink(d.stateDB))
	}
	return sinks
}

// StopProfile stops the active monitor.
func (d *Daemon) StopProfile(id string) error {
	d.mu.RLock()
	mon, active := d.mon, d.monProfile
	d.mu.RUnlock()

	if mon == nil || active != id || mon.State() != monitor.Running {
		return fmt.Errorf("profile %q is not running", id)
	}
	mon.Stop("operator_stop")
	return nil
}

// PanicStop immediately stops whatever is running, bypassing guardrails.
func (d *Daemon) PanicStop() {
	d.mu.RLock()
	mon := d.mon
	d.mu.RUnlock()

	if mon != nil {
		mon.PanicStop()
	}
}

// Status reports the daemon's view of the active monitor.
func (d *Daemon) Status() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := map[string]any{
		"uptime":          time.Since(d.startTime).Truncate(time.Second).String(),
		"profiles_loaded": len(d.profiles),
		"monitor_state":   string(monitor.Idle),
	}
	if d.mon != nil {
		status["monitor_state"] = string(d.mon.State())
		status["profile"] = d.monProfile
		status["run_id"] = d.monRunID
	}
	return status
}

// Profiles returns the loaded profiles.
func (d *Daemon) Profiles() []*config.Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*config.Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		out = append(out, p)
	}
	return out
}

// History returns recent runs, optionally filtered by profile.
func (d *Daemon) History(profileID string, limit int) ([]state.RunRecord, error) {
	if d.stateDB == nil {
		return nil, nil
	}
	return d.stateDB.GetRuns(profileID, limit)
}

// Events returns the events of one run in emission order.
func (d *Daemon) Events(runID string, limit int) ([]state.EventRecord, error) {
	if d.stateDB == nil {
		return nil, nil
	}
	return d.stateDB.GetEvents(runID, limit)
}

// startHotReload watches the profiles directory. Edits during an active run
// are queued and applied when the run ends so a profile cannot change under a
// running monitor.
func (d *Daemon) startHotReload(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Error("could not create profiles watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.profilesDir); err != nil {
		d.logger.Error("could not watch profiles directory", "error", err, "dir", d.profilesDir)
		return
	}
	d.logger.Info("hot-reload watcher started", "dir", d.profilesDir)

	var debounceTimer *time.Timer
	debounceCh := make(chan struct{}, 1)

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			ext := filepath.Ext(ev.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(time.Second, func() {
				select {
				case debounceCh <- struct{}{}:
				default:
				}
			})

		case <-debounceCh:
			d.reloadProfiles()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("profiles watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

func (d *Daemon) reloadProfiles() {
	d.mu.Lock()
	running := d.mon != nil && d.mon.State() == monitor.Running
	if running {
		d.pendingReload = true
	}
	d.mu.Unlock()

	if running {
		d.logger.Info("profile change detected during a run, reload queued")
		return
	}

	if err := security.ValidateDirectoryPermissions(d.profilesDir); err != nil {
		d.logger.Error("CRITICAL: profiles directory has unsafe permissions during reload", "error", err)
		return
	}

	d.logger.Info("reloading profiles (hot-reload)")
	if err := d.loadProfiles(); err != nil {
		d.logger.Error("failed to reload profiles", "error", err)
		return
	}

	d.mu.RLock()
	loaded := len(d.profiles)
	d.mu.RUnlock()
	d.logger.Info("profiles reloaded", "profiles_loaded", loaded)
}

func (d *Daemon) shutdown() error {
	d.mu.RLock()
	mon, done := d.mon, d.monDone
	d.mu.RUnlock()

	if mon != nil && mon.State() == monitor.Running {
		mon.Stop("daemon_shutdown")
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			d.logger.Warn("monitor loop did not exit in time")
		}
	}

	if d.auto != nil {
		d.auto.Close()
	}
	if d.capture != nil {
		d.capture.Close()
	}
	if d.stateDB != nil {
		d.stateDB.Close()
	}
	return nil
}

// startHTTPServer serves the health, API, and control endpoints.
func (d *Daemon) startHTTPServer(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", d.config.Daemon.ListenAddress, d.config.Daemon.ListenPort)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", rateLimitHandler(60, d.handleHealth))
	mux.HandleFunc("GET /api/profiles", rateLimitHandler(30, d.handleAPIProfiles))
	mux.HandleFunc("GET /api/history", rateLimitHandler(30, d.handleAPIHistory))
	mux.HandleFunc("GET /api/events", rateLimitHandler(30, d.handleAPIEvents))
	mux.HandleFunc("POST /api/profiles/{id}/start", rateLimitHandler(10, d.handleAPIStart))
	mux.HandleFunc("POST /api/profiles/{id}/stop", rateLimitHandler(10, d.handleAPIStop))
	mux.HandleFunc("POST /api/panic", rateLimitHandler(60, d.handleAPIPanic))

	d.httpServer = &http.Server{Addr: addr, Handler: mux}
	d.logger.Info("starting HTTP server", "address", addr)

	go func() {
		if err := d.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			d.logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.httpServer.Shutdown(shutdownCtx)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := d.Status()
	resp["status"] = "ok"
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (d *Daemon) handleAPIProfiles(w http.ResponseWriter, r *http.Request) {
	type profileStatus struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Enabled     bool   `json:"enabled"`
		State       string `json:"state,omitempty"`
	}

	d.mu.RLock()
	var out []profileStatus
	for _, p := range d.profiles {
		ps := profileStatus{ID: p.ID, Name: p.Name, Description: p.Description, Enabled: p.Enabled}
		if d.mon != nil && d.monProfile == p.ID {
			ps.State = string(d.mon.State())
		}
		out = append(out, ps)
	}
	d.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (d *Daemon) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	if limit > 500 {
		limit = 500
	}

	records, err := d.History(r.URL.Query().Get("profile"), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("querying history: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (d *Daemon) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")
	if runID == "" {
		http.Error(w, "run query parameter required", http.StatusBadRequest)
		return
	}
	limit := 500
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	records, err := d.Events(runID, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("querying events: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (d *Daemon) handleAPIStart(w http.ResponseWriter, r *http.Request) {
	if err := d.StartProfile(r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("started"))
}

func (d *Daemon) handleAPIStop(w http.ResponseWriter, r *http.Request) {
	if err := d.StopProfile(r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Write([]byte("stopped"))
}

func (d *Daemon) handleAPIPanic(w http.ResponseWriter, r *http.Request) {
	d.PanicStop()
	w.Write([]byte("panic stop issued"))
}

// rateLimitHandler wraps a handler with a token-bucket limiter.
func rateLimitHandler(requestsPerMinute int, handler http.HandlerFunc) http.HandlerFunc {
	var mu sync.Mutex
	tokens := requestsPerMinute
	lastRefill := time.Now()

	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		now := time.Now()
		refill := int(now.Sub(lastRefill).Minutes() * float64(requestsPerMinute))
		if refill > 0 {
			tokens += refill
			if tokens > requestsPerMinute {
				tokens = requestsPerMinute
			}
			lastRefill = now
		}
		if tokens <= 0 {
			mu.Unlock()
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		tokens--
		mu.Unlock()

		handler(w, r)
	}
}
