// Package scout assembles the telemetry agent: it owns the data directory,
// opens the vault and the store, and runs the sampler, retention and query
// modules through the plugin registry.
package scout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/internal/clock"
	"github.com/HerbHall/hostscout/internal/observability"
	"github.com/HerbHall/hostscout/internal/plugin"
	"github.com/HerbHall/hostscout/internal/query"
	"github.com/HerbHall/hostscout/internal/scout/metrics"
	"github.com/HerbHall/hostscout/internal/server"
	"github.com/HerbHall/hostscout/internal/store"
	"github.com/HerbHall/hostscout/internal/vault"
	"github.com/HerbHall/hostscout/internal/version"
)

// Files inside the data directory.
const (
	DatabaseFile = "telemetry.db"
	LockFile     = ".lock"
)

// ErrDataDirLocked is returned by Open when another agent holds the data
// directory.
var ErrDataDirLocked = errors.New("data directory is locked by another hostscout process")

// Instance is the context handed to every module: identity, paths and the
// shared services. Nothing in it is global.
type Instance struct {
	ID       string
	DataDir  string
	Config   *Config
	Logger   *zap.Logger
	Clock    clock.Clock
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Store    *store.SQLiteStore

	// Vault is nil when no scheme could be opened and samples are not
	// encrypted.
	Vault *vault.Vault
}

// Option customizes Open.
type Option func(*options)

type options struct {
	clock     clock.Clock
	collector metrics.Collector
}

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCollector replaces the gopsutil collector.
func WithCollector(c metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// Agent is the hostscout telemetry agent.
type Agent struct {
	inst    *Instance
	plugins *plugin.Registry
	lock    *flock.Flock

	mu      sync.Mutex
	srv     *server.Server
	srvErr  chan error
	started bool
}

// Open locks the data directory and opens the vault and the store. The
// modules are registered but not started.
func Open(ctx context.Context, cfg *Config, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock, err := LockDataDir(dataDir)
	if err != nil {
		return nil, err
	}
	a := &Agent{lock: lock}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	inst := &Instance{
		DataDir:  dataDir,
		Config:   cfg,
		Logger:   logger,
		Clock:    o.clock,
		Registry: reg,
		Metrics:  observability.New(reg),
	}
	a.inst = inst

	v, err := vault.Open(vault.Config{DataDir: dataDir, Scheme: cfg.Vault.Scheme, Logger: logger.Named("vault")})
	switch {
	case err == nil:
		inst.Vault = v
	case cfg.Store.EncryptSamples:
		return nil, fmt.Errorf("sample encryption needs the vault: %w", err)
	default:
		logger.Warn("vault unavailable, secrets cannot be read", zap.Error(err))
	}

	storeCfg := store.Config{
		Path:      filepath.Join(dataDir, DatabaseFile),
		ReadConns: cfg.Store.ReadConns,
		Clock:     o.clock,
		Metrics:   inst.Metrics,
		Logger:    logger.Named("store"),
	}
	if cfg.Store.EncryptSamples {
		storeCfg.Sealer = vault.SampleSealer{V: inst.Vault}
	}
	st, err := store.Open(ctx, storeCfg)
	if err != nil {
		return nil, err
	}
	inst.Store = st
	inst.ID = st.AgentID()

	a.plugins = plugin.NewRegistry(logger)
	modules := []plugin.Plugin{
		NewSampler(inst, o.collector),
		NewRetention(inst),
		query.New(st),
	}
	for _, m := range modules {
		if err := a.plugins.Register(m); err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

// LockDataDir takes the exclusive data directory lock without blocking.
func LockDataDir(dataDir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dataDir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDataDirLocked, dataDir)
	}
	return lock, nil
}

// Instance returns the shared context.
func (a *Agent) Instance() *Instance { return a.inst }

// Plugins returns the module registry.
func (a *Agent) Plugins() *plugin.Registry { return a.plugins }

// Start initializes and starts every module, then the HTTP server when it
// is enabled. modules carries the modules.<name> overrides; nil is fine.
func (a *Agent) Start(ctx context.Context, modules *viper.Viper) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("agent already started")
	}
	if modules == nil {
		modules = viper.New()
	}

	a.inst.Logger.Info("hostscout agent starting",
		append(version.Fields(),
			zap.String("agent_id", a.inst.ID),
			zap.String("data_dir", a.inst.DataDir),
			zap.Duration("interval", a.inst.Config.Agent.Interval),
		)...,
	)

	if err := a.plugins.InitAll(modules); err != nil {
		return err
	}
	if err := a.plugins.StartAll(ctx); err != nil {
		return err
	}

	if sc := a.inst.Config.Server; sc.Enabled {
		srv := server.New(server.Config{
			Addr:      sc.Addr,
			MaxConns:  sc.MaxConns,
			RateLimit: sc.RateLimit,
			Burst:     sc.Burst,
		}, a.plugins, a.inst.Registry, a.inst.Logger.Named("http"))
		if err := srv.Listen(); err != nil {
			a.plugins.StopAll()
			return err
		}
		a.srv = srv
		a.srvErr = make(chan error, 1)
		go func() { a.srvErr <- srv.Start() }()
	}

	a.started = true
	return nil
}

// ServerAddr returns the HTTP listen address, or "" when the server is off.
func (a *Agent) ServerAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.srv == nil {
		return ""
	}
	return a.srv.Addr()
}

// Run starts the agent and blocks until ctx is cancelled or the HTTP
// server fails, then stops it.
func (a *Agent) Run(ctx context.Context, modules *viper.Viper) error {
	if err := a.Start(ctx, modules); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.inst.Logger.Info("hostscout agent shutting down")
	case runErr = <-a.serverErr():
		if runErr != nil {
			a.inst.Logger.Error("HTTP server failed", zap.Error(runErr))
		}
	}
	a.Stop()
	return runErr
}

func (a *Agent) serverErr() <-chan error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.srvErr // nil when the server is disabled, which blocks forever
}

// Stop shuts the HTTP server down and stops the modules in reverse order,
// waiting for the in-flight tick and retention pass.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}
	a.started = false

	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.srv.Shutdown(ctx); err != nil {
			a.inst.Logger.Error("server shutdown error", zap.Error(err))
		}
		cancel()
		a.srv = nil
	}
	a.plugins.StopAll()
	a.inst.Logger.Info("hostscout agent stopped")
}

// Close stops the agent if needed, closes the store and releases the data
// directory lock.
func (a *Agent) Close() error {
	var errs []error
	if a.inst != nil {
		a.Stop()
		if a.inst.Store != nil {
			if err := a.inst.Store.Checkpoint(context.Background()); err != nil {
				errs = append(errs, err)
			}
			errs = append(errs, a.inst.Store.Close())
		}
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
	}
	return errors.Join(errs...)
}
