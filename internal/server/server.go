// Package server is the read-only HTTP surface: health, the module list,
// prometheus metrics and every module route under /api/v1/{module}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/HerbHall/hostscout/internal/plugin"
	"github.com/HerbHall/hostscout/internal/version"
	pkgplugin "github.com/HerbHall/hostscout/pkg/plugin"
)

// DefaultAddr keeps the listener on loopback.
const DefaultAddr = "127.0.0.1:9465"

// Config controls the listener.
type Config struct {
	Addr string

	// MaxConns caps concurrent connections. Zero means 16.
	MaxConns int

	// RateLimit is the sustained requests per second across all clients.
	// Zero disables limiting.
	RateLimit float64
	Burst     int
}

// Server is the hostscout HTTP server.
type Server struct {
	cfg        Config
	httpServer *http.Server
	registry   *plugin.Registry
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	mux        *http.ServeMux
	limiter    *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new Server. A nil gatherer serves the default prometheus
// registry.
func New(cfg Config, reg *plugin.Registry, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 16
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()

	s := &Server{
		cfg:      cfg,
		registry: reg,
		gatherer: gatherer,
		logger:   logger,
		mux:      mux,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()

	return s
}

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	allRoutes := s.registry.AllRoutes()
	for pluginName, routes := range allRoutes {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Handler returns the root handler, rate limited when configured.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			RateLimited(w, "request rate limit exceeded", r.URL.Path)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

// Listen binds the configured address. The listener accepts at most
// MaxConns connections at a time.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = netutil.LimitListener(ln, s.cfg.MaxConns)
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Start binds the listener if needed and serves until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.listener
		s.mu.Unlock()
	}

	s.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_conns", s.cfg.MaxConns),
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status  string                            `json:"status"`
	Service string                            `json:"service"`
	Version map[string]string                 `json:"version"`
	Modules map[string]pkgplugin.HealthStatus `json:"modules"`
}

// handleHealth aggregates module health. Any unhealthy module turns the
// response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	modules := s.registry.Health(r.Context())
	status := "ok"
	for _, h := range modules {
		switch h.Status {
		case pkgplugin.StatusUnhealthy:
			status = pkgplugin.StatusUnhealthy
		case pkgplugin.StatusDegraded:
			if status == "ok" {
				status = pkgplugin.StatusDegraded
			}
		}
	}
	code := http.StatusOK
	if status == pkgplugin.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Hostscout-Version", version.Short())
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:  status,
		Service: "hostscout",
		Version: version.Map(),
		Modules: modules,
	})
}

// handlePlugins returns the list of registered modules.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.registry.All()
	type pluginResponse struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		info = append(info, pluginResponse{Name: p.Name(), Version: p.Version()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Hostscout-Version", version.Short())
	_ = json.NewEncoder(w).Encode(info)
}
