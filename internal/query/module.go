package query

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/internal/plugin"
	pkgplugin "github.com/HerbHall/hostscout/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin           = (*Module)(nil)
	_ pkgplugin.HTTPProvider  = (*Module)(nil)
	_ pkgplugin.HealthChecker = (*Module)(nil)
	_ pkgplugin.Validator     = (*Module)(nil)
)

const (
	defaultLimit = 1000
	maxLimit     = 10000
)

// Module exposes the query service over HTTP under /api/v1/query.
type Module struct {
	svc          *Service
	logger       *zap.Logger
	defaultLimit int
	maxLimit     int
}

// New creates the query module over r.
func New(r Reader) *Module {
	return &Module{
		svc:          NewService(r),
		logger:       zap.NewNop(),
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

func (m *Module) Name() string    { return "query" }
func (m *Module) Version() string { return "1.0.0" }

// Init reads modules.query.default_limit and modules.query.max_limit.
func (m *Module) Init(config *viper.Viper, logger *zap.Logger) error {
	m.logger = logger
	if config.IsSet("default_limit") {
		m.defaultLimit = config.GetInt("default_limit")
	}
	if config.IsSet("max_limit") {
		m.maxLimit = config.GetInt("max_limit")
	}
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	if m.defaultLimit <= 0 || m.maxLimit <= 0 {
		return fmt.Errorf("query limits must be positive")
	}
	if m.defaultLimit > m.maxLimit {
		return fmt.Errorf("default_limit %d exceeds max_limit %d", m.defaultLimit, m.maxLimit)
	}
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }
func (m *Module) Stop() error                    { return nil }

// Health reports whether the store answers a stats query.
func (m *Module) Health(ctx context.Context) pkgplugin.HealthStatus {
	st, err := m.svc.Stats(ctx)
	if err != nil {
		return pkgplugin.HealthStatus{Status: pkgplugin.StatusUnhealthy, Message: err.Error()}
	}
	return pkgplugin.HealthStatus{
		Status: pkgplugin.StatusHealthy,
		Details: map[string]string{
			"batches": fmt.Sprint(st.Batches),
		},
	}
}

// Service returns the facade the module serves.
func (m *Module) Service() *Service {
	return m.svc
}
