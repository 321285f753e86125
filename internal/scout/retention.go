package scout

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/internal/plugin"
	"github.com/HerbHall/hostscout/internal/store"
	pkgplugin "github.com/HerbHall/hostscout/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin           = (*Retention)(nil)
	_ pkgplugin.HealthChecker = (*Retention)(nil)
)

// Retention is the module that evicts old batches in the background.
type Retention struct {
	inst     *Instance
	retainer *store.Retainer
	logger   *zap.Logger
}

// NewRetention returns the retention module.
func NewRetention(inst *Instance) *Retention {
	return &Retention{inst: inst, logger: zap.NewNop()}
}

func (r *Retention) Name() string    { return "retention" }
func (r *Retention) Version() string { return "1.0.0" }

func (r *Retention) Init(_ *viper.Viper, logger *zap.Logger) error {
	r.logger = logger
	cfg := r.inst.Config.Retention
	ret, err := store.NewRetainer(r.inst.Store, cfg.Policy(), cfg.Interval, r.inst.Clock, r.inst.Metrics, logger)
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	r.retainer = ret
	logger.Info("retention policy",
		zap.Duration("max_age", cfg.MaxAge),
		zap.Int64("max_samples", cfg.MaxSamples),
		zap.Int64("max_bytes", cfg.MaxBytes),
		zap.Duration("interval", cfg.Interval),
	)
	return nil
}

func (r *Retention) Start(_ context.Context) error {
	return r.retainer.Start()
}

func (r *Retention) Stop() error {
	if r.retainer != nil {
		r.retainer.Stop()
	}
	return nil
}

// Health reports the store's own health, which includes its totals.
func (r *Retention) Health(ctx context.Context) pkgplugin.HealthStatus {
	return r.inst.Store.Health(ctx)
}
