package scout

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/internal/plugin"
	"github.com/HerbHall/hostscout/internal/scout/metrics"
	"github.com/HerbHall/hostscout/internal/scout/scheduler"
	pkgplugin "github.com/HerbHall/hostscout/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin           = (*Sampler)(nil)
	_ pkgplugin.HealthChecker = (*Sampler)(nil)
)

// Sampler is the module that runs the collection loop.
type Sampler struct {
	inst      *Instance
	collector metrics.Collector
	sched     *scheduler.Scheduler
	logger    *zap.Logger
}

// NewSampler returns the sampler module. A nil collector means the host
// collector built from the agent config at Init.
func NewSampler(inst *Instance, c metrics.Collector) *Sampler {
	return &Sampler{inst: inst, collector: c, logger: zap.NewNop()}
}

func (s *Sampler) Name() string    { return "sampler" }
func (s *Sampler) Version() string { return "1.0.0" }

func (s *Sampler) Init(_ *viper.Viper, logger *zap.Logger) error {
	s.logger = logger
	cfg := s.inst.Config.Agent

	if s.collector == nil {
		c, err := metrics.NewCollector(metrics.Config{
			Kinds:    s.inst.Config.MetricKinds(),
			Timeout:  orInterval(cfg.CollectTimeout, cfg.Interval),
			DiskPath: cfg.DiskPath,
			Clock:    s.inst.Clock,
		}, logger.Named("sensor"))
		if err != nil {
			return fmt.Errorf("build collector: %w", err)
		}
		s.collector = c
		logger.Info("collecting metric kinds", zap.Stringers("kinds", c.Kinds()))
	}

	s.sched = scheduler.New(scheduler.Config{
		CollectTimeout: cfg.CollectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, s.collector, s.inst.Store, s.inst.Clock, s.inst.Metrics, logger)
	return nil
}

func (s *Sampler) Start(_ context.Context) error {
	cfg := s.inst.Config.Agent
	return s.sched.Start(cfg.Interval, cfg.Jitter)
}

func (s *Sampler) Stop() error {
	if s.sched != nil {
		s.sched.Stop()
	}
	return nil
}

// Health reports whether the loop is running.
func (s *Sampler) Health(_ context.Context) pkgplugin.HealthStatus {
	if s.sched == nil || !s.sched.Running() {
		return pkgplugin.HealthStatus{Status: pkgplugin.StatusUnhealthy, Message: "sampler not running"}
	}
	return pkgplugin.HealthStatus{
		Status: pkgplugin.StatusHealthy,
		Details: map[string]string{
			"interval": s.inst.Config.Agent.Interval.String(),
		},
	}
}

func orInterval(d, interval time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return interval
}
