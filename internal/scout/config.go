package scout

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/hostscout/internal/vault"
	"github.com/HerbHall/hostscout/pkg/models"
)

// Config holds the agent configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Agent     SamplerConfig   `mapstructure:"agent"`
	Retention RetentionConfig `mapstructure:"retention"`
	Store     StoreConfig     `mapstructure:"store"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Server    ServerConfig    `mapstructure:"server"`
}

// SamplerConfig controls the collection loop.
type SamplerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Jitter         time.Duration `mapstructure:"jitter"`
	CollectTimeout time.Duration `mapstructure:"collect_timeout"` // 0 = interval
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`   // 0 = interval
	Kinds          []string      `mapstructure:"kinds"`           // empty = all
	DiskPath       string        `mapstructure:"disk_path"`
}

// RetentionConfig bounds stored history and sets how often it is enforced.
type RetentionConfig struct {
	MaxAge     time.Duration `mapstructure:"max_age"`
	MaxSamples int64         `mapstructure:"max_samples"`
	MaxBytes   int64         `mapstructure:"max_bytes"`
	Interval   time.Duration `mapstructure:"interval"`
}

// Policy returns the bounds as a models.RetentionPolicy.
func (r RetentionConfig) Policy() models.RetentionPolicy {
	return models.RetentionPolicy{MaxAge: r.MaxAge, MaxSamples: r.MaxSamples, MaxBytes: r.MaxBytes}
}

// StoreConfig controls the time-series store.
type StoreConfig struct {
	EncryptSamples bool `mapstructure:"encrypt_samples"`
	ReadConns      int  `mapstructure:"read_conns"`
}

// VaultConfig controls the secret vault.
type VaultConfig struct {
	Scheme string `mapstructure:"scheme"` // auto | native | fallback
}

// ServerConfig controls the read-only HTTP listener.
type ServerConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Addr      string  `mapstructure:"addr"`
	MaxConns  int     `mapstructure:"max_conns"`
	RateLimit float64 `mapstructure:"rate_limit"` // requests/s, 0 = unlimited
	Burst     int     `mapstructure:"burst"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Agent: SamplerConfig{
			Interval: 10 * time.Second,
		},
		Retention: RetentionConfig{
			MaxAge:   7 * 24 * time.Hour,
			Interval: time.Minute,
		},
		Vault: VaultConfig{
			Scheme: "auto",
		},
		Server: ServerConfig{
			Enabled:  true,
			Addr:     "127.0.0.1:9465",
			MaxConns: 16,
		},
	}
}

// SetDefaults registers every default on v so that env vars and
// Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("agent.interval", d.Agent.Interval)
	v.SetDefault("agent.jitter", d.Agent.Jitter)
	v.SetDefault("agent.collect_timeout", d.Agent.CollectTimeout)
	v.SetDefault("agent.write_timeout", d.Agent.WriteTimeout)
	v.SetDefault("agent.kinds", []string{})
	v.SetDefault("agent.disk_path", "")
	v.SetDefault("retention.max_age", d.Retention.MaxAge)
	v.SetDefault("retention.max_samples", d.Retention.MaxSamples)
	v.SetDefault("retention.max_bytes", d.Retention.MaxBytes)
	v.SetDefault("retention.interval", d.Retention.Interval)
	v.SetDefault("store.encrypt_samples", d.Store.EncryptSamples)
	v.SetDefault("store.read_conns", d.Store.ReadConns)
	v.SetDefault("vault.scheme", d.Vault.Scheme)
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.max_conns", d.Server.MaxConns)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.burst", d.Server.Burst)
}

// LoadConfig decodes v on top of DefaultConfig and validates the result.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if v != nil {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.Agent.Interval <= 0 {
		errs = append(errs, fmt.Errorf("agent.interval must be positive, got %s", c.Agent.Interval))
	}
	if c.Agent.Jitter < 0 || c.Agent.Jitter > c.Agent.Interval {
		errs = append(errs, fmt.Errorf("agent.jitter must be within [0, agent.interval], got %s", c.Agent.Jitter))
	}
	if c.Agent.CollectTimeout < 0 || c.Agent.WriteTimeout < 0 {
		errs = append(errs, errors.New("agent timeouts must not be negative"))
	}
	if _, err := models.ParseMetricKinds(c.Agent.Kinds); err != nil {
		errs = append(errs, fmt.Errorf("agent.kinds: %w", err))
	}
	if err := c.Retention.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}
	if c.Retention.Interval <= 0 {
		errs = append(errs, fmt.Errorf("retention.interval must be positive, got %s", c.Retention.Interval))
	}
	if c.Store.ReadConns < 0 {
		errs = append(errs, errors.New("store.read_conns must not be negative"))
	}
	if _, err := vault.ParsePreference(c.Vault.Scheme); err != nil {
		errs = append(errs, fmt.Errorf("vault.scheme: %w", err))
	}
	if c.Server.Enabled {
		if c.Server.Addr == "" {
			errs = append(errs, errors.New("server.addr must not be empty when the server is enabled"))
		}
		if c.Server.MaxConns <= 0 {
			errs = append(errs, errors.New("server.max_conns must be positive"))
		}
		if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
			errs = append(errs, errors.New("server.rate_limit and server.burst must not be negative"))
		}
	}
	return errors.Join(errs...)
}

// MetricKinds returns the configured kinds, parsed.
func (c *Config) MetricKinds() []models.MetricKind {
	kinds, err := models.ParseMetricKinds(c.Agent.Kinds)
	if err != nil {
		return nil
	}
	return kinds
}
