package main

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/internal/config"
	"github.com/HerbHall/hostscout/internal/scout"
)

// commonFlags are accepted by every command that reads the config.
type commonFlags struct {
	configPath string
	logLevel   string
	logDev     bool
}

func addCommonFlags(fs *pflag.FlagSet, cf *commonFlags) {
	fs.StringVarP(&cf.configPath, "config", "c", "", "path to hostscout.yaml")
	fs.String("data-dir", "", "data directory (overrides data_dir)")
	fs.StringVar(&cf.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&cf.logDev, "log-dev", false, "human-readable development logs")
}

// flagKeys maps config keys to the flags that override them. Commands only
// bind the flags they define.
var flagKeys = map[string]string{
	"data_dir":       "data-dir",
	"agent.interval": "interval",
	"agent.jitter":   "jitter",
	"server.addr":    "addr",
	"server.enabled": "serve",
}

func loadConfig(fs *pflag.FlagSet, cf *commonFlags) (*config.Config, *scout.Config, error) {
	keys := make(map[string]string)
	for key, name := range flagKeys {
		if fs.Lookup(name) != nil {
			keys[key] = name
		}
	}
	loaded, err := config.Load(config.LoadOptions{
		Path:     cf.configPath,
		Flags:    fs,
		FlagKeys: keys,
		Defaults: scout.SetDefaults,
	})
	if err != nil {
		return nil, nil, err
	}
	cfg, err := scout.LoadConfig(loaded.Viper())
	if err != nil {
		return nil, nil, err
	}
	return loaded, cfg, nil
}

func newLogger(cf *commonFlags) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cf.logLevel)
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cf.logDev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
