package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/internal/scout"
)

func runAgent(args []string) error {
	var cf commonFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addCommonFlags(fs, &cf)
	fs.Duration("interval", 0, "sampling interval (overrides agent.interval)")
	fs.Duration("jitter", 0, "upper bound of the random delay added to each interval")
	fs.String("addr", "", "HTTP listen address (overrides server.addr)")
	fs.Bool("serve", true, "serve the read-only HTTP API")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loaded, cfg, err := loadConfig(fs, &cf)
	if err != nil {
		return err
	}
	logger, err := newLogger(&cf)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if f := loaded.ConfigFile(); f != "" {
		logger.Info("configuration loaded", zap.String("file", f))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := scout.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := agent.Run(ctx, loaded.Viper())
	if err := agent.Close(); err != nil {
		logger.Error("close agent", zap.Error(err))
	}
	return runErr
}
