package plugin

import (
	"context"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	pkgplugin "github.com/HerbHall/hostscout/pkg/plugin"
)

// Route is re-exported so modules only import one plugin package.
type Route = pkgplugin.Route

// Plugin defines the lifecycle every hostscout module implements.
type Plugin interface {
	// Name returns the module's unique identifier (e.g., "sampler", "query").
	Name() string

	// Version returns the module's semantic version.
	Version() string

	// Init hands the module its config subtree and a named logger.
	Init(config *viper.Viper, logger *zap.Logger) error

	// Start begins the module's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the module and waits for in-flight work.
	Stop() error
}
