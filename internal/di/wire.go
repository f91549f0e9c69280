//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"MarketSync/pkg/config"
	"MarketSync/pkg/server"
)

var engineSet = wire.NewSet(
	ProvideResources,
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,

	// Infrastructure clients
	ProvideRedisClient,
	ProvideStore,
	ProvideCursorStore,
	ProvideResponseCache,
	ProvidePublisher,

	// Market data access
	ProvideRateLimiter,
	ProvideMarketAPI,
	ProvideCalendar,
	ProvideFetcher,

	ProvideEngine,
)

// InitializeApp wires the long-running service.
func InitializeApp(ctx context.Context, cfg *config.Config) (*server.App, error) {
	wire.Build(
		engineSet,
		ProvideQueue,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeRuntime wires the engine alone for one-shot commands.
func InitializeRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	wire.Build(
		engineSet,
		wire.Struct(new(Runtime), "*"),
	)
	return &Runtime{}, nil
}
