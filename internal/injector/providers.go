// Package injector assembles a Runtime from a config.Config.
package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/framecore/internal/core/config"
	"github.com/zeusync/framecore/internal/core/events"
	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/core/physics"
	"github.com/zeusync/framecore/internal/core/sim"
	"github.com/zeusync/framecore/internal/debugfeed"
)

// Runtime is everything the demo driver needs.
type Runtime struct {
	Logger     *log.Logger
	Bus        *events.Bus
	Physics    *physics.Bridge
	Simulation *sim.Simulation
	Feed       *debugfeed.Feed
}

var RuntimeSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideBus,
	ProvidePhysics,
	ProvideSimulation,
	ProvideFeed,
	wire.Struct(new(Runtime), "*"),
)

func ProvideLogger(cfg config.Config) *log.Logger {
	return log.New(cfg.Log.ParsedLevel())
}

func ProvideBus() *events.Bus {
	return events.New()
}

func ProvidePhysics(cfg config.Config, logger log.Log) *physics.Bridge {
	opts := []physics.Option{physics.WithLogger(logger)}
	if cfg.Driver.Iterations > 0 {
		opts = append(opts, physics.WithIterations(cfg.Driver.Iterations))
	}
	return physics.NewBridge(cfg.Driver.Gravity(), opts...)
}

func ProvideSimulation(cfg config.Config, logger log.Log, bus *events.Bus, bridge *physics.Bridge) (*sim.Simulation, error) {
	return sim.New(cfg,
		sim.WithLogger(logger),
		sim.WithBus(bus),
		sim.WithPhysics(bridge),
	)
}

func ProvideFeed(cfg config.Config, logger log.Log) *debugfeed.Feed {
	return debugfeed.New(
		debugfeed.WithLogger(logger.With(log.String("scope", "debugfeed"))),
		debugfeed.WithToken(cfg.Driver.DebugToken),
	)
}
