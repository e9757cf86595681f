package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/framecore/internal/core/behavior"
	"github.com/zeusync/framecore/internal/core/collision"
	"github.com/zeusync/framecore/internal/core/config"
	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/events"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/injector"
)

const bounce = `
if x < 40 || x > width - 40 { vx = -vx }
if y < 40 || y > height - 40 { vy = -vy }
`

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	frames := flag.Uint64("frames", 0, "stop after n frames (0 uses driver.max_frames, then runs until interrupted)")
	watch := flag.Bool("watch", false, "reload the log level when the config file changes")
	feedAddr := flag.String("feed", "", "serve the websocket debug feed on addr (overrides driver.debug_feed)")
	flag.Parse()

	if err := run(*configPath, *frames, *watch, *feedAddr); err != nil {
		fmt.Fprintln(os.Stderr, "simdemo:", err)
		os.Exit(1)
	}
}

func run(configPath string, frames uint64, watch bool, feedAddr string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if frames == 0 {
		frames = cfg.Driver.MaxFrames
	}
	if feedAddr == "" {
		feedAddr = cfg.Driver.DebugFeed
	}

	rt, err := injector.InitializeRuntime(cfg)
	if err != nil {
		return err
	}
	logger := rt.Logger
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopCh)
	go func() {
		select {
		case sig := <-stopCh:
			logger.Info("shutting down", log.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	if watch && configPath != "" {
		w, err := config.Watch(configPath, func(next config.Config, err error) {
			if err != nil {
				logger.Warn("config reload failed", log.Error(err))
				return
			}
			logger.SetLevel(next.Log.ParsedLevel())
			logger.Info("config reloaded", log.String("level", next.Log.Level))
		})
		if err != nil {
			return err
		}
		defer w.Close()
	}

	if feedAddr != "" {
		if _, err := rt.Feed.Attach(rt.Simulation); err != nil {
			return err
		}
		go func() {
			if err := rt.Feed.Serve(ctx, feedAddr); err != nil {
				logger.Error("debug feed stopped", log.Error(err))
			}
		}()
	}

	var collisions uint64
	if _, err := rt.Bus.Subscribe(events.KindCollision, func(events.Event) error {
		collisions++
		return nil
	}); err != nil {
		return err
	}

	if err := populate(rt, cfg); err != nil {
		return err
	}
	logger.Info("simulation started",
		log.Int("entities", rt.Simulation.Len()),
		log.Uint64("frames", frames),
		log.Duration("tick", cfg.Driver.Tick()))

	start := time.Now()
	err = rt.Simulation.Run(ctx, cfg.Driver.Tick(), frames)
	logger.Info("simulation stopped",
		log.Frame(rt.Simulation.Frame().Number),
		log.Uint64("collisions", collisions),
		log.Duration("elapsed", time.Since(start)))
	cancel()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// populate spawns the walls, a few bouncing movers, a scripted mover and a
// falling ball.
func populate(rt *injector.Runtime, cfg config.Config) error {
	s := rt.Simulation
	w, h := cfg.World.Width, cfg.World.Height
	approx, err := cfg.Collision.Approx()
	if err != nil {
		return err
	}

	walls := []geom.Rect{
		geom.R(0, 0, w, 10),
		geom.R(0, h-10, w, h),
		geom.R(0, 0, 10, h),
		geom.R(w-10, 0, w, h),
	}
	for i, r := range walls {
		wall := entity.New(entity.WithName(fmt.Sprintf("wall-%d", i)), entity.WithLogger(rt.Logger))
		if _, err := rt.Physics.AddStaticBox(wall, r); err != nil {
			return err
		}
		if err := s.Spawn(wall); err != nil {
			return err
		}
	}

	hit := func(ev collision.Event) collision.Signal {
		if !ev.Interested() {
			return collision.Continue
		}
		s.Logger().Debug("collision",
			log.EntityID(ev.Host.ID()), log.Uint64("target", ev.Target.ID()), log.Frame(s.Frame().Number))
		return collision.Stop
	}
	viewport := geom.R(0, 0, w, h)

	for i := 0; i < 4; i++ {
		at := geom.V(w*float64(i+1)/5, h/2)
		mover := entity.New(
			entity.WithName(fmt.Sprintf("mover-%d", i)),
			entity.WithPosition(at),
			entity.WithBody(collision.Circle{Radius: 8}),
			entity.WithLogger(rt.Logger),
		)
		mover.MustAttach(
			behavior.NewMover("move", geom.V(float64(30*(i+1)), float64(20*(2-i)))),
			behavior.NewGridSync("grid"),
			collision.New("collide", collision.HandlerFunc(hit),
				collision.WithMask(cfg.Collision.Mask()),
				collision.WithApproximation(approx),
				collision.WithPublisher(rt.Bus)),
			behavior.NewCuller("cull", viewport),
		)
		if err := s.Spawn(mover); err != nil {
			return err
		}
	}

	script, err := behavior.NewScript("bounce", []byte(fmt.Sprintf("width := %g\nheight := %g\n%s", w, h, bounce)))
	if err != nil {
		return err
	}
	scripted := entity.New(
		entity.WithName("scripted"),
		entity.WithPosition(geom.V(w/2, h/3)),
		entity.WithBody(collision.Box{Width: 12, Height: 12}),
		entity.WithLogger(rt.Logger),
	).MustAttach(
		behavior.NewMover("move", geom.V(-45, 35)),
		behavior.NewGridSync("grid"),
		script,
		collision.New("collide", collision.HandlerFunc(hit), collision.WithPublisher(rt.Bus)),
	)
	if err := s.Spawn(scripted); err != nil {
		return err
	}

	ball := entity.New(entity.WithName("ball"), entity.WithPosition(geom.V(w/3, h/4)), entity.WithLogger(rt.Logger))
	if _, err := rt.Physics.AddCircle(ball, 1, 10); err != nil {
		return err
	}
	ball.MustAttach(behavior.NewGridSync("grid"))
	return s.Spawn(ball)
}
