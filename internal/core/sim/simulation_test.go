package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/framecore/internal/core/behavior"
	"github.com/zeusync/framecore/internal/core/collision"
	"github.com/zeusync/framecore/internal/core/config"
	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/events"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/core/physics"
	"github.com/zeusync/framecore/internal/core/spatial"
)

const frame = 100 * time.Millisecond

func newSim(t *testing.T, opts ...Option) *Simulation {
	t.Helper()
	cfg := config.Default()
	cfg.World = spatial.Config{Width: 400, Height: 400, Divisions: 4}
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s
}

func recorder(calls *[]string, fn behavior.ExecFunc) behavior.ExecFunc {
	return func(ctx entity.Context, host *entity.Entity, now time.Duration) bool {
		*calls = append(*calls, host.Name())
		if fn != nil {
			return fn(ctx, host, now)
		}
		return true
	}
}

func spawnNamed(t *testing.T, s *Simulation, calls *[]string, name string, fn behavior.ExecFunc) *entity.Entity {
	t.Helper()
	e := entity.New(entity.WithName(name)).
		MustAttach(behavior.NewFunc("record", entity.TypeLogic, entity.DefaultPriority, recorder(calls, fn)))
	require.NoError(t, s.Spawn(e))
	return e
}

func kinds(t *testing.T, bus *events.Bus, kind events.Kind) *[]events.Event {
	t.Helper()
	var got []events.Event
	_, err := bus.Subscribe(kind, func(ev events.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	return &got
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.World.Divisions = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestStepRunsInSpawnOrder(t *testing.T) {
	s := newSim(t)
	var calls []string
	for _, name := range []string{"c", "a", "b"} {
		spawnNamed(t, s, &calls, name, nil)
	}

	require.NoError(t, s.Step(context.Background(), frame))
	require.NoError(t, s.Step(context.Background(), frame))
	assert.Equal(t, []string{"c", "a", "b", "c", "a", "b"}, calls)
	assert.Equal(t, 3, s.Len())
}

func TestSpawnDuringStepIsDeferred(t *testing.T) {
	s := newSim(t)
	var calls []string
	late := entity.New(entity.WithName("late")).
		MustAttach(behavior.NewFunc("record", entity.TypeLogic, entity.DefaultPriority, recorder(&calls, nil)))

	spawnNamed(t, s, &calls, "first", func(ctx entity.Context, _ *entity.Entity, _ time.Duration) bool {
		if ctx.Frame().Number == 1 {
			require.NoError(t, s.Spawn(late))
			assert.ErrorIs(t, s.Spawn(late), ErrAlreadySpawned)
		}
		return true
	})
	spawnNamed(t, s, &calls, "second", nil)

	require.NoError(t, s.Step(context.Background(), frame))
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, 3, s.Len())

	calls = nil
	require.NoError(t, s.Step(context.Background(), frame))
	assert.Equal(t, []string{"first", "second", "late"}, calls)
}

func TestDespawnDuringStepIsDeferred(t *testing.T) {
	s := newSim(t)
	var calls []string
	var victim *entity.Entity
	spawnNamed(t, s, &calls, "killer", func(entity.Context, *entity.Entity, time.Duration) bool {
		assert.True(t, s.Despawn(victim))
		return true
	})
	victim = spawnNamed(t, s, &calls, "victim", nil)
	victim.SetBody(collision.Circle{Radius: 5})
	require.True(t, victim.Register(s.Grid()))

	despawned := kinds(t, s.Bus(), events.KindDespawn)
	require.NoError(t, s.Step(context.Background(), frame))

	assert.Equal(t, []string{"killer", "victim"}, calls, "victim still runs in the frame it was despawned")
	assert.Equal(t, 1, s.Len())
	assert.True(t, victim.Destroyed())
	assert.False(t, s.Grid().Registered(victim))
	require.Len(t, *despawned, 1)
	assert.Equal(t, victim.ID(), (*despawned)[0].Source)

	assert.False(t, s.Despawn(victim), "already gone")
}

func TestSelfDestroyedEntitiesAreReaped(t *testing.T) {
	s := newSim(t)
	var calls []string
	e := spawnNamed(t, s, &calls, "ephemeral", func(_ entity.Context, host *entity.Entity, _ time.Duration) bool {
		host.Destroy()
		return true
	})

	require.NoError(t, s.Step(context.Background(), frame))
	assert.Zero(t, s.Len())
	_, ok := s.Entity(e.ID())
	assert.False(t, ok)
}

func TestSpawnValidation(t *testing.T) {
	s := newSim(t)
	assert.ErrorIs(t, s.Spawn(nil), ErrNilEntity)

	e := entity.New()
	require.NoError(t, s.Spawn(e))
	assert.ErrorIs(t, s.Spawn(e), ErrAlreadySpawned)

	dead := entity.New()
	dead.Destroy()
	assert.ErrorIs(t, s.Spawn(dead), entity.ErrDestroyed)
}

func TestFailHaltsSimulation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := newSim(t, WithLogger(log.NewWithCore(core, log.LevelDebug)))
	faults := kinds(t, s.Bus(), events.KindFault)
	frames := kinds(t, s.Bus(), events.KindFrame)

	boom := errors.New("broken component")
	var calls []string
	spawnNamed(t, s, &calls, "ok", nil)
	spawnNamed(t, s, &calls, "bad", func(ctx entity.Context, _ *entity.Entity, _ time.Duration) bool {
		if ctx.Frame().Number == 2 {
			ctx.Fail(boom)
		}
		return true
	})
	spawnNamed(t, s, &calls, "after", nil)

	require.NoError(t, s.Step(context.Background(), frame))
	calls = nil

	err := s.Step(context.Background(), frame)
	assert.ErrorIs(t, err, ErrHalted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"ok", "bad"}, calls, "the rest of the frame is abandoned")
	assert.ErrorIs(t, s.Halted(), boom)
	require.Len(t, *faults, 1)
	assert.Equal(t, boom, (*faults)[0].Payload)
	assert.Len(t, *frames, 1, "an aborted frame is not published")
	assert.Equal(t, 1, logs.FilterMessage("frame aborted").Len())

	calls = nil
	assert.ErrorIs(t, s.Step(context.Background(), frame), ErrHalted)
	assert.Empty(t, calls)
}

func TestClockIsMonotonic(t *testing.T) {
	s := newSim(t)
	ctx := context.Background()

	require.NoError(t, s.Step(ctx, frame))
	require.NoError(t, s.Step(ctx, -time.Second))
	require.NoError(t, s.Step(ctx, 2*frame))

	f := s.Frame()
	assert.Equal(t, uint64(3), f.Number)
	assert.Equal(t, 3*frame, f.Time)
	assert.Equal(t, 2*frame, f.Delta)
	assert.Equal(t, 3*frame, s.Clock().Now())
}

func TestStepHonoursCancelledContext(t *testing.T) {
	s := newSim(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Step(ctx, frame), context.Canceled)
	assert.Zero(t, s.Frame().Number)
}

func TestRunStopsAfterFrames(t *testing.T) {
	s := newSim(t)
	var calls []string
	spawnNamed(t, s, &calls, "ticker", nil)

	require.NoError(t, s.Run(context.Background(), time.Millisecond, 3))
	assert.Equal(t, uint64(3), s.Frame().Number)
	assert.Equal(t, 3*time.Millisecond, s.Frame().Time)
	assert.Len(t, calls, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx, time.Millisecond, 0), context.DeadlineExceeded)
}

func TestGridScenarioAdjacentCell(t *testing.T) {
	s := newSim(t)
	a := entity.New(entity.WithName("a"), entity.WithPosition(geom.V(10, 10)), entity.WithBody(collision.Circle{Radius: 5}))
	b := entity.New(entity.WithName("b"), entity.WithPosition(geom.V(205, 205)), entity.WithBody(collision.Circle{Radius: 5}))
	require.NoError(t, s.Spawn(a))
	require.NoError(t, s.Spawn(b))

	pcl := s.Grid().Query(geom.V(10, 10))
	assert.Contains(t, pcl, spatial.Occupant(a))
	assert.NotContains(t, pcl, spatial.Occupant(b))

	b.SetPosition(geom.V(95, 95))
	require.True(t, b.Register(s.Grid()))
	assert.Contains(t, s.Grid().Query(geom.V(10, 10)), spatial.Occupant(b))
}

func TestCollisionsAcrossFrames(t *testing.T) {
	s := newSim(t)
	hits := kinds(t, s.Bus(), events.KindCollision)

	var seen []uint64
	handler := collision.HandlerFunc(func(ev collision.Event) collision.Signal {
		seen = append(seen, ev.Target.ID())
		return collision.Continue
	})

	mover := entity.New(entity.WithName("mover"), entity.WithPosition(geom.V(150, 150)), entity.WithBody(collision.Circle{Radius: 5})).
		MustAttach(
			behavior.NewMover("move", geom.V(50, 0)),
			behavior.NewGridSync("sync"),
			collision.New("collide", handler, collision.WithPublisher(s.Bus())),
		)
	wall := entity.New(entity.WithName("wall"), entity.WithPosition(geom.V(172, 150)), entity.WithBody(collision.Box{Width: 10, Height: 40}))
	require.NoError(t, s.Spawn(mover))
	require.NoError(t, s.Spawn(wall))

	// The collider is logic-type and runs before the transform-type mover, so
	// each frame tests the position reached by the previous one.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Step(ctx, frame))
	}
	assert.Empty(t, seen, "frame 3 tests x = 160, short of the wall face at x = 167")

	require.NoError(t, s.Step(ctx, frame))
	assert.Equal(t, []uint64{wall.ID()}, seen, "frame 4 tests x = 165 and touches the wall")
	require.Len(t, *hits, 1)
	assert.Equal(t, uint64(4), (*hits)[0].Frame)
	assert.Empty(t, s.Grid().DirtyNodes(), "dirty baselines are cleared after each frame")
}

func TestPhysicsDrivesEntities(t *testing.T) {
	bridge := physics.NewBridge(geom.V(0, 100))
	s := newSim(t, WithPhysics(bridge))

	ball := entity.New(entity.WithName("ball"), entity.WithPosition(geom.V(100, 100)))
	_, err := bridge.AddCircle(ball, 1, 5)
	require.NoError(t, err)
	require.NoError(t, s.Spawn(ball))

	// cp integrates position before velocity: the first step only picks up speed.
	require.NoError(t, s.Step(context.Background(), frame))
	assert.InDelta(t, 100.0, ball.Position().Y, 1e-9)
	require.NoError(t, s.Step(context.Background(), frame))
	assert.Greater(t, ball.Position().Y, 100.0, "gravity pulls the ball along +y")
	assert.True(t, s.Grid().Registered(ball))

	require.True(t, s.Despawn(ball))
	assert.Zero(t, bridge.Len())
	assert.False(t, s.Grid().Registered(ball))
}

func TestNeighbours(t *testing.T) {
	s := newSim(t)
	a := entity.New(entity.WithPosition(geom.V(10, 10)), entity.WithBody(collision.Circle{Radius: 5}))
	b := entity.New(entity.WithPosition(geom.V(95, 95)), entity.WithBody(collision.Circle{Radius: 5}))
	c := entity.New(entity.WithPosition(geom.V(305, 305)), entity.WithBody(collision.Circle{Radius: 5}))
	for _, e := range []*entity.Entity{a, b, c} {
		require.NoError(t, s.Spawn(e))
	}

	pcls, err := s.Neighbours(context.Background())
	require.NoError(t, err)
	require.Len(t, pcls, 3)
	assert.Len(t, pcls[0], 2)
	assert.Len(t, pcls[2], 1)
}

func TestScriptedEntityRuns(t *testing.T) {
	s := newSim(t)
	script, err := behavior.NewScript("drift", []byte("x = x + 1"))
	require.NoError(t, err)
	e := entity.New(entity.WithName("scripted"), entity.WithPosition(geom.V(10, 10))).MustAttach(script)
	require.NoError(t, s.Spawn(e))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Step(ctx, frame))
	}
	assert.NoError(t, s.Halted())
	assert.Equal(t, 13.0, e.Position().X)
}
