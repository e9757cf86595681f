package behavior

import (
	"fmt"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/observability/log"
)

// Globals every script can read; x, y, vx and vy are read back after the
// run. Names must not collide with tengo builtins such as time or len.
const (
	varNow   = "now"
	varDelta = "delta"
	varFrame = "frame"
	varX     = "x"
	varY     = "y"
	varVX    = "vx"
	varVY    = "vy"
)

var scriptModules = []string{"math", "rand", "text", "times"}

// Script is a logic component backed by a compiled tengo program. It runs
// once per frame with the host position and, when the host has a Mover, the
// mover velocity exposed as globals.
type Script struct {
	entity.Base
	compiled *tengo.Compiled
	mover    *Mover
	resolved bool
}

// NewScript compiles src. A compile error is a configuration error.
func NewScript(name string, src []byte) (*Script, error) {
	script := tengo.NewScript(src)
	for _, v := range []string{varNow, varDelta, varX, varY, varVX, varVY} {
		if err := script.Add(v, 0.0); err != nil {
			return nil, err
		}
	}
	if err := script.Add(varFrame, 0); err != nil {
		return nil, err
	}
	script.SetImports(stdlib.GetModuleMap(scriptModules...))

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile script %q: %w", name, err)
	}
	return &Script{Base: entity.NewBase(name, entity.TypeLogic, entity.DefaultPriority), compiled: compiled}, nil
}

// Clone returns an independent component sharing the compiled program.
func (s *Script) Clone(name string) *Script {
	return &Script{Base: entity.NewBase(name, entity.TypeLogic, s.Priority()), compiled: s.compiled.Clone()}
}

// OnDetach drops the mover handle resolved on the first run.
func (s *Script) OnDetach(*entity.Entity) {
	s.mover = nil
	s.resolved = false
}

// Get returns a global of the script after its last run.
func (s *Script) Get(name string) *tengo.Variable {
	return s.compiled.Get(name)
}

func (s *Script) Execute(ctx entity.Context, now time.Duration) bool {
	host := s.Host()
	if host == nil {
		return true
	}
	if err := s.run(ctx, host, now); err != nil {
		ctx.Logger().Error("script failed", log.EntityID(host.ID()), log.ComponentName(s.Name()), log.Error(err))
		ctx.Fail(fmt.Errorf("script %q on %s: %w", s.Name(), host, err))
	}
	return true
}

func (s *Script) run(ctx entity.Context, host *entity.Entity, now time.Duration) error {
	if !s.resolved {
		s.mover, _ = entity.Lookup[*Mover](host)
		s.resolved = true
	}

	frame := ctx.Frame()
	pos := host.Position()
	var vel geom.Vec2
	if s.mover != nil {
		vel = s.mover.Velocity
	}

	inputs := []struct {
		name  string
		value any
	}{
		{varNow, now.Seconds()},
		{varDelta, frame.Delta.Seconds()},
		{varFrame, int64(frame.Number)},
		{varX, pos.X},
		{varY, pos.Y},
		{varVX, vel.X},
		{varVY, vel.Y},
	}
	for _, in := range inputs {
		if err := s.compiled.Set(in.name, in.value); err != nil {
			return err
		}
	}

	if err := s.compiled.Run(); err != nil {
		return err
	}

	host.SetPosition(geom.V(s.compiled.Get(varX).Float(), s.compiled.Get(varY).Float()))
	if s.mover != nil {
		s.mover.Velocity = geom.V(s.compiled.Get(varVX).Float(), s.compiled.Get(varVY).Float())
	}
	return nil
}
