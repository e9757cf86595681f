// Package behavior holds stock components most entities are assembled from.
package behavior

import (
	"time"

	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/observability/log"
)

// ExecFunc is the body of a Func component.
type ExecFunc func(ctx entity.Context, host *entity.Entity, now time.Duration) bool

// Func adapts a closure into a component.
type Func struct {
	entity.Base
	fn ExecFunc
}

func NewFunc(name string, t entity.Type, priority float64, fn ExecFunc) *Func {
	return &Func{Base: entity.NewBase(name, t, priority), fn: fn}
}

func (f *Func) Execute(ctx entity.Context, now time.Duration) bool {
	if f.fn == nil {
		return true
	}
	return f.fn(ctx, f.Host(), now)
}

// Mover advances its host by Velocity (units per second) each frame.
type Mover struct {
	entity.Base
	Velocity geom.Vec2
}

func NewMover(name string, velocity geom.Vec2) *Mover {
	return &Mover{Base: entity.NewBase(name, entity.TypeTransform, entity.MaxPriority), Velocity: velocity}
}

func (m *Mover) Execute(ctx entity.Context, _ time.Duration) bool {
	if host := m.Host(); host != nil {
		host.Translate(m.Velocity.Scale(ctx.Frame().Delta.Seconds()))
	}
	return true
}

// GridSync re-registers its host in the grid after the other transform
// components have moved it.
type GridSync struct {
	entity.Base
	outside bool
}

func NewGridSync(name string) *GridSync {
	return &GridSync{Base: entity.NewBase(name, entity.TypeTransform, entity.MinPriority)}
}

func (g *GridSync) Execute(ctx entity.Context, _ time.Duration) bool {
	host := g.Host()
	if host == nil {
		return true
	}
	registered := host.Register(ctx.Grid())
	if !registered && !g.outside {
		ctx.Logger().Debug("entity left the world", log.EntityID(host.ID()), log.Frame(ctx.Frame().Number),
			log.Float64("x", host.Position().X), log.Float64("y", host.Position().Y))
	}
	g.outside = !registered
	return true
}

// Outside reports whether the last sync found the host outside the grid.
func (g *GridSync) Outside() bool { return g.outside }

// Culler stops the host's remaining rendering components while the host is
// outside Viewport.
type Culler struct {
	entity.Base
	Viewport geom.Rect
}

func NewCuller(name string, viewport geom.Rect) *Culler {
	return &Culler{Base: entity.NewBase(name, entity.TypeRendering, entity.MaxPriority), Viewport: viewport}
}

func (c *Culler) Execute(_ entity.Context, _ time.Duration) bool {
	host := c.Host()
	if host == nil {
		return false
	}
	if box, ok := host.WorldBox(); ok {
		return c.Viewport.Overlaps(box)
	}
	return c.Viewport.Contains(host.Position())
}
