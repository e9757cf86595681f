// Package collision is the narrow phase. A Collider asks the grid for the
// potential collision list around its host, confirms each candidate with a
// hull intersection test and reports hits to a Handler, which may stop the
// scan for the rest of the frame.
package collision

import (
	"errors"
	"time"

	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/events"
	"github.com/zeusync/framecore/internal/core/hull"
	"github.com/zeusync/framecore/internal/core/observability/log"
)

var ErrNoHandler = errors.New("collider has no collision handler")

// Stats describes the last Execute of a collider.
type Stats struct {
	Candidates int
	Tested     int
	Hits       int
	Skipped    int
	Stopped    bool
}

type Collider struct {
	entity.Base

	handler   Handler
	mask      Mask
	approx    Approximation
	publisher events.Publisher

	stats Stats
}

type Option func(*Collider)

func WithMask(m Mask) Option {
	return func(c *Collider) { c.mask = m }
}

func WithPriority(p float64) Option {
	return func(c *Collider) { c.SetPriority(p) }
}

func WithApproximation(a Approximation) Option {
	return func(c *Collider) { c.approx = a }
}

// WithPublisher mirrors every hit onto p as an events.KindCollision event
// after the handler has seen it.
func WithPublisher(p events.Publisher) Option {
	return func(c *Collider) { c.publisher = p }
}

// New returns a logic-type collider. A nil handler is reported through
// Context.Fail on the first Execute.
func New(name string, handler Handler, opts ...Option) *Collider {
	c := &Collider{
		Base:    entity.NewBase(name, entity.TypeLogic, entity.DefaultPriority),
		handler: handler,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collider) Mask() Mask                   { return c.mask }
func (c *Collider) SetMask(m Mask)               { c.mask = m }
func (c *Collider) Approximation() Approximation { return c.approx }
func (c *Collider) LastStats() Stats             { return c.stats }

// Execute tests the host against every candidate in its potential collision
// list. It always returns true.
func (c *Collider) Execute(ctx entity.Context, now time.Duration) bool {
	c.stats = Stats{}
	host := c.Host()
	if host == nil || ctx == nil {
		return true
	}
	if c.handler == nil {
		ctx.Logger().Error("collider without handler",
			log.EntityID(host.ID()), log.EntityName(host.Name()), log.ComponentName(c.Name()))
		ctx.Fail(&entity.ContractError{Entity: host.ID(), EntityName: host.Name(), Component: c.Name(), Err: ErrNoHandler})
		return true
	}
	grid := ctx.Grid()
	if grid == nil {
		return true
	}

	self, selfOK := ResolveHull(host.Body(), host.Position(), c.approx)
	for _, occ := range grid.Query(host.Position()) {
		target, ok := occ.(*entity.Entity)
		if !ok || target == host || target.Destroyed() {
			continue
		}
		c.stats.Candidates++

		targetMask, targetApprox := c.describe(target)
		if !selfOK {
			c.stats.Skipped++
			continue
		}
		other, ok := ResolveHull(target.Body(), target.Position(), targetApprox)
		if !ok {
			c.stats.Skipped++
			continue
		}

		c.stats.Tested++
		if !hull.Intersects(self, other) {
			continue
		}
		c.stats.Hits++

		ev := Event{Host: host, Target: target, Time: now, HostMask: c.mask, TargetMask: targetMask}
		signal := c.handler.OnCollide(ev)
		c.publish(ctx, ev)
		if signal == Stop {
			c.stats.Stopped = true
			break
		}
	}
	return true
}

// describe returns the mask and approximation of the target's own collider,
// or zero and this collider's approximation when it has none.
func (c *Collider) describe(target *entity.Entity) (Mask, Approximation) {
	if tc, ok := entity.Lookup[*Collider](target); ok {
		return tc.mask, tc.approx
	}
	return 0, c.approx
}

func (c *Collider) publish(ctx entity.Context, ev Event) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.Publish(events.Event{
		Kind:    events.KindCollision,
		Frame:   ctx.Frame().Number,
		Time:    ev.Time,
		Source:  ev.Host.ID(),
		Payload: ev,
	})
	if err != nil {
		ctx.Logger().Warn("collision observer failed",
			log.EntityID(ev.Host.ID()), log.Uint64("target", ev.Target.ID()), log.Error(err))
	}
}
