// Package physics hands rigid bodies to Chipmunk and exposes their shapes to
// the collision layer. Integration and constraint solving stay inside the
// cp space; the core only reads positions and bounding boxes back.
package physics

import (
	"errors"
	"fmt"
	"time"

	"github.com/jakecoffman/cp"

	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/observability/log"
)

var (
	ErrAlreadyBound = errors.New("entity already has a physics body")
	ErrInvalidShape = errors.New("invalid physics shape")
	ErrNilEntity    = errors.New("nil entity")
)

// SyncName is the name of the component that copies body positions back
// into entities.
const SyncName = "physics"

// Handle is the cp body and shape created for an entity.
type Handle struct {
	Body   *cp.Body
	Shape  *cp.Shape
	Static bool
}

type Bridge struct {
	space   *cp.Space
	handles map[uint64]Handle
	logger  log.Log
}

type Option func(*Bridge)

func WithLogger(l log.Log) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithIterations sets the solver iteration count of the space.
func WithIterations(n uint) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.space.Iterations = n
		}
	}
}

func NewBridge(gravity geom.Vec2, opts ...Option) *Bridge {
	space := cp.NewSpace()
	space.SetGravity(vec(gravity))
	b := &Bridge{
		space:   space,
		handles: make(map[uint64]Handle),
		logger:  log.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Space exposes the underlying cp space for collaborators that need it.
func (b *Bridge) Space() *cp.Space { return b.space }

func (b *Bridge) Len() int { return len(b.handles) }

func (b *Bridge) Handle(e *entity.Entity) (Handle, bool) {
	if e == nil {
		return Handle{}, false
	}
	h, ok := b.handles[e.ID()]
	return h, ok
}

// AddCircle creates a dynamic circular body at the entity position.
func (b *Bridge) AddCircle(e *entity.Entity, mass, radius float64) (Handle, error) {
	if err := b.check(e); err != nil {
		return Handle{}, err
	}
	if !(mass > 0) || !(radius > 0) {
		return Handle{}, fmt.Errorf("%w: circle mass %g radius %g", ErrInvalidShape, mass, radius)
	}
	body := cp.NewBody(mass, cp.MomentForCircle(mass, 0, radius, cp.Vector{}))
	body.SetPosition(vec(e.Position()))
	shape := cp.NewCircle(body, radius, cp.Vector{})
	return b.bind(e, Handle{Body: body, Shape: shape})
}

// AddBox creates a dynamic box body at the entity position.
func (b *Bridge) AddBox(e *entity.Entity, mass, width, height float64) (Handle, error) {
	if err := b.check(e); err != nil {
		return Handle{}, err
	}
	if !(mass > 0) || !(width > 0) || !(height > 0) {
		return Handle{}, fmt.Errorf("%w: box mass %g size %gx%g", ErrInvalidShape, mass, width, height)
	}
	body := cp.NewBody(mass, cp.MomentForBox(mass, width, height))
	body.SetPosition(vec(e.Position()))
	shape := cp.NewBox(body, width, height, 0)
	return b.bind(e, Handle{Body: body, Shape: shape})
}

// AddStaticBox attaches r to the space's static body and moves the entity to
// the centre of r.
func (b *Bridge) AddStaticBox(e *entity.Entity, r geom.Rect) (Handle, error) {
	if err := b.check(e); err != nil {
		return Handle{}, err
	}
	if r.Empty() || !r.IsFinite() {
		return Handle{}, fmt.Errorf("%w: static box %v", ErrInvalidShape, r)
	}
	e.SetPosition(r.Center())
	shape := cp.NewBox2(b.space.StaticBody, cp.BB{L: r.Min.X, B: r.Min.Y, R: r.Max.X, T: r.Max.Y}, 0)
	return b.bind(e, Handle{Body: b.space.StaticBody, Shape: shape, Static: true})
}

func (b *Bridge) check(e *entity.Entity) error {
	if e == nil {
		return ErrNilEntity
	}
	if e.Destroyed() {
		return entity.ErrDestroyed
	}
	if _, ok := b.handles[e.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, e)
	}
	return nil
}

func (b *Bridge) bind(e *entity.Entity, h Handle) (Handle, error) {
	if !h.Static {
		if err := e.Attach(NewSync(h.Body)); err != nil {
			return Handle{}, err
		}
		b.space.AddBody(h.Body)
	}
	h.Shape.UserData = e.ID()
	b.space.AddShape(h.Shape)

	body := &ShapeBody{shape: h.Shape, static: h.Static}
	if h.Static {
		body.anchor = e.Position()
	}
	e.SetBody(body)
	b.handles[e.ID()] = h

	b.logger.Debug("physics body added", log.EntityID(e.ID()), log.Bool("static", h.Static))
	return h, nil
}

// Remove takes the entity's body out of the space and detaches its sync
// component. It must not be called while Step runs.
func (b *Bridge) Remove(e *entity.Entity) bool {
	h, ok := b.Handle(e)
	if !ok {
		return false
	}
	b.space.RemoveShape(h.Shape)
	if !h.Static {
		b.space.RemoveBody(h.Body)
		e.Detach(SyncName)
	}
	if sb, ok := e.Body().(*ShapeBody); ok && sb.shape == h.Shape {
		e.SetBody(nil)
	}
	delete(b.handles, e.ID())
	return true
}

// Step advances the space by delta. Non-positive deltas are ignored.
func (b *Bridge) Step(delta time.Duration) {
	if delta <= 0 {
		return
	}
	b.space.Step(delta.Seconds())
}

func vec(v geom.Vec2) cp.Vector { return cp.Vector{X: v.X, Y: v.Y} }

func fromVec(v cp.Vector) geom.Vec2 { return geom.V(v.X, v.Y) }
