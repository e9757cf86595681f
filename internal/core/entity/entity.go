// Package entity implements the component host: an entity owns a list of
// components kept sorted by (type, 1/priority) and runs them once per frame.
package entity

import (
	"cmp"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/hull"
	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/core/spatial"
)

var (
	entityIDs atomic.Uint64
	attachSeq atomic.Uint64
)

// Body is the bounding shape provider of an entity. Shapes are expressed
// relative to the position passed in.
type Body interface {
	WorldBox(at geom.Vec2) (geom.Rect, bool)
}

// HullBody is a Body that can also produce an exact collision hull.
type HullBody interface {
	Body
	Hull(at geom.Vec2) (hull.Hull, bool)
}

type opKind uint8

const (
	opAttach opKind = iota
	opDetach
)

type pendingOp struct {
	kind opKind
	comp Component
	key  uint64
}

// Entity hosts components. It is not safe for concurrent use.
type Entity struct {
	id       uint64
	token    uuid.UUID
	name     string
	position geom.Vec2
	body     Body

	components []Component
	index      map[uint64]Component
	sweep      []Component

	executing bool
	pending   []pendingOp
	reserved  map[uint64]struct{}
	releasing map[uint64]struct{}

	grid           *spatial.Grid
	destroyPending bool
	destroyed      bool

	logger log.Log
}

type Option func(*Entity)

func WithName(name string) Option {
	return func(e *Entity) { e.name = name }
}

func WithPosition(p geom.Vec2) Option {
	return func(e *Entity) { e.position = p }
}

func WithBody(b Body) Option {
	return func(e *Entity) { e.body = b }
}

func WithLogger(l log.Log) Option {
	return func(e *Entity) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(opts ...Option) *Entity {
	e := &Entity{
		id:        entityIDs.Add(1),
		token:     uuid.New(),
		index:     make(map[uint64]Component),
		reserved:  make(map[uint64]struct{}),
		releasing: make(map[uint64]struct{}),
		logger:    log.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Entity) ID() uint64          { return e.id }
func (e *Entity) Token() uuid.UUID    { return e.token }
func (e *Entity) Name() string        { return e.name }
func (e *Entity) Position() geom.Vec2 { return e.position }
func (e *Entity) Body() Body          { return e.body }
func (e *Entity) Destroyed() bool     { return e.destroyed }

func (e *Entity) String() string {
	if e.name != "" {
		return fmt.Sprintf("entity(%d %s)", e.id, e.name)
	}
	return fmt.Sprintf("entity(%d)", e.id)
}

func (e *Entity) SetPosition(p geom.Vec2) { e.position = p }

// Translate moves the entity by d.
func (e *Entity) Translate(d geom.Vec2) { e.position = e.position.Add(d) }

func (e *Entity) SetBody(b Body) { e.body = b }

// SpatialKey identifies the entity inside a spatial.Grid.
func (e *Entity) SpatialKey() uint64 { return e.id }

// WorldBox is the body's box at the current position.
func (e *Entity) WorldBox() (geom.Rect, bool) {
	if e.body == nil {
		return geom.Rect{}, false
	}
	return e.body.WorldBox(e.position)
}

// Register (re)inserts the entity into g at its current box and remembers g
// so that Destroy can deregister it.
func (e *Entity) Register(g *spatial.Grid) bool {
	if g == nil || e.destroyed {
		return false
	}
	if e.grid != nil && e.grid != g {
		e.grid.Remove(e)
	}
	e.grid = g
	return g.Insert(e)
}

// Deregister removes the entity from the grid it was registered with.
func (e *Entity) Deregister() {
	if e.grid == nil {
		return
	}
	e.grid.Remove(e)
	e.grid = nil
}

// Grid returns the grid the entity was last registered with.
func (e *Entity) Grid() *spatial.Grid { return e.grid }

// Len is the number of attached components.
func (e *Entity) Len() int { return len(e.components) }

// Components returns the components in execution order.
func (e *Entity) Components() []Component {
	out := make([]Component, len(e.components))
	copy(out, e.components)
	return out
}

// Component looks up a component by name, ignoring case. Intended for
// assembly code; per-frame code keeps the typed handle returned by Lookup.
func (e *Entity) Component(name string) (Component, bool) {
	n := NormalizeName(name)
	c, ok := e.index[nameKey(n)]
	if !ok || c.Name() != n {
		return nil, false
	}
	return c, true
}

// Lookup returns the first attached component of type T.
func Lookup[T Component](e *Entity) (T, bool) {
	for _, c := range e.components {
		if t, ok := c.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// Named returns the component called name if it has type T.
func Named[T Component](e *Entity, name string) (T, bool) {
	var zero T
	c, ok := e.Component(name)
	if !ok {
		return zero, false
	}
	t, ok := c.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Attach gives c to the entity. Violations are returned as *ContractError.
// During Execute the attach is validated now and applied once the sweep
// finishes.
func (e *Entity) Attach(c Component) error {
	if err := e.validate(c); err != nil {
		e.logger.Error("component attach rejected",
			log.EntityID(e.id), log.EntityName(e.name), log.ComponentName(componentName(c)), log.Error(err))
		return err
	}

	b := c.base()
	key := nameKey(b.name)
	b.host = e
	if e.executing {
		e.reserved[key] = struct{}{}
		e.pending = append(e.pending, pendingOp{kind: opAttach, comp: c, key: key})
		return nil
	}
	e.insert(c, key)
	return nil
}

// MustAttach is Attach for composition code that treats a violation as an
// assertion.
func (e *Entity) MustAttach(cs ...Component) *Entity {
	for _, c := range cs {
		if err := e.Attach(c); err != nil {
			panic(err)
		}
	}
	return e
}

func (e *Entity) validate(c Component) error {
	fail := func(err error) error {
		return &ContractError{Entity: e.id, EntityName: e.name, Component: componentName(c), Err: err}
	}
	if c == nil {
		return fail(ErrNilComponent)
	}
	if e.destroyed || e.destroyPending {
		return fail(ErrDestroyed)
	}
	b := c.base()
	if b.name == "" {
		return fail(ErrInvalidName)
	}
	if b.host != nil {
		if b.host == e {
			return fail(ErrDuplicateName)
		}
		return fail(ErrAlreadyAttached)
	}
	key := nameKey(b.name)
	_, present := e.index[key]
	_, leaving := e.releasing[key]
	_, arriving := e.reserved[key]
	if (present && !leaving) || arriving {
		return fail(ErrDuplicateName)
	}
	return nil
}

func componentName(c Component) string {
	if c == nil {
		return ""
	}
	return c.base().name
}

func (e *Entity) insert(c Component, key uint64) {
	c.base().seq = attachSeq.Add(1)
	e.components = append(e.components, c)
	e.index[key] = c
	e.resort()
	if a, ok := c.(Attacher); ok {
		a.OnAttach(e)
	}
}

// Detach removes the named component and returns it. During Execute the
// removal is applied once the sweep finishes.
func (e *Entity) Detach(name string) (Component, bool) {
	key := nameKey(NormalizeName(name))

	if e.executing {
		if _, ok := e.reserved[key]; ok {
			return e.cancelPending(key), true
		}
		c, ok := e.index[key]
		if !ok {
			return nil, false
		}
		if _, leaving := e.releasing[key]; leaving {
			return nil, false
		}
		e.releasing[key] = struct{}{}
		e.pending = append(e.pending, pendingOp{kind: opDetach, comp: c, key: key})
		return c, true
	}

	c, ok := e.index[key]
	if !ok {
		return nil, false
	}
	e.remove(c, key)
	return c, true
}

func (e *Entity) cancelPending(key uint64) Component {
	for i, op := range e.pending {
		if op.kind == opAttach && op.key == key {
			e.pending = slices.Delete(e.pending, i, i+1)
			delete(e.reserved, key)
			op.comp.base().host = nil
			return op.comp
		}
	}
	return nil
}

func (e *Entity) remove(c Component, key uint64) {
	if i := slices.Index(e.components, c); i >= 0 {
		e.components = slices.Delete(e.components, i, i+1)
	}
	delete(e.index, key)
	c.base().host = nil
	if d, ok := c.(Detacher); ok {
		d.OnDetach(e)
	}
}

// resort restores (type, 1/priority, attach order) ordering.
func (e *Entity) resort() {
	slices.SortFunc(e.components, func(a, b Component) int {
		ab, bb := a.base(), b.base()
		if c := cmp.Compare(ab.kind, bb.kind); c != 0 {
			return c
		}
		if c := cmp.Compare(1/ab.priority, 1/bb.priority); c != 0 {
			return c
		}
		return cmp.Compare(ab.seq, bb.seq)
	})
}

// Execute runs every component once in sorted order. After a rendering
// component returns false, the remaining rendering components are skipped.
// The sweep stops early when ctx reports a failure. Structural changes made
// during the sweep are applied before Execute returns. The result reports
// whether rendering ran to completion.
func (e *Entity) Execute(ctx Context, now time.Duration) bool {
	if e.destroyed {
		return false
	}

	e.sweep = append(e.sweep[:0], e.components...)
	e.executing = true
	render := true
	for _, c := range e.sweep {
		if c.Type() == TypeRendering && !render {
			continue
		}
		if ok := c.Execute(ctx, now); !ok && c.Type() == TypeRendering {
			render = false
		}
		if ctx != nil && ctx.Err() != nil {
			break
		}
	}
	e.executing = false
	clear(e.sweep)

	e.flush()
	if e.destroyPending {
		e.destroy()
	}
	return render
}

func (e *Entity) flush() {
	if len(e.pending) == 0 {
		return
	}
	ops := e.pending
	e.pending = nil
	for _, op := range ops {
		switch op.kind {
		case opAttach:
			delete(e.reserved, op.key)
			e.insert(op.comp, op.key)
		case opDetach:
			delete(e.releasing, op.key)
			e.remove(op.comp, op.key)
		}
	}
}

// Destroy detaches every component and deregisters the entity from its grid.
// Destroying an entity from inside its own Execute takes effect when the
// sweep ends.
func (e *Entity) Destroy() {
	if e.destroyed {
		return
	}
	if e.executing {
		e.destroyPending = true
		return
	}
	e.destroy()
}

func (e *Entity) destroy() {
	e.flush()
	for len(e.components) > 0 {
		c := e.components[len(e.components)-1]
		e.remove(c, nameKey(c.Name()))
	}
	e.Deregister()
	e.destroyPending = false
	e.destroyed = true
}
