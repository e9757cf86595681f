// Package sim owns the per-process simulation state: the spatial grid, the
// ordered entity registry and the frame clock. A Simulation is the
// entity.Context passed to every Execute call.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zeusync/framecore/internal/core/config"
	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/events"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/core/physics"
	"github.com/zeusync/framecore/internal/core/spatial"
)

var (
	ErrHalted         = errors.New("simulation halted")
	ErrNilEntity      = errors.New("nil entity")
	ErrAlreadySpawned = errors.New("entity already spawned")
)

var _ entity.Context = (*Simulation)(nil)

type Simulation struct {
	cfg     config.Config
	grid    *spatial.Grid
	logger  log.Log
	bus     *events.Bus
	physics *physics.Bridge
	clock   Clock

	entities []*entity.Entity
	index    map[uint64]*entity.Entity

	stepping       bool
	pendingSpawn   []*entity.Entity
	pendingDespawn []*entity.Entity

	fault  error
	halted error
}

type Option func(*Simulation)

func WithLogger(l log.Log) Option {
	return func(s *Simulation) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBus publishes lifecycle, frame and fault events on b.
func WithBus(b *events.Bus) Option {
	return func(s *Simulation) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithPhysics steps p before every frame and unbinds despawned entities
// from it.
func WithPhysics(p *physics.Bridge) Option {
	return func(s *Simulation) { s.physics = p }
}

func New(cfg config.Config, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulation{
		cfg:    cfg,
		logger: log.NewNop(),
		bus:    events.New(),
		index:  make(map[uint64]*entity.Entity),
	}
	for _, opt := range opts {
		opt(s)
	}

	grid, err := spatial.New(cfg.World, spatial.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.grid = grid
	return s, nil
}

func (s *Simulation) Grid() *spatial.Grid      { return s.grid }
func (s *Simulation) Logger() log.Log          { return s.logger }
func (s *Simulation) Frame() entity.Frame      { return s.clock.Frame() }
func (s *Simulation) Bus() *events.Bus         { return s.bus }
func (s *Simulation) Physics() *physics.Bridge { return s.physics }
func (s *Simulation) Config() config.Config    { return s.cfg }
func (s *Simulation) Len() int                 { return len(s.entities) }
func (s *Simulation) Halted() error            { return s.halted }
func (s *Simulation) Clock() Clock             { return s.clock }
func (s *Simulation) Err() error               { return s.fault }

// Fail records the first error of the current frame. The frame is abandoned
// as soon as the running entity yields and the simulation halts.
func (s *Simulation) Fail(err error) {
	if err == nil || s.fault != nil {
		return
	}
	s.fault = err
}

// Entities returns the live entities in update order.
func (s *Simulation) Entities() []*entity.Entity {
	return slices.Clone(s.entities)
}

func (s *Simulation) Entity(id uint64) (*entity.Entity, bool) {
	e, ok := s.index[id]
	return e, ok
}

// Spawn appends e to the update order and registers it in the grid. During a
// step the spawn is applied after the last entity has run.
func (s *Simulation) Spawn(e *entity.Entity) error {
	if e == nil {
		return ErrNilEntity
	}
	if e.Destroyed() {
		return fmt.Errorf("spawn %s: %w", e, entity.ErrDestroyed)
	}
	if _, ok := s.index[e.ID()]; ok || slices.Contains(s.pendingSpawn, e) {
		return fmt.Errorf("spawn %s: %w", e, ErrAlreadySpawned)
	}
	if s.stepping {
		s.pendingSpawn = append(s.pendingSpawn, e)
		return nil
	}
	s.spawn(e)
	return nil
}

func (s *Simulation) spawn(e *entity.Entity) {
	s.entities = append(s.entities, e)
	s.index[e.ID()] = e
	if !e.Register(s.grid) {
		s.logger.Debug("entity spawned outside the grid", log.EntityID(e.ID()), log.EntityName(e.Name()))
	}
	s.publish(events.KindSpawn, e.ID(), e)
}

// Despawn removes e from the simulation, its physics body and the grid, and
// destroys it. It reports whether e was known. During a step the removal is
// applied after the last entity has run.
func (s *Simulation) Despawn(e *entity.Entity) bool {
	if e == nil {
		return false
	}
	if i := slices.Index(s.pendingSpawn, e); i >= 0 {
		s.pendingSpawn = slices.Delete(s.pendingSpawn, i, i+1)
		return true
	}
	if _, ok := s.index[e.ID()]; !ok {
		return false
	}
	if s.stepping {
		if !slices.Contains(s.pendingDespawn, e) {
			s.pendingDespawn = append(s.pendingDespawn, e)
		}
		return true
	}
	s.despawn(e)
	return true
}

func (s *Simulation) despawn(e *entity.Entity) {
	if s.physics != nil {
		s.physics.Remove(e)
	}
	e.Destroy()
	delete(s.index, e.ID())
	if i := slices.Index(s.entities, e); i >= 0 {
		s.entities = slices.Delete(s.entities, i, i+1)
	}
	s.publish(events.KindDespawn, e.ID(), e)
}

// Step runs one frame: the physics bridge advances by delta, then every
// entity executes once in spawn order. A Fail during the frame aborts the
// rest of it and halts the simulation; later calls return ErrHalted.
func (s *Simulation) Step(ctx context.Context, delta time.Duration) error {
	if s.halted != nil {
		return fmt.Errorf("%w: %w", ErrHalted, s.halted)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	frame := s.clock.Advance(delta)
	if s.physics != nil {
		s.physics.Step(frame.Delta)
	}

	s.stepping = true
	s.fault = nil
	for _, e := range s.entities {
		if e.Destroyed() {
			continue
		}
		e.Execute(s, frame.Time)
		if s.fault != nil {
			break
		}
	}
	s.stepping = false

	if s.fault != nil {
		s.halted = s.fault
		s.logger.Error("frame aborted", log.Frame(frame.Number), log.Error(s.fault))
		s.publish(events.KindFault, 0, s.fault)
		return fmt.Errorf("%w: %w", ErrHalted, s.fault)
	}

	s.applyPending()
	s.grid.ClearDirty()
	s.publish(events.KindFrame, 0, frame)
	return nil
}

func (s *Simulation) applyPending() {
	despawns := s.pendingDespawn
	s.pendingDespawn = nil
	for _, e := range despawns {
		s.despawn(e)
	}
	// entities that destroyed themselves mid-frame
	for _, e := range slices.Clone(s.entities) {
		if e.Destroyed() {
			s.despawn(e)
		}
	}
	spawns := s.pendingSpawn
	s.pendingSpawn = nil
	for _, e := range spawns {
		if !e.Destroyed() {
			s.spawn(e)
		}
	}
}

// Run steps the simulation every tick with a fixed delta of tick until ctx is
// done, the simulation halts or frames frames have run. frames == 0 runs
// until ctx is done. A non-positive tick uses the configured tick rate.
func (s *Simulation) Run(ctx context.Context, tick time.Duration, frames uint64) error {
	if tick <= 0 {
		tick = s.cfg.Driver.Tick()
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for n := uint64(0); frames == 0 || n < frames; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Step(ctx, tick); err != nil {
				return err
			}
		}
	}
	return nil
}

// Neighbours returns the potential collision list around every live entity,
// in update order, querying the grid with the configured number of workers.
func (s *Simulation) Neighbours(ctx context.Context) ([][]spatial.Occupant, error) {
	points := make([]geom.Vec2, len(s.entities))
	for i, e := range s.entities {
		points[i] = e.Position()
	}
	return s.grid.QueryBatch(ctx, points, s.cfg.Driver.QueryWorkers)
}

func (s *Simulation) publish(kind events.Kind, source uint64, payload any) {
	err := s.bus.Publish(events.Event{
		Kind:    kind,
		Frame:   s.clock.frame.Number,
		Time:    s.clock.frame.Time,
		Source:  source,
		Payload: payload,
	})
	if err != nil {
		s.logger.Warn("event handler failed", log.String("kind", string(kind)), log.Error(err))
	}
}
