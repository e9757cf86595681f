// Package spatial is the broad phase: a fixed world rectangle split into a
// divisions x divisions grid of nodes that remember which occupants overlap
// them.
//
// The grid has no locks. It is written once per occupant per frame by the
// occupant's own update and read by colliders in the same goroutine.
// QueryBatch is the only concurrent entry point and must not overlap with
// Insert, Remove or Update.
package spatial

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/observability/log"
)

var ErrInvalidConfig = errors.New("invalid spatial grid configuration")

// Occupant is anything that can be registered in the grid.
type Occupant interface {
	// SpatialKey identifies the occupant; it must be stable while registered.
	SpatialKey() uint64
	// WorldBox is the occupant's current axis-aligned extent. ok is false when
	// the occupant has no extent and cannot be registered.
	WorldBox() (box geom.Rect, ok bool)
}

// Config fixes the world rectangle and resolution. LowerLimit and
// UpperLimit bound the extent of an occupant box before it is mapped onto
// cells; zero values select 1 and max(Width, Height).
type Config struct {
	Width      float64 `json:"width" yaml:"width"`
	Height     float64 `json:"height" yaml:"height"`
	Divisions  int     `json:"divisions" yaml:"divisions"`
	LowerLimit float64 `json:"lower_limit,omitempty" yaml:"lower_limit,omitempty"`
	UpperLimit float64 `json:"upper_limit,omitempty" yaml:"upper_limit,omitempty"`
}

// Validate checks the configuration and fills in default limits.
func (c *Config) Validate() error {
	if c.Divisions <= 0 {
		return fmt.Errorf("%w: divisions must be positive, got %d", ErrInvalidConfig, c.Divisions)
	}
	if !(c.Width > 0) || !(c.Height > 0) || math.IsInf(c.Width, 0) || math.IsInf(c.Height, 0) {
		return fmt.Errorf("%w: world size must be positive and finite, got %gx%g", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.LowerLimit == 0 {
		c.LowerLimit = 1
	}
	if c.UpperLimit == 0 {
		c.UpperLimit = math.Max(c.Width, c.Height)
	}
	if c.LowerLimit < 0 || c.UpperLimit < c.LowerLimit {
		return fmt.Errorf("%w: size limits [%g, %g]", ErrInvalidConfig, c.LowerLimit, c.UpperLimit)
	}
	return nil
}

type registration struct {
	occupant Occupant
	nodes    []int
}

// Grid is the spatial index.
type Grid struct {
	cfg      Config
	cellW    float64
	cellH    float64
	xLocator float64
	yLocator float64

	nodes    []*Node
	registry map[uint64]*registration
	dirty    map[int]struct{}

	logger log.Log
}

type Option func(*Grid)

func WithLogger(l log.Log) Option {
	return func(g *Grid) {
		if l != nil {
			g.logger = l
		}
	}
}

// New builds every node up front. The node set never changes afterwards.
func New(cfg Config, opts ...Option) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	div := cfg.Divisions
	g := &Grid{
		cfg:      cfg,
		cellW:    cfg.Width / float64(div),
		cellH:    cfg.Height / float64(div),
		nodes:    make([]*Node, div*div),
		registry: make(map[uint64]*registration),
		dirty:    make(map[int]struct{}),
		logger:   log.NewNop(),
	}
	g.xLocator = 1 / g.cellW
	g.yLocator = 1 / g.cellH

	for row := 0; row < div; row++ {
		for col := 0; col < div; col++ {
			rect := geom.R(float64(col)*g.cellW, float64(row)*g.cellH, float64(col+1)*g.cellW, float64(row+1)*g.cellH)
			if col == div-1 {
				rect.Max.X = cfg.Width
			}
			if row == div-1 {
				rect.Max.Y = cfg.Height
			}
			idx := col + row*div
			g.nodes[idx] = newNode(idx, rect)
		}
	}

	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Grid) Config() Config           { return g.cfg }
func (g *Grid) Divisions() int           { return g.cfg.Divisions }
func (g *Grid) Bounds() geom.Rect        { return geom.R(0, 0, g.cfg.Width, g.cfg.Height) }
func (g *Grid) CellSize() (w, h float64) { return g.cellW, g.cellH }

// Node returns the node at index i or nil.
func (g *Grid) Node(i int) *Node {
	if i < 0 || i >= len(g.nodes) {
		return nil
	}
	return g.nodes[i]
}

// Nodes returns every node in index order.
func (g *Grid) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Locate returns the node containing p, or nil when p lies outside the world.
func (g *Grid) Locate(p geom.Vec2) *Node {
	col := g.column(p.X)
	row := g.row(p.Y)
	if col < 0 || row < 0 {
		return nil
	}
	idx := col + row*g.cfg.Divisions
	if idx < 0 || idx >= len(g.nodes) {
		return nil
	}
	return g.nodes[idx]
}

// column maps x to a column with the reciprocal locator, then corrects the
// rounding of x*xLocator at cell boundaries against the node rectangles.
func (g *Grid) column(x float64) int {
	return locate(x, g.xLocator, g.cellW, g.cfg.Width, g.cfg.Divisions)
}

func (g *Grid) row(y float64) int {
	return locate(y, g.yLocator, g.cellH, g.cfg.Height, g.cfg.Divisions)
}

func locate(v, locator, size, extent float64, div int) int {
	if !(v >= 0) || v >= extent {
		return -1
	}
	c := int(math.Floor(v * locator))
	if c >= div {
		c = div - 1
	}
	if c > 0 && v < float64(c)*size {
		c--
	} else if c < div-1 && v >= float64(c+1)*size {
		c++
	}
	return c
}

// Query returns the potential collision list for p: the occupants of the node
// containing p and of its four orthogonal neighbours, each occupant once, in
// node order then insertion order. Occupants much larger than a cell that
// only overlap a diagonal neighbour are not found; use QueryRect for those.
//
// The returned slice is a snapshot valid for the current frame only.
func (g *Grid) Query(p geom.Vec2) []Occupant {
	center := g.Locate(p)
	if center == nil {
		g.logger.Debug("query outside world", log.Float64("x", p.X), log.Float64("y", p.Y))
		return nil
	}

	div := g.cfg.Divisions
	col, row := center.index%div, center.index/div

	cross := [5]int{center.index, -1, -1, -1, -1}
	if col > 0 {
		cross[1] = center.index - 1
	}
	if col < div-1 {
		cross[2] = center.index + 1
	}
	if row > 0 {
		cross[3] = center.index - div
	}
	if row < div-1 {
		cross[4] = center.index + div
	}

	var out []Occupant
	seen := make(map[uint64]struct{})
	for _, idx := range cross {
		if idx < 0 {
			continue
		}
		out = g.collect(out, seen, g.nodes[idx])
	}
	return out
}

// QueryRect returns every occupant registered in a node overlapped by r.
func (g *Grid) QueryRect(r geom.Rect) []Occupant {
	minC, maxC, minR, maxR, ok := g.span(r)
	if !ok {
		return nil
	}
	var out []Occupant
	seen := make(map[uint64]struct{})
	for row := minR; row <= maxR; row++ {
		for col := minC; col <= maxC; col++ {
			out = g.collect(out, seen, g.nodes[col+row*g.cfg.Divisions])
		}
	}
	return out
}

// QueryBatch runs Query for every point on up to workers goroutines and
// returns the lists in input order. workers <= 0 means unbounded.
func (g *Grid) QueryBatch(ctx context.Context, points []geom.Vec2, workers int) ([][]Occupant, error) {
	out := make([][]Occupant, len(points))
	eg, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		eg.SetLimit(workers)
	}
	for i, p := range points {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = g.Query(p)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Grid) collect(out []Occupant, seen map[uint64]struct{}, n *Node) []Occupant {
	for _, m := range n.members {
		key := m.SpatialKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Insert registers o in every node its clamped box overlaps. Registering an
// occupant that is already present moves it. Occupants without a box, or
// whose box lies outside the world, are left unregistered.
func (g *Grid) Insert(o Occupant) bool {
	if o == nil {
		return false
	}
	key := o.SpatialKey()
	if _, ok := g.registry[key]; ok {
		g.Remove(o)
	}

	box, ok := o.WorldBox()
	if !ok || !box.IsFinite() {
		g.logger.Debug("occupant has no usable box", log.EntityID(key))
		return false
	}
	box = g.clampExtent(box)

	minC, maxC, minR, maxR, ok := g.span(box)
	if !ok {
		g.logger.Debug("occupant outside world", log.EntityID(key),
			log.Float64("x", box.Center().X), log.Float64("y", box.Center().Y))
		return false
	}

	reg := &registration{occupant: o}
	for row := minR; row <= maxR; row++ {
		for col := minC; col <= maxC; col++ {
			idx := col + row*g.cfg.Divisions
			g.nodes[idx].add(o)
			g.touch(idx)
			reg.nodes = append(reg.nodes, idx)
		}
	}
	g.registry[key] = reg
	return true
}

// Remove deregisters o from every node it was registered in. It does not
// consult the current box, so it works after the occupant moved.
func (g *Grid) Remove(o Occupant) bool {
	if o == nil {
		return false
	}
	key := o.SpatialKey()
	reg, ok := g.registry[key]
	if !ok {
		return false
	}
	for _, idx := range reg.nodes {
		if g.nodes[idx].remove(key) {
			g.touch(idx)
		}
	}
	delete(g.registry, key)
	return true
}

// Update re-registers o at its current box.
func (g *Grid) Update(o Occupant) bool {
	return g.Insert(o)
}

// Clear removes every occupant. Nodes themselves are kept.
func (g *Grid) Clear() {
	for _, reg := range g.registry {
		g.Remove(reg.occupant)
	}
}

// Registered reports whether o is currently in the grid.
func (g *Grid) Registered(o Occupant) bool {
	if o == nil {
		return false
	}
	_, ok := g.registry[o.SpatialKey()]
	return ok
}

// NodesOf returns the node indices o is registered in.
func (g *Grid) NodesOf(o Occupant) []int {
	if o == nil {
		return nil
	}
	reg, ok := g.registry[o.SpatialKey()]
	if !ok {
		return nil
	}
	out := make([]int, len(reg.nodes))
	copy(out, reg.nodes)
	return out
}

// DirtyNodes returns the indices of nodes whose membership differs from the
// last ClearDirty, in ascending order.
func (g *Grid) DirtyNodes() []int {
	out := make([]int, 0, len(g.dirty))
	for idx := range g.dirty {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// ClearDirty takes the current membership as the new baseline. The frame
// driver calls it at every frame boundary.
func (g *Grid) ClearDirty() {
	for idx := range g.dirty {
		g.nodes[idx].clearDirty()
	}
	clear(g.dirty)
}

// Stats is a point-in-time summary of the grid.
type Stats struct {
	Nodes         int
	Occupants     int
	Registrations int
	Dirty         int
}

func (g *Grid) Stats() Stats {
	s := Stats{Nodes: len(g.nodes), Occupants: len(g.registry), Dirty: len(g.dirty)}
	for _, reg := range g.registry {
		s.Registrations += len(reg.nodes)
	}
	return s
}

func (g *Grid) touch(idx int) {
	if g.nodes[idx].Dirty() {
		g.dirty[idx] = struct{}{}
		return
	}
	delete(g.dirty, idx)
}

// clampExtent bounds the box size into [LowerLimit, UpperLimit] around its
// centre.
func (g *Grid) clampExtent(box geom.Rect) geom.Rect {
	w := geom.Clamp(box.Width(), g.cfg.LowerLimit, g.cfg.UpperLimit)
	h := geom.Clamp(box.Height(), g.cfg.LowerLimit, g.cfg.UpperLimit)
	if w == box.Width() && h == box.Height() {
		return box
	}
	return geom.RectFromCenter(box.Center(), w, h)
}

// span returns the inclusive column and row ranges covered by r.
func (g *Grid) span(r geom.Rect) (minC, maxC, minR, maxR int, ok bool) {
	if r.Max.X < 0 || r.Max.Y < 0 || r.Min.X >= g.cfg.Width || r.Min.Y >= g.cfg.Height {
		return 0, 0, 0, 0, false
	}
	div := g.cfg.Divisions
	last := float64(div - 1)
	minC = int(geom.Clamp(math.Floor(r.Min.X*g.xLocator), 0, last))
	maxC = int(geom.Clamp(math.Floor(r.Max.X*g.xLocator), 0, last))
	minR = int(geom.Clamp(math.Floor(r.Min.Y*g.yLocator), 0, last))
	maxR = int(geom.Clamp(math.Floor(r.Max.Y*g.yLocator), 0, last))
	return minC, maxC, minR, maxR, true
}
