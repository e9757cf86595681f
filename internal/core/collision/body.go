package collision

import (
	"fmt"
	"math"

	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/hull"
)

var (
	_ entity.HullBody = Circle{}
	_ entity.HullBody = Box{}
	_ entity.HullBody = (*Polygon)(nil)
	_ entity.Body     = Bounds{}
)

// Circle is an exact circular body centred on the entity position plus
// Offset.
type Circle struct {
	Radius float64
	Offset geom.Vec2
}

func (c Circle) WorldBox(at geom.Vec2) (geom.Rect, bool) {
	if !(c.Radius >= 0) || math.IsInf(c.Radius, 0) {
		return geom.Rect{}, false
	}
	return geom.RectFromCenter(at.Add(c.Offset), 2*c.Radius, 2*c.Radius), true
}

func (c Circle) Hull(at geom.Vec2) (hull.Hull, bool) {
	if _, ok := c.WorldBox(at); !ok {
		return hull.Hull{}, false
	}
	return hull.NewCircle(at.Add(c.Offset), c.Radius), true
}

// Box is an exact axis-aligned body.
type Box struct {
	Width  float64
	Height float64
	Offset geom.Vec2
}

func (b Box) WorldBox(at geom.Vec2) (geom.Rect, bool) {
	if !(b.Width >= 0) || !(b.Height >= 0) {
		return geom.Rect{}, false
	}
	return geom.RectFromCenter(at.Add(b.Offset), b.Width, b.Height), true
}

func (b Box) Hull(at geom.Vec2) (hull.Hull, bool) {
	r, ok := b.WorldBox(at)
	if !ok {
		return hull.Hull{}, false
	}
	return hull.NewBox(r), true
}

// Polygon is an exact convex body with points relative to the entity
// position.
type Polygon struct {
	local hull.Hull
}

// NewPolygon validates the outline once. An invalid outline is a
// configuration error.
func NewPolygon(points ...geom.Vec2) (*Polygon, error) {
	h, err := hull.NewPolygon(points)
	if err != nil {
		return nil, fmt.Errorf("polygon body: %w", err)
	}
	return &Polygon{local: h}, nil
}

func (p *Polygon) WorldBox(at geom.Vec2) (geom.Rect, bool) {
	return p.local.Bounds().Translate(at), true
}

func (p *Polygon) Hull(at geom.Vec2) (hull.Hull, bool) {
	return p.local.Translate(at), true
}

// Bounds only knows its box. Colliders approximate a hull from it.
type Bounds struct {
	Width  float64
	Height float64
}

func (b Bounds) WorldBox(at geom.Vec2) (geom.Rect, bool) {
	if !(b.Width >= 0) || !(b.Height >= 0) {
		return geom.Rect{}, false
	}
	return geom.RectFromCenter(at, b.Width, b.Height), true
}

// Approximation selects the hull synthesised from a box when a body has no
// exact hull.
type Approximation uint8

const (
	ApproxCircle Approximation = iota
	ApproxBox
)

func (a Approximation) String() string {
	if a == ApproxBox {
		return "box"
	}
	return "circle"
}

// ParseApproximation accepts "circle" and "box". The empty string is circle.
func ParseApproximation(s string) (Approximation, error) {
	switch s {
	case "", "circle":
		return ApproxCircle, nil
	case "box", "aabb":
		return ApproxBox, nil
	default:
		return ApproxCircle, fmt.Errorf("unknown hull approximation %q", s)
	}
}

// ResolveHull returns the body's exact hull at position at when it has one,
// otherwise a hull approximated from its box. ok is false when neither is
// available.
func ResolveHull(body entity.Body, at geom.Vec2, approx Approximation) (h hull.Hull, ok bool) {
	if body == nil {
		return hull.Hull{}, false
	}
	if hb, isHull := body.(entity.HullBody); isHull {
		if h, ok = hb.Hull(at); ok && h.Valid() {
			return h, true
		}
	}
	box, ok := body.WorldBox(at)
	if !ok || !box.IsFinite() {
		return hull.Hull{}, false
	}
	if approx == ApproxBox {
		return hull.BoxFromRect(box), true
	}
	return hull.CircleFromRect(box), true
}
