// Package hull implements the convex shapes used by the narrow phase.
//
// A Hull is a tagged union over a closed set of kinds (circle, axis-aligned
// box, convex polygon). There is one intersection entry point, Intersects,
// which switches on the kind pair instead of dispatching through per-shape
// methods.
package hull

import (
	"errors"
	"fmt"
	"math"

	"github.com/zeusync/framecore/internal/core/geom"
)

// Kind tags the active member of a Hull.
type Kind uint8

const (
	KindNone Kind = iota
	KindCircle
	KindBox
	KindPolygon
)

func (k Kind) String() string {
	switch k {
	case KindCircle:
		return "circle"
	case KindBox:
		return "box"
	case KindPolygon:
		return "polygon"
	default:
		return "none"
	}
}

var (
	ErrTooFewPoints = errors.New("polygon hull needs at least 3 points")
	ErrNotConvex    = errors.New("polygon hull is not convex")
	ErrDegenerate   = errors.New("polygon hull has no area")
)

// epsilon absorbs rounding in the winding and convexity checks.
const epsilon = 1e-9

// Hull is a convex collision primitive. Circles use Center and Radius; boxes
// and polygons use Points, wound counter-clockwise. Center is kept for every
// kind.
type Hull struct {
	Kind   Kind
	Center geom.Vec2
	Radius float64
	Points []geom.Vec2
}

// NewCircle returns a circle hull. Negative radii are treated as zero.
func NewCircle(center geom.Vec2, radius float64) Hull {
	return Hull{Kind: KindCircle, Center: center, Radius: math.Max(radius, 0)}
}

// NewBox returns the axis-aligned box hull covering r.
func NewBox(r geom.Rect) Hull {
	c := r.Corners()
	return Hull{Kind: KindBox, Center: r.Center(), Points: c[:]}
}

// NewPolygon validates and normalises points into a counter-clockwise convex
// polygon hull. Consecutive duplicate points are dropped.
func NewPolygon(points []geom.Vec2) (Hull, error) {
	pts := dedupe(points)
	if len(pts) < 3 {
		return Hull{}, fmt.Errorf("%w: got %d", ErrTooFewPoints, len(pts))
	}

	area := signedArea(pts)
	if math.Abs(area) <= epsilon {
		return Hull{}, ErrDegenerate
	}
	if area < 0 {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}

	n := len(pts)
	for i := 0; i < n; i++ {
		a, b, c := pts[i], pts[(i+1)%n], pts[(i+2)%n]
		if b.Sub(a).Cross(c.Sub(b)) < -epsilon {
			return Hull{}, ErrNotConvex
		}
	}

	return Hull{Kind: KindPolygon, Center: centroid(pts), Points: pts}, nil
}

// MustPolygon is NewPolygon for literals known to be valid.
func MustPolygon(points ...geom.Vec2) Hull {
	h, err := NewPolygon(points)
	if err != nil {
		panic(err)
	}
	return h
}

// CircleFromRect approximates a rectangle with the circle of radius
// max(w, h)/2 at its centre.
func CircleFromRect(r geom.Rect) Hull {
	return NewCircle(r.Center(), math.Max(r.Width(), r.Height())/2)
}

// BoxFromRect is NewBox under the approximation naming used by colliders.
func BoxFromRect(r geom.Rect) Hull {
	return NewBox(r)
}

// Valid reports whether the hull carries usable data for its kind.
func (h Hull) Valid() bool {
	switch h.Kind {
	case KindCircle:
		return h.Center.IsFinite() && !math.IsNaN(h.Radius) && !math.IsInf(h.Radius, 0)
	case KindBox, KindPolygon:
		return len(h.Points) >= 3
	default:
		return false
	}
}

// Bounds returns the axis-aligned bounding rectangle of the hull.
func (h Hull) Bounds() geom.Rect {
	if h.Kind == KindCircle {
		return geom.RectFromCenter(h.Center, 2*h.Radius, 2*h.Radius)
	}
	if len(h.Points) == 0 {
		return geom.Rect{Min: h.Center, Max: h.Center}
	}
	r := geom.Rect{Min: h.Points[0], Max: h.Points[0]}
	for _, p := range h.Points[1:] {
		r.Min.X = math.Min(r.Min.X, p.X)
		r.Min.Y = math.Min(r.Min.Y, p.Y)
		r.Max.X = math.Max(r.Max.X, p.X)
		r.Max.Y = math.Max(r.Max.Y, p.Y)
	}
	return r
}

// Translate returns a copy of h moved by d.
func (h Hull) Translate(d geom.Vec2) Hull {
	out := h
	out.Center = h.Center.Add(d)
	if len(h.Points) > 0 {
		out.Points = make([]geom.Vec2, len(h.Points))
		for i, p := range h.Points {
			out.Points[i] = p.Add(d)
		}
	}
	return out
}

// Axes returns the edge normals of a box or polygon hull. Normals are not
// normalised; callers scale radii by the axis length where needed.
func (h Hull) Axes() []geom.Vec2 {
	n := len(h.Points)
	if h.Kind == KindCircle || n < 2 {
		return nil
	}
	axes := make([]geom.Vec2, 0, n)
	for i := 0; i < n; i++ {
		edge := h.Points[(i+1)%n].Sub(h.Points[i])
		if edge.LenSq() == 0 {
			continue
		}
		axes = append(axes, geom.Vec2{X: edge.Y, Y: -edge.X})
	}
	return axes
}

func (h Hull) String() string {
	if h.Kind == KindCircle {
		return fmt.Sprintf("circle(%.2f,%.2f r=%.2f)", h.Center.X, h.Center.Y, h.Radius)
	}
	return fmt.Sprintf("%s(%d points)", h.Kind, len(h.Points))
}

func dedupe(points []geom.Vec2) []geom.Vec2 {
	out := make([]geom.Vec2, 0, len(points))
	for _, p := range points {
		if len(out) > 0 && out[len(out)-1].Equal(p) {
			continue
		}
		out = append(out, p)
	}
	if len(out) > 1 && out[0].Equal(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out
}

func signedArea(pts []geom.Vec2) float64 {
	var sum float64
	for i := range pts {
		sum += pts[i].Cross(pts[(i+1)%len(pts)])
	}
	return sum / 2
}

func centroid(pts []geom.Vec2) geom.Vec2 {
	var c geom.Vec2
	for _, p := range pts {
		c = c.Add(p)
	}
	return c.Scale(1 / float64(len(pts)))
}
