package hull

import (
	"math"

	"github.com/zeusync/framecore/internal/core/geom"
)

// Intersects reports whether two hulls overlap. Touching counts as
// overlapping. The result is symmetric in its arguments. Invalid hulls never
// intersect anything.
func Intersects(a, b Hull) bool {
	if !a.Valid() || !b.Valid() {
		return false
	}
	switch {
	case a.Kind == KindCircle && b.Kind == KindCircle:
		return circleCircle(a, b)
	case a.Kind == KindCircle:
		return circlePolygon(a, b)
	case b.Kind == KindCircle:
		return circlePolygon(b, a)
	case a.Kind == KindBox && b.Kind == KindBox:
		return boxBox(a, b)
	default:
		return polygonPolygon(a, b)
	}
}

// circleCircle compares squared distance with the squared radius sum.
func circleCircle(a, b Hull) bool {
	r := a.Radius + b.Radius
	return a.Center.DistSq(b.Center) <= r*r
}

// boxBox is the separating-axis test specialised to axis-aligned boxes: the
// only candidate axes are X and Y.
func boxBox(a, b Hull) bool {
	return a.Bounds().Overlaps(b.Bounds())
}

// polygonPolygon runs the separating-axis test over the edge normals of both
// polygons.
func polygonPolygon(a, b Hull) bool {
	for _, axes := range [2][]geom.Vec2{a.Axes(), b.Axes()} {
		for _, axis := range axes {
			minA, maxA := project(a.Points, axis)
			minB, maxB := project(b.Points, axis)
			if maxA < minB || maxB < minA {
				return false
			}
		}
	}
	return true
}

// circlePolygon tests the polygon edge normals plus the axis from the circle
// centre to the closest polygon vertex.
func circlePolygon(c, p Hull) bool {
	axes := p.Axes()
	closest := p.Points[0]
	best := c.Center.DistSq(closest)
	for _, v := range p.Points[1:] {
		if d := c.Center.DistSq(v); d < best {
			best, closest = d, v
		}
	}
	if best <= c.Radius*c.Radius {
		return true
	}
	axes = append(axes, c.Center.Sub(closest))

	for _, axis := range axes {
		length := axis.Len()
		if length == 0 {
			continue
		}
		minP, maxP := project(p.Points, axis)
		centre := c.Center.Dot(axis)
		reach := c.Radius * length
		if maxP < centre-reach || centre+reach < minP {
			return false
		}
	}
	return true
}

func project(points []geom.Vec2, axis geom.Vec2) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range points {
		d := p.Dot(axis)
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}
