package physics

import (
	"time"

	"github.com/jakecoffman/cp"

	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/hull"
)

var _ entity.HullBody = (*ShapeBody)(nil)

// ShapeBody presents a cp shape as an entity body. The shape's bounding box
// is re-expressed relative to the position the caller asks about.
type ShapeBody struct {
	shape  *cp.Shape
	static bool
	anchor geom.Vec2
}

func (s *ShapeBody) Shape() *cp.Shape { return s.shape }

func (s *ShapeBody) origin() geom.Vec2 {
	if s.static {
		return s.anchor
	}
	return fromVec(s.shape.Body().Position())
}

func (s *ShapeBody) WorldBox(at geom.Vec2) (geom.Rect, bool) {
	bb := s.shape.BB()
	d := at.Sub(s.origin())
	return geom.R(bb.L, bb.B, bb.R, bb.T).Translate(d), true
}

// Hull is exact for circles and the bounding box for every other shape.
func (s *ShapeBody) Hull(at geom.Vec2) (hull.Hull, bool) {
	if c, ok := s.shape.Class.(*cp.Circle); ok {
		center := fromVec(c.TransformC()).Add(at.Sub(s.origin()))
		return hull.NewCircle(center, c.Radius()), true
	}
	box, ok := s.WorldBox(at)
	if !ok {
		return hull.Hull{}, false
	}
	return hull.NewBox(box), true
}

// Sync copies the cp body position into its host every frame.
type Sync struct {
	entity.Base
	body *cp.Body
}

func NewSync(body *cp.Body) *Sync {
	return &Sync{Base: entity.NewBase(SyncName, entity.TypeTransform, entity.MaxPriority), body: body}
}

func (s *Sync) Execute(_ entity.Context, _ time.Duration) bool {
	if host := s.Host(); host != nil {
		host.SetPosition(fromVec(s.body.Position()))
	}
	return true
}
