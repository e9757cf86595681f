package collision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/events"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/hull"
	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/core/spatial"
)

type frameCtx struct {
	grid *spatial.Grid
	err  error
}

func (c *frameCtx) Grid() *spatial.Grid { return c.grid }
func (c *frameCtx) Logger() log.Log     { return log.NewNop() }
func (c *frameCtx) Frame() entity.Frame { return entity.Frame{Number: 1} }
func (c *frameCtx) Err() error          { return c.err }
func (c *frameCtx) Fail(err error)      { c.err = err }

func newWorld(t *testing.T) *frameCtx {
	t.Helper()
	g, err := spatial.New(spatial.Config{Width: 400, Height: 400, Divisions: 4})
	require.NoError(t, err)
	return &frameCtx{grid: g}
}

func spawn(t *testing.T, ctx *frameCtx, at geom.Vec2, body entity.Body, cs ...entity.Component) *entity.Entity {
	t.Helper()
	e := entity.New(entity.WithPosition(at), entity.WithBody(body))
	e.MustAttach(cs...)
	require.True(t, e.Register(ctx.grid))
	return e
}

type recorder struct {
	signal Signal
	events []Event
}

func (r *recorder) OnCollide(ev Event) Signal {
	r.events = append(r.events, ev)
	return r.signal
}

func (r *recorder) targets() []*entity.Entity {
	out := make([]*entity.Entity, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Target)
	}
	return out
}

func TestStopEndsScan(t *testing.T) {
	ctx := newWorld(t)
	rec := &recorder{signal: Stop}
	col := New("collider", rec)
	host := spawn(t, ctx, geom.V(50, 50), Circle{Radius: 10}, col)
	first := spawn(t, ctx, geom.V(55, 50), Circle{Radius: 5})
	spawn(t, ctx, geom.V(50, 55), Circle{Radius: 5})
	spawn(t, ctx, geom.V(45, 50), Circle{Radius: 5})

	require.Len(t, ctx.grid.Query(host.Position()), 4)

	host.Execute(ctx, time.Second)
	require.Len(t, rec.events, 1)
	assert.Same(t, host, rec.events[0].Host)
	assert.Same(t, first, rec.events[0].Target)
	assert.Equal(t, time.Second, rec.events[0].Time)
	assert.Equal(t, Stats{Candidates: 1, Tested: 1, Hits: 1, Stopped: true}, col.LastStats())

	rec.signal = Continue
	rec.events = nil
	host.Execute(ctx, 2*time.Second)
	assert.Len(t, rec.events, 3)
	assert.Equal(t, Stats{Candidates: 3, Tested: 3, Hits: 3}, col.LastStats())
}

func TestMissesAreNotReported(t *testing.T) {
	ctx := newWorld(t)
	rec := &recorder{}
	col := New("collider", rec)
	host := spawn(t, ctx, geom.V(50, 50), Circle{Radius: 5}, col)
	near := spawn(t, ctx, geom.V(57, 50), Circle{Radius: 5})
	spawn(t, ctx, geom.V(61, 50), Circle{Radius: 5})

	host.Execute(ctx, 0)
	assert.Equal(t, []*entity.Entity{near}, rec.targets())
	assert.Equal(t, Stats{Candidates: 2, Tested: 2, Hits: 1}, col.LastStats())
}

func TestFarEntitiesAreNotCandidates(t *testing.T) {
	ctx := newWorld(t)
	rec := &recorder{}
	col := New("collider", rec)
	host := spawn(t, ctx, geom.V(10, 10), Circle{Radius: 5}, col)
	b := spawn(t, ctx, geom.V(205, 205), Circle{Radius: 5})

	host.Execute(ctx, 0)
	assert.Zero(t, col.LastStats().Candidates)

	b.SetPosition(geom.V(95, 95))
	require.True(t, b.Register(ctx.grid))
	host.Execute(ctx, 0)
	assert.Equal(t, 1, col.LastStats().Candidates, "adjacent cell via the cross")
	assert.Empty(t, rec.events, "candidate but no contact")
}

func TestSkipsCandidatesWithoutShape(t *testing.T) {
	ctx := newWorld(t)
	rec := &recorder{}
	col := New("collider", rec)
	host := spawn(t, ctx, geom.V(50, 50), Circle{Radius: 5}, col)
	ghost := spawn(t, ctx, geom.V(52, 50), Circle{Radius: 5})
	ghost.SetBody(nil)

	host.Execute(ctx, 0)
	assert.Empty(t, rec.events)
	assert.Equal(t, Stats{Candidates: 1, Skipped: 1}, col.LastStats())
	assert.NoError(t, ctx.Err(), "a missing shape is not an error")

	host.SetBody(nil)
	ghost.SetBody(Circle{Radius: 5})
	host.Execute(ctx, 0)
	assert.Equal(t, Stats{Candidates: 1, Skipped: 1}, col.LastStats())
}

func TestApproximationPolicy(t *testing.T) {
	for _, tc := range []struct {
		approx Approximation
		hit    bool
	}{
		{ApproxCircle, true},
		{ApproxBox, false},
	} {
		t.Run(tc.approx.String(), func(t *testing.T) {
			ctx := newWorld(t)
			rec := &recorder{}
			col := New("collider", rec, WithApproximation(tc.approx))
			host := spawn(t, ctx, geom.V(50, 50), Circle{Radius: 5}, col)
			spawn(t, ctx, geom.V(60, 50), Bounds{Width: 4, Height: 40})

			host.Execute(ctx, 0)
			assert.Equal(t, tc.hit, len(rec.events) == 1)
			assert.Equal(t, 1, col.LastStats().Tested)
		})
	}
}

func TestMasksPassThrough(t *testing.T) {
	ctx := newWorld(t)
	rec := &recorder{}
	host := spawn(t, ctx, geom.V(50, 50), Circle{Radius: 5}, New("collider", rec, WithMask(0b01)))
	spawn(t, ctx, geom.V(53, 50), Circle{Radius: 5}, New("collider", HandlerFunc(func(Event) Signal { return Continue }), WithMask(0b10)))

	host.Execute(ctx, 0)
	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, Mask(0b01), ev.HostMask)
	assert.Equal(t, Mask(0b10), ev.TargetMask)
	assert.False(t, ev.Interested(), "disjoint masks are still delivered")
}

func TestPublishesHits(t *testing.T) {
	ctx := newWorld(t)
	bus := events.New()
	var got []events.Event
	_, err := bus.Subscribe(events.KindCollision, func(ev events.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	host := spawn(t, ctx, geom.V(50, 50), Circle{Radius: 5},
		New("collider", &recorder{}, WithPublisher(bus), WithPriority(0.9)))
	target := spawn(t, ctx, geom.V(53, 50), Box{Width: 4, Height: 4})

	host.Execute(ctx, 3*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Frame)
	assert.Equal(t, host.ID(), got[0].Source)
	payload, ok := got[0].Payload.(Event)
	require.True(t, ok)
	assert.Same(t, target, payload.Target)
}

func TestMissingHandlerFailsFrame(t *testing.T) {
	ctx := newWorld(t)
	host := spawn(t, ctx, geom.V(50, 50), Circle{Radius: 5}, New("collider", nil))

	host.Execute(ctx, 0)
	assert.ErrorIs(t, ctx.Err(), ErrNoHandler)
	var contract *entity.ContractError
	require.ErrorAs(t, ctx.Err(), &contract)
	assert.Equal(t, host.ID(), contract.Entity)
}

func TestPolygonBody(t *testing.T) {
	_, err := NewPolygon(geom.V(0, 0), geom.V(1, 1))
	assert.ErrorIs(t, err, hull.ErrTooFewPoints)

	tri, err := NewPolygon(geom.V(-5, -5), geom.V(5, -5), geom.V(0, 5))
	require.NoError(t, err)

	ctx := newWorld(t)
	rec := &recorder{}
	host := spawn(t, ctx, geom.V(100, 100), tri, New("collider", rec))
	spawn(t, ctx, geom.V(100, 112), Circle{Radius: 8})
	spawn(t, ctx, geom.V(100, 90), Circle{Radius: 4})

	host.Execute(ctx, 0)
	require.Len(t, rec.events, 1, "only the circle touching the apex region hits")
	assert.Equal(t, geom.V(100, 112), rec.events[0].Target.Position())
}

func TestResolveHull(t *testing.T) {
	at := geom.V(10, 10)

	h, ok := ResolveHull(Circle{Radius: 3, Offset: geom.V(1, 0)}, at, ApproxBox)
	require.True(t, ok)
	assert.Equal(t, hull.KindCircle, h.Kind, "exact hull wins over approximation")
	assert.Equal(t, geom.V(11, 10), h.Center)

	h, ok = ResolveHull(Bounds{Width: 6, Height: 2}, at, ApproxCircle)
	require.True(t, ok)
	assert.Equal(t, hull.KindCircle, h.Kind)
	assert.Equal(t, 3.0, h.Radius)

	h, ok = ResolveHull(Bounds{Width: 6, Height: 2}, at, ApproxBox)
	require.True(t, ok)
	assert.Equal(t, geom.R(7, 9, 13, 11), h.Bounds())

	_, ok = ResolveHull(nil, at, ApproxCircle)
	assert.False(t, ok)
	_, ok = ResolveHull(Circle{Radius: -1}, at, ApproxCircle)
	assert.False(t, ok)
}

func TestParseApproximation(t *testing.T) {
	a, err := ParseApproximation("box")
	require.NoError(t, err)
	assert.Equal(t, ApproxBox, a)

	a, err = ParseApproximation("")
	require.NoError(t, err)
	assert.Equal(t, ApproxCircle, a)

	_, err = ParseApproximation("obb")
	assert.Error(t, err)
}
