package debugfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/framecore/internal/core/behavior"
	"github.com/zeusync/framecore/internal/core/collision"
	"github.com/zeusync/framecore/internal/core/config"
	"github.com/zeusync/framecore/internal/core/entity"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/sim"
	"github.com/zeusync/framecore/internal/core/spatial"
)

func newSim(t *testing.T) *sim.Simulation {
	t.Helper()
	cfg := config.Default()
	cfg.World = spatial.Config{Width: 400, Height: 400, Divisions: 4}
	s, err := sim.New(cfg)
	require.NoError(t, err)

	ball := entity.New(entity.WithName("ball"), entity.WithPosition(geom.V(10, 10)), entity.WithBody(collision.Circle{Radius: 5})).
		MustAttach(behavior.NewMover("move", geom.V(10, 0)), behavior.NewGridSync("sync"))
	peer := entity.New(entity.WithName("peer"), entity.WithPosition(geom.V(95, 95)), entity.WithBody(collision.Circle{Radius: 5}))
	require.NoError(t, s.Spawn(ball))
	require.NoError(t, s.Spawn(peer))
	return s
}

func dial(t *testing.T, server *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(u, nil)
}

func connect(t *testing.T, feed *Feed, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	before := feed.Clients()
	conn, _, err := dial(t, server, query)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return feed.Clients() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestSnapshotOf(t *testing.T) {
	s := newSim(t)
	require.NoError(t, s.Step(context.Background(), time.Second))

	snap, err := SnapshotOf(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Frame)
	assert.Equal(t, int64(1000), snap.TimeMillis)
	assert.Equal(t, 2, snap.Occupants)
	assert.Zero(t, snap.DirtyNodes)
	assert.Empty(t, snap.Halted)
	require.Len(t, snap.Entities, 2)

	ball := snap.Entities[0]
	assert.Equal(t, "ball", ball.Name)
	assert.Equal(t, 20.0, ball.X)
	assert.Equal(t, 2, ball.Components)
	assert.Equal(t, 1, ball.Neighbours)
}

func TestFeedRequiresToken(t *testing.T) {
	feed := New(WithToken("letmein"))
	server := httptest.NewServer(feed.Handler())
	defer server.Close()
	defer feed.Close()

	_, resp, err := dial(t, server, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, _, err = dial(t, server, "?token=wrong")
	assert.Error(t, err)

	conn := connect(t, feed, server, "?token=letmein")
	defer conn.Close()
}

func TestBroadcastAndAttach(t *testing.T) {
	s := newSim(t)
	feed := New()
	server := httptest.NewServer(feed.Handler())
	defer server.Close()
	defer feed.Close()

	conn := connect(t, feed, server, "")
	defer conn.Close()

	assert.Equal(t, 1, feed.Broadcast(Snapshot{Frame: 42}))
	var got Snapshot
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint64(42), got.Frame)

	sub, err := feed.Attach(s)
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, s.Step(context.Background(), 500*time.Millisecond))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint64(1), got.Frame)
	assert.Equal(t, int64(500), got.TimeMillis)
	require.Len(t, got.Entities, 2)
	assert.Equal(t, 15.0, got.Entities[0].X)
}

func TestCloseDisconnectsClients(t *testing.T) {
	feed := New()
	server := httptest.NewServer(feed.Handler())
	defer server.Close()

	conn := connect(t, feed, server, "")
	defer conn.Close()

	require.NoError(t, feed.Close())
	assert.Zero(t, feed.Clients())

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.Zero(t, feed.Broadcast(Snapshot{}))
	assert.NoError(t, feed.Close())
}

func TestServeStopsWithContext(t *testing.T) {
	feed := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Serve(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
