// Package debugfeed streams simulation snapshots to websocket clients.
package debugfeed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/framecore/internal/core/events"
	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/core/sim"
)

var (
	ErrFeedClosed   = errors.New("debug feed is closed")
	ErrUnauthorized = errors.New("unauthorized")
)

const writeTimeout = time.Second

type Feed struct {
	upgrader websocket.Upgrader
	token    string
	logger   log.Log

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

type Option func(*Feed)

// WithToken requires clients to pass ?token=<token> when connecting.
func WithToken(token string) Option {
	return func(f *Feed) { f.token = token }
}

func WithLogger(l log.Log) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

func New(opts ...Option) *Feed {
	f := &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  log.NewNop(),
		clients: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Handler serves the feed on /ws.
func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handleWebSocket)
	return mux
}

func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) authorize(r *http.Request) error {
	if f.token == "" {
		return nil
	}
	if r.URL.Query().Get("token") != f.token {
		return ErrUnauthorized
	}
	return nil
}

func (f *Feed) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := f.authorize(r); err != nil {
		f.logger.Warn("debug feed client rejected", log.String("remote", r.RemoteAddr), log.Error(err))
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("debug feed upgrade failed", log.String("remote", r.RemoteAddr), log.Error(err))
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ErrFeedClosed.Error()))
		_ = conn.Close()
		return
	}
	f.clients[conn] = struct{}{}
	f.mu.Unlock()
	f.logger.Debug("debug feed client connected", log.String("remote", r.RemoteAddr))

	// Clients only listen; reading detects when they go away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.drop(conn)
}

func (f *Feed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	_, ok := f.clients[conn]
	delete(f.clients, conn)
	f.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Broadcast writes snap as JSON to every client and drops the ones that fail.
// It returns the number of clients that received it.
func (f *Feed) Broadcast(snap Snapshot) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	sent := 0
	for conn := range f.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(snap); err != nil {
			f.logger.Debug("debug feed client dropped", log.String("remote", conn.RemoteAddr().String()), log.Error(err))
			_ = conn.Close()
			delete(f.clients, conn)
			continue
		}
		sent++
	}
	return sent
}

// Attach broadcasts a snapshot of s after every completed frame.
func (f *Feed) Attach(s *sim.Simulation) (events.Subscription, error) {
	return s.Bus().Subscribe(events.KindFrame, func(events.Event) error {
		snap, err := SnapshotOf(context.Background(), s)
		if err != nil {
			return err
		}
		f.Broadcast(snap)
		return nil
	})
}

// Close disconnects every client. Later connections are refused.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for conn := range f.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
		_ = conn.Close()
		delete(f.clients, conn)
	}
	return nil
}

// Serve listens on addr until ctx is done, then shuts the server down and
// closes the feed.
func (f *Feed) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           f.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	f.logger.Info("debug feed listening", log.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = f.Close()
	return server.Shutdown(shutdownCtx)
}
