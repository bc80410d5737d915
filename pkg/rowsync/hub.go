package rowsync

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vanderheijden86/treegrid/pkg/debug"
	"github.com/vanderheijden86/treegrid/pkg/metrics"
)

// ErrSlowViewer ends a session whose outbox overflowed.
var ErrSlowViewer = errors.New("viewer is not reading fast enough")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Session is the per-connection server state driven by a Hub. A tree grid
// satisfies it.
type Session interface {
	Initialize(ctx context.Context) error
	SendInitial() error
	RequestRows(first, count int) error
	SetExpanded(ctx context.Context, key string, expanded bool) error
}

// Refresher is implemented by sessions that can re-fetch their rows.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// SessionFactory builds a fresh session that reports to sink.
type SessionFactory func(sink Sink) Session

// Hub serves row sync sessions over websockets, one session per connection.
type Hub struct {
	newSession SessionFactory
	upgrader   websocket.Upgrader
	outbox     int
	rate       rate.Limit
	burst      int

	mu    sync.RWMutex
	conns map[*conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithOutboxSize bounds the number of queued server messages per connection.
func WithOutboxSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.outbox = n
		}
	}
}

// WithRequestRate limits each connection to perSecond viewer messages with
// bursts of burst. Excess messages are not dropped: the connection stops
// reading until the limiter allows the next one. Zero disables the limit.
func WithRequestRate(perSecond float64, burst int) HubOption {
	return func(h *Hub) {
		if perSecond <= 0 {
			h.rate = rate.Inf
			return
		}
		h.rate = rate.Limit(perSecond)
		h.burst = max(burst, 1)
	}
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewHub creates a hub that builds sessions with newSession.
func NewHub(newSession SessionFactory, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		newSession: newSession,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 10,
			WriteBufferSize: 1 << 12,
		},
		outbox: 256,
		rate:   rate.Inf,
		conns:  make(map[*conn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close ends every session.
func (h *Hub) Close() {
	h.cancel()
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RefreshAll re-fetches the rows of every session that supports it. Errors
// are logged per session and joined.
func (h *Hub) RefreshAll(ctx context.Context) error {
	h.mu.RLock()
	sessions := make([]Session, 0, len(h.conns))
	for c := range h.conns {
		sessions = append(sessions, c.session)
	}
	h.mu.RUnlock()

	var errs []error
	for _, s := range sessions {
		r, ok := s.(Refresher)
		if !ok {
			continue
		}
		if err := r.RefreshAll(ctx); err != nil {
			log.Printf("warning: refreshing session: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServeHTTP upgrades the request and runs a session until either side hangs
// up.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("warning: upgrading websocket: %v", err)
		return
	}

	c := &conn{
		ws:       ws,
		out:      make(chan Message, h.outbox),
		overflow: make(chan struct{}),
	}
	if h.rate != rate.Inf {
		c.limiter = rate.NewLimiter(h.rate, h.burst)
	}
	c.session = h.newSession(Emitter(c.enqueue))

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	metrics.Sessions.Inc()
	debug.Log("session opened from %s", r.RemoteAddr)

	err = c.run(h.ctx)

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	metrics.Sessions.Dec()
	if err != nil {
		log.Printf("warning: session %s ended: %v", r.RemoteAddr, err)
	}
	debug.Log("session closed from %s", r.RemoteAddr)
}

type conn struct {
	ws       *websocket.Conn
	session  Session
	out      chan Message
	overflow chan struct{}
	once     sync.Once
	limiter  *rate.Limiter
}

// enqueue never blocks: it runs under the session's lock.
func (c *conn) enqueue(m Message) {
	select {
	case c.out <- m:
	default:
		c.once.Do(func() { close(c.overflow) })
	}
}

func (c *conn) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer c.ws.Close()
		return c.writeLoop(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return c.readLoop(ctx, g)
	})
	return g.Wait()
}

func (c *conn) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case <-c.overflow:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ErrSlowViewer.Error()), time.Now().Add(writeWait))
			return ErrSlowViewer
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case m := <-c.out:
			if err := c.write(m); err != nil {
				return err
			}
		}
	}
}

func (c *conn) write(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	wc, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := wc.Write(data); err != nil {
		return err
	}
	return wc.Close()
}

func (c *conn) readLoop(ctx context.Context, g *errgroup.Group) error {
	c.ws.SetReadLimit(1 << 16)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := c.session.Initialize(ctx); err != nil {
		c.enqueue(ErrorMessage(err))
	} else if err := c.session.SendInitial(); err != nil {
		c.enqueue(ErrorMessage(err))
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := c.throttle(ctx); err != nil {
			return nil
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		m, err := Decode(data)
		if err != nil {
			metrics.ProtocolErrors.Inc()
			c.enqueue(ErrorMessage(err))
			continue
		}
		metrics.MessagesReceived.WithLabelValues(string(m.Op)).Inc()
		c.dispatch(ctx, g, m)
	}
}

// throttle waits for the limiter. It fails only when ctx ends.
func (c *conn) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if c.limiter.Allow() {
		return nil
	}
	metrics.ThrottledRequests.Inc()
	return c.limiter.Wait(ctx)
}

func (c *conn) dispatch(ctx context.Context, g *errgroup.Group, m Message) {
	switch m.Op {
	case OpRequestRows:
		if err := c.session.RequestRows(m.FirstRow, m.Count); err != nil {
			c.reject(err)
		}
	case OpSetExpanded:
		// Toggles may block on the data source; run them beside the reader so
		// the viewer can keep scrolling.
		g.Go(func() error {
			if err := c.session.SetExpanded(ctx, m.Key, m.Expanded); err != nil && ctx.Err() == nil {
				c.reject(err)
			}
			return nil
		})
	default:
		c.reject(errors.New("unexpected op " + string(m.Op)))
	}
}

func (c *conn) reject(err error) {
	metrics.ProtocolErrors.Inc()
	c.enqueue(ErrorMessage(err))
}
