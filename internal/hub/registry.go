package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gostudio/orchestra/internal/metrics"
	"nhooyr.io/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultReapInterval = 60 * time.Second

	writeTimeout  = 10 * time.Second
	sendQueueSize = 64
)

// Socket is the transport a connection writes to. *websocket.Conn satisfies
// it; tests substitute an in-memory fake.
type Socket interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// connection is one registered client. All outbound frames funnel through
// the send channel so a single goroutine owns socket writes.
type connection struct {
	id     string
	sock   Socket
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	lastSeen time.Time
	suspect  bool
}

// enqueue marshals a frame onto the connection's send queue. A saturated
// queue means the client stopped draining its socket; silently skipping
// frames there would leave holes in the transcript, so the connection is
// torn down instead.
func (c *connection) enqueue(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.cancel()
	}
}

func (c *connection) writePump() {
	for {
		select {
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.sock.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.suspect = false
	c.mu.Unlock()
}

// Registry tracks live connections and enforces heartbeat liveness. Run
// drives two sweeps: a ping sweep that marks quiet connections suspect and
// probes them, and a reap sweep that terminates connections that stayed
// silent past the reap interval.
type Registry struct {
	logger       *slog.Logger
	metrics      *metrics.Metrics
	pingInterval time.Duration
	reapInterval time.Duration

	mu    sync.Mutex
	conns map[string]*connection
}

// NewRegistry builds a registry. Zero intervals fall back to the defaults.
func NewRegistry(logger *slog.Logger, m *metrics.Metrics, pingInterval, reapInterval time.Duration) *Registry {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if reapInterval <= 0 {
		reapInterval = defaultReapInterval
	}
	return &Registry{
		logger:       logger.With(slog.String("module", "registry")),
		metrics:      m,
		pingInterval: pingInterval,
		reapInterval: reapInterval,
		conns:        make(map[string]*connection),
	}
}

// Register admits a socket, assigns it an ID, and starts its write pump.
// The returned connection's context is cancelled on Unregister, which in
// turn cancels every session the connection owns.
func (r *Registry) Register(sock Socket) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		id:       uuid.NewString(),
		sock:     sock,
		send:     make(chan []byte, sendQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		lastSeen: time.Now(),
	}
	go conn.writePump()

	r.mu.Lock()
	r.conns[conn.id] = conn
	r.mu.Unlock()

	r.metrics.ConnectionsActive.Inc()
	r.metrics.ConnectionsTotal.Inc()
	r.logger.Debug("Connection registered", slog.String("connectionID", conn.id))
	return conn
}

// Heartbeat records liveness for a connection. Unknown IDs are ignored.
func (r *Registry) Heartbeat(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	r.mu.Unlock()
	if ok {
		conn.touch()
	}
}

// IsAlive reports whether a connection is still registered.
func (r *Registry) IsAlive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// Unregister removes a connection and cancels its context. Safe to call
// more than once.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	conn.cancel()
	_ = conn.sock.Close(websocket.StatusNormalClosure, "")
	r.metrics.ConnectionsActive.Dec()
	r.logger.Debug("Connection unregistered", slog.String("connectionID", id))
}

// Run drives the heartbeat sweeps until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	pingTicker := time.NewTicker(r.pingInterval)
	reapTicker := time.NewTicker(r.reapInterval)
	defer pingTicker.Stop()
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			r.pingSweep()
		case <-reapTicker.C:
			r.reapSweep()
		}
	}
}

func (r *Registry) snapshot() []*connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// pingSweep terminates connections that stayed suspect through a full
// interval and probes the rest. Probes run on both layers: a transport
// ping, whose pong the library handles for us, and an application ping
// frame for clients behind proxies that eat control frames.
func (r *Registry) pingSweep() {
	now := time.Now().UnixMilli()
	for _, conn := range r.snapshot() {
		conn.mu.Lock()
		suspect := conn.suspect
		conn.suspect = true
		conn.mu.Unlock()

		if suspect {
			r.logger.Info("Terminating unresponsive connection", slog.String("connectionID", conn.id))
			r.metrics.HeartbeatTimeoutsTotal.Inc()
			r.Unregister(conn.id)
			continue
		}

		go func(conn *connection) {
			pctx, cancel := context.WithTimeout(conn.ctx, writeTimeout)
			defer cancel()
			if err := conn.sock.Ping(pctx); err == nil {
				conn.touch()
			}
		}(conn)
		conn.enqueue(serverFrame{Type: "ping", Timestamp: now})
	}
}

func (r *Registry) reapSweep() {
	cutoff := time.Now().Add(-r.reapInterval)
	for _, conn := range r.snapshot() {
		conn.mu.Lock()
		stale := conn.lastSeen.Before(cutoff)
		conn.mu.Unlock()
		if stale {
			r.logger.Info("Reaping stale connection", slog.String("connectionID", conn.id))
			r.metrics.HeartbeatTimeoutsTotal.Inc()
			r.Unregister(conn.id)
		}
	}
}
