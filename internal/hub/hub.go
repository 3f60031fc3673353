package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/depotops/feedmux/internal/wire"
)

// Config configures the hub.
type Config struct {
	PingInterval time.Duration // Keepalive ping cadence per connection
	PongTimeout  time.Duration // Max silence before a connection is presumed dead
	WriteTimeout time.Duration // Write deadline for outbound frames
	SendBuffer   int           // Per-connection outbound channel capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   64,
	}
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Connections      int   // currently connected clients
	TotalConnections int64 // connections accepted since start
	EventsBroadcast  int64 // events offered for fan-out
	FramesDelivered  int64 // event frames enqueued to clients
	ControlsReceived int64 // well-formed control frames
	MalformedFrames  int64 // inbound frames that failed to parse
	SlowClientDrops  int64 // connections closed because their send buffer filled
}

// Hub accepts WebSocket clients and fans event frames out to the
// connections subscribed to each event's topic. It serves the same wire
// protocol the client stack consumes.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*conn
	closed bool

	wg sync.WaitGroup

	totalConns       atomic.Int64
	eventsBroadcast  atomic.Int64
	framesDelivered  atomic.Int64
	controlsReceived atomic.Int64
	malformedFrames  atomic.Int64
	slowClientDrops  atomic.Int64
}

// New creates a hub. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		cfg:    cfg,
		logger: logger.With("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The simulator is a development endpoint; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
}

// ServeHTTP upgrades the request and runs the connection pumps. The handler
// returns once the pumps are started; the connection lives until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(h, ws)
	if !h.add(c) {
		// Closed between the check and the upgrade.
		_ = ws.Close()
		return
	}

	h.logger.Info("client connected", "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

// Broadcast encodes the event once and enqueues it to every connection
// subscribed to its topic. A connection whose send buffer is full is closed
// rather than allowed to stall the rest.
func (h *Hub) Broadcast(evt wire.Event) {
	data, err := evt.Encode()
	if err != nil {
		h.logger.Warn("event frame encode failed", "type", evt.Type, "topic", evt.Topic, "error", err)
		return
	}
	h.eventsBroadcast.Add(1)

	for _, c := range h.snapshot() {
		if !c.subscribed(evt.Topic) {
			continue
		}
		select {
		case c.send <- data:
			h.framesDelivered.Add(1)
		default:
			h.slowClientDrops.Add(1)
			h.logger.Warn("send buffer full, closing slow client", "conn", c.id)
			c.close()
		}
	}
}

// Close rejects new connections, tears down existing ones, and waits for
// their pumps to exit. The context bounds the wait. Idempotent.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub closed", "connections", len(conns))
		return nil
	case <-ctx.Done():
		h.logger.Warn("hub close timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	connections := len(h.conns)
	h.mu.RUnlock()

	return Stats{
		Connections:      connections,
		TotalConnections: h.totalConns.Load(),
		EventsBroadcast:  h.eventsBroadcast.Load(),
		FramesDelivered:  h.framesDelivered.Load(),
		ControlsReceived: h.controlsReceived.Load(),
		MalformedFrames:  h.malformedFrames.Load(),
		SlowClientDrops:  h.slowClientDrops.Load(),
	}
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	h.totalConns.Add(1)
	// Registered under the lock so a concurrent Close either waits for this
	// connection's pumps or never saw the connection at all.
	h.wg.Add(2)
	return true
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	remaining := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("client disconnected", "conn", c.id, "connections", remaining)
}

func (h *Hub) snapshot() []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}
