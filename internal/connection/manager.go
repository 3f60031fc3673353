package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/depotops/feedmux/internal/telemetry"
	"github.com/depotops/feedmux/internal/wire"
)

// TopicLister reports which topics must be subscribed on the wire. The
// subscription registry implements it; the Manager consults it on every
// (re)connect to replay subscriptions.
type TopicLister interface {
	// ActiveTopics returns the topics with at least one live handle, sorted.
	ActiveTopics() []string
}

// Manager owns the single feed connection.
type Manager interface {
	// Open establishes the transport if not already open. Idempotent. The
	// dial runs on the manager's goroutine; Open returns immediately.
	Open(ctx context.Context) error

	// Send transmits a control frame when connected, buffering it in FIFO
	// order otherwise. Never blocks on the network while buffering.
	Send(frame wire.Control) error

	// Close tears the transport down unconditionally and cancels any pending
	// reconnect. The connection is not reopened by handle churn afterwards.
	Close(ctx context.Context) error

	// Frames returns the inbound frame channel consumed by the Dispatcher.
	Frames() <-chan RawFrame

	// States returns connection state transitions.
	States() <-chan StateChange

	// State returns the current connection state.
	State() State

	// Stats returns connection statistics.
	Stats() ManagerStats
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State             State
	Reconnects        int64
	FramesReceived    int64
	FramesDropped     int64
	ControlFramesSent int64
	TopicsReplayed    int64
	PendingFrames     int
}

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	topics    TopicLister
	collector telemetry.Collector
	logger    *slog.Logger

	// Output channels
	frames chan RawFrame
	states chan StateChange

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	client  Client
	pending *pendingQueue
	opened  bool
	closed  bool

	// Reconnect bookkeeping, guarded by mu
	attempt     int
	connectedAt time.Time

	// Counters
	framesReceived atomic.Int64
	framesDropped  atomic.Int64
	controlSent    atomic.Int64
	reconnects     atomic.Int64
	topicsReplayed atomic.Int64
}

// NewManager creates a new Connection Manager. The TopicLister may be nil
// when no replay source exists (tests); the collector may be nil.
func NewManager(cfg ManagerConfig, topics TopicLister, collector telemetry.Collector, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = telemetry.Noop()
	}

	return &manager{
		cfg:       cfg,
		topics:    topics,
		collector: collector,
		logger:    logger,
		frames:    make(chan RawFrame, cfg.FrameBufferSize),
		states:    make(chan StateChange, 16),
		pending:   newPendingQueue(cfg.PendingCapacity),
		state:     StateDisconnected,
	}
}

// Open starts the connect/reconnect loop.
func (m *manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.opened {
		return nil
	}
	m.opened = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.setStateLocked(StateConnecting, nil)

	m.wg.Add(1)
	go m.run()

	return nil
}

// Send transmits a control frame, buffering it while not connected.
func (m *manager) Send(frame wire.Control) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateConnected || m.client == nil {
		m.pending.Append(data)
		n := m.pending.Len()
		m.mu.Unlock()
		m.collector.PendingFrames(n)
		return nil
	}
	client := m.client
	m.mu.Unlock()

	if err := client.Send(data); err != nil {
		// The read loop notices the dead transport and reconnects; replay
		// restores the wire state this frame was meant to establish.
		return fmt.Errorf("send control frame: %w", err)
	}

	m.controlSent.Add(1)
	m.collector.ControlSent(string(frame.Action))
	return nil
}

// Close tears down the connection and stops the reconnect loop.
func (m *manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	client := m.client
	m.client = nil
	if m.cancel != nil {
		m.cancel()
	}
	m.setStateLocked(StateDisconnected, nil)
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}

	// Wait for the run loop with the caller's deadline
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout waiting for run loop")
		return ctx.Err()
	}

	close(m.frames)
	close(m.states)

	m.logger.Info("connection manager closed")
	return nil
}

// Frames returns the inbound frame channel.
func (m *manager) Frames() <-chan RawFrame {
	return m.frames
}

// States returns the state transition channel.
func (m *manager) States() <-chan StateChange {
	return m.states
}

// State returns the current connection state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	state := m.state
	pending := m.pending.Len()
	m.mu.Unlock()

	return ManagerStats{
		State:             state,
		Reconnects:        m.reconnects.Load(),
		FramesReceived:    m.framesReceived.Load(),
		FramesDropped:     m.framesDropped.Load(),
		ControlFramesSent: m.controlSent.Load(),
		TopicsReplayed:    m.topicsReplayed.Load(),
		PendingFrames:     pending,
	}
}

// run drives the connect/watch/reconnect cycle until shutdown.
func (m *manager) run() {
	defer m.wg.Done()

	for {
		client, err := m.establish()
		if err == nil {
			err = m.watch(client)
			client.Close()
			m.collector.ConnectionUp(false)
		}

		if m.ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		// A session that stayed up long enough earns a fresh backoff schedule
		if !m.connectedAt.IsZero() && time.Since(m.connectedAt) >= m.cfg.StableResetAfter {
			m.attempt = 0
		}
		m.connectedAt = time.Time{}
		m.client = nil
		attempt := m.attempt
		m.attempt++
		m.setStateLocked(StateReconnecting, err)
		m.mu.Unlock()

		wait := m.cfg.Backoff.Delay(attempt)
		m.logger.Info("reconnecting",
			"attempt", attempt+1,
			"wait", wait,
			"error", err,
		)
		m.reconnects.Add(1)
		m.collector.ReconnectAttempt()

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// establish dials the endpoint, replays subscriptions for every active
// topic, flushes frames buffered during the outage in original order, and
// only then marks the connection usable.
func (m *manager) establish() (Client, error) {
	client := NewClient(m.cfg.clientConfig(), m.logger)
	if err := client.Connect(m.ctx); err != nil {
		return nil, err
	}

	var replayed int
	if m.topics != nil {
		for _, topic := range m.topics.ActiveTopics() {
			data, err := wire.NewSubscribe(topic).Encode()
			if err != nil {
				continue
			}
			if err := client.Send(data); err != nil {
				client.Close()
				return nil, fmt.Errorf("replay subscribe %q: %w", topic, err)
			}
			replayed++
			m.controlSent.Add(1)
			m.collector.ControlSent(string(wire.ActionSubscribe))
		}
	}

	// The queue-empty check and the Connected transition share one critical
	// section, so a concurrent Send cannot slip a frame past the flush.
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			client.Close()
			return nil, ErrClosed
		}
		data, ok := m.pending.Peek()
		if !ok {
			m.client = client
			m.connectedAt = time.Now()
			m.setStateLocked(StateConnected, nil)
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()

		if err := client.Send(data); err != nil {
			client.Close()
			return nil, fmt.Errorf("flush pending frame: %w", err)
		}

		m.mu.Lock()
		m.pending.Pop()
		pendingLen := m.pending.Len()
		m.mu.Unlock()
		m.controlSent.Add(1)
		m.collector.PendingFrames(pendingLen)
		if ctrl, err := wire.ParseControl(data); err == nil {
			m.collector.ControlSent(string(ctrl.Action))
		}
	}

	m.collector.ConnectionUp(true)
	m.topicsReplayed.Add(int64(replayed))
	if replayed > 0 {
		m.logger.Info("subscriptions replayed", "topics", replayed)
	}

	return client, nil
}

// watch blocks until the transport fails or the manager shuts down, routing
// inbound frames to the Dispatcher channel.
func (m *manager) watch(client Client) error {
	for {
		select {
		case <-m.ctx.Done():
			return nil

		case err := <-client.Errors():
			m.logger.Warn("connection error", "error", err)
			return err

		case msg, ok := <-client.Messages():
			if !ok {
				return ErrNotConnected
			}

			m.framesReceived.Add(1)
			m.collector.FrameReceived()

			select {
			case m.frames <- RawFrame{Data: msg.Data, ReceivedAt: msg.ReceivedAt}:
			case <-m.ctx.Done():
				return nil
			default:
				m.framesDropped.Add(1)
				m.logger.Warn("frame buffer full, dropping frame")
			}
		}
	}
}

// setStateLocked transitions the state and notifies listeners. Callers hold mu.
func (m *manager) setStateLocked(s State, err error) {
	if m.state == s {
		return
	}
	m.state = s

	select {
	case m.states <- StateChange{State: s, Err: err}:
	default:
		// Dropped when the listener lags; State() stays authoritative
	}

	if err != nil {
		m.logger.Debug("connection state", "state", s, "error", err)
	} else {
		m.logger.Debug("connection state", "state", s)
	}
}
