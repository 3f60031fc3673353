package connection

import (
	"errors"
	"time"

	"github.com/depotops/feedmux/internal/backoff"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrClosed          = errors.New("manager closed")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawFrame is an inbound frame handed from the Manager to the Dispatcher.
type RawFrame struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when the client received the frame
}

// StateChange notifies listeners of a connection state transition.
type StateChange struct {
	State State
	Err   error // Transport error that caused the transition, if any
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://ops.depot.example/feed)
	HandshakeTimeout time.Duration // Dial handshake deadline
	PingInterval     time.Duration // Keepalive ping cadence
	PingTimeout      time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       4096,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL              string         // WebSocket URL of the feed endpoint
	Backoff          backoff.Policy // Reconnect delay policy
	StableResetAfter time.Duration  // Connected time after which the attempt counter resets
	HandshakeTimeout time.Duration  // Dial handshake deadline
	PingInterval     time.Duration  // Keepalive ping cadence
	PingTimeout      time.Duration  // Stale connection threshold
	WriteTimeout     time.Duration  // Write deadline for sends
	FrameBufferSize  int            // Buffer size for the inbound frame channel
	PendingCapacity  int            // Initial capacity of the outbound pending queue
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Backoff:          backoff.DefaultPolicy(),
		StableResetAfter: 60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		FrameBufferSize:  4096,
		PendingCapacity:  64,
	}
}

func (cfg ManagerConfig) clientConfig() ClientConfig {
	return ClientConfig{
		URL:              cfg.URL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PingInterval:     cfg.PingInterval,
		PingTimeout:      cfg.PingTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		BufferSize:       cfg.FrameBufferSize,
	}
}
