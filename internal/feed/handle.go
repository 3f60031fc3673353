package feed

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/depotops/feedmux/internal/wire"
)

// EventFunc receives one parsed event frame.
type EventFunc func(evt wire.Event)

// Callbacks is a handle's fixed callback table. Any entry may be nil; nil
// entries are skipped.
type Callbacks struct {
	// OnConnectionEstablished fires when the shared connection becomes
	// usable, including after every reconnect.
	OnConnectionEstablished func()

	// OnConnectionLost fires when the shared connection drops, with the
	// transport error that triggered the reconnect.
	OnConnectionLost func(error)

	// Events maps event kind (the frame's "type" field) to the callback
	// invoked for it. Kinds without an entry are skipped for this handle.
	Events map[string]EventFunc
}

// Handle lifecycle states. Done is terminal: a deregistered handle cannot
// be registered again.
const (
	handleCreated int32 = iota
	handleLive
	handleDone
)

// epochCounter hands out registration epochs, monotonic across the process.
var epochCounter atomic.Uint64

// Handle identifies one consumer of the shared feed: a fixed topic set, a
// fixed callback table, and a registration epoch.
type Handle struct {
	id        uuid.UUID
	topics    []string
	callbacks Callbacks
	epoch     uint64

	state atomic.Int32

	// mu orders callback invocation against teardown: dispatch invokes
	// callbacks under the read lock, Deregister takes the write lock as a
	// barrier after flipping the state.
	mu sync.RWMutex
}

// NewHandle creates an unregistered handle. Duplicate topics collapse to a
// single subscription; an empty topic set is valid (the handle receives
// connection lifecycle callbacks only).
func NewHandle(topics []string, callbacks Callbacks) *Handle {
	return &Handle{
		id:        uuid.New(),
		topics:    dedupTopics(topics),
		callbacks: callbacks,
		epoch:     epochCounter.Add(1),
	}
}

// ID returns the handle's unique id.
func (h *Handle) ID() uuid.UUID { return h.id }

// Topics returns a copy of the handle's topic set.
func (h *Handle) Topics() []string {
	return append([]string(nil), h.topics...)
}

// Epoch returns the handle's registration epoch.
func (h *Handle) Epoch() uint64 { return h.epoch }

// Alive reports whether the handle can still receive callbacks.
func (h *Handle) Alive() bool { return h.state.Load() == handleLive }

// dispatchEvent invokes the callback registered for the event's kind.
// Liveness is re-checked under the read lock immediately before invocation,
// so a handle mid-teardown never fires. Reports whether a callback ran.
func (h *Handle) dispatchEvent(evt wire.Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.state.Load() != handleLive {
		return false
	}
	cb := h.callbacks.Events[evt.Type]
	if cb == nil {
		return false
	}
	cb(evt)
	return true
}

// notifyEstablished invokes OnConnectionEstablished if set and live.
func (h *Handle) notifyEstablished() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.state.Load() != handleLive || h.callbacks.OnConnectionEstablished == nil {
		return
	}
	h.callbacks.OnConnectionEstablished()
}

// notifyLost invokes OnConnectionLost if set and live.
func (h *Handle) notifyLost(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.state.Load() != handleLive || h.callbacks.OnConnectionLost == nil {
		return
	}
	h.callbacks.OnConnectionLost(err)
}

// barrier returns once no callback is mid-flight: dispatch holds the read
// lock while invoking, so acquiring the write lock waits them out.
func (h *Handle) barrier() {
	h.mu.Lock()
	// Acquiring the write lock is the synchronization; there is nothing to
	// do while holding it.
	h.mu.Unlock()
}

func dedupTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}
