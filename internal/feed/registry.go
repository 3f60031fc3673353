package feed

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/depotops/feedmux/internal/telemetry"
	"github.com/depotops/feedmux/internal/wire"
)

var (
	// ErrNilHandle is returned when registering a nil handle.
	ErrNilHandle = errors.New("nil handle")

	// ErrAlreadyRegistered is returned when a handle is registered twice.
	ErrAlreadyRegistered = errors.New("handle already registered")

	// ErrHandleDone is returned when registering a deregistered handle.
	ErrHandleDone = errors.New("handle deregistered")
)

// ControlSender carries subscribe/unsubscribe frames toward the feed
// endpoint. connection.Manager satisfies it.
type ControlSender interface {
	Send(frame wire.Control) error
}

// RegistryStats contains runtime statistics.
type RegistryStats struct {
	Handles      int
	ActiveTopics int
	Subscribes   int64
	Unsubscribes int64
}

// Registry tracks live handles and per-topic ref-counts. It emits exactly
// one control frame per 0↔1 ref-count edge, in edge order.
type Registry struct {
	logger    *slog.Logger
	collector telemetry.Collector

	// mu serializes registration, teardown, and dispatch snapshots, and
	// holds across control sends so the wire sees ref-count edges in the
	// order they happened.
	mu           sync.Mutex
	sender       ControlSender
	handles      []*Handle            // registration order
	byTopic      map[string][]*Handle // per-topic registration order; ref-count = len
	subscribes   int64
	unsubscribes int64
}

// NewRegistry creates an empty registry. Wire a sender with SetSender
// before the first registration.
func NewRegistry(collector telemetry.Collector, logger *slog.Logger) *Registry {
	if collector == nil {
		collector = telemetry.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:    logger,
		collector: collector,
		byTopic:   make(map[string][]*Handle),
	}
}

// SetSender wires the control frame sink. The registry is the manager's
// TopicLister and the manager is the registry's sender, so one of the two
// is attached after construction.
func (r *Registry) SetSender(sender ControlSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = sender
}

// Register adds the handle and subscribes any topic whose ref-count rises
// from zero. Synchronous: dispatch can reach the handle as soon as Register
// returns. A handle registers at most once; deregistered handles are done.
func (r *Registry) Register(h *Handle) error {
	if h == nil {
		return ErrNilHandle
	}
	if !h.state.CompareAndSwap(handleCreated, handleLive) {
		if h.state.Load() == handleDone {
			return ErrHandleDone
		}
		return ErrAlreadyRegistered
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles = append(r.handles, h)
	for _, topic := range h.topics {
		list := r.byTopic[topic]
		r.byTopic[topic] = append(list, h)
		if len(list) == 0 {
			r.sendLocked(wire.NewSubscribe(topic))
			r.subscribes++
		}
	}

	r.logger.Debug("handle registered",
		"handle", h.id,
		"epoch", h.epoch,
		"topics", h.topics,
	)
	return nil
}

// Deregister tears the handle down: removes it, unsubscribes any topic
// whose ref-count falls to zero, and waits for in-flight callbacks on the
// handle to finish. After Deregister returns no callback on the handle will
// run. Safe to call more than once.
//
// Must not be called from one of the handle's own callbacks; the barrier
// would wait on itself. Deregistering a different handle from a callback is
// fine.
func (r *Registry) Deregister(h *Handle) {
	if h == nil {
		return
	}

	if h.state.CompareAndSwap(handleLive, handleDone) {
		r.mu.Lock()
		r.handles = removeHandle(r.handles, h)
		for _, topic := range h.topics {
			list := removeHandle(r.byTopic[topic], h)
			if len(list) == 0 {
				delete(r.byTopic, topic)
				r.sendLocked(wire.NewUnsubscribe(topic))
				r.unsubscribes++
			} else {
				r.byTopic[topic] = list
			}
		}
		r.mu.Unlock()

		r.logger.Debug("handle deregistered", "handle", h.id, "epoch", h.epoch)
	}

	// The barrier runs on every call so even a duplicate Deregister only
	// returns once no callback is mid-flight.
	h.barrier()
}

// ActiveTopics returns the sorted topics with ref-count > 0. The connection
// manager replays these on every reconnect.
func (r *Registry) ActiveTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]string, 0, len(r.byTopic))
	for topic := range r.byTopic {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Stats returns current statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RegistryStats{
		Handles:      len(r.handles),
		ActiveTopics: len(r.byTopic),
		Subscribes:   r.subscribes,
		Unsubscribes: r.unsubscribes,
	}
}

// handlesForTopic snapshots the live handles for a topic in registration
// order. The copy keeps dispatch out of the lock while invoking callbacks.
func (r *Registry) handlesForTopic(topic string) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byTopic[topic]
	if len(list) == 0 {
		return nil
	}
	return append([]*Handle(nil), list...)
}

// allHandles snapshots every registered handle in registration order.
func (r *Registry) allHandles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.handles) == 0 {
		return nil
	}
	return append([]*Handle(nil), r.handles...)
}

// sendLocked emits one control frame under mu. A send failure is logged and
// counted, not propagated: the ref-count state stays authoritative and the
// reconnect replay restores the wire to match it.
func (r *Registry) sendLocked(frame wire.Control) {
	if r.sender == nil {
		r.logger.Warn("no control sender wired, frame dropped",
			"action", frame.Action,
			"topics", frame.Topics,
		)
		return
	}

	if err := r.sender.Send(frame); err != nil {
		r.logger.Warn("control frame send failed",
			"action", frame.Action,
			"topics", frame.Topics,
			"error", err,
		)
	}
}

func removeHandle(list []*Handle, h *Handle) []*Handle {
	for i, cand := range list {
		if cand == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
