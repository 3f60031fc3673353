package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/depotops/feedmux/internal/connection"
	"github.com/depotops/feedmux/internal/telemetry"
	"github.com/depotops/feedmux/internal/wire"
)

// Dispatcher parses raw frames from the Connection Manager and fans them
// out to live handles.
type Dispatcher interface {
	// Start begins consuming frames and state changes.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the dispatch loop.
	Stop(ctx context.Context) error

	// Stats returns current dispatcher statistics.
	Stats() DispatcherStats
}

// DispatcherStats contains runtime statistics.
type DispatcherStats struct {
	FramesReceived   int64
	EventsDispatched int64
	ParseErrors      int64
	UnroutedFrames   int64
}

// dispatcher is the internal implementation.
type dispatcher struct {
	registry  *Registry
	collector telemetry.Collector
	logger    *slog.Logger

	// Input from the Connection Manager
	frames <-chan connection.RawFrame
	states <-chan connection.StateChange

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	framesReceived   atomic.Int64
	eventsDispatched atomic.Int64
	parseErrors      atomic.Int64
	unrouted         atomic.Int64
}

// NewDispatcher creates a Dispatcher reading from the given channels.
func NewDispatcher(registry *Registry, frames <-chan connection.RawFrame, states <-chan connection.StateChange, collector telemetry.Collector, logger *slog.Logger) Dispatcher {
	if collector == nil {
		collector = telemetry.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &dispatcher{
		registry:  registry,
		collector: collector,
		logger:    logger,
		frames:    frames,
		states:    states,
	}
}

// Start begins the dispatch loop.
func (d *dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.run()

	d.logger.Info("dispatcher started")
	return nil
}

// Stop gracefully shuts down the dispatch loop.
func (d *dispatcher) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (d *dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		FramesReceived:   d.framesReceived.Load(),
		EventsDispatched: d.eventsDispatched.Load(),
		ParseErrors:      d.parseErrors.Load(),
		UnroutedFrames:   d.unrouted.Load(),
	}
}

// run is the main dispatch goroutine.
func (d *dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case frame, ok := <-d.frames:
			if !ok {
				d.logger.Info("frame channel closed")
				return
			}
			d.dispatch(frame)

		case change, ok := <-d.states:
			if !ok {
				// Keep draining frames until that channel closes too
				d.states = nil
				continue
			}
			d.fanOutState(change)
		}
	}
}

// dispatch parses one raw frame and routes it to every live handle
// subscribed to its topic, in registration order. A malformed frame is
// logged and counted, never fatal.
func (d *dispatcher) dispatch(frame connection.RawFrame) {
	d.framesReceived.Add(1)
	d.collector.FrameReceived()

	evt, err := wire.ParseEvent(frame.Data)
	if err != nil {
		d.parseErrors.Add(1)
		d.collector.FrameMalformed()
		d.logger.Warn("malformed frame dropped", "error", err, "bytes", len(frame.Data))
		return
	}

	handles := d.registry.handlesForTopic(evt.Topic)
	if len(handles) == 0 {
		d.unrouted.Add(1)
		d.collector.FrameUnrouted()
		d.logger.Debug("no handles for topic", "topic", evt.Topic, "type", evt.Type)
		return
	}

	var fired int
	for _, h := range handles {
		// Liveness is re-checked inside dispatchEvent, under the handle's
		// lock: a handle torn down after the snapshot does not fire.
		if h.dispatchEvent(evt) {
			fired++
		}
	}

	if fired > 0 {
		d.eventsDispatched.Add(int64(fired))
		d.collector.EventsDispatched(fired)
	}
}

// fanOutState routes connection lifecycle transitions to every live handle.
// Only Connected and Reconnecting reach consumers; Connecting and the final
// Disconnected are internal.
func (d *dispatcher) fanOutState(change connection.StateChange) {
	switch change.State {
	case connection.StateConnected:
		for _, h := range d.registry.allHandles() {
			h.notifyEstablished()
		}
	case connection.StateReconnecting:
		for _, h := range d.registry.allHandles() {
			h.notifyLost(change.Err)
		}
	}
}
