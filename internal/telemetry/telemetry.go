package telemetry

// Collector captures counters and gauges emitted by the feed components.
//
// Implementations must be cheap to call: hooks run inline with dispatch and
// the connection read loop.
type Collector interface {
	// FrameReceived counts an inbound frame, well formed or not.
	FrameReceived()

	// FrameMalformed counts an inbound frame that failed to parse.
	FrameMalformed()

	// FrameUnrouted counts a well-formed frame with no interested handles.
	FrameUnrouted()

	// EventsDispatched counts callback invocations for one inbound frame.
	EventsDispatched(n int)

	// ControlSent counts an outbound control frame by action.
	ControlSent(action string)

	// ConnectionUp records whether the transport is currently usable.
	ConnectionUp(up bool)

	// ReconnectAttempt counts one reconnection attempt.
	ReconnectAttempt()

	// PendingFrames records the current depth of the outbound buffer.
	PendingFrames(n int)
}

type noopCollector struct{}

// Noop returns a collector that discards everything.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) FrameReceived()       {}
func (noopCollector) FrameMalformed()      {}
func (noopCollector) FrameUnrouted()       {}
func (noopCollector) EventsDispatched(int) {}
func (noopCollector) ControlSent(string)   {}
func (noopCollector) ConnectionUp(bool)    {}
func (noopCollector) ReconnectAttempt()    {}
func (noopCollector) PendingFrames(int)    {}
