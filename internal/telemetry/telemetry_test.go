package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNoopCollector(t *testing.T) {
	c := Noop()

	// Must be safe to call without setup.
	c.FrameReceived()
	c.FrameMalformed()
	c.FrameUnrouted()
	c.EventsDispatched(3)
	c.ControlSent("subscribe")
	c.ConnectionUp(true)
	c.ReconnectAttempt()
	c.PendingFrames(7)
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		var total float64
		for _, m := range fam.GetMetric() {
			if m.GetCounter() != nil {
				total += m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.FrameReceived()
	c.FrameReceived()
	c.FrameMalformed()
	c.EventsDispatched(5)
	c.EventsDispatched(0) // no-op
	c.ControlSent("subscribe")
	c.ControlSent("subscribe")
	c.ControlSent("unsubscribe")
	c.ConnectionUp(true)
	c.ReconnectAttempt()
	c.PendingFrames(12)

	if got := gatherValue(t, reg, "feed_frames_received_total"); got != 2 {
		t.Errorf("frames received = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "feed_frames_malformed_total"); got != 1 {
		t.Errorf("frames malformed = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "feed_events_dispatched_total"); got != 5 {
		t.Errorf("events dispatched = %v, want 5", got)
	}
	if got := gatherValue(t, reg, "feed_control_frames_sent_total"); got != 3 {
		t.Errorf("control frames = %v, want 3", got)
	}
	if got := gatherValue(t, reg, "feed_connection_up"); got != 1 {
		t.Errorf("connection up = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "feed_pending_frames"); got != 12 {
		t.Errorf("pending frames = %v, want 12", got)
	}

	c.ConnectionUp(false)
	if got := gatherValue(t, reg, "feed_connection_up"); got != 0 {
		t.Errorf("connection up after drop = %v, want 0", got)
	}
}
