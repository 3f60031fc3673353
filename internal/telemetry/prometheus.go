package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes feed telemetry via Prometheus.
type PrometheusCollector struct {
	framesReceived   prometheus.Counter
	framesMalformed  prometheus.Counter
	framesUnrouted   prometheus.Counter
	eventsDispatched prometheus.Counter
	controlSent      *prometheus.CounterVec
	connectionUp     prometheus.Gauge
	reconnects       prometheus.Counter
	pendingFrames    prometheus.Gauge
}

// NewPrometheusCollector registers the feed metrics with reg. A nil reg uses
// the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_frames_received_total",
			Help: "Inbound frames read from the connection.",
		}),
		framesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_frames_malformed_total",
			Help: "Inbound frames dropped because they failed to parse.",
		}),
		framesUnrouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_frames_unrouted_total",
			Help: "Well-formed frames discarded with no interested handles.",
		}),
		eventsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_events_dispatched_total",
			Help: "Callback invocations across all handles.",
		}),
		controlSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_control_frames_sent_total",
			Help: "Outbound control frames by action.",
		}, []string{"action"}),
		connectionUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "feed_connection_up",
			Help: "1 while the transport is connected and usable.",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_reconnect_attempts_total",
			Help: "Reconnection attempts after a transport drop.",
		}),
		pendingFrames: factory.NewGauge(prometheus.GaugeOpts{
			Name: "feed_pending_frames",
			Help: "Control frames buffered while disconnected.",
		}),
	}
}

func (p *PrometheusCollector) FrameReceived()  { p.framesReceived.Inc() }
func (p *PrometheusCollector) FrameMalformed() { p.framesMalformed.Inc() }
func (p *PrometheusCollector) FrameUnrouted()  { p.framesUnrouted.Inc() }

func (p *PrometheusCollector) EventsDispatched(n int) {
	if n > 0 {
		p.eventsDispatched.Add(float64(n))
	}
}

func (p *PrometheusCollector) ControlSent(action string) {
	p.controlSent.WithLabelValues(action).Inc()
}

func (p *PrometheusCollector) ConnectionUp(up bool) {
	if up {
		p.connectionUp.Set(1)
	} else {
		p.connectionUp.Set(0)
	}
}

func (p *PrometheusCollector) ReconnectAttempt() { p.reconnects.Inc() }

func (p *PrometheusCollector) PendingFrames(n int) {
	p.pendingFrames.Set(float64(n))
}
