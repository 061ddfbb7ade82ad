package adapter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts the adapter's traffic and socket lifecycle for
// operational visibility, grounded on the promhttp exposition pattern.
// Each Adapter gets its own registry so multiple adapters in one process
// (as in tests) never collide on a metric name.
type Metrics struct {
	registry *prometheus.Registry

	FramesIn       prometheus.Counter
	FramesOut      prometheus.Counter
	FramesCaptured prometheus.Counter
	FramesDropped  prometheus.Counter
	DevicesTotal   prometheus.Gauge
	TCPRetransmits prometheus.Counter
	TCPClosed      prometheus.Counter
}

// NewMetrics builds and registers a fresh Metrics instance.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		FramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgmock_frames_in_total",
			Help: "Ethernet frames received from the bus.",
		}),
		FramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgmock_frames_out_total",
			Help: "Ethernet frames sent to the bus.",
		}),
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgmock_frames_captured_total",
			Help: "Inbound frames written to the active pcap capture.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgmock_frames_dropped_total",
			Help: "IPv6 frames dropped by the blackhole handler.",
		}),
		DevicesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgmock_devices_total",
			Help: "Devices registered in the router's device table.",
		}),
		TCPRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgmock_tcp_retransmits_total",
			Help: "TCP segments resent after a missing ACK.",
		}),
		TCPClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgmock_tcp_sockets_closed_total",
			Help: "TCP sockets that reached CLOSED.",
		}),
	}
	reg.MustRegister(m.FramesIn, m.FramesOut, m.FramesCaptured, m.FramesDropped, m.DevicesTotal, m.TCPRetransmits, m.TCPClosed)
	return m
}

// Handler exposes this adapter's metrics in the Prometheus exposition
// format, for a caller (e.g. cmd/pgmockd) to mount on its own mux.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
