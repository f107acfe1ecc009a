// Package metrics exposes rudp's per-transfer telemetry as Prometheus
// instrumentation, for the `rudp server --metrics-addr` endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters and gauges the receiver and sender engines
// update as they process frames.
type Registry struct {
	reg *prometheus.Registry

	PacketsRecv       prometheus.Counter
	PacketsSent       prometheus.Counter
	BytesRecv         prometheus.Counter
	BytesSent         prometheus.Counter
	DuplicatesDropped prometheus.Counter
	Retransmissions   prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	Cwnd              prometheus.Gauge
	Ssthresh          prometheus.Gauge
}

// NewRegistry constructs a Registry with its own prometheus.Registry so
// multiple rudp instances in one process (as in the benchmark harness) don't
// collide on the default global registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,
		PacketsRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudp", Name: "packets_received_total",
			Help: "DATA frames received on established connections, duplicates and out-of-order arrivals included.",
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudp", Name: "packets_sent_total",
			Help: "DATA frames acknowledged by the peer; retransmissions are counted separately.",
		}),
		BytesRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudp", Name: "bytes_received_total",
			Help: "Plaintext bytes delivered into receive buffers.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudp", Name: "bytes_sent_total",
			Help: "Plaintext bytes acknowledged by the peer.",
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudp", Name: "duplicates_dropped_total",
			Help: "DATA frames discarded because their sequence number was already delivered.",
		}),
		Retransmissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudp", Name: "retransmissions_total",
			Help: "Frame retransmissions triggered by timeout.",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rudp", Name: "frames_dropped_total",
			Help: "Inbound datagrams discarded, by reason.",
		}, []string{"reason"}),
		Cwnd: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rudp", Name: "congestion_window",
			Help: "Current sender congestion window, in whole payload units.",
		}),
		Ssthresh: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rudp", Name: "slow_start_threshold",
			Help: "Current sender slow-start threshold, in whole payload units.",
		}),
	}
	return r
}

// Handler returns the HTTP handler exposing this Registry's metrics in the
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
