// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Connection kinds used as the "kind" label.
const (
	KindConnect = "connect"
	KindHTTP    = "http"
	KindSOCKS5  = "socks5"
)

// Upstream failure reasons used as the "reason" label.
const (
	ReasonDial      = "dial"
	ReasonHandshake = "handshake"
	ReasonStatus    = "status"
)

// Tunnel directions used as the "direction" label.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

var tunnelDurationBuckets = []float64{.1, .5, 1, 5, 15, 30, 60, 120, 180, 300}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsTotal *prometheus.CounterVec
	AbortedRequests  prometheus.Counter
	UpstreamFailures *prometheus.CounterVec

	ActiveTunnels  prometheus.Gauge
	TunnelBytes    *prometheus.CounterVec
	TunnelDuration prometheus.Histogram
}

// New creates a Metrics instance with a private registry and all collectors
// registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authrelay_connections_total",
			Help: "Client connections that sent a complete request, by kind.",
		}, []string{"kind"}),

		AbortedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authrelay_aborted_requests_total",
			Help: "Client connections closed before a complete request header arrived.",
		}),

		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authrelay_upstream_failures_total",
			Help: "Upstream proxy failures by reason.",
		}, []string{"reason"}),

		ActiveTunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authrelay_active_tunnels",
			Help: "Number of tunnels currently relaying bytes.",
		}),

		TunnelBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authrelay_tunnel_bytes_total",
			Help: "Bytes relayed through tunnels; up is client to upstream.",
		}, []string{"direction"}),

		TunnelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authrelay_tunnel_duration_seconds",
			Help:    "Tunnel lifetime from established to torn down.",
			Buckets: tunnelDurationBuckets,
		}),
	}

	reg.MustRegister(
		m.ConnectionsTotal,
		m.AbortedRequests,
		m.UpstreamFailures,
		m.ActiveTunnels,
		m.TunnelBytes,
		m.TunnelDuration,
	)

	return m
}

// ObserveTunnel records the final byte counts and lifetime of one tunnel.
func (m *Metrics) ObserveTunnel(up, down int64, seconds float64) {
	m.TunnelBytes.WithLabelValues(DirectionUp).Add(float64(up))
	m.TunnelBytes.WithLabelValues(DirectionDown).Add(float64(down))
	m.TunnelDuration.Observe(seconds)
}
