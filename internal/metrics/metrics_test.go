package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	m := New()

	m.ConnectionsTotal.WithLabelValues(KindConnect).Inc()
	m.AbortedRequests.Inc()
	m.UpstreamFailures.WithLabelValues(ReasonDial).Inc()
	m.ActiveTunnels.Inc()
	m.ObserveTunnel(1, 2, 0.5)

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"authrelay_connections_total",
		"authrelay_aborted_requests_total",
		"authrelay_upstream_failures_total",
		"authrelay_active_tunnels",
		"authrelay_tunnel_bytes_total",
		"authrelay_tunnel_duration_seconds",
		"go_goroutines",
	} {
		require.True(t, names[want], "missing metric family %q", want)
	}
}

func TestObserveTunnel(t *testing.T) {
	m := New()

	m.ObserveTunnel(100, 2048, 1.5)
	m.ObserveTunnel(5, 0, 0.1)

	require.InDelta(t, 105, testutil.ToFloat64(m.TunnelBytes.WithLabelValues(DirectionUp)), 0)
	require.InDelta(t, 2048, testutil.ToFloat64(m.TunnelBytes.WithLabelValues(DirectionDown)), 0)
	require.Equal(t, 1, testutil.CollectAndCount(m.TunnelDuration))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "authrelay_tunnel_duration_seconds" {
			continue
		}
		require.Len(t, f.GetMetric(), 1)
		require.Equal(t, uint64(2), f.GetMetric()[0].GetHistogram().GetSampleCount())
		return
	}
	t.Fatal("tunnel duration histogram not gathered")
}
