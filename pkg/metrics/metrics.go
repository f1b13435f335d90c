// Package metrics exposes the Prometheus counters and gauges a Host
// reports against, via github.com/prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every counter/gauge a Host updates over its lifetime. A
// nil-registry Metrics (see NewMetrics) is safe to use and simply never
// gets scraped.
type Metrics struct {
	ConnectedPeers   prometheus.Gauge
	PacketsSent      prometheus.Counter
	PacketsReceived  prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	PacketsLost      prometheus.Counter
	Retransmits      prometheus.Counter
	RoundTripTime    prometheus.Histogram
}

// NewMetrics builds the metric set and, if reg is non-nil, registers it.
// Passing a nil registry is valid: the returned Metrics still accumulates
// values in-process, it's just never exported over /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hnet_connected_peers",
			Help: "Number of peers currently in the Connected or DisconnectLater state.",
		}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnet_packets_sent_total",
			Help: "Carrier datagrams transmitted.",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnet_packets_received_total",
			Help: "Carrier datagrams received.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnet_bytes_sent_total",
			Help: "Raw bytes written to the socket.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnet_bytes_received_total",
			Help: "Raw bytes read from the socket.",
		}),
		PacketsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnet_packets_lost_total",
			Help: "Reliable commands presumed lost and retransmitted.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnet_retransmits_total",
			Help: "Reliable commands resent after their RTT timeout elapsed.",
		}),
		RoundTripTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hnet_round_trip_time_ms",
			Help:    "Per-peer smoothed round trip time samples, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ConnectedPeers, m.PacketsSent, m.PacketsReceived,
			m.BytesSent, m.BytesReceived, m.PacketsLost, m.Retransmits, m.RoundTripTime)
	}
	return m
}
