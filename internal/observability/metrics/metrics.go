// Package metrics exposes relay counters to Prometheus and keeps a cheap
// in-process copy for the periodic stats report.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaychat"

// Relay implements relay.Recorder.
type Relay struct {
	reg *prometheus.Registry

	peers          prometheus.Gauge
	connections    prometheus.Counter
	disconnections prometheus.Counter
	messages       prometheus.Counter
	bytes          prometheus.Counter
	deliveries     prometheus.Counter
	failures       prometheus.Counter
	broadcast      prometheus.Histogram

	snap struct {
		peers, connections, disconnections atomic.Int64
		messages, bytes                    atomic.Int64
		deliveries, failures               atomic.Int64
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Peers          int64
	Connections    int64
	Disconnections int64
	Messages       int64
	Bytes          int64
	Deliveries     int64
	Failures       int64
}

// New builds the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Relay {
	r := &Relay{
		reg: prometheus.NewRegistry(),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "peers",
			Help:      "Currently registered peers",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Accepted connections",
		}),
		disconnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "disconnections_total",
			Help:      "Peers removed after their read failed",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Chunks read from peers and broadcast",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "received_bytes_total",
			Help:      "Bytes read from peers",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Successful per-peer writes",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "write_failures_total",
			Help:      "Failed per-peer writes",
		}),
		broadcast: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "broadcast_duration_seconds",
			Help:      "Time one broadcast held the registry",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	r.reg.MustRegister(
		r.peers, r.connections, r.disconnections,
		r.messages, r.bytes, r.deliveries, r.failures, r.broadcast,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Relay) PeerConnected() {
	r.peers.Inc()
	r.connections.Inc()
	r.snap.peers.Add(1)
	r.snap.connections.Add(1)
}

func (r *Relay) PeerDisconnected() {
	r.peers.Dec()
	r.disconnections.Inc()
	r.snap.peers.Add(-1)
	r.snap.disconnections.Add(1)
}

func (r *Relay) MessageRelayed(bytes, delivered, failed int, took time.Duration) {
	r.messages.Inc()
	r.bytes.Add(float64(bytes))
	r.deliveries.Add(float64(delivered))
	r.failures.Add(float64(failed))
	r.broadcast.Observe(took.Seconds())

	r.snap.messages.Add(1)
	r.snap.bytes.Add(int64(bytes))
	r.snap.deliveries.Add(int64(delivered))
	r.snap.failures.Add(int64(failed))
}

// WatchDropped exports a counter reading fn on every scrape, for counts owned
// elsewhere (the notice bus drop count).
func (r *Relay) WatchDropped(name, help string, fn func() uint64) {
	r.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) }))
}

func (r *Relay) Snapshot() Snapshot {
	return Snapshot{
		Peers:          r.snap.peers.Load(),
		Connections:    r.snap.connections.Load(),
		Disconnections: r.snap.disconnections.Load(),
		Messages:       r.snap.messages.Load(),
		Bytes:          r.snap.bytes.Load(),
		Deliveries:     r.snap.deliveries.Load(),
		Failures:       r.snap.failures.Load(),
	}
}

func (r *Relay) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus text or OpenMetrics format.
func (r *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
