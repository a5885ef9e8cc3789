// Package metrics exposes node state to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"undocked"
	"undocked/internal/check"
)

const namespace = "undocked"

// SnapshotSource returns the most recent node snapshot.
type SnapshotSource interface {
	LatestSnapshot() undocked.NodeSnapshot
}

// Collector reports the latest snapshot on every scrape and counts gossip
// exchanges as they happen.
type Collector struct {
	source         SnapshotSource
	clock          undocked.Clock
	staleThreshold time.Duration

	exchanges *prometheus.CounterVec

	services    *prometheus.Desc
	requests    *prometheus.Desc
	errors      *prometheus.Desc
	bandwidth   *prometheus.Desc
	activeConns *prometheus.Desc
	peers       *prometheus.Desc
	stalePeers  *prometheus.Desc
	peerAge     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector. Peers silent for longer than
// staleThreshold are reported as stale.
func NewCollector(source SnapshotSource, clock undocked.Clock, staleThreshold time.Duration) *Collector {
	check.Assert(source != nil, "metrics.NewCollector: source must not be nil")
	if clock == nil {
		clock = undocked.RealClock{}
	}
	return &Collector{
		source:         source,
		clock:          clock,
		staleThreshold: staleThreshold,
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_exchanges_total",
			Help:      "Outbound gossip exchanges by result",
		}, []string{"result"}),
		services: prometheus.NewDesc(
			namespace+"_services",
			"Local services by status",
			[]string{"status"}, nil,
		),
		requests: prometheus.NewDesc(
			namespace+"_service_requests_total",
			"Metered requests completed by service",
			[]string{"service"}, nil,
		),
		errors: prometheus.NewDesc(
			namespace+"_service_errors_total",
			"Metered requests that failed by service",
			[]string{"service"}, nil,
		),
		bandwidth: prometheus.NewDesc(
			namespace+"_service_bandwidth_bytes_total",
			"Request plus response body bytes by service",
			[]string{"service"}, nil,
		),
		activeConns: prometheus.NewDesc(
			namespace+"_service_active_connections",
			"In-flight metered connections by service",
			[]string{"service"}, nil,
		),
		peers: prometheus.NewDesc(
			namespace+"_peers",
			"Peers currently in the directory",
			nil, nil,
		),
		stalePeers: prometheus.NewDesc(
			namespace+"_peers_stale",
			"Peers silent for longer than the stale threshold",
			nil, nil,
		),
		peerAge: prometheus.NewDesc(
			namespace+"_peer_last_seen_seconds",
			"Seconds since the last report from a peer",
			[]string{"peer"}, nil,
		),
	}
}

// ObserveExchange counts one outbound gossip exchange. Its signature matches
// the node's exchange observer hook.
func (c *Collector) ObserveExchange(_ string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.exchanges.WithLabelValues(result).Inc()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.exchanges.Describe(ch)
	ch <- c.services
	ch <- c.requests
	ch <- c.errors
	ch <- c.bandwidth
	ch <- c.activeConns
	ch <- c.peers
	ch <- c.stalePeers
	ch <- c.peerAge
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.exchanges.Collect(ch)

	snap := c.source.LatestSnapshot()

	byStatus := make(map[undocked.ServiceStatus]int)
	for _, svc := range snap.Services {
		byStatus[svc.Status]++
	}
	for _, status := range []undocked.ServiceStatus{
		undocked.StatusStarting, undocked.StatusRunning, undocked.StatusStopping, undocked.StatusError,
	} {
		ch <- prometheus.MustNewConstMetric(c.services, prometheus.GaugeValue, float64(byStatus[status]), status.String())
	}

	for id, st := range snap.Stats {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(st.Requests), id)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(st.Errors), id)
		ch <- prometheus.MustNewConstMetric(c.bandwidth, prometheus.CounterValue, float64(st.Bandwidth), id)
		ch <- prometheus.MustNewConstMetric(c.activeConns, prometheus.GaugeValue, float64(st.ActiveConns), id)
	}

	now := c.clock.Now()
	stale := 0
	for _, p := range snap.Peers {
		if c.staleThreshold > 0 && p.StaleAt(now, c.staleThreshold) {
			stale++
		}
		ch <- prometheus.MustNewConstMetric(c.peerAge, prometheus.GaugeValue, now.Sub(p.LastSeen).Seconds(), p.ID)
	}
	ch <- prometheus.MustNewConstMetric(c.peers, prometheus.GaugeValue, float64(len(snap.Peers)))
	ch <- prometheus.MustNewConstMetric(c.stalePeers, prometheus.GaugeValue, float64(stale))
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewClockOffset reports the last measured offset of the local clock.
func NewClockOffset(offset func() time.Duration) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clock_offset_seconds",
		Help:      "Offset of the local clock from the NTP server",
	}, func() float64 { return offset().Seconds() })
}
