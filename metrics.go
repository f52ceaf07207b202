package rist

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by Receiver and Sender.
type StatsSource interface {
	ID() string
	Config() *Config
	Stats() (Stats, bool)
	Counters() BridgeCounters
}

var (
	_ StatsSource = (*Receiver)(nil)
	_ StatsSource = (*Sender)(nil)
)

// StatsCollector exports the snapshots of registered facades as Prometheus
// metrics. Each scrape reads the latest snapshot; it never waits on a
// bridge. Closed facades are skipped until they are unregistered.
type StatsCollector struct {
	mu      sync.RWMutex
	sources map[string]StatsSource

	quality        *prometheus.Desc
	rtt            *prometheus.Desc
	bandwidth      *prometheus.Desc
	retryBandwidth *prometheus.Desc
	packets        *prometheus.Desc
	retransmitted  *prometheus.Desc
	lost           *prometheus.Desc
	recovered      *prometheus.Desc
	peers          *prometheus.Desc
	bridge         *prometheus.Desc
}

var _ prometheus.Collector = (*StatsCollector)(nil)

// NewStatsCollector creates a collector whose metric names start with
// namespace (for example "rist").
func NewStatsCollector(namespace string) *StatsCollector {
	labels := []string{"name", "role", "handle"}
	desc := func(name, help string, extra ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help,
			append(append([]string(nil), labels...), extra...), nil)
	}
	return &StatsCollector{
		sources:        make(map[string]StatsSource),
		quality:        desc("quality_ratio", "Link quality reported by the native layer, 0-100."),
		rtt:            desc("rtt_seconds", "Round-trip time."),
		bandwidth:      desc("bandwidth_bits_per_second", "Current bandwidth."),
		retryBandwidth: desc("retry_bandwidth_bits_per_second", "Bandwidth used by retransmissions."),
		packets:        desc("packets_total", "Packets by direction.", "direction"),
		retransmitted:  desc("retransmitted_packets_total", "Packets retransmitted by a sender."),
		lost:           desc("lost_packets_total", "Packets lost beyond recovery."),
		recovered:      desc("recovered_packets_total", "Packets recovered by a receiver."),
		peers:          desc("peers", "Peers attached to a receiver flow."),
		bridge:         desc("bridge_results_total", "Results handled by the bridge.", "result"),
	}
}

// Register adds src under name, replacing any source with the same name.
func (c *StatsCollector) Register(name string, src StatsSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = src
}

// Unregister removes the source registered under name.
func (c *StatsCollector) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, name)
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.quality, c.rtt, c.bandwidth, c.retryBandwidth, c.packets,
		c.retransmitted, c.lost, c.recovered, c.peers, c.bridge,
	} {
		ch <- d
	}
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, src := range c.sources {
		s, ok := src.Stats()
		if !ok {
			continue
		}
		lv := []string{name, src.Config().Role().String(), src.ID()}
		gauge := func(d *prometheus.Desc, v float64, extra ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append(lv, extra...)...)
		}
		counter := func(d *prometheus.Desc, v uint64, extra ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), append(lv, extra...)...)
		}

		gauge(c.quality, s.Quality)
		gauge(c.rtt, s.RTT.Seconds())
		gauge(c.bandwidth, float64(s.Bandwidth))
		gauge(c.retryBandwidth, float64(s.RetryBandwidth))
		counter(c.packets, s.Sent, "sent")
		counter(c.packets, s.Received, "received")
		counter(c.lost, s.Lost)
		if s.Role == RoleSender {
			counter(c.retransmitted, s.Retransmitted)
		} else {
			counter(c.recovered, s.Recovered)
			gauge(c.peers, float64(s.PeerCount))
		}

		bc := src.Counters()
		counter(c.bridge, bc.Delivered, "delivered")
		counter(c.bridge, bc.Discarded, "discarded")
		counter(c.bridge, bc.Faults, "fault")
	}
}
