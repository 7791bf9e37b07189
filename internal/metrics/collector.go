package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sawctl"

// StateFunc reports the current operating state by name.
type StateFunc func() string

type counterDesc struct {
	desc  *prometheus.Desc
	value func(c Counters) uint64
}

// Collector exports Stats as Prometheus counters. Values are read at
// scrape time from a Stats snapshot.
type Collector struct {
	stats    *Stats
	state    StateFunc
	states   []string
	counters []counterDesc
	usage    *prometheus.Desc
	current  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector exports stats. When state is non-nil, a one-hot gauge per
// name in states reports the current operating state.
func NewCollector(stats *Stats, state StateFunc, states []string) *Collector {
	counter := func(name, help string, value func(c Counters) uint64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			value: value,
		}
	}

	return &Collector{
		stats:  stats,
		state:  state,
		states: states,
		counters: []counterDesc{
			counter("decisions_total", "Controller decisions computed.",
				func(c Counters) uint64 { return c.Decisions }),
			counter("writes_total", "Speed command writes acknowledged by the device.",
				func(c Counters) uint64 { return c.Writes }),
			counter("write_failures_total", "Speed command writes that failed.",
				func(c Counters) uint64 { return c.WriteFailures }),
			counter("rate_limited_total", "Adjustments suppressed by the minimum write interval.",
				func(c Counters) uint64 { return c.RateLimited }),
			counter("skipped_total", "Decisions skipped for missing inputs or monitor mode.",
				func(c Counters) uint64 { return c.Skipped }),
			counter("clamped_total", "Commanded speeds clamped to the configured limits.",
				func(c Counters) uint64 { return c.Clamped }),
			counter("read_failures_total", "Telemetry reads that failed.",
				func(c Counters) uint64 { return c.ReadFailures }),
			counter("link_faults_total", "Link faults seen by the control loop.",
				func(c Counters) uint64 { return c.LinkFaults }),
			counter("controller_faults_total", "Controller errors seen by the control loop.",
				func(c Counters) uint64 { return c.ControllerFaults }),
			counter("reconnects_total", "Link reconnects performed.",
				func(c Counters) uint64 { return c.Reconnects }),
		},
		usage: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "strategy_usage_total"),
			"Decisions computed per controller strategy.", []string{"strategy"}, nil),
		current: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "state"),
			"Current operating state (1 for the active state).", []string{"state"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	ch <- c.usage
	if c.state != nil {
		ch <- c.current
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(d.value(snap)))
	}
	for strategy, n := range snap.StrategyUsage {
		ch <- prometheus.MustNewConstMetric(c.usage, prometheus.CounterValue, float64(n), strategy)
	}

	if c.state == nil {
		return
	}
	active := c.state()
	for _, s := range c.states {
		var v float64
		if s == active {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.current, prometheus.GaugeValue, v, s)
	}
}
