// Package prom exports tiercache events and sizes as Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	hooks := prom.NewHooks(reg, "")
//	c, _ := tiercache.New[Verdict](tiercache.Options[Verdict]{..., Hooks: hooks})
//	reg.MustRegister(prom.NewCollector("", c))
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache"
)

const defaultNamespace = "tiercache"

// Hooks counts cache events. One Hooks can serve many caches; the cache
// namespace is a label.
type Hooks struct {
	lookups        *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	persistFailed  *prometheus.CounterVec
	persistDropped *prometheus.CounterVec
	readFailed     *prometheus.CounterVec
	selfHeals      *prometheus.CounterVec
	resolved       *prometheus.CounterVec
}

var _ tiercache.Hooks = (*Hooks)(nil)

// NewHooks creates the counters and registers them with reg. An empty
// namespace means "tiercache".
func NewHooks(reg prometheus.Registerer, namespace string) *Hooks {
	if namespace == "" {
		namespace = defaultNamespace
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, append([]string{"cache"}, labels...))
	}

	h := &Hooks{
		lookups:        counter("lookups_total", "Cache lookups by result", "status"),
		evictions:      counter("evictions_total", "Hot-tier evictions", "reason"),
		persistFailed:  counter("persist_failures_total", "Durable writes that failed"),
		persistDropped: counter("persist_dropped_total", "Durable writes dropped on a full queue"),
		readFailed:     counter("store_read_failures_total", "Durable reads that failed"),
		selfHeals:      counter("self_heals_total", "Durable records deleted on read", "reason"),
		resolved:       counter("resolved_total", "Resolve outcomes", "outcome"),
	}
	reg.MustRegister(h.lookups, h.evictions, h.persistFailed, h.persistDropped,
		h.readFailed, h.selfHeals, h.resolved)
	return h
}

func (h *Hooks) Lookup(ns string, s tiercache.Status) {
	h.lookups.WithLabelValues(ns, s.String()).Inc()
}

func (h *Hooks) Evicted(ns, _ string, r tiercache.EvictReason) {
	h.evictions.WithLabelValues(ns, string(r)).Inc()
}

func (h *Hooks) PersistFailed(ns, _ string, _ error)   { h.persistFailed.WithLabelValues(ns).Inc() }
func (h *Hooks) PersistDropped(ns, _ string)           { h.persistDropped.WithLabelValues(ns).Inc() }
func (h *Hooks) StoreReadFailed(ns, _ string, _ error) { h.readFailed.WithLabelValues(ns).Inc() }

func (h *Hooks) SelfHeal(ns, _, reason string) {
	h.selfHeals.WithLabelValues(ns, reason).Inc()
}

func (h *Hooks) Resolved(ns string, o tiercache.Outcome) {
	h.resolved.WithLabelValues(ns, string(o)).Inc()
}

// StatsSource is anything that reports tiercache.Stats; every Cache does.
type StatsSource interface {
	Stats() tiercache.Stats
}

// Collector reports hot-tier size gauges for a set of caches at scrape time.
type Collector struct {
	sources  []StatsSource
	entries  *prometheus.Desc
	capacity *prometheus.Desc
	limit    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(namespace string, sources ...StatsSource) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, []string{"cache"}, nil)
	}
	return &Collector{
		sources:  sources,
		entries:  desc("entries", "Entries in the hot tier"),
		capacity: desc("capacity", "Configured hot-tier capacity"),
		limit:    desc("limit", "Effective hot-tier capacity after pressure shrinking"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.capacity
	ch <- c.limit
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		s := src.Stats()
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Entries), s.Namespace)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity), s.Namespace)
		ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(s.Limit), s.Namespace)
	}
}
