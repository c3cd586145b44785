package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a snapshot of database connection pool statistics.
type PoolStats struct {
	TotalConns      int32
	AcquiredConns   int32
	IdleConns       int32
	MaxConns        int32
	AcquireCount    int64
	AcquireDuration time.Duration
}

// PoolCollector exports pool statistics, read on every scrape.
type PoolCollector struct {
	stats func() PoolStats

	total, acquired, idle, maxConns *prometheus.Desc
	acquires, acquireSeconds        *prometheus.Desc
}

// NewPoolCollector creates a collector reading stats from fn.
func NewPoolCollector(fn func() PoolStats) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, nil)
	}
	return &PoolCollector{
		stats:          fn,
		total:          desc("total_connections", "Open connections in the pool."),
		acquired:       desc("acquired_connections", "Connections currently in use."),
		idle:           desc("idle_connections", "Idle connections in the pool."),
		maxConns:       desc("max_connections", "Maximum pool size."),
		acquires:       desc("acquires_total", "Successful connection acquires."),
		acquireSeconds: desc("acquire_duration_seconds_total", "Time spent waiting for connections."),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.acquired
	ch <- c.idle
	ch <- c.maxConns
	ch <- c.acquires
	ch <- c.acquireSeconds
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConns))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount))
	ch <- prometheus.MustNewConstMetric(c.acquireSeconds, prometheus.CounterValue, s.AcquireDuration.Seconds())
}
