package pebblestore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports PebbleDB internals for one store.
type Collector struct {
	store *Store

	compactionCount         *prometheus.Desc
	compactionEstimatedDebt *prometheus.Desc
	memtableSize            *prometheus.Desc
	memtableCount           *prometheus.Desc
	walFiles                *prometheus.Desc
	walSize                 *prometheus.Desc
}

// NewCollector returns a collector labelled with the store name.
func NewCollector(s *Store, name string) *Collector {
	labels := prometheus.Labels{"store": name}
	return &Collector{
		store: s,
		compactionCount: prometheus.NewDesc(
			"pebble_compaction_count_total",
			"Total number of compactions performed",
			nil, labels,
		),
		compactionEstimatedDebt: prometheus.NewDesc(
			"pebble_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted to reach a stable state",
			nil, labels,
		),
		memtableSize: prometheus.NewDesc(
			"pebble_memtable_size_bytes",
			"Current size of the memtable in bytes",
			nil, labels,
		),
		memtableCount: prometheus.NewDesc(
			"pebble_memtable_count",
			"Current count of memtables",
			nil, labels,
		),
		walFiles: prometheus.NewDesc(
			"pebble_wal_files",
			"Number of live WAL files",
			nil, labels,
		),
		walSize: prometheus.NewDesc(
			"pebble_wal_size_bytes",
			"Size of live WAL data in bytes",
			nil, labels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactionCount
	ch <- c.compactionEstimatedDebt
	ch <- c.memtableSize
	ch <- c.memtableCount
	ch <- c.walFiles
	ch <- c.walSize
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.store.mu.Lock()
	closed := c.store.closed
	c.store.mu.Unlock()
	if closed {
		return
	}

	m := c.store.db.Metrics()
	ch <- prometheus.MustNewConstMetric(c.compactionCount, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.compactionEstimatedDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(c.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
}
