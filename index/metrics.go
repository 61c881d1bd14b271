package index

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the optional Prometheus instrumentation surface, nil until a
// caller opts in via Indexer.EnableMetrics. Counters are constructed but
// not registered until asked for.
type Metrics struct {
	docsIndexed prometheus.Counter
	bulkMerges  prometheus.Counter
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		docsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "docs_indexed_total",
			Help:      "documents indexed via Add",
		}),
		bulkMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_merges_total",
			Help:      "bulk-merge phases completed",
		}),
	}
}

// Register registers every metric with reg (typically
// prometheus.DefaultRegisterer or a test registry).
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.docsIndexed, m.bulkMerges} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
