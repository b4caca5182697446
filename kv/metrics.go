package kv

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

type storageMetrics struct {
	begins    *metrics.Counter
	commits   *metrics.Counter
	conflicts *metrics.Counter
	failures  *metrics.Counter
	aborts    *metrics.Counter
}

func newStorageMetrics(backend string) *storageMetrics {
	counter := func(name string) *metrics.Counter {
		return metrics.GetOrCreateCounter(fmt.Sprintf(`ersdb_kv_%s_total{backend=%q}`, name, backend))
	}
	return &storageMetrics{
		begins:    counter("begins"),
		commits:   counter("commits"),
		conflicts: counter("conflicts"),
		failures:  counter("commit_failures"),
		aborts:    counter("aborts"),
	}
}
