package cmd

import (
	"strings"

	"github.com/reeflow/reeflow/pkg/metrics"
)

// NewMetricsCollector wires the log-volume counter backend. A redis:// URL
// selects Redis; an empty URL keeps counters in process.
func NewMetricsCollector(redisURL string) (metrics.Collector, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		return metrics.NewRedisCollector(redisURL)
	}

	return metrics.NewMemoryCollector(), nil
}
