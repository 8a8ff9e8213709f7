package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockd_cache_hits_total",
		Help: "Cache hits by tier.",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockd_cache_misses_total",
		Help: "Cache misses by tier.",
	}, []string{"tier"})

	SchemaHeals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockd_schema_heals_total",
		Help: "Lazy ALTER TABLE repairs after a missing-column error.",
	})

	RemotePurgeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockd_remote_purge_errors_total",
		Help: "Failed best-effort invalidations of the remote cache tier.",
	})
)
