// Package metrics registers the Prometheus collectors for outbound Overpass
// calls, the response cache and scene building.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var (
	OverpassRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "areamap_overpass_requests_total",
		Help: "Total Overpass requests sent",
	})
	OverpassFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "areamap_overpass_fail_total",
		Help: "Total Overpass requests that failed (transport, status or decode)",
	})
	OverpassDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "areamap_overpass_duration_ms",
		Help:    "Overpass request duration in milliseconds",
		Buckets: durationBuckets,
	})
	OverpassFeatures = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "areamap_overpass_features",
		Help:    "Number of GeoJSON features per converted response",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000},
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "areamap_cache_hits_total",
		Help: "Total feature collection cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "areamap_cache_misses_total",
		Help: "Total feature collection cache misses",
	})
	FetchSharedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "areamap_fetch_shared_total",
		Help: "Total callers served by an already in-flight fetch",
	})
	SceneDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "areamap_scene_duration_ms",
		Help:    "Scene build duration in milliseconds",
		Buckets: durationBuckets,
	})
	LayerStatusTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "areamap_layer_status_total",
		Help: "Scene layers by kind and resulting status",
	}, []string{"kind", "status"})
)

func init() {
	prometheus.MustRegister(OverpassRequestsTotal)
	prometheus.MustRegister(OverpassFailTotal)
	prometheus.MustRegister(OverpassDurationMs)
	prometheus.MustRegister(OverpassFeatures)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(FetchSharedTotal)
	prometheus.MustRegister(SceneDurationMs)
	prometheus.MustRegister(LayerStatusTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
