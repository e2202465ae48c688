package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/libsync-api/internal/models"
)

const metricsNamespace = "libsync"

// MetricsService wraps the Prometheus registry and keeps running totals for the health summary.
type MetricsService struct {
	registry             *prometheus.Registry
	handler              http.Handler
	requestDuration      *prometheus.HistogramVec
	preconditionFailures *prometheus.CounterVec
	cacheLookups         *prometheus.HistogramVec
	cacheWrite           prometheus.Observer
	dbQueryDuration      *prometheus.HistogramVec
	writeObjects         *prometheus.CounterVec
	versionAdvances      *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	conflictCount        uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	writeCount           uint64
	versionCount         uint64
}

// NewMetricsService registers the sync collectors alongside the Go runtime and process collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests by route template.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		preconditionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "precondition_failures_total",
			Help:      "Requests rejected for a stale (412) or missing (428) version precondition.",
		}, []string{"route", "status"}),
		cacheLookups: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "listing_cache_lookup_seconds",
			Help:      "Listing cache lookups by result.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"result"}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "listing_cache_write_seconds",
			Help:      "Latency of listing cache stores.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		dbQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "store_query_duration_seconds",
			Help:      "Duration of object store queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		writeObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_objects_total",
			Help:      "Objects processed by write requests, by type and outcome.",
		}, []string{"type", "outcome"}),
		versionAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "version_advances_total",
			Help:      "Library version increments, by library kind.",
		}, []string{"library_type"}),
	}

	registry.MustRegister(
		m.requestDuration,
		m.preconditionFailures,
		m.cacheLookups,
		m.cacheWrite.(prometheus.Collector),
		m.dbQueryDuration,
		m.writeObjects,
		m.versionAdvances,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request latency. Version precondition rejections are counted
// separately since a rising rate means clients are syncing against stale state.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, route, label).Observe(duration.Seconds())
	if status == http.StatusPreconditionFailed || status == http.StatusPreconditionRequired {
		m.preconditionFailures.WithLabelValues(route, label).Inc()
		atomic.AddUint64(&m.conflictCount, 1)
	}
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a listing cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	m.cacheLookups.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records store query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordWrite counts objects processed by a write request.
func (m *MetricsService) RecordWrite(objectType, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.writeObjects.WithLabelValues(objectType, outcome).Add(float64(count))
	atomic.AddUint64(&m.writeCount, uint64(count))
}

// RecordVersionAdvance counts a committed library version bump.
func (m *MetricsService) RecordVersionAdvance(lib models.Library) {
	if m == nil {
		return
	}
	m.versionAdvances.WithLabelValues(string(lib.Type)).Inc()
	atomic.AddUint64(&m.versionCount, 1)
}

// MetricsSnapshot summarises process counters for the health endpoint.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	PreconditionFailures     uint64    `json:"preconditionFailures"`
	DBQueryCount             uint64    `json:"dbQueryCount"`
	AverageDBQueryDurationMs float64   `json:"averageDbQueryDurationMs"`
	ObjectsWritten           uint64    `json:"objectsWritten"`
	VersionAdvances          uint64    `json:"versionAdvances"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

func average(total, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count) / float64(time.Millisecond)
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)

	var ratio float64
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}
	return MetricsSnapshot{
		CacheHitRatio:            ratio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: average(atomic.LoadUint64(&m.requestDurationTotal), requests),
		PreconditionFailures:     atomic.LoadUint64(&m.conflictCount),
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: average(atomic.LoadUint64(&m.dbQueryDurationTotal), dbCount),
		ObjectsWritten:           atomic.LoadUint64(&m.writeCount),
		VersionAdvances:          atomic.LoadUint64(&m.versionCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
