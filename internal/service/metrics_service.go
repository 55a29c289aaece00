package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/agenda-lina-api/internal/models"
)

// MetricsService owns the Prometheus registry of the API and keeps running totals for the summary endpoint.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.HistogramVec
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	dbQueryDuration *prometheus.HistogramVec
	gradeComputed   *prometheus.CounterVec
	recalcJobs      *prometheus.CounterVec

	cacheHitCount    uint64
	cacheMissCount   uint64
	requestCount     uint64
	requestNanos     uint64
	dbQueryCount     uint64
	dbQueryNanos     uint64
	computationCount uint64
	recalcDone       uint64
	recalcFailed     uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLookups := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cache_lookup_seconds",
		Help:    "Latency of cache lookups by result",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	gradeComputed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grade_computations_total",
		Help: "Grade computations persisted, by scope and resulting status",
	}, []string{"scope", "status"})

	recalcJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grade_recalculation_jobs_total",
		Help: "Finished recalculation jobs by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLookups, cacheWrite, cacheHitRatio, dbQueryDuration, gradeComputed, recalcJobs, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLookups:    cacheLookups,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		dbQueryDuration: dbQueryDuration,
		gradeComputed:   gradeComputed,
		recalcJobs:      recalcJobs,
	}
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestNanos, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a cache lookup and refreshes the hit ratio.
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
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryNanos, uint64(duration.Nanoseconds()))
}

// ObserveGradeComputation counts a persisted average or final situation.
func (m *MetricsService) ObserveGradeComputation(scope, status string) {
	if m == nil {
		return
	}
	m.gradeComputed.WithLabelValues(scope, status).Inc()
	atomic.AddUint64(&m.computationCount, 1)
}

// ObserveRecalculationJob counts a finished recalculation job.
func (m *MetricsService) ObserveRecalculationJob(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.recalcJobs.WithLabelValues("failed").Inc()
		atomic.AddUint64(&m.recalcFailed, 1)
		return
	}
	m.recalcJobs.WithLabelValues("succeeded").Inc()
	atomic.AddUint64(&m.recalcDone, 1)
}

// Snapshot returns the running totals.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)

	snapshot := models.SystemMetrics{
		CacheHits:              hits,
		CacheMisses:            misses,
		RequestsTotal:          requests,
		DBQueryCount:           dbCount,
		GradeComputations:      atomic.LoadUint64(&m.computationCount),
		RecalculationSucceeded: atomic.LoadUint64(&m.recalcDone),
		RecalculationFailed:    atomic.LoadUint64(&m.recalcFailed),
		Goroutines:             runtime.NumGoroutine(),
		GeneratedAt:            time.Now().UTC(),
	}
	if hits+misses > 0 {
		snapshot.CacheHitRatio = float64(hits) / float64(hits+misses)
	}
	if requests > 0 {
		snapshot.AverageRequestDurationMs = float64(atomic.LoadUint64(&m.requestNanos)) / float64(requests) / float64(time.Millisecond)
	}
	if dbCount > 0 {
		snapshot.AverageDBQueryDurationMs = float64(atomic.LoadUint64(&m.dbQueryNanos)) / float64(dbCount) / float64(time.Millisecond)
	}
	return snapshot
}
