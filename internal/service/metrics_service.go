package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking operation outcome labels.
const (
	OutcomeCreated    = "created"
	OutcomeOverridden = "overridden"
	OutcomeWaitlisted = "waitlisted"
	OutcomeConflict   = "conflict"
	OutcomeInvalid    = "invalid"
	OutcomeCancelled  = "cancelled"
	OutcomeApproved   = "approved"
	OutcomeRejected   = "rejected"
	OutcomePromoted   = "promoted"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	bookingOutcomes *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	batchSlots      *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
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

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	bookingOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_operations_total",
		Help: "Booking operations by operation and outcome",
	}, []string{"operation", "outcome"})

	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_batch_duration_seconds",
		Help:    "Time spent processing a batch submission",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	batchSlots := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_batch_slots_total",
		Help: "Slots processed by batch submissions by outcome",
	}, []string{"outcome"})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_events_published_total",
		Help: "Booking change events handed to subscribers",
	}, []string{"action"})

	eventsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_events_dropped_total",
		Help: "Booking change events dropped because the dispatch buffer was full",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheLookups, bookingOutcomes, batchDuration, batchSlots, eventsPublished, eventsDropped, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheLookups:    cacheLookups,
		bookingOutcomes: bookingOutcomes,
		batchDuration:   batchDuration,
		batchSlots:      batchSlots,
		eventsPublished: eventsPublished,
		eventsDropped:   eventsDropped,
	}
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues("get").Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues("set").Observe(duration.Seconds())
}

// RecordBooking counts one booking operation outcome.
func (m *MetricsService) RecordBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingOutcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveBatch records the duration and per-slot outcomes of a batch submission.
func (m *MetricsService) ObserveBatch(duration time.Duration, created, overridden, skipped int) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(duration.Seconds())
	m.batchSlots.WithLabelValues(OutcomeCreated).Add(float64(created - overridden))
	m.batchSlots.WithLabelValues(OutcomeOverridden).Add(float64(overridden))
	m.batchSlots.WithLabelValues(OutcomeSkipped).Add(float64(skipped))
}

// RecordEvent counts a published or dropped booking event.
func (m *MetricsService) RecordEvent(action string, dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.eventsDropped.Inc()
		return
	}
	m.eventsPublished.WithLabelValues(action).Inc()
}
