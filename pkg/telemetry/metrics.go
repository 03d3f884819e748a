package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the catalog. It implements facts.Observer.
type Metrics struct {
	config MetricsConfig

	// Search metrics
	searches       *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec

	// Traversal metrics
	traversals     *prometheus.CounterVec
	traversalNodes *prometheus.HistogramVec

	// Bag metrics
	factsAdded          prometheus.Counter
	cacheInvalidations  *prometheus.CounterVec
	unsupportedRequests *prometheus.CounterVec

	// Loader metrics
	schemaLoads       *prometheus.CounterVec
	policyEvaluations *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Total number of fact searches by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		searchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Duration of fact searches in seconds",
				Buckets:   buckets,
			},
			[]string{"strategy", "cached"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_cache_lookups_total",
				Help:      "Search cache lookups by result (hit or miss)",
			},
			[]string{"result"},
		),

		traversals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traversals_total",
				Help:      "Total number of breadth-first traversals walked",
			},
			[]string{"strategy"},
		),
		traversalNodes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "traversal_nodes",
				Help:      "Number of nodes visited per traversal",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"strategy"},
		),

		factsAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "facts_added_total",
				Help:      "Total number of facts added to mutable bags",
			},
		),
		cacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Cache entries dropped after facts were added",
			},
			[]string{"cache"},
		),
		unsupportedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unsupported_operations_total",
				Help:      "Mutations attempted on immutable bags",
			},
			[]string{"operation"},
		),

		schemaLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_loads_total",
				Help:      "Schema documents loaded by format and status",
			},
			[]string{"format", "status"},
		),
		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Validity policy evaluations by policy and decision",
			},
			[]string{"policy", "decision"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.searches,
		m.searchDuration,
		m.cacheLookups,
		m.traversals,
		m.traversalNodes,
		m.factsAdded,
		m.cacheInvalidations,
		m.unsupportedRequests,
		m.schemaLoads,
		m.policyEvaluations,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Search Metrics

// ObserveSearch records one resolved search.
func (m *Metrics) ObserveSearch(strategy, outcome string, cached bool, duration time.Duration) {
	if m == nil || m.searches == nil {
		return
	}
	m.searches.WithLabelValues(strategy, outcome).Inc()
	cachedLabel := "false"
	result := "miss"
	if cached {
		cachedLabel = "true"
		result = "hit"
	}
	m.searchDuration.WithLabelValues(strategy, cachedLabel).Observe(duration.Seconds())
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveTraversal records one uncached breadth-first walk.
func (m *Metrics) ObserveTraversal(strategy string, nodes int, _ time.Duration) {
	if m == nil || m.traversals == nil {
		return
	}
	m.traversals.WithLabelValues(strategy).Inc()
	m.traversalNodes.WithLabelValues(strategy).Observe(float64(nodes))
}

// Bag Metrics

// ObserveFactsAdded records facts appended to a bag.
func (m *Metrics) ObserveFactsAdded(count int) {
	if m == nil || m.factsAdded == nil {
		return
	}
	m.factsAdded.Add(float64(count))
}

// ObserveCacheInvalidation records cache entries dropped after an addition.
func (m *Metrics) ObserveCacheInvalidation(cache string, entries int) {
	if m == nil || m.cacheInvalidations == nil {
		return
	}
	m.cacheInvalidations.WithLabelValues(cache).Add(float64(entries))
}

// ObserveUnsupportedOperation records a rejected mutation.
func (m *Metrics) ObserveUnsupportedOperation(operation string) {
	if m == nil || m.unsupportedRequests == nil {
		return
	}
	m.unsupportedRequests.WithLabelValues(operation).Inc()
	m.RecordError("unsupported", "IMMUTABLE_BAG")
}

// Loader Metrics

// RecordSchemaLoad records a schema document load.
func (m *Metrics) RecordSchemaLoad(format string, err error) {
	if m == nil || m.schemaLoads == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.schemaLoads.WithLabelValues(format, status).Inc()
}

// RecordPolicyEvaluation records one validity policy decision.
func (m *Metrics) RecordPolicyEvaluation(policy string, allowed bool) {
	if m == nil || m.policyEvaluations == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.policyEvaluations.WithLabelValues(policy, decision).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer exposes metrics over HTTP until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
