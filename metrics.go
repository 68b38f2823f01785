package eduapi

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request pipeline and
// the credential lifecycle. It is safe for concurrent use and can be shared
// between a Client and its providers.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	authRetriesTotal        *prometheus.CounterVec
	credentialIssuanceTotal *prometheus.CounterVec
	credentialInvalidations *prometheus.CounterVec

	decryptionTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	rateLimitRejections *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eduapi_requests_total",
				Help: "Total number of API requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eduapi_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eduapi_requests_in_flight",
				Help: "Number of API requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		authRetriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eduapi_auth_retries_total",
				Help: "Total number of credential-rejection retry cycles",
			},
			[]string{"method", "endpoint"},
		),
		credentialIssuanceTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eduapi_credential_issuance_total",
				Help: "Credential issuance attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		credentialInvalidations: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eduapi_credential_invalidations_total",
				Help: "Explicit credential invalidations by provider",
			},
			[]string{"provider"},
		),
		decryptionTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eduapi_payload_decryptions_total",
				Help: "Payload decryption attempts by outcome",
			},
			[]string{"outcome"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eduapi_cache_hits_total",
				Help: "Response cache hits",
			},
			[]string{"method", "endpoint"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eduapi_cache_misses_total",
				Help: "Response cache misses",
			},
			[]string{"method", "endpoint"},
		),
		rateLimitRejections: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eduapi_rate_limit_rejections_total",
				Help: "Requests rejected by the local rate limiter",
			},
			[]string{"endpoint"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eduapi_errors_total",
				Help: "Terminal errors by type",
			},
			[]string{"type", "method", "endpoint"},
		),
	}
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRequest records a completed request with its final status.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, status, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, status, endpoint).Observe(duration.Seconds())
}

// RecordAuthRetry records one invalidate+reacquire+resend cycle.
func (mc *MetricsCollector) RecordAuthRetry(method, endpoint string) {
	mc.authRetriesTotal.WithLabelValues(method, endpoint).Inc()
}

// RecordCredentialIssuance records an issuance attempt outcome
// ("success", "refreshed", "error").
func (mc *MetricsCollector) RecordCredentialIssuance(provider, outcome string) {
	mc.credentialIssuanceTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordCredentialInvalidation records an explicit invalidation.
func (mc *MetricsCollector) RecordCredentialInvalidation(provider string) {
	mc.credentialInvalidations.WithLabelValues(provider).Inc()
}

// RecordDecryption records a payload decryption outcome ("success", "failure").
func (mc *MetricsCollector) RecordDecryption(outcome string) {
	mc.decryptionTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit records a response cache hit.
func (mc *MetricsCollector) RecordCacheHit(method, endpoint string) {
	mc.cacheHits.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheMiss records a response cache miss.
func (mc *MetricsCollector) RecordCacheMiss(method, endpoint string) {
	mc.cacheMisses.WithLabelValues(method, endpoint).Inc()
}

// RecordRateLimitRejection records a local rate limiter rejection.
func (mc *MetricsCollector) RecordRateLimitRejection(endpoint string) {
	mc.rateLimitRejections.WithLabelValues(endpoint).Inc()
}

// RecordError records a terminal error by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}
