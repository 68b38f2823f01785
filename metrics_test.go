package eduapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectorRecords(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequest("GET", "/schools/", 200, 50*time.Millisecond)
	mc.RecordRequest("GET", "/schools/", 200, 70*time.Millisecond)
	mc.RecordAuthRetry("GET", "/schools/")
	mc.RecordCredentialIssuance("bearer", "success")
	mc.RecordCredentialInvalidation("bearer")
	mc.RecordDecryption("failure")
	mc.RecordCacheHit("GET", "/schools/")
	mc.RecordCacheMiss("GET", "/schools/")
	mc.RecordRateLimitRejection("/schools/")
	mc.RecordError(ErrorTypeTimeout, "GET", "/schools/")

	checks := []struct {
		name    string
		counter float64
	}{
		{"requests", testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "200", "/schools/"))},
		{"auth retries", testutil.ToFloat64(mc.authRetriesTotal.WithLabelValues("GET", "/schools/"))},
		{"issuance", testutil.ToFloat64(mc.credentialIssuanceTotal.WithLabelValues("bearer", "success"))},
		{"invalidations", testutil.ToFloat64(mc.credentialInvalidations.WithLabelValues("bearer"))},
		{"decryptions", testutil.ToFloat64(mc.decryptionTotal.WithLabelValues("failure"))},
		{"cache hits", testutil.ToFloat64(mc.cacheHits.WithLabelValues("GET", "/schools/"))},
		{"rate limit", testutil.ToFloat64(mc.rateLimitRejections.WithLabelValues("/schools/"))},
		{"errors", testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeTimeout, "GET", "/schools/"))},
	}
	for _, c := range checks {
		want := 1.0
		if c.name == "requests" {
			want = 2.0
		}
		if c.counter != want {
			t.Errorf("%s counter = %v, want %v", c.name, c.counter, want)
		}
	}
}

func TestInFlightGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequestStart("GET", "/schools/")
	mc.RecordRequestStart("GET", "/schools/")
	if got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", "/schools/")); got != 2 {
		t.Errorf("in-flight gauge = %v, want 2", got)
	}

	mc.RecordRequestEnd("GET", "/schools/")
	if got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", "/schools/")); got != 1 {
		t.Errorf("in-flight gauge after end = %v, want 1", got)
	}
}

func TestPipelineEmitsMetrics(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeEnvelope(w, http.StatusUnauthorized, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, nil)
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)
	provider := &stubProvider{}
	client := New(server.URL,
		WithCredentialProvider(provider),
		WithMetricsCollector(mc),
	)

	if _, err := client.Get(context.Background(), "/schools/", nil); err != nil {
		t.Fatalf(unexpectedErrMsg, err)
	}

	if got := testutil.ToFloat64(mc.authRetriesTotal.WithLabelValues("GET", "/schools/")); got != 1 {
		t.Errorf("auth retry counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "200", "/schools/")); got != 1 {
		t.Errorf("request counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", "/schools/")); got != 0 {
		t.Errorf("in-flight gauge should settle at 0, got %v", got)
	}
}
