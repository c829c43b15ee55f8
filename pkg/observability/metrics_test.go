package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/v1/authz/scope/{entity}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})

	for _, entity := range []string{"user", "order"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/authz/scope/"+entity, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/authz/scope/{entity}", "418")))
}

func TestRecordDecision(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RecordDecision("check", "allow")
	metrics.RecordDecision("check", "allow")
	metrics.RecordDecision("check", "deny")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DecisionsTotal.WithLabelValues("check", "allow")))

	var nilMetrics *Metrics
	nilMetrics.RecordDecision("check", "allow")
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordDecision("scope", "allow")

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "breeze_authz_decisions_total"))
}
