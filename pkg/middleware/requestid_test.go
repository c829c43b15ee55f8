package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezeboot/breeze/pkg/contextkeys"
	"github.com/breezeboot/breeze/pkg/observability"
)

func TestRequestID(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var seen string
	h := RequestID(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
		_, hasStart := contextkeys.GetRequestStartTime(r.Context())
		assert.True(t, hasStart)
		observability.LoggerFromContext(r.Context(), logger).Info("inside")
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/authz/scope/user", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, seen, entries[0].Data["request_id"])
	assert.Equal(t, "request completed", entries[1].Message)
	assert.Equal(t, http.StatusAccepted, entries[1].Data["status"])
}

func TestRequestID_ReusesValidHeader(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := RequestID(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	incoming := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, incoming, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "<script>", rec.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/explode", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	if entry := hook.LastEntry(); assert.NotNil(t, entry) {
		assert.Equal(t, "GET /explode", entry.Data["context"])
	}
}
