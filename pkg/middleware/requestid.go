package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/breezeboot/breeze/pkg/contextkeys"
	"github.com/breezeboot/breeze/pkg/observability"
)

// RequestIDHeader carries the request ID in and out
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an ID (reusing a well-formed incoming
// X-Request-ID), stores a request-scoped logger in the context and logs the
// completed request
func RequestID(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			entry := logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			for k, v := range observability.TraceFields(r.Context()) {
				entry = entry.WithField(k, v)
			}

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = contextkeys.WithLogger(ctx, logrus.FieldLogger(entry))
			ctx = contextkeys.WithRequestStartTime(ctx, start)

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			entry.WithFields(logrus.Fields{
				"status":      rw.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request completed")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
