package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/breezeboot/breeze/pkg/httputil"
	"github.com/breezeboot/breeze/pkg/observability"
)

// Recovery turns a handler panic into a 500 response
func Recovery(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer observability.RecoverPanicWithCallback(
				observability.LoggerFromContext(r.Context(), logger),
				r.Method+" "+r.URL.Path,
				func(interface{}) { httputil.WriteInternalError(w) },
			)
			next.ServeHTTP(w, r)
		})
	}
}
