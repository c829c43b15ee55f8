// Package httputil holds the JSON request and response helpers shared by the
// HTTP handlers and middleware.
//
// Access-control errors map to status codes by their code:
//
//	if err := authorizer.Require(ctx, p, "user:read"); err != nil {
//		httputil.WriteAccessError(w, err) // 403 {"error": ..., "code": "FORBIDDEN"}
//		return
//	}
//
// Dependency failures become 503 with Retry-After; unknown errors become a
// bare 500 so wrapped causes never reach the client.
package httputil
