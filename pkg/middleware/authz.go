package middleware

import (
	"context"
	"net/http"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/httputil"
)

// PermissionChecker is satisfied by *authz.Authorizer
type PermissionChecker interface {
	Require(ctx context.Context, p *auth.Principal, code string) error
}

// RequirePermission creates middleware that lets the request through only if
// the authenticated principal holds code. It must run after AuthMiddleware.
func RequirePermission(checker PermissionChecker, audit *auth.AuditLogger, code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r)
			if p == nil {
				httputil.WriteAccessError(w, accesserr.ErrAuthenticationRequired)
				return
			}

			if err := checker.Require(r.Context(), p, code); err != nil {
				if audit != nil {
					audit.LogFromRequest(r, p, auth.ActionAccessDenied, code, auth.StatusDenied, err)
				}
				httputil.WriteAccessError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
