package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/httputil"
)

// AuthMiddleware resolves the bearer token to a principal through the session
// store and attaches it to the request context
type AuthMiddleware struct {
	store    auth.SessionStore
	audit    *auth.AuditLogger
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware. audit may be nil.
func NewAuthMiddleware(store auth.SessionStore, audit *auth.AuditLogger, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		store:    store,
		audit:    audit,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			m.reject(w, r, accesserr.New(accesserr.ErrAuthenticationRequired, "missing authorization header"))
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			m.reject(w, r, accesserr.New(accesserr.ErrAuthenticationRequired, "invalid authorization header format"))
			return
		}

		p, err := m.store.Lookup(r.Context(), parts[1])
		if err != nil {
			m.reject(w, r, err)
			return
		}

		m.log(r, p, auth.ActionAuthSuccess, auth.StatusSuccess, nil)
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	var e *accesserr.Error
	if !errors.As(err, &e) {
		err = accesserr.Unavailable(err, "session lookup failed")
	}
	m.log(r, nil, auth.ActionAuthFailure, auth.StatusFailure, err)
	httputil.WriteAccessError(w, err)
}

func (m *AuthMiddleware) log(r *http.Request, p *auth.Principal, action, status string, err error) {
	if m.audit != nil {
		m.audit.LogFromRequest(r, p, action, r.URL.Path, status, err)
	}
}

// GetPrincipal extracts the authenticated principal from the request
func GetPrincipal(r *http.Request) *auth.Principal {
	p, err := auth.CurrentPrincipal(r.Context())
	if err != nil {
		return nil
	}
	return p
}
