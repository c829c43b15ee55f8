package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/authz"
	"github.com/breezeboot/breeze/pkg/dept"
	"github.com/breezeboot/breeze/pkg/httputil"
	"github.com/breezeboot/breeze/pkg/middleware"
	"github.com/breezeboot/breeze/pkg/observability"
	"github.com/breezeboot/breeze/pkg/rowperm"
)

// InvalidatePermission guards the invalidation endpoint
const InvalidatePermission = "authz:invalidate"

const maxBodyBytes = 64 << 10

type server struct {
	authorizer *authz.Authorizer
	provider   *dept.Provider
	sessions   auth.SessionStore
	limiter    middleware.Limiter
	audit      *auth.AuditLogger
	metrics    *observability.Metrics
	logger     logrus.FieldLogger

	// admin is nil without a database; the management API is then not mounted
	admin  adminStore
	fields rowperm.FieldSet
}

// routes mounts the authorization API on router
func (s *server) routes(router *mux.Router) {
	api := router.PathPrefix("/v1/authz").Subrouter()
	api.Use(middleware.NewAuthMiddleware(s.sessions, s.audit, false).Handler)
	if s.limiter != nil {
		api.Use(middleware.RateLimit(s.limiter, s.logger))
	}
	api.Use(httputil.MaxBytesMiddleware(maxBodyBytes), httputil.ContentTypeMiddleware)

	api.HandleFunc("/check", s.handleCheck).Methods(http.MethodPost)
	api.HandleFunc("/scope/{entity}", s.handleScope).Methods(http.MethodGet)
	api.HandleFunc("/bundle", s.handleBundle).Methods(http.MethodGet)
	api.Handle("/invalidate",
		middleware.RequirePermission(s.authorizer, s.audit, InvalidatePermission)(http.HandlerFunc(s.handleInvalidate)),
	).Methods(http.MethodPost)

	if s.admin != nil {
		s.adminRoutes(router)
	}
}

type checkRequest struct {
	Permissions []string `json:"permissions"`
}

type checkResponse struct {
	PrincipalID int64           `json:"principal_id"`
	Admin       bool            `json:"admin"`
	Results     map[string]bool `json:"results"`
}

func (s *server) handleCheck(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r)

	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Permissions) == 0 {
		httputil.WriteBadRequest(w, "permissions is required")
		return
	}

	admin, err := s.authorizer.IsAdmin(r.Context(), p)
	if err != nil {
		s.fail(w, r, "check", err)
		return
	}

	resp := checkResponse{PrincipalID: p.ID, Admin: admin, Results: make(map[string]bool, len(req.Permissions))}
	for _, code := range req.Permissions {
		ok, err := s.authorizer.Authorize(r.Context(), p, code)
		if err != nil {
			s.fail(w, r, "check", err)
			return
		}
		resp.Results[code] = ok
		s.metrics.RecordDecision("check", outcome(ok))
	}

	_ = httputil.WriteJSON(w, http.StatusOK, resp)
}

type scopeResponse struct {
	Entity    string          `json:"entity"`
	Predicate json.RawMessage `json:"predicate"`
	Condition string          `json:"condition"`
	SQL       string          `json:"sql,omitempty"`
	Args      []interface{}   `json:"args,omitempty"`
}

func (s *server) handleScope(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r)

	entity, err := httputil.ParsePathString(r, "entity")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	withSQL, err := httputil.ParseQueryBool(r, "sql", true)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	scope, err := s.authorizer.DataScopeFor(r.Context(), p, entity)
	if err != nil {
		s.fail(w, r, "scope", err)
		return
	}
	encoded, err := rowperm.Marshal(scope)
	if err != nil {
		s.fail(w, r, "scope", err)
		return
	}

	_, denied := scope.(rowperm.None)
	s.metrics.RecordDecision("scope", outcome(!denied))

	resp := scopeResponse{Entity: entity, Predicate: encoded, Condition: scope.String()}
	if withSQL {
		resp.SQL, resp.Args = rowperm.ToSQL(scope, 1)
	}
	_ = httputil.WriteJSON(w, http.StatusOK, resp)
}

type bundleResponse struct {
	PrincipalID     int64    `json:"principal_id"`
	RoleCodes       []string `json:"role_codes"`
	PermissionCodes []string `json:"permission_codes"`
	Admin           bool     `json:"admin"`
	Generation      uint64   `json:"generation"`
}

func (s *server) handleBundle(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r)

	b, err := s.authorizer.Bundle(r.Context(), p)
	if err != nil {
		s.fail(w, r, "bundle", err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, bundleResponse{
		PrincipalID:     b.PrincipalID(),
		RoleCodes:       b.RoleCodes,
		PermissionCodes: b.PermissionCodes,
		Admin:           b.IsAdmin(s.authorizer.AdminCode()),
		Generation:      b.Generation,
	})
}

type invalidateRequest struct {
	All          bool    `json:"all"`
	PrincipalIDs []int64 `json:"principal_ids"`
	RoleIDs      []int64 `json:"role_ids"`
	Rules        bool    `json:"rules"`
	Departments  bool    `json:"departments"`
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.All && !req.Rules && !req.Departments && len(req.PrincipalIDs) == 0 && len(req.RoleIDs) == 0 {
		httputil.WriteBadRequest(w, "nothing to invalidate")
		return
	}

	ctx := r.Context()
	var err error
	switch {
	case req.Departments:
		err = s.authorizer.DepartmentsChanged(ctx)
	case req.All, req.Rules:
		err = s.authorizer.RuleChanged(ctx)
	default:
		err = s.authorizer.PrincipalChanged(ctx, req.PrincipalIDs...)
		for _, id := range req.RoleIDs {
			if err != nil {
				break
			}
			err = s.authorizer.RoleChanged(ctx, id)
		}
	}
	if err != nil {
		s.fail(w, r, "invalidate", err)
		return
	}

	s.audit.LogFromRequest(r, middleware.GetPrincipal(r), auth.ActionCacheInvalidate, "bundles", auth.StatusSuccess, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, kind string, err error) {
	s.metrics.RecordDecision(kind, "error")
	entry := observability.LoggerFromContext(r.Context(), s.logger).WithError(err)
	if accesserr.CodeOf(err) == accesserr.CodeDependencyUnavailable || accesserr.CodeOf(err) == "" {
		entry.Error("authorization request failed")
	} else {
		entry.Info("authorization request rejected")
	}
	httputil.WriteAccessError(w, err)
}

func outcome(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
