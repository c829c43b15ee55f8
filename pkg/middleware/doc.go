// Package middleware provides the HTTP middleware of the authorization
// service.
//
//	router.Use(middleware.RequestID(logger))
//	router.Use(middleware.Recovery(logger))
//
//	api := router.PathPrefix("/v1").Subrouter()
//	api.Use(middleware.NewAuthMiddleware(sessions, audit, false).Handler)
//	api.Use(middleware.RateLimit(limiter, logger))
//
//	admin := api.PathPrefix("/authz/invalidate").Subrouter()
//	admin.Use(middleware.RequirePermission(authorizer, audit, "authz:invalidate"))
//
// AuthMiddleware resolves "Authorization: Bearer <token>" through an
// auth.SessionStore and stores the principal in the request context;
// GetPrincipal reads it back. RateLimit keys on the principal when present
// and on the client IP otherwise, using either the in-process RateLimiter or
// the Redis-backed DistributedRateLimiter.
package middleware
