// Package auth provides principal identity and session handling for Breeze.
//
// # Overview
//
// A Principal is the authenticated actor for a request: its ID, username, the
// role and permission codes stored with its session and its department. The
// principal is passed explicitly through context.Context; there is no global
// "current user" accessor.
//
//	ctx = auth.WithPrincipal(ctx, principal)
//	p, err := auth.CurrentPrincipal(ctx) // accesserr.ErrAuthenticationRequired if absent
//
// # Sessions
//
// Tokens are opaque strings of the form brz_<base64url(32 random bytes)>. Only
// the SHA-256 hash of a token is used as the storage key.
//
//	store := auth.NewRedisSessionStore(client, 12*time.Hour)
//	token, err := store.Save(ctx, principal)  // login
//	p, err := store.Lookup(ctx, token)        // every request
//	err = store.Revoke(ctx, token)            // logout
//
// Lookup returns accesserr.ErrAuthenticationRequired for unknown or expired
// tokens and accesserr.ErrDependencyUnavailable when Redis cannot be reached.
//
// # Administrators
//
// IsAdmin reports whether a principal carries the administrator permission
// code (ROLE_ADMIN unless configured otherwise).
package auth
