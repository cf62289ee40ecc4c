package authz

import (
	"log/slog"
	"net/http"

	"github.com/signalboard/signalboard/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers.
type Middleware struct {
	Checker *Checker
	Logger  *slog.Logger
}

// RequireAny ensures the current user holds at least one of the permissions.
func (m Middleware) RequireAny(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(permissions) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if m.Checker.HasAnyPermission(r.Context(), userID, permissions...) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the current user holds every listed permission.
func (m Middleware) RequireAll(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(permissions) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if m.Checker.HasAllPermissions(r.Context(), userID, permissions...) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequirePermission ensures the current user may perform action on resource,
// honoring wildcard grants.
func (m Middleware) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if m.Checker.HasResourcePermission(r.Context(), userID, resource, action) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}
