package httpapi

import (
	"net/http"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/auth"
)

// Policy declares what a wrapped operation requires. AllowedRoles restricts
// by role; TenantIDFromRequest derives the owning tenant of the target
// resource (e.g. from a path parameter) for the cross-tenant isolation
// check, which runs on every tenant-scoped operation regardless of role.
type Policy struct {
	Resource            string
	Action              string
	AllowedRoles        []auth.Role
	TenantIDFromRequest func(*http.Request) string
}

// RequirePolicy composes authorization after WrapWithAuth. Denials never
// reveal which roles or tenant would have been sufficient.
func RequirePolicy(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAuthRequired)
				return
			}

			if len(policy.AllowedRoles) > 0 && !roleAllowed(principal.Role, policy.AllowedRoles) {
				_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
					"resource": policy.Resource,
					"action":   policy.Action,
					"reason":   "role not allowed",
				})
				writeFailure(w, r, http.StatusForbidden, codeForbidden, msgAccessDenied)
				return
			}

			if policy.TenantIDFromRequest != nil {
				target := policy.TenantIDFromRequest(r)
				if target == "" || target != principal.TenantID {
					_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
						"resource": policy.Resource,
						"action":   policy.Action,
						"reason":   "tenant mismatch",
					})
					writeFailure(w, r, http.StatusForbidden, codeForbidden, msgResourceDenied)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func roleAllowed(role auth.Role, allowed []auth.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
