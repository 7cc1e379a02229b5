package rbac

import (
	"log/slog"
	"net/http"

	"github.com/clinvera/clinvera/internal/observability"
	"github.com/clinvera/clinvera/internal/platform/httpx"
)

// Middleware wires authorization gates for HTTP handlers. A missing actor
// fails with 401 before any permission lookup; a resolved actor lacking the
// required permission fails with 403. The wrapped handler never runs on
// denial.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// RequirePermission ensures the current actor holds the named permission.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return m.RequireAny(perm)
}

// RequireAny ensures the current actor holds at least one of the permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor := ActorFromContext(r.Context())
			if actor == nil {
				m.Metrics.RecordAuthzDecision("unauthenticated", perms[0])
				httpx.RespondError(w, httpx.ErrUnauthenticated)
				return
			}
			granted, err := m.Resolver.EffectivePermissions(r.Context(), actor.User())
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("resolve effective permissions", slog.Int64("actor_id", actor.ID), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			for _, p := range perms {
				if granted.Has(p) {
					m.Metrics.RecordAuthzDecision("allowed", p)
					next.ServeHTTP(w, r)
					return
				}
			}
			m.Metrics.RecordAuthzDecision("denied", perms[0])
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}
