package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/clinvera/clinvera/internal/rbac"
)

// ActorStore resolves user IDs to actor snapshots.
type ActorStore interface {
	ActorByID(ctx context.Context, id int64) (rbac.Actor, error)
}

// Loader attaches the authenticated actor to request context. Requests
// without a valid session pass through without an actor; the authorization
// middleware then rejects them with 401 where a permission is required.
type Loader struct {
	Sessions   *SessionStore
	Store      ActorStore
	Logger     *slog.Logger
	CookieName string
}

// LoadActor is the middleware resolving session cookie to actor.
func (l *Loader) LoadActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(l.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := l.Sessions.UserID(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, ErrNoSession) && l.Logger != nil {
				l.Logger.Error("load session", slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		actor, err := l.Store.ActorByID(r.Context(), userID)
		if err != nil {
			if l.Logger != nil {
				l.Logger.Warn("session user missing", slog.Int64("user_id", userID), slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := rbac.ContextWithActor(r.Context(), &actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
