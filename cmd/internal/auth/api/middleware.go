package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/slava-viktorov/crud-example/cmd/identity"
	"github.com/slava-viktorov/crud-example/cmd/internal/auth/session"
)

type ctxKey int

const currentUserKey ctxKey = iota

// WithCurrentUser resolves the access cookie to a user and stores it in the
// request context. Requests without a valid cookie pass through unchanged;
// handlers decide whether a user is required.
func (h *Handler) WithCurrentUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := h.accessTokenFromCookie(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		u, err := h.sessions.Authenticate(r.Context(), raw)
		if err != nil {
			if !errors.Is(err, session.ErrUnauthorized) {
				h.log.Error("auth.current_user.fail", "err", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), u)))
	})
}

// ContextWithUser returns ctx carrying u.
func ContextWithUser(ctx context.Context, u identity.User) context.Context {
	return context.WithValue(ctx, currentUserKey, &u)
}

// CurrentUser returns the user attached by WithCurrentUser, or nil.
func CurrentUser(ctx context.Context) *identity.User {
	u, _ := ctx.Value(currentUserKey).(*identity.User)
	return u
}
