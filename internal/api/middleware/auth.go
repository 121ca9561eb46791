package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/eharchive/internal/api/shared"
	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/platform/logger"
	"github.com/phrazzld/eharchive/internal/store"
)

// SessionStore is the part of the user store the middleware needs.
type SessionStore interface {
	UserCount(ctx context.Context) (int, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetToken(ctx context.Context, token string) (*domain.Token, error)
	UpdateTokenLastUsed(ctx context.Context, token string) error
	DeleteToken(ctx context.Context, token string) error
}

// AuthMiddleware authenticates requests with bearer sessions stored in the
// token table.
type AuthMiddleware struct {
	sessions SessionStore
	now      func() time.Time
}

// NewAuthMiddleware creates a new AuthMiddleware with the given dependencies.
func NewAuthMiddleware(sessions SessionStore) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, now: time.Now}
}

// Authenticate resolves the session token of the request and stores the
// user in the context. While no user exists every request is let through
// anonymously.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.FromContext(ctx)

		count, err := m.sessions.UserCount(ctx)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, http.StatusInternalServerError, "Authentication error", err)
			return
		}
		if count == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token := requestToken(r)
		if token == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, http.StatusUnauthorized, "Unauthorized")
			return
		}

		session, err := m.sessions.GetToken(ctx, token)
		if err != nil {
			if errors.Is(err, store.ErrTokenNotFound) {
				shared.RespondWithError(w, r, http.StatusUnauthorized, http.StatusUnauthorized, "Invalid token")
				return
			}
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, http.StatusInternalServerError, "Authentication error", err)
			return
		}
		if session.IsExpired(m.now()) {
			shared.RespondWithError(w, r, http.StatusUnauthorized, http.StatusUnauthorized, "Token expired")
			return
		}

		user, err := m.sessions.GetUser(ctx, session.UID)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				if err := m.sessions.DeleteToken(ctx, token); err != nil {
					log.Warn("failed to delete orphaned token", "error", err)
				}
				shared.RespondWithError(w, r, http.StatusUnauthorized, http.StatusUnauthorized, "Invalid token")
				return
			}
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, http.StatusInternalServerError, "Authentication error", err)
			return
		}
		if err := m.sessions.UpdateTokenLastUsed(ctx, token); err != nil {
			log.Warn("failed to update token last used", "error", err, "uid", user.ID)
		}

		ctx = shared.WithUser(ctx, user, session)
		ctx = logger.WithLogger(ctx, log.With("uid", user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestToken reads the session from the Authorization header, the
// X-Token header or the token cookie, in that order.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if t := r.Header.Get("X-Token"); t != "" {
		return t
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

// RequirePermission rejects authenticated users lacking want. Anonymous
// requests only reach here while no user exists and are allowed.
func RequirePermission(want domain.UserPermission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u := shared.UserFromContext(r.Context()); u != nil && !u.Can(want) {
				shared.RespondWithError(w, r, http.StatusForbidden, http.StatusForbidden, "Permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
