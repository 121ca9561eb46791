package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/eharchive/internal/api/shared"
	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/platform/logger"
	"github.com/phrazzld/eharchive/internal/store"
)

// AccountStore is the part of the user store the auth handler needs.
type AccountStore interface {
	GetUserByName(ctx context.Context, username string) (*domain.User, error)
	AddToken(ctx context.Context, t *domain.Token) error
	DeleteToken(ctx context.Context, token string) error
}

// AuthHandler handles session endpoints.
type AuthHandler struct {
	accounts AccountStore
	tokenTTL time.Duration
	now      func() time.Time
}

// NewAuthHandler creates a new AuthHandler. Sessions it creates expire
// after tokenTTL.
func NewAuthHandler(accounts AccountStore, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{accounts: accounts, tokenTTL: tokenTTL, now: time.Now}
}

// Login handles POST /login. It checks the bcrypt password and creates a
// bearer session, optionally also set as the token cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	log := logger.FromContext(r.Context())

	user, err := h.accounts.GetUserByName(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, StatusInvalidCredentials,
				"Incorrect username or password", err, shared.WithElevatedLogLevel())
			return
		}
		HandleAPIError(w, r, err, "Failed to authenticate user")
		return
	}
	if err := domain.CheckPassword(user.Password, req.Password); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, StatusInvalidCredentials,
			"Incorrect username or password", err, shared.WithElevatedLogLevel())
		return
	}

	now := h.now()
	httpOnly := req.HTTPOnly == nil || *req.HTTPOnly
	token := &domain.Token{
		UID:      user.ID,
		Token:    uuid.NewString(),
		Expired:  now.Add(h.tokenTTL),
		HTTPOnly: httpOnly,
		Secure:   req.Secure,
		LastUsed: now,
		Client:   optional(req.Client),
		Device:   optional(req.Device),
	}
	if err := h.accounts.AddToken(r.Context(), token); err != nil {
		HandleAPIError(w, r, err, "Failed to create session")
		return
	}
	log.Info("user logged in", "uid", user.ID)

	if req.SetCookie {
		http.SetCookie(w, &http.Cookie{
			Name:     "token",
			Value:    token.Token,
			Path:     "/api",
			Expires:  token.Expired,
			HttpOnly: token.HTTPOnly,
			Secure:   token.Secure,
		})
	}
	shared.RespondWithData(w, r, http.StatusCreated, LoginResponse{
		Token:     token.Token,
		UID:       user.ID,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		ExpiresAt: token.Expired.UTC().Format(time.RFC3339),
	})
}

// Logout handles DELETE /token by removing the session of the request.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	t := shared.TokenFromContext(r.Context())
	if t == nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, StatusInvalidBody, "Not logged in")
		return
	}
	if err := h.accounts.DeleteToken(r.Context(), t.Token); err != nil && !errors.Is(err, store.ErrTokenNotFound) {
		HandleAPIError(w, r, err, "Failed to delete session")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "token", Path: "/api", MaxAge: -1})
	shared.RespondWithData(w, r, http.StatusOK, true)
}

// Me handles GET /user/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u := shared.UserFromContext(r.Context())
	if u == nil {
		shared.RespondWithError(w, r, http.StatusNotFound, http.StatusNotFound, "No user is logged in")
		return
	}
	shared.RespondWithData(w, r, http.StatusOK, UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		IsAdmin:     u.IsAdmin,
		Permissions: int(u.Permissions),
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
