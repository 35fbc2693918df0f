package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"techclinic/internal/apiclient"
	"techclinic/internal/audit"
	"techclinic/internal/response"
	"techclinic/internal/session"
	"techclinic/internal/validation"
)

// Handler serves login, logout and the current session.
type Handler struct {
	Sessions *session.Store
	Audit    *audit.Ledger
	Logger   *zap.Logger

	// Login exchanges credentials for a remote API bearer token.
	Login func(ctx context.Context, username, password string) (string, error)

	// Forget drops any per-session state kept outside the session store.
	Forget func(sessionID string)

	SecureCookie bool
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse describes the signed-in user.
type UserResponse struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "username", req.Username)
	validation.RequireField(ve, "password", req.Password)
	validation.ValidateMaxLength(ve, "username", req.Username, validation.MaxUsernameLength)
	if ve.HasErrors() {
		response.ErrDetails(w, "Username and password are required", http.StatusBadRequest, ve)
		return
	}

	token, err := h.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		status := apiclient.StatusCode(err)
		h.Logger.Info("login rejected", zap.String("username", req.Username), zap.Int("status", status), zap.Error(err))
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			response.Err(w, apiclient.Message(err, "Invalid username or password"), status)
			return
		}
		response.Err(w, apiclient.Message(err, "Login failed"), status)
		return
	}

	sess, cookie, err := h.Sessions.Create(r.Context(), req.Username, token)
	if err != nil {
		h.Logger.Error("create session", zap.Error(err))
		response.Err(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	h.Audit.Log(r.Context(), req.Username, audit.ActionLogin, audit.ModuleSession, "", "Signed in")

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    cookie,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	response.JSON(w, map[string]interface{}{
		"user": UserResponse{Username: sess.Username, ExpiresAt: sess.ExpiresAt},
	})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(session.CookieName); err == nil {
		sess, err := h.Sessions.Lookup(r.Context(), c.Value)
		if err == nil {
			h.Sessions.Delete(r.Context(), sess.ID)
			if h.Forget != nil {
				h.Forget(sess.ID)
			}
			h.Audit.Log(r.Context(), sess.Username, audit.ActionLogout, audit.ModuleSession, "", "Signed out")
		} else if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrExpired) {
			h.Logger.Warn("logout lookup", zap.Error(err))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.SecureCookie,
		MaxAge:   -1,
	})
	response.JSON(w, map[string]string{"status": "ok"})
}

// HandleMe returns the session placed in the context by the auth middleware.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		response.ErrCode(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}
	response.JSON(w, map[string]interface{}{
		"user": UserResponse{Username: sess.Username, ExpiresAt: sess.ExpiresAt},
	})
}
