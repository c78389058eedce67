package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/login"
	"github.com/dukerupert/mise/internal/middleware"
	"github.com/dukerupert/mise/internal/model"
)

type AuthHandler struct {
	login  *login.Service
	secure bool
	logger *slog.Logger
}

// NewAuthHandler returns the sign-in endpoints. secure marks the session
// cookie Secure, which should be set whenever the site is served over TLS.
func NewAuthHandler(svc *login.Service, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{login: svc, secure: secure, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Locale   string `json:"locale"`
}

type sessionResponse struct {
	Success  bool            `json:"success"`
	Merchant *model.Merchant `json:"merchant"`
	Admin    bool            `json:"admin,omitempty"`
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sess *model.Session) {
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// loginStatus maps sign-in errors to HTTP statuses.
func loginStatus(err error) int {
	switch {
	case errors.Is(err, login.ErrInvalidInput), errors.Is(err, identity.ErrWeakCredential):
		return http.StatusBadRequest
	case errors.Is(err, login.ErrInvalidCredentials), errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, login.ErrNotMerchant):
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// Login signs a merchant in with email and password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	loc := email.NormalizeLocale(locale(r, req.Locale))

	res, err := h.login.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, loginStatus(err), login.UserMessage(err, loc))
		return
	}
	h.setSessionCookie(w, res.Session)
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, Merchant: res.Merchant})
}

// Logout ends the session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r); token != "" {
		if err := h.login.SignOut(r.Context(), token); err != nil {
			h.logger.Error("sign out", "error", err)
		}
	}
	middleware.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Recover always answers the same way so it cannot be used to learn
// which addresses belong to merchants.
func (h *AuthHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	loc := locale(r, req.Locale)
	h.login.RequestRecovery(r.Context(), req.Email, loc)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": login.RecoverySentMessage(email.NormalizeLocale(loc)),
	})
}

// PasswordSetup redeems an invitation or recovery token and signs in.
func (h *AuthHandler) PasswordSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
		Locale   string `json:"locale"`
	}
	if !decode(w, r, &req) {
		return
	}
	loc := email.NormalizeLocale(locale(r, req.Locale))
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, login.UserMessage(identity.ErrInvalidToken, loc))
		return
	}

	res, err := h.login.CompletePasswordSetup(r.Context(), req.Token, req.Password)
	if err != nil {
		writeError(w, loginStatus(err), login.UserMessage(err, loc))
		return
	}
	h.setSessionCookie(w, res.Session)
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, Merchant: res.Merchant, Admin: res.Admin})
}

// AdminLogin signs in an identity on the admin list.
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	loc := email.NormalizeLocale(locale(r, req.Locale))

	sess, err := h.login.SignInAdmin(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, loginStatus(err), login.UserMessage(err, loc))
		return
	}
	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, Admin: true})
}
