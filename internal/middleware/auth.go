package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/mise/internal/auth"
	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/model"
)

const SessionCookieName = "mise_session"

// SessionToken returns the session cookie value or "".
func SessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// currentIdentity writes the failure response itself and returns nil when
// the request carries no usable session.
func currentIdentity(w http.ResponseWriter, r *http.Request, idp identity.Provider, logger *slog.Logger) (*model.Identity, string) {
	token := SessionToken(r)
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, ""
	}
	ident, err := idp.CurrentUser(r.Context(), token)
	switch {
	case errors.Is(err, identity.ErrNoSession):
		ClearSessionCookie(w)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, ""
	case err != nil:
		logger.Error("load session", "error", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return nil, ""
	}
	return ident, token
}

// RequireMerchant validates the session cookie and resolves the caller's
// merchant. A signed-in identity with no merchant is signed out. An outage
// during resolution is a 503 so nobody is signed out by a backend blip.
func RequireMerchant(idp identity.Provider, access *backend.Access, resolver *identity.Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "require_merchant")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, token := currentIdentity(w, r, idp, logger)
			if ident == nil {
				return
			}

			m, err := resolver.ResolveMerchant(r.Context(), access.Restricted(ident.ID), access.Privileged(), ident.ID, ident.Email)
			if err != nil {
				logger.Error("resolve merchant", "identity_id", ident.ID, "error", err)
				http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
				return
			}
			if m == nil {
				if err := idp.SignOut(r.Context(), token); err != nil {
					logger.Warn("sign out non-merchant", "identity_id", ident.ID, "error", err)
				}
				ClearSessionCookie(w)
				http.Error(w, "Not a merchant account", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithPrincipal(r.Context(), auth.Principal{
				IdentityID:   ident.ID,
				Email:        ident.Email,
				SessionToken: token,
				Merchant:     m,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin admits identities whose email is on the admin list.
func RequireAdmin(idp identity.Provider, adminEmails []string, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "require_admin")
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		admins[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, token := currentIdentity(w, r, idp, logger)
			if ident == nil {
				return
			}
			if !admins[strings.ToLower(ident.Email)] {
				logger.Warn("admin access denied", "identity_id", ident.ID)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			ctx := auth.WithPrincipal(r.Context(), auth.Principal{
				IdentityID:   ident.ID,
				Email:        ident.Email,
				SessionToken: token,
				Admin:        true,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
