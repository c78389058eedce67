package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/mise/internal/admin"
	"github.com/dukerupert/mise/internal/backend"
	billingstripe "github.com/dukerupert/mise/internal/billing/stripe"
	"github.com/dukerupert/mise/internal/catalog"
	"github.com/dukerupert/mise/internal/config"
	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/handler"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/lifecycle"
	"github.com/dukerupert/mise/internal/login"
	"github.com/dukerupert/mise/internal/middleware"
	"github.com/dukerupert/mise/internal/store"
	ws "github.com/dukerupert/mise/internal/websocket"
)

type Server struct {
	access       *backend.Access
	hub          *ws.Hub
	idp          *identity.LocalProvider
	resolver     *identity.Resolver
	authH        *handler.AuthHandler
	merchantH    *handler.MerchantHandler
	catalogH     *handler.CatalogHandler
	adminH       *handler.AdminHandler
	adminSvc     *admin.Service
	checkoutH    *handler.CheckoutHandler
	webhookH     *handler.WebhookHandler
	stripeClient *billingstripe.Client
	rateLimiter  *middleware.RateLimiter
	adminEmails  []string
	feedOrigins  []string
	logger       *slog.Logger
}

// New wires every service over primary, which may be backend.Offline when
// the database could not be opened.
func New(primary backend.Store, cfg config.Config, mailer email.Sender, logger *slog.Logger) (*Server, error) {
	access := backend.NewAccess(primary, store.Policies(), logger)
	priv := access.Privileged()
	hub := ws.NewHub(logger)

	idp := identity.NewLocalProvider(priv, cfg.BaseURL, logger)
	resolver := identity.NewResolver(logger)

	catalogSvc, err := catalog.NewService(access.Restricted(""), logger)
	if err != nil {
		return nil, err
	}

	var stripeClient *billingstripe.Client
	var billing handler.Billing
	if cfg.BillingEnabled() {
		stripeClient = billingstripe.NewClient(billingstripe.Config{
			SecretKey:      cfg.StripeSecretKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
			MonthlyPriceID: cfg.MonthlyPriceID,
			AnnualPriceID:  cfg.AnnualPriceID,
			SetupPriceID:   cfg.SetupPriceID,
			SuccessURL:     cfg.BaseURL + "/merchant?checkout=success",
			CancelURL:      cfg.BaseURL + "/pricing",
		})
		billing = stripeClient
	}

	adminSvc := admin.NewService(priv, idp, mailer, hub, logger)
	loginSvc := login.NewService(idp, access, resolver, mailer, logger, login.WithAdmins(cfg.AdminEmails))

	s := &Server{
		access:       access,
		hub:          hub,
		idp:          idp,
		resolver:     resolver,
		authH:        handler.NewAuthHandler(loginSvc, strings.HasPrefix(cfg.BaseURL, "https://"), logger.With("component", "auth")),
		merchantH:    handler.NewMerchantHandler(access, billing, hub, cfg.BaseURL, logger.With("component", "merchant")),
		catalogH:     handler.NewCatalogHandler(catalogSvc, logger.With("component", "catalog_http")),
		adminH:       handler.NewAdminHandler(adminSvc, logger.With("component", "admin_http")),
		adminSvc:     adminSvc,
		stripeClient: stripeClient,
		rateLimiter:  middleware.NewRateLimiter(),
		adminEmails:  cfg.AdminEmails,
		feedOrigins:  originPatterns(cfg.BaseURL),
		logger:       logger,
	}
	if stripeClient != nil {
		machine := lifecycle.NewMachine(priv, idp, mailer, hub, logger)
		s.webhookH = handler.NewWebhookHandler(stripeClient, machine, logger.With("component", "webhook"))
		s.checkoutH = handler.NewCheckoutHandler(stripeClient, logger.With("component", "checkout"))
	}
	return s, nil
}

// originPatterns allows the live feed from the site's own host.
func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// Sessions returns the identity provider for cleanup tasks.
func (s *Server) Sessions() *identity.LocalProvider {
	return s.idp
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BootstrapAdmins gives every configured admin address an identity and a
// password setup link.
func (s *Server) BootstrapAdmins(ctx context.Context) (int, error) {
	return s.adminSvc.BootstrapAdmins(ctx, s.adminEmails)
}

// Hub returns the live feed hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Public directory
	mux.HandleFunc("GET /api/restaurants", s.catalogH.ListRestaurants)
	mux.HandleFunc("GET /api/restaurants/{slug}", s.catalogH.GetRestaurant)
	mux.HandleFunc("GET /api/restaurants/{slug}/reviews", s.catalogH.ListReviews)
	mux.HandleFunc("POST /api/restaurants/{slug}/reviews", s.rateLimitedHandler("reviews", 5, s.catalogH.SubmitReview))
	mux.HandleFunc("POST /api/newsletter", s.rateLimitedHandler("newsletter", 5, s.catalogH.SubscribeNewsletter))

	// Sign-in
	mux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler("login", 10, s.authH.Login))
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("POST /api/auth/recover", s.rateLimitedHandler("recover", 5, s.authH.Recover))
	mux.HandleFunc("POST /api/auth/password-setup", s.rateLimitedHandler("password_setup", 10, s.authH.PasswordSetup))

	// Stripe webhook (public, signature-verified)
	if s.webhookH != nil {
		mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}
	if s.checkoutH != nil {
		mux.HandleFunc("POST /api/checkout", s.rateLimitedHandler("checkout", 10, s.checkoutH.Create))
	}

	// Merchant portal
	merchantMw := middleware.RequireMerchant(s.idp, s.access, s.resolver, s.logger)
	mux.Handle("GET /api/merchant/me", merchantMw(http.HandlerFunc(s.merchantH.Me)))
	mux.Handle("POST /api/merchant/trial", merchantMw(http.HandlerFunc(s.merchantH.StartTrial)))
	if s.stripeClient != nil {
		mux.Handle("POST /api/merchant/checkout", merchantMw(http.HandlerFunc(s.merchantH.Checkout)))
		mux.Handle("POST /api/merchant/portal", merchantMw(http.HandlerFunc(s.merchantH.Portal)))
	}

	// Admin console
	mux.HandleFunc("POST /api/admin/login", s.rateLimitedHandler("admin_login", 10, s.authH.AdminLogin))
	adminMw := middleware.RequireAdmin(s.idp, s.adminEmails, s.logger)
	mux.Handle("GET /api/admin/dashboard", adminMw(http.HandlerFunc(s.adminH.Dashboard)))
	mux.Handle("GET /api/admin/merchants", adminMw(http.HandlerFunc(s.adminH.ListMerchants)))
	mux.Handle("POST /api/admin/merchants", adminMw(http.HandlerFunc(s.adminH.ProvisionMerchant)))
	mux.Handle("POST /api/admin/merchants/{id}/password", adminMw(http.HandlerFunc(s.adminH.ResetPassword)))
	mux.Handle("GET /api/admin/feed", adminMw(ws.HandleFeed(s.hub, s.feedOrigins, s.logger)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) rateLimitedHandler(bucket string, limit int, h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ByIP(bucket), middleware.Limit{Requests: limit, Window: time.Minute})
	return rl(h).ServeHTTP
}

// healthCheck is ok whenever the process is serving. Backend reachability
// is reported in its own field.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "backend": "ok"}
	if _, err := s.access.Restricted("").Count(ctx, store.RestaurantsTable, nil); err != nil {
		status["backend"] = "unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
