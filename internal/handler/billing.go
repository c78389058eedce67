package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/mail"

	billingstripe "github.com/dukerupert/mise/internal/billing/stripe"
	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/lifecycle"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/store"
)

// CheckoutHandler starts checkouts for visitors who are not merchants yet.
// The merchant is created when the processor reports the completed payment.
type CheckoutHandler struct {
	billing Billing
	logger  *slog.Logger
}

func NewCheckoutHandler(billing Billing, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{billing: billing, logger: logger}
}

func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan           string `json:"plan"`
		Email          string `json:"email"`
		MerchantName   string `json:"merchant_name"`
		RestaurantName string `json:"restaurant_name"`
		Phone          string `json:"phone"`
		Locale         string `json:"locale"`
	}
	if !decode(w, r, &req) {
		return
	}

	plan, ok := model.ParsePlan(req.Plan)
	if !ok || plan == model.PlanTrial {
		writeError(w, http.StatusBadRequest, "Choose a plan.")
		return
	}
	addr := store.NormalizeEmail(req.Email)
	if _, err := mail.ParseAddress(addr); err != nil {
		writeError(w, http.StatusBadRequest, "Enter a valid email address.")
		return
	}
	loc := email.NormalizeLocale(locale(r, req.Locale))

	url, err := h.billing.CreateCheckoutSession(r.Context(), billingstripe.CheckoutRequest{
		Plan:   plan,
		Email:  addr,
		Locale: loc,
		Metadata: map[string]string{
			billingstripe.MetaMerchantName:   req.MerchantName,
			billingstripe.MetaRestaurantName: req.RestaurantName,
			billingstripe.MetaPhone:          req.Phone,
			billingstripe.MetaLocale:         loc,
		},
	})
	if err != nil {
		h.logger.Error("create checkout session", "email", addr, "plan", plan, "error", err)
		writeError(w, http.StatusBadGateway, "Could not start checkout. Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}

// WebhookHandler verifies processor notifications and feeds them to the
// subscription state machine.
type WebhookHandler struct {
	client  *billingstripe.Client
	machine *lifecycle.Machine
	logger  *slog.Logger
}

func NewWebhookHandler(client *billingstripe.Client, machine *lifecycle.Machine, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{client: client, machine: machine, logger: logger}
}

// HandleStripeWebhook answers 500 only when the event could not be applied
// because the backend was unreachable, so that the processor redelivers it.
// Everything else is acknowledged.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.client.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ev, err := billingstripe.TranslateEvent(event)
	if err != nil {
		h.logger.Warn("webhook payload rejected", "event_id", event.ID, "type", event.Type, "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	outcome, err := h.machine.Apply(r.Context(), ev)
	if lifecycle.Retryable(err) {
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}
