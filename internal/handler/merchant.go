package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/mise/internal/auth"
	"github.com/dukerupert/mise/internal/backend"
	billingstripe "github.com/dukerupert/mise/internal/billing/stripe"
	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/resilient"
	"github.com/dukerupert/mise/internal/store"
	"github.com/dukerupert/mise/internal/websocket"
)

// TrialLength is how long a self-service trial runs.
const TrialLength = 14 * 24 * time.Hour

// Billing is the part of the payment processor the portal uses.
type Billing interface {
	CreateCheckoutSession(ctx context.Context, req billingstripe.CheckoutRequest) (string, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

type MerchantHandler struct {
	access  *backend.Access
	billing Billing
	hub     *websocket.Hub
	baseURL string
	logger  *slog.Logger
}

// NewMerchantHandler returns the merchant portal endpoints. billing may be
// nil, in which case checkout and portal answer 503.
func NewMerchantHandler(access *backend.Access, billing Billing, hub *websocket.Hub, baseURL string, logger *slog.Logger) *MerchantHandler {
	return &MerchantHandler{access: access, billing: billing, hub: hub, baseURL: baseURL, logger: logger}
}

// subscriptions reads through the caller's own rows when the merchant is
// linked to the signed-in identity.
func (h *MerchantHandler) subscriptions(p auth.Principal, purpose string) *store.SubscriptionStore {
	if p.Merchant.Linked(p.IdentityID) {
		return store.NewSubscriptionStore(h.access.Restricted(p.IdentityID))
	}
	return store.NewSubscriptionStore(h.access.Privileged().For(purpose))
}

// Me returns the signed-in merchant and its current subscription.
func (h *MerchantHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	sub, err := h.subscriptions(p, "merchant portal: current subscription").Current(r.Context(), p.Merchant.ID)
	if err != nil {
		h.logger.Error("current subscription", "merchant_id", p.Merchant.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, resilient.ErrMsgUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"merchant":     p.Merchant,
		"subscription": sub,
	})
}

// StartTrial gives a merchant with no subscription a trial.
func (h *MerchantHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	ctx := r.Context()

	subs := store.NewSubscriptionStore(h.access.Privileged().For("merchant portal: start trial"))
	existing, err := subs.Current(ctx, p.Merchant.ID)
	if err != nil {
		h.logger.Error("current subscription", "merchant_id", p.Merchant.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, resilient.ErrMsgUnavailable)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "This account already has a subscription.")
		return
	}

	now := time.Now().UTC()
	end := now.Add(TrialLength)
	sub, err := subs.Create(ctx, store.NewSubscription{
		MerchantID:  p.Merchant.ID,
		Plan:        model.PlanTrial,
		Status:      model.StatusTrialing,
		PeriodStart: &now,
		PeriodEnd:   &end,
		EventAt:     &now,
	})
	if err != nil {
		h.logger.Error("create trial", "merchant_id", p.Merchant.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, resilient.ErrMsgUnavailable)
		return
	}

	h.hub.Broadcast(websocket.NewEvent("subscription", "created", sub.ID, map[string]any{
		"merchant_id": p.Merchant.ID,
		"plan":        sub.Plan,
		"status":      sub.Status,
	}))
	h.logger.Info("trial started", "merchant_id", p.Merchant.ID, "subscription_id", sub.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "subscription": sub})
}

// Checkout starts a paid checkout for the signed-in merchant.
func (h *MerchantHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "Billing is not available.")
		return
	}
	var req struct {
		Plan   string `json:"plan"`
		Locale string `json:"locale"`
	}
	if !decode(w, r, &req) {
		return
	}
	plan, ok := model.ParsePlan(req.Plan)
	if !ok || plan == model.PlanTrial {
		writeError(w, http.StatusBadRequest, "Choose a plan.")
		return
	}

	p, _ := auth.FromContext(r.Context())
	m := p.Merchant
	cr := billingstripe.CheckoutRequest{
		Plan:   plan,
		Email:  m.Email,
		Locale: email.NormalizeLocale(locale(r, req.Locale)),
		Metadata: map[string]string{
			billingstripe.MetaMerchantName: m.Name,
			billingstripe.MetaPhone:        m.Phone,
			billingstripe.MetaLocale:       m.Locale,
		},
	}
	if m.StripeCustomerID != nil {
		cr.CustomerID = *m.StripeCustomerID
	}

	url, err := h.billing.CreateCheckoutSession(r.Context(), cr)
	if err != nil {
		h.logger.Error("create checkout session", "merchant_id", m.ID, "plan", plan, "error", err)
		writeError(w, http.StatusBadGateway, "Could not start checkout. Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}

// Portal opens the processor's billing portal for the merchant's customer.
func (h *MerchantHandler) Portal(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "Billing is not available.")
		return
	}
	p, _ := auth.FromContext(r.Context())
	m := p.Merchant
	if m.StripeCustomerID == nil || *m.StripeCustomerID == "" {
		writeError(w, http.StatusConflict, "No billing account yet.")
		return
	}

	url, err := h.billing.CreateBillingPortalSession(r.Context(), *m.StripeCustomerID, h.baseURL+"/merchant")
	if err != nil {
		h.logger.Error("create billing portal session", "merchant_id", m.ID, "error", err)
		writeError(w, http.StatusBadGateway, "Could not open the billing portal. Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}
