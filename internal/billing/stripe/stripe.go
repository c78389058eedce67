package stripe

import (
	"context"
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/mise/internal/model"
)

var ErrPlanNotPurchasable = errors.New("plan cannot be purchased")

type Config struct {
	SecretKey      string
	WebhookSecret  string
	MonthlyPriceID string
	AnnualPriceID  string
	SetupPriceID   string
	SuccessURL     string
	CancelURL      string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// PriceFor returns the price and checkout mode for plan. The trial plan
// and unconfigured prices are not purchasable.
func (c *Client) PriceFor(plan model.Plan) (string, stripe.CheckoutSessionMode, error) {
	var price string
	mode := stripe.CheckoutSessionModeSubscription
	switch plan {
	case model.PlanMonthly:
		price = c.cfg.MonthlyPriceID
	case model.PlanAnnual:
		price = c.cfg.AnnualPriceID
	case model.PlanSetup:
		price = c.cfg.SetupPriceID
		mode = stripe.CheckoutSessionModePayment
	}
	if price == "" {
		return "", "", fmt.Errorf("%w: %q", ErrPlanNotPurchasable, plan)
	}
	return price, mode, nil
}

// CheckoutRequest describes one checkout. CustomerID wins over Email when
// both are set.
type CheckoutRequest struct {
	Plan       model.Plan
	CustomerID string
	Email      string
	Locale     string
	Metadata   map[string]string
}

// CreateCheckoutSession creates a Stripe checkout session and returns the URL.
// The plan always travels in the session metadata.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	price, mode, err := c.PriceFor(req.Plan)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(price),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	if req.Locale != "" {
		params.Locale = stripe.String(req.Locale)
	}
	switch {
	case req.CustomerID != "":
		params.Customer = stripe.String(req.CustomerID)
	case req.Email != "":
		params.CustomerEmail = stripe.String(req.Email)
	}
	if mode == stripe.CheckoutSessionModePayment && req.CustomerID == "" {
		params.CustomerCreation = stripe.String("always")
	}
	if mode == stripe.CheckoutSessionModeSubscription {
		params.AllowPromotionCodes = stripe.Bool(true)
	}
	for k, v := range req.Metadata {
		if v != "" {
			params.AddMetadata(k, v)
		}
	}
	params.AddMetadata(MetaPlan, string(req.Plan))

	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreateBillingPortalSession creates a Stripe billing portal session and returns the URL.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
