package payments

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
)

// CheckoutParams describes one booking checkout session.
type CheckoutParams struct {
	Tenant         *accounts.Account
	BookingID      string
	ConversationID string
	PatientName    string
	PatientPhone   string
	Source         string // "chat" or "directory"
	SuccessURL     string
	CancelURL      string
}

// CheckoutSession is the created session the caller persists and sends to the
// patient.
type CheckoutSession struct {
	ID          string
	URL         string
	AmountCents int64
	Currency    string
	ExpiresAt   time.Time
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutService creates hosted checkout sessions on tenants' connected
// accounts.
type CheckoutService struct {
	stripe     *StripeClient
	store      *Store
	successURL string
	cancelURL  string
}

func NewCheckoutService(stripe *StripeClient, store *Store, successURL, cancelURL string) *CheckoutService {
	if stripe == nil {
		panic("payments: stripe client required")
	}
	if store == nil {
		panic("payments: payment store required")
	}
	return &CheckoutService{stripe: stripe, store: store, successURL: successURL, cancelURL: cancelURL}
}

// CreateBookingCheckout opens a checkout session for the tenant's appointment
// price and records the pending payment. The session runs directly on the
// connected account; the platform key only authenticates.
func (c *CheckoutService) CreateBookingCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_booking_checkout")
	defer span.End()
	span.SetAttributes(
		attribute.String("citas.tenant_id", p.Tenant.ID),
		attribute.String("citas.booking_id", p.BookingID),
	)

	if !p.Tenant.PaymentsConfigured() {
		return nil, fmt.Errorf("payments: tenant %s cannot charge: %s", p.Tenant.ID, p.Tenant.PaymentMisconfigReason())
	}
	amount := p.Tenant.Payments.PriceCents
	if amount <= 0 {
		return nil, fmt.Errorf("payments: tenant %s has no appointment price configured", p.Tenant.ID)
	}
	currency := p.Tenant.CurrencyOrDefault()
	expiresAt := time.Now().Add(CheckoutExpiry)

	successURL := p.SuccessURL
	if successURL == "" {
		successURL = c.successURL
	}
	cancelURL := p.CancelURL
	if cancelURL == "" {
		cancelURL = c.cancelURL
	}

	description := p.Tenant.Payments.Description
	if description == "" {
		description = "Consulta médica"
	}

	var session stripeCheckoutSession
	if c.stripe.dryRun {
		session = stripeCheckoutSession{
			ID:  dryRunID("cs"),
			URL: "https://checkout.stripe.com/dry-run/" + p.BookingID,
		}
	} else {
		form := url.Values{}
		form.Set("mode", "payment")
		form.Set("line_items[0][price_data][currency]", currency)
		form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(amount, 10))
		form.Set("line_items[0][price_data][product_data][name]", description)
		form.Set("line_items[0][quantity]", "1")
		form.Set("success_url", successURL)
		form.Set("cancel_url", cancelURL)
		form.Set("expires_at", strconv.FormatInt(expiresAt.Unix(), 10))
		form.Set("metadata[booking_id]", p.BookingID)
		form.Set("metadata[tenant_id]", p.Tenant.ID)
		form.Set("metadata[source]", p.Source)
		if p.ConversationID != "" {
			form.Set("metadata[conversation_id]", p.ConversationID)
		}
		if p.PatientName != "" {
			form.Set("metadata[patient_name]", p.PatientName)
		}
		if p.PatientPhone != "" {
			form.Set("metadata[patient_phone]", p.PatientPhone)
		}

		if err := c.stripe.post(ctx, "/v1/checkout/sessions", form, p.Tenant.Payments.ConnectedAccountID, &session); err != nil {
			return nil, err
		}
		if session.URL == "" {
			return nil, fmt.Errorf("payments: stripe response missing checkout url")
		}
	}

	payment := &Payment{
		ID:             session.ID,
		TenantID:       p.Tenant.ID,
		BookingID:      p.BookingID,
		ConversationID: p.ConversationID,
		AmountCents:    amount,
		Currency:       currency,
		Status:         PaymentPending,
		CheckoutURL:    session.URL,
		ExpiresAt:      expiresAt,
		Source:         p.Source,
		Metadata: map[string]string{
			"patient_name":  p.PatientName,
			"patient_phone": p.PatientPhone,
		},
	}
	if err := c.store.Create(ctx, payment); err != nil {
		return nil, err
	}

	return &CheckoutSession{
		ID:          session.ID,
		URL:         session.URL,
		AmountCents: amount,
		Currency:    currency,
		ExpiresAt:   expiresAt,
	}, nil
}
