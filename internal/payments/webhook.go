package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// stripeEventTenant is the reserved tenant key under which webhook event ids
// are claimed. Real tenant keys are account ids and can never collide with it.
const stripeEventTenant = "stripe"

// eventClaimer takes ownership of an event id exactly once across workers.
// Release hands a claim back so the retry Stripe sends after a failure is not
// swallowed as a duplicate.
type eventClaimer interface {
	Claim(ctx context.Context, tenantKey, messageID string) (bool, error)
	Release(ctx context.Context, tenantKey, messageID string) error
}

func releaseEventClaim(ctx context.Context, claims eventClaimer, logger *logging.Logger, eventID string) {
	if err := claims.Release(ctx, stripeEventTenant, eventID); err != nil {
		logger.Error("failed to release stripe event claim, the retry may be dropped",
			"event_id", eventID, "error", err)
	}
}

// BookingFinalizer completes a booking after its checkout session is paid.
// Implemented by the booking pipeline; an interface here keeps the import
// direction one way.
type BookingFinalizer interface {
	FinalizePaidBooking(ctx context.Context, bookingID, sessionID string) error
}

// tenantResolver is the accounts-store subset the platform webhook needs.
type tenantResolver interface {
	GetByConnectedAccount(ctx context.Context, stripeAccountID string) (*accounts.Account, error)
	GetByEmail(ctx context.Context, email string) (*accounts.Account, error)
	UpdateCapabilities(ctx context.Context, id string, charges, payouts, details bool) error
}

// stripeEvent is the webhook envelope. data.object stays raw until the event
// type picks a shape.
type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type sessionObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
}

type capabilityObject struct {
	ID      string `json:"id"`
	Account string `json:"account"`
	Status  string `json:"status"`
}

// PlatformWebhookHandler handles events from the platform-payments endpoint:
// Connect account lifecycle and booking checkout completion.
type PlatformWebhookHandler struct {
	secret    string
	payments  *Store
	tenants   tenantResolver
	finalizer BookingFinalizer
	claims    eventClaimer
	logger    *logging.Logger
}

func NewPlatformWebhookHandler(secret string, payments *Store, tenants tenantResolver, finalizer BookingFinalizer, claims eventClaimer, logger *logging.Logger) *PlatformWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PlatformWebhookHandler{
		secret:    secret,
		payments:  payments,
		tenants:   tenants,
		finalizer: finalizer,
		claims:    claims,
		logger:    logger,
	}
}

func (h *PlatformWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	evt, ok := h.decode(w, r)
	if !ok {
		return
	}

	won, claimErr := h.claims.Claim(r.Context(), stripeEventTenant, evt.ID)
	if claimErr != nil {
		// Claim store down: process anyway, downstream effects are idempotent.
		h.logger.Warn("stripe event claim failed, continuing", "event_id", evt.ID, "error", claimErr)
	} else if !won {
		w.WriteHeader(http.StatusOK)
		return
	}

	var err error
	switch evt.Type {
	case "account.updated":
		err = h.handleAccountUpdated(r.Context(), evt)
	case "capability.updated":
		err = h.handleCapabilityUpdated(r.Context(), evt)
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(r.Context(), evt)
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	if err != nil {
		h.logger.Error("stripe event handling failed", "event_id", evt.ID, "type", evt.Type, "error", err)
		// Hand the claim back so Stripe's retry reaches the handler instead of
		// being ACKed as a duplicate. Checkout completion has no other
		// finalization path.
		if claimErr == nil {
			releaseEventClaim(r.Context(), h.claims, h.logger, evt.ID)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *PlatformWebhookHandler) decode(w http.ResponseWriter, r *http.Request) (*stripeEvent, bool) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return nil, false
	}
	if !verifyStripeSignature(h.secret, payload, r.Header.Get("Stripe-Signature")) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}
	var evt stripeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode stripe event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return nil, false
	}
	return &evt, true
}

func (h *PlatformWebhookHandler) handleAccountUpdated(ctx context.Context, evt *stripeEvent) error {
	var acct stripeAccount
	if err := json.Unmarshal(evt.Data.Object, &acct); err != nil {
		return fmt.Errorf("payments: decode account object: %w", err)
	}
	tenant, err := h.resolveTenant(ctx, acct.ID, acct.Email)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			h.logger.Warn("stripe account matches no tenant", "stripe_account", acct.ID, "event_id", evt.ID)
			return nil
		}
		return err
	}
	return h.tenants.UpdateCapabilities(ctx, tenant.ID, acct.ChargesEnabled, acct.PayoutsEnabled, acct.DetailsSubmitted)
}

func (h *PlatformWebhookHandler) handleCapabilityUpdated(ctx context.Context, evt *stripeEvent) error {
	var capability capabilityObject
	if err := json.Unmarshal(evt.Data.Object, &capability); err != nil {
		return fmt.Errorf("payments: decode capability object: %w", err)
	}
	if capability.Account == "" {
		return nil
	}
	tenant, err := h.tenants.GetByConnectedAccount(ctx, capability.Account)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			h.logger.Warn("capability event matches no tenant", "stripe_account", capability.Account, "event_id", evt.ID)
			return nil
		}
		return err
	}

	charges := tenant.Payments.ChargesEnabled
	payouts := tenant.Payments.PayoutsEnabled
	active := capability.Status == "active"
	switch capability.ID {
	case "card_payments":
		charges = active
	case "transfers":
		payouts = active
	default:
		return nil
	}
	return h.tenants.UpdateCapabilities(ctx, tenant.ID, charges, payouts, tenant.Payments.DetailsSubmitted)
}

func (h *PlatformWebhookHandler) handleCheckoutCompleted(ctx context.Context, evt *stripeEvent) error {
	var session sessionObject
	if err := json.Unmarshal(evt.Data.Object, &session); err != nil {
		return fmt.Errorf("payments: decode session object: %w", err)
	}

	if err := h.payments.UpdateStatus(ctx, session.ID, PaymentCompleted); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.logger.Warn("completed checkout has no payment row", "session_id", session.ID, "event_id", evt.ID)
		} else {
			return err
		}
	}

	bookingID := session.Metadata["booking_id"]
	if bookingID == "" {
		h.logger.Warn("completed checkout carries no booking id", "session_id", session.ID, "event_id", evt.ID)
		return nil
	}
	if h.finalizer == nil {
		return nil
	}
	return h.finalizer.FinalizePaidBooking(ctx, bookingID, session.ID)
}

func (h *PlatformWebhookHandler) resolveTenant(ctx context.Context, stripeAccountID, email string) (*accounts.Account, error) {
	if stripeAccountID != "" {
		tenant, err := h.tenants.GetByConnectedAccount(ctx, stripeAccountID)
		if err == nil {
			return tenant, nil
		}
		if !errors.Is(err, accounts.ErrNotFound) {
			return nil, err
		}
	}
	if email != "" {
		return h.tenants.GetByEmail(ctx, email)
	}
	return nil, accounts.ErrNotFound
}

// SubscriptionEvent is the distilled subscription change handed to the sync
// layer.
type SubscriptionEvent struct {
	SubscriptionID   string
	CustomerID       string
	Status           string
	TenantID         string
	TierID           string
	PriceID          string
	Interval         string
	CurrentPeriodEnd time.Time
	CancelAtPeriod   bool
	Deleted          bool
}

// SubscriptionSyncer applies a subscription change to the local row and the
// tenant's account fields. Implemented by internal/subscriptions.
type SubscriptionSyncer interface {
	Sync(ctx context.Context, evt SubscriptionEvent) error
}

type subscriptionObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			Price struct {
				ID        string `json:"id"`
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountDue    int64  `json:"amount_due"`
}

// SubscriptionWebhookHandler handles the platform-billing endpoint, which
// Stripe signs with its own secret.
type SubscriptionWebhookHandler struct {
	secret string
	syncer SubscriptionSyncer
	claims eventClaimer
	logger *logging.Logger
}

func NewSubscriptionWebhookHandler(secret string, syncer SubscriptionSyncer, claims eventClaimer, logger *logging.Logger) *SubscriptionWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SubscriptionWebhookHandler{secret: secret, syncer: syncer, claims: claims, logger: logger}
}

func (h *SubscriptionWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !verifyStripeSignature(h.secret, payload, r.Header.Get("Stripe-Signature")) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var evt stripeEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.ID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	won, claimErr := h.claims.Claim(r.Context(), stripeEventTenant, evt.ID)
	if claimErr != nil {
		h.logger.Warn("stripe event claim failed, continuing", "event_id", evt.ID, "error", claimErr)
	} else if !won {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch evt.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub subscriptionObject
		if err := json.Unmarshal(evt.Data.Object, &sub); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		sevt := SubscriptionEvent{
			SubscriptionID:   sub.ID,
			CustomerID:       sub.Customer,
			Status:           sub.Status,
			TenantID:         sub.Metadata["tenant_id"],
			TierID:           sub.Metadata["tier_id"],
			CurrentPeriodEnd: time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
			CancelAtPeriod:   sub.CancelAtPeriodEnd,
			Deleted:          evt.Type == "customer.subscription.deleted",
		}
		if len(sub.Items.Data) > 0 {
			sevt.PriceID = sub.Items.Data[0].Price.ID
			sevt.Interval = sub.Items.Data[0].Price.Recurring.Interval
		}
		if err := h.syncer.Sync(r.Context(), sevt); err != nil {
			h.logger.Error("subscription sync failed", "event_id", evt.ID, "subscription_id", sub.ID, "error", err)
			if claimErr == nil {
				releaseEventClaim(r.Context(), h.claims, h.logger, evt.ID)
			}
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv invoiceObject
		_ = json.Unmarshal(evt.Data.Object, &inv)
		h.logger.Info("subscription invoice event",
			"type", evt.Type, "invoice_id", inv.ID, "customer_id", inv.Customer,
			"subscription_id", inv.Subscription, "amount_due_cents", inv.AmountDue)
	}
	w.WriteHeader(http.StatusOK)
}

// verifyStripeSignature checks the Stripe-Signature header, which Stripe
// builds as t=<unix>,v1=<hmac>[,v0=...] over "<t>.<payload>" with HMAC-SHA256.
// An empty secret bypasses verification for local development.
func verifyStripeSignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	signed := timestamp + "." + string(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
