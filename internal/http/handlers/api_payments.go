package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/internal/subscriptions"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

type connectService interface {
	StartOnboarding(ctx context.Context, tenant *accounts.Account, refreshURL, returnURL string) (string, error)
	SyncStatus(ctx context.Context, tenant *accounts.Account) error
}

type billingService interface {
	CreateSubscriptionCheckout(ctx context.Context, tenant *accounts.Account, tier *payments.TierPricing, interval, successURL, cancelURL string) (string, error)
	CreatePortalSession(ctx context.Context, tenant *accounts.Account, returnURL string) (string, error)
}

type tierCatalog interface {
	Pricing(ctx context.Context, id string) (*payments.TierPricing, error)
	ListActive(ctx context.Context) ([]subscriptions.PricingTier, error)
}

// PaymentsAPIHandler covers the money-adjacent tenant operations behind the
// API key: Stripe Connect onboarding for charging patients, and platform
// subscription checkout/portal for paying us.
type PaymentsAPIHandler struct {
	tenants accountStore
	connect connectService
	billing billingService
	tiers   tierCatalog
	logger  *logging.Logger
}

func NewPaymentsAPIHandler(tenants accountStore, connect connectService, billing billingService, tiers tierCatalog, logger *logging.Logger) *PaymentsAPIHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PaymentsAPIHandler{tenants: tenants, connect: connect, billing: billing, tiers: tiers, logger: logger}
}

type onboardingRequest struct {
	RefreshURL string `json:"refresh_url"`
	ReturnURL  string `json:"return_url"`
}

// StartOnboarding handles POST /api/v1/accounts/{id}/payments/onboarding.
// The response URL sends the doctor into Stripe's hosted onboarding.
func (h *PaymentsAPIHandler) StartOnboarding(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}

	var req onboardingRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if req.RefreshURL == "" || req.ReturnURL == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "refresh_url and return_url are required"))
		return
	}

	url, err := h.connect.StartOnboarding(r.Context(), tenant, req.RefreshURL, req.ReturnURL)
	if err != nil {
		h.logger.Error("stripe onboarding start failed", "error", err, "account_id", tenant.ID)
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"onboarding_url": url})
}

// OnboardingStatus handles GET /api/v1/accounts/{id}/payments/status. It
// refreshes capability flags from Stripe before reporting, so the answer
// reflects onboarding progress the webhook may not have delivered yet.
func (h *PaymentsAPIHandler) OnboardingStatus(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}

	if tenant.Payments.ConnectedAccountID != "" {
		if err := h.connect.SyncStatus(r.Context(), tenant); err != nil {
			h.logger.Warn("stripe status sync failed, reporting stored state", "error", err, "account_id", tenant.ID)
		} else if refreshed, err := h.tenants.Get(r.Context(), tenant.ID); err == nil {
			tenant = refreshed
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":           tenant.ID,
		"payments_enabled":     tenant.Payments.Enabled,
		"connected_account_id": tenant.Payments.ConnectedAccountID,
		"onboarding_complete":  tenant.Payments.OnboardingComplete,
		"charges_enabled":      tenant.Payments.ChargesEnabled,
		"payouts_enabled":      tenant.Payments.PayoutsEnabled,
		"details_submitted":    tenant.Payments.DetailsSubmitted,
		"configured":           tenant.PaymentsConfigured(),
		"misconfig_reason":     tenant.PaymentMisconfigReason(),
	})
}

type subscriptionCheckoutRequest struct {
	TierID     string `json:"tier_id"`
	Interval   string `json:"interval"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// SubscriptionCheckout handles POST /api/v1/accounts/{id}/subscription/checkout.
func (h *PaymentsAPIHandler) SubscriptionCheckout(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}

	var req subscriptionCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if req.TierID == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "tier_id is required"))
		return
	}
	if req.Interval == "" {
		req.Interval = "month"
	}

	tier, err := h.tiers.Pricing(r.Context(), req.TierID)
	if err != nil {
		if errors.Is(err, subscriptions.ErrTierNotFound) {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindNotFound, "pricing tier not found"))
			return
		}
		apperrors.WriteJSON(w, err)
		return
	}

	url, err := h.billing.CreateSubscriptionCheckout(r.Context(), tenant, tier, req.Interval, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.logger.Error("subscription checkout failed", "error", err, "account_id", tenant.ID, "tier_id", req.TierID)
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

type portalRequest struct {
	ReturnURL string `json:"return_url"`
}

// SubscriptionPortal handles POST /api/v1/accounts/{id}/subscription/portal.
func (h *PaymentsAPIHandler) SubscriptionPortal(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}

	var req portalRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	url, err := h.billing.CreatePortalSession(r.Context(), tenant, req.ReturnURL)
	if err != nil {
		h.logger.Error("portal session failed", "error", err, "account_id", tenant.ID)
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"portal_url": url})
}

type tierResponse struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	MonthlyAmountCents int64    `json:"monthly_amount_cents"`
	AnnualAmountCents  int64    `json:"annual_amount_cents"`
	Currency           string   `json:"currency"`
	Features           []string `json:"features,omitempty"`
}

// ListTiers handles GET /api/v1/tiers.
func (h *PaymentsAPIHandler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.tiers.ListActive(r.Context())
	if err != nil {
		h.logger.Error("tier list failed", "error", err)
		apperrors.WriteJSON(w, err)
		return
	}
	out := make([]tierResponse, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierResponse{
			ID:                 t.ID,
			Name:               t.Name,
			MonthlyAmountCents: t.MonthlyAmountCents,
			AnnualAmountCents:  t.AnnualAmountCents,
			Currency:           t.Currency,
			Features:           t.Features,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": out})
}

func (h *PaymentsAPIHandler) loadTenant(w http.ResponseWriter, r *http.Request) (*accounts.Account, bool) {
	return loadAccount(w, r, h.tenants)
}
