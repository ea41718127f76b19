package payments

import (
	"context"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
)

// accountUpdater is the accounts-store subset onboarding needs.
type accountUpdater interface {
	SetConnectedAccount(ctx context.Context, id, stripeAccountID string) error
	UpdateCapabilities(ctx context.Context, id string, charges, payouts, details bool) error
}

// ConnectService drives Stripe Connect onboarding for tenants.
type ConnectService struct {
	stripe   *StripeClient
	accounts accountUpdater
}

func NewConnectService(stripe *StripeClient, accountStore accountUpdater) *ConnectService {
	if stripe == nil {
		panic("payments: stripe client required")
	}
	return &ConnectService{stripe: stripe, accounts: accountStore}
}

type stripeAccount struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
	Email            string `json:"email"`
}

type accountLink struct {
	URL string `json:"url"`
}

// StartOnboarding creates a connected account for the tenant and returns the
// hosted onboarding URL. The connected-account id is persisted before the
// link is returned: a webhook can arrive while the tenant is still inside the
// hosted flow and must already match.
func (s *ConnectService) StartOnboarding(ctx context.Context, tenant *accounts.Account, refreshURL, returnURL string) (string, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.start_onboarding")
	defer span.End()
	span.SetAttributes(attribute.String("citas.tenant_id", tenant.ID))

	accountID := tenant.Payments.ConnectedAccountID
	if accountID == "" {
		if s.stripe.dryRun {
			accountID = dryRunID("acct")
		} else {
			form := url.Values{}
			form.Set("type", "express")
			if tenant.Email != "" {
				form.Set("email", tenant.Email)
			}
			form.Set("metadata[tenant_id]", tenant.ID)

			var created stripeAccount
			if err := s.stripe.post(ctx, "/v1/accounts", form, "", &created); err != nil {
				return "", err
			}
			accountID = created.ID
		}
		if err := s.accounts.SetConnectedAccount(ctx, tenant.ID, accountID); err != nil {
			return "", err
		}
		tenant.Payments.ConnectedAccountID = accountID
	}

	if s.stripe.dryRun {
		return "https://connect.stripe.com/dry-run/" + accountID, nil
	}

	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", refreshURL)
	form.Set("return_url", returnURL)
	form.Set("type", "account_onboarding")

	var link accountLink
	if err := s.stripe.post(ctx, "/v1/account_links", form, "", &link); err != nil {
		return "", err
	}
	if link.URL == "" {
		return "", fmt.Errorf("payments: account link response missing url")
	}
	return link.URL, nil
}

// SyncStatus probes the connected account and persists its capability flags.
// Idempotent; safe to call from a button, a cron, or a webhook.
func (s *ConnectService) SyncStatus(ctx context.Context, tenant *accounts.Account) error {
	if tenant.Payments.ConnectedAccountID == "" {
		return fmt.Errorf("payments: tenant %s has no connected account", tenant.ID)
	}
	var acct stripeAccount
	if err := s.stripe.get(ctx, "/v1/accounts/"+tenant.Payments.ConnectedAccountID, "", &acct); err != nil {
		return err
	}
	if err := s.accounts.UpdateCapabilities(ctx, tenant.ID, acct.ChargesEnabled, acct.PayoutsEnabled, acct.DetailsSubmitted); err != nil {
		return err
	}
	tenant.Payments.ChargesEnabled = acct.ChargesEnabled
	tenant.Payments.PayoutsEnabled = acct.PayoutsEnabled
	tenant.Payments.DetailsSubmitted = acct.DetailsSubmitted
	tenant.Payments.OnboardingComplete = acct.ChargesEnabled && acct.DetailsSubmitted
	return nil
}
