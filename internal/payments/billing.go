package payments

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// TierPricing is the billing view of a pricing tier. The subscriptions
// package owns the full tier; billing only needs amounts and Stripe ids, and
// writes lazily created ids back through tierPriceSaver.
type TierPricing struct {
	ID                 string
	Name               string
	Currency           string
	MonthlyAmountCents int64
	AnnualAmountCents  int64
	StripeProductID    string
	MonthlyPriceID     string
	AnnualPriceID      string
}

// customerSetter is the accounts-store subset billing needs.
type customerSetter interface {
	SetCustomer(ctx context.Context, id, customerID string) error
}

// tierPriceSaver persists lazily created Stripe ids back onto a tier.
type tierPriceSaver interface {
	SetStripeIDs(ctx context.Context, tierID, productID, monthlyPriceID, annualPriceID string) error
}

// InvoiceNotifier delivers an admin-assigned invoice to the tenant. Both
// hooks are optional.
type InvoiceNotifier interface {
	SendInvoiceEmail(ctx context.Context, to, invoiceURL string) error
	SendInvoiceMessage(ctx context.Context, phoneNumberID, to, invoiceURL string) error
}

// BillingService manages platform subscriptions for tenants.
type BillingService struct {
	stripe   *StripeClient
	accounts customerSetter
	tiers    tierPriceSaver
	notifier InvoiceNotifier
	logger   *logging.Logger
}

func NewBillingService(stripe *StripeClient, accountStore customerSetter, tierStore tierPriceSaver, logger *logging.Logger) *BillingService {
	if stripe == nil {
		panic("payments: stripe client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BillingService{stripe: stripe, accounts: accountStore, tiers: tierStore, logger: logger}
}

// WithNotifier attaches invoice delivery hooks.
func (b *BillingService) WithNotifier(n InvoiceNotifier) *BillingService {
	b.notifier = n
	return b
}

type stripeCustomer struct {
	ID string `json:"id"`
}

type stripeProduct struct {
	ID string `json:"id"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripeSubscription struct {
	ID            string `json:"id"`
	LatestInvoice string `json:"latest_invoice"`
}

type stripeInvoice struct {
	ID               string `json:"id"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
}

type portalSession struct {
	URL string `json:"url"`
}

// EnsureCustomer returns the tenant's billing customer, creating it on first
// use and persisting the id.
func (b *BillingService) EnsureCustomer(ctx context.Context, tenant *accounts.Account) (string, error) {
	if tenant.Subscription.CustomerID != "" {
		return tenant.Subscription.CustomerID, nil
	}

	var customerID string
	if b.stripe.dryRun {
		customerID = dryRunID("cus")
	} else {
		form := url.Values{}
		form.Set("name", tenant.Name)
		if tenant.Email != "" {
			form.Set("email", tenant.Email)
		}
		form.Set("metadata[tenant_id]", tenant.ID)

		var cust stripeCustomer
		if err := b.stripe.post(ctx, "/v1/customers", form, "", &cust); err != nil {
			return "", err
		}
		customerID = cust.ID
	}

	if err := b.accounts.SetCustomer(ctx, tenant.ID, customerID); err != nil {
		return "", err
	}
	tenant.Subscription.CustomerID = customerID
	return customerID, nil
}

// ensureTierPrices lazily creates the Stripe product and recurring prices for
// a tier, persisting the ids so the next checkout skips the round trips.
func (b *BillingService) ensureTierPrices(ctx context.Context, tier *TierPricing) error {
	if tier.MonthlyPriceID != "" && tier.AnnualPriceID != "" {
		return nil
	}
	if b.stripe.dryRun {
		tier.StripeProductID = dryRunID("prod")
		tier.MonthlyPriceID = dryRunID("price")
		tier.AnnualPriceID = dryRunID("price")
	} else {
		if tier.StripeProductID == "" {
			form := url.Values{}
			form.Set("name", tier.Name)
			form.Set("metadata[tier_id]", tier.ID)
			var product stripeProduct
			if err := b.stripe.post(ctx, "/v1/products", form, "", &product); err != nil {
				return err
			}
			tier.StripeProductID = product.ID
		}
		if tier.MonthlyPriceID == "" {
			id, err := b.createRecurringPrice(ctx, tier.StripeProductID, tier.Currency, tier.MonthlyAmountCents, "month")
			if err != nil {
				return err
			}
			tier.MonthlyPriceID = id
		}
		if tier.AnnualPriceID == "" {
			id, err := b.createRecurringPrice(ctx, tier.StripeProductID, tier.Currency, tier.AnnualAmountCents, "year")
			if err != nil {
				return err
			}
			tier.AnnualPriceID = id
		}
	}
	if b.tiers != nil {
		if err := b.tiers.SetStripeIDs(ctx, tier.ID, tier.StripeProductID, tier.MonthlyPriceID, tier.AnnualPriceID); err != nil {
			return err
		}
	}
	return nil
}

func (b *BillingService) createRecurringPrice(ctx context.Context, productID, currency string, amountCents int64, interval string) (string, error) {
	form := url.Values{}
	form.Set("product", productID)
	form.Set("currency", currency)
	form.Set("unit_amount", strconv.FormatInt(amountCents, 10))
	form.Set("recurring[interval]", interval)
	var price stripePrice
	if err := b.stripe.post(ctx, "/v1/prices", form, "", &price); err != nil {
		return "", err
	}
	return price.ID, nil
}

func (b *BillingService) priceForInterval(tier *TierPricing, interval string) (string, error) {
	switch interval {
	case "year", "annual":
		return tier.AnnualPriceID, nil
	case "month", "monthly", "":
		return tier.MonthlyPriceID, nil
	default:
		return "", fmt.Errorf("payments: unknown billing interval %q", interval)
	}
}

// CreateSubscriptionCheckout opens a subscription checkout for the tenant on
// the chosen tier and interval.
func (b *BillingService) CreateSubscriptionCheckout(ctx context.Context, tenant *accounts.Account, tier *TierPricing, interval, successURL, cancelURL string) (string, error) {
	customerID, err := b.EnsureCustomer(ctx, tenant)
	if err != nil {
		return "", err
	}
	if err := b.ensureTierPrices(ctx, tier); err != nil {
		return "", err
	}
	priceID, err := b.priceForInterval(tier, interval)
	if err != nil {
		return "", err
	}

	if b.stripe.dryRun {
		return "https://checkout.stripe.com/dry-run/sub/" + tenant.ID, nil
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", customerID)
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("metadata[tenant_id]", tenant.ID)
	form.Set("metadata[tier_id]", tier.ID)
	form.Set("subscription_data[metadata][tenant_id]", tenant.ID)
	form.Set("subscription_data[metadata][tier_id]", tier.ID)

	var session stripeCheckoutSession
	if err := b.stripe.post(ctx, "/v1/checkout/sessions", form, "", &session); err != nil {
		return "", err
	}
	if session.URL == "" {
		return "", fmt.Errorf("payments: subscription checkout missing url")
	}
	return session.URL, nil
}

// CreatePortalSession opens the self-service billing portal.
func (b *BillingService) CreatePortalSession(ctx context.Context, tenant *accounts.Account, returnURL string) (string, error) {
	customerID, err := b.EnsureCustomer(ctx, tenant)
	if err != nil {
		return "", err
	}
	if b.stripe.dryRun {
		return "https://billing.stripe.com/dry-run/" + tenant.ID, nil
	}

	form := url.Values{}
	form.Set("customer", customerID)
	if returnURL != "" {
		form.Set("return_url", returnURL)
	}
	var session portalSession
	if err := b.stripe.post(ctx, "/v1/billing_portal/sessions", form, "", &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

// AdminAssignSubscription creates an invoice-collected subscription for the
// tenant and returns the payable hosted invoice URL. Used when an operator
// signs a tenant up out of band.
func (b *BillingService) AdminAssignSubscription(ctx context.Context, tenant *accounts.Account, tier *TierPricing, interval string) (string, error) {
	customerID, err := b.EnsureCustomer(ctx, tenant)
	if err != nil {
		return "", err
	}
	if err := b.ensureTierPrices(ctx, tier); err != nil {
		return "", err
	}
	priceID, err := b.priceForInterval(tier, interval)
	if err != nil {
		return "", err
	}

	var invoiceURL string
	if b.stripe.dryRun {
		invoiceURL = "https://invoice.stripe.com/dry-run/" + tenant.ID
	} else {
		form := url.Values{}
		form.Set("customer", customerID)
		form.Set("items[0][price]", priceID)
		form.Set("collection_method", "send_invoice")
		form.Set("days_until_due", "1")
		form.Set("metadata[tenant_id]", tenant.ID)
		form.Set("metadata[tier_id]", tier.ID)

		var sub stripeSubscription
		if err := b.stripe.post(ctx, "/v1/subscriptions", form, "", &sub); err != nil {
			return "", err
		}
		if sub.LatestInvoice == "" {
			return "", fmt.Errorf("payments: assigned subscription has no invoice")
		}

		// The invoice is born as a draft; finalize to get a payable URL.
		var invoice stripeInvoice
		if err := b.stripe.post(ctx, "/v1/invoices/"+sub.LatestInvoice+"/finalize", url.Values{}, "", &invoice); err != nil {
			return "", err
		}
		invoiceURL = invoice.HostedInvoiceURL
	}

	if b.notifier != nil {
		if tenant.Email != "" {
			if err := b.notifier.SendInvoiceEmail(ctx, tenant.Email, invoiceURL); err != nil {
				b.logger.Warn("invoice email failed", "tenant_id", tenant.ID, "error", err)
			}
		}
	}
	return invoiceURL, nil
}
