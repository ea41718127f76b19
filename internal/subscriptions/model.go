// Package subscriptions owns platform billing state: the subscription rows
// mirrored from Stripe, the pricing tiers tenants subscribe to, the product
// catalog, and the access gate in front of the conversation engine.
package subscriptions

import (
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/payments"
)

// Subscription is the local mirror of one Stripe subscription.
type Subscription struct {
	ID                string // Stripe subscription id
	TenantID          string
	CustomerID        string
	TierID            string
	Status            accounts.SubscriptionStatus
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PricingTier is one subscribable plan. Stripe ids are created lazily by the
// billing service on first checkout and written back here.
type PricingTier struct {
	ID                 string
	Name               string
	MonthlyAmountCents int64
	AnnualAmountCents  int64
	Currency           string
	StripeProductID    string
	MonthlyPriceID     string
	AnnualPriceID      string
	Features           []string
	Active             bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pricing projects the tier into the billing service's view.
func (t PricingTier) Pricing() payments.TierPricing {
	return payments.TierPricing{
		ID:                 t.ID,
		Name:               t.Name,
		Currency:           t.Currency,
		MonthlyAmountCents: t.MonthlyAmountCents,
		AnnualAmountCents:  t.AnnualAmountCents,
		StripeProductID:    t.StripeProductID,
		MonthlyPriceID:     t.MonthlyPriceID,
		AnnualPriceID:      t.AnnualPriceID,
	}
}

// Product is one catalog entry. TenantID is empty for platform-wide products;
// a non-empty TenantID scopes the product to that tenant's override list.
type Product struct {
	ID          string
	TenantID    string
	Name        string
	AmountCents int64
	Currency    string
	Active      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
