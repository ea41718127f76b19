// Package accounts holds the tenant model: one account per business, binding
// a WhatsApp phone number id to a CRM calendar and, optionally, a Stripe
// connected account and a subscription.
package accounts

import "time"

// Status is the account lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// SubscriptionStatus mirrors Stripe's subscription statuses.
type SubscriptionStatus string

const (
	SubActive            SubscriptionStatus = "active"
	SubTrialing          SubscriptionStatus = "trialing"
	SubPastDue           SubscriptionStatus = "past_due"
	SubCanceled          SubscriptionStatus = "canceled"
	SubIncomplete        SubscriptionStatus = "incomplete"
	SubIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubUnpaid            SubscriptionStatus = "unpaid"
	SubPaused            SubscriptionStatus = "paused"
)

// PaymentsBlock is the per-tenant Stripe Connect configuration.
type PaymentsBlock struct {
	Enabled            bool
	ConnectedAccountID string
	OnboardingComplete bool
	ChargesEnabled     bool
	PayoutsEnabled     bool
	DetailsSubmitted   bool
	PriceCents         int64
	Currency           string
	Description        string
}

// SubscriptionBlock is the tenant's platform billing state.
type SubscriptionBlock struct {
	CustomerID         string
	TierID             string
	Status             SubscriptionStatus
	CurrentPeriodEnd   *time.Time
	IsFreeAccount      bool
	FreeAccountReason  string
	FreeAccountExpires *time.Time
	ProductOverrides   []string
}

// Account is one tenant.
type Account struct {
	ID             string
	Name           string
	PhoneNumberID  string
	CalendarID     string
	LocationID     string
	AssignedUserID string
	Email          string
	CustomPrompt   string
	Timezone       string
	Status         Status

	Payments     PaymentsBlock
	Subscription SubscriptionBlock

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAccess reports whether the tenant may use the conversation engine:
// an unexpired free account, or a subscription in active/trialing. past_due
// gets no grace period.
func (a Account) HasAccess(now time.Time) bool {
	if a.Subscription.IsFreeAccount {
		exp := a.Subscription.FreeAccountExpires
		if exp == nil || now.Before(*exp) {
			return true
		}
		// Expired free flag falls through to the subscription check.
	}
	switch a.Subscription.Status {
	case SubActive, SubTrialing:
		return true
	default:
		return false
	}
}

// PaymentsConfigured reports whether payments may actually be attempted.
func (a Account) PaymentsConfigured() bool {
	p := a.Payments
	return p.ConnectedAccountID != "" && p.OnboardingComplete && p.ChargesEnabled
}

// PaymentMisconfigReason pinpoints what blocks a payments-enabled tenant from
// charging: "no_connected_account", "onboarding_incomplete" or
// "charges_disabled". Empty means payments can be attempted.
func (a Account) PaymentMisconfigReason() string {
	p := a.Payments
	switch {
	case p.ConnectedAccountID == "":
		return "no_connected_account"
	case !p.OnboardingComplete:
		return "onboarding_incomplete"
	case !p.ChargesEnabled:
		return "charges_disabled"
	default:
		return ""
	}
}

// Location resolves the tenant's timezone, falling back to Mexico City where
// most tenants operate.
func (a Account) Location() *time.Location {
	if a.Timezone != "" {
		if loc, err := time.LoadLocation(a.Timezone); err == nil {
			return loc
		}
	}
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		return time.UTC
	}
	return loc
}

// Currency returns the tenant's charge currency, defaulting to MXN.
func (a Account) CurrencyOrDefault() string {
	if a.Payments.Currency != "" {
		return a.Payments.Currency
	}
	return "mxn"
}
