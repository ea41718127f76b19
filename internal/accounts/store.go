package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound means no account matches the lookup.
var ErrNotFound = errors.New("accounts: account not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides CRUD over tenant accounts.
type Store struct {
	db DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("accounts: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithDB(db DB) *Store {
	if db == nil {
		panic("accounts: db required")
	}
	return &Store{db: db}
}

const accountColumns = `
	id, name, phone_number_id, calendar_id, location_id, assigned_user_id,
	email, custom_prompt, timezone, status,
	payments_enabled, stripe_account_id, onboarding_complete, charges_enabled,
	payouts_enabled, details_submitted, appointment_price_cents, currency,
	payment_description,
	stripe_customer_id, tier_id, subscription_status, current_period_end,
	is_free_account, free_account_reason, free_account_expires, product_overrides,
	created_at, updated_at`

// Create inserts a new account. A missing id is generated.
func (s *Store) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (
			id, name, phone_number_id, calendar_id, location_id, assigned_user_id,
			email, custom_prompt, timezone, status,
			payments_enabled, stripe_account_id, onboarding_complete, charges_enabled,
			payouts_enabled, details_submitted, appointment_price_cents, currency,
			payment_description,
			stripe_customer_id, tier_id, subscription_status, current_period_end,
			is_free_account, free_account_reason, free_account_expires, product_overrides,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)`,
		a.ID, a.Name, a.PhoneNumberID, a.CalendarID, a.LocationID, a.AssignedUserID,
		a.Email, a.CustomPrompt, a.Timezone, string(a.Status),
		a.Payments.Enabled, a.Payments.ConnectedAccountID, a.Payments.OnboardingComplete, a.Payments.ChargesEnabled,
		a.Payments.PayoutsEnabled, a.Payments.DetailsSubmitted, a.Payments.PriceCents, a.Payments.Currency,
		a.Payments.Description,
		a.Subscription.CustomerID, a.Subscription.TierID, string(a.Subscription.Status), a.Subscription.CurrentPeriodEnd,
		a.Subscription.IsFreeAccount, a.Subscription.FreeAccountReason, a.Subscription.FreeAccountExpires, a.Subscription.ProductOverrides,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("accounts: create account: %w", err)
	}
	return nil
}

// Get returns the account by id.
func (s *Store) Get(ctx context.Context, id string) (*Account, error) {
	return s.getWhere(ctx, "id = $1", id)
}

// GetByPhoneNumberID resolves the tenant owning a WhatsApp phone number id.
// This is the tenant lookup on every inbound webhook.
func (s *Store) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Account, error) {
	return s.getWhere(ctx, "phone_number_id = $1", phoneNumberID)
}

// GetByConnectedAccount matches a Stripe account.updated webhook to a tenant.
func (s *Store) GetByConnectedAccount(ctx context.Context, stripeAccountID string) (*Account, error) {
	return s.getWhere(ctx, "stripe_account_id = $1", stripeAccountID)
}

// GetByEmail matches a tenant by its billing email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return s.getWhere(ctx, "LOWER(email) = LOWER($1)", email)
}

// GetByCustomer resolves the tenant for a Stripe billing customer.
func (s *Store) GetByCustomer(ctx context.Context, customerID string) (*Account, error) {
	return s.getWhere(ctx, "stripe_customer_id = $1", customerID)
}

// GetByName resolves a tenant by display name (CLI convenience).
func (s *Store) GetByName(ctx context.Context, name string) (*Account, error) {
	return s.getWhere(ctx, "LOWER(name) = LOWER($1)", name)
}

func (s *Store) getWhere(ctx context.Context, where string, arg any) (*Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("accounts: get account: %w", err)
	}
	return a, nil
}

// ListActive returns every active tenant, ordered by name. The reminder batch
// walks this list.
func (s *Store) ListActive(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE status = 'active' ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("accounts: list active: %w", err)
	}
	defer rows.Close()

	var result []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("accounts: scan account: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// SetConnectedAccount persists the Stripe connected-account id. Written
// before the tenant finishes hosted onboarding so an early webhook still
// matches.
func (s *Store) SetConnectedAccount(ctx context.Context, id, stripeAccountID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET stripe_account_id = $1, updated_at = NOW()
		WHERE id = $2`, stripeAccountID, id)
	if err != nil {
		return fmt.Errorf("accounts: set connected account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCapabilities records the capability flags from a Stripe account probe
// or webhook. Idempotent.
func (s *Store) UpdateCapabilities(ctx context.Context, id string, charges, payouts, details bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE accounts SET
			charges_enabled = $1,
			payouts_enabled = $2,
			details_submitted = $3,
			onboarding_complete = ($1 AND $3),
			updated_at = NOW()
		WHERE id = $4`, charges, payouts, details, id)
	if err != nil {
		return fmt.Errorf("accounts: update capabilities: %w", err)
	}
	return nil
}

// UpdateSubscription syncs the subscription block from a billing event.
func (s *Store) UpdateSubscription(ctx context.Context, id, customerID, tierID string, status SubscriptionStatus, periodEnd *time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE accounts SET
			stripe_customer_id = COALESCE(NULLIF($1, ''), stripe_customer_id),
			tier_id = COALESCE(NULLIF($2, ''), tier_id),
			subscription_status = $3,
			current_period_end = $4,
			updated_at = NOW()
		WHERE id = $5`, customerID, tierID, string(status), periodEnd, id)
	if err != nil {
		return fmt.Errorf("accounts: update subscription: %w", err)
	}
	return nil
}

// SetCustomer stores the Stripe billing customer id once it is created.
func (s *Store) SetCustomer(ctx context.Context, id, customerID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE accounts SET stripe_customer_id = $1, updated_at = NOW()
		WHERE id = $2`, customerID, id)
	if err != nil {
		return fmt.Errorf("accounts: set customer: %w", err)
	}
	return nil
}

// SetStatus changes the lifecycle status.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.Exec(ctx, `
		UPDATE accounts SET status = $1, updated_at = NOW()
		WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("accounts: set status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var status, subStatus string
	err := row.Scan(
		&a.ID, &a.Name, &a.PhoneNumberID, &a.CalendarID, &a.LocationID, &a.AssignedUserID,
		&a.Email, &a.CustomPrompt, &a.Timezone, &status,
		&a.Payments.Enabled, &a.Payments.ConnectedAccountID, &a.Payments.OnboardingComplete, &a.Payments.ChargesEnabled,
		&a.Payments.PayoutsEnabled, &a.Payments.DetailsSubmitted, &a.Payments.PriceCents, &a.Payments.Currency,
		&a.Payments.Description,
		&a.Subscription.CustomerID, &a.Subscription.TierID, &subStatus, &a.Subscription.CurrentPeriodEnd,
		&a.Subscription.IsFreeAccount, &a.Subscription.FreeAccountReason, &a.Subscription.FreeAccountExpires, &a.Subscription.ProductOverrides,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.Subscription.Status = SubscriptionStatus(subStatus)
	return &a, nil
}
