package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
)

// ErrNotFound means no subscription matches the lookup.
var ErrNotFound = errors.New("subscriptions: subscription not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the local subscription mirror in Postgres.
type Store struct {
	db DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("subscriptions: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithDB(db DB) *Store {
	if db == nil {
		panic("subscriptions: db required")
	}
	return &Store{db: db}
}

const subscriptionColumns = `
	id, tenant_id, customer_id, tier_id, status, current_period_end,
	cancel_at_period_end, created_at, updated_at`

// Upsert writes the subscription row, replacing any previous state for the
// same Stripe subscription id. Webhook retries and out-of-order deliveries
// both land on the same row.
func (s *Store) Upsert(ctx context.Context, sub *Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (
			id, tenant_id, customer_id, tier_id, status, current_period_end,
			cancel_at_period_end, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			customer_id = EXCLUDED.customer_id,
			tier_id = EXCLUDED.tier_id,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.TenantID, sub.CustomerID, sub.TierID, string(sub.Status),
		sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("subscriptions: upsert subscription: %w", err)
	}
	return nil
}

// Get returns one subscription by Stripe subscription id.
func (s *Store) Get(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("subscriptions: get subscription: %w", err)
	}
	return sub, nil
}

// GetByTenant returns the tenant's most recently updated subscription.
func (s *Store) GetByTenant(ctx context.Context, tenantID string) (*Subscription, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1 ORDER BY updated_at DESC LIMIT 1`, tenantID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("subscriptions: get subscription by tenant: %w", err)
	}
	return sub, nil
}

// TierInUse reports whether any non-canceled subscription references the tier.
func (s *Store) TierInUse(ctx context.Context, tierID string) (bool, error) {
	var inUse bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions WHERE tier_id = $1 AND status <> 'canceled'
		)`, tierID).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("subscriptions: check tier in use: %w", err)
	}
	return inUse, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var sub Subscription
	var status string
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.CustomerID, &sub.TierID, &status,
		&sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = accounts.SubscriptionStatus(status)
	return &sub, nil
}
