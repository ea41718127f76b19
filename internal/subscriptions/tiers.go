package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/payments"
)

// ErrTierNotFound means no pricing tier matches the lookup.
var ErrTierNotFound = errors.New("subscriptions: tier not found")

// tierUsage answers whether a tier still backs live subscriptions. Satisfied
// by Store.
type tierUsage interface {
	TierInUse(ctx context.Context, tierID string) (bool, error)
}

// TierStore persists pricing tiers. It also satisfies the billing service's
// tierPriceSaver for writing back lazily created Stripe ids.
type TierStore struct {
	db    DB
	usage tierUsage
}

func NewTierStore(pool *pgxpool.Pool, usage tierUsage) *TierStore {
	if pool == nil {
		panic("subscriptions: pgx pool required")
	}
	return &TierStore{db: pool, usage: usage}
}

func newTierStoreWithDB(db DB, usage tierUsage) *TierStore {
	if db == nil {
		panic("subscriptions: db required")
	}
	return &TierStore{db: db, usage: usage}
}

const tierColumns = `
	id, name, monthly_amount_cents, annual_amount_cents, currency,
	stripe_product_id, monthly_price_id, annual_price_id, features, active,
	created_at, updated_at`

// Create inserts a tier. A missing id is generated.
func (s *TierStore) Create(ctx context.Context, t *PricingTier) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Currency == "" {
		t.Currency = "mxn"
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	features, err := json.Marshal(t.Features)
	if err != nil {
		return fmt.Errorf("subscriptions: marshal tier features: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pricing_tiers (
			id, name, monthly_amount_cents, annual_amount_cents, currency,
			stripe_product_id, monthly_price_id, annual_price_id, features, active,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.Name, t.MonthlyAmountCents, t.AnnualAmountCents, t.Currency,
		t.StripeProductID, t.MonthlyPriceID, t.AnnualPriceID, features, t.Active,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("subscriptions: create tier: %w", err)
	}
	return nil
}

// Get returns one tier by id.
func (s *TierStore) Get(ctx context.Context, id string) (*PricingTier, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tierColumns+` FROM pricing_tiers WHERE id = $1`, id)
	t, err := scanTier(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTierNotFound
		}
		return nil, fmt.Errorf("subscriptions: get tier: %w", err)
	}
	return t, nil
}

// Pricing returns the billing view of a tier.
func (s *TierStore) Pricing(ctx context.Context, id string) (*payments.TierPricing, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p := t.Pricing()
	return &p, nil
}

// ListActive returns the subscribable tiers, cheapest monthly first.
func (s *TierStore) ListActive(ctx context.Context) ([]PricingTier, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tierColumns+` FROM pricing_tiers
		WHERE active ORDER BY monthly_amount_cents ASC`)
	if err != nil {
		return nil, fmt.Errorf("subscriptions: list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []PricingTier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, fmt.Errorf("subscriptions: scan tier: %w", err)
		}
		tiers = append(tiers, *t)
	}
	return tiers, rows.Err()
}

// SetStripeIDs writes back lazily created Stripe product and price ids.
func (s *TierStore) SetStripeIDs(ctx context.Context, tierID, productID, monthlyPriceID, annualPriceID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE pricing_tiers
		SET stripe_product_id = $1, monthly_price_id = $2, annual_price_id = $3, updated_at = NOW()
		WHERE id = $4`, productID, monthlyPriceID, annualPriceID, tierID)
	if err != nil {
		return fmt.Errorf("subscriptions: set stripe ids: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTierNotFound
	}
	return nil
}

// Delete removes a tier. Tiers still backing live subscriptions cannot be
// deleted; deactivate them instead.
func (s *TierStore) Delete(ctx context.Context, id string) error {
	if s.usage != nil {
		inUse, err := s.usage.TierInUse(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return apperrors.New(apperrors.KindBusinessLogic,
				"tier has live subscriptions and cannot be deleted").WithDetail("tier_id", id)
		}
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM pricing_tiers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("subscriptions: delete tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTierNotFound
	}
	return nil
}

// SetActive flips a tier's subscribable flag.
func (s *TierStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE pricing_tiers SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("subscriptions: set tier active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTierNotFound
	}
	return nil
}

func scanTier(row rowScanner) (*PricingTier, error) {
	var t PricingTier
	var features []byte
	err := row.Scan(
		&t.ID, &t.Name, &t.MonthlyAmountCents, &t.AnnualAmountCents, &t.Currency,
		&t.StripeProductID, &t.MonthlyPriceID, &t.AnnualPriceID, &features, &t.Active,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &t.Features); err != nil {
			return nil, fmt.Errorf("unmarshal tier features: %w", err)
		}
	}
	return &t, nil
}
