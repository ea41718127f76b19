package subscriptions

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
)

type stubUsage struct {
	inUse bool
	err   error
}

func (s stubUsage) TierInUse(context.Context, string) (bool, error) {
	return s.inUse, s.err
}

func TestTierStoreSetStripeIDs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newTierStoreWithDB(mock, nil)

	mock.ExpectExec("UPDATE pricing_tiers").
		WithArgs("prod_1", "price_m", "price_a", "tier-pro").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.SetStripeIDs(context.Background(), "tier-pro", "prod_1", "price_m", "price_a"); err != nil {
		t.Fatalf("SetStripeIDs: %v", err)
	}

	mock.ExpectExec("UPDATE pricing_tiers").
		WithArgs("prod_1", "price_m", "price_a", "tier-missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.SetStripeIDs(context.Background(), "tier-missing", "prod_1", "price_m", "price_a"); !errors.Is(err, ErrTierNotFound) {
		t.Fatalf("err = %v, want ErrTierNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTierStoreDeleteInUse(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newTierStoreWithDB(mock, stubUsage{inUse: true})

	err = store.Delete(context.Background(), "tier-pro")
	if err == nil {
		t.Fatal("expected delete of an in-use tier to fail")
	}
	if apperrors.KindOf(err) != apperrors.KindBusinessLogic {
		t.Fatalf("kind = %s, want business_logic", apperrors.KindOf(err))
	}
	// No DELETE must reach the database.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTierStoreDeleteUnused(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newTierStoreWithDB(mock, stubUsage{inUse: false})

	mock.ExpectExec("DELETE FROM pricing_tiers").
		WithArgs("tier-old").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	if err := store.Delete(context.Background(), "tier-old"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTierPricingProjection(t *testing.T) {
	tier := PricingTier{
		ID:                 "tier-pro",
		Name:               "Pro",
		Currency:           "mxn",
		MonthlyAmountCents: 149900,
		AnnualAmountCents:  1499000,
		StripeProductID:    "prod_1",
		MonthlyPriceID:     "price_m",
		AnnualPriceID:      "price_a",
		Features:           []string{"reminders", "directory"},
	}
	p := tier.Pricing()
	if p.ID != tier.ID || p.MonthlyAmountCents != tier.MonthlyAmountCents || p.AnnualPriceID != tier.AnnualPriceID {
		t.Fatalf("pricing projection lost fields: %+v", p)
	}
}
