package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
)

func TestStoreUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithDB(mock)
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO subscriptions").
		WithArgs("sub_1", "acct-1", "cus_1", "tier-pro", "active", &periodEnd,
			false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sub := &Subscription{
		ID:               "sub_1",
		TenantID:         "acct-1",
		CustomerID:       "cus_1",
		TierID:           "tier-pro",
		Status:           accounts.SubActive,
		CurrentPeriodEnd: &periodEnd,
	}
	if err := store.Upsert(context.Background(), sub); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if sub.UpdatedAt.IsZero() || sub.CreatedAt.IsZero() {
		t.Fatal("Upsert must stamp timestamps")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithDB(mock)

	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id").
		WithArgs("sub_missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Get(context.Background(), "sub_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreTierInUse(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithDB(mock)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("tier-pro").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	inUse, err := store.TierInUse(context.Background(), "tier-pro")
	if err != nil {
		t.Fatalf("TierInUse: %v", err)
	}
	if !inUse {
		t.Fatal("expected tier to be in use")
	}
}
