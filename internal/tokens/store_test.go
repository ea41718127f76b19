package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestStoreGetNotConnected(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithExec(mock)

	mock.ExpectQuery("SELECT tenant_id").
		WithArgs("acct-missing").
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id"}))

	_, err = store.Get(context.Background(), "acct-missing")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestStoreGetScansRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithExec(mock)
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"tenant_id", "location_id", "company_id", "access_token", "refresh_token",
		"token_type", "scope", "expires_at", "updated_at",
	}).AddRow("acct-1", "loc-1", "comp-1", "acc", "ref", "Bearer", "contacts.write", now.Add(time.Hour), now)
	mock.ExpectQuery("SELECT tenant_id").WithArgs("acct-1").WillReturnRows(rows)

	tok, err := store.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if tok.LocationID != "loc-1" || tok.AccessToken != "acc" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if tok.IsExpired(now) {
		t.Fatal("token expiring in an hour must not read as expired")
	}
}

func TestStoreSaveUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithExec(mock)
	tok := Token{
		TenantID:     "acct-1",
		LocationID:   "loc-1",
		CompanyID:    "comp-1",
		AccessToken:  "acc",
		RefreshToken: "ref",
		TokenType:    "Bearer",
		Scope:        "contacts.write",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	mock.ExpectExec("INSERT INTO oauth_tokens").
		WithArgs(tok.TenantID, tok.LocationID, tok.CompanyID, tok.AccessToken, tok.RefreshToken, tok.TokenType, tok.Scope, tok.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.Save(context.Background(), tok); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreReplaceAccessRequiresRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithExec(mock)

	mock.ExpectExec("UPDATE oauth_tokens").
		WithArgs("acct-gone", "acc", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.ReplaceAccess(context.Background(), "acct-gone", "acc", time.Now())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected for missing row, got %v", err)
	}
}

func TestTokenIsExpired(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		tok  Token
		want bool
	}{
		{name: "fresh", tok: Token{ExpiresAt: now.Add(time.Hour)}, want: false},
		{name: "inside skew", tok: Token{ExpiresAt: now.Add(30 * time.Second)}, want: true},
		{name: "past", tok: Token{ExpiresAt: now.Add(-time.Minute)}, want: true},
		{name: "zero", tok: Token{}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tok.IsExpired(now); got != tc.want {
				t.Fatalf("IsExpired = %v, want %v", got, tc.want)
			}
		})
	}
}
