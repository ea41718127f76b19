package reminders

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testContextStore(t *testing.T) (*ContextStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewContextStore(client), mr
}

func TestContextStoreRoundTrip(t *testing.T) {
	store, _ := testContextStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "5215512345678", ActiveContext{AppointmentID: "appt-1", TenantID: "acct-1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ac, err := store.Get(ctx, "5215512345678")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ac == nil {
		t.Fatal("expected an active context")
	}
	if ac.AppointmentID != "appt-1" || ac.TenantID != "acct-1" {
		t.Fatalf("unexpected context: %+v", ac)
	}
	if ac.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped on Set")
	}
}

func TestContextStoreLatestWins(t *testing.T) {
	store, _ := testContextStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "5215512345678", ActiveContext{AppointmentID: "appt-1", TenantID: "acct-1"}); err != nil {
		t.Fatalf("Set first: %v", err)
	}
	if err := store.Set(ctx, "5215512345678", ActiveContext{AppointmentID: "appt-2", TenantID: "acct-1"}); err != nil {
		t.Fatalf("Set second: %v", err)
	}

	ac, err := store.Get(ctx, "5215512345678")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ac.AppointmentID != "appt-2" {
		t.Fatalf("latest reminder must win, got %q", ac.AppointmentID)
	}
}

func TestContextStoreExpiry(t *testing.T) {
	store, mr := testContextStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "5215512345678", ActiveContext{AppointmentID: "appt-1", TenantID: "acct-1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mr.FastForward(ContextTTL + time.Minute)

	ac, err := store.Get(ctx, "5215512345678")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ac != nil {
		t.Fatal("context must expire after 24 hours")
	}
}

func TestContextStoreClear(t *testing.T) {
	store, _ := testContextStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "5215512345678", ActiveContext{AppointmentID: "appt-1", TenantID: "acct-1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Clear(ctx, "5215512345678"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	ac, err := store.Get(ctx, "5215512345678")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ac != nil {
		t.Fatal("cleared context must be gone")
	}
}
