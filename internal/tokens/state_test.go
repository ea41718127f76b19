package tokens

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
)

func TestStateStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	store := NewStateStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	state, err := store.Create(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if state == "" {
		t.Fatal("expected a non-empty state")
	}

	tenantID, err := store.Consume(context.Background(), state)
	if err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}
	if tenantID != "acct-1" {
		t.Fatalf("expected acct-1, got %q", tenantID)
	}

	if _, err := store.Consume(context.Background(), state); err == nil {
		t.Fatal("a state must be single-use")
	}
}

func TestStateStoreUnknownState(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	store := NewStateStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	_, err := store.Consume(context.Background(), "never-issued")
	if apperrors.KindOf(err) != apperrors.KindAuthentication {
		t.Fatalf("expected authentication kind, got %v", err)
	}
}

func TestStateExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	store := NewStateStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	state, err := store.Create(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	mr.FastForward(stateTTL + 1)

	if _, err := store.Consume(context.Background(), state); err == nil {
		t.Fatal("expired state must not be consumable")
	}
}
