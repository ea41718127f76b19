package availability

import (
	"context"
	"testing"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/crm"
)

type fakeSlots struct {
	free    []crm.FreeSlot
	wide    []crm.FreeSlot
	blocked []crm.BlockedSlot
	err     error
	calls   int
}

func (f *fakeSlots) FreeSlots(_ context.Context, _, _ string, start, end time.Time, loc *time.Location, _ string) ([]crm.FreeSlot, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	// Second, widened call gets the 7-day view.
	if end.Sub(start) > 24*time.Hour {
		return f.wide, nil
	}
	return f.free, nil
}

func (f *fakeSlots) BlockedSlots(_ context.Context, _, _ string, _, _ time.Time, _, _ string) ([]crm.BlockedSlot, error) {
	return f.blocked, f.err
}

func testTenant() *accounts.Account {
	return &accounts.Account{ID: "t-1", CalendarID: "cal-1", LocationID: "loc-1", Timezone: "America/Mexico_City"}
}

func slotAt(t *testing.T, value string) crm.FreeSlot {
	t.Helper()
	loc, _ := time.LoadLocation("America/Mexico_City")
	at, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parse slot %q: %v", value, err)
	}
	return crm.FreeSlot{Date: at.Format("2006-01-02"), Time: at.Format("15:04"), At: at}
}

func requestedAt(t *testing.T, value string) time.Time {
	t.Helper()
	loc, _ := time.LoadLocation("America/Mexico_City")
	at, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parse request %q: %v", value, err)
	}
	return at
}

func TestCheckExactMatch(t *testing.T) {
	source := &fakeSlots{free: []crm.FreeSlot{
		slotAt(t, "2026-03-02 09:00"),
		slotAt(t, "2026-03-02 10:00"),
		slotAt(t, "2026-03-02 11:00"),
	}}
	resolver := NewResolver(source, nil)

	result, err := resolver.Check(context.Background(), testTenant(), requestedAt(t, "2026-03-02 10:00"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Status != StatusExact {
		t.Fatalf("status = %q, want exact", result.Status)
	}
	if len(result.Slots) != 3 {
		t.Fatalf("got %d slots, want 3", len(result.Slots))
	}
	if result.Slots[0].Time != "10:00" {
		t.Errorf("exact slot must come first, got %q", result.Slots[0].Time)
	}
	if result.Slots[0].Display != "lunes 2 de marzo, 10:00 am" {
		t.Errorf("display = %q", result.Slots[0].Display)
	}
}

func TestCheckSameDateAlternatives(t *testing.T) {
	source := &fakeSlots{free: []crm.FreeSlot{
		slotAt(t, "2026-03-02 10:00"),
		slotAt(t, "2026-03-02 11:00"),
		slotAt(t, "2026-03-02 12:00"),
		slotAt(t, "2026-03-02 13:00"),
		slotAt(t, "2026-03-02 16:00"),
		slotAt(t, "2026-03-02 17:00"),
	}}
	resolver := NewResolver(source, nil)

	result, err := resolver.Check(context.Background(), testTenant(), requestedAt(t, "2026-03-02 09:00"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Status != StatusSameDate {
		t.Fatalf("status = %q, want same_date_alternatives", result.Status)
	}
	if len(result.Slots) != 5 {
		t.Fatalf("got %d slots, want at most 5", len(result.Slots))
	}
}

func TestCheckOtherDateAlternatives(t *testing.T) {
	source := &fakeSlots{
		free: nil,
		wide: []crm.FreeSlot{
			slotAt(t, "2026-03-04 10:00"),
			slotAt(t, "2026-03-05 12:00"),
		},
	}
	resolver := NewResolver(source, nil)

	result, err := resolver.Check(context.Background(), testTenant(), requestedAt(t, "2026-03-02 09:00"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Status != StatusOtherDate {
		t.Fatalf("status = %q, want other_date_alternatives", result.Status)
	}
	if result.Slots[0].Date != "2026-03-04" {
		t.Errorf("first alternative date = %q", result.Slots[0].Date)
	}
}

func TestCheckNoneInWindow(t *testing.T) {
	resolver := NewResolver(&fakeSlots{}, nil)
	result, err := resolver.Check(context.Background(), testTenant(), requestedAt(t, "2026-03-02 09:00"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Status != StatusNone {
		t.Fatalf("status = %q, want none", result.Status)
	}
}

func TestCheckAuthFailed(t *testing.T) {
	source := &fakeSlots{err: apperrors.New(apperrors.KindToken, "reauthorization required")}
	resolver := NewResolver(source, nil)

	result, err := resolver.Check(context.Background(), testTenant(), requestedAt(t, "2026-03-02 09:00"))
	if err != nil {
		t.Fatalf("token failures must classify, not error: %v", err)
	}
	if result.Status != StatusAuthFailed {
		t.Fatalf("status = %q, want auth_failed", result.Status)
	}
}

func TestSlotStillFreeDetectsBlock(t *testing.T) {
	at := requestedAt(t, "2026-03-02 14:00")
	source := &fakeSlots{blocked: []crm.BlockedSlot{
		{ID: "b-1", StartTime: at},
	}}
	resolver := NewResolver(source, nil)

	free, err := resolver.SlotStillFree(context.Background(), testTenant(), at)
	if err != nil {
		t.Fatalf("SlotStillFree: %v", err)
	}
	if free {
		t.Fatal("a block at the requested time must mark the slot taken")
	}

	source.blocked = []crm.BlockedSlot{{ID: "b-2", StartTime: at.Add(2 * time.Hour)}}
	free, err = resolver.SlotStillFree(context.Background(), testTenant(), at)
	if err != nil {
		t.Fatalf("SlotStillFree: %v", err)
	}
	if !free {
		t.Fatal("a block at another time must not mark the slot taken")
	}
}

func TestFormatSpanish(t *testing.T) {
	loc, _ := time.LoadLocation("America/Mexico_City")
	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 3, 2, 10, 0, 0, 0, loc), "lunes 2 de marzo, 10:00 am"},
		{time.Date(2026, 3, 3, 16, 30, 0, 0, loc), "martes 3 de marzo, 4:30 pm"},
		{time.Date(2026, 12, 25, 0, 15, 0, 0, loc), "viernes 25 de diciembre, 12:15 am"},
		{time.Date(2026, 7, 1, 12, 0, 0, 0, loc), "miércoles 1 de julio, 12:00 pm"},
	}
	for _, tc := range cases {
		if got := FormatSpanish(tc.at); got != tc.want {
			t.Errorf("FormatSpanish(%s) = %q, want %q", tc.at, got, tc.want)
		}
	}
}
