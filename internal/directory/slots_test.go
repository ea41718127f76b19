package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/crm"
)

type fakeProfiles struct {
	profiles map[string]*Profile
}

func (f *fakeProfiles) Get(_ context.Context, id string) (*Profile, error) {
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

type fakeTenants struct {
	tenants map[string]*accounts.Account
}

func (f *fakeTenants) Get(_ context.Context, id string) (*accounts.Account, error) {
	if a, ok := f.tenants[id]; ok {
		return a, nil
	}
	return nil, accounts.ErrNotFound
}

type fakeSlots struct {
	slots []crm.FreeSlot
	err   error

	gotTenantID   string
	gotCalendarID string
	gotStart      time.Time
}

func (f *fakeSlots) FreeSlots(_ context.Context, tenantID, calendarID string, start, _ time.Time, _ *time.Location, _ string) ([]crm.FreeSlot, error) {
	f.gotTenantID = tenantID
	f.gotCalendarID = calendarID
	f.gotStart = start
	return f.slots, f.err
}

func slotsFixture(profile *Profile, slots []crm.FreeSlot) (*SlotsService, *fakeSlots) {
	profiles := &fakeProfiles{profiles: map[string]*Profile{}}
	if profile != nil {
		profiles.profiles[profile.ID] = profile
	}
	tenants := &fakeTenants{tenants: map[string]*accounts.Account{
		"acct-1": {ID: "acct-1", CalendarID: "cal-1", Timezone: "America/Mexico_City"},
	}}
	crmStub := &fakeSlots{slots: slots}
	return NewSlotsService(profiles, tenants, crmStub, nil), crmStub
}

func enabledProfile() *Profile {
	return &Profile{ID: "prof-1", TenantID: "acct-1", Enabled: true, DoctorName: "Dra. García"}
}

func TestSlotsForDate(t *testing.T) {
	at, _ := time.Parse(time.RFC3339, "2026-03-02T10:00:00-06:00")
	svc, crmStub := slotsFixture(enabledProfile(), []crm.FreeSlot{
		{Date: "2026-03-02", Time: "10:00", At: at},
		{Date: "2026-03-03", Time: "11:00", At: at.Add(25 * time.Hour)},
	})

	slots, err := svc.SlotsForDate(context.Background(), "prof-1", "2026-03-02")
	if err != nil {
		t.Fatalf("SlotsForDate: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want only the requested date's", len(slots))
	}
	if slots[0].Time != "10:00" || slots[0].Display == "" {
		t.Fatalf("unexpected slot: %+v", slots[0])
	}
	if crmStub.gotTenantID != "acct-1" || crmStub.gotCalendarID != "cal-1" {
		t.Fatalf("slot query went to %s/%s, want acct-1/cal-1", crmStub.gotTenantID, crmStub.gotCalendarID)
	}
	// The window must start at tenant-local midnight of the requested date.
	loc, _ := time.LoadLocation("America/Mexico_City")
	if got := crmStub.gotStart.In(loc).Format("2006-01-02 15:04"); got != "2026-03-02 00:00" {
		t.Fatalf("window start = %s, want local midnight", got)
	}
}

func TestSlotsForDateHidesDisabledProfiles(t *testing.T) {
	p := enabledProfile()
	p.Enabled = false
	svc, _ := slotsFixture(p, nil)

	_, err := svc.SlotsForDate(context.Background(), "prof-1", "2026-03-02")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for a delisted doctor", err)
	}
}

func TestSlotsForDateRejectsBadDate(t *testing.T) {
	svc, _ := slotsFixture(enabledProfile(), nil)

	_, err := svc.SlotsForDate(context.Background(), "prof-1", "March 2nd")
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("kind = %s, want validation", apperrors.KindOf(err))
	}
}
