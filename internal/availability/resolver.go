// Package availability reconciles the CRM's free and blocked slots into
// booking decisions. The resolver answers "can the patient have this time",
// proposes alternatives when not, and re-checks a slot at the finalization
// boundaries so a payment window cannot hide a double booking.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/crm"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// Status classifies the outcome of a slot check.
type Status string

const (
	// StatusExact means the requested slot is free.
	StatusExact Status = "exact"
	// StatusSameDate means the requested day has openings at other times.
	StatusSameDate Status = "same_date_alternatives"
	// StatusOtherDate means the next openings are on later days.
	StatusOtherDate Status = "other_date_alternatives"
	// StatusNone means nothing is free within the search window.
	StatusNone Status = "none"
	// StatusAuthFailed means the tenant's CRM credentials are dead; callers
	// must tell the patient to contact the administrator and stop.
	StatusAuthFailed Status = "auth_failed"
)

// maxAlternatives caps how many slots a patient is shown at once.
const maxAlternatives = 5

// searchDays is how far forward the resolver looks for other-date slots.
const searchDays = 7

// raceWindow is the blocked-slot horizon checked around a slot during
// finalization. Wider than the 50-minute appointment on purpose.
const raceWindow = time.Hour

// Slot is one offered time, carrying both the instant and its display form.
type Slot struct {
	At      time.Time
	Date    string // tenant-local YYYY-MM-DD
	Time    string // tenant-local HH:MM
	Display string // Spanish, e.g. "lunes 2 de marzo, 10:00 am"
}

// Result is the outcome of Check.
type Result struct {
	Status    Status
	Requested time.Time
	// Slots holds up to five proposals. For StatusExact the requested slot
	// comes first.
	Slots []Slot
}

// ExactMatch reports whether the requested time itself is bookable.
func (r Result) ExactMatch() bool { return r.Status == StatusExact }

// slotSource is the crm.Client subset the resolver needs.
type slotSource interface {
	FreeSlots(ctx context.Context, tenantID, calendarID string, start, end time.Time, loc *time.Location, userID string) ([]crm.FreeSlot, error)
	BlockedSlots(ctx context.Context, tenantID, locationID string, start, end time.Time, calendarID, userID string) ([]crm.BlockedSlot, error)
}

// Resolver answers slot questions for tenants.
type Resolver struct {
	crm    slotSource
	logger *logging.Logger
}

func NewResolver(source slotSource, logger *logging.Logger) *Resolver {
	if source == nil {
		panic("availability: crm client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{crm: source, logger: logger}
}

// Check resolves the requested instant against the tenant's calendar.
// The first pass covers the requested tenant-local day; when that day has
// nothing, the window widens to seven days from the request.
func (r *Resolver) Check(ctx context.Context, tenant *accounts.Account, requested time.Time) (Result, error) {
	loc := tenant.Location()
	local := requested.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	free, err := r.crm.FreeSlots(ctx, tenant.ID, tenant.CalendarID, dayStart, dayStart.Add(24*time.Hour), loc, tenant.AssignedUserID)
	if err != nil {
		return r.classifyError(requested, err)
	}

	wantDate := local.Format("2006-01-02")
	wantTime := local.Format("15:04")

	var exact *crm.FreeSlot
	var sameDay []crm.FreeSlot
	for i := range free {
		if free[i].Date != wantDate {
			continue
		}
		sameDay = append(sameDay, free[i])
		if free[i].Time == wantTime {
			exact = &free[i]
		}
	}

	if exact != nil {
		slots := make([]crm.FreeSlot, 0, maxAlternatives)
		slots = append(slots, *exact)
		for i := range sameDay {
			if len(slots) == maxAlternatives {
				break
			}
			if sameDay[i].Time != wantTime {
				slots = append(slots, sameDay[i])
			}
		}
		return Result{Status: StatusExact, Requested: requested, Slots: toSlots(slots, loc)}, nil
	}

	if len(sameDay) > 0 {
		return Result{Status: StatusSameDate, Requested: requested, Slots: toSlots(cap5(sameDay), loc)}, nil
	}

	// Nothing on the requested day: widen to the full search window.
	free, err = r.crm.FreeSlots(ctx, tenant.ID, tenant.CalendarID, dayStart, dayStart.Add(searchDays*24*time.Hour), loc, tenant.AssignedUserID)
	if err != nil {
		return r.classifyError(requested, err)
	}

	var future []crm.FreeSlot
	for i := range free {
		if free[i].Date > wantDate {
			future = append(future, free[i])
		}
	}
	if len(future) == 0 {
		return Result{Status: StatusNone, Requested: requested}, nil
	}
	return Result{Status: StatusOtherDate, Requested: requested, Slots: toSlots(cap5(future), loc)}, nil
}

// SlotStillFree re-validates a slot against blocked events. It runs before
// the reservation is created and again after payment succeeds; a block whose
// tenant-local start matches the requested time means someone else took it.
func (r *Resolver) SlotStillFree(ctx context.Context, tenant *accounts.Account, at time.Time) (bool, error) {
	blocked, err := r.crm.BlockedSlots(ctx, tenant.ID, tenant.LocationID, at, at.Add(raceWindow), tenant.CalendarID, "")
	if err != nil {
		return false, fmt.Errorf("availability: fetch blocked slots: %w", err)
	}

	loc := tenant.Location()
	want := at.In(loc).Format("15:04")
	for _, b := range blocked {
		if b.StartTime.In(loc).Format("15:04") == want {
			r.logger.Info("slot taken by calendar block",
				"tenant_id", tenant.ID, "requested", at.Format(time.RFC3339), "block_id", b.ID)
			return false, nil
		}
	}
	return true, nil
}

// classifyError folds a token failure into StatusAuthFailed; everything else
// propagates so the engine can apologize generically.
func (r *Resolver) classifyError(requested time.Time, err error) (Result, error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Kind == apperrors.KindToken {
		r.logger.Warn("slot check hit dead CRM credentials", "error", err)
		return Result{Status: StatusAuthFailed, Requested: requested}, nil
	}
	return Result{}, fmt.Errorf("availability: fetch free slots: %w", err)
}

func cap5(slots []crm.FreeSlot) []crm.FreeSlot {
	if len(slots) > maxAlternatives {
		return slots[:maxAlternatives]
	}
	return slots
}

func toSlots(free []crm.FreeSlot, loc *time.Location) []Slot {
	out := make([]Slot, 0, len(free))
	for _, f := range free {
		out = append(out, Slot{
			At:      f.At,
			Date:    f.Date,
			Time:    f.Time,
			Display: FormatSpanish(f.At.In(loc)),
		})
	}
	return out
}
