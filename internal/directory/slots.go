package directory

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/availability"
	"github.com/medagenda/citas-ai-platform/internal/crm"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

var slotsTracer = otel.Tracer("citas.internal.directory")

// profileGetter is the Store subset the slot service reads.
type profileGetter interface {
	Get(ctx context.Context, id string) (*Profile, error)
}

// tenantGetter resolves the tenant behind a profile.
type tenantGetter interface {
	Get(ctx context.Context, id string) (*accounts.Account, error)
}

// slotLister is the crm.Client subset the slot service queries.
type slotLister interface {
	FreeSlots(ctx context.Context, tenantID, calendarID string, start, end time.Time, loc *time.Location, userID string) ([]crm.FreeSlot, error)
}

// SlotsService answers "what times does this doctor have on this date" for
// the public directory, translating a profile id into its tenant's calendar.
type SlotsService struct {
	profiles profileGetter
	tenants  tenantGetter
	crm      slotLister
	logger   *logging.Logger
}

func NewSlotsService(profiles profileGetter, tenants tenantGetter, crmClient slotLister, logger *logging.Logger) *SlotsService {
	if profiles == nil {
		panic("directory: profile store required")
	}
	if tenants == nil {
		panic("directory: tenant store required")
	}
	if crmClient == nil {
		panic("directory: crm client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SlotsService{profiles: profiles, tenants: tenants, crm: crmClient, logger: logger}
}

// SlotsForDate lists the profile's free slots on one tenant-local date
// (YYYY-MM-DD). Disabled profiles answer not-found; the public surface never
// reveals that a delisted doctor exists.
func (s *SlotsService) SlotsForDate(ctx context.Context, profileID, date string) ([]availability.Slot, error) {
	ctx, span := slotsTracer.Start(ctx, "directory.slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("citas.profile_id", profileID),
		attribute.String("citas.date", date),
	)

	profile, err := s.profiles.Get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if !profile.Enabled {
		return nil, ErrNotFound
	}

	tenant, err := s.tenants.Get(ctx, profile.TenantID)
	if err != nil {
		return nil, fmt.Errorf("directory: resolve tenant for profile %s: %w", profileID, err)
	}

	loc := tenant.Location()
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "date must be YYYY-MM-DD").WithDetail("date", date)
	}

	free, err := s.crm.FreeSlots(ctx, tenant.ID, tenant.CalendarID, day, day.Add(24*time.Hour), loc, tenant.AssignedUserID)
	if err != nil {
		return nil, fmt.Errorf("directory: fetch free slots: %w", err)
	}

	var slots []availability.Slot
	for _, f := range free {
		if f.Date != date {
			continue
		}
		slots = append(slots, availability.Slot{
			At:      f.At,
			Date:    f.Date,
			Time:    f.Time,
			Display: availability.FormatSpanish(f.At.In(loc)),
		})
	}
	return slots, nil
}
