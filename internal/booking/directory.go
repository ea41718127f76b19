package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/availability"
	"github.com/medagenda/citas-ai-platform/internal/bookings"
	"github.com/medagenda/citas-ai-platform/internal/payments"
	"github.com/medagenda/citas-ai-platform/internal/phone"
)

// DirectoryBookingRequest is a public-directory appointment request: the
// patient picked a doctor profile and a slot on the web, no chat involved.
type DirectoryBookingRequest struct {
	TenantID     string
	ProfileID    string
	PatientName  string
	PatientPhone string
	PatientEmail string
	Reason       string
	At           time.Time

	DoctorName string
	Location   string
	Specialty  string
	PriceCents int64
}

// DirectoryBookingResult tells the web client what happens next: either the
// booking is confirmed, or the patient owes a checkout first.
type DirectoryBookingResult struct {
	BookingID       string
	Status          bookings.Status
	PaymentRequired bool
	PaymentURL      string
	PaymentID       string
}

// CreateDirectoryBooking funnels a directory request into the same pipeline
// chat bookings use, including the payment gate when the owning tenant
// charges for appointments.
func (p *Pipeline) CreateDirectoryBooking(ctx context.Context, req DirectoryBookingRequest) (*DirectoryBookingResult, error) {
	if req.PatientName == "" || req.PatientPhone == "" {
		return nil, apperrors.New(apperrors.KindValidation, "patient name and phone are required")
	}
	if req.At.IsZero() || req.At.Before(time.Now()) {
		return nil, apperrors.New(apperrors.KindValidation, "appointment time must be in the future")
	}

	tenant, err := p.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("booking: load tenant: %w", err)
	}

	if p.slots != nil {
		free, err := p.slots.SlotStillFree(ctx, tenant, req.At)
		if err != nil {
			return nil, fmt.Errorf("booking: revalidate slot: %w", err)
		}
		if !free {
			return nil, apperrors.New(apperrors.KindBusinessLogic, "the selected slot is no longer available")
		}
	}

	local := req.At.In(tenant.Location())
	doctorID := req.ProfileID
	if doctorID == "" {
		doctorID = tenant.ID
	}
	paymentRequired := tenant.Payments.Enabled && tenant.PaymentsConfigured() && tenant.Payments.PriceCents > 0

	b := &bookings.Booking{
		DoctorID:        doctorID,
		TenantID:        tenant.ID,
		PatientName:     req.PatientName,
		PatientPhone:    phone.Canonicalize(req.PatientPhone),
		PatientEmail:    req.PatientEmail,
		Reason:          req.Reason,
		AppointmentAt:   req.At,
		DateDisplay:     availability.FormatSpanishDate(local),
		TimeDisplay:     availability.FormatSpanishTime(local),
		Source:          bookings.SourceDirectory,
		Status:          bookings.StatusPending,
		PaymentRequired: paymentRequired,
		CalendarID:      tenant.CalendarID,
		DoctorName:      req.DoctorName,
		Location:        req.Location,
		Specialty:       req.Specialty,
		PriceCents:      req.PriceCents,
	}
	if err := p.bookings.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("booking: create directory booking: %w", err)
	}

	if !paymentRequired {
		if err := p.Finalize(ctx, b.ID); err != nil {
			return nil, err
		}
		confirmed, err := p.bookings.Get(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("booking: reload booking: %w", err)
		}
		return &DirectoryBookingResult{BookingID: b.ID, Status: confirmed.Status}, nil
	}

	if p.checkout == nil {
		return nil, fmt.Errorf("booking: tenant %s requires payment but no checkout service is wired", tenant.ID)
	}
	session, err := p.checkout.CreateBookingCheckout(ctx, payments.CheckoutParams{
		Tenant:       tenant,
		BookingID:    b.ID,
		PatientName:  b.PatientName,
		PatientPhone: b.PatientPhone,
		Source:       string(bookings.SourceDirectory),
	})
	if err != nil {
		return nil, fmt.Errorf("booking: directory checkout: %w", err)
	}
	if err := p.bookings.LinkPayment(ctx, b.ID, session.ID); err != nil {
		return nil, err
	}

	return &DirectoryBookingResult{
		BookingID:       b.ID,
		Status:          bookings.StatusPendingPayment,
		PaymentRequired: true,
		PaymentURL:      session.URL,
		PaymentID:       session.ID,
	}, nil
}
