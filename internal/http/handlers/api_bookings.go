package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/bookings"
	"github.com/medagenda/citas-ai-platform/internal/phone"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

type bookingReader interface {
	Get(ctx context.Context, id string) (*bookings.Booking, error)
	ListByPhone(ctx context.Context, phone string, limit int) ([]bookings.Booking, error)
	ListByDoctor(ctx context.Context, doctorID string, limit int) ([]bookings.Booking, error)
	ListBySource(ctx context.Context, source bookings.Source, limit int) ([]bookings.Booking, error)
	ListByRange(ctx context.Context, start, end time.Time) ([]bookings.Booking, error)
}

// BookingsAPIHandler is the read side of the booking aggregate for
// integrators: fetch one booking or filter the list by patient phone,
// doctor, channel or date range.
type BookingsAPIHandler struct {
	store  bookingReader
	logger *logging.Logger
}

func NewBookingsAPIHandler(store bookingReader, logger *logging.Logger) *BookingsAPIHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingsAPIHandler{store: store, logger: logger}
}

type bookingResponse struct {
	ID            string    `json:"id"`
	DoctorID      string    `json:"doctor_id"`
	TenantID      string    `json:"tenant_id"`
	PatientName   string    `json:"patient_name"`
	PatientPhone  string    `json:"patient_phone"`
	PatientEmail  string    `json:"patient_email,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	AppointmentAt time.Time `json:"appointment_at"`
	DateDisplay   string    `json:"date_display"`
	TimeDisplay   string    `json:"time_display"`
	Source        string    `json:"source"`
	Status        string    `json:"status"`

	PaymentRequired bool   `json:"payment_required"`
	PaymentID       string `json:"payment_id,omitempty"`
	PaymentStatus   string `json:"payment_status,omitempty"`
	AppointmentID   string `json:"appointment_id,omitempty"`

	DoctorName string    `json:"doctor_name,omitempty"`
	Location   string    `json:"location,omitempty"`
	Specialty  string    `json:"specialty,omitempty"`
	PriceCents int64     `json:"price_cents,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Get handles GET /api/v1/bookings/{id}.
func (h *BookingsAPIHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, bookings.ErrNotFound) {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindNotFound, "booking not found"))
			return
		}
		h.logger.Error("booking lookup failed", "error", err, "booking_id", id)
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

// List handles GET /api/v1/bookings. Exactly one filter applies, checked in
// order: phone, doctor_id, source, then from/to.
func (h *BookingsAPIHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	var (
		list []bookings.Booking
		err  error
	)
	switch {
	case q.Get("phone") != "":
		list, err = h.store.ListByPhone(r.Context(), phone.Canonicalize(q.Get("phone")), limit)
	case q.Get("doctor_id") != "":
		list, err = h.store.ListByDoctor(r.Context(), q.Get("doctor_id"), limit)
	case q.Get("source") != "":
		source := bookings.Source(q.Get("source"))
		if source != bookings.SourceChat && source != bookings.SourceDirectory {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "source must be chat or directory"))
			return
		}
		list, err = h.store.ListBySource(r.Context(), source, limit)
	case q.Get("from") != "" && q.Get("to") != "":
		var start, end time.Time
		start, err = time.Parse(time.RFC3339, q.Get("from"))
		if err == nil {
			end, err = time.Parse(time.RFC3339, q.Get("to"))
		}
		if err != nil {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "from and to must be RFC 3339 timestamps"))
			return
		}
		list, err = h.store.ListByRange(r.Context(), start, end)
	default:
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "provide phone, doctor_id, source, or from and to"))
		return
	}
	if err != nil {
		h.logger.Error("booking list failed", "error", err)
		apperrors.WriteJSON(w, err)
		return
	}

	out := make([]bookingResponse, 0, len(list))
	for i := range list {
		out = append(out, toBookingResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": out, "count": len(out)})
}

func toBookingResponse(b *bookings.Booking) bookingResponse {
	return bookingResponse{
		ID:              b.ID,
		DoctorID:        b.DoctorID,
		TenantID:        b.TenantID,
		PatientName:     b.PatientName,
		PatientPhone:    phone.Display(b.PatientPhone),
		PatientEmail:    b.PatientEmail,
		Reason:          b.Reason,
		AppointmentAt:   b.AppointmentAt,
		DateDisplay:     b.DateDisplay,
		TimeDisplay:     b.TimeDisplay,
		Source:          string(b.Source),
		Status:          string(b.Status),
		PaymentRequired: b.PaymentRequired,
		PaymentID:       b.PaymentID,
		PaymentStatus:   string(b.PaymentStatus),
		AppointmentID:   b.AppointmentID,
		DoctorName:      b.DoctorName,
		Location:        b.Location,
		Specialty:       b.Specialty,
		PriceCents:      b.PriceCents,
		CreatedAt:       b.CreatedAt,
	}
}
