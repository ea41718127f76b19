package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medagenda/citas-ai-platform/internal/apperrors"
	"github.com/medagenda/citas-ai-platform/internal/availability"
	"github.com/medagenda/citas-ai-platform/internal/booking"
	"github.com/medagenda/citas-ai-platform/internal/directory"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

type profileSearcher interface {
	Search(ctx context.Context, params directory.SearchParams) ([]directory.SearchResult, error)
	Get(ctx context.Context, id string) (*directory.Profile, error)
}

type slotLister interface {
	SlotsForDate(ctx context.Context, profileID, date string) ([]availability.Slot, error)
}

type directoryBooker interface {
	CreateDirectoryBooking(ctx context.Context, req booking.DirectoryBookingRequest) (*booking.DirectoryBookingResult, error)
}

// DirectoryHandler serves the public doctor directory: geo search, per-day
// slot listings and direct bookings. No authentication; only enabled
// profiles are ever visible.
type DirectoryHandler struct {
	profiles profileSearcher
	slots    slotLister
	booker   directoryBooker
	logger   *logging.Logger
}

func NewDirectoryHandler(profiles profileSearcher, slots slotLister, booker directoryBooker, logger *logging.Logger) *DirectoryHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &DirectoryHandler{profiles: profiles, slots: slots, booker: booker, logger: logger}
}

type directoryProfileResponse struct {
	ID          string              `json:"id"`
	DoctorName  string              `json:"doctor_name"`
	Specialty   string              `json:"specialty"`
	PhotoURL    string              `json:"photo_url,omitempty"`
	Credentials string              `json:"credentials,omitempty"`
	PriceCents  int64               `json:"price_cents"`
	Languages   []string            `json:"languages,omitempty"`
	Address     string              `json:"address"`
	Lat         float64             `json:"lat"`
	Lng         float64             `json:"lng"`
	Schedule    map[string][]string `json:"schedule,omitempty"`
	RatingAvg   float64             `json:"rating_avg"`
	RatingCount int                 `json:"rating_count"`
	DistanceKM  float64             `json:"distance_km"`
}

// Search handles GET /api/v1/directory/search?lat&lng&radius_km&specialty.
func (h *DirectoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "lat and lng query parameters are required"))
		return
	}

	params := directory.SearchParams{Lat: lat, Lng: lng, Specialty: q.Get("specialty")}
	if raw := q.Get("radius_km"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "radius_km must be a number"))
			return
		}
		params.RadiusKM = radius
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "limit must be an integer"))
			return
		}
		params.Limit = limit
	}

	results, err := h.profiles.Search(r.Context(), params)
	if err != nil {
		h.logger.Error("directory search failed", "error", err)
		apperrors.WriteJSON(w, err)
		return
	}

	out := make([]directoryProfileResponse, 0, len(results))
	for _, res := range results {
		out = append(out, profileResponse(&res.Profile, res.DistanceKM))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out, "count": len(out)})
}

type slotResponse struct {
	At      time.Time `json:"at"`
	Date    string    `json:"date"`
	Time    string    `json:"time"`
	Display string    `json:"display"`
}

// Slots handles GET /api/v1/directory/{id}/slots?date=YYYY-MM-DD.
func (h *DirectoryHandler) Slots(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")
	if date == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindValidation, "date query parameter is required"))
		return
	}

	slots, err := h.slots.SlotsForDate(r.Context(), profileID, date)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindNotFound, "profile not found"))
			return
		}
		h.logger.Error("directory slot lookup failed", "error", err, "profile_id", profileID)
		apperrors.WriteJSON(w, err)
		return
	}

	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{At: s.At, Date: s.Date, Time: s.Time, Display: s.Display})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile_id": profileID, "date": date, "slots": out})
}

type directoryBookingRequest struct {
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
	PatientEmail string    `json:"patient_email"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
}

// CreateBooking handles POST /api/v1/directory/{id}/bookings.
func (h *DirectoryHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "id")

	var req directoryBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	profile, err := h.profiles.Get(r.Context(), profileID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			apperrors.WriteJSON(w, apperrors.New(apperrors.KindNotFound, "profile not found"))
			return
		}
		apperrors.WriteJSON(w, err)
		return
	}
	if !profile.Enabled {
		apperrors.WriteJSON(w, apperrors.New(apperrors.KindNotFound, "profile not found"))
		return
	}

	result, err := h.booker.CreateDirectoryBooking(r.Context(), booking.DirectoryBookingRequest{
		TenantID:     profile.TenantID,
		ProfileID:    profile.ID,
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		PatientEmail: req.PatientEmail,
		Reason:       req.Reason,
		At:           req.At,
		DoctorName:   profile.DoctorName,
		Location:     profile.Address,
		Specialty:    profile.Specialty,
		PriceCents:   profile.PriceCents,
	})
	if err != nil {
		h.logger.Error("directory booking failed", "error", err, "profile_id", profileID)
		apperrors.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"booking_id":       result.BookingID,
		"status":           result.Status,
		"payment_required": result.PaymentRequired,
		"payment_url":      result.PaymentURL,
		"payment_id":       result.PaymentID,
	})
}

func profileResponse(p *directory.Profile, distanceKM float64) directoryProfileResponse {
	return directoryProfileResponse{
		ID:          p.ID,
		DoctorName:  p.DoctorName,
		Specialty:   p.Specialty,
		PhotoURL:    p.PhotoURL,
		Credentials: p.Credentials,
		PriceCents:  p.PriceCents,
		Languages:   p.Languages,
		Address:     p.Address,
		Lat:         p.Lat,
		Lng:         p.Lng,
		Schedule:    p.Schedule,
		RatingAvg:   p.RatingAvg,
		RatingCount: p.RatingCount,
		DistanceKM:  distanceKM,
	}
}
