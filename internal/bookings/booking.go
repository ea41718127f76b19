// Package bookings holds the unified booking record. Chat and directory
// channels both funnel into this one aggregate, which joins the payment and
// the CRM appointment by id.
package bookings

import "time"

// Source tells which channel created the booking.
type Source string

const (
	SourceChat      Source = "chat"
	SourceDirectory Source = "directory"
)

// Status is the booking lifecycle.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingPayment  Status = "pending_payment"
	StatusConfirmed       Status = "confirmed"
	StatusCancelled       Status = "cancelled"
	StatusCompleted       Status = "completed"
	StatusNoShow          Status = "no_show"
	StatusSlotUnavailable Status = "slot_unavailable"
)

// PaymentStatus mirrors the linked payment's lifecycle on the booking row so
// listings never need a join.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Booking is one appointment request across its whole life.
type Booking struct {
	ID string
	// DoctorID is the tenant id for chat bookings and the directory profile
	// id for public directory bookings.
	DoctorID     string
	TenantID     string
	PatientName  string
	PatientPhone string // canonical
	PatientEmail string
	Reason       string

	AppointmentAt time.Time
	DateDisplay   string
	TimeDisplay   string

	Source Source
	Status Status

	PaymentRequired bool
	PaymentID       string
	PaymentStatus   PaymentStatus

	AppointmentID string // CRM appointment id, set on finalization
	CalendarID    string

	DoctorName string
	Location   string
	Specialty  string
	PriceCents int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the booking can no longer change state.
func (b Booking) Terminal() bool {
	switch b.Status {
	case StatusCancelled, StatusCompleted, StatusNoShow, StatusSlotUnavailable:
		return true
	default:
		return false
	}
}
