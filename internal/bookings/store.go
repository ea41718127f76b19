package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound means no booking matches the lookup.
var ErrNotFound = errors.New("bookings: booking not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists bookings in Postgres.
type Store struct {
	db DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithDB(db DB) *Store {
	if db == nil {
		panic("bookings: db required")
	}
	return &Store{db: db}
}

const bookingColumns = `
	id, doctor_id, tenant_id, patient_name, patient_phone, patient_email, reason,
	appointment_at, date_display, time_display, source, status,
	payment_required, payment_id, payment_status, appointment_id, calendar_id,
	doctor_name, location, specialty, price_cents, created_at, updated_at`

// Create inserts a booking. A missing id is generated.
func (s *Store) Create(ctx context.Context, b *Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = StatusPending
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO bookings (
			id, doctor_id, tenant_id, patient_name, patient_phone, patient_email, reason,
			appointment_at, date_display, time_display, source, status,
			payment_required, payment_id, payment_status, appointment_id, calendar_id,
			doctor_name, location, specialty, price_cents, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		b.ID, b.DoctorID, b.TenantID, b.PatientName, b.PatientPhone, b.PatientEmail, b.Reason,
		b.AppointmentAt, b.DateDisplay, b.TimeDisplay, string(b.Source), string(b.Status),
		b.PaymentRequired, b.PaymentID, string(b.PaymentStatus), b.AppointmentID, b.CalendarID,
		b.DoctorName, b.Location, b.Specialty, b.PriceCents, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("bookings: create booking: %w", err)
	}
	return nil
}

// Get returns one booking by id.
func (s *Store) Get(ctx context.Context, id string) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: get booking: %w", err)
	}
	return b, nil
}

// SetStatus moves the booking to a new status.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings SET status = $1, updated_at = NOW()
		WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("bookings: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAppointmentTime moves a still-pending booking to a newly chosen slot.
func (s *Store) UpdateAppointmentTime(ctx context.Context, id string, at time.Time, dateDisplay, timeDisplay string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings SET appointment_at = $1, date_display = $2, time_display = $3, updated_at = NOW()
		WHERE id = $4`, at, dateDisplay, timeDisplay, id)
	if err != nil {
		return fmt.Errorf("bookings: update appointment time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkPayment attaches a checkout session and marks the payment pending.
func (s *Store) LinkPayment(ctx context.Context, id, paymentID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings SET payment_id = $1, payment_status = 'pending',
			status = 'pending_payment', updated_at = NOW()
		WHERE id = $2`, paymentID, id)
	if err != nil {
		return fmt.Errorf("bookings: link payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaymentStatus records the payment outcome on the booking row.
func (s *Store) SetPaymentStatus(ctx context.Context, id string, status PaymentStatus) error {
	_, err := s.db.Exec(ctx, `
		UPDATE bookings SET payment_status = $1, updated_at = NOW()
		WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("bookings: set payment status: %w", err)
	}
	return nil
}

// LinkAppointment stamps the CRM appointment and confirms the booking in one
// write, so the payment-required invariant is never observable half-applied.
func (s *Store) LinkAppointment(ctx context.Context, id, appointmentID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings SET appointment_id = $1, status = 'confirmed', updated_at = NOW()
		WHERE id = $2`, appointmentID, id)
	if err != nil {
		return fmt.Errorf("bookings: link appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel marks the booking cancelled.
func (s *Store) Cancel(ctx context.Context, id string) error {
	return s.SetStatus(ctx, id, StatusCancelled)
}

// Complete marks the appointment as having happened.
func (s *Store) Complete(ctx context.Context, id string) error {
	return s.SetStatus(ctx, id, StatusCompleted)
}

// MarkNoShow records that the patient did not show up.
func (s *Store) MarkNoShow(ctx context.Context, id string) error {
	return s.SetStatus(ctx, id, StatusNoShow)
}

// ListByPhone returns a patient's bookings, newest first.
func (s *Store) ListByPhone(ctx context.Context, phone string, limit int) ([]Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE patient_phone = $1 ORDER BY created_at DESC LIMIT $2`, phone, capLimit(limit))
}

// ListByDoctor returns a doctor's bookings, newest first.
func (s *Store) ListByDoctor(ctx context.Context, doctorID string, limit int) ([]Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE doctor_id = $1 ORDER BY created_at DESC LIMIT $2`, doctorID, capLimit(limit))
}

// ListBySource returns bookings from one channel, newest first.
func (s *Store) ListBySource(ctx context.Context, source Source, limit int) ([]Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE source = $1 ORDER BY created_at DESC LIMIT $2`, string(source), capLimit(limit))
}

// ListByRange returns bookings whose appointment falls in [start, end).
func (s *Store) ListByRange(ctx context.Context, start, end time.Time) ([]Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE appointment_at >= $1 AND appointment_at < $2
		ORDER BY appointment_at ASC`, start, end)
}

func capLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Booking, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bookings: list bookings: %w", err)
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan booking: %w", err)
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	var b Booking
	var source, status, payStatus string
	err := row.Scan(
		&b.ID, &b.DoctorID, &b.TenantID, &b.PatientName, &b.PatientPhone, &b.PatientEmail, &b.Reason,
		&b.AppointmentAt, &b.DateDisplay, &b.TimeDisplay, &source, &status,
		&b.PaymentRequired, &b.PaymentID, &payStatus, &b.AppointmentID, &b.CalendarID,
		&b.DoctorName, &b.Location, &b.Specialty, &b.PriceCents, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Source = Source(source)
	b.Status = Status(status)
	b.PaymentStatus = PaymentStatus(payStatus)
	return &b, nil
}
