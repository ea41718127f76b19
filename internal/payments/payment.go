// Package payments is the Stripe adapter: connected-account onboarding,
// booking checkout sessions, subscription billing and webhook verification.
// The HTTP surface Stripe exposes here is small enough that the client talks
// form-encoded HTTP directly, which keeps a dry-run mode and a test base URL
// trivial.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentStatus is the lifecycle of one payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// CheckoutExpiry is how long a hosted checkout link stays payable.
const CheckoutExpiry = 30 * time.Minute

// Payment is one checkout session tracked locally. The id is Stripe's session
// id, so webhook lookups need no extra mapping.
type Payment struct {
	ID             string
	TenantID       string
	BookingID      string
	ConversationID string
	AmountCents    int64
	Currency       string
	Status         PaymentStatus
	CheckoutURL    string
	ExpiresAt      time.Time
	AppointmentID  string
	Source         string
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrNotFound means no payment row matches.
var ErrNotFound = errors.New("payments: payment not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists payments in Postgres.
type Store struct {
	db DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithDB(db DB) *Store {
	if db == nil {
		panic("payments: db required")
	}
	return &Store{db: db}
}

// Create inserts a payment row.
func (s *Store) Create(ctx context.Context, p *Payment) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = PaymentPending
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("payments: encode metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO payments (
			id, tenant_id, booking_id, conversation_id, amount_cents, currency,
			status, checkout_url, expires_at, appointment_id, source, metadata,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.TenantID, p.BookingID, p.ConversationID, p.AmountCents, p.Currency,
		string(p.Status), p.CheckoutURL, p.ExpiresAt, p.AppointmentID, p.Source, meta,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("payments: create payment: %w", err)
	}
	return nil
}

const paymentColumns = `
	id, tenant_id, booking_id, conversation_id, amount_cents, currency,
	status, checkout_url, expires_at, appointment_id, source, metadata,
	created_at, updated_at`

// Get returns the payment by Stripe session id.
func (s *Store) Get(ctx context.Context, id string) (*Payment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("payments: get payment: %w", err)
	}
	return p, nil
}

// GetByBooking returns the latest payment linked to a booking.
func (s *Store) GetByBooking(ctx context.Context, bookingID string) (*Payment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1`, bookingID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("payments: get payment by booking: %w", err)
	}
	return p, nil
}

// UpdateStatus moves the payment to a new status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status PaymentStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments SET status = $1, updated_at = NOW()
		WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("payments: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkAppointment stamps the CRM appointment created after a successful
// payment.
func (s *Store) LinkAppointment(ctx context.Context, id, appointmentID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE payments SET appointment_id = $1, updated_at = NOW()
		WHERE id = $2`, appointmentID, id)
	if err != nil {
		return fmt.Errorf("payments: link appointment: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var status string
	var meta []byte
	err := row.Scan(
		&p.ID, &p.TenantID, &p.BookingID, &p.ConversationID, &p.AmountCents, &p.Currency,
		&status, &p.CheckoutURL, &p.ExpiresAt, &p.AppointmentID, &p.Source, &meta,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = PaymentStatus(status)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &p.Metadata)
	}
	return &p, nil
}
