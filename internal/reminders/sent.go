package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type sentDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SentStore records which CRM appointments already got their day-of reminder.
// The appointment id is the primary key, so a reminder can be recorded at
// most once no matter how many batch runs overlap.
type SentStore struct {
	db sentDB
}

func NewSentStore(pool *pgxpool.Pool) *SentStore {
	if pool == nil {
		panic("reminders: pgx pool required")
	}
	return &SentStore{db: pool}
}

func newSentStoreWithDB(db sentDB) *SentStore {
	if db == nil {
		panic("reminders: db required")
	}
	return &SentStore{db: db}
}

// AlreadySent reports whether a reminder for this appointment went out.
func (s *SentStore) AlreadySent(ctx context.Context, appointmentID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointment_reminders WHERE appointment_id = $1)`,
		appointmentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("reminders: check sent: %w", err)
	}
	return exists, nil
}

// MarkSent records the reminder. A second write for the same appointment id
// is a no-op, never an error.
func (s *SentStore) MarkSent(ctx context.Context, appointmentID, tenantID, phone string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO appointment_reminders (appointment_id, tenant_id, phone, sent_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (appointment_id) DO NOTHING`,
		appointmentID, tenantID, phone, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("reminders: mark sent: %w", err)
	}
	return nil
}
