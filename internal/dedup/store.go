package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists message claims in Postgres. A claim row means some worker
// already took ownership of that (tenant, message id) pair.
type Store struct {
	pool execer
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("dedup: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithExec(exec execer) *Store {
	if exec == nil {
		panic("dedup: exec required")
	}
	return &Store{pool: exec}
}

// Claim records (tenantKey, messageID) and reports whether this call won the
// claim. Exactly one caller across all processes wins for a given pair.
func (s *Store) Claim(ctx context.Context, tenantKey, messageID string) (bool, error) {
	query := `
		INSERT INTO processed_messages (tenant_key, message_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, tenantKey, messageID)
	if err != nil {
		return false, fmt.Errorf("dedup: claim message: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release gives a claim back so a later delivery of the same id can win it
// again. Callers use it when handling failed after the claim was taken.
func (s *Store) Release(ctx context.Context, tenantKey, messageID string) error {
	query := `DELETE FROM processed_messages WHERE tenant_key = $1 AND message_id = $2`
	if _, err := s.pool.Exec(ctx, query, tenantKey, messageID); err != nil {
		return fmt.Errorf("dedup: release claim: %w", err)
	}
	return nil
}

// Sweep deletes claims first seen before now-ttl and returns how many rows
// were removed.
func (s *Store) Sweep(ctx context.Context, ttl time.Duration) (int64, error) {
	query := `DELETE FROM processed_messages WHERE seen_at < $1`
	ct, err := s.pool.Exec(ctx, query, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("dedup: sweep expired claims: %w", err)
	}
	return ct.RowsAffected(), nil
}
