package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConnected means the tenant never completed the OAuth connect flow or
// its credentials were deleted.
var ErrNotConnected = errors.New("tokens: tenant has no stored credentials")

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists OAuth tokens in Postgres, one row per tenant.
type Store struct {
	pool rowQuerier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("tokens: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithExec(exec rowQuerier) *Store {
	if exec == nil {
		panic("tokens: exec required")
	}
	return &Store{pool: exec}
}

// Save upserts the full credential set for a tenant. Used after the connect
// flow and after a refresh that rotated the refresh token.
func (s *Store) Save(ctx context.Context, tok Token) error {
	query := `
		INSERT INTO oauth_tokens (
			tenant_id, location_id, company_id, access_token, refresh_token,
			token_type, scope, expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			location_id = COALESCE(NULLIF(EXCLUDED.location_id, ''), oauth_tokens.location_id),
			company_id = COALESCE(NULLIF(EXCLUDED.company_id, ''), oauth_tokens.company_id),
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		tok.TenantID,
		tok.LocationID,
		tok.CompanyID,
		tok.AccessToken,
		tok.RefreshToken,
		tok.TokenType,
		tok.Scope,
		tok.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("tokens: save credentials: %w", err)
	}
	return nil
}

// ReplaceAccess updates only the access token and its expiry. Used when a
// refresh response did not rotate the refresh token.
func (s *Store) ReplaceAccess(ctx context.Context, tenantID, accessToken string, expiresAt time.Time) error {
	query := `
		UPDATE oauth_tokens
		SET access_token = $2, expires_at = $3, updated_at = NOW()
		WHERE tenant_id = $1
	`
	ct, err := s.pool.Exec(ctx, query, tenantID, accessToken, expiresAt)
	if err != nil {
		return fmt.Errorf("tokens: replace access token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotConnected
	}
	return nil
}

// Get loads the credential set for a tenant.
func (s *Store) Get(ctx context.Context, tenantID string) (Token, error) {
	query := `
		SELECT tenant_id, COALESCE(location_id, ''), COALESCE(company_id, ''),
		       access_token, refresh_token, COALESCE(token_type, ''),
		       COALESCE(scope, ''), expires_at, updated_at
		FROM oauth_tokens
		WHERE tenant_id = $1
	`
	var tok Token
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&tok.TenantID,
		&tok.LocationID,
		&tok.CompanyID,
		&tok.AccessToken,
		&tok.RefreshToken,
		&tok.TokenType,
		&tok.Scope,
		&tok.ExpiresAt,
		&tok.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrNotConnected
		}
		return Token{}, fmt.Errorf("tokens: get credentials: %w", err)
	}
	return tok, nil
}

// Delete removes a tenant's credentials (disconnect).
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM oauth_tokens WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("tokens: delete credentials: %w", err)
	}
	return nil
}
