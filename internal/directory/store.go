package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound means no profile matches the lookup.
var ErrNotFound = errors.New("directory: profile not found")

const (
	defaultRadiusKM = 10
	maxRadiusKM     = 100
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists directory profiles in Postgres.
type Store struct {
	db DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("directory: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithDB(db DB) *Store {
	if db == nil {
		panic("directory: db required")
	}
	return &Store{db: db}
}

const profileColumns = `
	id, tenant_id, enabled, doctor_name, specialty, photo_url, credentials,
	price_cents, languages, lat, lng, address, schedule, rating_avg,
	rating_count, created_at, updated_at`

// Create inserts a profile. A missing id is generated.
func (s *Store) Create(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	schedule, err := json.Marshal(p.Schedule)
	if err != nil {
		return fmt.Errorf("directory: marshal schedule: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO directory_profiles (
			id, tenant_id, enabled, doctor_name, specialty, photo_url, credentials,
			price_cents, languages, lat, lng, address, schedule, rating_avg,
			rating_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		p.ID, p.TenantID, p.Enabled, p.DoctorName, p.Specialty, p.PhotoURL, p.Credentials,
		p.PriceCents, p.Languages, p.Lat, p.Lng, p.Address, schedule, p.RatingAvg,
		p.RatingCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("directory: create profile: %w", err)
	}
	return nil
}

// Get returns one profile by id.
func (s *Store) Get(ctx context.Context, id string) (*Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM directory_profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory: get profile: %w", err)
	}
	return p, nil
}

// GetByTenant returns the tenant's profile, enabled or not.
func (s *Store) GetByTenant(ctx context.Context, tenantID string) (*Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM directory_profiles WHERE tenant_id = $1`, tenantID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory: get profile by tenant: %w", err)
	}
	return p, nil
}

// Search runs a haversine radius query over enabled profiles, nearest first.
// The distance math lives in SQL so the index-backed enabled/specialty
// filters cut the candidate set before any trigonometry runs in Go.
func (s *Store) Search(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	radius := params.RadiusKM
	if radius <= 0 {
		radius = defaultRadiusKM
	}
	if radius > maxRadiusKM {
		radius = maxRadiusKM
	}
	limit := params.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+profileColumns+`, distance_km FROM (
			SELECT *,
				6371 * acos(
					least(1.0,
						cos(radians($1)) * cos(radians(lat)) * cos(radians(lng) - radians($2))
						+ sin(radians($1)) * sin(radians(lat))
					)
				) AS distance_km
			FROM directory_profiles
			WHERE enabled AND ($3 = '' OR specialty ILIKE $3)
		) nearby
		WHERE distance_km <= $4
		ORDER BY distance_km ASC
		LIMIT $5`,
		params.Lat, params.Lng, params.Specialty, radius, limit)
	if err != nil {
		return nil, fmt.Errorf("directory: search profiles: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		r, err := scanSearchResult(rows)
		if err != nil {
			return nil, fmt.Errorf("directory: scan profile: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// SetEnabled flips a profile's visibility.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE directory_profiles SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("directory: set enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRating folds one new rating into the running average.
func (s *Store) RecordRating(ctx context.Context, id string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("directory: rating %d out of range", rating)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE directory_profiles SET
			rating_avg = (rating_avg * rating_count + $1) / (rating_count + 1),
			rating_count = rating_count + 1,
			updated_at = NOW()
		WHERE id = $2`, rating, id)
	if err != nil {
		return fmt.Errorf("directory: record rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfileInto(row rowScanner, p *Profile, extra ...any) error {
	var schedule []byte
	dest := []any{
		&p.ID, &p.TenantID, &p.Enabled, &p.DoctorName, &p.Specialty, &p.PhotoURL, &p.Credentials,
		&p.PriceCents, &p.Languages, &p.Lat, &p.Lng, &p.Address, &schedule, &p.RatingAvg,
		&p.RatingCount, &p.CreatedAt, &p.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &p.Schedule); err != nil {
			return fmt.Errorf("unmarshal schedule: %w", err)
		}
	}
	return nil
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	if err := scanProfileInto(row, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSearchResult(row rowScanner) (*SearchResult, error) {
	var r SearchResult
	if err := scanProfileInto(row, &r.Profile, &r.DistanceKM); err != nil {
		return nil, err
	}
	return &r, nil
}
