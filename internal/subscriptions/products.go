package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
)

// ErrProductNotFound means no product matches the lookup.
var ErrProductNotFound = errors.New("subscriptions: product not found")

// ProductStore persists the product catalog.
type ProductStore struct {
	db DB
}

func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	if pool == nil {
		panic("subscriptions: pgx pool required")
	}
	return &ProductStore{db: pool}
}

func newProductStoreWithDB(db DB) *ProductStore {
	if db == nil {
		panic("subscriptions: db required")
	}
	return &ProductStore{db: db}
}

const productColumns = `
	id, tenant_id, name, amount_cents, currency, active, created_at, updated_at`

// Create inserts a product. A missing id is generated.
func (s *ProductStore) Create(ctx context.Context, p *Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Currency == "" {
		p.Currency = "mxn"
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO products (
			id, tenant_id, name, amount_cents, currency, active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.TenantID, p.Name, p.AmountCents, p.Currency, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("subscriptions: create product: %w", err)
	}
	return nil
}

// Get returns one product by id.
func (s *ProductStore) Get(ctx context.Context, id string) (*Product, error) {
	row := s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("subscriptions: get product: %w", err)
	}
	return p, nil
}

// ForTenant resolves the products a tenant may sell: its override list when
// one is set, otherwise every active platform-wide product.
func (s *ProductStore) ForTenant(ctx context.Context, tenant *accounts.Account) ([]Product, error) {
	if tenant != nil && len(tenant.Subscription.ProductOverrides) > 0 {
		return s.list(ctx, `
			SELECT `+productColumns+` FROM products
			WHERE id = ANY($1) AND active ORDER BY name ASC`, tenant.Subscription.ProductOverrides)
	}
	return s.list(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE tenant_id = '' AND active ORDER BY name ASC`)
}

// SetActive flips a product's availability.
func (s *ProductStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE products SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("subscriptions: set product active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (s *ProductStore) list(ctx context.Context, query string, args ...any) ([]Product, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("subscriptions: list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("subscriptions: scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &p.AmountCents, &p.Currency, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
