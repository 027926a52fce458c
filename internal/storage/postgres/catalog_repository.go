package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{db: store.DB()}
}

func (r *catalogRepository) GetVariant(id int64) (domain.Variant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	variant, err := r.scanVariant(r.db.QueryRowContext(ctx, `
		SELECT id, sku, name, description, status, price_minor, stock, created_at, updated_at
		FROM variants
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Variant{}, domain.ErrVariantNotFound
		}
		return domain.Variant{}, fmt.Errorf("select variant: %w", err)
	}

	return variant, nil
}

func (r *catalogRepository) ListPublished() ([]domain.Variant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sku, name, description, status, price_minor, stock, created_at, updated_at
		FROM variants
		WHERE status = $1
		ORDER BY id
	`, string(domain.VariantStatusPublished))
	if err != nil {
		return nil, fmt.Errorf("list published variants: %w", err)
	}
	defer rows.Close()

	variants := make([]domain.Variant, 0)
	for rows.Next() {
		variant, err := r.scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variant row: %w", err)
		}
		variants = append(variants, variant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant rows: %w", err)
	}

	return variants, nil
}

func (r *catalogRepository) CreateVariant(v domain.Variant) (domain.Variant, error) {
	if errs := v.Validate(); len(errs) > 0 {
		return domain.Variant{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if v.Status == "" {
		v.Status = domain.VariantStatusPublished
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO variants (sku, name, description, status, price_minor, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`,
		v.SKU, v.Name, v.Description, string(v.Status), v.PriceMinor, v.Stock, now, now,
	).Scan(&v.ID)
	if err != nil {
		return domain.Variant{}, fmt.Errorf("insert variant: %w", err)
	}

	v.CreatedAt = now
	v.UpdatedAt = now
	return v, nil
}

// Reserve списывает qty атомарным UPDATE с проверкой остатка в одном statement.
// Конкурирующие запросы сериализуются блокировкой строки варианта.
func (r *catalogRepository) Reserve(variantID int64, qty int32) (int32, error) {
	if qty <= 0 {
		return 0, domain.ErrQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var newStock int32
	err := r.db.QueryRowContext(ctx, `
		UPDATE variants
		SET stock = stock - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock >= $2
		RETURNING stock
	`, variantID, qty).Scan(&newStock)
	if err == nil {
		return newStock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("reserve stock: %w", err)
	}

	// UPDATE не затронул строку: либо варианта нет, либо остатка не хватает.
	var available int32
	err = r.db.QueryRowContext(ctx, `SELECT stock FROM variants WHERE id = $1`, variantID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrVariantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("check variant stock: %w", err)
	}

	return 0, &domain.InsufficientStockError{VariantID: variantID, Available: available}
}

func (r *catalogRepository) Release(variantID int64, qty int32) (int32, error) {
	if qty <= 0 {
		return 0, domain.ErrReleaseQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var newStock int32
	err := r.db.QueryRowContext(ctx, `
		UPDATE variants
		SET stock = stock + $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING stock
	`, variantID, qty).Scan(&newStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrVariantNotFound
		}
		return 0, fmt.Errorf("release stock: %w", err)
	}

	return newStock, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *catalogRepository) scanVariant(row rowScanner) (domain.Variant, error) {
	var (
		variant domain.Variant
		status  string
	)
	if err := row.Scan(
		&variant.ID, &variant.SKU, &variant.Name, &variant.Description,
		&status, &variant.PriceMinor, &variant.Stock,
		&variant.CreatedAt, &variant.UpdatedAt,
	); err != nil {
		return domain.Variant{}, err
	}
	variant.Status = domain.VariantStatus(status)
	return variant, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
