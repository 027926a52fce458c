package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type stockMovementRepository struct {
	db *sql.DB
}

// NewStockMovementRepository создаёт PostgreSQL-реализацию StockMovementRepository.
func NewStockMovementRepository(store *Store) domain.StockMovementRepository {
	return &stockMovementRepository{db: store.DB()}
}

func (r *stockMovementRepository) Append(movement domain.StockMovement) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if movement.Occurred.IsZero() {
		movement.Occurred = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_movements (variant_id, cart_id, kind, qty, stock_after, occurred)
		VALUES ($1,$2,$3,$4,$5,$6)
	`,
		movement.VariantID, movement.CartID, string(movement.Kind),
		movement.Qty, movement.StockAfter, movement.Occurred,
	); err != nil {
		return fmt.Errorf("append stock movement: %w", err)
	}

	return nil
}

func (r *stockMovementRepository) ListByVariant(variantID int64) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, variant_id, cart_id, kind, qty, stock_after, occurred
		FROM stock_movements
		WHERE variant_id = $1
		ORDER BY occurred ASC, id ASC
	`, variantID)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var (
			movement domain.StockMovement
			kind     string
		)
		if err := rows.Scan(
			&movement.ID, &movement.VariantID, &movement.CartID,
			&kind, &movement.Qty, &movement.StockAfter, &movement.Occurred,
		); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		movement.Kind = domain.StockMovementKind(kind)
		movements = append(movements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}

	return movements, nil
}

var _ domain.StockMovementRepository = (*stockMovementRepository)(nil)
