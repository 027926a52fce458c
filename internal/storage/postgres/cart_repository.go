package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) Create(cart domain.Cart) (domain.Cart, error) {
	if errs := cart.ValidateInvariants(); len(errs) > 0 {
		return domain.Cart{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO carts (session_id, currency, channel, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, cart.SessionID, cart.Currency, cart.Channel, now, now).Scan(&cart.ID)
	if err != nil {
		if isUniqueViolation(err) {
			// Параллельное ленивое создание для одной сессии: отдаём победителя.
			return r.GetBySession(cart.SessionID)
		}
		return domain.Cart{}, fmt.Errorf("insert cart: %w", err)
	}

	cart.CreatedAt = now
	cart.UpdatedAt = now
	cart.Lines = nil
	return cart, nil
}

func (r *cartRepository) Get(id int64) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getCart(ctx, `WHERE id = $1`, id)
}

func (r *cartRepository) GetBySession(sessionID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getCart(ctx, `WHERE session_id = $1`, sessionID)
}

func (r *cartRepository) getCart(ctx context.Context, where string, arg any) (domain.Cart, error) {
	var cart domain.Cart
	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, currency, channel, created_at, updated_at
		FROM carts
	`+where, arg).Scan(
		&cart.ID, &cart.SessionID, &cart.Currency, &cart.Channel,
		&cart.CreatedAt, &cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	lines, err := r.loadLines(ctx, cart.ID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Lines = lines

	return cart, nil
}

func (r *cartRepository) AddLine(cartID, variantID int64, qty int32) (domain.CartLine, error) {
	if qty < 1 {
		return domain.CartLine{}, domain.ErrLineQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.cartExists(ctx, cartID); err != nil {
		return domain.CartLine{}, err
	}

	now := time.Now().UTC()
	var line domain.CartLine

	// Повторное добавление того же варианта сливается в существующую позицию.
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO cart_lines (cart_id, variant_id, qty, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (cart_id, variant_id)
		DO UPDATE SET qty = cart_lines.qty + EXCLUDED.qty,
		              updated_at = EXCLUDED.updated_at
		RETURNING id, cart_id, variant_id, qty, created_at, updated_at
	`, cartID, variantID, qty, now).Scan(
		&line.ID, &line.CartID, &line.VariantID, &line.Qty,
		&line.CreatedAt, &line.UpdatedAt,
	)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("upsert cart line: %w", err)
	}

	if err := r.touchCart(ctx, cartID, now); err != nil {
		return domain.CartLine{}, err
	}

	return line, nil
}

func (r *cartRepository) SetLineQty(cartID, lineID int64, qty int32) (domain.CartLine, error) {
	if qty < 1 {
		return domain.CartLine{}, domain.ErrLineQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	var line domain.CartLine

	err := r.db.QueryRowContext(ctx, `
		UPDATE cart_lines
		SET qty = $3,
		    updated_at = $4
		WHERE cart_id = $1
		  AND id = $2
		RETURNING id, cart_id, variant_id, qty, created_at, updated_at
	`, cartID, lineID, qty, now).Scan(
		&line.ID, &line.CartID, &line.VariantID, &line.Qty,
		&line.CreatedAt, &line.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if cartErr := r.cartExists(ctx, cartID); cartErr != nil {
				return domain.CartLine{}, cartErr
			}
			return domain.CartLine{}, domain.ErrCartLineNotFound
		}
		return domain.CartLine{}, fmt.Errorf("update cart line qty: %w", err)
	}

	if err := r.touchCart(ctx, cartID, now); err != nil {
		return domain.CartLine{}, err
	}

	return line, nil
}

func (r *cartRepository) RemoveLine(cartID, lineID int64) (domain.CartLine, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var line domain.CartLine
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM cart_lines
		WHERE cart_id = $1
		  AND id = $2
		RETURNING id, cart_id, variant_id, qty, created_at, updated_at
	`, cartID, lineID).Scan(
		&line.ID, &line.CartID, &line.VariantID, &line.Qty,
		&line.CreatedAt, &line.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if cartErr := r.cartExists(ctx, cartID); cartErr != nil {
				return domain.CartLine{}, cartErr
			}
			return domain.CartLine{}, domain.ErrCartLineNotFound
		}
		return domain.CartLine{}, fmt.Errorf("delete cart line: %w", err)
	}

	if err := r.touchCart(ctx, cartID, time.Now().UTC()); err != nil {
		return domain.CartLine{}, err
	}

	return line, nil
}

func (r *cartRepository) loadLines(ctx context.Context, cartID int64) ([]domain.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, cart_id, variant_id, qty, created_at, updated_at
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY created_at ASC, id ASC
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(
			&line.ID, &line.CartID, &line.VariantID, &line.Qty,
			&line.CreatedAt, &line.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}

	return lines, nil
}

func (r *cartRepository) cartExists(ctx context.Context, cartID int64) error {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM carts WHERE id = $1`, cartID).Scan(&id)
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrCartNotFound
	}
	return fmt.Errorf("check cart exists: %w", err)
}

func (r *cartRepository) touchCart(ctx context.Context, cartID int64, now time.Time) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE carts SET updated_at = $2 WHERE id = $1
	`, cartID, now); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.CartRepository = (*cartRepository)(nil)
