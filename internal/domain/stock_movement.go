package domain

import "time"

// StockMovementKind описывает направление движения остатка.
type StockMovementKind string

const (
	// StockMovementReserve — списание остатка под позицию корзины.
	StockMovementReserve StockMovementKind = "reserve"
	// StockMovementRelease — возврат остатка при уменьшении или удалении позиции.
	StockMovementRelease StockMovementKind = "release"
)

// StockMovement фиксирует одно движение остатка варианта для аудита склада.
type StockMovement struct {
	ID        int64
	VariantID int64
	CartID    int64
	Kind      StockMovementKind
	// Qty — количество единиц движения; всегда > 0, направление задаёт Kind.
	Qty int32
	// StockAfter — остаток варианта сразу после движения.
	StockAfter int32
	Occurred   time.Time
}

// StockMovementRepository хранит журнал движений остатков.
type StockMovementRepository interface {
	// Append добавляет движение в журнал.
	Append(movement StockMovement) error
	// ListByVariant возвращает движения варианта в хронологическом порядке.
	ListByVariant(variantID int64) ([]StockMovement, error)
}
