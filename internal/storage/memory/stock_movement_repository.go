package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// stockMovementRepositoryInMemory — in-memory журнал движений остатков.
type stockMovementRepositoryInMemory struct {
	mu        sync.RWMutex
	movements []domain.StockMovement
	nextID    int64
}

// NewStockMovementRepository создаёт in-memory реализацию StockMovementRepository.
func NewStockMovementRepository() domain.StockMovementRepository {
	return &stockMovementRepositoryInMemory{nextID: 1}
}

// Append добавляет движение в журнал в порядке поступления.
func (r *stockMovementRepositoryInMemory) Append(movement domain.StockMovement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	movement.ID = r.nextID
	r.nextID++
	if movement.Occurred.IsZero() {
		movement.Occurred = time.Now().UTC()
	}
	r.movements = append(r.movements, movement)
	return nil
}

// ListByVariant возвращает копии движений варианта в порядке добавления.
func (r *stockMovementRepositoryInMemory) ListByVariant(variantID int64) ([]domain.StockMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StockMovement, 0)
	for _, movement := range r.movements {
		if movement.VariantID == variantID {
			result = append(result, movement)
		}
	}
	return result, nil
}

var _ domain.StockMovementRepository = (*stockMovementRepositoryInMemory)(nil)
