package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// catalogRepositoryInMemory — in-memory каталог с атомарным учётом остатков.
// Проверка и изменение остатка выполняются под одним мьютексом, поэтому
// конкурирующие Reserve по одному варианту не могут прочитать устаревший остаток.
type catalogRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[int64]domain.Variant
	nextID int64
}

// NewCatalogRepository возвращает in-memory каталог для локальной разработки и тестов.
func NewCatalogRepository() domain.CatalogRepository {
	return &catalogRepositoryInMemory{
		items: make(map[int64]domain.Variant),
	}
}

// CreateVariant сохраняет новый вариант, присваивая идентификатор при необходимости.
func (r *catalogRepositoryInMemory) CreateVariant(v domain.Variant) (domain.Variant, error) {
	if errs := v.Validate(); len(errs) > 0 {
		return domain.Variant{}, errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v.ID == 0 {
		r.nextID++
		v.ID = r.nextID
	} else if v.ID > r.nextID {
		r.nextID = v.ID
	}

	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[v.ID] = v
	return v, nil
}

// GetVariant возвращает вариант или ErrVariantNotFound, если его нет.
func (r *catalogRepositoryInMemory) GetVariant(id int64) (domain.Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	variant, ok := r.items[id]
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return variant, nil
}

// ListPublished возвращает опубликованные варианты, упорядоченные по идентификатору.
func (r *catalogRepositoryInMemory) ListPublished() ([]domain.Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Variant, 0, len(r.items))
	for _, variant := range r.items {
		if !variant.Published() {
			continue
		}
		result = append(result, variant)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Reserve атомарно списывает qty с остатка варианта.
// Возвращает InsufficientStockError с актуальным остатком, если остатка не хватает.
func (r *catalogRepositoryInMemory) Reserve(variantID int64, qty int32) (int32, error) {
	if qty <= 0 {
		return 0, domain.ErrQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	variant, ok := r.items[variantID]
	if !ok {
		return 0, domain.ErrVariantNotFound
	}
	if variant.Stock < qty {
		return variant.Stock, &domain.InsufficientStockError{VariantID: variantID, Available: variant.Stock}
	}

	variant.Stock -= qty
	variant.UpdatedAt = time.Now().UTC()
	r.items[variantID] = variant
	return variant.Stock, nil
}

// Release возвращает qty на остаток варианта.
// Отрицательные и нулевые количества отклоняются, чтобы счётчик не рос бесконтрольно.
func (r *catalogRepositoryInMemory) Release(variantID int64, qty int32) (int32, error) {
	if qty <= 0 {
		return 0, domain.ErrReleaseQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	variant, ok := r.items[variantID]
	if !ok {
		return 0, domain.ErrVariantNotFound
	}

	variant.Stock += qty
	variant.UpdatedAt = time.Now().UTC()
	r.items[variantID] = variant
	return variant.Stock, nil
}

var _ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
