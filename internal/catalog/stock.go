package catalog

import (
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// AdjustStock меняет остаток варианта на delta поверх атомарных Reserve/Release:
// положительная delta довносит остаток, отрицательная — списывает. Списание
// больше доступного возвращает InsufficientStockError, остаток не меняется.
func AdjustStock(repo domain.CatalogRepository, variantID int64, delta int32) (int32, error) {
	switch {
	case delta > 0:
		return repo.Release(variantID, delta)
	case delta < 0:
		return repo.Reserve(variantID, -delta)
	default:
		variant, err := repo.GetVariant(variantID)
		if err != nil {
			return 0, err
		}
		return variant.Stock, nil
	}
}
