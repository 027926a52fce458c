package domain

// CatalogRepository объединяет чтение каталога с учётом складских остатков.
// Reserve и Release атомарны относительно счетчика одного варианта: проверка
// и изменение остатка выполняются под одной границей взаимного исключения.
type CatalogRepository interface {
	// GetVariant возвращает вариант или ErrVariantNotFound.
	GetVariant(id int64) (Variant, error)
	// ListPublished возвращает опубликованные варианты для витрины.
	ListPublished() ([]Variant, error)
	// CreateVariant сохраняет новый вариант (используется сидированием каталога).
	CreateVariant(v Variant) (Variant, error)
	// Reserve атомарно списывает qty с остатка варианта и возвращает новый остаток.
	// Возвращает InsufficientStockError, если остатка не хватает; остаток не меняется.
	Reserve(variantID int64, qty int32) (int32, error)
	// Release возвращает qty на остаток варианта и возвращает новый остаток.
	Release(variantID int64, qty int32) (int32, error)
}

// CartRepository хранит корзины и их позиции. Операции над позициями атомарны
// в пределах одной корзины; слияние количеств при повторном добавлении варианта
// выполняется на стороне хранилища.
type CartRepository interface {
	// Create сохраняет новую корзину и присваивает идентификаторы.
	Create(cart Cart) (Cart, error)
	// Get возвращает корзину с позициями или ErrCartNotFound.
	Get(id int64) (Cart, error)
	// GetBySession возвращает корзину сессии или ErrCartNotFound.
	GetBySession(sessionID string) (Cart, error)
	// AddLine добавляет qty варианта в корзину; существующая позиция того же
	// варианта сливается (qty суммируется), дубликат не создается.
	AddLine(cartID, variantID int64, qty int32) (CartLine, error)
	// SetLineQty выставляет позиции новое количество (>= 1).
	SetLineQty(cartID, lineID int64, qty int32) (CartLine, error)
	// RemoveLine удаляет позицию и возвращает её последнее состояние.
	RemoveLine(cartID, lineID int64) (CartLine, error)
}
