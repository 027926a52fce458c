package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего токена сессии у корзины.
	ErrSessionRequired = errors.New("session_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствующего канала продаж.
	ErrChannelRequired = errors.New("channel is required")
	// Ошибка при некорректном количестве в позиции (< 1).
	ErrLineQtyInvalid = errors.New("line qty must be greater than zero")
	// Ошибка дубликата позиции: на вариант допустима только одна позиция.
	ErrLineVariantDuplicate = errors.New("cart already holds a line for this variant")
	// Ошибка отсутствующего артикула варианта.
	ErrVariantSKURequired = errors.New("variant sku is required")
	// Ошибка отсутствующего названия товара.
	ErrVariantNameRequired = errors.New("variant name is required")
	// Ошибка отрицательной цены варианта.
	ErrVariantPriceInvalid = errors.New("variant price must be non-negative")
	// Ошибка отрицательного остатка варианта.
	ErrVariantStockInvalid = errors.New("variant stock must be non-negative")
	// ErrVariantNotFound возвращается, если вариант не найден в каталоге.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrCartNotFound возвращается, если корзина не найдена в репозитории.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartLineNotFound возвращается, если позиция отсутствует в корзине.
	ErrCartLineNotFound = errors.New("cart line not found")
	// ErrQtyInvalid — бизнес-ошибка запроса: количество должно быть >= 1.
	ErrQtyInvalid = errors.New("quantity must be greater than zero")
	// ErrReleaseQtyInvalid защищает склад от возврата некорректного количества.
	ErrReleaseQtyInvalid = errors.New("release qty must be greater than zero")
	// ErrDefaultsNotConfigured — фатальная ошибка деплоя: не заданы валюта или канал по умолчанию.
	ErrDefaultsNotConfigured = errors.New("default currency or sales channel is not configured")
	// ErrStorageTemporary — временная ошибка хранилища; всю операцию можно безопасно повторить.
	ErrStorageTemporary = errors.New("temporary storage error")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired — пустой idempotency-key недопустим.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса недопустим.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован; нужен replay сохранённого ответа.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key is already used with different request payload")
)

// InsufficientStockError сигнализирует, что запрошенное количество превышает
// доступный остаток. Несёт актуальный остаток, чтобы клиент мог скорректировать запрос.
type InsufficientStockError struct {
	VariantID int64
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: available %d", e.VariantID, e.Available)
}

// IsInsufficientStock проверяет, является ли ошибка нехваткой остатка.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// AvailableStock извлекает доступный остаток из ошибки нехватки, если она таковой является.
func AvailableStock(err error) (int32, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target.Available, true
	}
	return 0, false
}

// IsNotFound проверяет, относится ли ошибка к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrVariantNotFound) ||
		errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrCartLineNotFound)
}
