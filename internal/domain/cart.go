package domain

import "time"

// CartLine представляет одну позицию корзины: пара (вариант, количество).
type CartLine struct {
	ID     int64
	CartID int64
	// VariantID — ссылка на вариант каталога; корзина вариантом не владеет.
	VariantID int64
	// Qty — количество единиц; инвариант: всегда >= 1, ноль означает удаление позиции.
	Qty       int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cart агрегирует позиции покупателя в рамках одной сессии витрины.
type Cart struct {
	ID int64
	// SessionID — непрозрачный токен сессии, к которому привязана корзина.
	SessionID string
	// Currency и Channel берутся из конфигурации по умолчанию при ленивом создании.
	Currency  string
	Channel   string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты корзины и возвращает список замечаний.
func (c *Cart) ValidateInvariants() []error {
	var errs []error

	if c.SessionID == "" {
		errs = append(errs, ErrSessionRequired)
	}
	if c.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if c.Channel == "" {
		errs = append(errs, ErrChannelRequired)
	}

	// На один вариант допустима максимум одна позиция: повторное добавление сливается.
	seen := make(map[int64]bool, len(c.Lines))
	for _, line := range c.Lines {
		if line.Qty < 1 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if seen[line.VariantID] {
			errs = append(errs, ErrLineVariantDuplicate)
		}
		seen[line.VariantID] = true
	}

	return errs
}

// FindLine возвращает позицию по её идентификатору.
func (c *Cart) FindLine(lineID int64) (CartLine, bool) {
	for _, line := range c.Lines {
		if line.ID == lineID {
			return line, true
		}
	}
	return CartLine{}, false
}

// LineForVariant возвращает позицию для заданного варианта, если она есть.
func (c *Cart) LineForVariant(variantID int64) (CartLine, bool) {
	for _, line := range c.Lines {
		if line.VariantID == variantID {
			return line, true
		}
	}
	return CartLine{}, false
}
