package domain

import "time"

// VariantStatus описывает видимость товарного варианта в витрине.
type VariantStatus string

const (
	// VariantStatusPublished — вариант опубликован и доступен покупателям.
	VariantStatusPublished VariantStatus = "published"
	// VariantStatusDraft — вариант скрыт из витрины.
	VariantStatusDraft VariantStatus = "draft"
)

// Variant представляет покупаемый SKU каталога: цена и остаток живут на варианте.
type Variant struct {
	ID int64
	// SKU — внешний артикул товара.
	SKU string
	// Name — отображаемое название товара.
	Name        string
	Description string
	Status      VariantStatus
	// PriceMinor — цена за единицу в минимальных денежных единицах (например, центы).
	PriceMinor int64
	// Stock — доступный остаток; инвариант: никогда не уходит в минус.
	Stock     int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет базовые инварианты варианта и возвращает список замечаний.
func (v *Variant) Validate() []error {
	var errs []error

	if v.SKU == "" {
		errs = append(errs, ErrVariantSKURequired)
	}
	if v.Name == "" {
		errs = append(errs, ErrVariantNameRequired)
	}
	if v.PriceMinor < 0 {
		errs = append(errs, ErrVariantPriceInvalid)
	}
	if v.Stock < 0 {
		errs = append(errs, ErrVariantStockInvalid)
	}

	return errs
}

// Published сообщает, виден ли вариант в витрине.
func (v *Variant) Published() bool {
	return v.Status == VariantStatusPublished
}
