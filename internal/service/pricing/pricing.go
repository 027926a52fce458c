package pricing

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// PricedLine объединяет позицию корзины с её вариантом каталога для расчёта стоимости.
type PricedLine struct {
	Line    domain.CartLine
	Variant domain.Variant
}

// LineTotal возвращает стоимость позиции: цена за единицу * количество.
// Вся денежная арифметика ведётся в минимальных единицах валюты.
func LineTotal(priceMinor int64, qty int32) int64 {
	return priceMinor * int64(qty)
}

// TotalMinor возвращает стоимость позиции в минимальных единицах.
func (p PricedLine) TotalMinor() int64 {
	return LineTotal(p.Variant.PriceMinor, p.Line.Qty)
}

// CartTotal возвращает итог корзины как сумму стоимостей позиций.
// Чистая функция текущего состояния: пересчитывается на каждое чтение.
func CartTotal(lines []PricedLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.TotalMinor()
	}
	return total
}

// Символы валют для форматирования; неизвестные валюты печатаются кодом.
var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// Format возвращает денежную строку для границы ответа: символ валюты,
// разделители тысяч и два знака после точки, например "$1,234.56".
// Хранимые и вычисляемые значения форматирование не затрагивает.
func Format(currency string, amountMinor int64) string {
	negative := amountMinor < 0
	if negative {
		amountMinor = -amountMinor
	}

	units := amountMinor / 100
	cents := amountMinor % 100

	symbol, ok := currencySymbols[currency]
	if !ok {
		symbol = currency + " "
	}

	var builder strings.Builder
	if negative {
		builder.WriteString("-")
	}
	builder.WriteString(symbol)
	builder.WriteString(groupThousands(units))
	builder.WriteString(fmt.Sprintf(".%02d", cents))
	return builder.String()
}

// groupThousands вставляет запятые между разрядами: 1234567 -> "1,234,567".
func groupThousands(value int64) string {
	digits := fmt.Sprintf("%d", value)
	if len(digits) <= 3 {
		return digits
	}

	var builder strings.Builder
	head := len(digits) % 3
	if head > 0 {
		builder.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if builder.Len() > 0 {
			builder.WriteString(",")
		}
		builder.WriteString(digits[i : i+3])
	}
	return builder.String()
}
