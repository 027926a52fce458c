package domain

import "time"

// IdempotencyStatus — этап обработки запроса с ключом идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: запрос принят, результата ещё нет.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: мутация применена, ответ закэширован.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: мутация отклонена, кэшируется ответ с ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid сообщает, входит ли статус в известный набор.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	}
	return false
}

// IdempotencyRecord связывает ключ с хэшем тела запроса и закэшированным
// HTTP-ответом. Повтор с тем же ключом и хэшем получает сохранённый ответ,
// повтор с другим хэшем отклоняется.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
