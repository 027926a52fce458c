package domain

import "time"

// OutboxMessage — событие корзины, записанное в outbox вместе с мутацией.
// Payload содержит сериализованный CartEvent.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats — снимок бэклога outbox для health-чеков и метрик.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher доставляет outbox-событие в брокер.
type OutboxPublisher interface {
	// Publish обязан быть безопасным к повторной доставке того же события.
	Publish(event OutboxMessage) error
}

// OutboxRepository хранит события корзины до их публикации воркером.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит результат обработки мутаций корзины
// по заголовку Idempotency-Key для replay повторов.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}
