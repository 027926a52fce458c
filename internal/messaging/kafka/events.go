package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Cart события
	EventTypeCartCreated EventType = "cart.created"
	EventTypeLineAdded   EventType = "cart.line_added"
	EventTypeLineUpdated EventType = "cart.line_updated"
	EventTypeLineRemoved EventType = "cart.line_removed"

	// Catalog события
	EventTypeStockReserved EventType = "stock.reserved"
	EventTypeStockReleased EventType = "stock.released"
)

// Topics для Kafka
const (
	TopicCartEvents      = "cart.events"
	TopicDeadLetterQueue = "cart.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// CartEvent представляет событие корзины
type CartEvent struct {
	EventType EventType              `json:"event_type"`
	CartID    int64                  `json:"cart_id"`
	LineID    int64                  `json:"line_id,omitempty"`
	VariantID int64                  `json:"variant_id,omitempty"`
	Qty       int32                  `json:"qty,omitempty"`
	NewStock  int32                  `json:"new_stock,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewCartEvent создает новое событие корзины
func NewCartEvent(eventType EventType, cartID int64, metadata map[string]interface{}) *CartEvent {
	return &CartEvent{
		EventType: eventType,
		CartID:    cartID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
