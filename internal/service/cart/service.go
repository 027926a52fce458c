package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// Типы событий, попадающих в transactional outbox после успешных мутаций.
const (
	eventTypeCartCreated   = "cart.created"
	eventTypeLineAdded     = "cart.line_added"
	eventTypeLineUpdated   = "cart.line_updated"
	eventTypeLineRemoved   = "cart.line_removed"
	eventTypeStockReserved = "stock.reserved"
	eventTypeStockReleased = "stock.released"

	aggregateTypeCart  = "cart"
	aggregateTypeStock = "stock"
)

// Defaults задаёт валюту и канал продаж, с которыми лениво создаются корзины.
type Defaults struct {
	Currency string
	Channel  string
}

// Service — движок мутаций корзины. Каждая мутация выполняется как единое целое:
// сначала складской резерв, затем запись позиции; при ошибке записи резерв
// компенсируется, чтобы остаток и сумма позиций по варианту не разошлись.
type Service struct {
	carts    domain.CartRepository
	catalog  domain.CatalogRepository
	outbox   domain.OutboxRepository
	ledger   domain.StockMovementRepository
	metrics  *metrics.CartMetrics
	defaults Defaults
	logger   *log.Entry

	// Взаимное исключение на корзину: конкурирующие мутации одной корзины
	// сериализуются, разные корзины друг друга не ждут. Запись удаляется,
	// когда последний держатель отпускает мьютекс, иначе карта растёт
	// на каждую когда-либо тронутую корзину.
	locksMu sync.Mutex
	locks   map[int64]*cartLock
}

// cartLock — мьютекс корзины со счётчиком держателей и ожидающих.
type cartLock struct {
	mu   sync.Mutex
	refs int
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox включает публикацию событий корзины через transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithStockLedger включает журналирование движений остатков для аудита склада.
func WithStockLedger(ledger domain.StockMovementRepository) Option {
	return func(s *Service) {
		s.ledger = ledger
	}
}

// WithMetrics включает счётчики доменных событий: создание корзин
// и постановку событий в outbox.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService конструирует движок корзины с зависимостями.
func NewService(carts domain.CartRepository, catalog domain.CatalogRepository, defaults Defaults, logger *log.Entry, options ...Option) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart-service")
	}

	s := &Service{
		carts:    carts,
		catalog:  catalog,
		defaults: defaults,
		logger:   logger,
		locks:    make(map[int64]*cartLock),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// View — снапшот корзины с рассчитанными стоимостями.
type View struct {
	Cart       domain.Cart
	Lines      []pricing.PricedLine
	TotalMinor int64
}

// LineChange описывает результат мутации одной позиции.
type LineChange struct {
	Line           domain.CartLine
	VariantID      int64
	NewStock       int32
	LineTotalMinor int64
	CartTotalMinor int64
}

// GetOrCreate возвращает корзину сессии, лениво создавая её с валютой и каналом
// по умолчанию. Единственное место, где корзина создаётся неявно.
func (s *Service) GetOrCreate(sessionID string) (domain.Cart, error) {
	if sessionID == "" {
		return domain.Cart{}, domain.ErrSessionRequired
	}

	cart, err := s.carts.GetBySession(sessionID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, domain.ErrCartNotFound) {
		return domain.Cart{}, fmt.Errorf("load cart by session: %w", err)
	}

	if s.defaults.Currency == "" || s.defaults.Channel == "" {
		return domain.Cart{}, domain.ErrDefaultsNotConfigured
	}

	created, err := s.carts.Create(domain.Cart{
		SessionID: sessionID,
		Currency:  s.defaults.Currency,
		Channel:   s.defaults.Channel,
	})
	if err != nil {
		return domain.Cart{}, fmt.Errorf("create cart: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordCartCreated()
	}
	s.enqueueEvent(eventTypeCartCreated, aggregateTypeCart, created.ID, cartCreatedPayload{
		CartID:    created.ID,
		SessionID: created.SessionID,
		Currency:  created.Currency,
		Channel:   created.Channel,
	})

	return created, nil
}

// View возвращает корзину с позициями, ценами и итогом.
// Итог — чистая функция текущих позиций, пересчитывается на каждое чтение.
func (s *Service) View(cartID int64) (View, error) {
	cart, err := s.carts.Get(cartID)
	if err != nil {
		return View{}, err
	}

	lines := make([]pricing.PricedLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		variant, err := s.catalog.GetVariant(line.VariantID)
		if err != nil {
			return View{}, fmt.Errorf("load variant %d for line %d: %w", line.VariantID, line.ID, err)
		}
		lines = append(lines, pricing.PricedLine{Line: line, Variant: variant})
	}

	return View{
		Cart:       cart,
		Lines:      lines,
		TotalMinor: pricing.CartTotal(lines),
	}, nil
}

// AddLine резервирует qty на складе и добавляет позицию в корзину (или сливает
// с существующей позицией того же варианта).
func (s *Service) AddLine(cartID, variantID int64, qty int32) (LineChange, error) {
	if qty < 1 {
		return LineChange{}, domain.ErrQtyInvalid
	}

	unlock := s.lockCart(cartID)
	defer unlock()

	if _, err := s.catalog.GetVariant(variantID); err != nil {
		return LineChange{}, err
	}

	newStock, err := s.catalog.Reserve(variantID, qty)
	if err != nil {
		return LineChange{}, err
	}

	line, err := s.carts.AddLine(cartID, variantID, qty)
	if err != nil {
		// Откатываем резерв: позиция не записана, остаток должен вернуться.
		s.compensateRelease(cartID, variantID, qty)
		return LineChange{}, fmt.Errorf("add cart line: %w", err)
	}

	s.recordMovement(domain.StockMovementReserve, cartID, variantID, qty, newStock)
	s.enqueueEvent(eventTypeLineAdded, aggregateTypeCart, cartID, lineEventPayload{
		CartID:    cartID,
		LineID:    line.ID,
		VariantID: variantID,
		Qty:       line.Qty,
		NewStock:  newStock,
	})

	return s.lineChange(cartID, line, newStock)
}

// SetLineQty выставляет позиции новое количество. Рост количества резервирует
// разницу (и отклоняется при нехватке остатка, не трогая позицию), уменьшение
// безусловно возвращает разницу на склад.
func (s *Service) SetLineQty(cartID, lineID int64, newQty int32) (LineChange, error) {
	if newQty < 1 {
		return LineChange{}, domain.ErrQtyInvalid
	}

	unlock := s.lockCart(cartID)
	defer unlock()

	cart, err := s.carts.Get(cartID)
	if err != nil {
		return LineChange{}, err
	}
	line, ok := cart.FindLine(lineID)
	if !ok {
		return LineChange{}, domain.ErrCartLineNotFound
	}

	variant, err := s.catalog.GetVariant(line.VariantID)
	if err != nil {
		return LineChange{}, err
	}

	diff := newQty - line.Qty
	newStock := variant.Stock

	switch {
	case diff > 0:
		newStock, err = s.catalog.Reserve(line.VariantID, diff)
		if err != nil {
			return LineChange{}, err
		}
	case diff < 0:
		newStock, err = s.catalog.Release(line.VariantID, -diff)
		if err != nil {
			return LineChange{}, fmt.Errorf("release stock: %w", err)
		}
	}

	updated, err := s.carts.SetLineQty(cartID, lineID, newQty)
	if err != nil {
		// Возвращаем склад в исходное состояние: запись позиции не применилась.
		if diff > 0 {
			s.compensateRelease(cartID, line.VariantID, diff)
		} else if diff < 0 {
			s.compensateReserve(cartID, line.VariantID, -diff)
		}
		return LineChange{}, fmt.Errorf("set cart line qty: %w", err)
	}

	if diff > 0 {
		s.recordMovement(domain.StockMovementReserve, cartID, line.VariantID, diff, newStock)
	} else if diff < 0 {
		s.recordMovement(domain.StockMovementRelease, cartID, line.VariantID, -diff, newStock)
	}
	s.enqueueEvent(eventTypeLineUpdated, aggregateTypeCart, cartID, lineEventPayload{
		CartID:    cartID,
		LineID:    updated.ID,
		VariantID: updated.VariantID,
		Qty:       updated.Qty,
		NewStock:  newStock,
	})

	return s.lineChange(cartID, updated, newStock)
}

// RemoveLine возвращает полное количество позиции на склад и удаляет её из корзины.
func (s *Service) RemoveLine(cartID, lineID int64) (LineChange, error) {
	unlock := s.lockCart(cartID)
	defer unlock()

	cart, err := s.carts.Get(cartID)
	if err != nil {
		return LineChange{}, err
	}
	line, ok := cart.FindLine(lineID)
	if !ok {
		return LineChange{}, domain.ErrCartLineNotFound
	}

	newStock, err := s.catalog.Release(line.VariantID, line.Qty)
	if err != nil {
		return LineChange{}, fmt.Errorf("release stock: %w", err)
	}

	removed, err := s.carts.RemoveLine(cartID, lineID)
	if err != nil {
		s.compensateReserve(cartID, line.VariantID, line.Qty)
		return LineChange{}, fmt.Errorf("remove cart line: %w", err)
	}

	s.recordMovement(domain.StockMovementRelease, cartID, line.VariantID, line.Qty, newStock)
	s.enqueueEvent(eventTypeLineRemoved, aggregateTypeCart, cartID, lineEventPayload{
		CartID:    cartID,
		LineID:    removed.ID,
		VariantID: removed.VariantID,
		Qty:       removed.Qty,
		NewStock:  newStock,
	})

	return s.lineChange(cartID, removed, newStock)
}

func (s *Service) lineChange(cartID int64, line domain.CartLine, newStock int32) (LineChange, error) {
	view, err := s.View(cartID)
	if err != nil {
		return LineChange{}, fmt.Errorf("recompute totals: %w", err)
	}

	change := LineChange{
		Line:           line,
		VariantID:      line.VariantID,
		NewStock:       newStock,
		CartTotalMinor: view.TotalMinor,
	}
	for _, priced := range view.Lines {
		if priced.Line.ID == line.ID {
			change.LineTotalMinor = priced.TotalMinor()
			break
		}
	}
	return change, nil
}

// lockCart выдаёт мьютекс корзины, создавая его при первом обращении.
// Возвращаемая функция отпускает мьютекс и убирает запись из карты,
// если других держателей и ожидающих не осталось.
func (s *Service) lockCart(cartID int64) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[cartID]
	if !ok {
		lock = &cartLock{}
		s.locks[cartID] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		s.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, cartID)
		}
		s.locksMu.Unlock()
	}
}

// compensateRelease возвращает резерв на склад после неудачной записи позиции.
func (s *Service) compensateRelease(cartID, variantID int64, qty int32) {
	newStock, err := s.catalog.Release(variantID, qty)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"variant_id": variantID,
			"qty":        qty,
		}).Error("failed to release stock during compensation")
		return
	}
	s.recordMovement(domain.StockMovementRelease, cartID, variantID, qty, newStock)
}

// compensateReserve забирает обратно возвращённый остаток после неудачного удаления позиции.
func (s *Service) compensateReserve(cartID, variantID int64, qty int32) {
	newStock, err := s.catalog.Reserve(variantID, qty)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"variant_id": variantID,
			"qty":        qty,
		}).Error("failed to re-reserve stock during compensation")
		return
	}
	s.recordMovement(domain.StockMovementReserve, cartID, variantID, qty, newStock)
}

// recordMovement пишет движение остатка в журнал аудита и публикует
// соответствующее складское событие; сбой журнала не отменяет уже
// применённую мутацию.
func (s *Service) recordMovement(kind domain.StockMovementKind, cartID, variantID int64, qty, stockAfter int32) {
	if s.ledger == nil {
		return
	}

	if err := s.ledger.Append(domain.StockMovement{
		VariantID:  variantID,
		CartID:     cartID,
		Kind:       kind,
		Qty:        qty,
		StockAfter: stockAfter,
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"variant_id": variantID,
			"cart_id":    cartID,
			"kind":       string(kind),
		}).Warn("failed to record stock movement")
		return
	}

	eventType := eventTypeStockReserved
	if kind == domain.StockMovementRelease {
		eventType = eventTypeStockReleased
	}
	s.enqueueEvent(eventType, aggregateTypeStock, variantID, stockMovementPayload{
		VariantID: variantID,
		CartID:    cartID,
		Qty:       qty,
		NewStock:  stockAfter,
	})
}

type cartCreatedPayload struct {
	CartID    int64  `json:"cart_id"`
	SessionID string `json:"session_id"`
	Currency  string `json:"currency"`
	Channel   string `json:"channel"`
}

type lineEventPayload struct {
	CartID    int64 `json:"cart_id"`
	LineID    int64 `json:"line_id"`
	VariantID int64 `json:"variant_id"`
	Qty       int32 `json:"qty"`
	NewStock  int32 `json:"new_stock"`
}

type stockMovementPayload struct {
	VariantID int64 `json:"variant_id"`
	CartID    int64 `json:"cart_id"`
	Qty       int32 `json:"qty"`
	NewStock  int32 `json:"new_stock"`
}

// enqueueEvent записывает событие в outbox; публикация best-effort и не
// влияет на результат уже применённой мутации.
func (s *Service) enqueueEvent(eventType, aggregateType string, aggregateID int64, payload any) {
	if s.outbox == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("failed to encode cart event")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   fmt.Sprintf("%d", aggregateID),
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"aggregate_id": aggregateID,
			"event":        eventType,
		}).Warn("failed to enqueue cart event")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}
