package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// cartRepositoryInMemory — in-memory реализация CartRepository.
// Все операции над позициями одной корзины сериализуются общим мьютексом.
type cartRepositoryInMemory struct {
	mu         sync.RWMutex
	carts      map[int64]domain.Cart
	bySession  map[string]int64
	nextCartID int64
	nextLineID int64
}

// NewCartRepository возвращает in-memory репозиторий корзин для локальной разработки и тестов.
func NewCartRepository() domain.CartRepository {
	return &cartRepositoryInMemory{
		carts:     make(map[int64]domain.Cart),
		bySession: make(map[string]int64),
	}
}

// Create сохраняет новую корзину. Создание идемпотентно по сессии: если у сессии
// уже есть корзина, возвращается существующая, гонка двух ленивых созданий безопасна.
func (r *cartRepositoryInMemory) Create(cart domain.Cart) (domain.Cart, error) {
	if errs := cart.ValidateInvariants(); len(errs) > 0 {
		return domain.Cart{}, errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.bySession[cart.SessionID]; ok {
		return cloneCart(r.carts[existingID]), nil
	}

	r.nextCartID++
	cart.ID = r.nextCartID

	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now

	r.carts[cart.ID] = cloneCart(cart)
	r.bySession[cart.SessionID] = cart.ID
	return cart, nil
}

// Get возвращает корзину с позициями или ErrCartNotFound, если её нет.
func (r *cartRepositoryInMemory) Get(id int64) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[id]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cloneCart(cart), nil
}

// GetBySession возвращает корзину сессии или ErrCartNotFound.
func (r *cartRepositoryInMemory) GetBySession(sessionID string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySession[sessionID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cloneCart(r.carts[id]), nil
}

// AddLine добавляет qty варианта в корзину; существующая позиция того же варианта
// сливается, дубликат не создаётся.
func (r *cartRepositoryInMemory) AddLine(cartID, variantID int64, qty int32) (domain.CartLine, error) {
	if qty < 1 {
		return domain.CartLine{}, domain.ErrLineQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return domain.CartLine{}, domain.ErrCartNotFound
	}

	now := time.Now().UTC()
	for i, line := range cart.Lines {
		if line.VariantID != variantID {
			continue
		}
		cart.Lines[i].Qty += qty
		cart.Lines[i].UpdatedAt = now
		cart.UpdatedAt = now
		r.carts[cartID] = cart
		return cart.Lines[i], nil
	}

	r.nextLineID++
	line := domain.CartLine{
		ID:        r.nextLineID,
		CartID:    cartID,
		VariantID: variantID,
		Qty:       qty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cart.Lines = append(cart.Lines, line)
	cart.UpdatedAt = now
	r.carts[cartID] = cart
	return line, nil
}

// SetLineQty выставляет позиции новое количество (>= 1).
func (r *cartRepositoryInMemory) SetLineQty(cartID, lineID int64, qty int32) (domain.CartLine, error) {
	if qty < 1 {
		return domain.CartLine{}, domain.ErrLineQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return domain.CartLine{}, domain.ErrCartNotFound
	}

	now := time.Now().UTC()
	for i, line := range cart.Lines {
		if line.ID != lineID {
			continue
		}
		cart.Lines[i].Qty = qty
		cart.Lines[i].UpdatedAt = now
		cart.UpdatedAt = now
		r.carts[cartID] = cart
		return cart.Lines[i], nil
	}

	return domain.CartLine{}, domain.ErrCartLineNotFound
}

// RemoveLine удаляет позицию и возвращает её последнее состояние.
func (r *cartRepositoryInMemory) RemoveLine(cartID, lineID int64) (domain.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return domain.CartLine{}, domain.ErrCartNotFound
	}

	for i, line := range cart.Lines {
		if line.ID != lineID {
			continue
		}
		cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
		cart.UpdatedAt = time.Now().UTC()
		r.carts[cartID] = cart
		return line, nil
	}

	return domain.CartLine{}, domain.ErrCartLineNotFound
}

// cloneCart копирует корзину вместе со слайсом позиций, чтобы вызывающий код
// не мог мутировать состояние репозитория через разделяемую память.
func cloneCart(cart domain.Cart) domain.Cart {
	clone := cart
	clone.Lines = append([]domain.CartLine(nil), cart.Lines...)
	return clone
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
