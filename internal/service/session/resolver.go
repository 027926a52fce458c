package session

import (
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartProvider выдаёт корзину по идентификатору сессии.
type CartProvider interface {
	GetOrCreate(sessionID string) (domain.Cart, error)
}

// Resolver привязывает корзину к сессионному токену клиента.
// Пустой токен означает новую сессию: генерируется новый идентификатор.
type Resolver struct {
	carts CartProvider
}

// NewResolver конструирует Resolver.
func NewResolver(carts CartProvider) *Resolver {
	return &Resolver{carts: carts}
}

// Resolve возвращает корзину для токена и сам токен (возможно, только что
// сгенерированный). Токен непрозрачен для клиента и сравнивается как есть.
func (r *Resolver) Resolve(token string) (domain.Cart, string, error) {
	if token == "" {
		token = uuid.NewString()
	}

	cart, err := r.carts.GetOrCreate(token)
	if err != nil {
		return domain.Cart{}, "", err
	}
	return cart, token, nil
}
