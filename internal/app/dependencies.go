package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const demoCatalogSize = 12

// Dependencies содержит хранилища приложения. Store равен nil в in-memory режиме.
type Dependencies struct {
	Store       *postgres.Store
	Carts       domain.CartRepository
	Catalog     domain.CatalogRepository
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository
	StockLedger domain.StockMovementRepository
	Logger      *log.Entry
}

// newDependencies выбирает реализацию хранилища: PostgreSQL при заданном DSN,
// иначе in-memory с демо-каталогом для локальной разработки.
func newDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	if cfg.PostgresDSN == "" {
		catalogRepo := memory.NewCatalogRepository()
		if _, err := catalog.SeedDemo(catalogRepo, demoCatalogSize, 1); err != nil {
			return nil, fmt.Errorf("seed demo catalog: %w", err)
		}
		logger.WithField("variants", demoCatalogSize).Info("in-memory storage with demo catalog")

		return &Dependencies{
			Carts:       memory.NewCartRepository(),
			Catalog:     catalogRepo,
			Outbox:      memory.NewOutboxRepository(),
			Idempotency: memory.NewIdempotencyRepository(),
			StockLedger: memory.NewStockMovementRepository(),
			Logger:      logger,
		}, nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := store.MigrateUp(ctx, 0); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("postgres storage initialized")

	return &Dependencies{
		Store:       store,
		Carts:       postgres.NewCartRepository(store),
		Catalog:     postgres.NewCatalogRepository(store),
		Outbox:      postgres.NewOutboxRepository(store),
		Idempotency: postgres.NewIdempotencyRepository(store),
		StockLedger: postgres.NewStockMovementRepository(store),
		Logger:      logger,
	}, nil
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() {
	if d == nil || d.Store == nil {
		return
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.WithError(err).Warn("failed to close postgres store")
	}
}
