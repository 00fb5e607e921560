package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/settlement/internal/health"
	"github.com/vladislavdragonenkov/settlement/internal/storage/memory"
	"github.com/vladislavdragonenkov/settlement/internal/storage/postgres"
	"github.com/vladislavdragonenkov/settlement/internal/storage/redisx"
)

// runtimeDependencies содержит хранилища, выбранные конфигурацией, и их проверки готовности.
type runtimeDependencies struct {
	products domain.ProductStore
	orders   domain.OrderRepository
	numbers  domain.OrderNumberGenerator
	// tx задан только для postgres: склад и заказы там фиксируются одной транзакцией.
	tx       domain.Transactor
	checkers map[string]healthcheck.Checker
	closers  []func() error
}

// initRuntimeDependencies открывает хранилище и генератор номеров.
// При ошибке уже открытые соединения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (_ *runtimeDependencies, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			_ = deps.close()
		}
	}()

	var store *postgres.Store
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		deps.products = memory.NewProductRepository()
		deps.orders = memory.NewOrderRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		store, err = postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err = store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("migrate postgres schema: %w", err)
			}
		}
		deps.products = postgres.NewProductRepository(store)
		deps.orders = postgres.NewOrderRepository(store)
		deps.tx = store
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store, true)
		logger.Info("using postgres storage")
	}

	switch cfg.OrderNumberBackend {
	case NumberBackendMemory:
		deps.numbers = memory.NewSequenceGenerator(0)
	case NumberBackendPostgres:
		deps.numbers = postgres.NewSequenceGenerator(store)
	case NumberBackendRedis:
		var rdb *redis.Client
		rdb, err = redisx.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		deps.closers = append(deps.closers, rdb.Close)
		deps.numbers = redisx.NewSequenceGenerator(rdb, "")
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", redisx.Pinger{Client: rdb}, true)
	}
	logger.WithField("backend", cfg.OrderNumberBackend).Info("order number generator initialized")

	return deps, nil
}

// close закрывает соединения в обратном порядке открытия.
func (d *runtimeDependencies) close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
