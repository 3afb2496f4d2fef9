package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shawlshop/internal/health"
	"github.com/vladislavdragonenkov/shawlshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shawlshop/internal/storage/postgres"
	"github.com/vladislavdragonenkov/shawlshop/internal/storage/redis"
)

// runtimeDependencies: репозитории выбранного хранилища и их проверки здоровья.
type runtimeDependencies struct {
	catalogRepo     domain.CatalogRepository
	repo            domain.OrderRepository
	ledgerStore     domain.LedgerStore
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker     healthcheck.Checker
	idempotencyChecker healthcheck.Checker

	closeFn func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	var (
		deps *runtimeDependencies
		err  error
	)

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		deps = initMemoryDependencies()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		deps, err = initPostgresDependencies(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.IdempotencyDriver == IdempotencyDriverRedis {
		if err := attachRedisIdempotency(ctx, deps, cfg.RedisAddr, logger); err != nil {
			_ = deps.close()
			return nil, err
		}
	}

	return deps, nil
}

func initMemoryDependencies() *runtimeDependencies {
	store := memory.NewStore()
	return &runtimeDependencies{
		catalogRepo:     memory.NewCatalogRepository(store),
		repo:            memory.NewOrderRepository(store),
		ledgerStore:     memory.NewLedgerStore(store),
		outboxRepo:      memory.NewOutboxRepository(store),
		timelineRepo:    memory.NewTimelineRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres storage requires SHAWLSHOP_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	} else {
		pending, err := store.PendingMigrations(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("check postgres migrations: %w", err)
		}
		if len(pending) > 0 {
			logger.WithField("pending", pending).Warn("postgres schema is behind, run cmd/migrate up")
		}
	}

	logger.Info("using postgres storage")
	return &runtimeDependencies{
		catalogRepo:     postgres.NewCatalogRepository(store),
		repo:            postgres.NewOrderRepository(store),
		ledgerStore:     postgres.NewLedgerStore(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("postgres", store),
		closeFn:         store.Close,
	}, nil
}

func attachRedisIdempotency(ctx context.Context, deps *runtimeDependencies, addr string, logger *log.Entry) error {
	repo, err := redis.Open(ctx, addr)
	if err != nil {
		return fmt.Errorf("open redis idempotency store: %w", err)
	}

	deps.idempotencyRepo = repo
	deps.idempotencyChecker = healthcheck.NewPingChecker("redis", repo)

	prevClose := deps.closeFn
	deps.closeFn = func() error {
		redisErr := repo.Close()
		if prevClose != nil {
			if err := prevClose(); err != nil {
				return err
			}
		}
		return redisErr
	}

	logger.WithField("addr", addr).Info("idempotency keys are stored in redis")
	return nil
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}
