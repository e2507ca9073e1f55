package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/aging"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// Dependencies are the infrastructure handles the services run on. A nil Pool
// selects the in-memory stores; a nil Redis selects in-process locks and disables
// the aging cache.
type Dependencies struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Services bundles the wired domain services.
type Services struct {
	Ledger     *accounting.Service
	Subledger  *subledger.Service
	Aging      *aging.Engine
	AgingCache *cache.Versioned
	Mappings   mappings.Resolver
}

// NewServices wires the ledger, subsidiary ledgers and aging engine.
func NewServices(cfg *Config, deps Dependencies) (*Services, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currencies, err := cfg.Currencies()
	if err != nil {
		return nil, err
	}

	var (
		ledgerRepo  accounting.RepositoryPort
		docRepo     subledger.Repository
		auditor     shared.AuditRecorder
		idempotency shared.IdempotencyGuard
		resolver    mappings.Resolver
	)
	static := mappings.NewStatic(cfg.AccountMappings())
	if deps.Pool != nil {
		ledgerRepo = accounting.NewRepository(deps.Pool)
		docRepo = subledger.NewPostgresRepository(deps.Pool)
		auditor = shared.NewAuditLogger(deps.Pool)
		idempotency = shared.NewIdempotencyStore(deps.Pool)
		resolver = mappings.Chain{mappings.NewRepository(deps.Pool), static}
	} else {
		ledgerRepo = accounting.NewMemoryStore()
		docRepo = subledger.NewMemoryRepository()
		auditor = shared.NewSlogAuditor(logger)
		idempotency = shared.NewMemoryIdempotency()
		resolver = static
	}

	var (
		locker     lock.Locker
		agingCache *cache.Versioned
	)
	if deps.Redis != nil {
		locker = lock.NewRedis(deps.Redis, cfg.DocumentLockTTL, cfg.DocumentLockWait)
		agingCache = cache.NewVersioned(deps.Redis, shared.AgingCacheNamespace, cfg.AgingCacheTTL)
	} else {
		locker = lock.NewLocal(cfg.DocumentLockWait)
	}

	ledger := accounting.NewService(ledgerRepo, accounting.Options{
		Audit:      auditor,
		Metrics:    deps.Metrics,
		Logger:     logger,
		Currencies: currencies,
		MaxRetries: cfg.LedgerPostingMaxRetries,
	})

	subOpts := subledger.Options{
		Locker:      locker,
		Idempotency: idempotency,
		Audit:       auditor,
		Metrics:     deps.Metrics,
		Logger:      logger,
		Currencies:  currencies,
	}
	if agingCache != nil {
		subOpts.Cache = agingCache
	}
	docs := subledger.NewService(docRepo, ledger, resolver, subOpts)

	return &Services{
		Ledger:     ledger,
		Subledger:  docs,
		Aging:      aging.NewEngine(docs, agingCache, logger),
		AgingCache: agingCache,
		Mappings:   resolver,
	}, nil
}
