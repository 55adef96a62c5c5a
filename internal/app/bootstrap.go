package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/compliance"
	"github.com/odyssey-erp/fiscalbridge/internal/gateway"
	jobmetrics "github.com/odyssey-erp/fiscalbridge/internal/jobs"
	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
	"github.com/odyssey-erp/fiscalbridge/internal/observability"
	"github.com/odyssey-erp/fiscalbridge/internal/payload"
	"github.com/odyssey-erp/fiscalbridge/internal/platform/cache"
	"github.com/odyssey-erp/fiscalbridge/internal/platform/db"
	"github.com/odyssey-erp/fiscalbridge/internal/shared"
	"github.com/odyssey-erp/fiscalbridge/internal/source"
	"github.com/odyssey-erp/fiscalbridge/internal/stockmaster"
)

// Runtime is the wired submission pipeline of one tenant branch.
type Runtime struct {
	Config     *Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Store      ledger.Store
	Documents  compliance.Documents
	Codebook   *codes.Codebook
	CodeStore  *codes.Store
	Gateway    *gateway.Client
	Service    *compliance.Service
	Metrics    *observability.Metrics
	JobMetrics *jobmetrics.Metrics

	closers []func()
}

// Build connects the stores and assembles the pipeline. In test mode the
// ledger and source documents live in memory and Redis is not dialled.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if rt.Codebook, err = codes.Load(cfg.CodebookPath); err != nil {
		return nil, err
	}
	rt.Metrics = observability.NewMetrics()
	rt.JobMetrics = jobmetrics.NewMetrics(rt.Metrics.Registerer())

	testMode := InTestMode()
	driver := cfg.LedgerDriver
	if testMode {
		driver = LedgerMemory
	}

	if !testMode {
		rt.Pool, err = db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rt.Pool.Close)

		rt.Redis, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = rt.Redis.Close() })

		rt.CodeStore = codes.NewStore(rt.Redis, cfg.Tenant().Key())
		if err := rt.CodeStore.Overlay(ctx, rt.Codebook); err != nil {
			logger.Warn("reference code overlay unavailable, using codebook defaults", slog.Any("error", err))
		}
	}

	if rt.Store, err = rt.openLedger(ctx, driver); err != nil {
		return nil, err
	}

	var audit compliance.AuditSink = shared.LogAuditSink{Logger: logger}
	if rt.Pool != nil {
		repo := source.NewRepository(rt.Pool)
		auditLogger := shared.NewAuditLogger(rt.Pool)
		if cfg.EnsureSchemas {
			if err := repo.EnsureSchema(ctx); err != nil {
				return nil, err
			}
			if err := auditLogger.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("app: audit schema: %w", err)
			}
		}
		rt.Documents = repo
		audit = auditLogger
	} else {
		rt.Documents = source.NewMemory()
	}

	rt.Gateway, err = gateway.New(cfg.Tenant(),
		gateway.WithTimeout(cfg.GatewayTimeout),
		gateway.WithLogger(logger.With(slog.String("component", "gateway"))),
		gateway.WithObserver(rt.Metrics),
	)
	if err != nil {
		return nil, err
	}

	registry, err := payload.NewRegistry(payload.Env{
		Tenant:    cfg.Tenant(),
		Codes:     rt.Codebook,
		Originals: payload.LedgerOriginals{Store: rt.Store},
	})
	if err != nil {
		return nil, err
	}

	var locker ledger.Locker = ledger.NoopLocker{}
	if rt.Redis != nil {
		locker = ledger.NewRedisLocker(rt.Redis, cfg.LockTTL, logger)
	}
	alloc := ledger.NewAllocator(rt.Store,
		ledger.WithLocker(locker, cfg.Tenant().Key()),
		ledger.WithConflictRetries(cfg.ConflictRetries),
		ledger.WithConflictHook(rt.JobMetrics.ObserveSequenceConflict),
	)

	var levels stockmaster.Pending = stockmaster.NewMemoryPending()
	if rt.Redis != nil {
		levels = stockmaster.NewRedisPending(rt.Redis, cfg.Tenant().Key())
	}
	stock, err := stockmaster.NewPublisher(cfg.Tenant(), levels, rt.Gateway,
		logger.With(slog.String("component", "stockmaster")))
	if err != nil {
		return nil, err
	}

	rt.Service, err = compliance.NewService(compliance.Deps{
		Documents:   rt.Documents,
		Builder:     registry,
		Allocator:   alloc,
		Sender:      rt.Gateway,
		StockLevels: stock,
		Audit:       audit,
		Metrics:     rt.JobMetrics,
		Logger:      logger.With(slog.String("component", "compliance")),
	}, compliance.Config{
		MaxDuplicateAttempts: cfg.DuplicateMax,
		SweepLimit:           cfg.SweepLimit,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openLedger(ctx context.Context, driver string) (ledger.Store, error) {
	switch driver {
	case LedgerMemory:
		return ledger.NewMemoryStore(), nil
	case LedgerSQLite:
		store, err := ledger.OpenSQLite(rt.Config.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		return store, nil
	case LedgerPostgres:
		if rt.Pool == nil {
			return nil, errors.New("app: postgres ledger needs PG_DSN")
		}
		store := ledger.NewPostgresStore(rt.Pool)
		if rt.Config.EnsureSchemas {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown ledger driver %q", driver)
	}
}

// RedisOpt returns the asynq connection settings for REDIS_ADDR.
func (c *Config) RedisOpt() (asynq.RedisClientOpt, error) {
	opts, err := cache.Options(c.RedisAddr)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}

// Ready pings the backing stores.
func (rt *Runtime) Ready(ctx context.Context) error {
	if rt.Pool != nil {
		if err := rt.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases every connection in reverse order of acquisition.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
