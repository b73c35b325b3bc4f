// Package app initializes and holds the long-lived services of the
// bridge, acting as the composition root.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/api"
	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/clock/system"
	"github.com/user/crawlbridge/internal/config"
	"github.com/user/crawlbridge/internal/content"
	"github.com/user/crawlbridge/internal/embed"
	"github.com/user/crawlbridge/internal/engine"
	"github.com/user/crawlbridge/internal/hash/sha256"
	"github.com/user/crawlbridge/internal/id/uuid"
	"github.com/user/crawlbridge/internal/indexer"
	"github.com/user/crawlbridge/internal/ingress"
	qmemory "github.com/user/crawlbridge/internal/queue/memory"
	qpostgres "github.com/user/crawlbridge/internal/queue/postgres"
	"github.com/user/crawlbridge/internal/registry"
	"github.com/user/crawlbridge/internal/sinks/keyword"
	smemory "github.com/user/crawlbridge/internal/sinks/memory"
	"github.com/user/crawlbridge/internal/sinks/redisvec"
	"github.com/user/crawlbridge/internal/storage/memory"
	storepg "github.com/user/crawlbridge/internal/storage/postgres"
	"github.com/user/crawlbridge/internal/timing"
)

// App holds the wired services for one running bridge instance.
type App struct {
	Logger   *zap.Logger
	Config   config.Config
	Registry *registry.Registry
	Contents *content.Store
	Queue    bridge.Queue
	Workers  *indexer.Pool
	Webhook  *ingress.Handler
	Server   *api.Server
	Keywords *keyword.Index

	pool    *pgxpool.Pool
	closers []func()
}

// New builds all services from configuration. It fails fast when a
// configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Logger: logger, Config: cfg}

	clk := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	var (
		sessionStore bridge.SessionStore
		contentRepo  bridge.ContentRepository
		metricStore  bridge.MetricStore
	)
	switch cfg.DB.Provider {
	case "postgres":
		logger.Info("connecting to postgres")
		pool, err := storepg.Connect(ctx, storepg.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		if err := storepg.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		a.pool = pool
		sessionStore = storepg.NewSessionStore(pool)
		contentRepo = storepg.NewContentStore(pool)
		metricStore = storepg.NewMetricStore(pool)
	case "memory":
		logger.Info("using in-memory stores; state is not durable")
		sessionStore = memory.NewSessionStore()
		contentRepo = memory.NewContentStore()
		metricStore = memory.NewMetricStore()
	default:
		return nil, fmt.Errorf("unknown db provider: %s", cfg.DB.Provider)
	}

	recorder := timing.NewRecorder(metricStore, clk, logger)
	a.Registry = registry.New(sessionStore, metricStore, clk, registry.Config{
		FailureRatio: cfg.Sessions.FailureRatio,
	}, logger)
	a.Contents = content.NewStore(contentRepo, hasher, idGen, clk, recorder, logger)

	switch cfg.Queue.Provider {
	case "postgres":
		if a.pool == nil {
			return nil, fmt.Errorf("queue provider postgres requires db provider postgres")
		}
		a.Queue = qpostgres.NewQueue(a.pool, idGen, qpostgres.Config{
			PollInterval: time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
			MaxAttempts:  cfg.Indexer.MaxAttempts,
		})
	case "memory":
		q := qmemory.NewQueue(cfg.Queue.Depth, cfg.Indexer.MaxAttempts)
		a.closers = append(a.closers, q.Close)
		a.Queue = q
	default:
		return nil, fmt.Errorf("unknown queue provider: %s", cfg.Queue.Provider)
	}

	var vectors bridge.VectorSink
	switch cfg.Vector.Provider {
	case "redis":
		logger.Info("connecting to redis vector sink", zap.String("addr", cfg.Vector.Addr))
		sink, err := redisvec.NewSink(redisvec.Config{
			Addr:     cfg.Vector.Addr,
			Password: cfg.Vector.Password,
			DB:       cfg.Vector.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize vector sink: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("close vector sink", zap.Error(err))
			}
		})
		vectors = sink
	case "memory":
		vectors = smemory.NewVectorSink()
	default:
		return nil, fmt.Errorf("unknown vector provider: %s", cfg.Vector.Provider)
	}

	a.Keywords = keyword.NewIndex()
	embedder := embed.NewHashingEmbedder(cfg.Indexer.EmbeddingDim)
	a.Workers = indexer.NewPool(
		a.Queue,
		indexer.NewChunker(cfg.Indexer.ChunkTokens),
		embedder,
		vectors,
		a.Keywords,
		recorder,
		a.Registry,
		logger,
		indexer.PoolConfig{
			Workers:      cfg.Indexer.Workers,
			MaxAttempts:  cfg.Indexer.MaxAttempts,
			StageTimeout: cfg.StageTimeout(),
		},
	)

	a.Webhook = ingress.NewHandler(
		a.Registry,
		a.Contents,
		a.Queue,
		idGen,
		recorder,
		logger,
		ingress.Config{
			Secret:          []byte(cfg.Webhook.Secret),
			DispatchTimeout: cfg.DispatchTimeout(),
		},
	)

	var scraper api.Scraper
	if cfg.Engine.BaseURL != "" {
		scraper = engine.NewClient(engine.Config{
			BaseURL: cfg.Engine.BaseURL,
			APIKey:  cfg.Engine.APIKey,
			Timeout: time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
		}, logger)
	}

	a.Server = api.NewServer(
		a.Webhook,
		a.Registry,
		metricStore,
		a.Contents,
		a.Keywords,
		scraper,
		a.readiness,
		logger,
		cfg,
	)
	return a, nil
}

func (a *App) readiness(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close releases held resources in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.Webhook != nil {
		a.Webhook.Wait()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
