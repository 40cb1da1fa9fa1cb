package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/witness-retrieval/internal/catalog"
	"github.com/kirillkom/witness-retrieval/internal/config"
	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/core/ports"
	"github.com/kirillkom/witness-retrieval/internal/core/usecase"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/chunking"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/queue/nats"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/resilience"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/textfetch"
)

type App struct {
	Config  config.Config
	Catalog domain.Catalog

	Queue     ports.MessageQueue
	Chunks    *postgres.ChunkRepository
	Cache     *postgres.SearchCacheRepository
	Resolver  ports.WitnessResolver
	Searcher  ports.Searcher
	Verifier  ports.CitationVerifier
	Ingestor  ports.WorkIngestor
	Processor ports.WorkProcessor

	closeFn func()
}

// New wires the application. observer may be nil when retrieval telemetry is not collected.
func New(ctx context.Context, cfg config.Config, observer ports.RetrievalObserver) (*App, error) {
	works, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db, cfg.EmbeddingDimensions); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := postgres.NewWorkRepository(db).UpsertWorks(ctx, works); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sync catalog works: %w", err)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg))

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:            cfg.OllamaTimeout,
		ResilienceExecutor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient, cfg.EmbeddingDimensions)

	fetcher := textfetch.New(cfg.TextsAPIURL, textfetch.Options{
		RatePerSecond:      cfg.TextsRatePerSecond,
		CacheSize:          cfg.TextsCacheSize,
		CacheTTL:           cfg.TextsCacheTTL,
		Timeout:            cfg.TextsTimeout,
		ResilienceExecutor: executor,
	})

	chunkRepo := postgres.NewChunkRepository(db)
	cacheRepo := postgres.NewSearchCacheRepository(db)
	chunker := chunking.NewSplitter(cfg.ChunkTargetWords, cfg.ChunkMaxWords)

	searchUC := usecase.NewHybridSearchUseCase(embedder, chunkRepo, cacheRepo, observer, cfg.SearchCacheTTL)
	planner := usecase.NewStructuredIndexMatcher(works)
	resolveUC := usecase.NewReconcileUseCase(searchUC, planner, fetcher, observer, usecase.ReconcileConfig{
		Limit:                cfg.SearchLimit,
		MinSimilarity:        cfg.SearchMinSimilarity,
		MinSemanticWitnesses: cfg.ReconcileMinSemantic,
		Language:             domain.Language(cfg.SearchLanguage),
		HybridEnabled:        cfg.SearchHybridEnabled,
	})
	ingestUC := usecase.NewIngestWorkUseCase(works, queue)
	processUC := usecase.NewProcessWorkUseCase(works, fetcher, chunker, embedder, chunkRepo, usecase.ProcessConfig{
		BatchSize:  cfg.EmbedBatchSize,
		BatchDelay: cfg.IngestBatchDelay,
	})

	slog.Info("bootstrap_ready",
		"works", len(works.Works),
		"embedding_dimensions", cfg.EmbeddingDimensions,
		"hybrid_search", cfg.SearchHybridEnabled,
	)

	return &App{
		Config:  cfg,
		Catalog: works,

		Queue:     queue,
		Chunks:    chunkRepo,
		Cache:     cacheRepo,
		Resolver:  resolveUC,
		Searcher:  searchUC,
		Verifier:  usecase.NewCitationVerifier(observer),
		Ingestor:  ingestUC,
		Processor: processUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.Retry.MaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.Retry.InitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.Retry.MaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.Breaker.Enabled = cfg.ResilienceBreakerEnabled
	out.Breaker.OpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}
