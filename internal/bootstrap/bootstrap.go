package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oryntel/docindex/internal/config"
	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
	"github.com/oryntel/docindex/internal/core/usecase"
	"github.com/oryntel/docindex/internal/infrastructure/embedder/ollama"
	"github.com/oryntel/docindex/internal/infrastructure/queue/nats"
	"github.com/oryntel/docindex/internal/infrastructure/repository/postgres"
	"github.com/oryntel/docindex/internal/infrastructure/resilience"
	"github.com/oryntel/docindex/internal/observability/logging"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Backend domain.BackendFamily

	Index        ports.DocumentIndex
	Coordinator  *usecase.IndexCoordinator
	Orchestrator ports.RetrievalService
	Queue        ports.IndexJobQueue
	Settings     ports.SettingsRepository
	Resilience   *resilience.Executor

	closeFn func()
}

// New wires the process. Schema management runs before anything can serve
// traffic: configuration drift against the persisted settings or the live
// engine schema aborts startup instead of degrading at query time.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(logger)

	backend, err := domain.ParseBackendFamily(cfg.BackendFamily)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	settingsRepo := postgres.NewSettingsRepository(db)
	if err := settingsRepo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure settings schema: %w", err)
	}

	desired := domain.SearchSettings{
		IndexName:      cfg.IndexName,
		Dimensions:     cfg.EmbeddingDimensions,
		MultiTenant:    cfg.MultiTenant,
		KnowledgeGraph: cfg.KnowledgeGraph,
		Backend:        backend,
		UpdatedAt:      time.Now().UTC(),
	}
	persisted, err := settingsRepo.Get(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load search settings: %w", err)
	}
	if err := postgres.ValidateAgainst(persisted, desired); err != nil {
		_ = db.Close()
		return nil, err
	}

	index := newDocumentIndex(cfg, backend)
	coordinator := usecase.NewIndexCoordinator(index, usecase.CoordinatorConfig{
		MultiTenant:    cfg.MultiTenant,
		Dimensions:     cfg.EmbeddingDimensions,
		KnowledgeGraph: cfg.KnowledgeGraph,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})
	if err := coordinator.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure index schema: %w", err)
	}
	if err := settingsRepo.Save(ctx, desired); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persist search settings: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init index job queue: %w", err)
	}

	queryEmbedder := ollama.New(cfg.EmbedderURL, cfg.EmbedderModel, cfg.EmbeddingDimensions)
	orchestrator := usecase.NewRetrievalOrchestrator(coordinator, queryEmbedder, usecase.TunablesDefaults{
		KeywordAlpha:      cfg.KeywordAlpha,
		SemanticAlpha:     cfg.SemanticAlpha,
		TitleContentRatio: cfg.TitleContentRatio,
		RecencyDecay:      cfg.RecencyDecay,
		RerankDepth:       cfg.RerankDepth,
		RankWindowSize:    cfg.RankWindowSize,
	})

	logger.Info("application_wired",
		"backend", string(backend),
		"index", cfg.IndexName,
		"dimensions", cfg.EmbeddingDimensions,
		"multi_tenant", cfg.MultiTenant,
		"knowledge_graph", cfg.KnowledgeGraph,
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Backend: backend,

		Index:        index,
		Coordinator:  coordinator,
		Orchestrator: orchestrator,
		Queue:        queue,
		Settings:     settingsRepo,
		Resilience:   executor,

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
