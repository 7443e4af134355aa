package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/oryntel/docindex/internal/config"
	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
	"github.com/oryntel/docindex/internal/infrastructure/repository/postgres"
)

// EnsureSearchSchema runs schema management once: it validates the persisted
// settings against the configuration, ensures the engine schema and records
// the provisioning. Used by the one-shot schema tool; the long-running
// processes go through New, which performs the same sequence before serving.
func EnsureSearchSchema(ctx context.Context, cfg config.Config) (domain.SearchSettings, error) {
	backend, err := domain.ParseBackendFamily(cfg.BackendFamily)
	if err != nil {
		return domain.SearchSettings{}, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return domain.SearchSettings{}, fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	settingsRepo := postgres.NewSettingsRepository(db)
	if err := settingsRepo.EnsureSchema(ctx); err != nil {
		return domain.SearchSettings{}, fmt.Errorf("ensure settings schema: %w", err)
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
		return domain.SearchSettings{}, fmt.Errorf("load search settings: %w", err)
	}
	if err := postgres.ValidateAgainst(persisted, desired); err != nil {
		return domain.SearchSettings{}, err
	}

	index := newDocumentIndex(cfg, backend)
	if err := index.EnsureSchema(ctx, ports.SchemaParams{
		Dimensions:     cfg.EmbeddingDimensions,
		MultiTenant:    cfg.MultiTenant,
		KnowledgeGraph: cfg.KnowledgeGraph,
	}); err != nil {
		return domain.SearchSettings{}, fmt.Errorf("ensure index schema: %w", err)
	}

	if err := settingsRepo.Save(ctx, desired); err != nil {
		return domain.SearchSettings{}, fmt.Errorf("persist search settings: %w", err)
	}
	return desired, nil
}
