package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
)

// TunablesDefaults carries the deployment's per-intent ranking defaults.
type TunablesDefaults struct {
	KeywordAlpha      float64
	SemanticAlpha     float64
	TitleContentRatio float64
	RecencyDecay      float64
	RerankDepth       int
	RankWindowSize    int
}

// ForIntent builds the default tunables for one classified query.
func (d TunablesDefaults) ForIntent(intent domain.QueryIntent) domain.RankingTunables {
	t := domain.DefaultTunables(intent)
	if d.TitleContentRatio > 0 {
		t.TitleContentRatio = d.TitleContentRatio
	}
	if d.RecencyDecay > 0 {
		t.RecencyDecayFactor = d.RecencyDecay
	}
	if d.RerankDepth > 0 {
		t.RerankDepth = d.RerankDepth
	}
	if d.RankWindowSize > 0 {
		t.RankWindowSize = d.RankWindowSize
	}
	switch intent {
	case domain.IntentKeyword:
		if d.KeywordAlpha > 0 {
			t.Alpha = d.KeywordAlpha
		}
	default:
		if d.SemanticAlpha > 0 {
			t.Alpha = d.SemanticAlpha
		}
	}
	return t
}

// RetrievalOrchestrator is the only component callers interact with. It
// classifies query intent, selects tunables and delegates to the coordinator;
// it adds no error handling beyond pass-through.
type RetrievalOrchestrator struct {
	coordinator *IndexCoordinator
	embedder    ports.Embedder
	defaults    TunablesDefaults
}

func NewRetrievalOrchestrator(
	coordinator *IndexCoordinator,
	embedder ports.Embedder,
	defaults TunablesDefaults,
) *RetrievalOrchestrator {
	return &RetrievalOrchestrator{
		coordinator: coordinator,
		embedder:    embedder,
		defaults:    defaults,
	}
}

func (o *RetrievalOrchestrator) Retrieve(
	ctx context.Context,
	queryText string,
	criteria domain.FilterCriteria,
	override *domain.RankingTunables,
	limit, offset int,
) ([]domain.RankedResult, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "retrieve", fmt.Errorf("empty query"))
	}

	filters, err := domain.BuildFilters(criteria)
	if err != nil {
		return nil, err
	}

	tunables := o.defaults.ForIntent(ClassifyIntent(queryText))
	if override != nil {
		tunables = *override
	}

	embedding, err := o.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return o.coordinator.HybridRetrieve(ctx, ports.HybridQuery{
		Query:     queryText,
		Embedding: embedding,
		Filters:   filters,
		Tunables:  tunables,
		Limit:     limit,
		Offset:    offset,
	})
}

func (o *RetrievalOrchestrator) RetrieveByID(
	ctx context.Context,
	documentID string,
	criteria domain.FilterCriteria,
) ([]domain.Chunk, error) {
	filters, err := domain.BuildFilters(criteria)
	if err != nil {
		return nil, err
	}
	return o.coordinator.RetrieveByID(ctx, documentID, filters)
}
