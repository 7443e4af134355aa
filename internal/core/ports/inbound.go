package ports

import (
	"context"

	"github.com/oryntel/docindex/internal/core/domain"
)

// RetrievalService is the inbound contract callers use; the orchestrator is
// its only implementation.
type RetrievalService interface {
	Retrieve(ctx context.Context, queryText string, criteria domain.FilterCriteria,
		override *domain.RankingTunables, limit, offset int) ([]domain.RankedResult, error)
	RetrieveByID(ctx context.Context, documentID string, criteria domain.FilterCriteria) ([]domain.Chunk, error)
}

// IndexService is the inbound contract for the ingestion boundary.
type IndexService interface {
	IndexBatch(ctx context.Context, chunks []domain.Chunk) (domain.IndexReport, error)
	EnsureSchema(ctx context.Context) error
}
