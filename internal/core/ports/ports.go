package ports

import (
	"context"

	"github.com/oryntel/docindex/internal/core/domain"
)

// SchemaParams fixes the deployment-level shape of the index. Dimensions is
// the embedding length shared by every chunk; KnowledgeGraph controls whether
// kg annotations are stored and filterable.
type SchemaParams struct {
	Dimensions     int
	MultiTenant    bool
	KnowledgeGraph bool
}

// HybridQuery is one retrieval request after filter construction and tunable
// selection. Embedding is the query vector, compared against both content and
// title embeddings of candidate chunks.
type HybridQuery struct {
	Query     string
	Embedding []float32
	Filters   domain.IndexFilters
	Tunables  domain.RankingTunables
	Limit     int
	Offset    int
}

// DocumentIndex is the single capability surface over the active backend
// engine. Exactly one implementation is selected at startup.
type DocumentIndex interface {
	// EnsureSchema idempotently creates or validates the engine schema.
	// An incompatible existing schema is ErrSchema and fatal.
	EnsureSchema(ctx context.Context, params SchemaParams) error

	// IndexBatch persists chunks and reports per-chunk outcomes. Every
	// chunk is attempted; one failure never aborts its siblings.
	IndexBatch(ctx context.Context, chunks []domain.Chunk) (domain.IndexReport, error)

	// HybridRetrieve runs the hybrid search, returning at most Limit
	// results in descending score order with deterministic tie-breaks.
	HybridRetrieve(ctx context.Context, query HybridQuery) ([]domain.RankedResult, error)

	// RetrieveByID fetches all chunks of one document, bypassing ranking.
	RetrieveByID(ctx context.Context, documentID string, filters domain.IndexFilters) ([]domain.Chunk, error)
}

// Embedder turns query text into the deployment's embedding space. The model
// itself is an external collaborator.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SettingsRepository persists the search settings the index was provisioned
// with, so startup can detect drift between config and the live schema.
type SettingsRepository interface {
	EnsureSchema(ctx context.Context) error
	Get(ctx context.Context) (*domain.SearchSettings, error)
	Save(ctx context.Context, settings domain.SearchSettings) error
}

// IndexJobQueue carries chunk batches from the ingestion pipeline to the
// indexing worker.
type IndexJobQueue interface {
	PublishIndexJob(ctx context.Context, job domain.IndexJob) error
	SubscribeIndexJobs(ctx context.Context, handler func(context.Context, domain.IndexJob) error) error
}
