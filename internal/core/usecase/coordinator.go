package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
)

// CoordinatorConfig is fixed at process start; the coordinator never changes
// backends or tenancy mode at runtime.
type CoordinatorConfig struct {
	MultiTenant    bool
	Dimensions     int
	KnowledgeGraph bool
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 10 * time.Second

// IndexCoordinator holds the single active backend adapter and guards every
// call with tenant scoping and a request deadline. It is safe for concurrent
// use; all fields are read-only after construction.
type IndexCoordinator struct {
	index ports.DocumentIndex
	cfg   CoordinatorConfig
}

func NewIndexCoordinator(index ports.DocumentIndex, cfg CoordinatorConfig) *IndexCoordinator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &IndexCoordinator{index: index, cfg: cfg}
}

func (c *IndexCoordinator) EnsureSchema(ctx context.Context) error {
	return c.index.EnsureSchema(ctx, ports.SchemaParams{
		Dimensions:     c.cfg.Dimensions,
		MultiTenant:    c.cfg.MultiTenant,
		KnowledgeGraph: c.cfg.KnowledgeGraph,
	})
}

func (c *IndexCoordinator) IndexBatch(ctx context.Context, chunks []domain.Chunk) (domain.IndexReport, error) {
	if len(chunks) == 0 {
		return domain.IndexReport{}, nil
	}
	return c.index.IndexBatch(ctx, chunks)
}

// HybridRetrieve delegates to the active adapter after enforcing tenant scope.
// Even a caller that forgot to scope its filters is rejected rather than
// forwarded as an unscoped query.
func (c *IndexCoordinator) HybridRetrieve(ctx context.Context, query ports.HybridQuery) ([]domain.RankedResult, error) {
	if err := c.checkTenantScope(query.Filters); err != nil {
		return nil, err
	}
	if err := query.Tunables.Validate(); err != nil {
		return nil, err
	}
	if query.Limit <= 0 {
		return nil, domain.WrapError(domain.ErrValidation, "hybrid retrieve",
			fmt.Errorf("limit must be positive, got %d", query.Limit))
	}
	if query.Offset < 0 {
		return nil, domain.WrapError(domain.ErrValidation, "hybrid retrieve",
			fmt.Errorf("negative offset %d", query.Offset))
	}
	if len(query.Embedding) != c.cfg.Dimensions {
		return nil, domain.WrapError(domain.ErrValidation, "hybrid retrieve",
			fmt.Errorf("query embedding dimension %d, index expects %d", len(query.Embedding), c.cfg.Dimensions))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	results, err := c.index.HybridRetrieve(ctx, query)
	if err != nil {
		return nil, mapDeadline(err, "hybrid retrieve")
	}
	return results, nil
}

func (c *IndexCoordinator) RetrieveByID(ctx context.Context, documentID string, filters domain.IndexFilters) ([]domain.Chunk, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "retrieve by id", fmt.Errorf("empty document id"))
	}
	if err := c.checkTenantScope(filters); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	chunks, err := c.index.RetrieveByID(ctx, documentID, filters)
	if err != nil {
		return nil, mapDeadline(err, "retrieve by id")
	}
	return chunks, nil
}

func (c *IndexCoordinator) checkTenantScope(filters domain.IndexFilters) error {
	if !c.cfg.MultiTenant {
		return nil
	}
	if strings.TrimSpace(filters.TenantID) == "" {
		return domain.WrapError(domain.ErrValidation, "tenant scope",
			fmt.Errorf("multi-tenant deployment requires a tenant-scoped query"))
	}
	return nil
}

func mapDeadline(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTimeout, op, err)
	}
	return err
}
