package bootstrap

import (
	"time"

	"github.com/oryntel/docindex/internal/config"
	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
	"github.com/oryntel/docindex/internal/infrastructure/backend/elastic"
	"github.com/oryntel/docindex/internal/infrastructure/backend/qdrant"
	"github.com/oryntel/docindex/internal/infrastructure/backend/vespa"
)

// Engine calls get a longer deadline than caller-facing requests; bulk writes
// and schema deploys are slower than a single query round-trip.
const engineTimeoutFactor = 6

// newDocumentIndex builds the one backend adapter this deployment runs on.
// The family is validated before this is called.
func newDocumentIndex(cfg config.Config, backend domain.BackendFamily) ports.DocumentIndex {
	engineTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second * engineTimeoutFactor

	switch backend {
	case domain.BackendMultiPhase:
		return vespa.New(vespa.Config{
			BaseURL:        cfg.VespaURL,
			DeployURL:      cfg.VespaDeployURL,
			DocType:        cfg.IndexName,
			RequestTimeout: engineTimeout,
			IndexWorkers:   cfg.IndexWorkers,
			WritesPerSec:   cfg.WritesPerSec,
			RerankDepth:    cfg.RerankDepth,
		})
	case domain.BackendFusion:
		return elastic.New(elastic.Config{
			BaseURL:        cfg.ElasticURL,
			IndexName:      cfg.IndexName,
			RequestTimeout: engineTimeout,
			BulkBatchSize:  cfg.BulkBatchSize,
		})
	default:
		return qdrant.New(qdrant.Config{
			BaseURL:        cfg.QdrantURL,
			Collection:     cfg.IndexName,
			RequestTimeout: engineTimeout,
			IndexWorkers:   cfg.IndexWorkers,
			WritesPerSec:   cfg.WritesPerSec,
		})
	}
}
