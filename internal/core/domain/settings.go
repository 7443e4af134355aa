package domain

import (
	"fmt"
	"time"
)

// BackendFamily selects the active document index implementation. Exactly one
// backend is active per deployment; there is no hot-swap.
type BackendFamily string

const (
	BackendMultiPhase BackendFamily = "multi_phase"
	BackendFusion     BackendFamily = "fusion"
	BackendPipeline   BackendFamily = "pipeline"
)

func ParseBackendFamily(s string) (BackendFamily, error) {
	switch BackendFamily(s) {
	case BackendMultiPhase, BackendFusion, BackendPipeline:
		return BackendFamily(s), nil
	}
	return "", WrapError(ErrConfiguration, "parse backend family",
		fmt.Errorf("unknown backend %q (want multi_phase, fusion or pipeline)", s))
}

// SearchSettings records what the live index was provisioned with. Persisted
// so a restarted process can detect drift against its configuration before
// serving traffic.
type SearchSettings struct {
	IndexName      string        `json:"index_name"`
	Dimensions     int           `json:"dimensions"`
	MultiTenant    bool          `json:"multi_tenant"`
	KnowledgeGraph bool          `json:"knowledge_graph"`
	Backend        BackendFamily `json:"backend"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IndexJob is one queued indexing request from the ingestion pipeline.
// Attempt counts delivery retries of chunks that previously failed.
type IndexJob struct {
	JobID   string  `json:"job_id"`
	Chunks  []Chunk `json:"chunks"`
	Attempt int     `json:"attempt"`
}
