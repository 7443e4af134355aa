package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
	"github.com/oryntel/docindex/internal/core/usecase"
	"github.com/oryntel/docindex/internal/observability/metrics"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	backpressureWait   = 2 * time.Second
)

// RouterConfig is the HTTP-facing slice of the deployment configuration.
type RouterConfig struct {
	ServiceName    string
	BackendFamily  string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
}

type Router struct {
	retrieval ports.RetrievalService
	queue     ports.IndexJobQueue
	metrics   *metrics.HTTPServerMetrics
	cfg       RouterConfig
}

func NewRouter(
	retrieval ports.RetrievalService,
	queue ports.IndexJobQueue,
	serverMetrics *metrics.HTTPServerMetrics,
	cfg RouterConfig,
) *Router {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "api"
	}
	return &Router{
		retrieval: retrieval,
		queue:     queue,
		metrics:   serverMetrics,
		cfg:       cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.HandleFunc("/v1/search", rt.search)
	mux.HandleFunc("/v1/documents/", rt.documentChunks)
	mux.HandleFunc("/v1/index", rt.enqueueIndexJob)

	var handler http.Handler = rt.metrics.Middleware(rt.cfg.ServiceName, mux)
	if rt.cfg.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	}
	if rt.cfg.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, backpressureWait)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type filterPayload struct {
	ACLPrincipals   []string                `json:"acl_principals"`
	SourceTypes     []string                `json:"source_types"`
	UpdatedAfter    *time.Time              `json:"updated_after"`
	IncludeHidden   bool                    `json:"include_hidden"`
	DocumentSets    []string                `json:"document_sets"`
	KGEntities      []string                `json:"kg_entities"`
	KGRelationships []domain.KGRelationship `json:"kg_relationships"`
	KGTerms         []string                `json:"kg_terms"`
}

func (p *filterPayload) criteria(tenantID string) domain.FilterCriteria {
	criteria := domain.FilterCriteria{TenantID: tenantID}
	if p == nil {
		return criteria
	}
	criteria.ACLPrincipals = p.ACLPrincipals
	criteria.SourceTypes = p.SourceTypes
	criteria.UpdatedAtCutoff = p.UpdatedAfter
	criteria.IncludeHidden = p.IncludeHidden
	criteria.DocumentSets = p.DocumentSets
	criteria.KGEntities = p.KGEntities
	criteria.KGRelationships = p.KGRelationships
	criteria.KGTerms = p.KGTerms
	return criteria
}

type searchRequest struct {
	Query    string                  `json:"query"`
	TenantID string                  `json:"tenant_id"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
	Filters  *filterPayload          `json:"filters"`
	Tunables *domain.RankingTunables `json:"tunables"`
}

type searchResponse struct {
	Results []domain.RankedResult `json:"results"`
	Count   int                   `json:"count"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	if req.Limit > maxSearchLimit {
		req.Limit = maxSearchLimit
	}

	start := time.Now()
	results, err := rt.retrieval.Retrieve(r.Context(), req.Query,
		req.Filters.criteria(req.TenantID), req.Tunables, req.Limit, req.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	intent := usecase.ClassifyIntent(req.Query)
	rt.metrics.RecordRetrieval(rt.cfg.ServiceName, rt.cfg.BackendFamily, string(intent),
		len(results), time.Since(start))

	if results == nil {
		results = []domain.RankedResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

type documentChunksResponse struct {
	DocumentID string         `json:"document_id"`
	Chunks     []domain.Chunk `json:"chunks"`
	Count      int            `json:"count"`
}

func (rt *Router) documentChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	documentID, found := strings.CutSuffix(rest, "/chunks")
	if !found || documentID == "" || strings.Contains(documentID, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	criteria := domain.FilterCriteria{
		TenantID:      r.URL.Query().Get("tenant_id"),
		IncludeHidden: r.URL.Query().Get("include_hidden") == "true",
	}
	if sources, ok := r.URL.Query()["source_type"]; ok {
		criteria.SourceTypes = sources
	}

	chunks, err := rt.retrieval.RetrieveByID(r.Context(), documentID, criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	writeJSON(w, http.StatusOK, documentChunksResponse{
		DocumentID: documentID,
		Chunks:     chunks,
		Count:      len(chunks),
	})
}

type indexRequest struct {
	Chunks []domain.Chunk `json:"chunks"`
}

type indexResponse struct {
	JobID      string `json:"job_id"`
	ChunkCount int    `json:"chunk_count"`
}

// enqueueIndexJob accepts a chunk batch and hands it to the indexing worker
// through the queue. The response acknowledges receipt, not persistence.
func (rt *Router) enqueueIndexJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Chunks) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chunks are required"})
		return
	}

	chunks := make([]domain.Chunk, 0, len(req.Chunks))
	for _, chunk := range req.Chunks {
		chunks = append(chunks, chunk.WithDerivedText())
	}

	job := domain.IndexJob{
		JobID:  uuid.NewString(),
		Chunks: chunks,
	}
	if err := rt.queue.PublishIndexJob(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, indexResponse{
		JobID:      job.JobID,
		ChunkCount: len(req.Chunks),
	})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
