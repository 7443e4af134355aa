package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/observability/metrics"
)

type stubRetrieval struct {
	results []domain.RankedResult
	chunks  []domain.Chunk
	err     error

	lastQuery    string
	lastLimit    int
	lastOffset   int
	lastDocument string
	lastCriteria domain.FilterCriteria
}

func (s *stubRetrieval) Retrieve(_ context.Context, queryText string, criteria domain.FilterCriteria,
	_ *domain.RankingTunables, limit, offset int) ([]domain.RankedResult, error) {
	s.lastQuery = queryText
	s.lastCriteria = criteria
	s.lastLimit = limit
	s.lastOffset = offset
	return s.results, s.err
}

func (s *stubRetrieval) RetrieveByID(_ context.Context, documentID string, criteria domain.FilterCriteria) ([]domain.Chunk, error) {
	s.lastDocument = documentID
	s.lastCriteria = criteria
	return s.chunks, s.err
}

type stubQueue struct {
	published []domain.IndexJob
	err       error
}

func (s *stubQueue) PublishIndexJob(_ context.Context, job domain.IndexJob) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, job)
	return nil
}

func (s *stubQueue) SubscribeIndexJobs(context.Context, func(context.Context, domain.IndexJob) error) error {
	return nil
}

func newTestRouter(retrieval *stubRetrieval, queue *stubQueue) http.Handler {
	return NewRouter(retrieval, queue, metrics.NewHTTPServerMetrics("api-test"), RouterConfig{
		ServiceName:   "api-test",
		BackendFamily: "pipeline",
	}).Handler()
}

func TestSearchReturnsRankedResults(t *testing.T) {
	retrieval := &stubRetrieval{results: []domain.RankedResult{
		{Chunk: domain.Chunk{DocumentID: "doc-1", Title: "Q3 Report"}, Score: 0.91, Rank: 1},
		{Chunk: domain.Chunk{DocumentID: "doc-2", Title: "Q2 Report"}, Score: 0.44, Rank: 2},
	}}
	handler := newTestRouter(retrieval, &stubQueue{})

	body := bytes.NewBufferString(`{"query":"quarterly revenue","tenant_id":"acme","offset":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/search", body)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var response searchResponse
	if err := json.Unmarshal(res.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Count != 2 || response.Results[0].Chunk.DocumentID != "doc-1" {
		t.Fatalf("unexpected response: %+v", response)
	}
	if retrieval.lastLimit != defaultSearchLimit {
		t.Errorf("limit = %d, want default %d", retrieval.lastLimit, defaultSearchLimit)
	}
	if retrieval.lastOffset != 5 {
		t.Errorf("offset = %d, want 5", retrieval.lastOffset)
	}
	if retrieval.lastCriteria.TenantID != "acme" {
		t.Errorf("tenant = %q, want acme", retrieval.lastCriteria.TenantID)
	}
}

func TestSearchClampsLimit(t *testing.T) {
	retrieval := &stubRetrieval{}
	handler := newTestRouter(retrieval, &stubQueue{})

	body := bytes.NewBufferString(`{"query":"anything","limit":5000}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/search", body)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if retrieval.lastLimit != maxSearchLimit {
		t.Errorf("limit = %d, want clamp to %d", retrieval.lastLimit, maxSearchLimit)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	handler := newTestRouter(&stubRetrieval{}, &stubQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewBufferString(`{"limit":5}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestSearchMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.WrapError(domain.ErrValidation, "retrieve", fmt.Errorf("bad filter")), http.StatusBadRequest},
		{"capability", domain.WrapError(domain.ErrCapabilityUnsupported, "retrieve", fmt.Errorf("kg filter")), http.StatusUnprocessableEntity},
		{"timeout", domain.WrapError(domain.ErrTimeout, "retrieve", fmt.Errorf("deadline")), http.StatusGatewayTimeout},
		{"unavailable", domain.WrapError(domain.ErrBackendUnavailable, "retrieve", fmt.Errorf("refused")), http.StatusServiceUnavailable},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(&stubRetrieval{err: tc.err}, &stubQueue{})

			req := httptest.NewRequest(http.MethodPost, "/v1/search",
				bytes.NewBufferString(`{"query":"anything"}`))
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)

			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestDocumentChunksParsesPath(t *testing.T) {
	retrieval := &stubRetrieval{chunks: []domain.Chunk{
		{DocumentID: "doc-1", ChunkID: 0},
		{DocumentID: "doc-1", ChunkID: 1},
	}}
	handler := newTestRouter(retrieval, &stubQueue{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1/chunks?tenant_id=acme&include_hidden=true", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if retrieval.lastDocument != "doc-1" {
		t.Errorf("document id = %q, want doc-1", retrieval.lastDocument)
	}
	if retrieval.lastCriteria.TenantID != "acme" || !retrieval.lastCriteria.IncludeHidden {
		t.Errorf("unexpected criteria: %+v", retrieval.lastCriteria)
	}

	var response documentChunksResponse
	if err := json.Unmarshal(res.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Count != 2 {
		t.Errorf("count = %d, want 2", response.Count)
	}
}

func TestDocumentChunksRejectsMalformedPath(t *testing.T) {
	handler := newTestRouter(&stubRetrieval{}, &stubQueue{})

	for _, path := range []string{"/v1/documents/doc-1", "/v1/documents//chunks", "/v1/documents/a/b/chunks"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, res.Code)
		}
	}
}

func TestEnqueueIndexJobPublishesAndAccepts(t *testing.T) {
	queue := &stubQueue{}
	handler := newTestRouter(&stubRetrieval{}, queue)

	payload := map[string]any{"chunks": []map[string]any{
		{"document_id": "doc-1", "chunk_id": 0, "content": "hello", "embedding": []float32{0.1, 0.2}},
	}}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/index", bytes.NewReader(body))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected one published job, got %d", len(queue.published))
	}
	job := queue.published[0]
	if job.JobID == "" || job.Attempt != 0 || len(job.Chunks) != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}

	var response indexResponse
	if err := json.Unmarshal(res.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.JobID != job.JobID || response.ChunkCount != 1 {
		t.Errorf("unexpected response: %+v", response)
	}
}

func TestEnqueueIndexJobRequiresChunks(t *testing.T) {
	handler := newTestRouter(&stubRetrieval{}, &stubQueue{})

	req := httptest.NewRequest(http.MethodPost, "/v1/index", bytes.NewBufferString(`{"chunks":[]}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
