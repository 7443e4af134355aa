package vespa

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
)

func newEnsuredIndex(t *testing.T, server *httptest.Server, params ports.SchemaParams) *Index {
	t.Helper()
	index := New(Config{BaseURL: server.URL, IndexWorkers: 4, RerankDepth: 50})
	if err := index.EnsureSchema(context.Background(), params); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return index
}

func readZipEntry(t *testing.T, pkg []byte, name string) string {
	t.Helper()
	archive, err := zip.NewReader(bytes.NewReader(pkg), int64(len(pkg)))
	if err != nil {
		t.Fatalf("deploy body is not a zip: %v", err)
	}
	for _, file := range archive.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		defer rc.Close()
		content, _ := io.ReadAll(rc)
		return string(content)
	}
	t.Fatalf("zip entry %s not found", name)
	return ""
}

func TestEnsureSchemaDeploysApplicationPackage(t *testing.T) {
	var deployBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/application/v2/tenant/default/prepareandactivate" {
			deployBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	newEnsuredIndex(t, server, ports.SchemaParams{Dimensions: 384, MultiTenant: true, KnowledgeGraph: true})

	schema := readZipEntry(t, deployBody, "schemas/docchunk.sd")
	for _, want := range []string{
		"tensor<float>(x[384])",
		"rerank-count: 50",
		"first-phase",
		"second-phase",
		"field tenant_id",
		"field kg_tags",
		"query(alpha)",
		"distance-metric: angular",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("schema missing %q:\n%s", want, schema)
		}
	}
	services := readZipEntry(t, deployBody, "services.xml")
	if !strings.Contains(services, `document type="docchunk"`) {
		t.Fatalf("services.xml missing document type: %s", services)
	}
}

func TestEnsureSchemaSurfacesRejectedDeployAsSchemaError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "field embedding: incompatible tensor type change", http.StatusBadRequest)
	}))
	defer server.Close()

	index := New(Config{BaseURL: server.URL})
	err := index.EnsureSchema(context.Background(), ports.SchemaParams{Dimensions: 384})
	if !domain.IsKind(err, domain.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestIndexBatchWritesEveryChunkIndependently(t *testing.T) {
	var writes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/application/v2/tenant/default/prepareandactivate":
			w.WriteHeader(http.StatusOK)
		case strings.HasPrefix(r.URL.Path, "/document/v1/default/docchunk/docid/"):
			atomic.AddInt32(&writes, 1)
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Fields["document_id"] == "doc-fail" {
				http.Error(w, "content node down", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	index := newEnsuredIndex(t, server, ports.SchemaParams{Dimensions: 3})

	chunks := []domain.Chunk{
		{DocumentID: "doc-ok", ChunkID: 0, Content: "a", Embedding: []float32{1, 0, 0}},
		{DocumentID: "doc-fail", ChunkID: 0, Content: "b", Embedding: []float32{0, 1, 0}},
		{DocumentID: "doc-bad-dims", ChunkID: 0, Content: "c", Embedding: []float32{1, 0}},
		{DocumentID: "doc-ok", ChunkID: 1, Content: "d", Embedding: []float32{0, 0, 1}},
	}
	report, err := index.IndexBatch(context.Background(), chunks)
	if err != nil {
		t.Fatalf("IndexBatch() error = %v", err)
	}
	if len(report.Succeeded) != 2 || len(report.Failed) != 2 {
		t.Fatalf("expected 2 successes and 2 failures, got %+v", report)
	}
	// The malformed chunk never reaches the engine.
	if got := atomic.LoadInt32(&writes); got != 3 {
		t.Fatalf("expected 3 document writes, got %d", got)
	}
}

func TestIndexBatchObservesCancellationBetweenDispatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	index := newEnsuredIndex(t, server, ports.SchemaParams{Dimensions: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := index.IndexBatch(ctx, []domain.Chunk{
		{DocumentID: "doc-a", ChunkID: 0, Content: "a", Embedding: []float32{1, 0, 0}},
		{DocumentID: "doc-b", ChunkID: 0, Content: "b", Embedding: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("IndexBatch() error = %v", err)
	}
	// Cancelled chunks are reported, never silently dropped.
	if len(report.Failed) != 2 || len(report.Succeeded) != 0 {
		t.Fatalf("expected both chunks reported failed, got %+v", report)
	}
}

func TestHybridRetrieveBuildsTwoPhaseQuery(t *testing.T) {
	var searchBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/application/v2/tenant/default/prepareandactivate":
			w.WriteHeader(http.StatusOK)
		case "/search/":
			searchBody, _ = io.ReadAll(r.Body)
			_, _ = w.Write([]byte(`{"root":{"children":[
				{"relevance":0.82,"fields":{"document_id":"doc-1","chunk_id":0,"content":"revenue","tenant_id":"t1"}},
				{"relevance":0.41,"fields":{"document_id":"doc-2","chunk_id":0,"content":"menu","tenant_id":"t1"}}
			]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	index := newEnsuredIndex(t, server, ports.SchemaParams{Dimensions: 3, MultiTenant: true})

	cutoff := domain.IndexFilters{
		TenantID:     "t1",
		SourceTypes:  []domain.SourceType{domain.SourceWeb, domain.SourceSlack},
		DocumentSets: []string{"finance"},
	}
	results, err := index.HybridRetrieve(context.Background(), ports.HybridQuery{
		Query:     "quarterly revenue",
		Embedding: []float32{1, 0, 0},
		Filters:   cutoff,
		Tunables:  domain.DefaultTunables(domain.IntentSemantic),
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("HybridRetrieve() error = %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(searchBody, &parsed); err != nil {
		t.Fatalf("search body is not json: %v", err)
	}
	yql, _ := parsed["yql"].(string)
	for _, want := range []string{
		"nearestNeighbor(embedding, query_embedding)",
		"userQuery()",
		`tenant_id contains "t1"`,
		`source_type contains "web" or source_type contains "slack"`,
		`document_sets contains "finance"`,
		"!(hidden = true)",
	} {
		if !strings.Contains(yql, want) {
			t.Fatalf("yql missing %q: %s", want, yql)
		}
	}
	input, _ := parsed["input"].(map[string]any)
	if input["query(alpha)"] != 0.5 {
		t.Fatalf("semantic alpha must travel as a ranking input, got %v", input["query(alpha)"])
	}
	if _, ok := input["query(now_epoch)"]; !ok {
		t.Fatal("clock input missing")
	}

	if len(results) != 2 || results[0].Chunk.DocumentID != "doc-1" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Fatalf("ranks must be 1-based and sequential")
	}
}

func TestHybridRetrieveSendsQueryTimeRerankCount(t *testing.T) {
	var searchBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/application/v2/tenant/default/prepareandactivate":
			w.WriteHeader(http.StatusOK)
		case "/search/":
			searchBody, _ = io.ReadAll(r.Body)
			_, _ = w.Write([]byte(`{"root":{"children":[]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	// Deploy-time rerank-count is 50; the caller narrows it to 7.
	index := newEnsuredIndex(t, server, ports.SchemaParams{Dimensions: 3})

	tunables := domain.DefaultTunables(domain.IntentSemantic)
	tunables.RerankDepth = 7
	if _, err := index.HybridRetrieve(context.Background(), ports.HybridQuery{
		Query:     "q",
		Embedding: []float32{1, 0, 0},
		Tunables:  tunables,
		Limit:     5,
	}); err != nil {
		t.Fatalf("HybridRetrieve() error = %v", err)
	}

	var parsed struct {
		YQL     string `json:"yql"`
		Ranking struct {
			Profile     string `json:"profile"`
			RerankCount int    `json:"rerankCount"`
		} `json:"ranking"`
	}
	if err := json.Unmarshal(searchBody, &parsed); err != nil {
		t.Fatalf("search body is not json: %v", err)
	}
	if parsed.Ranking.Profile != "hybrid_search" {
		t.Fatalf("unexpected ranking profile %q", parsed.Ranking.Profile)
	}
	// The override must reach the second phase, not just candidate generation.
	if parsed.Ranking.RerankCount != 7 {
		t.Fatalf("ranking.rerankCount = %d, want 7", parsed.Ranking.RerankCount)
	}
	if !strings.Contains(parsed.YQL, "{targetHits:7}") {
		t.Fatalf("nearestNeighbor targetHits must match the rerank depth: %s", parsed.YQL)
	}
}

func TestHybridRetrieveOffsetShiftsRanks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/application/v2/tenant/default/prepareandactivate":
			w.WriteHeader(http.StatusOK)
		case "/search/":
			body, _ := io.ReadAll(r.Body)
			var parsed map[string]any
			_ = json.Unmarshal(body, &parsed)
			if parsed["offset"] != float64(2) {
				t.Errorf("offset must be forwarded to the engine, got %v", parsed["offset"])
			}
			_, _ = w.Write([]byte(`{"root":{"children":[
				{"relevance":0.30,"fields":{"document_id":"doc-3","chunk_id":0,"content":"third"}}
			]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	index := newEnsuredIndex(t, server, ports.SchemaParams{Dimensions: 3})

	results, err := index.HybridRetrieve(context.Background(), ports.HybridQuery{
		Query:     "q",
		Embedding: []float32{1, 0, 0},
		Tunables:  domain.DefaultTunables(domain.IntentSemantic),
		Limit:     2,
		Offset:    2,
	})
	if err != nil {
		t.Fatalf("HybridRetrieve() error = %v", err)
	}
	if len(results) != 1 || results[0].Rank != 3 {
		t.Fatalf("rank must account for the page offset, got %+v", results)
	}
}

func TestHybridRetrieveRejectsKGWithoutSchemaSupport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/application/v2/tenant/default/prepareandactivate" {
			w.WriteHeader(http.StatusOK)
			return
		}
		t.Errorf("no search expected, got %s", r.URL.Path)
	}))
	defer server.Close()

	index := newEnsuredIndex(t, server, ports.SchemaParams{Dimensions: 3, KnowledgeGraph: false})

	_, err := index.HybridRetrieve(context.Background(), ports.HybridQuery{
		Query:     "acme",
		Embedding: []float32{1, 0, 0},
		Filters:   domain.IndexFilters{KG: domain.KGFilters{Entities: []string{"acme"}}},
		Tunables:  domain.DefaultTunables(domain.IntentSemantic),
		Limit:     5,
	})
	if !domain.IsKind(err, domain.ErrCapabilityUnsupported) {
		t.Fatalf("expected ErrCapabilityUnsupported, got %v", err)
	}
}

func TestRetrieveByIDOrdersChunksAndEscapesID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/application/v2/tenant/default/prepareandactivate":
			w.WriteHeader(http.StatusOK)
		case "/search/":
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `document_id contains \"doc \\\"quoted\\\"\"`) {
				t.Errorf("document id must be escaped in yql: %s", body)
			}
			_, _ = w.Write([]byte(`{"root":{"children":[
				{"relevance":0,"fields":{"document_id":"doc \"quoted\"","chunk_id":4,"content":"four"}},
				{"relevance":0,"fields":{"document_id":"doc \"quoted\"","chunk_id":1,"content":"one"}}
			]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	index := newEnsuredIndex(t, server, ports.SchemaParams{Dimensions: 3})

	chunks, err := index.RetrieveByID(context.Background(), `doc "quoted"`, domain.IndexFilters{})
	if err != nil {
		t.Fatalf("RetrieveByID() error = %v", err)
	}
	if len(chunks) != 2 || chunks[0].ChunkID != 1 || chunks[1].ChunkID != 4 {
		t.Fatalf("chunks must come back ordered by chunk id, got %+v", chunks)
	}
}
