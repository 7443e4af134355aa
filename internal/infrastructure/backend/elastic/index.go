// Package elastic implements the fusion backend family: keyword and vector
// retrievals run independently against the engine and their ranked lists are
// merged client-side by reciprocal rank fusion.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
)

const (
	defaultBulkBatchSize = 500
	retrievePageSize     = 1000
)

type Config struct {
	BaseURL   string
	IndexName string

	RequestTimeout time.Duration
	// BulkBatchSize is the number of chunks grouped into one _bulk request.
	// Batches are issued sequentially; the engine amortizes cost per request
	// rather than per connection.
	BulkBatchSize int
}

type Index struct {
	cfg        Config
	httpClient *http.Client

	ensureMu sync.Mutex
	ensured  bool
	params   ports.SchemaParams
}

func New(cfg Config) *Index {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.BulkBatchSize <= 0 {
		cfg.BulkBatchSize = defaultBulkBatchSize
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

var _ ports.DocumentIndex = (*Index)(nil)

func (x *Index) EnsureSchema(ctx context.Context, params ports.SchemaParams) error {
	x.ensureMu.Lock()
	defer x.ensureMu.Unlock()
	if x.ensured && x.params == params {
		return nil
	}

	existing, exists, err := x.currentMappings(ctx)
	if err != nil {
		return err
	}
	if exists {
		if err := validateMappings(existing, params); err != nil {
			return err
		}
	} else {
		if err := x.createIndex(ctx, params); err != nil {
			return err
		}
	}
	x.params = params
	x.ensured = true
	return nil
}

func (x *Index) currentMappings(ctx context.Context) (map[string]any, bool, error) {
	var payload map[string]any
	status, err := x.do(ctx, http.MethodGet, "/"+url.PathEscape(x.cfg.IndexName)+"/_mapping", nil, &payload)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if status >= 300 {
		return nil, false, domain.WrapError(domain.ErrSchema, "read mappings",
			fmt.Errorf("status %d", status))
	}
	index, _ := payload[x.cfg.IndexName].(map[string]any)
	mappings, _ := index["mappings"].(map[string]any)
	props, _ := mappings["properties"].(map[string]any)
	if props == nil {
		return nil, false, domain.WrapError(domain.ErrSchema, "read mappings",
			fmt.Errorf("index %q has no mappings", x.cfg.IndexName))
	}
	return props, true, nil
}

// validateMappings catches schema drift on a pre-existing index: a dimension
// mismatch or a missing field family makes the deployment unusable, so it
// fails hard instead of letting queries return garbage.
func validateMappings(props map[string]any, params ports.SchemaParams) error {
	for _, field := range []string{fieldEmbeddings, fieldTitleEmbedding} {
		spec, _ := props[field].(map[string]any)
		if spec == nil {
			return domain.WrapError(domain.ErrSchema, "validate mappings",
				fmt.Errorf("missing field %q", field))
		}
		dims, _ := spec["dims"].(float64)
		if int(dims) != params.Dimensions {
			return domain.WrapError(domain.ErrSchema, "validate mappings",
				fmt.Errorf("field %q has dimension %d, deployment expects %d",
					field, int(dims), params.Dimensions))
		}
	}
	if params.MultiTenant {
		if _, ok := props[fieldTenantID]; !ok {
			return domain.WrapError(domain.ErrSchema, "validate mappings",
				fmt.Errorf("index lacks the %s field required for tenant isolation", fieldTenantID))
		}
	}
	if params.KnowledgeGraph {
		if _, ok := props[fieldKGEntities]; !ok {
			return domain.WrapError(domain.ErrSchema, "validate mappings",
				fmt.Errorf("index lacks knowledge graph fields"))
		}
	}
	return nil
}

func (x *Index) createIndex(ctx context.Context, params ports.SchemaParams) error {
	body := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   3,
			"number_of_replicas": 1,
			"analysis": map[string]any{
				"analyzer": map[string]any{"default": map[string]any{"type": "standard"}},
			},
		},
		"mappings": map[string]any{"properties": mappingProperties(params)},
	}
	status, err := x.do(ctx, http.MethodPut, "/"+url.PathEscape(x.cfg.IndexName), body, nil)
	if err != nil {
		return err
	}
	// 400 resource_already_exists loses the create race to a sibling process.
	if status >= 300 && status != http.StatusBadRequest {
		return domain.WrapError(domain.ErrSchema, "create index", fmt.Errorf("status %d", status))
	}
	return nil
}

func mappingProperties(params ports.SchemaParams) map[string]any {
	denseVector := func() map[string]any {
		return map[string]any{
			"type":       "dense_vector",
			"dims":       params.Dimensions,
			"index":      true,
			"similarity": "cosine",
		}
	}
	nestedEntries := map[string]any{
		"type": "nested",
		"properties": map[string]any{
			"value":  map[string]any{"type": "keyword"},
			"weight": map[string]any{"type": "integer"},
		},
	}
	props := map[string]any{
		fieldDocumentID:         map[string]any{"type": "keyword"},
		fieldChunkID:            map[string]any{"type": "integer"},
		fieldBlurb:              map[string]any{"type": "text"},
		fieldContent:            map[string]any{"type": "text"},
		fieldSourceType:         map[string]any{"type": "keyword"},
		fieldSemanticIdentifier: map[string]any{"type": "text"},
		fieldTitle:              map[string]any{"type": "text"},
		fieldEmbeddings:         denseVector(),
		fieldTitleEmbedding:     denseVector(),
		fieldACL:                nestedEntries,
		fieldDocumentSets:       nestedEntries,
		fieldMetadata:           map[string]any{"type": "object"},
		fieldBoost:              map[string]any{"type": "float"},
		fieldUpdatedAt:          map[string]any{"type": "date", "format": "epoch_second"},
		fieldHidden:             map[string]any{"type": "boolean"},
		fieldContentSummary:     map[string]any{"type": "text"},
	}
	if params.MultiTenant {
		props[fieldTenantID] = map[string]any{"type": "keyword"}
	}
	if params.KnowledgeGraph {
		props[fieldKGEntities] = map[string]any{"type": "keyword"}
		props[fieldKGTags] = map[string]any{"type": "keyword"}
		props[fieldKGTerms] = map[string]any{"type": "keyword"}
	}
	return props
}

func (x *Index) schemaParams() (ports.SchemaParams, error) {
	x.ensureMu.Lock()
	defer x.ensureMu.Unlock()
	if !x.ensured {
		return ports.SchemaParams{}, domain.WrapError(domain.ErrConfiguration, "elastic index",
			fmt.Errorf("schema not ensured before use"))
	}
	return x.params, nil
}

func (x *Index) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	return x.doRaw(ctx, method, path, "application/json", reader, out)
}

// doRaw exists because _bulk speaks NDJSON rather than a single JSON body.
func (x *Index) doRaw(ctx context.Context, method, path, contentType string, body io.Reader, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, x.cfg.BaseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, domain.WrapError(domain.ErrTimeout, "elastic request", err)
		}
		return 0, domain.WrapError(domain.ErrBackendUnavailable, "elastic request", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	if out != nil && resp.StatusCode == http.StatusNotFound {
		// Callers distinguish absent indices from malformed responses.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
	return resp.StatusCode, nil
}
