// Package qdrant implements the pipeline backend family: one hybrid request
// carrying dense and sparse sub-queries, followed by a client-side score
// normalization pipeline that applies the canonical ranking formula.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
)

const (
	contentVectorName = "content"
	titleVectorName   = "title"
	sparseVectorName  = "text"

	defaultIndexWorkers = 32
	scrollPageSize      = 1000
)

type Config struct {
	BaseURL    string
	Collection string

	RequestTimeout time.Duration
	IndexWorkers   int
	// WritesPerSec caps upsert throughput across the worker pool; zero
	// means unlimited.
	WritesPerSec float64
}

type Index struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter

	ensureMu sync.Mutex
	ensured  bool
	params   ports.SchemaParams
}

func New(cfg Config) *Index {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.IndexWorkers <= 0 {
		cfg.IndexWorkers = defaultIndexWorkers
	}
	var limiter *rate.Limiter
	if cfg.WritesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.WritesPerSec), cfg.IndexWorkers)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
	}
}

var _ ports.DocumentIndex = (*Index)(nil)

func (x *Index) EnsureSchema(ctx context.Context, params ports.SchemaParams) error {
	x.ensureMu.Lock()
	defer x.ensureMu.Unlock()
	if x.ensured && x.params == params {
		return nil
	}

	existingDims, exists, err := x.collectionDims(ctx)
	if err != nil {
		return err
	}
	if exists {
		if existingDims != params.Dimensions {
			return domain.WrapError(domain.ErrSchema, "ensure collection",
				fmt.Errorf("collection %q has dimension %d, deployment expects %d",
					x.cfg.Collection, existingDims, params.Dimensions))
		}
		x.params = params
		x.ensured = true
		return nil
	}

	if err := x.createCollection(ctx, params.Dimensions); err != nil {
		return err
	}
	if err := x.createPayloadIndexes(ctx, params); err != nil {
		return err
	}
	x.params = params
	x.ensured = true
	return nil
}

func (x *Index) collectionDims(ctx context.Context) (int, bool, error) {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors map[string]struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := x.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", x.cfg.Collection), nil, &resp)
	if err != nil {
		return 0, false, err
	}
	if status == http.StatusNotFound {
		return 0, false, nil
	}
	if status >= 300 {
		return 0, false, domain.WrapError(domain.ErrBackendUnavailable, "get collection",
			fmt.Errorf("status %d", status))
	}
	return resp.Result.Config.Params.Vectors[contentVectorName].Size, true, nil
}

func (x *Index) createCollection(ctx context.Context, dimensions int) error {
	body := map[string]any{
		"vectors": map[string]any{
			contentVectorName: map[string]any{"size": dimensions, "distance": "Cosine"},
			titleVectorName:   map[string]any{"size": dimensions, "distance": "Cosine"},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}
	status, err := x.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", x.cfg.Collection), body, nil)
	if err != nil {
		return err
	}
	// 409 means a concurrent boot created it first.
	if status >= 300 && status != http.StatusConflict {
		return domain.WrapError(domain.ErrSchema, "create collection", fmt.Errorf("status %d", status))
	}
	return nil
}

func (x *Index) createPayloadIndexes(ctx context.Context, params ports.SchemaParams) error {
	fields := map[string]string{
		fieldSourceType:   "keyword",
		fieldHidden:       "bool",
		fieldDocumentID:   "keyword",
		fieldACL:          "keyword",
		fieldDocumentSets: "keyword",
		fieldUpdatedAt:    "integer",
	}
	if params.MultiTenant {
		fields[fieldTenantID] = "keyword"
	}
	if params.KnowledgeGraph {
		fields[fieldKGEntities] = "keyword"
		fields[fieldKGTags] = "keyword"
		fields[fieldKGTerms] = "keyword"
	}

	for field, schema := range fields {
		body := map[string]any{"field_name": field, "field_schema": schema}
		status, err := x.do(ctx, http.MethodPut,
			fmt.Sprintf("/collections/%s/index", x.cfg.Collection), body, nil)
		if err != nil {
			return err
		}
		if status >= 300 && status != http.StatusConflict {
			return domain.WrapError(domain.ErrSchema, "create payload index",
				fmt.Errorf("field %s: status %d", field, status))
		}
	}
	return nil
}

// IndexBatch upserts every chunk as an independent single-point write across a
// bounded worker pool; the engine reflects writes immediately so there is no
// refresh step to amortize.
func (x *Index) IndexBatch(ctx context.Context, chunks []domain.Chunk) (domain.IndexReport, error) {
	params, err := x.schemaParams()
	if err != nil {
		return domain.IndexReport{}, err
	}

	type outcome struct {
		ref domain.ChunkRef
		err error
	}
	results := make([]outcome, len(chunks))

	sem := make(chan struct{}, x.cfg.IndexWorkers)
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		// Cancellation is observed between dispatches; writes already in
		// flight run to completion.
		if ctxErr := ctx.Err(); ctxErr != nil {
			for j := i; j < len(chunks); j++ {
				results[j] = outcome{ref: chunks[j].Ref(), err: ctxErr}
			}
			break
		}

		if err := chunk.Validate(params.Dimensions, params.MultiTenant); err != nil {
			results[i] = outcome{ref: chunk.Ref(), err: err}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, chunk domain.Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = outcome{ref: chunk.Ref(), err: x.upsertChunk(ctx, chunk)}
		}(i, chunk)
	}
	wg.Wait()

	var report domain.IndexReport
	for _, r := range results {
		if r.err != nil {
			report.AddFailure(r.ref, r.err)
			continue
		}
		report.AddSuccess(r.ref)
	}
	return report, nil
}

func (x *Index) upsertChunk(ctx context.Context, chunk domain.Chunk) error {
	if x.limiter != nil {
		if err := x.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	point := map[string]any{
		"id":      chunk.UUID(),
		"vector":  chunkVectors(chunk),
		"payload": chunkPayload(chunk),
	}
	body := map[string]any{"points": []any{point}}

	status, err := x.do(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", x.cfg.Collection), body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant upsert status %d", status)
	}
	return nil
}

func (x *Index) schemaParams() (ports.SchemaParams, error) {
	x.ensureMu.Lock()
	defer x.ensureMu.Unlock()
	if !x.ensured {
		return ports.SchemaParams{}, domain.WrapError(domain.ErrConfiguration, "qdrant index",
			fmt.Errorf("schema not ensured before use"))
	}
	return x.params, nil
}

// do sends a JSON request and decodes the response into out when non-nil.
// Transport failures map to the typed taxonomy; HTTP statuses are returned to
// the caller untouched.
func (x *Index) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, x.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, domain.WrapError(domain.ErrTimeout, "qdrant request", err)
		}
		return 0, domain.WrapError(domain.ErrBackendUnavailable, "qdrant request", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
	return resp.StatusCode, nil
}
