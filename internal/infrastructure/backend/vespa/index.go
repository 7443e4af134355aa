// Package vespa implements the multi-phase backend family: the hybrid ranking
// formula runs inside the engine as a declarative two-phase expression, so
// only a bounded candidate set ever sees the expensive second phase.
package vespa

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

	"golang.org/x/time/rate"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
)

const (
	defaultDocType      = "docchunk"
	defaultIndexWorkers = 32
	documentPageSize    = 400
)

type Config struct {
	// BaseURL is the query and document endpoint.
	BaseURL string
	// DeployURL is the config server endpoint application packages are
	// deployed to. Falls back to BaseURL when empty.
	DeployURL string
	DocType   string

	RequestTimeout time.Duration
	IndexWorkers   int
	// WritesPerSec caps document write throughput across the worker pool;
	// zero means unlimited.
	WritesPerSec float64
	// RerankDepth is rendered into the ranking profile as the second-phase
	// rerank-count at deploy time.
	RerankDepth int
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
	if cfg.DocType == "" {
		cfg.DocType = defaultDocType
	}
	if cfg.RerankDepth <= 0 {
		cfg.RerankDepth = domain.DefaultRerankDepth
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DeployURL == "" {
		cfg.DeployURL = cfg.BaseURL
	} else {
		cfg.DeployURL = strings.TrimRight(cfg.DeployURL, "/")
	}
	var limiter *rate.Limiter
	if cfg.WritesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.WritesPerSec), cfg.IndexWorkers)
	}
	return &Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
	}
}

var _ ports.DocumentIndex = (*Index)(nil)

// EnsureSchema deploys the application package. The engine treats redeploying
// an identical package as a no-op and rejects incompatible field changes
// itself, which is surfaced here as ErrSchema.
func (x *Index) EnsureSchema(ctx context.Context, params ports.SchemaParams) error {
	x.ensureMu.Lock()
	defer x.ensureMu.Unlock()
	if x.ensured && x.params == params {
		return nil
	}

	pkg, err := buildAppPackage(x.cfg.DocType, params, x.cfg.RerankDepth)
	if err != nil {
		return domain.WrapError(domain.ErrSchema, "build app package", err)
	}

	deployPath := x.cfg.DeployURL + "/application/v2/tenant/default/prepareandactivate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deployPath, bytes.NewReader(pkg))
	if err != nil {
		return fmt.Errorf("build deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/zip")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.WrapError(domain.ErrTimeout, "deploy app package", err)
		}
		return domain.WrapError(domain.ErrBackendUnavailable, "deploy app package", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.WrapError(domain.ErrSchema, "deploy app package",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	x.params = params
	x.ensured = true
	return nil
}

// IndexBatch feeds chunks as independent single-document writes across a
// bounded worker pool. Cancellation is observed between dispatches; writes
// already in flight run to completion.
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
			results[i] = outcome{ref: chunk.Ref(), err: x.putDocument(ctx, chunk, params)}
		}(i, chunk)
	}
	wg.Wait()

	var report domain.IndexReport
	for _, res := range results {
		if res.err != nil {
			report.AddFailure(res.ref, res.err)
		} else {
			report.AddSuccess(res.ref)
		}
	}
	return report, nil
}

func (x *Index) putDocument(ctx context.Context, chunk domain.Chunk, params ports.SchemaParams) error {
	if x.limiter != nil {
		if err := x.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	path := fmt.Sprintf("/document/v1/default/%s/docid/%s",
		x.cfg.DocType, url.PathEscape(chunk.UUID()))
	body := map[string]any{"fields": documentFields(chunk, params)}
	status, err := x.do(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("document write status %d", status)
	}
	return nil
}

func (x *Index) schemaParams() (ports.SchemaParams, error) {
	x.ensureMu.Lock()
	defer x.ensureMu.Unlock()
	if !x.ensured {
		return ports.SchemaParams{}, domain.WrapError(domain.ErrConfiguration, "vespa index",
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

	req, err := http.NewRequestWithContext(ctx, method, x.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, domain.WrapError(domain.ErrTimeout, "vespa request", err)
		}
		return 0, domain.WrapError(domain.ErrBackendUnavailable, "vespa request", err)
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
