package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/oryntel/docindex/internal/core/domain"
)

// IndexBatch writes chunks through the engine's bulk API in sequential
// fixed-size batches. Every chunk is attempted: malformed chunks fail locally
// before any request is built, per-item bulk errors fail only their own chunk,
// and a transport failure fails the chunks of that batch while later batches
// still run.
func (x *Index) IndexBatch(ctx context.Context, chunks []domain.Chunk) (domain.IndexReport, error) {
	params, err := x.schemaParams()
	if err != nil {
		return domain.IndexReport{}, err
	}
	shape := schemaShape{multiTenant: params.MultiTenant, knowledgeGraph: params.KnowledgeGraph}

	var report domain.IndexReport
	pending := make([]domain.Chunk, 0, x.cfg.BulkBatchSize)
	for _, chunk := range chunks {
		if err := chunk.Validate(params.Dimensions, params.MultiTenant); err != nil {
			report.AddFailure(chunk.Ref(), err)
			continue
		}
		pending = append(pending, chunk)
		if len(pending) == x.cfg.BulkBatchSize {
			x.flushBulk(ctx, pending, shape, &report)
			pending = pending[:0]
		}
	}
	if len(pending) > 0 {
		x.flushBulk(ctx, pending, shape, &report)
	}
	return report, nil
}

type bulkItemResult struct {
	Index struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"index"`
}

func (x *Index) flushBulk(ctx context.Context, batch []domain.Chunk, shape schemaShape, report *domain.IndexReport) {
	var body bytes.Buffer
	refByID := make(map[string]domain.ChunkRef, len(batch))
	for _, chunk := range batch {
		id := chunk.UUID()
		refByID[id] = chunk.Ref()

		action, _ := json.Marshal(map[string]any{"index": map[string]any{"_id": id}})
		source, err := json.Marshal(chunkSource(chunk, shape))
		if err != nil {
			report.AddFailure(chunk.Ref(), fmt.Errorf("encode chunk: %w", err))
			delete(refByID, id)
			continue
		}
		body.Write(action)
		body.WriteByte('\n')
		body.Write(source)
		body.WriteByte('\n')
	}
	if len(refByID) == 0 {
		return
	}

	var result struct {
		Errors bool             `json:"errors"`
		Items  []bulkItemResult `json:"items"`
	}
	path := "/" + url.PathEscape(x.cfg.IndexName) + "/_bulk?refresh=true"
	status, err := x.doRaw(ctx, http.MethodPost, path, "application/x-ndjson", &body, &result)
	if err != nil || status >= 300 {
		if err == nil {
			err = fmt.Errorf("bulk status %d", status)
		}
		for _, ref := range refByID {
			report.AddFailure(ref, err)
		}
		return
	}

	for _, item := range result.Items {
		ref, ok := refByID[item.Index.ID]
		if !ok {
			continue
		}
		delete(refByID, item.Index.ID)
		if item.Index.Error != nil || item.Index.Status >= 300 {
			reason := fmt.Errorf("status %d", item.Index.Status)
			if item.Index.Error != nil {
				reason = fmt.Errorf("%s: %s", item.Index.Error.Type, item.Index.Error.Reason)
			}
			report.AddFailure(ref, reason)
			continue
		}
		report.AddSuccess(ref)
	}
	// Items the engine never reported back are failures, not silent skips.
	for _, ref := range refByID {
		report.AddFailure(ref, errors.New("missing from bulk response"))
	}
}
