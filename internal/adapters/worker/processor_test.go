package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/observability/metrics"
)

type stubIndexer struct {
	report domain.IndexReport
	err    error

	batches [][]domain.Chunk
}

func (s *stubIndexer) IndexBatch(_ context.Context, chunks []domain.Chunk) (domain.IndexReport, error) {
	s.batches = append(s.batches, chunks)
	return s.report, s.err
}

func (s *stubIndexer) EnsureSchema(context.Context) error { return nil }

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

func testJob(attempt int, docIDs ...string) domain.IndexJob {
	chunks := make([]domain.Chunk, 0, len(docIDs))
	for _, id := range docIDs {
		chunks = append(chunks, domain.Chunk{DocumentID: id, ChunkID: 0})
	}
	return domain.IndexJob{JobID: "job-1", Chunks: chunks, Attempt: attempt}
}

func newTestProcessor(indexer *stubIndexer, queue *stubQueue) *Processor {
	return NewProcessor(indexer, queue, metrics.NewWorkerMetrics("indexer-test"), "indexer-test", 3)
}

func TestProcessFullSuccessDoesNotRequeue(t *testing.T) {
	indexer := &stubIndexer{report: domain.IndexReport{
		Succeeded: []domain.ChunkRef{{DocumentID: "doc-1"}, {DocumentID: "doc-2"}},
	}}
	queue := &stubQueue{}

	err := newTestProcessor(indexer, queue).Process(context.Background(), testJob(0, "doc-1", "doc-2"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(queue.published) != 0 {
		t.Fatalf("expected no requeue, got %d jobs", len(queue.published))
	}
}

func TestProcessRequeuesOnlyFailedChunks(t *testing.T) {
	report := domain.IndexReport{}
	report.AddSuccess(domain.ChunkRef{DocumentID: "doc-1"})
	report.AddFailure(domain.ChunkRef{DocumentID: "doc-2"}, fmt.Errorf("mapping conflict"))
	indexer := &stubIndexer{report: report}
	queue := &stubQueue{}

	err := newTestProcessor(indexer, queue).Process(context.Background(), testJob(0, "doc-1", "doc-2"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected one requeued job, got %d", len(queue.published))
	}

	retry := queue.published[0]
	if retry.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", retry.Attempt)
	}
	if len(retry.Chunks) != 1 || retry.Chunks[0].DocumentID != "doc-2" {
		t.Errorf("requeued chunks = %+v, want only doc-2", retry.Chunks)
	}
}

func TestProcessDropsChunksAfterAttemptBudget(t *testing.T) {
	report := domain.IndexReport{}
	report.AddFailure(domain.ChunkRef{DocumentID: "doc-1"}, fmt.Errorf("still broken"))
	indexer := &stubIndexer{report: report}
	queue := &stubQueue{}

	err := newTestProcessor(indexer, queue).Process(context.Background(), testJob(2, "doc-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(queue.published) != 0 {
		t.Fatalf("exhausted job must not requeue, got %d jobs", len(queue.published))
	}
}

func TestProcessRequeuesWholeJobOnRetryableError(t *testing.T) {
	indexer := &stubIndexer{err: domain.WrapError(domain.ErrBackendUnavailable, "index batch",
		fmt.Errorf("connection refused"))}
	queue := &stubQueue{}

	err := newTestProcessor(indexer, queue).Process(context.Background(), testJob(0, "doc-1", "doc-2"))
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected whole-job requeue, got %d jobs", len(queue.published))
	}
	if len(queue.published[0].Chunks) != 2 || queue.published[0].Attempt != 1 {
		t.Fatalf("unexpected retry job: %+v", queue.published[0])
	}
}

func TestProcessDoesNotRequeueValidationErrors(t *testing.T) {
	indexer := &stubIndexer{err: domain.WrapError(domain.ErrValidation, "index batch",
		fmt.Errorf("bad chunk"))}
	queue := &stubQueue{}

	err := newTestProcessor(indexer, queue).Process(context.Background(), testJob(0, "doc-1"))
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
	if len(queue.published) != 0 {
		t.Fatalf("validation failures must not requeue, got %d jobs", len(queue.published))
	}
}
