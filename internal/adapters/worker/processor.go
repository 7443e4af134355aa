package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
	"github.com/oryntel/docindex/internal/infrastructure/resilience"
	"github.com/oryntel/docindex/internal/observability/metrics"
)

const defaultMaxAttempts = 3

// Processor consumes index jobs and drives them through the coordinator.
// Chunks that fail retryably are re-published as a follow-up job with a
// bumped attempt counter; attempts are bounded so a poisoned chunk cannot
// circulate forever.
type Processor struct {
	indexer     ports.IndexService
	queue       ports.IndexJobQueue
	metrics     *metrics.WorkerMetrics
	service     string
	maxAttempts int
}

func NewProcessor(
	indexer ports.IndexService,
	queue ports.IndexJobQueue,
	workerMetrics *metrics.WorkerMetrics,
	service string,
	maxAttempts int,
) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Processor{
		indexer:     indexer,
		queue:       queue,
		metrics:     workerMetrics,
		service:     service,
		maxAttempts: maxAttempts,
	}
}

func (p *Processor) Process(ctx context.Context, job domain.IndexJob) error {
	start := time.Now()
	p.metrics.StartJob()

	report, err := p.indexer.IndexBatch(ctx, job.Chunks)
	p.metrics.FinishJob(p.service, time.Since(start), len(report.Succeeded), len(report.Failed), err)

	if err != nil {
		if resilience.ClassifyIndexError(err).Retryable {
			p.requeue(ctx, job, job.Chunks, err.Error())
		} else {
			slog.Error("index_job_failed",
				"job_id", job.JobID,
				"attempt", job.Attempt,
				"chunks", len(job.Chunks),
				"error", err,
			)
		}
		return err
	}

	if report.AllSucceeded() {
		slog.Info("index_job_done",
			"job_id", job.JobID,
			"attempt", job.Attempt,
			"chunks", len(report.Succeeded),
		)
		return nil
	}

	p.requeue(ctx, job, failedChunks(job.Chunks, report.Failed), "partial batch failure")
	return nil
}

// requeue publishes the remaining chunks as the next attempt, or drops them
// with a log line once the attempt budget is spent.
func (p *Processor) requeue(ctx context.Context, job domain.IndexJob, chunks []domain.Chunk, reason string) {
	if len(chunks) == 0 {
		return
	}
	nextAttempt := job.Attempt + 1
	if nextAttempt >= p.maxAttempts {
		slog.Error("index_job_exhausted",
			"job_id", job.JobID,
			"attempt", job.Attempt,
			"dropped_chunks", len(chunks),
			"reason", reason,
		)
		return
	}

	retry := domain.IndexJob{JobID: job.JobID, Chunks: chunks, Attempt: nextAttempt}
	if err := p.queue.PublishIndexJob(ctx, retry); err != nil {
		slog.Error("index_job_requeue_failed",
			"job_id", job.JobID,
			"attempt", nextAttempt,
			"chunks", len(chunks),
			"error", err,
		)
		return
	}

	p.metrics.RecordRetry(p.service)
	slog.Warn("index_job_requeued",
		"job_id", job.JobID,
		"attempt", nextAttempt,
		"chunks", len(chunks),
		"reason", reason,
	)
}

func failedChunks(chunks []domain.Chunk, failures []domain.ChunkFailure) []domain.Chunk {
	failed := make(map[domain.ChunkRef]struct{}, len(failures))
	for _, f := range failures {
		failed[f.Ref] = struct{}{}
	}
	remaining := make([]domain.Chunk, 0, len(failures))
	for _, chunk := range chunks {
		if _, ok := failed[chunk.Ref()]; ok {
			remaining = append(remaining, chunk)
		}
	}
	return remaining
}
