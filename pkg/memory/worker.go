package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/sipeed/picoclaw/pkg/logger"
)

const (
	defaultVisibilityTimeout = 30 * time.Second
	defaultPollInterval      = 2 * time.Second
)

// EmbeddingWorker drains the durable embedding queue, computes one vector
// per claimed job, and writes it back to the originating row. Failed jobs
// become claimable again once their visibility timeout elapses, giving
// automatic retry without a dead-letter path.
type EmbeddingWorker struct {
	pool         *pgxpool.Pool
	embedding    *EmbeddingService
	pollInterval time.Duration
	visibility   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEmbeddingWorker creates a worker over the given pool. pool is
// typically the same pool backing a PgStore, obtained via PgStore.Pool().
func NewEmbeddingWorker(pool *pgxpool.Pool, embedding *EmbeddingService) *EmbeddingWorker {
	return &EmbeddingWorker{
		pool:         pool,
		embedding:    embedding,
		pollInterval: defaultPollInterval,
		visibility:   defaultVisibilityTimeout,
	}
}

// WithPollInterval overrides the default poll cadence.
func (w *EmbeddingWorker) WithPollInterval(d time.Duration) *EmbeddingWorker {
	w.pollInterval = d
	return w
}

// WithVisibilityTimeout overrides the default claim visibility window.
func (w *EmbeddingWorker) WithVisibilityTimeout(d time.Duration) *EmbeddingWorker {
	w.visibility = d
	return w
}

// Start runs the poll loop in a background goroutine until Stop is called
// or ctx is cancelled.
func (w *EmbeddingWorker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(runCtx)
	}()

	logger.InfoCF("memory", "embedding worker started", map[string]interface{}{
		"poll_interval_ms": w.pollInterval.Milliseconds(),
	})
}

// Stop cancels the poll loop and waits for it to exit.
func (w *EmbeddingWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	logger.InfoCF("memory", "embedding worker stopped", nil)
}

func (w *EmbeddingWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		processed, err := w.pollOnce(ctx)
		if err != nil {
			logger.ErrorCF("memory", "embedding worker poll error", map[string]interface{}{"error": err.Error()})
		}

		if processed {
			// Drain back-to-back before idling.
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce claims and processes a single queue job. Returns whether a job
// was claimed (regardless of whether embedding succeeded).
func (w *EmbeddingWorker) pollOnce(ctx context.Context) (bool, error) {
	job, err := claimNext(ctx, w.pool, w.visibility)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if job.Job.Dimensions != w.embedding.Dimensions() {
		// Left unarchived: the job belongs to another dimension's table
		// family and becomes claimable again after the visibility timeout.
		logger.WarnCF("memory", "skipping job with mismatched dimensions, leaving it in the queue", map[string]interface{}{
			"table":             job.Job.Table,
			"id":                job.Job.ID,
			"job_dimensions":    job.Job.Dimensions,
			"worker_dimensions": w.embedding.Dimensions(),
		})
		return true, nil
	}

	if err := w.process(ctx, job.Job); err != nil {
		logger.WarnCF("memory", "failed to embed queued job, will retry after visibility timeout", map[string]interface{}{
			"table": job.Job.Table,
			"id":    job.Job.ID,
			"error": err.Error(),
		})
		return true, nil
	}

	if err := archiveQueueRow(ctx, w.pool, job.QueueID); err != nil {
		return true, fmt.Errorf("archiving job %d: %w", job.QueueID, err)
	}

	logger.DebugCF("memory", "embedded queued job", map[string]interface{}{
		"table": job.Job.Table,
		"id":    job.Job.ID,
	})
	return true, nil
}

func (w *EmbeddingWorker) process(ctx context.Context, job EmbeddingJob) error {
	vector, err := w.embedding.Embed(ctx, job.Content)
	if err != nil {
		return fmt.Errorf("computing embedding: %w", err)
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE `+job.Table+` SET embedding = $1, updated_at = now() WHERE id = $2`,
		pgvector.NewVector(vector), job.ID)
	if err != nil {
		return fmt.Errorf("writing back embedding: %w", err)
	}
	return nil
}
