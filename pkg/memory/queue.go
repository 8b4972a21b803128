package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queueTable is the durable embedding-job queue. It stands in for the
// pgmq extension used by the reference implementation: no Go pgmq client
// exists, so jobs live in a plain table with visibility-timeout semantics
// implemented via a `visible_at` column and `FOR UPDATE SKIP LOCKED`.
const queueTable = "memory_embedding_queue"

// EmbeddingJob is the durable queue message: a pointer at one row that
// needs an embedding computed and written back.
type EmbeddingJob struct {
	Table      string `json:"table"`
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	Dimensions int    `json:"dimensions"`
}

func ensureQueueSchema(ctx context.Context, conn *pgxpool.Pool) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+queueTable+` (
			id          BIGSERIAL PRIMARY KEY,
			payload     JSONB NOT NULL,
			visible_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			archived_at TIMESTAMPTZ,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("creating queue table: %w", err)
	}
	_, err = conn.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_`+queueTable+`_claimable
			ON `+queueTable+` (visible_at)
			WHERE archived_at IS NULL`)
	if err != nil {
		return fmt.Errorf("creating queue claim index: %w", err)
	}
	return nil
}

func enqueueEmbeddingJob(ctx context.Context, tx pgx.Tx, job EmbeddingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding embedding job: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO `+queueTable+` (payload) VALUES ($1)`, payload)
	if err != nil {
		return fmt.Errorf("enqueuing embedding job: %w", err)
	}
	return nil
}

// claimedJob is one durable queue row made temporarily invisible to other
// claimants.
type claimedJob struct {
	QueueID int64
	Job     EmbeddingJob
}

// claimNext claims up to one visible, unarchived queue row and hides it
// for visibilityTimeout. Returns (nil, nil) if the queue is empty.
func claimNext(ctx context.Context, pool *pgxpool.Pool, visibilityTimeout time.Duration) (*claimedJob, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	var payload []byte
	err = tx.QueryRow(ctx, `
		UPDATE `+queueTable+`
		SET visible_at = now() + $1::interval
		WHERE id = (
			SELECT id FROM `+queueTable+`
			WHERE visible_at <= now() AND archived_at IS NULL
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, payload
	`, fmt.Sprintf("%d seconds", int(visibilityTimeout.Seconds()))).Scan(&id, &payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming queue row: %w", err)
	}

	// Commit the claim before decoding, so an undecodable payload stays
	// hidden for the visibility timeout instead of blocking the queue head.
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	var job EmbeddingJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decoding claimed job %d: %w", id, err)
	}

	return &claimedJob{QueueID: id, Job: job}, nil
}

func archiveQueueRow(ctx context.Context, pool *pgxpool.Pool, queueID int64) error {
	_, err := pool.Exec(ctx, `UPDATE `+queueTable+` SET archived_at = now() WHERE id = $1`, queueID)
	if err != nil {
		return fmt.Errorf("archiving queue row %d: %w", queueID, err)
	}
	return nil
}
