package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sipeed/picoclaw/pkg/logger"
)

// ConversationIngestor is implemented by anything that can record a
// dialogue turn for later semantic retrieval. It is intentionally
// best-effort: a failure to ingest must never fail the conversation turn
// that produced it.
type ConversationIngestor interface {
	Ingest(ctx context.Context, sessionKey, userMsg, assistantMsg string) error
}

// NullIngestor discards conversation turns. It backs the file memory
// backend, which has nowhere to put an embedding job anyway.
type NullIngestor struct{}

// NewNullIngestor returns a no-op ingestor.
func NewNullIngestor() *NullIngestor {
	return &NullIngestor{}
}

// Ingest does nothing.
func (NullIngestor) Ingest(ctx context.Context, sessionKey, userMsg, assistantMsg string) error {
	return nil
}

// PostgresIngestor writes both sides of a conversation turn into the
// relational store's conversation table and enqueues an embedding job for
// each, within a single transaction per message. Both messages of a turn
// go through one pooled connection, in sequence.
type PostgresIngestor struct {
	store *PgStore
}

// NewPostgresIngestor creates an ingestor writing into the given
// relational store.
func NewPostgresIngestor(store *PgStore) *PostgresIngestor {
	return &PostgresIngestor{store: store}
}

// Ingest inserts the user and assistant messages (skipping empty ones) and
// enqueues their embedding jobs. Errors are logged and swallowed: ingest
// failures must not break the conversation turn that triggered them.
func (i *PostgresIngestor) Ingest(ctx context.Context, sessionKey, userMsg, assistantMsg string) error {
	turns := []struct {
		role    string
		content string
	}{
		{"user", userMsg},
		{"assistant", assistantMsg},
	}

	conn, err := i.store.pool.Acquire(ctx)
	if err != nil {
		logger.WarnCF("memory", "failed to acquire connection for conversation ingest", map[string]interface{}{
			"session_key": sessionKey,
			"error":       err.Error(),
		})
		return nil
	}
	defer conn.Release()

	for _, turn := range turns {
		if turn.content == "" {
			continue
		}
		if err := i.ingestOne(ctx, conn, sessionKey, turn.role, turn.content); err != nil {
			logger.WarnCF("memory", "failed to ingest conversation turn", map[string]interface{}{
				"session_key": sessionKey,
				"role":        turn.role,
				"error":       err.Error(),
			})
		}
	}

	logger.DebugCF("memory", "ingested conversation turn", map[string]interface{}{"session_key": sessionKey})
	return nil
}

func (i *PostgresIngestor) ingestOne(ctx context.Context, conn *pgxpool.Conn, sessionKey, role, content string) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO `+i.store.conversationTable+` (session_key, role, content) VALUES ($1, $2, $3) RETURNING id`,
		sessionKey, role, content).Scan(&id)
	if err != nil {
		return fmt.Errorf("inserting conversation row: %w", err)
	}

	job := EmbeddingJob{
		Table:      i.store.conversationTable,
		ID:         id,
		Content:    fmt.Sprintf("%s: %s", role, content),
		Dimensions: i.store.dimensions,
	}
	if err := enqueueEmbeddingJob(ctx, tx, job); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

var (
	_ ConversationIngestor = (*NullIngestor)(nil)
	_ ConversationIngestor = (*PostgresIngestor)(nil)
)
