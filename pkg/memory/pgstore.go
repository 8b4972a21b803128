package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgvectorpgx "github.com/pgvector/pgvector-go/pgx"

	"github.com/sipeed/picoclaw/pkg/logger"
)

// PgStore is the relational memory backend: Postgres + pgvector, with
// dimension-suffixed tables so switching embedding models provisions new
// tables without destroying prior data. It implements both Backend and
// SemanticBackend.
type PgStore struct {
	dsn                 string
	dimensions          int
	poolMinSize         int32
	poolMaxSize         int32
	semanticSearchLimit int

	dailyTable        string
	longTermTable     string
	conversationTable string
	searchFunc        string

	pool      *pgxpool.Pool
	embedding *EmbeddingService
}

// NewPgStore creates a relational memory store for the given dimension.
// Call Initialize before use.
func NewPgStore(dsn string, dimensions int, poolMinSize, poolMaxSize int32, semanticSearchLimit int) *PgStore {
	if semanticSearchLimit <= 0 {
		semanticSearchLimit = 10
	}
	return &PgStore{
		dsn:                 dsn,
		dimensions:          dimensions,
		poolMinSize:         poolMinSize,
		poolMaxSize:         poolMaxSize,
		semanticSearchLimit: semanticSearchLimit,
		dailyTable:          fmt.Sprintf("memory_daily_dim%d", dimensions),
		longTermTable:       fmt.Sprintf("memory_long_term_dim%d", dimensions),
		conversationTable:   fmt.Sprintf("memory_conversation_dim%d", dimensions),
		searchFunc:          fmt.Sprintf("memory_search_dim%d", dimensions),
	}
}

// SetEmbeddingService attaches the embedding service that powers
// GetMemoryContextSemantic. Set once by the composition root after both
// are constructed; this is a plain back-pointer, not a reference cycle
// that outlives process shutdown.
func (s *PgStore) SetEmbeddingService(svc *EmbeddingService) {
	s.embedding = svc
}

// Dimensions returns the configured embedding dimension for this store.
func (s *PgStore) Dimensions() int {
	return s.dimensions
}

// ConversationTable returns the dimension-suffixed conversation table name.
func (s *PgStore) ConversationTable() string {
	return s.conversationTable
}

// Pool exposes the underlying connection pool for the ingestor and worker,
// which need their own query paths against this store's tables.
func (s *PgStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Initialize opens the connection pool and idempotently ensures schema:
// the three dimension-suffixed tables, their indexes (including an HNSW
// cosine index per embedding column), the queue table, and the
// memory_search_dim<N> search function. Calling it twice is a no-op.
func (s *PgStore) Initialize(ctx context.Context) error {
	if s.pool != nil {
		return nil
	}

	cfg, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return fmt.Errorf("parsing postgres dsn: %w", err)
	}
	cfg.MinConns = s.poolMinSize
	cfg.MaxConns = s.poolMaxSize
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvectorpgx.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening postgres pool: %w", err)
	}
	s.pool = pool

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		s.pool = nil
		return err
	}

	logger.InfoCF("memory", "relational store initialized", map[string]interface{}{
		"dimensions": s.dimensions,
	})
	return nil
}

// Close releases the connection pool.
func (s *PgStore) Close(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *PgStore) ensureSchema(ctx context.Context) error {
	dim := s.dimensions
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			entry_date  DATE NOT NULL DEFAULT CURRENT_DATE,
			content     TEXT NOT NULL,
			embedding   vector(%d),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dailyTable, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_date ON %s (entry_date DESC)`, s.dailyTable, s.dailyTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING hnsw (embedding vector_cosine_ops) WITH (m=16, ef_construction=64)`, s.dailyTable, s.dailyTable),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			content     TEXT NOT NULL,
			embedding   vector(%d),
			version     INT NOT NULL DEFAULT 1,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.longTermTable, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING hnsw (embedding vector_cosine_ops) WITH (m=16, ef_construction=64)`, s.longTermTable, s.longTermTable),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			session_key TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			embedding   vector(%d),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.conversationTable, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (session_key, created_at DESC)`, s.conversationTable, s.conversationTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING hnsw (embedding vector_cosine_ops) WITH (m=16, ef_construction=64)`, s.conversationTable, s.conversationTable),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}

	if err := ensureQueueSchema(ctx, s.pool); err != nil {
		return err
	}

	return s.ensureSearchFunction(ctx)
}

func (s *PgStore) ensureSearchFunction(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %s(
			query_embedding vector(%d),
			match_limit INT DEFAULT 10,
			similarity_threshold FLOAT DEFAULT 0.3
		) RETURNS TABLE (
			source TEXT,
			source_id BIGINT,
			content TEXT,
			entry_date DATE,
			similarity FLOAT
		)
		LANGUAGE plpgsql AS $$
		BEGIN
			RETURN QUERY
			SELECT * FROM (
				(SELECT
					'daily'::TEXT AS source,
					d.id AS source_id,
					d.content,
					d.entry_date,
					(1 - (d.embedding <=> query_embedding))::FLOAT AS similarity
				FROM %s d
				WHERE d.embedding IS NOT NULL
				ORDER BY d.embedding <=> query_embedding
				LIMIT match_limit)
				UNION ALL
				(SELECT
					'long_term'::TEXT AS source,
					lt.id AS source_id,
					lt.content,
					NULL::DATE AS entry_date,
					(1 - (lt.embedding <=> query_embedding))::FLOAT AS similarity
				FROM %s lt
				WHERE lt.embedding IS NOT NULL
				ORDER BY lt.embedding <=> query_embedding
				LIMIT match_limit)
				UNION ALL
				(SELECT
					'conversation'::TEXT AS source,
					c.id AS source_id,
					c.role || ': ' || c.content,
					c.created_at::DATE AS entry_date,
					(1 - (c.embedding <=> query_embedding))::FLOAT AS similarity
				FROM %s c
				WHERE c.embedding IS NOT NULL
				ORDER BY c.embedding <=> query_embedding
				LIMIT match_limit)
			) combined
			WHERE combined.similarity >= similarity_threshold
			ORDER BY combined.similarity DESC
			LIMIT match_limit;
		END;
		$$`, s.searchFunc, s.dimensions, s.dailyTable, s.longTermTable, s.conversationTable)

	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensuring search function: %w", err)
	}
	return nil
}

// ReadToday returns the concatenation of today's daily rows, ordered by id.
func (s *PgStore) ReadToday(ctx context.Context) (string, error) {
	rows, err := s.pool.Query(ctx, `SELECT content FROM `+s.dailyTable+` WHERE entry_date = CURRENT_DATE ORDER BY id`)
	if err != nil {
		return "", fmt.Errorf("reading today: %w", err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", fmt.Errorf("scanning today row: %w", err)
		}
		parts = append(parts, content)
	}
	return strings.Join(parts, "\n"), rows.Err()
}

// AppendToday inserts one daily row and enqueues its embedding job within
// a single transaction, satisfying the invariant that a row and its queue
// message are committed together or not at all.
func (s *PgStore) AppendToday(ctx context.Context, content string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	if err := tx.QueryRow(ctx, `INSERT INTO `+s.dailyTable+` (content) VALUES ($1) RETURNING id`, content).Scan(&id); err != nil {
		return fmt.Errorf("inserting daily row: %w", err)
	}

	if err := enqueueEmbeddingJob(ctx, tx, EmbeddingJob{Table: s.dailyTable, ID: id, Content: content, Dimensions: s.dimensions}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ReadLongTerm returns the max-version row's content, or "".
func (s *PgStore) ReadLongTerm(ctx context.Context) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `SELECT content FROM `+s.longTermTable+` ORDER BY version DESC LIMIT 1`).Scan(&content)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading long-term: %w", err)
	}
	return content, nil
}

// WriteLongTerm inserts a new, monotonically-versioned long-term row and
// enqueues its embedding job, in one transaction.
func (s *PgStore) WriteLongTerm(ctx context.Context, content string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning write transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var nextVersion int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM `+s.longTermTable).Scan(&nextVersion); err != nil {
		return fmt.Errorf("computing next version: %w", err)
	}

	var id int64
	if err := tx.QueryRow(ctx, `INSERT INTO `+s.longTermTable+` (content, version) VALUES ($1, $2) RETURNING id`, content, nextVersion).Scan(&id); err != nil {
		return fmt.Errorf("inserting long-term row: %w", err)
	}

	if err := enqueueEmbeddingJob(ctx, tx, EmbeddingJob{Table: s.longTermTable, ID: id, Content: content, Dimensions: s.dimensions}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetRecentMemories groups daily rows from the last `days` days by date,
// most recent first, joined with a horizontal-rule separator.
func (s *PgStore) GetRecentMemories(ctx context.Context, days int) (string, error) {
	if days <= 0 {
		return "", nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	rows, err := s.pool.Query(ctx, `
		SELECT entry_date, content FROM `+s.dailyTable+`
		WHERE entry_date >= $1
		ORDER BY entry_date DESC, id`, cutoff)
	if err != nil {
		return "", fmt.Errorf("reading recent memories: %w", err)
	}
	defer rows.Close()

	type group struct {
		date    string
		entries []string
	}
	var order []string
	byDate := make(map[string]*group)

	for rows.Next() {
		var entryDate time.Time
		var content string
		if err := rows.Scan(&entryDate, &content); err != nil {
			return "", fmt.Errorf("scanning recent row: %w", err)
		}
		key := entryDate.Format("2006-01-02")
		g, ok := byDate[key]
		if !ok {
			g = &group{date: key}
			byDate[key] = g
			order = append(order, key)
		}
		g.entries = append(g.entries, content)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	var parts []string
	for _, key := range order {
		g := byDate[key]
		parts = append(parts, fmt.Sprintf("# %s\n\n%s", g.date, strings.Join(g.entries, "\n")))
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}

// GetMemoryContext composes the non-semantic context: long-term memory
// then today's notes, identical shape to the file backend.
func (s *PgStore) GetMemoryContext(ctx context.Context) (string, error) {
	var parts []string

	longTerm, err := s.ReadLongTerm(ctx)
	if err != nil {
		return "", err
	}
	if longTerm != "" {
		parts = append(parts, "## Long-term Memory\n"+longTerm)
	}

	todayContent, err := s.ReadToday(ctx)
	if err != nil {
		return "", err
	}
	if todayContent != "" {
		parts = append(parts, "## Today's Notes\n"+todayContent)
	}

	return strings.Join(parts, "\n\n"), nil
}

// SemanticResult is one row returned by the memory_search_dim<N> function.
type SemanticResult struct {
	Source     string
	SourceID   int64
	Content    string
	EntryDate  *time.Time
	Similarity float64
}

// SemanticSearch calls the dimension's search function with a precomputed
// query embedding.
func (s *PgStore) SemanticSearch(ctx context.Context, queryEmbedding []float32, limit int) ([]SemanticResult, error) {
	if limit <= 0 {
		limit = s.semanticSearchLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source, source_id, content, entry_date, similarity FROM `+s.searchFunc+`($1::vector, $2)`,
		pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var results []SemanticResult
	for rows.Next() {
		var r SemanticResult
		var entryDate *time.Time
		if err := rows.Scan(&r.Source, &r.SourceID, &r.Content, &entryDate, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning semantic result: %w", err)
		}
		r.EntryDate = entryDate
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetMemoryContextSemantic composes semantically-ranked context. It falls
// back to the non-semantic context when no embedding service is attached,
// when embedding the query fails, or when the search returns nothing.
func (s *PgStore) GetMemoryContextSemantic(ctx context.Context, query string) (string, error) {
	if s.embedding == nil {
		return s.GetMemoryContext(ctx)
	}

	queryEmbedding, err := s.embedding.Embed(ctx, query)
	if err != nil {
		logger.WarnCF("memory", "semantic query embedding failed, falling back", map[string]interface{}{"error": err.Error()})
		return s.GetMemoryContext(ctx)
	}

	results, err := s.SemanticSearch(ctx, queryEmbedding, s.semanticSearchLimit)
	if err != nil {
		logger.WarnCF("memory", "semantic search failed, falling back", map[string]interface{}{"error": err.Error()})
		return s.GetMemoryContext(ctx)
	}
	if len(results) == 0 {
		return s.GetMemoryContext(ctx)
	}

	var parts []string

	longTerm, err := s.ReadLongTerm(ctx)
	if err != nil {
		return "", err
	}
	if longTerm != "" {
		parts = append(parts, "## Long-term Memory\n"+longTerm)
	}

	var semanticParts []string
	for _, r := range results {
		dateInfo := ""
		if r.EntryDate != nil {
			dateInfo = fmt.Sprintf(" (%s)", r.EntryDate.Format("2006-01-02"))
		}
		semanticParts = append(semanticParts, fmt.Sprintf("- [%s%s sim=%.2f] %s", r.Source, dateInfo, r.Similarity, r.Content))
	}
	if len(semanticParts) > 0 {
		parts = append(parts, "## Relevant Memories (semantic)\n"+strings.Join(semanticParts, "\n"))
	}

	todayContent, err := s.ReadToday(ctx)
	if err != nil {
		return "", err
	}
	if todayContent != "" {
		parts = append(parts, "## Today's Notes\n"+todayContent)
	}

	return strings.Join(parts, "\n\n"), nil
}

var (
	_ Backend         = (*PgStore)(nil)
	_ SemanticBackend = (*PgStore)(nil)
)
