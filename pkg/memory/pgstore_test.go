package memory

import (
	"context"
	"os"
	"testing"
)

// pgstore tests only run against a real Postgres+pgvector instance. They
// are skipped by default so the suite stays runnable without external
// infrastructure; set MEMORY_TEST_POSTGRES_DSN to exercise them.
func testPgStore(t *testing.T) (*PgStore, context.Context) {
	t.Helper()
	dsn := os.Getenv("MEMORY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEMORY_TEST_POSTGRES_DSN not set, skipping relational store test")
	}
	ctx := context.Background()
	store := NewPgStore(dsn, 3, 1, 4, 5)
	if err := store.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { store.Close(ctx) })
	return store, ctx
}

func TestPgStore_AppendTodayThenReadToday_RoundTrips(t *testing.T) {
	store, ctx := testPgStore(t)

	if err := store.AppendToday(ctx, "pizza is great"); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.ReadToday(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == "" {
		t.Error("expected non-empty today content")
	}
}

func TestPgStore_WriteLongTerm_LastVersionWins(t *testing.T) {
	store, ctx := testPgStore(t)

	if err := store.WriteLongTerm(ctx, "version one"); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := store.WriteLongTerm(ctx, "version two"); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	got, err := store.ReadLongTerm(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "version two" {
		t.Errorf("expected latest version, got %q", got)
	}
}

func TestPgStore_GetMemoryContextSemantic_FallsBackWithoutEmbeddingService(t *testing.T) {
	store, ctx := testPgStore(t)
	store.WriteLongTerm(ctx, "user prefers dark mode")

	got, err := store.GetMemoryContextSemantic(ctx, "preferences")
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if got == "" {
		t.Error("expected fallback non-semantic context")
	}
}

var (
	_ = (*PgStore)(nil)
)
