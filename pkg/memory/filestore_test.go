package memory

import (
	"context"
	"strings"
	"testing"
)

func TestFileStore_AppendTodayThenReadToday_RoundTrips(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()
	if err := fs.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := fs.AppendToday(ctx, "pizza is great"); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := fs.ReadToday(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasSuffix(got, "pizza is great") {
		t.Errorf("expected content to end with appended text, got %q", got)
	}
	if !strings.HasPrefix(got, "# ") {
		t.Errorf("expected a '# ' date header on first write, got %q", got)
	}
}

func TestFileStore_AppendToday_SecondCallPreservesFirst(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()
	fs.Initialize(ctx)

	fs.AppendToday(ctx, "first note")
	fs.AppendToday(ctx, "second note")

	got, _ := fs.ReadToday(ctx)
	if !strings.Contains(got, "first note") || !strings.Contains(got, "second note") {
		t.Errorf("expected both notes present, got %q", got)
	}
	if !strings.HasSuffix(got, "second note") {
		t.Errorf("expected second note to be the suffix, got %q", got)
	}
}

func TestFileStore_ReadToday_EmptyWhenAbsent(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()
	fs.Initialize(ctx)

	got, err := fs.ReadToday(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestFileStore_WriteLongTerm_LastWriteWins(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()
	fs.Initialize(ctx)

	if err := fs.WriteLongTerm(ctx, "version one"); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := fs.WriteLongTerm(ctx, "version two"); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	got, err := fs.ReadLongTerm(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "version two" {
		t.Errorf("expected last write to win, got %q", got)
	}
}

func TestFileStore_GetRecentMemories_ZeroDaysIsEmpty(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()
	fs.Initialize(ctx)
	fs.AppendToday(ctx, "today's content")

	got, err := fs.GetRecentMemories(ctx, 0)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty string for days=0, got %q", got)
	}
}

func TestFileStore_GetRecentMemories_OneDayIsToday(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()
	fs.Initialize(ctx)
	fs.AppendToday(ctx, "today's content")

	got, err := fs.GetRecentMemories(ctx, 1)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if !strings.Contains(got, "today's content") {
		t.Errorf("expected today's content present, got %q", got)
	}
}

func TestFileStore_GetMemoryContext_EmptyWhenNothingStored(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()
	fs.Initialize(ctx)

	got, err := fs.GetMemoryContext(ctx)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty context, got %q", got)
	}
}

func TestFileStore_GetMemoryContext_ComposesBothSections(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()
	fs.Initialize(ctx)

	fs.WriteLongTerm(ctx, "user prefers dark mode")
	fs.AppendToday(ctx, "discussed deploy plan")

	got, err := fs.GetMemoryContext(ctx)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if !strings.Contains(got, "## Long-term Memory") || !strings.Contains(got, "user prefers dark mode") {
		t.Errorf("missing long-term section: %q", got)
	}
	if !strings.Contains(got, "## Today's Notes") || !strings.Contains(got, "discussed deploy plan") {
		t.Errorf("missing today section: %q", got)
	}
}

var _ Backend = (*FileStore)(nil)
