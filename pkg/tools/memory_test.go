package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/sipeed/picoclaw/pkg/memory"
)

func newTestMemory(t *testing.T) memory.Backend {
	t.Helper()
	store := memory.NewFileStore(t.TempDir())
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return store
}

func TestSaveMemoryTool_Execute_RequiresContent(t *testing.T) {
	tool := NewSaveMemoryTool(newTestMemory(t))
	result := tool.Execute(context.Background(), map[string]interface{}{})
	if !result.IsError {
		t.Error("expected error result for missing content")
	}
}

func TestSaveMemoryTool_Execute_SavesAndIsSilent(t *testing.T) {
	store := newTestMemory(t)
	tool := NewSaveMemoryTool(store)

	result := tool.Execute(context.Background(), map[string]interface{}{"content": "likes espresso"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if !result.Silent {
		t.Error("expected silent result")
	}

	got, _ := store.ReadToday(context.Background())
	if !strings.Contains(got, "likes espresso") {
		t.Errorf("expected note persisted, got %q", got)
	}
}

func TestUpdateLongTermMemoryTool_Execute_Replaces(t *testing.T) {
	store := newTestMemory(t)
	store.WriteLongTerm(context.Background(), "old fact")

	tool := NewUpdateLongTermMemoryTool(store)
	result := tool.Execute(context.Background(), map[string]interface{}{"content": "new fact"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}

	got, _ := store.ReadLongTerm(context.Background())
	if got != "new fact" {
		t.Errorf("expected replacement, got %q", got)
	}
}

func TestReadMemoryTool_Execute_UnknownScopeIsError(t *testing.T) {
	tool := NewReadMemoryTool(newTestMemory(t))
	result := tool.Execute(context.Background(), map[string]interface{}{"scope": "bogus"})
	if !result.IsError {
		t.Error("expected error for unknown scope")
	}
}

func TestReadMemoryTool_Execute_TodayEmptyHasPlaceholder(t *testing.T) {
	tool := NewReadMemoryTool(newTestMemory(t))
	result := tool.Execute(context.Background(), map[string]interface{}{"scope": "today"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if result.ForLLM != "(No notes for today)" {
		t.Errorf("expected placeholder, got %q", result.ForLLM)
	}
}
