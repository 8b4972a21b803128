package tools

import (
	"context"
	"fmt"

	"github.com/sipeed/picoclaw/pkg/memory"
)

// SaveMemoryTool appends a note to today's daily memory.
type SaveMemoryTool struct {
	memory memory.Backend
}

// NewSaveMemoryTool creates a tool backed by the given memory store.
func NewSaveMemoryTool(store memory.Backend) *SaveMemoryTool {
	return &SaveMemoryTool{memory: store}
}

func (t *SaveMemoryTool) Name() string { return "save_memory" }

func (t *SaveMemoryTool) Description() string {
	return "Save important information to today's memory notes. " +
		"Use this to remember facts, preferences, decisions, or anything " +
		"worth recalling in future conversations. Each call appends to today's notes."
}

func (t *SaveMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The information to remember (markdown formatted)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *SaveMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return ErrorResult("content is required")
	}

	if err := t.memory.AppendToday(ctx, content); err != nil {
		return ErrorResult(fmt.Sprintf("error saving memory: %v", err))
	}
	return SilentResult("Memory saved successfully.")
}

// UpdateLongTermMemoryTool replaces the entire long-term memory document.
type UpdateLongTermMemoryTool struct {
	memory memory.Backend
}

// NewUpdateLongTermMemoryTool creates a tool backed by the given memory store.
func NewUpdateLongTermMemoryTool(store memory.Backend) *UpdateLongTermMemoryTool {
	return &UpdateLongTermMemoryTool{memory: store}
}

func (t *UpdateLongTermMemoryTool) Name() string { return "update_long_term_memory" }

func (t *UpdateLongTermMemoryTool) Description() string {
	return "Update the long-term memory with consolidated information. " +
		"This REPLACES the entire long-term memory content. " +
		"Use this to store persistent facts like user preferences, " +
		"important context, or summaries. Read current long-term memory first " +
		"before updating to avoid losing existing information."
}

func (t *UpdateLongTermMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The complete long-term memory content (markdown formatted)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *UpdateLongTermMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return ErrorResult("content is required")
	}

	if err := t.memory.WriteLongTerm(ctx, content); err != nil {
		return ErrorResult(fmt.Sprintf("error updating long-term memory: %v", err))
	}
	return SilentResult("Long-term memory updated successfully.")
}

// ReadMemoryTool reads today's notes, long-term memory, or a recent window.
type ReadMemoryTool struct {
	memory memory.Backend
}

// NewReadMemoryTool creates a tool backed by the given memory store.
func NewReadMemoryTool(store memory.Backend) *ReadMemoryTool {
	return &ReadMemoryTool{memory: store}
}

func (t *ReadMemoryTool) Name() string { return "read_memory" }

func (t *ReadMemoryTool) Description() string {
	return "Read memory contents. Can read today's notes, long-term memory, " +
		"or recent memories from the past N days."
}

func (t *ReadMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"scope": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"today", "long_term", "recent"},
				"description": "What to read: 'today' for today's notes, 'long_term' for persistent memory, 'recent' for last N days",
			},
			"days": map[string]interface{}{
				"type":        "integer",
				"description": "Number of days to look back (only used when scope='recent', default 7)",
			},
		},
		"required": []string{"scope"},
	}
}

func (t *ReadMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	scope, ok := args["scope"].(string)
	if !ok || scope == "" {
		return ErrorResult("scope is required")
	}

	days := 7
	if d, ok := args["days"].(float64); ok && int(d) > 0 {
		days = int(d)
	}

	switch scope {
	case "today":
		content, err := t.memory.ReadToday(ctx)
		if err != nil {
			return ErrorResult(fmt.Sprintf("error reading memory: %v", err))
		}
		if content == "" {
			content = "(No notes for today)"
		}
		return SilentResult(content)
	case "long_term":
		content, err := t.memory.ReadLongTerm(ctx)
		if err != nil {
			return ErrorResult(fmt.Sprintf("error reading memory: %v", err))
		}
		if content == "" {
			content = "(No long-term memory)"
		}
		return SilentResult(content)
	case "recent":
		content, err := t.memory.GetRecentMemories(ctx, days)
		if err != nil {
			return ErrorResult(fmt.Sprintf("error reading memory: %v", err))
		}
		if content == "" {
			content = fmt.Sprintf("(No memories in the last %d days)", days)
		}
		return SilentResult(content)
	default:
		return ErrorResult(fmt.Sprintf("unknown scope '%s', use 'today', 'long_term', or 'recent'", scope))
	}
}

var (
	_ Tool = (*SaveMemoryTool)(nil)
	_ Tool = (*UpdateLongTermMemoryTool)(nil)
	_ Tool = (*ReadMemoryTool)(nil)
)
