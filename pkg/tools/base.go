package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/sipeed/picoclaw/pkg/providers"
)

// Tool is anything the agent can call by name with JSON-schema-described
// arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ContextualTool is implemented by tools that need to know which
// channel/chat they're currently being invoked for, e.g. to default a
// destination when the caller omits one.
type ContextualTool interface {
	SetContext(channel, chatID string)
}

// ToolResult is what a tool hands back to the agent loop. ForLLM is what
// goes back into the conversation as the tool result message. ForUser and
// Silent are carried for tools that set them; the agent in pkg/agent uses
// only ForLLM and sends nothing to the user from a tool result.
type ToolResult struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

// ErrorResult builds a ToolResult reporting failure back to the model.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

// SilentResult builds a ToolResult whose content goes to the model only;
// nothing is pushed to the user as a side effect.
func SilentResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, Silent: true}
}

// ToolRegistry holds the set of tools available to one agent loop
// instance. Registration order is preserved for ToProviderDefs and List.
type ToolRegistry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool, overwriting any previous tool with the same name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Get returns the named tool, if registered.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools in registration order.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// GetSummaries returns a "name: description" line per tool, useful for
// logging and for building a tool-overview section of a system prompt.
func (r *ToolRegistry) GetSummaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]string, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		summaries = append(summaries, fmt.Sprintf("%s: %s", t.Name(), t.Description()))
	}
	return summaries
}

// ToProviderDefs converts every registered tool into the wire shape an
// LLMProvider expects.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		def := providers.ToolDefinition{Type: "function"}
		def.Function.Name = t.Name()
		def.Function.Description = t.Description()
		def.Function.Parameters = t.Parameters()
		defs = append(defs, def)
	}
	return defs
}

// ExecuteWithContext runs a ContextualTool's SetContext (if implemented)
// before Execute, so tools that default their destination from the
// inbound channel/chat behave correctly regardless of registration order.
func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name, channel, chatID string, args map[string]interface{}) (*ToolResult, bool) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	if ct, ok := tool.(ContextualTool); ok {
		ct.SetContext(channel, chatID)
	}
	return tool.Execute(ctx, args), true
}
