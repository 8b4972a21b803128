// Package agent wires the message bus, the memory subsystem, a tool
// registry, and an LLM provider into one inbound-message handler. It is
// deliberately small: the full multi-specialist reasoning loop, prompt
// template, and subagent spawning are out of scope here — this is the
// minimal glue that makes the bus and memory boundaries exercisable end to
// end.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/memory"
	"github.com/sipeed/picoclaw/pkg/providers"
	"github.com/sipeed/picoclaw/pkg/tools"
)

// MaxToolIterations bounds how many times a single turn will re-call the
// provider after executing tool calls, guarding against a model stuck
// calling tools forever.
const MaxToolIterations = 6

// Agent answers each inbound message (the bus serializes messages of one
// session; different sessions are handled concurrently): it composes memory context
// into a system prompt, calls the provider, executes any requested tools,
// and publishes the final reply as an outbound message (or a stream of
// chunks, when the inbound message carries a stream sink).
type Agent struct {
	msgBus   *bus.MessageBus
	memory   memory.Backend
	ingestor memory.ConversationIngestor
	provider providers.LLMProvider
	registry *tools.ToolRegistry
	model    string
}

// New creates an Agent. ingestor may be a memory.NewNullIngestor() when the
// active memory backend has no conversation table to write into.
func New(msgBus *bus.MessageBus, store memory.Backend, ingestor memory.ConversationIngestor, provider providers.LLMProvider, registry *tools.ToolRegistry, model string) *Agent {
	return &Agent{
		msgBus:   msgBus,
		memory:   store,
		ingestor: ingestor,
		provider: provider,
		registry: registry,
		model:    model,
	}
}

// Subscribe registers the agent as an inbound handler under id "agent".
func (a *Agent) Subscribe() {
	a.msgBus.SubscribeInbound("agent", a.handleInbound)
}

func (a *Agent) handleInbound(msg bus.InboundMessage) {
	ctx := context.Background()

	reply, err := a.respond(ctx, msg)
	if err != nil {
		logger.ErrorCF("agent", "turn failed", map[string]interface{}{
			"session_key": msg.SessionKey(),
			"error":       err.Error(),
		})
		reply = fmt.Sprintf("I ran into an error: %v", err)
	}

	if msg.WantsStream() {
		if reply != "" {
			msg.StreamChan <- bus.StreamChunk{Content: reply}
		}
		msg.StreamChan <- bus.StreamChunk{IsFinal: true, FinishReason: bus.FinishStop}
		return
	}

	if err := a.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	}); err != nil {
		logger.ErrorCF("agent", "failed to publish outbound reply", map[string]interface{}{
			"session_key": msg.SessionKey(),
			"error":       err.Error(),
		})
	}
}

func (a *Agent) respond(ctx context.Context, msg bus.InboundMessage) (string, error) {
	memoryContext, err := a.buildMemoryContext(ctx, msg.Content)
	if err != nil {
		logger.WarnCF("agent", "failed to load memory context, proceeding without it", map[string]interface{}{
			"error": err.Error(),
		})
	}

	messages := []providers.Message{
		{Role: "system", Content: systemPrompt(memoryContext)},
		{Role: "user", Content: msg.Content},
	}

	toolDefs := a.registry.ToProviderDefs()

	var finalContent string
	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		resp, err := a.provider.Chat(ctx, messages, toolDefs, a.model, nil)
		if err != nil {
			return "", fmt.Errorf("provider call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, call := range resp.ToolCalls {
			result := a.executeTool(ctx, msg, call)
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	if a.ingestor != nil {
		if err := a.ingestor.Ingest(ctx, msg.SessionKey(), msg.Content, finalContent); err != nil {
			logger.WarnCF("agent", "conversation ingest failed", map[string]interface{}{"error": err.Error()})
		}
	}

	return finalContent, nil
}

func (a *Agent) executeTool(ctx context.Context, msg bus.InboundMessage, call providers.ToolCall) string {
	name := call.Name
	args := call.Arguments
	if name == "" && call.Function != nil {
		name = call.Function.Name
		args = map[string]interface{}{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return fmt.Sprintf("error decoding arguments: %v", err)
			}
		}
	}

	result, ok := a.registry.ExecuteWithContext(ctx, name, msg.Channel, msg.ChatID, args)
	if !ok {
		return fmt.Sprintf("unknown tool: %s", name)
	}
	if result.IsError {
		return result.ForLLM
	}
	return result.ForLLM
}

func (a *Agent) buildMemoryContext(ctx context.Context, userContent string) (string, error) {
	if semantic, ok := a.memory.(memory.SemanticBackend); ok {
		return semantic.GetMemoryContextSemantic(ctx, userContent)
	}
	return a.memory.GetMemoryContext(ctx)
}

func systemPrompt(memoryContext string) string {
	prompt := "You are a helpful assistant with access to persistent memory and a small set of tools."
	if memoryContext != "" {
		prompt += "\n\n" + memoryContext
	}
	return prompt
}
