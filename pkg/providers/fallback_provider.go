package providers

import (
	"context"
	"fmt"

	"github.com/sipeed/picoclaw/pkg/logger"
)

// FallbackProvider chains two vendor-distinct LLMProviders behind one
// LLMProvider: cmd/gateway wires this with ClaudeProvider as primary and
// OpenAIProvider as fallback whenever OPENAI_API_KEY is configured, so a
// provider outage or a transient vendor error degrades the turn to a
// different backend instead of failing the whole chat completion.
type FallbackProvider struct {
	primary  namedProvider
	fallback namedProvider
}

type namedProvider struct {
	provider LLMProvider
	model    string
}

// NewFallbackProvider builds a two-vendor chain. The primary provider is
// called with whatever model the caller passes; primaryModel is only what
// GetDefaultModel reports. fallbackModel is the model passed to the
// fallback provider's call — it need not match the primary's since the two
// providers are typically different vendors.
func NewFallbackProvider(primary, fallback LLMProvider, primaryModel, fallbackModel string) *FallbackProvider {
	return &FallbackProvider{
		primary:  namedProvider{provider: primary, model: primaryModel},
		fallback: namedProvider{provider: fallback, model: fallbackModel},
	}
}

func (p *FallbackProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	resp, err := p.primary.provider.Chat(ctx, messages, tools, model, options)
	if err == nil {
		return resp, nil
	}
	p.logDegraded(model, err)

	resp, fbErr := p.fallback.provider.Chat(ctx, messages, tools, p.fallback.model, options)
	if fbErr != nil {
		return nil, fmt.Errorf("primary provider failed (%w) and fallback also failed: %v", err, fbErr)
	}
	return resp, nil
}

func (p *FallbackProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error) {
	resp, err := p.chatMaybeStream(ctx, p.primary.provider, messages, tools, model, options, onContent)
	if err == nil {
		return resp, nil
	}
	p.logDegraded(model, err)

	return p.chatMaybeStream(ctx, p.fallback.provider, messages, tools, p.fallback.model, options, onContent)
}

// chatMaybeStream calls provider.ChatStream when it implements
// StreamingProvider, and falls back to the plain Chat call otherwise — not
// every vendor SDK exposes incremental streaming.
func (p *FallbackProvider) chatMaybeStream(ctx context.Context, provider LLMProvider, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error) {
	if sp, ok := provider.(StreamingProvider); ok {
		return sp.ChatStream(ctx, messages, tools, model, options, onContent)
	}
	return provider.Chat(ctx, messages, tools, model, options)
}

func (p *FallbackProvider) logDegraded(model string, err error) {
	logger.WarnCF("providers", fmt.Sprintf("primary model %s unavailable, degrading to %s", model, p.fallback.model), map[string]interface{}{
		"error": err.Error(),
	})
}

func (p *FallbackProvider) GetDefaultModel() string {
	return p.primary.model
}

// Primary returns the underlying primary provider.
func (p *FallbackProvider) Primary() LLMProvider {
	return p.primary.provider
}

// Fallback returns the underlying fallback provider.
func (p *FallbackProvider) Fallback() LLMProvider {
	return p.fallback.provider
}

// FallbackModel returns the fallback model name.
func (p *FallbackProvider) FallbackModel() string {
	return p.fallback.model
}
