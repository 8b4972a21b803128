package agent

import (
	"context"
	"testing"
	"time"

	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/memory"
	"github.com/sipeed/picoclaw/pkg/providers"
	"github.com/sipeed/picoclaw/pkg/tools"
)

type stubProvider struct {
	content string
}

func (s *stubProvider) Chat(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	return &providers.LLMResponse{Content: s.content, FinishReason: "stop"}, nil
}

func (s *stubProvider) GetDefaultModel() string {
	return "stub-model"
}

func newTestAgent(t *testing.T, content string) (*Agent, *bus.MessageBus) {
	t.Helper()
	store := memory.NewFileStore(t.TempDir())
	store.Initialize(context.Background())

	msgBus := bus.New()
	ctx, cancel := context.WithCancel(context.Background())
	msgBus.Start(ctx)
	t.Cleanup(func() {
		cancel()
		msgBus.Stop()
	})

	a := New(msgBus, store, memory.NewNullIngestor(), &stubProvider{content: content}, tools.NewToolRegistry(), "stub-model")
	a.Subscribe()
	return a, msgBus
}

func TestAgent_HandleInbound_PublishesOutboundReply(t *testing.T) {
	_, msgBus := newTestAgent(t, "hello back")

	replies := make(chan bus.OutboundMessage, 1)
	msgBus.SubscribeOutbound("test-channel", func(msg bus.OutboundMessage) error {
		replies <- msg
		return nil
	})

	err := msgBus.PublishInbound(context.Background(), bus.InboundMessage{
		Channel:   "test-channel",
		ChatID:    "chat-1",
		Content:   "hi",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("publish inbound: %v", err)
	}

	select {
	case reply := <-replies:
		if reply.Content != "hello back" {
			t.Errorf("expected stub reply, got %q", reply.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound reply")
	}
}

func TestAgent_HandleInbound_StreamsWhenRequested(t *testing.T) {
	_, msgBus := newTestAgent(t, "streamed reply")

	streamCh := make(chan bus.StreamChunk, 4)
	err := msgBus.PublishInbound(context.Background(), bus.InboundMessage{
		Channel:    "test-channel",
		ChatID:     "chat-2",
		Content:    "hi",
		Timestamp:  time.Now(),
		StreamChan: streamCh,
	})
	if err != nil {
		t.Fatalf("publish inbound: %v", err)
	}

	select {
	case chunk := <-streamCh:
		if chunk.IsFinal || chunk.Content != "streamed reply" {
			t.Errorf("unexpected content chunk: %+v", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for content chunk")
	}

	select {
	case chunk := <-streamCh:
		if !chunk.IsFinal || chunk.Content != "" {
			t.Errorf("unexpected final chunk: %+v", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for final chunk")
	}
}

var _ providers.LLMProvider = (*stubProvider)(nil)
