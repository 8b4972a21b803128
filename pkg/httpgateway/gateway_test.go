package httpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/config"
)

func newTestGateway(t *testing.T) (*Gateway, *bus.MessageBus) {
	t.Helper()
	msgBus := bus.New()
	ctx, cancel := context.WithCancel(context.Background())
	msgBus.Start(ctx)
	t.Cleanup(func() {
		cancel()
		msgBus.Stop()
	})

	cfg := config.HTTPConfig{
		Host:      "127.0.0.1",
		Port:      0,
		ModelName: "test-model",
		Timeout:   2,
	}
	return New(cfg, msgBus), msgBus
}

func TestGateway_HandleChatCompletions_RequiresMessages(t *testing.T) {
	g, _ := newTestGateway(t)

	body, _ := json.Marshal(map[string]interface{}{"messages": []interface{}{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	g.handleChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGateway_HandleChatCompletions_NonStreamingRoundTrips(t *testing.T) {
	g, msgBus := newTestGateway(t)

	msgBus.SubscribeInbound("echo", func(msg bus.InboundMessage) {
		go func() {
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: channelName,
				ChatID:  msg.ChatID,
				Content: "echo: " + msg.Content,
			})
		}()
	})

	body, _ := json.Marshal(map[string]interface{}{
		"messages": []map[string]interface{}{{"role": "user", "content": "hello"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	g.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "echo: hello" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGateway_VerifyAPIKey_RejectsMissingBearer(t *testing.T) {
	g, _ := newTestGateway(t)
	g.cfg.APIKeys = []string{"secret"}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	if g.verifyAPIKey(req) {
		t.Error("expected rejection without Authorization header")
	}

	req.Header.Set("Authorization", "Bearer secret")
	if !g.verifyAPIKey(req) {
		t.Error("expected acceptance with matching bearer token")
	}
}

func TestGateway_HandleHealth_ReturnsOK(t *testing.T) {
	g, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	g.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestGateway_HandleNonStream_TimesOutWithoutReply(t *testing.T) {
	g, _ := newTestGateway(t)
	g.cfg.Timeout = 1

	body, _ := json.Marshal(map[string]interface{}{
		"messages": []map[string]interface{}{{"role": "user", "content": "no reply coming"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	start := time.Now()
	g.handleChatCompletions(w, req)
	if time.Since(start) < time.Second {
		t.Error("expected handler to wait roughly the configured timeout")
	}
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", w.Code)
	}
}
