package httpgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/logger"
)

const channelName = "httpgateway"

// statusClientClosedRequest is nginx's de facto "client closed request"
// status. net/http has no named constant for it.
const statusClientClosedRequest = 499

// Gateway is the OpenAI-compatible HTTP channel: it exposes
// POST /v1/chat/completions and GET /health, translates each request into
// one bus.InboundMessage, and either blocks for the matching outbound
// reply (non-streaming) or relays StreamChunks as SSE events (streaming).
type Gateway struct {
	cfg    config.HTTPConfig
	bus    *bus.MessageBus
	server *http.Server

	mu      sync.Mutex
	pending map[string]chan string
}

// New creates a gateway channel. The bus must already be running; New
// subscribes this gateway's outbound handler immediately.
func New(cfg config.HTTPConfig, msgBus *bus.MessageBus) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		bus:     msgBus,
		pending: make(map[string]chan string),
	}
	msgBus.SubscribeOutbound(channelName, g.onOutbound)
	return g
}

// Start begins serving HTTP in a background goroutine. It waits 50ms for an
// immediate listen error and returns it; otherwise it returns nil without
// confirming that the listener is accepting connections.
func (g *Gateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("/health", g.handleHealth)

	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
	g.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("starting http gateway: %w", err)
	case <-time.After(50 * time.Millisecond):
	}

	logger.InfoCF("httpgateway", "server started", map[string]interface{}{"addr": addr})
	return nil
}

// Stop gracefully shuts down the HTTP server and cancels pending requests.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	for chatID, ch := range g.pending {
		close(ch)
		delete(g.pending, chatID)
	}
	g.mu.Unlock()

	if g.server == nil {
		return nil
	}
	if err := g.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http gateway: %w", err)
	}
	logger.InfoCF("httpgateway", "server stopped", nil)
	return nil
}

func (g *Gateway) onOutbound(msg bus.OutboundMessage) error {
	g.mu.Lock()
	ch, ok := g.pending[msg.ChatID]
	if ok {
		delete(g.pending, msg.ChatID)
	}
	g.mu.Unlock()

	if !ok {
		return nil
	}
	ch <- msg.Content
	close(ch)
	return nil
}

func (g *Gateway) verifyAPIKey(r *http.Request) bool {
	if len(g.cfg.APIKeys) == 0 {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(auth, "Bearer ")
	if !found {
		return false
	}
	for _, key := range g.cfg.APIKeys {
		if token == key {
			return true
		}
	}
	return false
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	if !g.verifyAPIKey(r) {
		writeError(w, http.StatusUnauthorized, "Invalid API key", "invalid_request_error")
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", "invalid_request_error")
		return
	}

	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required", "invalid_request_error")
		return
	}

	userContent := extractUserContent(req.Messages)
	if userContent == "" {
		writeError(w, http.StatusBadRequest, "No user message found", "invalid_request_error")
		return
	}

	user := req.User
	if user == "" {
		user = "anonymous"
	}

	requestID := "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	chatID := fmt.Sprintf("%s:%s", user, uuid.NewString()[:8])

	if req.Stream {
		g.handleStream(w, r, requestID, chatID, user, userContent)
		return
	}
	g.handleNonStream(w, r, requestID, chatID, user, userContent)
}

func (g *Gateway) handleNonStream(w http.ResponseWriter, r *http.Request, requestID, chatID, user, content string) {
	replyCh := make(chan string, 1)
	g.mu.Lock()
	g.pending[chatID] = replyCh
	g.mu.Unlock()

	inbound := bus.InboundMessage{
		Channel:   channelName,
		SenderID:  user,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
	}
	if err := g.bus.PublishInbound(r.Context(), inbound); err != nil {
		g.mu.Lock()
		delete(g.pending, chatID)
		g.mu.Unlock()
		writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}

	timeout := time.Duration(g.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case replyContent, ok := <-replyCh:
		if !ok {
			writeError(w, statusClientClosedRequest, "Request cancelled", "cancelled_error")
			return
		}
		resp := chatCompletionResponse{
			ID:      requestID,
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   g.cfg.ModelName,
			Choices: []choice{{
				Index:        0,
				Message:      choiceMessage{Role: "assistant", Content: replyContent},
				FinishReason: "stop",
			}},
			Usage: usage{
				PromptTokens:     estimateTokens(content),
				CompletionTokens: estimateTokens(replyContent),
				TotalTokens:      estimateTokens(content) + estimateTokens(replyContent),
			},
		}
		writeJSON(w, http.StatusOK, resp)
	case <-time.After(timeout):
		g.mu.Lock()
		delete(g.pending, chatID)
		g.mu.Unlock()
		writeError(w, http.StatusGatewayTimeout, "Request timeout", "timeout_error")
	}
}

func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request, requestID, chatID, user, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "internal_error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	streamCh := make(chan bus.StreamChunk, 16)
	inbound := bus.InboundMessage{
		Channel:    channelName,
		SenderID:   user,
		ChatID:     chatID,
		Content:    content,
		Timestamp:  time.Now(),
		StreamChan: streamCh,
	}

	if err := g.bus.PublishInbound(r.Context(), inbound); err != nil {
		writeSSEError(w, flusher, err.Error())
		return
	}

	timeout := time.Duration(g.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	for {
		select {
		case chunk, ok := <-streamCh:
			if !ok {
				writeSSEDone(w, flusher)
				return
			}
			g.writeChunk(w, flusher, requestID, chunk)
			if chunk.IsFinal {
				writeSSEDone(w, flusher)
				return
			}
		case <-time.After(timeout):
			writeSSEError(w, flusher, "Stream timeout")
			writeSSEDone(w, flusher)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (g *Gateway) writeChunk(w http.ResponseWriter, flusher http.Flusher, requestID string, chunk bus.StreamChunk) {
	sc := streamChoice{Index: 0, Delta: streamDelta{}}
	if chunk.IsFinal {
		reason := string(chunk.FinishReason)
		if reason == "" {
			reason = "stop"
		}
		sc.FinishReason = &reason
	} else if chunk.Content != "" {
		sc.Delta.Content = chunk.Content
	}

	payload := chatCompletionChunk{
		ID:      requestID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   g.cfg.ModelName,
		Choices: []streamChoice{sc},
	}
	writeSSE(w, flusher, payload)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, message string) {
	writeSSE(w, flusher, errorResponse{Error: apiError{Message: message}})
}

func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, errorResponse{Error: apiError{Message: message, Type: errType}})
}
