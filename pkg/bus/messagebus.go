package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/sipeed/picoclaw/pkg/logger"
)

// DefaultSessionBound is the default number of in-flight inbound messages
// permitted per session_key before PublishInbound blocks.
const DefaultSessionBound = 64

// InboundHandler processes one InboundMessage. Handlers for the same
// session_key are never invoked concurrently; handlers for different
// session_keys may run at the same time.
type InboundHandler func(InboundMessage)

// OutboundHandler delivers one OutboundMessage to its destination channel.
type OutboundHandler func(OutboundMessage) error

// MessageBus is the in-process pub/sub broker mediating inbound
// (channel→agent) and outbound (agent→channel) flows. It is created once,
// Started, used concurrently by any number of publishers, and Stopped.
type MessageBus struct {
	sessionBound int

	mu              sync.Mutex
	inboundHandlers map[string]InboundHandler
	outboundMu      sync.Mutex
	outboundHandlers map[string]OutboundHandler
	outboundLocks    map[string]*sync.Mutex

	sessMu  sync.Mutex
	session map[string]chan InboundMessage

	consumeCh chan InboundMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a MessageBus with the default per-session backpressure bound.
func New() *MessageBus {
	return NewWithSessionBound(DefaultSessionBound)
}

// NewWithSessionBound creates a MessageBus with a custom per-session
// in-flight bound.
func NewWithSessionBound(sessionBound int) *MessageBus {
	if sessionBound <= 0 {
		sessionBound = DefaultSessionBound
	}
	return &MessageBus{
		sessionBound:     sessionBound,
		inboundHandlers:  make(map[string]InboundHandler),
		outboundHandlers: make(map[string]OutboundHandler),
		outboundLocks:    make(map[string]*sync.Mutex),
		session:          make(map[string]chan InboundMessage),
		consumeCh:        make(chan InboundMessage, 256),
	}
}

// Start prepares the bus for delivery. Session worker goroutines are
// created lazily on first publish to that session; Start only establishes
// the cancellation context they select on.
func (b *MessageBus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx, b.cancel = context.WithCancel(ctx)
}

// Stop cancels all session workers and awaits their exit.
func (b *MessageBus) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

// SubscribeInbound registers a handler under id (idempotent: a second call
// with the same id replaces the first). All registered handlers run for
// every inbound message, in unspecified order, within that message's
// session-serialized turn.
func (b *MessageBus) SubscribeInbound(id string, handler InboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboundHandlers[id] = handler
}

// SubscribeOutbound registers the sink for a channel tag (idempotent:
// replaces any previously registered handler for the same tag).
func (b *MessageBus) SubscribeOutbound(channelTag string, handler OutboundHandler) {
	b.outboundMu.Lock()
	defer b.outboundMu.Unlock()
	b.outboundHandlers[channelTag] = handler
	if _, ok := b.outboundLocks[channelTag]; !ok {
		b.outboundLocks[channelTag] = &sync.Mutex{}
	}
}

// PublishInbound enqueues msg for delivery to the session worker for
// msg.SessionKey(). It returns once msg is accepted into that session's
// queue, not once handlers finish; it blocks (never drops) when the
// session's in-flight bound is exceeded, until ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	ch := b.sessionChan(msg.SessionKey())
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound is a pull-based alternative to SubscribeInbound: it
// returns the next inbound message from any session, in the order the
// bus observed it. It does not participate in the session-serialization
// guarantee given to SubscribeInbound handlers — callers that need
// per-session ordering combined with cross-session concurrency should use
// SubscribeInbound instead. Returns false if ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.consumeCh:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound routes msg to the handler registered for msg.Channel. If
// none is registered, it logs and drops. Dispatch to a given channel is
// serialized (per-channel FIFO) and is awaited: it returns only after the
// handler returns, so callers bridging synchronous protocols (the HTTP
// gateway) can rely on side effects (e.g. resolving a pending result
// holder) having completed.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) error {
	b.outboundMu.Lock()
	handler, ok := b.outboundHandlers[msg.Channel]
	lock := b.outboundLocks[msg.Channel]
	b.outboundMu.Unlock()

	if !ok {
		logger.WarnCF("bus", "no outbound handler registered for channel", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
		})
		return nil
	}

	lock.Lock()
	defer lock.Unlock()
	if err := handler(msg); err != nil {
		logger.ErrorCF("bus", "outbound dispatch failed", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

func (b *MessageBus) sessionChan(key string) chan InboundMessage {
	b.sessMu.Lock()
	defer b.sessMu.Unlock()

	if ch, ok := b.session[key]; ok {
		return ch
	}

	ch := make(chan InboundMessage, b.sessionBound)
	b.session[key] = ch
	b.wg.Add(1)
	go b.runSession(key, ch)
	return ch
}

func (b *MessageBus) runSession(key string, ch chan InboundMessage) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		ctx := b.ctx
		b.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}

		select {
		case msg := <-ch:
			b.deliver(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *MessageBus) deliver(msg InboundMessage) {
	select {
	case b.consumeCh <- msg:
	default:
		logger.WarnCF("bus", "consume buffer full, dropping legacy pull delivery", map[string]interface{}{
			"session_key": msg.SessionKey(),
		})
	}

	b.mu.Lock()
	handlers := make([]InboundHandler, 0, len(b.inboundHandlers))
	for _, h := range b.inboundHandlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.safeInvoke(msg, h)
	}
}

func (b *MessageBus) safeInvoke(msg InboundMessage, h InboundHandler) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("bus", "inbound handler panicked", map[string]interface{}{
				"session_key": msg.SessionKey(),
				"panic":       fmt.Sprintf("%v", r),
			})
		}
	}()
	h(msg)
}
