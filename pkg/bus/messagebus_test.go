package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMessageBus_SameSessionDeliveredInOrder(t *testing.T) {
	b := New()
	b.Start(context.Background())
	defer b.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 10)

	b.SubscribeInbound("agent", func(msg InboundMessage) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, msg.Content)
		mu.Unlock()
		done <- struct{}{}
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg := InboundMessage{Channel: "test", ChatID: "c1", Content: itoa(i)}
		if err := b.PublishInbound(ctx, msg); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 5 {
		t.Fatalf("expected 5 delivered messages, got %d", len(order))
	}
	for i, v := range order {
		if v != itoa(i) {
			t.Errorf("out of order at %d: got %q", i, v)
		}
	}
}

func TestMessageBus_DifferentSessionsRunConcurrently(t *testing.T) {
	b := New()
	b.Start(context.Background())
	defer b.Stop()

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	// Each handler holds its session longer than the deadline below, so both
	// starts can only arrive in time if the two sessions run concurrently.
	b.SubscribeInbound("agent", func(msg InboundMessage) {
		start <- struct{}{}
		time.Sleep(500 * time.Millisecond)
		wg.Done()
	})

	ctx := context.Background()
	b.PublishInbound(ctx, InboundMessage{Channel: "a", ChatID: "1", Content: "x"})
	b.PublishInbound(ctx, InboundMessage{Channel: "b", ChatID: "1", Content: "y"})

	deadline := time.After(200 * time.Millisecond)
	for i := 0; i < 2; i++ {
		select {
		case <-start:
		case <-deadline:
			t.Fatal("timed out waiting for concurrent session starts")
		}
	}
	wg.Wait()
}

func TestMessageBus_PublishOutbound_NoHandlerLogsAndDrops(t *testing.T) {
	b := New()
	if err := b.PublishOutbound(OutboundMessage{Channel: "missing", ChatID: "1", Content: "hi"}); err != nil {
		t.Fatalf("expected nil error for unrouted outbound, got %v", err)
	}
}

func TestMessageBus_PublishOutbound_RoutesToChannel(t *testing.T) {
	b := New()
	received := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("openapi", func(msg OutboundMessage) error {
		received <- msg
		return nil
	})

	if err := b.PublishOutbound(OutboundMessage{Channel: "openapi", ChatID: "u1:abc", Content: "hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Content != "hello" {
			t.Errorf("expected content 'hello', got %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound delivery")
	}
}

func itoa(i int) string {
	digits := "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return "many"
}
