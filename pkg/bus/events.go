package bus

import "time"

// InboundMessage is produced by a channel and consumed by the agent.
// It is immutable once published.
type InboundMessage struct {
	Channel    string
	SenderID   string
	ChatID     string
	Content    string
	Timestamp  time.Time
	Media      []string
	Metadata   map[string]string

	// StreamChan, if non-nil, is a sink the agent writes StreamChunks to
	// for this request. The bus never inspects its contents. Delivery also
	// places a copy of the message, sink included, in the bounded
	// ConsumeInbound buffer, where it stays until pulled. Ownership of the
	// channel belongs to the publisher; the HTTP gateway does not close it.
	StreamChan chan<- StreamChunk
}

// SessionKey is the bus's FIFO ordering granularity: channel + ":" + chat_id.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// WantsStream reports whether this message carries a streaming sink.
func (m InboundMessage) WantsStream() bool {
	return m.StreamChan != nil
}

// OutboundMessage is produced by the agent and consumed by the channel
// addressed by Channel+ChatID. Immutable once published.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Media    []string
	Metadata map[string]string
}

// FinishReason enumerates the terminal states of a streamed generation.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// StreamChunk is produced incrementally by the agent during streamed
// generation. The chunk with IsFinal=true is the last one published for a
// request; no chunk follows it.
type StreamChunk struct {
	Content      string
	IsFinal      bool
	FinishReason FinishReason
}
