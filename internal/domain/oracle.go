package domain

import "context"

// ChatMessage is one entry of condensed context submitted to the oracle.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the oracle round-trip input: a system instruction composed
// by the prompt composer plus the condensed conversation context.
type ChatRequest struct {
	Model    string        `json:"model"`
	System   string        `json:"system"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// StreamDelta is a single incremental fragment of a streaming oracle
// response. Done marks the finish signal; no further deltas follow it.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

// LLMProvider is the completion oracle: an opaque, possibly unreliable text
// completion endpoint.
type LLMProvider interface {
	// Chat submits the request and returns the full response text.
	Chat(ctx context.Context, req ChatRequest) (string, error)
	// Name returns the provider identifier.
	Name() string
}

// StreamingLLMProvider extends LLMProvider with incremental output.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream submits the request and returns a channel of deltas,
	// closed after the finish marker or on context cancellation.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}
