// Package llm defines the Provider interface for large language model
// backends. A provider wraps a remote or local model API behind a uniform
// completion interface so the response pipeline never couples to a specific
// SDK.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is one entry in the conversation history.
type Message struct {
	// Role is "user", "assistant", or "system".
	Role string

	// Content is the message text.
	Content string

	// Name optionally identifies the author within the role, e.g. the chat
	// username a user message came from.
	Name string
}

// CompletionRequest carries everything the model needs for one reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is the persona instruction injected ahead of the history.
	SystemPrompt string

	// Messages is the ordered conversation history; the last message drives
	// the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage is token accounting, when the backend reports it.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete generates a single reply for the request. It blocks until the
	// full response is available or ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
