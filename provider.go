package agentworld

import "context"

// Provider abstracts the LLM backend.
type Provider interface {
	// Chat sends a request and returns a complete response, which may carry
	// tool calls.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream behaves like Chat but pushes incremental text deltas into
	// sink as they arrive. The final response still carries the full content
	// and usage. Implementations must stop promptly when ctx is cancelled.
	ChatStream(ctx context.Context, req ChatRequest, sink chan<- string) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "anthropic").
	Name() string
}

// ProviderResolver selects the Provider for a given agent. Worlds use it to
// route each agent's provider/model pair to a concrete client, and the title
// generator to resolve the world's chat-LLM provider.
type ProviderResolver func(provider, model string) (Provider, error)
