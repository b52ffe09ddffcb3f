package agentworld

import (
	"log/slog"
	"os"
)

// Runtime bundles the process-wide collaborators passed to orchestrator
// entry points: storage backend, provider resolution, logging, and tracing.
// There are no package-level singletons; everything flows through here.
type Runtime struct {
	// Storage persists worlds, agents, chats, memory, and events.
	Storage Storage
	// Providers resolves (provider, model) pairs to LLM clients.
	Providers ProviderResolver
	// Logger is the structured logger. Nil means discard.
	Logger *slog.Logger
	// Tracer, when set, emits spans for orchestrator and tool operations.
	Tracer Tracer
	// Streaming enables SSE start/chunk/end emission during LLM calls.
	Streaming bool
	// DisableEventPersistence turns off the event-persistence subscriber.
	// Also settable via DISABLE_EVENT_PERSISTENCE=true.
	DisableEventPersistence bool
	// DefaultWorkingDirectory is the trusted cwd fallback when a world has
	// no working_directory variable.
	DefaultWorkingDirectory string
}

// normalize fills defaults so downstream code never nil-checks.
func (rt *Runtime) normalize() {
	if rt.Logger == nil {
		rt.Logger = nopLogger
	}
	if os.Getenv("DISABLE_EVENT_PERSISTENCE") == "true" {
		rt.DisableEventPersistence = true
	}
	if rt.DefaultWorkingDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			rt.DefaultWorkingDirectory = wd
		}
	}
}
