package agentworld

import (
	"context"
	"encoding/json"
	"sync/atomic"
)

// ToolContext carries orchestration state into a tool execution. Tools are
// trusted in-process callables; cancellation arrives via the ctx passed to
// Execute, which is derived from the processing handle's scope.
type ToolContext struct {
	// World is the world the call runs in.
	World *World
	// Agent is the calling agent. Messages is a snapshot of its memory at
	// dispatch time (read-only).
	Agent    *Agent
	Messages []AgentMessage
	// ToolCallID and ChatID identify the call for event correlation.
	ToolCallID string
	ChatID     string
	// WorkingDirectory is the trusted cwd resolved from
	// world.Variables["working_directory"]; path arguments must stay inside it.
	WorkingDirectory string
	// Progress, when non-nil, streams incremental output chunks. The
	// orchestrator forwards them as tool-progress events.
	Progress func(chunk string)
}

// ToolOutcome is the result of a tool execution. Error, when non-empty,
// marks the content as an error message.
type ToolOutcome struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Tool is one callable agent capability.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolOutcome, error)
}

// ToolRegistry holds the tools available to a world. The tool set is
// replaced by atomic swap (Refresh), so lookups never observe a partial
// update and need no lock.
type ToolRegistry struct {
	tools atomic.Pointer[map[string]Tool]
}

// NewToolRegistry creates a registry with the given tools.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{}
	r.Refresh(tools)
	return r
}

// Refresh atomically replaces the registered tool set.
func (r *ToolRegistry) Refresh(tools []Tool) {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Definition().Name] = t
	}
	r.tools.Store(&m)
}

// Lookup returns the tool registered under name.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	m := r.tools.Load()
	if m == nil {
		return nil, false
	}
	t, ok := (*m)[name]
	return t, ok
}

// Definitions returns the definitions of all registered tools.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	m := r.tools.Load()
	if m == nil {
		return nil
	}
	defs := make([]ToolDefinition, 0, len(*m))
	for _, t := range *m {
		defs = append(defs, t.Definition())
	}
	return defs
}
