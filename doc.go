// Package agentworld is an event-driven multi-agent orchestration core for Go.
//
// A World is an isolated routing domain that owns agents, chats, a tool
// registry, and an event bus. Messages published to the bus are routed to
// agents by @mention; each eligible agent runs an orchestrator pipeline
// that calls its LLM provider, executes tool calls (with optional
// human-in-the-loop approval), and publishes the reply back to the bus.
// Chats group messages, carry per-agent turn budgets, and are titled
// automatically once the world goes idle.
//
// The package is interface-driven: Storage persists worlds, agents, chat
// memory, and the event log (SQLite, Postgres, file-tree, and in-memory
// backends live under store/); Provider abstracts the LLM backend
// (an OpenAI-compatible client lives under provider/openaicompat); Tool is
// the function-calling contract (a sandboxed shell tool lives under
// tools/shell). Tracing hooks accept any OpenTelemetry-backed Tracer via
// the observer package.
package agentworld
