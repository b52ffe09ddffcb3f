package agentworld

import (
	"encoding/json"
	"time"
)

// --- Domain records ---

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// Agent is a stateful conversational participant bound to a world.
// Memory is append-only and partitioned by chat id: when preparing LLM
// context, messages whose ChatID differs from the target chat are excluded.
type Agent struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Temperature  float64        `json:"temperature,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Status       AgentStatus    `json:"status"`
	AutoReply    bool           `json:"auto_reply"`
	LLMCallCount int            `json:"llm_call_count"`
	LastLLMCall  int64          `json:"last_llm_call,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	LastActive   int64          `json:"last_active,omitempty"`
	Memory       []AgentMessage `json:"memory,omitempty"`
}

// ChatMeta describes a chat session within a world.
type ChatMeta struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

// NewChatName is the placeholder name given to freshly created chats.
// Chats keeping this name are candidates for reuse and auto-titling.
const NewChatName = "New Chat"

// chatReuseWindow bounds how old an empty "New Chat" may be and still be
// reused instead of creating another one.
const chatReuseWindow = 5 * time.Minute

// Reusable reports whether the chat can be handed out again instead of
// creating a new one: still unnamed, never written to, and young enough.
func (c ChatMeta) Reusable(now time.Time) bool {
	return c.Name == NewChatName &&
		c.MessageCount == 0 &&
		now.Unix()-c.CreatedAt <= int64(chatReuseWindow/time.Second)
}

// --- Agent memory ---

// ToolCallState tracks completion of a single declared tool call.
// Complete transitions false→true exactly once: on tool result, tool error,
// cancellation, or guardrail.
type ToolCallState struct {
	Complete bool   `json:"complete"`
	Result   string `json:"result,omitempty"`
}

// AgentMessage is one row of an agent's memory, discriminated by Role.
// user: plain incoming message. assistant: agent output, optionally carrying
// ToolCalls and per-call status. tool: a tool result referencing ToolCallID.
type AgentMessage struct {
	Role             string                   `json:"role"` // "user", "assistant", "tool", "system"
	Content          string                   `json:"content"`
	Sender           string                   `json:"sender"`
	AgentID          string                   `json:"agent_id"` // owning agent
	ChatID           string                   `json:"chat_id,omitempty"`
	MessageID        string                   `json:"message_id"`
	ReplyToMessageID string                   `json:"reply_to_message_id,omitempty"`
	CreatedAt        int64                    `json:"created_at"`
	ToolCalls        []ToolCall               `json:"tool_calls,omitempty"`
	ToolCallID       string                   `json:"tool_call_id,omitempty"`
	ToolCallStatus   map[string]ToolCallState `json:"tool_call_status,omitempty"`
}

// --- LLM protocol types ---

// ToolCall is a structured LLM instruction to invoke a named tool.
// Arguments is the raw argument payload as emitted by the model; it is
// expected to be a JSON object but is frequently malformed and goes through
// RepairJSON before execution.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // always "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the function half of a ToolCall.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatMessage is a provider-facing conversation message.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatRequest is the provider input.
type ChatRequest struct {
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// ChatResponse is the provider output. A response with a non-empty ToolCalls
// slice is a tool-call response; otherwise it is a text response (possibly
// empty, which the orchestrator retries).
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption for a single LLM call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes a callable tool to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- Event payloads ---

// EventChannel names a typed event stream on a world's bus.
type EventChannel string

const (
	// ChannelMessage carries MessageEvent values.
	ChannelMessage EventChannel = "message"
	// ChannelSSE carries SSEEvent streaming deltas.
	ChannelSSE EventChannel = "sse"
	// ChannelWorld carries ToolEvent and ActivityEvent values.
	ChannelWorld EventChannel = "world"
	// ChannelSystem carries SystemEvent values.
	ChannelSystem EventChannel = "system"
	// ChannelCRUD carries CRUDEvent entity change notifications.
	ChannelCRUD EventChannel = "crud"
)

// MessageEvent is a chat message flowing through a world.
type MessageEvent struct {
	Content          string                   `json:"content"`
	Sender           string                   `json:"sender"`
	Role             string                   `json:"role,omitempty"`
	ToolCalls        []ToolCall               `json:"tool_calls,omitempty"`
	ToolCallID       string                   `json:"tool_call_id,omitempty"`
	ToolCallStatus   map[string]ToolCallState `json:"tool_call_status,omitempty"`
	Timestamp        int64                    `json:"timestamp"`
	MessageID        string                   `json:"message_id"`
	ChatID           string                   `json:"chat_id,omitempty"`
	ReplyToMessageID string                   `json:"reply_to_message_id,omitempty"`
}

// SSEEventType identifies a streaming delta kind.
type SSEEventType string

const (
	SSEStart SSEEventType = "start"
	SSEChunk SSEEventType = "chunk"
	SSEEnd   SSEEventType = "end"
	SSEError SSEEventType = "error"
)

// SSEEvent is a streaming delta for assistant output. Events with type
// start/chunk/end share the MessageID of the assistant message they stream.
type SSEEvent struct {
	AgentName string       `json:"agent_name"`
	Type      SSEEventType `json:"type"`
	Content   string       `json:"content,omitempty"`
	Error     string       `json:"error,omitempty"`
	MessageID string       `json:"message_id"`
	Usage     *Usage       `json:"usage,omitempty"`
	ChatID    string       `json:"chat_id,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
}

// ToolEventType identifies a tool lifecycle event kind.
type ToolEventType string

const (
	ToolStart    ToolEventType = "tool-start"
	ToolResult   ToolEventType = "tool-result"
	ToolErrorEv  ToolEventType = "tool-error"
	ToolProgress ToolEventType = "tool-progress"
)

// ToolExecution carries the payload of a tool lifecycle event.
type ToolExecution struct {
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id"`
	Input      string `json:"input,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	ResultSize int    `json:"result_size,omitempty"`
}

// ToolEvent is emitted on the world channel around tool execution.
type ToolEvent struct {
	AgentName     string        `json:"agent_name"`
	Type          ToolEventType `json:"type"`
	MessageID     string        `json:"message_id"`
	ChatID        string        `json:"chat_id,omitempty"`
	ToolExecution ToolExecution `json:"tool_execution"`
}

// SystemEvent is an out-of-band notification (errors, warnings, HITL
// requests, chat-title updates).
type SystemEvent struct {
	Content   string `json:"content"`
	EventType string `json:"event_type,omitempty"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id,omitempty"`
	// Payload carries structured data for typed system events
	// (e.g. hitl-option-request).
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CRUDEvent notifies clients of entity lifecycle changes.
type CRUDEvent struct {
	Operation  string `json:"operation"`   // "create", "update", "delete"
	EntityType string `json:"entity_type"` // "agent", "chat", "world"
	EntityID   string `json:"entity_id"`
	EntityData any    `json:"entity_data,omitempty"`
	ChatID     string `json:"chat_id,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// ActivityEventType identifies world activity transitions.
type ActivityEventType string

const (
	ActivityResponseStart ActivityEventType = "response-start"
	ActivityResponseEnd   ActivityEventType = "response-end"
	ActivityIdle          ActivityEventType = "idle"
)

// ActivityEvent is emitted on the world channel as processing pipelines
// start and finish. Idle (PendingOperations == 0) drives auto-titling.
type ActivityEvent struct {
	Type              ActivityEventType `json:"type"`
	PendingOperations int               `json:"pending_operations"`
	Source            string            `json:"source"`
	ActiveSources     []string          `json:"active_sources,omitempty"`
	ActivityID        string            `json:"activity_id"`
	Timestamp         int64             `json:"timestamp"`
}

// --- Well-known senders ---

const (
	// SenderHuman is the canonical human sender id. Publish normalizes
	// user-ish senders to this form so all clients agree.
	SenderHuman = "human"
	// SenderWorld marks messages originated by the world itself; agents
	// always respond to these.
	SenderWorld = "world"
	// SenderSystem marks system-originated messages; agents never respond.
	SenderSystem = "system"
)

// --- ChatMessage constructors ---

func UserChatMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemChatMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantChatMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultChatMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
