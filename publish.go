package agentworld

import (
	"encoding/json"
	"strings"
)

// toolResultEnvelopeType discriminates enhanced tool-result payloads
// embedded in message content.
const toolResultEnvelopeType = "tool_result"

// ToolResultEnvelope is the enhanced payload carried inside a message's
// content when a client (or the HITL gateway) routes a tool decision back
// to an agent. Content holds the decision JSON as a string.
type ToolResultEnvelope struct {
	Type       string `json:"__type"`
	ToolCallID string `json:"tool_call_id"`
	AgentID    string `json:"agent_id"`
	Content    string `json:"content"`
}

// ToolDecision is the decision JSON inside a ToolResultEnvelope.
type ToolDecision struct {
	ToolCallID       string          `json:"tool_call_id"`
	Decision         string          `json:"decision"` // "approve", "deny"
	Scope            string          `json:"scope,omitempty"`
	ToolName         string          `json:"tool_name,omitempty"`
	ToolArgs         json.RawMessage `json:"tool_args,omitempty"`
	WorkingDirectory string          `json:"working_directory,omitempty"`
}

// ParseMessageContent decodes an enhanced tool-result envelope from raw
// message content. Returns ok=false for plain text.
func ParseMessageContent(content string) (ToolResultEnvelope, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, `"__type"`) {
		return ToolResultEnvelope{}, false
	}
	var env ToolResultEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return ToolResultEnvelope{}, false
	}
	if env.Type != toolResultEnvelopeType {
		return ToolResultEnvelope{}, false
	}
	return env, true
}

// canonicalSender normalizes user-ish sender ids to the canonical "human"
// form so all clients agree on the sender string.
func canonicalSender(sender string) string {
	lower := strings.ToLower(sender)
	if lower == SenderHuman || strings.HasPrefix(lower, "user") {
		return SenderHuman
	}
	return sender
}

// roleForMessage derives the message role from sender and envelope
// presence.
func roleForMessage(sender string, isEnvelope bool) string {
	if isEnvelope {
		return "tool"
	}
	if canonicalSender(sender) == SenderHuman {
		return "user"
	}
	return "assistant"
}

// PublishMessage publishes content into the world's message channel with a
// fresh message id. See PublishMessageWithID for routing behavior.
func (w *World) PublishMessage(content, sender, chatID, replyTo string) MessageEvent {
	return w.PublishMessageWithID(content, sender, chatID, replyTo, NewID())
}

// PublishMessageWithID publishes a message with a pre-generated id (used by
// streaming so sse start/chunk/end correlate with the final message).
//
// Routing: enhanced tool-result envelopes pass through untouched. Plain
// human messages without a leading mention are narrowed to the world's
// main agent when one is configured.
func (w *World) PublishMessageWithID(content, sender, chatID, replyTo, messageID string) MessageEvent {
	sender = canonicalSender(sender)
	_, isEnvelope := ParseMessageContent(content)

	if !isEnvelope && sender == SenderHuman && w.MainAgent != "" && !HasAnyMentionAtBeginning(content) {
		content = "@" + w.MainAgent + ", " + content
	}
	if chatID == "" {
		chatID = w.CurrentChatID()
	}

	ev := MessageEvent{
		Content:          content,
		Sender:           sender,
		Role:             roleForMessage(sender, isEnvelope),
		Timestamp:        NowUnix(),
		MessageID:        messageID,
		ChatID:           chatID,
		ReplyToMessageID: replyTo,
	}
	if chatID != "" {
		w.bumpChatMessageCount(chatID)
	}
	w.bus.Emit(ChannelMessage, ev)
	return ev
}

// publishAssistantToolCall emits a message event representing an assistant
// tool-call so clients can render the pending call.
func (w *World) publishAssistantToolCall(agent *Agent, calls []ToolCall, status map[string]ToolCallState, chatID, replyTo, messageID string) MessageEvent {
	ev := MessageEvent{
		Content:          formatToolCallContent(calls),
		Sender:           agent.ID,
		Role:             "assistant",
		ToolCalls:        calls,
		ToolCallStatus:   status,
		Timestamp:        NowUnix(),
		MessageID:        messageID,
		ChatID:           chatID,
		ReplyToMessageID: replyTo,
	}
	if chatID != "" {
		w.bumpChatMessageCount(chatID)
	}
	w.bus.Emit(ChannelMessage, ev)
	return ev
}

// formatToolCallContent renders a display string for a pending tool call.
func formatToolCallContent(calls []ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("calling tool: ")
	b.WriteString(calls[0].Function.Name)
	if args := strings.TrimSpace(calls[0].Function.Arguments); args != "" {
		b.WriteString(" ")
		b.WriteString(args)
	}
	return b.String()
}

// PublishToolResult constructs the enhanced tool-result envelope for a
// decision and publishes it addressed to agentID. The receiving agent's
// tool handler verifies ownership of the tool_call_id before acting.
func (w *World) PublishToolResult(agentID string, decision ToolDecision, chatID string) (MessageEvent, error) {
	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return MessageEvent{}, err
	}
	env := ToolResultEnvelope{
		Type:       toolResultEnvelopeType,
		ToolCallID: decision.ToolCallID,
		AgentID:    agentID,
		Content:    string(decisionJSON),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return MessageEvent{}, err
	}
	return w.PublishMessage(string(raw), SenderHuman, chatID, ""), nil
}

// PublishSSE emits a streaming delta on the sse channel.
func (w *World) PublishSSE(ev SSEEvent) {
	w.bus.Emit(ChannelSSE, ev)
}

// PublishToolEvent emits a tool lifecycle event on the world channel.
func (w *World) PublishToolEvent(ev ToolEvent) {
	w.bus.Emit(ChannelWorld, ev)
}

// PublishSystem emits an out-of-band notification on the system channel.
func (w *World) PublishSystem(content, eventType, chatID string, payload json.RawMessage) SystemEvent {
	ev := SystemEvent{
		Content:   content,
		EventType: eventType,
		Timestamp: NowUnix(),
		MessageID: NewID(),
		ChatID:    chatID,
		Payload:   payload,
	}
	w.bus.Emit(ChannelSystem, ev)
	return ev
}
