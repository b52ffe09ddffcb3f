package agentworld

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func pendingToolCallAgent(t *testing.T, w *World, chatID string) (*Agent, ToolCall) {
	t.Helper()
	agent := addTestAgent(w, "coder")
	call := ToolCall{
		ID:   "call-hitl",
		Type: "function",
		Function: ToolCallFunction{
			Name:      "lookup",
			Arguments: `{"q":"original"}`,
		},
	}
	w.saveAssistantToolCall(context.Background(), agent, []ToolCall{call}, NewID(), chatID, "")
	return agent, call
}

func TestToolResultApproveExecutesAndResumes(t *testing.T) {
	tool := &scriptTool{name: "lookup", outcome: ToolOutcome{Content: "approved result"}}
	provider := &mockProvider{responses: []ChatResponse{{Content: "continuing"}}}
	w := newTestWorld(t, testWorldOpts{provider: provider, tools: []Tool{tool}})
	msgs := collectMessages(w)
	chat := w.CreateChat(context.Background(), "test")
	agent, call := pendingToolCallAgent(t, w, chat.ID)

	if _, err := w.PublishToolResult(agent.ID, ToolDecision{
		ToolCallID: call.ID,
		Decision:   "approve",
	}, chat.ID); err != nil {
		t.Fatalf("publish tool result: %v", err)
	}

	reply := waitMessage(t, msgs, func(e MessageEvent) bool { return e.Sender == "coder" })
	if reply.Content != "@human continuing" {
		t.Errorf("resumed reply = %q", reply.Content)
	}

	if got := string(tool.received(0)); got != `{"q":"original"}` {
		t.Errorf("approved execution args = %s, want the original call arguments", got)
	}
	toolRow := agent.Memory[len(agent.Memory)-2]
	if toolRow.Role != "tool" || toolRow.Content != "approved result" {
		t.Errorf("tool row = %+v", toolRow)
	}
	state := agent.Memory[0].ToolCallStatus[call.ID]
	if !state.Complete || state.Result != "approved result" {
		t.Errorf("status = %+v", state)
	}
}

func TestToolResultApproveWithOverrideArgs(t *testing.T) {
	tool := &scriptTool{name: "lookup", outcome: ToolOutcome{Content: "ok"}}
	provider := &mockProvider{responses: []ChatResponse{{Content: "done"}}}
	w := newTestWorld(t, testWorldOpts{provider: provider, tools: []Tool{tool}})
	msgs := collectMessages(w)
	chat := w.CreateChat(context.Background(), "test")
	agent, call := pendingToolCallAgent(t, w, chat.ID)

	if _, err := w.PublishToolResult(agent.ID, ToolDecision{
		ToolCallID: call.ID,
		Decision:   "approve",
		ToolArgs:   json.RawMessage(`{"q":"edited"}`),
	}, chat.ID); err != nil {
		t.Fatalf("publish tool result: %v", err)
	}
	waitMessage(t, msgs, func(e MessageEvent) bool { return e.Sender == "coder" })

	if got := string(tool.received(0)); got != `{"q":"edited"}` {
		t.Errorf("args = %s, want the decision override", got)
	}
}

func TestToolResultDenyRecordsDenial(t *testing.T) {
	tool := &scriptTool{name: "lookup", outcome: ToolOutcome{Content: "must not run"}}
	provider := &mockProvider{responses: []ChatResponse{{Content: "understood"}}}
	w := newTestWorld(t, testWorldOpts{provider: provider, tools: []Tool{tool}})
	msgs := collectMessages(w)
	chat := w.CreateChat(context.Background(), "test")
	agent, call := pendingToolCallAgent(t, w, chat.ID)

	if _, err := w.PublishToolResult(agent.ID, ToolDecision{
		ToolCallID: call.ID,
		Decision:   "deny",
	}, chat.ID); err != nil {
		t.Fatalf("publish tool result: %v", err)
	}
	waitMessage(t, msgs, func(e MessageEvent) bool { return e.Sender == "coder" })

	toolRow := agent.Memory[len(agent.Memory)-2]
	if toolRow.Content != "Tool call denied by user." {
		t.Errorf("tool row = %q", toolRow.Content)
	}
	state := agent.Memory[0].ToolCallStatus[call.ID]
	if !state.Complete || state.Result != "Tool call denied by user." {
		t.Errorf("status = %+v", state)
	}
	tool.mu.Lock()
	executions := len(tool.args)
	tool.mu.Unlock()
	if executions != 0 {
		t.Error("denied tool must not execute")
	}
}

func TestToolResultUnknownCallRejected(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{{Content: "nope"}}}
	w := newTestWorld(t, testWorldOpts{provider: provider})
	msgs := collectMessages(w)
	chat := w.CreateChat(context.Background(), "test")
	agent, _ := pendingToolCallAgent(t, w, chat.ID)

	if _, err := w.PublishToolResult(agent.ID, ToolDecision{
		ToolCallID: "no-such-call",
		Decision:   "approve",
	}, chat.ID); err != nil {
		t.Fatalf("publish tool result: %v", err)
	}

	assertNoMessageFrom(t, msgs, "coder")
	if provider.callCount() != 0 {
		t.Error("unknown tool_call_id must not resume the pipeline")
	}
}

func TestToolResultForOtherAgentIgnored(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{{Content: "nope"}}}
	w := newTestWorld(t, testWorldOpts{provider: provider})
	msgs := collectMessages(w)
	chat := w.CreateChat(context.Background(), "test")
	_, call := pendingToolCallAgent(t, w, chat.ID)

	if _, err := w.PublishToolResult("someone-else", ToolDecision{
		ToolCallID: call.ID,
		Decision:   "approve",
	}, chat.ID); err != nil {
		t.Fatalf("publish tool result: %v", err)
	}

	assertNoMessageFrom(t, msgs, "coder")
	if provider.callCount() != 0 {
		t.Error("envelope addressed elsewhere must be ignored")
	}
}

func TestInactiveAgentIgnoresMessages(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{{Content: "nope"}}}
	w := newTestWorld(t, testWorldOpts{provider: provider})
	msgs := collectMessages(w)
	chat := w.CreateChat(context.Background(), "test")
	agent := w.AddAgent(context.Background(), Agent{ID: "coder", Status: AgentInactive, Provider: "mock"})

	w.PublishMessage("@coder wake up", SenderHuman, chat.ID, "")
	assertNoMessageFrom(t, msgs, "coder")
	if provider.callCount() != 0 {
		t.Error("inactive agent must not call the llm")
	}
	if len(agent.Memory) != 0 {
		t.Error("inactive agent must not record incoming messages")
	}
}

func TestDuplicateMessageIDDeduplicated(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{{Content: "first"}, {Content: "second"}}}
	w := newTestWorld(t, testWorldOpts{provider: provider})
	msgs := collectMessages(w)
	addTestAgent(w, "coder")
	chat := w.CreateChat(context.Background(), "test")

	id := NewID()
	w.PublishMessageWithID("@coder once", SenderHuman, chat.ID, "", id)
	waitMessage(t, msgs, func(e MessageEvent) bool { return e.Sender == "coder" })

	w.PublishMessageWithID("@coder once", SenderHuman, chat.ID, "", id)
	time.Sleep(200 * time.Millisecond)
	if provider.callCount() != 1 {
		t.Errorf("llm calls = %d; redelivered message id must be ignored", provider.callCount())
	}
}

func TestAutoTitleOnIdle(t *testing.T) {
	storage := newMockStorage()
	provider := &mockProvider{responses: []ChatResponse{
		{Content: "it works"},
		{Content: "Debugging The Widget"}, // title call
	}}
	w := newTestWorld(t, testWorldOpts{provider: provider, storage: storage})
	sys := collectSystem(w)
	addTestAgent(w, "coder")
	chat := w.EnsureChat(context.Background())
	if chat.Name != NewChatName {
		t.Fatalf("chat name = %q", chat.Name)
	}

	w.PublishMessage("@coder the widget is broken", SenderHuman, chat.ID, "")

	titled := waitSystem(t, sys, func(e SystemEvent) bool { return e.EventType == "chat-title-updated" })
	if titled.Content != "Debugging The Widget" {
		t.Errorf("title = %q", titled.Content)
	}
	got, _ := w.Chat(chat.ID)
	if got.Name != "Debugging The Widget" {
		t.Errorf("chat renamed to %q", got.Name)
	}
	if strings.Contains(got.Name, "title") {
		t.Errorf("unsanitized title %q", got.Name)
	}
}
