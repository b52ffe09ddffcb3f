package agentworld

import (
	"context"
	"encoding/json"
	"strings"
)

// subscribeAgent attaches an agent's two message-channel subscriptions:
// the general message handler and the tool-result handler. Returns the
// unsubscribe functions.
func subscribeAgent(w *World, agent *Agent) []func() {
	msgUnsub := w.bus.On(ChannelMessage, func(event any) error {
		ev, ok := event.(MessageEvent)
		if !ok {
			return nil
		}
		w.handleAgentMessage(agent, ev)
		return nil
	})
	toolUnsub := w.bus.On(ChannelMessage, func(event any) error {
		ev, ok := event.(MessageEvent)
		if !ok {
			return nil
		}
		w.handleToolResultMessage(agent, ev)
		return nil
	})
	return []func(){msgUnsub, toolUnsub}
}

// handleAgentMessage is the general per-agent message handler. Tool-role
// messages are delegated to the tool handler; self-messages are skipped;
// duplicates (same message id already in memory) are skipped. Eligible
// messages are saved to memory and processed on a fresh goroutine so slow
// pipelines never stall bus dispatch.
func (w *World) handleAgentMessage(agent *Agent, ev MessageEvent) {
	if ev.Role == "tool" {
		return
	}
	if _, isEnvelope := ParseMessageContent(ev.Content); isEnvelope {
		return
	}
	if ev.Sender == agent.ID {
		return
	}
	if agent.Status == AgentInactive {
		return
	}
	if w.seenMessageID(agent, ev.MessageID) {
		return
	}

	ctx := context.Background()
	w.resetLLMCallCountIfNeeded(ctx, agent, ev)
	if !w.shouldRespond(agent, ev) {
		return
	}
	w.saveIncomingMessage(ctx, agent, ev)
	go w.processAgentMessage(agent, ev)
}

// handleToolResultMessage is the per-agent tool handler: it acts only on
// enhanced tool-result envelopes addressed to this agent, verifies the
// tool_call_id exists in the agent's own memory (unknown ids are
// rejected), applies the decision, and resumes continuation.
func (w *World) handleToolResultMessage(agent *Agent, ev MessageEvent) {
	env, ok := ParseMessageContent(ev.Content)
	if !ok {
		return
	}
	if env.AgentID != "" && env.AgentID != agent.ID {
		return
	}

	call, recChatID, complete, found := w.lookupToolCall(agent, env.ToolCallID)
	if !found {
		w.logger.Warn("tool result for unknown tool_call_id rejected", "agent", agent.ID, "tool_call_id", env.ToolCallID)
		return
	}
	if complete {
		return
	}

	chatID := ev.ChatID
	if chatID == "" {
		chatID = recChatID
	}

	var decision ToolDecision
	if err := json.Unmarshal([]byte(env.Content), &decision); err != nil {
		w.logger.Warn("tool decision parse failed", "agent", agent.ID, "tool_call_id", env.ToolCallID, "error", err)
		return
	}
	go w.applyToolDecision(agent, ev, call, decision, chatID)
}

// applyToolDecision executes an approved tool (or records the denial),
// completes the call status, and re-enters the continuation loop.
func (w *World) applyToolDecision(agent *Agent, ev MessageEvent, call ToolCall, decision ToolDecision, chatID string) {
	ctx := context.Background()
	result := "Tool call denied by user."
	if strings.EqualFold(decision.Decision, "approve") {
		result = w.executeApprovedTool(ctx, agent, call, decision, chatID)
	}

	if bridgeLogEnabled() {
		w.logger.Info("tool decision applied", "agent", agent.ID, "tool_call_id", call.ID, "decision", decision.Decision)
	}

	w.saveTool(ctx, agent, result, call.ID, chatID, ev.MessageID)
	w.completeToolCall(ctx, agent, call.ID, result)
	w.resumeAfterToolResult(agent, ev, chatID)
}

// executeApprovedTool runs the approved tool with the decision's
// arguments, falling back to the original call arguments when the
// decision carries none.
func (w *World) executeApprovedTool(ctx context.Context, agent *Agent, call ToolCall, decision ToolDecision, chatID string) string {
	name := decision.ToolName
	if name == "" {
		name = call.Function.Name
	}
	tool, ok := w.tools.Lookup(name)
	if !ok {
		return "Error executing tool: " + (&ToolError{Kind: ToolNotFound, Name: name}).Error()
	}
	rawArgs := string(decision.ToolArgs)
	if rawArgs == "" {
		rawArgs = call.Function.Arguments
	}
	args, err := RepairJSON(rawArgs)
	if err != nil {
		return "Error executing tool: " + err.Error()
	}
	wd := decision.WorkingDirectory
	if wd == "" {
		wd = w.WorkingDirectory()
	}
	outcome, err := safeExecuteTool(ctx, tool, args, ToolContext{
		World:            w,
		Agent:            agent,
		Messages:         w.memorySnapshot(agent),
		ToolCallID:       call.ID,
		ChatID:           chatID,
		WorkingDirectory: wd,
	})
	if err != nil {
		return "Error executing tool: " + err.Error()
	}
	if outcome.Error != "" {
		return "Error executing tool: " + outcome.Error
	}
	return outcome.Content
}

// seenMessageID reports, under the agent's lock, whether a message id is
// already present in memory (dedup for re-delivered events).
func (w *World) seenMessageID(agent *Agent, messageID string) bool {
	unlock := w.lockAgent(agent.ID)
	defer unlock()
	return hasMessageID(agent, messageID)
}

// hasMessageID scans memory for messageID. Callers synchronize access.
func hasMessageID(agent *Agent, messageID string) bool {
	if messageID == "" {
		return false
	}
	for i := len(agent.Memory) - 1; i >= 0; i-- {
		if agent.Memory[i].MessageID == messageID {
			return true
		}
	}
	return false
}

// subscribeAutoTitle attaches the world activity listener that titles the
// current chat once the world goes idle. Title generation runs off the
// dispatch goroutine; an empty result (cancellation) re-arms the chat for
// the next idle transition.
func subscribeAutoTitle(w *World) func() {
	return w.bus.On(ChannelWorld, func(event any) error {
		ev, ok := event.(ActivityEvent)
		if !ok || ev.Type != ActivityIdle || ev.PendingOperations != 0 {
			return nil
		}
		chatID := w.CurrentChatID()
		if chatID == "" {
			return nil
		}
		chat, ok := w.Chat(chatID)
		if !ok || chat.Name != NewChatName {
			return nil
		}
		if !w.markTitled(chatID) {
			return nil
		}
		go w.autoTitleChat(chatID)
		return nil
	})
}

func (w *World) autoTitleChat(chatID string) {
	ctx := context.Background()
	title := w.GenerateChatTitle(ctx, "", chatID)
	if title == "" {
		w.mu.Lock()
		delete(w.titled, chatID)
		w.mu.Unlock()
		return
	}
	w.RenameChat(ctx, chatID, title)
	w.PublishSystem(title, "chat-title-updated", chatID, nil)
}
