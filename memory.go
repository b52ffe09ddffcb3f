package agentworld

import "context"

// saveIncomingMessage appends an incoming message event to the agent's
// memory and persists the agent. Self-messages are skipped. Enhanced
// tool-result envelopes are decoded so memory stores the decision JSON as
// a tool record rather than the raw envelope. Failures are logged, never
// propagated out of the handler.
func (w *World) saveIncomingMessage(ctx context.Context, agent *Agent, ev MessageEvent) {
	if ev.Sender == agent.ID {
		return
	}
	chatID := ev.ChatID
	if chatID == "" {
		chatID = w.CurrentChatID()
	}

	rec := AgentMessage{
		Role:             "user",
		Content:          ev.Content,
		Sender:           ev.Sender,
		AgentID:          agent.ID,
		ChatID:           chatID,
		MessageID:        ev.MessageID,
		ReplyToMessageID: ev.ReplyToMessageID,
		CreatedAt:        NowUnix(),
	}
	if env, ok := ParseMessageContent(ev.Content); ok {
		rec.Role = "tool"
		rec.Content = env.Content
		rec.ToolCallID = env.ToolCallID
	}

	w.appendMemory(ctx, agent, rec)
}

// saveAssistant appends an assistant text record with sender = agent id.
func (w *World) saveAssistant(ctx context.Context, agent *Agent, content, messageID, chatID, replyTo string) {
	w.appendMemory(ctx, agent, AgentMessage{
		Role:             "assistant",
		Content:          content,
		Sender:           agent.ID,
		AgentID:          agent.ID,
		ChatID:           chatID,
		MessageID:        messageID,
		ReplyToMessageID: replyTo,
		CreatedAt:        NowUnix(),
	})
}

// appendMemory appends one record under the agent's lock and persists a
// snapshot taken inside the critical section.
func (w *World) appendMemory(ctx context.Context, agent *Agent, rec AgentMessage) {
	unlock := w.lockAgent(agent.ID)
	agent.Memory = append(agent.Memory, rec)
	agent.LastActive = NowUnix()
	snap := agentSnapshot(agent)
	unlock()
	w.persistAgent(ctx, snap)
}

// saveAssistantToolCall appends an assistant record declaring tool calls,
// with per-call status initialized incomplete.
func (w *World) saveAssistantToolCall(ctx context.Context, agent *Agent, calls []ToolCall, messageID, chatID, replyTo string) map[string]ToolCallState {
	status := make(map[string]ToolCallState, len(calls))
	recStatus := make(map[string]ToolCallState, len(calls))
	for _, c := range calls {
		status[c.ID] = ToolCallState{}
		recStatus[c.ID] = ToolCallState{}
	}
	// The memory record keeps its own status map; the returned one is the
	// caller's to embed in event payloads.
	w.appendMemory(ctx, agent, AgentMessage{
		Role:             "assistant",
		Content:          formatToolCallContent(calls),
		Sender:           agent.ID,
		AgentID:          agent.ID,
		ChatID:           chatID,
		MessageID:        messageID,
		ReplyToMessageID: replyTo,
		CreatedAt:        NowUnix(),
		ToolCalls:        calls,
		ToolCallStatus:   recStatus,
	})
	return status
}

// saveTool appends a tool record referencing toolCallID.
func (w *World) saveTool(ctx context.Context, agent *Agent, content, toolCallID, chatID, replyTo string) {
	w.appendMemory(ctx, agent, AgentMessage{
		Role:             "tool",
		Content:          content,
		Sender:           agent.ID,
		AgentID:          agent.ID,
		ChatID:           chatID,
		MessageID:        NewID(),
		ReplyToMessageID: replyTo,
		CreatedAt:        NowUnix(),
		ToolCallID:       toolCallID,
	})
}

// completeToolCall marks toolCallStatus[id] complete with result on the
// most recent assistant record declaring that call. The transition happens
// at most once per id.
func (w *World) completeToolCall(ctx context.Context, agent *Agent, toolCallID, result string) {
	unlock := w.lockAgent(agent.ID)
	for i := len(agent.Memory) - 1; i >= 0; i-- {
		rec := &agent.Memory[i]
		if rec.Role != "assistant" || rec.ToolCallStatus == nil {
			continue
		}
		state, ok := rec.ToolCallStatus[toolCallID]
		if !ok {
			continue
		}
		if state.Complete {
			break
		}
		rec.ToolCallStatus[toolCallID] = ToolCallState{Complete: true, Result: result}
		snap := agentSnapshot(agent)
		unlock()
		w.persistAgent(ctx, snap)
		return
	}
	unlock()
}

// lookupToolCall finds the assistant record declaring toolCallID under
// the agent's lock and reports the call, its chat, and whether its
// status already completed. Returned values are copies.
func (w *World) lookupToolCall(agent *Agent, toolCallID string) (call ToolCall, chatID string, complete, ok bool) {
	unlock := w.lockAgent(agent.ID)
	defer unlock()
	rec, c := findToolCall(agent, toolCallID)
	if rec == nil {
		return ToolCall{}, "", false, false
	}
	state := rec.ToolCallStatus[toolCallID]
	return *c, rec.ChatID, state.Complete, true
}

// findToolCall locates the assistant record declaring toolCallID, if any.
// Callers synchronize access to the agent's memory.
func findToolCall(agent *Agent, toolCallID string) (*AgentMessage, *ToolCall) {
	for i := len(agent.Memory) - 1; i >= 0; i-- {
		rec := &agent.Memory[i]
		if rec.Role != "assistant" {
			continue
		}
		for j := range rec.ToolCalls {
			if rec.ToolCalls[j].ID == toolCallID {
				return rec, &rec.ToolCalls[j]
			}
		}
	}
	return nil, nil
}

// resetLLMCallCountIfNeeded zeroes the turn counter when a human or world
// message arrives, restoring the agent's turn budget.
func (w *World) resetLLMCallCountIfNeeded(ctx context.Context, agent *Agent, ev MessageEvent) {
	sender := canonicalSender(ev.Sender)
	if sender != SenderHuman && sender != SenderWorld {
		return
	}
	unlock := w.lockAgent(agent.ID)
	if agent.LLMCallCount == 0 {
		unlock()
		return
	}
	agent.LLMCallCount = 0
	snap := agentSnapshot(agent)
	unlock()
	w.persistAgent(ctx, snap)
}

// contextMessages builds the LLM context under the agent's lock.
func (w *World) contextMessages(agent *Agent, chatID string) []ChatMessage {
	unlock := w.lockAgent(agent.ID)
	defer unlock()
	return prepareMessages(agent, chatID)
}

// memorySnapshot deep-copies the agent's memory for handoff outside the
// lock (tool contexts, diagnostics).
func (w *World) memorySnapshot(agent *Agent) []AgentMessage {
	unlock := w.lockAgent(agent.ID)
	defer unlock()
	return agentSnapshot(agent).Memory
}

// prepareMessages builds the LLM context for an agent and chat: system
// prompt first, then the agent's memory rows for that chat in append
// order. Tool rows keep their tool_call_id so the provider protocol stays
// well-formed. Callers synchronize access to the agent's memory.
func prepareMessages(agent *Agent, chatID string) []ChatMessage {
	out := make([]ChatMessage, 0, len(agent.Memory)+1)
	if agent.SystemPrompt != "" {
		out = append(out, SystemChatMessage(agent.SystemPrompt))
	}
	for _, rec := range agent.Memory {
		if rec.ChatID != chatID {
			continue
		}
		switch rec.Role {
		case "assistant":
			out = append(out, ChatMessage{
				Role:      "assistant",
				Content:   rec.Content,
				ToolCalls: rec.ToolCalls,
			})
		case "tool":
			out = append(out, ToolResultChatMessage(rec.ToolCallID, rec.Content))
		default:
			out = append(out, UserChatMessage(rec.Content))
		}
	}
	return out
}
