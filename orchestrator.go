package agentworld

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// maxToolHops bounds consecutive LLM→tool→LLM round-trips before the
	// guardrail injects a transient stop instruction and resets the counter.
	maxToolHops = 50
	// maxEmptyTextRetries / maxEmptyToolCallRetries bound re-asks when the
	// LLM returns empty text or invalid tool calls during continuation.
	maxEmptyTextRetries     = 2
	maxEmptyToolCallRetries = 2
	// toolResultPreviewLimit truncates tool-result event payloads for UI
	// rendering; memory keeps the full result.
	toolResultPreviewLimit = 4000

	turnLimitMarker     = "Turn limit reached"
	invalidToolCallName = "__invalid_tool_call__"
	canceledResult      = "canceled"
)

// toolIntentRe matches plain-text tool intents some models emit instead of
// structured tool calls: "calling tool: name {json args}".
var toolIntentRe = regexp.MustCompile(`(?i)^calling\s+tool\s*:\s*(\w+)\s*(\{[\s\S]*\})?$`)

// loopState is the trampoline state for one message's processing.
type loopState struct {
	hopCount             int
	emptyTextRetries     int
	emptyToolCallRetries int
	guardrailNote        string // transient, injected into the next context only
}

// shouldRespond decides whether an agent enters the orchestrator for an
// incoming message. Rules, in order: never to self; never to turn-limit
// notices; turn budget (publishing the hand-back notice on exhaustion);
// system never, world always; then mention routing — humans broadcast when
// unaddressed, everyone else must address the agent at a paragraph start.
func (w *World) shouldRespond(agent *Agent, ev MessageEvent) bool {
	if ev.Sender == agent.ID {
		return false
	}
	if strings.Contains(ev.Content, turnLimitMarker) {
		return false
	}
	if callCount := w.agentCallCount(agent); callCount >= w.TurnLimit {
		chatID := ev.ChatID
		if chatID == "" {
			chatID = w.CurrentChatID()
		}
		if chatID != "" {
			notice := fmt.Sprintf("@human Turn limit reached (%d LLM calls). Please take control of the conversation.", callCount)
			w.PublishMessage(notice, agent.ID, chatID, ev.MessageID)
		}
		return false
	}
	sender := canonicalSender(ev.Sender)
	if sender == SenderSystem {
		return false
	}
	if sender == SenderWorld {
		return true
	}

	any := ExtractMentions(ev.Content)
	leading := ParagraphBeginMentions(ev.Content)
	target := strings.ToLower(agent.ID)
	if sender == SenderHuman {
		if len(leading) == 0 {
			// Mid-text mentions address someone else; no mentions at all is
			// a broadcast.
			return len(any) == 0
		}
		return containsMention(leading, target)
	}
	return containsMention(leading, target)
}

// agentCallCount reads the turn counter under the agent's lock.
func (w *World) agentCallCount(agent *Agent) int {
	unlock := w.lockAgent(agent.ID)
	defer unlock()
	return agent.LLMCallCount
}

func containsMention(mentions []string, target string) bool {
	for _, m := range mentions {
		if m == target {
			return true
		}
	}
	return false
}

// processAgentMessage runs the full orchestrator pipeline for one incoming
// message: context prep, LLM call, tool dispatch, continuation until a
// text reply or guardrail. Runs on its own goroutine; the processing
// registry serializes per (chat, agent).
func (w *World) processAgentMessage(agent *Agent, ev MessageEvent) {
	chatID := ev.ChatID
	if chatID == "" {
		chatID = w.CurrentChatID()
	}
	w.runPipeline(agent, ev, chatID, true)
}

// resumeAfterToolResult re-enters the loop after an externally supplied
// tool result (HITL approval flow).
func (w *World) resumeAfterToolResult(agent *Agent, ev MessageEvent, chatID string) {
	w.runPipeline(agent, ev, chatID, false)
}

// runPipeline is the explicit trampoline over (response, hopCount,
// retries) state. initial selects between a fresh LLM call and a
// continuation call. All errors are recovered at this boundary:
// cancellation logs at info, everything else emits a system error event.
func (w *World) runPipeline(agent *Agent, ev MessageEvent, chatID string, initial bool) {
	endActivity := w.activity.Begin(agent.ID)
	defer endActivity()

	handle := w.processing.Begin(context.Background(), chatID, agent.ID)
	defer handle.Complete()
	ctx := handle.Context()

	var span Span
	if w.rt.Tracer != nil {
		ctx, span = w.rt.Tracer.Start(ctx, "orchestrator.process",
			StringAttr("agent.id", agent.ID),
			StringAttr("chat.id", chatID),
		)
		defer span.End()
	}

	st := &loopState{}
	continuation := !initial
	messageID := NewID()

	var resp ChatResponse
	var err error
	if initial {
		resp, err = w.callLLM(ctx, agent, w.contextMessages(agent, chatID), chatID, messageID)
	} else {
		resp, err = w.continueLLM(ctx, agent, chatID, messageID, st)
	}

	for {
		if err != nil {
			w.recoverPipelineError(err, agent, chatID, span)
			return
		}
		if handle.IsStopped() {
			w.logger.Info("processing stopped", "agent", agent.ID, "chat", chatID)
			return
		}

		// Plain-text tool-intent fallback during continuation.
		if continuation && len(resp.ToolCalls) == 0 {
			if call, ok := parseToolIntent(resp.Content); ok {
				resp = ChatResponse{ToolCalls: []ToolCall{call}, Usage: resp.Usage}
			}
		}

		if len(resp.ToolCalls) > 0 {
			named := namedToolCalls(resp.ToolCalls)
			if len(resp.ToolCalls) > 1 {
				w.logger.Warn("multiple tool calls returned; executing only the first", "agent", agent.ID, "count", len(resp.ToolCalls))
			}
			if len(named) == 0 {
				if !w.recoverMalformedTool(ctx, agent, resp.ToolCalls, chatID, ev.MessageID, messageID, st) {
					w.PublishSystem("Agent repeatedly returned invalid tool calls; stopping this response.", "warning", chatID, nil)
					return
				}
			} else {
				stopped := w.executeToolCall(ctx, handle, agent, named[0], ev, chatID, messageID)
				if stopped {
					return
				}
				st.hopCount++
			}
		} else {
			text := strings.TrimSpace(resp.Content)
			switch {
			case text == "" && !continuation:
				w.logger.Warn("empty text response", "agent", agent.ID, "chat", chatID)
				return
			case text == "":
				st.emptyTextRetries++
				if st.emptyTextRetries > maxEmptyTextRetries {
					w.PublishSystem("Agent returned an empty response repeatedly; stopping this response.", "warning", chatID, nil)
					return
				}
			default:
				w.handleTextResponse(ctx, agent, resp.Content, messageID, ev, chatID)
				return
			}
		}

		messageID = NewID()
		resp, err = w.continueLLM(ctx, agent, chatID, messageID, st)
		continuation = true
	}
}

// continueLLM rebuilds the context and calls the LLM again after a tool
// execution (or retry). The hop guardrail fires here: past maxToolHops it
// emits a system error, injects a transient user note, and resets the
// counter rather than aborting.
func (w *World) continueLLM(ctx context.Context, agent *Agent, chatID, messageID string, st *loopState) (ChatResponse, error) {
	if st.hopCount > maxToolHops {
		note := fmt.Sprintf("System error: tool continuation exceeded %d hops. Stop calling tools and summarize your progress so far.", maxToolHops)
		w.PublishSystem("[Error] "+note, "error", chatID, nil)
		w.PublishToolEvent(ToolEvent{
			AgentName: agent.ID,
			Type:      ToolErrorEv,
			MessageID: messageID,
			ChatID:    chatID,
			ToolExecution: ToolExecution{
				Error: note,
			},
		})
		st.guardrailNote = note
		st.hopCount = 0
	}

	messages := w.contextMessages(agent, chatID)
	if st.guardrailNote != "" {
		messages = append(messages, UserChatMessage(st.guardrailNote))
		st.guardrailNote = ""
	}
	return w.callLLM(ctx, agent, messages, chatID, messageID)
}

// handleTextResponse finalizes a text reply: strip self-mentions, apply
// auto-mention routing, append to memory, publish with the message id that
// streamed.
func (w *World) handleTextResponse(ctx context.Context, agent *Agent, text, messageID string, ev MessageEvent, chatID string) {
	sanitized := RemoveSelfMentions(text, agent.ID)
	final := sanitized
	if agent.AutoReply && ShouldAutoMention(sanitized, ev.Sender, agent.ID) {
		final = AddAutoMention(sanitized, ev.Sender)
	}
	w.saveAssistant(ctx, agent, final, messageID, chatID, ev.MessageID)
	w.PublishMessageWithID(final, agent.ID, chatID, ev.MessageID, messageID)
}

// executeToolCall runs one tool call end to end: persist the assistant
// record, announce it, resolve + parse + execute, record the result, and
// mark status complete. messageID is the id the producing LLM call
// streamed under, so sse chunks, tool events, and the published assistant
// message all correlate. Returns true when the pipeline was stopped and
// no continuation must run.
func (w *World) executeToolCall(ctx context.Context, handle *ProcessingHandle, agent *Agent, call ToolCall, ev MessageEvent, chatID, messageID string) (stopped bool) {
	status := w.saveAssistantToolCall(ctx, agent, []ToolCall{call}, messageID, chatID, ev.MessageID)
	if w.rt.Streaming {
		w.PublishSSE(SSEEvent{
			AgentName: agent.ID,
			Type:      SSEChunk,
			Content:   formatToolCallContent([]ToolCall{call}),
			MessageID: messageID,
			ChatID:    chatID,
			ToolCalls: []ToolCall{call},
		})
	}
	w.publishAssistantToolCall(agent, []ToolCall{call}, status, chatID, ev.MessageID, messageID)

	name := call.Function.Name
	tool, ok := w.tools.Lookup(name)
	if !ok {
		terr := &ToolError{Kind: ToolNotFound, Name: name}
		w.failToolCall(ctx, agent, call, chatID, messageID, terr.Error())
		return false
	}

	args, err := RepairJSON(call.Function.Arguments)
	if err != nil {
		w.failToolCall(ctx, agent, call, chatID, messageID, err.Error())
		return false
	}

	w.PublishToolEvent(ToolEvent{
		AgentName: agent.ID,
		Type:      ToolStart,
		MessageID: messageID,
		ChatID:    chatID,
		ToolExecution: ToolExecution{
			ToolName:   name,
			ToolCallID: call.ID,
			Input:      preview(string(args)),
		},
	})

	if handle.IsStopped() {
		w.cancelToolCall(ctx, agent, call, chatID, messageID, name)
		return true
	}

	tc := ToolContext{
		World:            w,
		Agent:            agent,
		Messages:         w.memorySnapshot(agent),
		ToolCallID:       call.ID,
		ChatID:           chatID,
		WorkingDirectory: w.WorkingDirectory(),
		Progress: func(chunk string) {
			w.PublishToolEvent(ToolEvent{
				AgentName: agent.ID,
				Type:      ToolProgress,
				MessageID: messageID,
				ChatID:    chatID,
				ToolExecution: ToolExecution{
					ToolName:   name,
					ToolCallID: call.ID,
					Result:     chunk,
				},
			})
		},
	}
	outcome, execErr := safeExecuteTool(ctx, tool, args, tc)

	// A stop during execution discards the result; the status record still
	// completes so resumed context stays well-formed.
	if handle.IsStopped() {
		w.cancelToolCall(ctx, agent, call, chatID, messageID, name)
		return true
	}

	if execErr != nil {
		w.failToolCall(ctx, agent, call, chatID, messageID, execErr.Error())
		return false
	}
	if outcome.Error != "" {
		w.failToolCall(ctx, agent, call, chatID, messageID, outcome.Error)
		return false
	}

	w.PublishToolEvent(ToolEvent{
		AgentName: agent.ID,
		Type:      ToolResult,
		MessageID: messageID,
		ChatID:    chatID,
		ToolExecution: ToolExecution{
			ToolName:   name,
			ToolCallID: call.ID,
			Result:     preview(outcome.Content),
			ResultSize: len(outcome.Content),
		},
	})
	w.saveTool(ctx, agent, outcome.Content, call.ID, chatID, messageID)
	w.completeToolCall(ctx, agent, call.ID, outcome.Content)
	return false
}

// failToolCall records a recoverable tool failure: a tool memory record
// with the user-visible error text, status completion, and a tool-error
// event. The loop continues afterwards.
func (w *World) failToolCall(ctx context.Context, agent *Agent, call ToolCall, chatID, messageID, errText string) {
	content := "Error executing tool: " + errText
	w.saveTool(ctx, agent, content, call.ID, chatID, messageID)
	w.completeToolCall(ctx, agent, call.ID, content)
	w.PublishToolEvent(ToolEvent{
		AgentName: agent.ID,
		Type:      ToolErrorEv,
		MessageID: messageID,
		ChatID:    chatID,
		ToolExecution: ToolExecution{
			ToolName:   call.Function.Name,
			ToolCallID: call.ID,
			Error:      errText,
		},
	})
}

// cancelToolCall marks a stopped call's status canceled and emits the
// terminal tool-error. No continuation runs afterwards.
func (w *World) cancelToolCall(ctx context.Context, agent *Agent, call ToolCall, chatID, messageID, name string) {
	w.saveTool(ctx, agent, canceledResult, call.ID, chatID, messageID)
	w.completeToolCall(ctx, agent, call.ID, canceledResult)
	w.PublishToolEvent(ToolEvent{
		AgentName: agent.ID,
		Type:      ToolErrorEv,
		MessageID: messageID,
		ChatID:    chatID,
		ToolExecution: ToolExecution{
			ToolName:   name,
			ToolCallID: call.ID,
			Error:      "canceled by user",
		},
	})
}

// recoverMalformedTool handles LLM tool-calls with empty names. Each
// attempt writes a synthetic assistant tool-call plus a matching tool
// error so every persisted tool_call keeps a paired tool message, then
// burns one retry. Returns false once the retry budget is exhausted.
func (w *World) recoverMalformedTool(ctx context.Context, agent *Agent, calls []ToolCall, chatID, replyTo, messageID string, st *loopState) bool {
	name := invalidToolCallName
	if len(calls) > 0 && calls[0].Function.Name != "" {
		name = calls[0].Function.Name
	}
	synthetic := ToolCall{
		ID:   NewID(),
		Type: "function",
		Function: ToolCallFunction{
			Name:      name,
			Arguments: "{}",
		},
	}
	w.saveAssistantToolCall(ctx, agent, []ToolCall{synthetic}, messageID, chatID, replyTo)
	w.failToolCall(ctx, agent, synthetic, chatID, messageID, "invalid tool call: missing tool name")

	st.emptyToolCallRetries++
	return st.emptyToolCallRetries <= maxEmptyToolCallRetries
}

// recoverPipelineError is the orchestrator's outer error boundary.
func (w *World) recoverPipelineError(err error, agent *Agent, chatID string, span Span) {
	if span != nil {
		span.Error(err)
	}
	if errors.Is(err, ErrProcessingCanceled) || errors.Is(err, context.Canceled) {
		w.logger.Info("processing canceled", "agent", agent.ID, "chat", chatID)
		return
	}
	w.logger.Error("processing failed", "agent", agent.ID, "chat", chatID, "error", err)
	w.PublishSystem("[Error] "+err.Error(), "error", chatID, nil)
}

// safeExecuteTool runs a tool and converts panics into execution errors.
func safeExecuteTool(ctx context.Context, tool Tool, args json.RawMessage, tc ToolContext) (outcome ToolOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ToolError{Kind: ToolExecFailed, Name: tc.ToolCallID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return tool.Execute(ctx, args, tc)
}

// namedToolCalls filters out calls with empty function names.
func namedToolCalls(calls []ToolCall) []ToolCall {
	out := calls[:0:0]
	for _, c := range calls {
		if c.Function.Name != "" {
			out = append(out, c)
		}
	}
	return out
}

// parseToolIntent detects the "calling tool: name {args}" plain-text
// pattern and synthesizes a structured call from it.
func parseToolIntent(text string) (ToolCall, bool) {
	m := toolIntentRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return ToolCall{}, false
	}
	args := "{}"
	if m[2] != "" {
		parsed, err := parseLooseObject(m[2])
		if err != nil {
			return ToolCall{}, false
		}
		args = string(parsed)
	}
	return ToolCall{
		ID:   NewID(),
		Type: "function",
		Function: ToolCallFunction{
			Name:      m[1],
			Arguments: args,
		},
	}, true
}

// preview truncates event payload text for UI rendering.
func preview(s string) string {
	if len(s) <= toolResultPreviewLimit {
		return s
	}
	return s[:toolResultPreviewLimit]
}
