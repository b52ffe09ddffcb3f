package agentworld

import (
	"context"
	"errors"
)

// callLLM runs one provider call for an agent, bumping its turn counter
// and emitting sse start/chunk/end correlated with messageID when
// streaming is enabled. Cancellation is re-checked after the call returns
// so a stopped pipeline never acts on a late response.
func (w *World) callLLM(ctx context.Context, agent *Agent, messages []ChatMessage, chatID, messageID string) (ChatResponse, error) {
	provider, err := w.resolveProvider(agent)
	if err != nil {
		return ChatResponse{}, err
	}

	unlock := w.lockAgent(agent.ID)
	agent.LLMCallCount++
	agent.LastLLMCall = NowUnix()
	callCount := agent.LLMCallCount
	snap := agentSnapshot(agent)
	unlock()
	w.persistAgent(ctx, snap)

	req := ChatRequest{
		Messages:    messages,
		Tools:       w.tools.Definitions(),
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	}

	var span Span
	if w.rt.Tracer != nil {
		ctx, span = w.rt.Tracer.Start(ctx, "llm.chat",
			StringAttr("agent.id", agent.ID),
			StringAttr("provider", provider.Name()),
			StringAttr("model", agent.Model),
			IntAttr("messages", len(req.Messages)),
		)
		defer span.End()
	}

	if bridgeLogEnabled() {
		w.logger.Info("llm call", "agent", agent.ID, "provider", provider.Name(), "model", agent.Model, "messages", len(req.Messages), "call_count", callCount)
	}

	var resp ChatResponse
	if w.rt.Streaming {
		resp, err = w.streamChat(ctx, provider, agent, req, chatID, messageID)
	} else {
		resp, err = provider.Chat(ctx, req)
	}
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		if errors.Is(err, context.Canceled) {
			return ChatResponse{}, ErrProcessingCanceled
		}
		return ChatResponse{}, err
	}
	if ctx.Err() != nil {
		return ChatResponse{}, ErrProcessingCanceled
	}
	if span != nil {
		span.SetAttr(
			IntAttr("usage.input_tokens", resp.Usage.InputTokens),
			IntAttr("usage.output_tokens", resp.Usage.OutputTokens),
			IntAttr("tool_calls", len(resp.ToolCalls)),
		)
	}
	return resp, nil
}

// streamChat wraps a provider stream in sse events. start, every chunk,
// and end share messageID so clients can buffer deltas per message.
func (w *World) streamChat(ctx context.Context, provider Provider, agent *Agent, req ChatRequest, chatID, messageID string) (ChatResponse, error) {
	w.PublishSSE(SSEEvent{
		AgentName: agent.ID,
		Type:      SSEStart,
		MessageID: messageID,
		ChatID:    chatID,
	})

	sink := make(chan string, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range sink {
			w.PublishSSE(SSEEvent{
				AgentName: agent.ID,
				Type:      SSEChunk,
				Content:   chunk,
				MessageID: messageID,
				ChatID:    chatID,
			})
		}
	}()

	resp, err := provider.ChatStream(ctx, req, sink)
	close(sink)
	<-done

	if err != nil {
		w.PublishSSE(SSEEvent{
			AgentName: agent.ID,
			Type:      SSEError,
			Error:     err.Error(),
			MessageID: messageID,
			ChatID:    chatID,
		})
		return ChatResponse{}, err
	}

	usage := resp.Usage
	w.PublishSSE(SSEEvent{
		AgentName: agent.ID,
		Type:      SSEEnd,
		Content:   resp.Content,
		MessageID: messageID,
		ChatID:    chatID,
		Usage:     &usage,
		ToolCalls: resp.ToolCalls,
	})
	return resp, nil
}

// resolveProvider routes the agent's provider/model pair, falling back to
// the world's chat LLM when the agent leaves them unset.
func (w *World) resolveProvider(agent *Agent) (Provider, error) {
	if w.rt.Providers == nil {
		return nil, errors.New("no provider resolver configured")
	}
	name, model := agent.Provider, agent.Model
	if name == "" {
		name, model = w.ChatProvider, w.ChatModel
	}
	return w.rt.Providers(name, model)
}
