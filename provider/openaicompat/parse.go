package openaicompat

import "github.com/agentworld/agentworld"

// ParseResponse converts an OpenAI-format ChatResponse to an agentworld
// ChatResponse. It extracts content, tool calls, and usage from choices[0].
func ParseResponse(resp ChatResponse) (agentworld.ChatResponse, error) {
	var out agentworld.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = agentworld.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to agentworld
// ToolCalls. Arguments pass through verbatim, even when not valid JSON —
// the orchestrator's sanitizer owns malformed-argument recovery.
func ParseToolCalls(tcs []ToolCallRequest) []agentworld.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]agentworld.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, agentworld.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: agentworld.ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}
