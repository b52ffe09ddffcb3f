package openaicompat

import (
	"context"
	"strings"
	"testing"
)

func TestStreamSSEText(t *testing.T) {
	body := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
			"\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
			"data: {\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2}}\n" +
			"data: [DONE]\n")

	sink := make(chan string, 8)
	resp, err := StreamSSE(context.Background(), body, sink)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Hello" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	var chunks []string
	close(sink)
	for c := range sink {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 || chunks[0] != "Hel" || chunks[1] != "lo" {
		t.Errorf("sink chunks = %v", chunks)
	}
}

func TestStreamSSEToolCallFragments(t *testing.T) {
	// Tool call arguments arrive as string fragments keyed by index.
	body := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call-1\",\"function\":{\"name\":\"lookup\"}}]}}]}\n" +
			"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"q\\\":\"}}]}}]}\n" +
			"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"x\\\"}\"}}]}}]}\n" +
			"data: [DONE]\n")

	resp, err := StreamSSE(context.Background(), body, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call-1" || tc.Function.Name != "lookup" || tc.Function.Arguments != `{"q":"x"}` {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestStreamSSESkipsMalformedChunks(t *testing.T) {
	body := strings.NewReader(
		"data: not json at all\n" +
			": comment line\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
			"data: [DONE]\n")

	resp, err := StreamSSE(context.Background(), body, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestStreamSSEContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"stuck\"}}]}\n" +
			"data: [DONE]\n")
	sink := make(chan string) // unbuffered, no reader

	if _, err := StreamSSE(ctx, body, sink); err == nil {
		t.Error("cancelled context should abort the sink send")
	}
}
