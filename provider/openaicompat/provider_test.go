package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentworld/agentworld"
)

func TestProviderChat(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: &ChoiceMessage{Content: "pong"}}},
			Usage:   &Usage{PromptTokens: 3, CompletionTokens: 1},
		})
	}))
	defer server.Close()

	p := NewProvider("sk-test", "test-model", server.URL, WithName("groq"))
	resp, err := p.Chat(context.Background(), agentworld.ChatRequest{
		Messages: []agentworld.ChatMessage{{Role: "user", Content: "ping"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "pong" || resp.Usage.InputTokens != 3 {
		t.Errorf("resp = %+v", resp)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Model != "test-model" || gotBody.Stream {
		t.Errorf("request body = %+v", gotBody)
	}
	if p.Name() != "groq" {
		t.Errorf("name = %q", p.Name())
	}
}

func TestProviderChatHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewProvider("bad-key", "m", server.URL)
	_, err := p.Chat(context.Background(), agentworld.ChatRequest{
		Messages: []agentworld.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error on 401")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("error = %v", err)
	}
}

func TestProviderChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ChatRequest
		json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream || body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
			t.Errorf("stream request = %+v", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w,
			"data: {\"choices\":[{\"delta\":{\"content\":\"str\"}}]}\n"+
				"data: {\"choices\":[{\"delta\":{\"content\":\"eam\"}}]}\n"+
				"data: [DONE]\n")
	}))
	defer server.Close()

	p := NewProvider("", "m", server.URL)
	sink := make(chan string, 8)
	resp, err := p.ChatStream(context.Background(), agentworld.ChatRequest{
		Messages: []agentworld.ChatMessage{{Role: "user", Content: "hi"}},
	}, sink)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "stream" {
		t.Errorf("content = %q", resp.Content)
	}
	close(sink)
	var joined strings.Builder
	for c := range sink {
		joined.WriteString(c)
	}
	if joined.String() != "stream" {
		t.Errorf("sink = %q", joined.String())
	}
}

func TestProviderNoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: &ChoiceMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	// Local runtimes like Ollama take no key.
	p := NewProvider("", "llama3", server.URL)
	if _, err := p.Chat(context.Background(), agentworld.ChatRequest{
		Messages: []agentworld.ChatMessage{{Role: "user", Content: "hi"}},
	}); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "" {
		t.Errorf("authorization = %q, want none", gotAuth)
	}
}
