package agentworld

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	titlePromptInstruction = "You turn conversations into concise titles (3-6 words). Reply with the title only."
	titleMaxTokens         = 20
	titleClipChars         = 240
	titleWindowTurns       = 24
	titleMaxChars          = 100
	titleFallback          = "Chat Session"
)

// lowQualityTitles are generic strings rejected by the title filter.
var lowQualityTitles = map[string]bool{
	"chat":           true,
	"new chat":       true,
	"conversation":   true,
	"untitled":       true,
	"title":          true,
	"assistant chat": true,
	"user chat":      true,
	"chat title":     true,
}

// GenerateChatTitle produces a short title for a chat from its stored
// messages, optionally seeded with content not yet persisted. A cancelled
// LLM call yields an empty string, which callers treat as "no change".
func (w *World) GenerateChatTitle(ctx context.Context, seedContent, chatID string) string {
	var history []AgentMessage
	if w.rt.Storage != nil {
		var err error
		history, err = w.rt.Storage.GetMemory(ctx, w.ID, chatID)
		if err != nil {
			w.logger.Warn("title: load memory failed", "chat", chatID, "error", err)
		}
	}
	if seedContent != "" {
		history = append(history, AgentMessage{Role: "user", Content: seedContent})
	}

	window := titlePromptWindow(history)
	title := ""
	if len(window) > 0 && w.rt.Providers != nil && w.ChatProvider != "" {
		var err error
		title, err = w.callTitleLLM(ctx, window)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrTitleCanceled) {
				return ""
			}
			w.logger.Warn("title: llm call failed", "chat", chatID, "error", err)
		}
	}

	title = sanitizeTitle(title)
	if isLowQualityTitle(title) {
		title = firstUsableUserMessage(history)
	}
	if title == "" {
		title = titleFallback
	}
	return capTitle(title)
}

// titlePromptWindow keeps user/assistant rows, deduplicates by content,
// clips each to titleClipChars, and caps to the last titleWindowTurns.
func titlePromptWindow(history []AgentMessage) []ChatMessage {
	seen := make(map[string]bool)
	var out []ChatMessage
	for _, rec := range history {
		if rec.Role != "user" && rec.Role != "assistant" {
			continue
		}
		content := strings.TrimSpace(rec.Content)
		if content == "" || seen[content] {
			continue
		}
		seen[content] = true
		if r := []rune(content); len(r) > titleClipChars {
			content = string(r[:titleClipChars])
		}
		out = append(out, ChatMessage{Role: rec.Role, Content: content})
	}
	if len(out) > titleWindowTurns {
		out = out[len(out)-titleWindowTurns:]
	}
	return out
}

func (w *World) callTitleLLM(ctx context.Context, window []ChatMessage) (string, error) {
	provider, err := w.rt.Providers(w.ChatProvider, w.ChatModel)
	if err != nil {
		return "", err
	}
	messages := make([]ChatMessage, 0, len(window)+1)
	messages = append(messages, SystemChatMessage(titlePromptInstruction))
	messages = append(messages, window...)
	resp, err := provider.Chat(ctx, ChatRequest{
		Messages:  messages,
		MaxTokens: titleMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// sanitizeTitle normalizes an LLM-produced title: NFKC fold, strip heading
// and list markers, drop a "title:" prefix and outer quotes, collapse
// whitespace, trim trailing punctuation.
func sanitizeTitle(s string) string {
	s = norm.NFKC.String(s)
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "#")
	s = strings.TrimSpace(s)
	for _, marker := range []string{"- ", "* ", "• "} {
		s = strings.TrimPrefix(s, marker)
	}
	if lower := strings.ToLower(s); strings.HasPrefix(lower, "title:") {
		s = strings.TrimSpace(s[len("title:"):])
	}
	s = strings.Trim(s, `"'`)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".,:;!")
	return strings.TrimSpace(s)
}

func isLowQualityTitle(s string) bool {
	if len(s) < 3 {
		return true
	}
	return lowQualityTitles[strings.ToLower(s)]
}

// firstUsableUserMessage is the fallback title source: the earliest user
// message whose sanitized form passes the quality filter.
func firstUsableUserMessage(history []AgentMessage) string {
	for _, rec := range history {
		if rec.Role != "user" {
			continue
		}
		candidate := sanitizeTitle(rec.Content)
		if !isLowQualityTitle(candidate) {
			return candidate
		}
	}
	return ""
}

// capTitle truncates to titleMaxChars runes with an ellipsis, never
// splitting a multibyte character.
func capTitle(s string) string {
	r := []rune(s)
	if len(r) <= titleMaxChars {
		return s
	}
	return strings.TrimSpace(string(r[:titleMaxChars-1])) + "…"
}
