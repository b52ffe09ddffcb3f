package agentworld

import (
	"context"
	"testing"
	"time"
)

func TestEnsureChatReuse(t *testing.T) {
	w := newTestWorld(t, testWorldOpts{})
	ctx := context.Background()

	first := w.EnsureChat(ctx)
	if first.Name != NewChatName {
		t.Fatalf("chat name = %q", first.Name)
	}
	if w.CurrentChatID() != first.ID {
		t.Error("ensured chat should become current")
	}

	// Current chat is returned as-is.
	again := w.EnsureChat(ctx)
	if again.ID != first.ID {
		t.Error("second ensure should return the current chat")
	}

	// With no current chat, a fresh empty placeholder is reused.
	w.SetCurrentChat(ctx, "")
	reused := w.EnsureChat(ctx)
	if reused.ID != first.ID {
		t.Error("fresh empty placeholder should be reused, not recreated")
	}

	// A written-to placeholder is not reusable; a new chat is created.
	w.PublishMessage("hello", SenderHuman, first.ID, "")
	w.SetCurrentChat(ctx, "")
	fresh := w.EnsureChat(ctx)
	if fresh.ID == first.ID {
		t.Error("written-to chat must not be reused")
	}
}

func TestChatReusableWindow(t *testing.T) {
	now := time.Now()
	c := ChatMeta{Name: NewChatName, CreatedAt: now.Unix()}
	if !c.Reusable(now) {
		t.Error("fresh placeholder should be reusable")
	}
	c.CreatedAt = now.Add(-6 * time.Minute).Unix()
	if c.Reusable(now) {
		t.Error("stale placeholder must not be reusable")
	}
	c.CreatedAt = now.Unix()
	c.Name = "Renamed"
	if c.Reusable(now) {
		t.Error("renamed chat must not be reusable")
	}
	c.Name = NewChatName
	c.MessageCount = 1
	if c.Reusable(now) {
		t.Error("non-empty chat must not be reusable")
	}
}

func TestRenameAndDeleteChat(t *testing.T) {
	w := newTestWorld(t, testWorldOpts{})
	ctx := context.Background()

	chat := w.CreateChat(ctx, "original")
	w.RenameChat(ctx, chat.ID, "renamed")
	got, ok := w.Chat(chat.ID)
	if !ok || got.Name != "renamed" {
		t.Errorf("chat = %+v", got)
	}

	w.DeleteChat(ctx, chat.ID)
	if _, ok := w.Chat(chat.ID); ok {
		t.Error("deleted chat still present")
	}
	if w.CurrentChatID() != "" {
		t.Error("deleting the current chat should clear the current id")
	}
}

func TestWorkingDirectoryResolution(t *testing.T) {
	rt := &Runtime{DefaultWorkingDirectory: "/tmp/default-ws", DisableEventPersistence: true}
	w := NewWorld(context.Background(), rt, WorldConfig{Name: "t"})
	t.Cleanup(w.Close)

	if got := w.WorkingDirectory(); got != "/tmp/default-ws" {
		t.Errorf("fallback = %q", got)
	}
	w.SetVariable(context.Background(), "working_directory", "/srv/project")
	if got := w.WorkingDirectory(); got != "/srv/project" {
		t.Errorf("variable override = %q", got)
	}
}

func TestMarkTitledOnce(t *testing.T) {
	w := newTestWorld(t, testWorldOpts{})
	if !w.markTitled("chat-1") {
		t.Error("first mark should succeed")
	}
	if w.markTitled("chat-1") {
		t.Error("second mark must report already-titled")
	}
	if !w.markTitled("chat-2") {
		t.Error("other chats are independent")
	}
}

func TestRemoveAgentStopsRouting(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{{Content: "hi"}}}
	w := newTestWorld(t, testWorldOpts{provider: provider})
	msgs := collectMessages(w)
	addTestAgent(w, "coder")
	chat := w.CreateChat(context.Background(), "test")

	w.RemoveAgent(context.Background(), "coder")
	if _, ok := w.Agent("coder"); ok {
		t.Fatal("agent still registered")
	}

	w.PublishMessage("@coder hello", SenderHuman, chat.ID, "")
	assertNoMessageFrom(t, msgs, "coder")
	if provider.callCount() != 0 {
		t.Error("removed agent must not respond")
	}
}

func TestTurnLimitDefault(t *testing.T) {
	w := newTestWorld(t, testWorldOpts{})
	if w.TurnLimit != defaultTurnLimit {
		t.Errorf("turn limit = %d, want default %d", w.TurnLimit, defaultTurnLimit)
	}
}
