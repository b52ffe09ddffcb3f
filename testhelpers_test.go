package agentworld

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"
)

// --- Mock provider ---

// mockProvider replays a fixed script of responses and records every
// request it receives.
type mockProvider struct {
	mu        sync.Mutex
	responses []ChatResponse
	errs      []error // parallel to responses; nil entries mean success
	calls     int
	requests  []ChatRequest
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return ChatResponse{}, p.errs[i]
	}
	if i >= len(p.responses) {
		return ChatResponse{Content: "out of script"}, nil
	}
	return p.responses[i], nil
}

func (p *mockProvider) ChatStream(ctx context.Context, req ChatRequest, sink chan<- string) (ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err == nil && resp.Content != "" {
		sink <- resp.Content
	}
	return resp, err
}

func (p *mockProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *mockProvider) request(i int) ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// --- Mock storage ---

// mockStorage is a minimal in-process Storage for tests: it records agent
// memory and events and ignores the rest.
type mockStorage struct {
	mu     sync.Mutex
	agents map[string]Agent
	events []EventRecord
}

func newMockStorage() *mockStorage {
	return &mockStorage{agents: make(map[string]Agent)}
}

func (s *mockStorage) SaveWorld(ctx context.Context, w WorldData) error { return nil }
func (s *mockStorage) LoadWorld(ctx context.Context, id string) (WorldData, error) {
	return WorldData{}, nil
}
func (s *mockStorage) ListWorlds(ctx context.Context) ([]WorldData, error) { return nil, nil }
func (s *mockStorage) DeleteWorld(ctx context.Context, id string) error    { return nil }

func (s *mockStorage) SaveAgent(ctx context.Context, worldID string, a Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Memory = append([]AgentMessage(nil), a.Memory...)
	s.agents[a.ID] = a
	return nil
}

func (s *mockStorage) LoadAgent(ctx context.Context, worldID, agentID string) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[agentID], nil
}
func (s *mockStorage) ListAgents(ctx context.Context, worldID string) ([]Agent, error) {
	return nil, nil
}
func (s *mockStorage) DeleteAgent(ctx context.Context, worldID, agentID string) error { return nil }

func (s *mockStorage) SaveChat(ctx context.Context, worldID string, chat ChatMeta) error { return nil }
func (s *mockStorage) UpdateChat(ctx context.Context, worldID, chatID string, patch ChatPatch) error {
	return nil
}
func (s *mockStorage) ListChats(ctx context.Context, worldID string) ([]ChatMeta, error) {
	return nil, nil
}
func (s *mockStorage) DeleteChat(ctx context.Context, worldID, chatID string) error { return nil }

func (s *mockStorage) GetMemory(ctx context.Context, worldID, chatID string) ([]AgentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AgentMessage
	for _, a := range s.agents {
		for _, m := range a.Memory {
			if m.ChatID == chatID {
				out = append(out, m)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *mockStorage) SaveEvent(ctx context.Context, rec EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rec)
	return nil
}

func (s *mockStorage) eventRecords() []EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EventRecord(nil), s.events...)
}

func (s *mockStorage) Init(ctx context.Context) error { return nil }
func (s *mockStorage) Close() error                   { return nil }

var _ Storage = (*mockStorage)(nil)

// --- Mock tools ---

// scriptTool returns a fixed outcome and records the args it received.
type scriptTool struct {
	name    string
	outcome ToolOutcome
	err     error

	mu   sync.Mutex
	args []json.RawMessage
}

func (t *scriptTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: "test tool", Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (t *scriptTool) Execute(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolOutcome, error) {
	t.mu.Lock()
	t.args = append(t.args, args)
	t.mu.Unlock()
	return t.outcome, t.err
}

func (t *scriptTool) received(i int) json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.args[i]
}

// blockingTool parks in Execute until released, signalling when it starts.
type blockingTool struct {
	name    string
	started chan struct{}
	release chan struct{}
}

func (t *blockingTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: "blocking tool", Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (t *blockingTool) Execute(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolOutcome, error) {
	t.started <- struct{}{}
	<-t.release
	return ToolOutcome{Content: "released"}, nil
}

// panicTool panics in Execute.
type panicTool struct{}

func (panicTool) Definition() ToolDefinition {
	return ToolDefinition{Name: "panic_tool", Description: "panics", Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (panicTool) Execute(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolOutcome, error) {
	panic("boom")
}

// --- World construction ---

type testWorldOpts struct {
	storage   Storage
	provider  Provider
	turnLimit int
	mainAgent string
	tools     []Tool
	streaming bool
}

// newTestWorld builds a world wired to the mock provider with event
// persistence off unless a storage is supplied.
func newTestWorld(t *testing.T, opts testWorldOpts) *World {
	t.Helper()
	rt := &Runtime{
		Storage: opts.storage,
		Providers: func(provider, model string) (Provider, error) {
			return opts.provider, nil
		},
		Streaming:               opts.streaming,
		DisableEventPersistence: opts.storage == nil,
	}
	w := NewWorld(context.Background(), rt, WorldConfig{
		Name:         "test-world",
		TurnLimit:    opts.turnLimit,
		MainAgent:    opts.mainAgent,
		ChatProvider: "mock",
		ChatModel:    "mock-model",
	}, opts.tools...)
	t.Cleanup(w.Close)
	return w
}

// collectMessages subscribes to the message channel and returns a drain
// function plus the receiving channel.
func collectMessages(w *World) <-chan MessageEvent {
	out := make(chan MessageEvent, 64)
	w.Bus().On(ChannelMessage, func(event any) error {
		if ev, ok := event.(MessageEvent); ok {
			out <- ev
		}
		return nil
	})
	return out
}

func collectSystem(w *World) <-chan SystemEvent {
	out := make(chan SystemEvent, 64)
	w.Bus().On(ChannelSystem, func(event any) error {
		if ev, ok := event.(SystemEvent); ok {
			out <- ev
		}
		return nil
	})
	return out
}

func collectSSE(w *World) <-chan SSEEvent {
	out := make(chan SSEEvent, 64)
	w.Bus().On(ChannelSSE, func(event any) error {
		if ev, ok := event.(SSEEvent); ok {
			out <- ev
		}
		return nil
	})
	return out
}

func collectToolEvents(w *World) <-chan ToolEvent {
	out := make(chan ToolEvent, 64)
	w.Bus().On(ChannelWorld, func(event any) error {
		if ev, ok := event.(ToolEvent); ok {
			out <- ev
		}
		return nil
	})
	return out
}

// waitMessage receives the next message event matching pred, failing the
// test after the timeout.
func waitMessage(t *testing.T, ch <-chan MessageEvent, pred func(MessageEvent) bool) MessageEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for message event")
		}
	}
}

func waitSystem(t *testing.T, ch <-chan SystemEvent, pred func(SystemEvent) bool) SystemEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for system event")
		}
	}
}

// idleSignal subscribes to the world channel and signals every idle
// transition. Subscribe before triggering work so the transition is not
// missed.
func idleSignal(w *World) <-chan struct{} {
	out := make(chan struct{}, 8)
	w.Bus().On(ChannelWorld, func(event any) error {
		if ev, ok := event.(ActivityEvent); ok && ev.Type == ActivityIdle {
			select {
			case out <- struct{}{}:
			default:
			}
		}
		return nil
	})
	return out
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
