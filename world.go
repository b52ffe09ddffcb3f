package agentworld

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultTurnLimit bounds consecutive LLM calls per agent between human
// resets.
const defaultTurnLimit = 5

// WorldConfig is the construction input for a world.
type WorldConfig struct {
	ID           string
	Name         string
	Description  string
	TurnLimit    int
	MainAgent    string
	ChatProvider string
	ChatModel    string
	Variables    map[string]string
}

// World is an isolated event-routing domain. It exclusively owns its
// agents, chat map, tool registry, and event bus. Interior mutability is
// confined to the bus (concurrency-safe pub/sub), the agents/chats maps
// (write-locked on create/delete, read-shared during dispatch), and agent
// memory, which is guarded by a per-agent lock: the same agent can be
// active in several chats at once, so pipelines and the dispatch
// goroutine mutate it concurrently.
type World struct {
	ID           string
	Name         string
	Description  string
	TurnLimit    int
	MainAgent    string
	ChatProvider string
	ChatModel    string
	CreatedAt    int64

	mu            sync.RWMutex
	agents        map[string]*Agent
	agentLocks    map[string]*sync.Mutex
	chats         map[string]*ChatMeta
	variables     map[string]string
	currentChatID string
	agentSubs     map[string][]func() // agentID → unsubscribe funcs
	titled        map[string]bool     // chatID → auto-title already ran

	rt         *Runtime
	bus        *EventBus
	tools      *ToolRegistry
	activity   *activityTracker
	processing *processingRegistry
	hitl       *hitlRegistry
	logger     *slog.Logger

	closeOnce sync.Once
	subs      []func()
}

// NewWorld creates a world, wires its bus, tool registry, activity tracker,
// and persistence subscriber, and persists the initial world record.
func NewWorld(ctx context.Context, rt *Runtime, cfg WorldConfig, tools ...Tool) *World {
	rt.normalize()
	if cfg.ID == "" {
		cfg.ID = NewID()
	}
	if cfg.TurnLimit <= 0 {
		cfg.TurnLimit = defaultTurnLimit
	}
	vars := make(map[string]string, len(cfg.Variables))
	for k, v := range cfg.Variables {
		vars[k] = v
	}

	logger := rt.Logger.With("world", cfg.ID)
	w := &World{
		ID:           cfg.ID,
		Name:         cfg.Name,
		Description:  cfg.Description,
		TurnLimit:    cfg.TurnLimit,
		MainAgent:    cfg.MainAgent,
		ChatProvider: cfg.ChatProvider,
		ChatModel:    cfg.ChatModel,
		CreatedAt:    NowUnix(),
		agents:       make(map[string]*Agent),
		agentLocks:   make(map[string]*sync.Mutex),
		chats:        make(map[string]*ChatMeta),
		variables:    vars,
		agentSubs:    make(map[string][]func()),
		titled:       make(map[string]bool),
		rt:           rt,
		bus:          NewEventBus(logger),
		tools:        NewToolRegistry(tools...),
		processing:   newProcessingRegistry(),
		logger:       logger,
	}
	w.activity = newActivityTracker(w.bus)
	w.hitl = newHITLRegistry(w)

	if !rt.DisableEventPersistence && rt.Storage != nil {
		w.subs = append(w.subs, subscribeEventPersistence(w))
	}
	w.subs = append(w.subs, subscribeAutoTitle(w))

	w.persistWorld(ctx)
	w.emitCRUD("create", "world", w.ID, nil, "")
	return w
}

// Bus returns the world's event emitter.
func (w *World) Bus() *EventBus { return w.bus }

// Tools returns the world's tool registry.
func (w *World) Tools() *ToolRegistry { return w.tools }

// Variable returns a world variable by key.
func (w *World) Variable(key string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.variables[key]
}

// SetVariable sets a world variable and persists the world record.
func (w *World) SetVariable(ctx context.Context, key, value string) {
	w.mu.Lock()
	w.variables[key] = value
	w.mu.Unlock()
	w.persistWorld(ctx)
}

// WorkingDirectory resolves the trusted cwd for tool execution:
// world variable first, runtime default second.
func (w *World) WorkingDirectory() string {
	if wd := w.Variable("working_directory"); wd != "" {
		return wd
	}
	return w.rt.DefaultWorkingDirectory
}

// --- Agents ---

// AddAgent registers an agent, subscribes its handlers on the bus,
// persists it, and emits a crud event. Zero-value fields get defaults
// (status active, autoReply true).
func (w *World) AddAgent(ctx context.Context, a Agent) *Agent {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.Status == "" {
		a.Status = AgentActive
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = NowUnix()
		a.AutoReply = true
	}
	agent := &a

	w.mu.Lock()
	w.agents[agent.ID] = agent
	w.mu.Unlock()

	subs := subscribeAgent(w, agent)
	w.mu.Lock()
	w.agentSubs[agent.ID] = subs
	w.mu.Unlock()

	unlock := w.lockAgent(agent.ID)
	snap := agentSnapshot(agent)
	unlock()
	w.persistAgent(ctx, snap)
	w.emitCRUD("create", "agent", agent.ID, agent.Name, "")
	return agent
}

// lockAgent acquires the memory lock for an agent id, creating it on
// first use, and returns the unlock function.
func (w *World) lockAgent(id string) func() {
	w.mu.Lock()
	mu, ok := w.agentLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		w.agentLocks[id] = mu
	}
	w.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// RemoveAgent unsubscribes and deletes an agent.
func (w *World) RemoveAgent(ctx context.Context, agentID string) {
	w.mu.Lock()
	delete(w.agents, agentID)
	subs := w.agentSubs[agentID]
	delete(w.agentSubs, agentID)
	w.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	if w.rt.Storage != nil {
		if err := w.rt.Storage.DeleteAgent(ctx, w.ID, agentID); err != nil {
			w.logger.Warn("delete agent failed", "agent", agentID, "error", err)
		}
	}
	w.emitCRUD("delete", "agent", agentID, nil, "")
}

// Agent returns the agent registered under id.
func (w *World) Agent(id string) (*Agent, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.agents[id]
	return a, ok
}

// Agents returns a snapshot of the registered agents.
func (w *World) Agents() []*Agent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Agent, 0, len(w.agents))
	for _, a := range w.agents {
		out = append(out, a)
	}
	return out
}

// --- Chats ---

// CurrentChatID returns the active chat id, or "" when none is set.
func (w *World) CurrentChatID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentChatID
}

// SetCurrentChat switches the active chat and persists the world record.
func (w *World) SetCurrentChat(ctx context.Context, chatID string) {
	w.mu.Lock()
	w.currentChatID = chatID
	w.mu.Unlock()
	w.persistWorld(ctx)
}

// Chat returns chat metadata by id.
func (w *World) Chat(id string) (ChatMeta, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.chats[id]
	if !ok {
		return ChatMeta{}, false
	}
	return *c, true
}

// Chats returns a snapshot of all chat metadata.
func (w *World) Chats() []ChatMeta {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ChatMeta, 0, len(w.chats))
	for _, c := range w.chats {
		out = append(out, *c)
	}
	return out
}

// EnsureChat returns the current chat, reusing a fresh empty "New Chat"
// when one exists, creating one otherwise. The returned chat becomes the
// world's current chat.
func (w *World) EnsureChat(ctx context.Context) ChatMeta {
	w.mu.Lock()
	if w.currentChatID != "" {
		if c, ok := w.chats[w.currentChatID]; ok {
			meta := *c
			w.mu.Unlock()
			return meta
		}
	}
	// Look for a reusable placeholder chat before creating a new one.
	now := time.Now()
	for _, c := range w.chats {
		if c.Reusable(now) {
			w.currentChatID = c.ID
			meta := *c
			w.mu.Unlock()
			w.persistWorld(ctx)
			return meta
		}
	}
	w.mu.Unlock()
	return w.CreateChat(ctx, NewChatName)
}

// CreateChat creates a chat, makes it current, persists it, and emits a
// crud event.
func (w *World) CreateChat(ctx context.Context, name string) ChatMeta {
	c := &ChatMeta{
		ID:        NewID(),
		Name:      name,
		CreatedAt: NowUnix(),
		UpdatedAt: NowUnix(),
	}
	w.mu.Lock()
	w.chats[c.ID] = c
	w.currentChatID = c.ID
	meta := *c
	w.mu.Unlock()

	if w.rt.Storage != nil {
		if err := w.rt.Storage.SaveChat(ctx, w.ID, meta); err != nil {
			w.logger.Warn("save chat failed", "chat", c.ID, "error", err)
		}
	}
	w.persistWorld(ctx)
	w.emitCRUD("create", "chat", c.ID, meta, c.ID)
	return meta
}

// RenameChat updates a chat's name in memory and storage.
func (w *World) RenameChat(ctx context.Context, chatID, name string) {
	w.mu.Lock()
	c, ok := w.chats[chatID]
	if ok {
		c.Name = name
		c.UpdatedAt = NowUnix()
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	if w.rt.Storage != nil {
		if err := w.rt.Storage.UpdateChat(ctx, w.ID, chatID, ChatPatch{Name: &name}); err != nil {
			w.logger.Warn("rename chat failed", "chat", chatID, "error", err)
		}
	}
	w.emitCRUD("update", "chat", chatID, name, chatID)
}

// DeleteChat removes a chat from memory and storage.
func (w *World) DeleteChat(ctx context.Context, chatID string) {
	w.mu.Lock()
	delete(w.chats, chatID)
	if w.currentChatID == chatID {
		w.currentChatID = ""
	}
	w.mu.Unlock()
	if w.rt.Storage != nil {
		if err := w.rt.Storage.DeleteChat(ctx, w.ID, chatID); err != nil {
			w.logger.Warn("delete chat failed", "chat", chatID, "error", err)
		}
	}
	w.emitCRUD("delete", "chat", chatID, nil, chatID)
}

// bumpChatMessageCount increments a chat's message counter (disqualifying
// it from reuse) and best-effort persists the new count.
func (w *World) bumpChatMessageCount(chatID string) {
	w.mu.Lock()
	c, ok := w.chats[chatID]
	var count int
	if ok {
		c.MessageCount++
		c.UpdatedAt = NowUnix()
		count = c.MessageCount
	}
	w.mu.Unlock()
	if !ok || w.rt.Storage == nil {
		return
	}
	if err := w.rt.Storage.UpdateChat(context.Background(), w.ID, chatID, ChatPatch{MessageCount: &count}); err != nil {
		w.logger.Warn("update chat count failed", "chat", chatID, "error", err)
	}
}

// markTitled records that auto-titling ran for a chat; returns false if it
// already had. At most one title generation per idle transition per chat.
func (w *World) markTitled(chatID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.titled[chatID] {
		return false
	}
	w.titled[chatID] = true
	return true
}

// --- Control ---

// StopChat cancels all in-flight processing for a chat.
func (w *World) StopChat(chatID string) {
	w.processing.StopChat(chatID)
}

// Close stops all processing, unsubscribes handlers, and shuts the bus
// down after draining queued events.
func (w *World) Close() {
	w.closeOnce.Do(func() {
		w.processing.StopAll()
		w.mu.Lock()
		agentSubs := w.agentSubs
		w.agentSubs = make(map[string][]func())
		w.mu.Unlock()
		for _, subs := range agentSubs {
			for _, unsub := range subs {
				unsub()
			}
		}
		for _, unsub := range w.subs {
			unsub()
		}
		w.bus.Close()
	})
}

// --- Persistence helpers ---

// data snapshots the persistable world state.
func (w *World) data() WorldData {
	w.mu.RLock()
	defer w.mu.RUnlock()
	vars := make(map[string]string, len(w.variables))
	for k, v := range w.variables {
		vars[k] = v
	}
	return WorldData{
		ID:            w.ID,
		Name:          w.Name,
		Description:   w.Description,
		TurnLimit:     w.TurnLimit,
		MainAgent:     w.MainAgent,
		ChatProvider:  w.ChatProvider,
		ChatModel:     w.ChatModel,
		CurrentChatID: w.currentChatID,
		Variables:     vars,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     NowUnix(),
	}
}

func (w *World) persistWorld(ctx context.Context) {
	if w.rt.Storage == nil {
		return
	}
	if err := w.rt.Storage.SaveWorld(ctx, w.data()); err != nil {
		w.logger.Warn("save world failed", "error", err)
	}
}

// persistAgent saves an agent snapshot. Storage failures are logged;
// in-memory state stays authoritative.
func (w *World) persistAgent(ctx context.Context, snap Agent) {
	if w.rt.Storage == nil {
		return
	}
	if err := w.rt.Storage.SaveAgent(ctx, w.ID, snap); err != nil {
		w.logger.Warn("save agent failed", "agent", snap.ID, "error", err)
	}
}

// agentSnapshot deep-copies the mutable parts of an agent (memory rows
// and their tool-call status maps) so storage and event payloads never
// alias live state. Callers must hold the agent's lock.
func agentSnapshot(a *Agent) Agent {
	snap := *a
	snap.Memory = make([]AgentMessage, len(a.Memory))
	copy(snap.Memory, a.Memory)
	for i := range snap.Memory {
		if st := snap.Memory[i].ToolCallStatus; st != nil {
			cp := make(map[string]ToolCallState, len(st))
			for k, v := range st {
				cp[k] = v
			}
			snap.Memory[i].ToolCallStatus = cp
		}
	}
	return snap
}

func (w *World) emitCRUD(op, entityType, entityID string, data any, chatID string) {
	w.bus.Emit(ChannelCRUD, CRUDEvent{
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		EntityData: data,
		ChatID:     chatID,
		Timestamp:  NowUnix(),
	})
}
