package agentworld

import "context"

// WorldData is the persisted form of a world (no live maps or emitter).
type WorldData struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	TurnLimit     int               `json:"turn_limit"`
	MainAgent     string            `json:"main_agent,omitempty"`
	ChatProvider  string            `json:"chat_provider,omitempty"`
	ChatModel     string            `json:"chat_model,omitempty"`
	CurrentChatID string            `json:"current_chat_id,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	CreatedAt     int64             `json:"created_at"`
	UpdatedAt     int64             `json:"updated_at"`
}

// EventRecord is the persisted form of a bus event, written by the
// persistence subscriber. Metadata is derived at persist time.
type EventRecord struct {
	ID        string `json:"id"`
	WorldID   string `json:"world_id"`
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Payload   []byte `json:"payload"`
	// Derived message metadata (message channel only).
	Sender       string `json:"sender,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
	Direction    string `json:"direction,omitempty"` // "human-to-agent", "agent-to-agent", "agent-to-human", "system"
	ThreadRoot   string `json:"thread_root,omitempty"`
	HasToolCalls bool   `json:"has_tool_calls,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// ChatPatch is a partial update for a chat record. Nil fields are left
// untouched.
type ChatPatch struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	MessageCount *int    `json:"message_count,omitempty"`
}

// Storage is the KV-style persistence backend over worlds, agents, chats,
// memory, and events. Implementations: store/sqlite, store/postgres,
// store/file, store/memory. Each call is a transaction-scoped operation;
// concurrent SaveAgent calls for the same id coalesce last-writer-wins.
type Storage interface {
	SaveWorld(ctx context.Context, w WorldData) error
	LoadWorld(ctx context.Context, id string) (WorldData, error)
	ListWorlds(ctx context.Context) ([]WorldData, error)
	DeleteWorld(ctx context.Context, id string) error

	SaveAgent(ctx context.Context, worldID string, a Agent) error
	LoadAgent(ctx context.Context, worldID, agentID string) (Agent, error)
	ListAgents(ctx context.Context, worldID string) ([]Agent, error)
	DeleteAgent(ctx context.Context, worldID, agentID string) error

	SaveChat(ctx context.Context, worldID string, chat ChatMeta) error
	UpdateChat(ctx context.Context, worldID, chatID string, patch ChatPatch) error
	ListChats(ctx context.Context, worldID string) ([]ChatMeta, error)
	DeleteChat(ctx context.Context, worldID, chatID string) error

	// GetMemory returns all agent messages in a chat, across agents,
	// ordered by append time.
	GetMemory(ctx context.Context, worldID, chatID string) ([]AgentMessage, error)

	SaveEvent(ctx context.Context, rec EventRecord) error

	Init(ctx context.Context) error
	Close() error
}
