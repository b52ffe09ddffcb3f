// Package sqlite implements agentworld.Storage using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentworld/agentworld"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements agentworld.Storage backed by a local SQLite file.
// Agent memory is stored row-per-message so chat-scoped reads need no
// full-agent decode.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ agentworld.Storage = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS worlds (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_messages (
			world_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			chat_id TEXT,
			message_id TEXT,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (world_id, agent_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			chat_id TEXT,
			message_id TEXT,
			payload TEXT NOT NULL,
			sender TEXT,
			recipient TEXT,
			direction TEXT,
			thread_root TEXT,
			has_tool_calls INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_agent_messages_chat ON agent_messages(world_id, chat_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_events_world ON events(world_id, created_at)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_events_chat ON events(world_id, chat_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// --- Worlds ---

func (s *Store) SaveWorld(ctx context.Context, w agentworld.WorldData) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode world: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO worlds (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		w.ID, string(data), w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	s.logger.Debug("sqlite: world saved", "id", w.ID)
	return nil
}

func (s *Store) LoadWorld(ctx context.Context, id string) (agentworld.WorldData, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM worlds WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		return agentworld.WorldData{}, fmt.Errorf("load world %s: %w", id, err)
	}
	var w agentworld.WorldData
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return agentworld.WorldData{}, fmt.Errorf("decode world %s: %w", id, err)
	}
	return w, nil
}

func (s *Store) ListWorlds(ctx context.Context) ([]agentworld.WorldData, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM worlds ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	var out []agentworld.WorldData
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan world: %w", err)
		}
		var w agentworld.WorldData
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, fmt.Errorf("decode world: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWorld(ctx context.Context, id string) error {
	for _, q := range []string{
		`DELETE FROM events WHERE world_id = ?`,
		`DELETE FROM agent_messages WHERE world_id = ?`,
		`DELETE FROM chats WHERE world_id = ?`,
		`DELETE FROM agents WHERE world_id = ?`,
		`DELETE FROM worlds WHERE id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete world %s: %w", id, err)
		}
	}
	return nil
}

// --- Agents ---

// SaveAgent upserts the agent record and replaces its memory rows in one
// transaction. Concurrent saves for the same id coalesce last-writer-wins.
func (s *Store) SaveAgent(ctx context.Context, worldID string, a agentworld.Agent) error {
	start := time.Now()

	memory := a.Memory
	a.Memory = nil
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save agent: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO agents (world_id, id, data, updated_at) VALUES (?, ?, ?, ?)`,
		worldID, a.ID, string(data), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM agent_messages WHERE world_id = ? AND agent_id = ?`, worldID, a.ID,
	); err != nil {
		return fmt.Errorf("save agent %s: clear memory: %w", a.ID, err)
	}
	for i, msg := range memory {
		row, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode memory row: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_messages (world_id, agent_id, seq, chat_id, message_id, data, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			worldID, a.ID, i, msg.ChatID, msg.MessageID, string(row), msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("save memory row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save agent %s: commit: %w", a.ID, err)
	}

	s.logger.Debug("sqlite: agent saved", "id", a.ID, "memory_rows", len(memory), "duration", time.Since(start))
	return nil
}

func (s *Store) LoadAgent(ctx context.Context, worldID, agentID string) (agentworld.Agent, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM agents WHERE world_id = ? AND id = ?`, worldID, agentID,
	).Scan(&raw)
	if err != nil {
		return agentworld.Agent{}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	var a agentworld.Agent
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return agentworld.Agent{}, fmt.Errorf("decode agent %s: %w", agentID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM agent_messages WHERE world_id = ? AND agent_id = ? ORDER BY seq`,
		worldID, agentID,
	)
	if err != nil {
		return agentworld.Agent{}, fmt.Errorf("load agent memory: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var row string
		if err := rows.Scan(&row); err != nil {
			return agentworld.Agent{}, fmt.Errorf("scan memory row: %w", err)
		}
		var msg agentworld.AgentMessage
		if err := json.Unmarshal([]byte(row), &msg); err != nil {
			return agentworld.Agent{}, fmt.Errorf("decode memory row: %w", err)
		}
		a.Memory = append(a.Memory, msg)
	}
	return a, rows.Err()
}

func (s *Store) ListAgents(ctx context.Context, worldID string) ([]agentworld.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM agents WHERE world_id = ? ORDER BY id`, worldID,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]agentworld.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.LoadAgent(ctx, worldID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_messages WHERE world_id = ? AND agent_id = ?`, worldID, agentID,
	); err != nil {
		return fmt.Errorf("delete agent memory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM agents WHERE world_id = ? AND id = ?`, worldID, agentID,
	); err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

// --- Chats ---

func (s *Store) SaveChat(ctx context.Context, worldID string, chat agentworld.ChatMeta) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chats (world_id, id, name, description, message_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		worldID, chat.ID, chat.Name, chat.Description, chat.MessageCount, chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save chat %s: %w", chat.ID, err)
	}
	return nil
}

func (s *Store) UpdateChat(ctx context.Context, worldID, chatID string, patch agentworld.ChatPatch) error {
	now := time.Now().Unix()
	if patch.Name != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE chats SET name = ?, updated_at = ? WHERE world_id = ? AND id = ?`,
			*patch.Name, now, worldID, chatID,
		); err != nil {
			return fmt.Errorf("update chat name: %w", err)
		}
	}
	if patch.Description != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE chats SET description = ?, updated_at = ? WHERE world_id = ? AND id = ?`,
			*patch.Description, now, worldID, chatID,
		); err != nil {
			return fmt.Errorf("update chat description: %w", err)
		}
	}
	if patch.MessageCount != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE chats SET message_count = ?, updated_at = ? WHERE world_id = ? AND id = ?`,
			*patch.MessageCount, now, worldID, chatID,
		); err != nil {
			return fmt.Errorf("update chat count: %w", err)
		}
	}
	return nil
}

func (s *Store) ListChats(ctx context.Context, worldID string) ([]agentworld.ChatMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(description, ''), message_count, created_at, updated_at
		 FROM chats WHERE world_id = ? ORDER BY created_at`, worldID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []agentworld.ChatMeta
	for rows.Next() {
		var c agentworld.ChatMeta
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteChat(ctx context.Context, worldID, chatID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chats WHERE world_id = ? AND id = ?`, worldID, chatID,
	); err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return nil
}

// --- Memory ---

// GetMemory returns all agent messages in a chat, across agents, ordered
// by append time.
func (s *Store) GetMemory(ctx context.Context, worldID, chatID string) ([]agentworld.AgentMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM agent_messages WHERE world_id = ? AND chat_id = ? ORDER BY created_at, seq`,
		worldID, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	defer rows.Close()

	var out []agentworld.AgentMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		var msg agentworld.AgentMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode memory row: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// --- Events ---

func (s *Store) SaveEvent(ctx context.Context, rec agentworld.EventRecord) error {
	hasTools := 0
	if rec.HasToolCalls {
		hasTools = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events
		 (id, world_id, channel, chat_id, message_id, payload, sender, recipient, direction, thread_root, has_tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorldID, rec.Channel, rec.ChatID, rec.MessageID, string(rec.Payload),
		rec.Sender, rec.Recipient, rec.Direction, rec.ThreadRoot, hasTools, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}
