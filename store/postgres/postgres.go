// Package postgres implements agentworld.Storage using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentworld/agentworld"
)

// Store implements agentworld.Storage backed by PostgreSQL. World and
// agent records are stored as JSONB; agent memory is row-per-message so
// chat-scoped reads stay cheap.
type Store struct {
	pool *pgxpool.Pool
}

var _ agentworld.Storage = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worlds (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_messages (
			world_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			seq INT NOT NULL,
			chat_id TEXT,
			message_id TEXT,
			data JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (world_id, agent_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS agent_messages_chat_idx ON agent_messages(world_id, chat_id)`,
		`CREATE TABLE IF NOT EXISTS chats (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			message_count INT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			chat_id TEXT,
			message_id TEXT,
			payload JSONB NOT NULL,
			sender TEXT,
			recipient TEXT,
			direction TEXT,
			thread_root TEXT,
			has_tool_calls BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_world_idx ON events(world_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS events_chat_idx ON events(world_id, chat_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the pool is externally owned.
func (s *Store) Close() error { return nil }

// --- Worlds ---

func (s *Store) SaveWorld(ctx context.Context, w agentworld.WorldData) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode world: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO worlds (id, data, created_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET data = $2, updated_at = $4`,
		w.ID, data, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return nil
}

func (s *Store) LoadWorld(ctx context.Context, id string) (agentworld.WorldData, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM worlds WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		return agentworld.WorldData{}, fmt.Errorf("load world %s: %w", id, err)
	}
	var w agentworld.WorldData
	if err := json.Unmarshal(raw, &w); err != nil {
		return agentworld.WorldData{}, fmt.Errorf("decode world %s: %w", id, err)
	}
	return w, nil
}

func (s *Store) ListWorlds(ctx context.Context) ([]agentworld.WorldData, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM worlds ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	var out []agentworld.WorldData
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan world: %w", err)
		}
		var w agentworld.WorldData
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode world: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWorld(ctx context.Context, id string) error {
	for _, q := range []string{
		`DELETE FROM events WHERE world_id = $1`,
		`DELETE FROM agent_messages WHERE world_id = $1`,
		`DELETE FROM chats WHERE world_id = $1`,
		`DELETE FROM agents WHERE world_id = $1`,
		`DELETE FROM worlds WHERE id = $1`,
	} {
		if _, err := s.pool.Exec(ctx, q, id); err != nil {
			return fmt.Errorf("delete world %s: %w", id, err)
		}
	}
	return nil
}

// --- Agents ---

// SaveAgent upserts the agent record and replaces its memory rows in one
// transaction. Concurrent saves for the same id coalesce last-writer-wins.
func (s *Store) SaveAgent(ctx context.Context, worldID string, a agentworld.Agent) error {
	memory := a.Memory
	a.Memory = nil
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("save agent: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO agents (world_id, id, data, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (world_id, id) DO UPDATE SET data = $3, updated_at = $4`,
		worldID, a.ID, data, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM agent_messages WHERE world_id = $1 AND agent_id = $2`, worldID, a.ID,
	); err != nil {
		return fmt.Errorf("save agent %s: clear memory: %w", a.ID, err)
	}
	for i, msg := range memory {
		row, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode memory row: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO agent_messages (world_id, agent_id, seq, chat_id, message_id, data, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			worldID, a.ID, i, msg.ChatID, msg.MessageID, row, msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("save memory row: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save agent %s: commit: %w", a.ID, err)
	}
	return nil
}

func (s *Store) LoadAgent(ctx context.Context, worldID, agentID string) (agentworld.Agent, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM agents WHERE world_id = $1 AND id = $2`, worldID, agentID,
	).Scan(&raw)
	if err != nil {
		return agentworld.Agent{}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	var a agentworld.Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return agentworld.Agent{}, fmt.Errorf("decode agent %s: %w", agentID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT data FROM agent_messages WHERE world_id = $1 AND agent_id = $2 ORDER BY seq`,
		worldID, agentID,
	)
	if err != nil {
		return agentworld.Agent{}, fmt.Errorf("load agent memory: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var row []byte
		if err := rows.Scan(&row); err != nil {
			return agentworld.Agent{}, fmt.Errorf("scan memory row: %w", err)
		}
		var msg agentworld.AgentMessage
		if err := json.Unmarshal(row, &msg); err != nil {
			return agentworld.Agent{}, fmt.Errorf("decode memory row: %w", err)
		}
		a.Memory = append(a.Memory, msg)
	}
	return a, rows.Err()
}

func (s *Store) ListAgents(ctx context.Context, worldID string) ([]agentworld.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM agents WHERE world_id = $1 ORDER BY id`, worldID,
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
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM agent_messages WHERE world_id = $1 AND agent_id = $2`, worldID, agentID,
	); err != nil {
		return fmt.Errorf("delete agent memory: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM agents WHERE world_id = $1 AND id = $2`, worldID, agentID,
	); err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

// --- Chats ---

func (s *Store) SaveChat(ctx context.Context, worldID string, chat agentworld.ChatMeta) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (world_id, id, name, description, message_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (world_id, id) DO UPDATE SET
		   name = $3, description = $4, message_count = $5, updated_at = $7`,
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
		if _, err := s.pool.Exec(ctx,
			`UPDATE chats SET name = $1, updated_at = $2 WHERE world_id = $3 AND id = $4`,
			*patch.Name, now, worldID, chatID,
		); err != nil {
			return fmt.Errorf("update chat name: %w", err)
		}
	}
	if patch.Description != nil {
		if _, err := s.pool.Exec(ctx,
			`UPDATE chats SET description = $1, updated_at = $2 WHERE world_id = $3 AND id = $4`,
			*patch.Description, now, worldID, chatID,
		); err != nil {
			return fmt.Errorf("update chat description: %w", err)
		}
	}
	if patch.MessageCount != nil {
		if _, err := s.pool.Exec(ctx,
			`UPDATE chats SET message_count = $1, updated_at = $2 WHERE world_id = $3 AND id = $4`,
			*patch.MessageCount, now, worldID, chatID,
		); err != nil {
			return fmt.Errorf("update chat count: %w", err)
		}
	}
	return nil
}

func (s *Store) ListChats(ctx context.Context, worldID string) ([]agentworld.ChatMeta, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, message_count, created_at, updated_at
		 FROM chats WHERE world_id = $1 ORDER BY created_at`, worldID,
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
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM chats WHERE world_id = $1 AND id = $2`, worldID, chatID,
	); err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return nil
}

// --- Memory ---

// GetMemory returns all agent messages in a chat, across agents, ordered
// by append time.
func (s *Store) GetMemory(ctx context.Context, worldID, chatID string) ([]agentworld.AgentMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM agent_messages WHERE world_id = $1 AND chat_id = $2 ORDER BY created_at, seq`,
		worldID, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	defer rows.Close()

	var out []agentworld.AgentMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		var msg agentworld.AgentMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode memory row: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// --- Events ---

func (s *Store) SaveEvent(ctx context.Context, rec agentworld.EventRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events
		 (id, world_id, channel, chat_id, message_id, payload, sender, recipient, direction, thread_root, has_tool_calls, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.WorldID, rec.Channel, rec.ChatID, rec.MessageID, rec.Payload,
		rec.Sender, rec.Recipient, rec.Direction, rec.ThreadRoot, rec.HasToolCalls, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}
