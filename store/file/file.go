// Package file implements agentworld.Storage on top of a plain directory
// tree of JSON files. No external dependencies, human-inspectable layout:
//
//	root/
//	  worlds/<worldID>.json
//	  agents/<worldID>/<agentID>.json
//	  chats/<worldID>/<chatID>.json
//	  events/<worldID>.jsonl
//
// Writes go through a temp file + rename so readers never observe a
// partial record. Events append to a JSONL log.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/agentworld/agentworld"
)

// Store implements agentworld.Storage over a directory of JSON files.
type Store struct {
	root string
	mu   sync.Mutex // serializes writes; reads tolerate concurrent renames
}

var _ agentworld.Storage = (*Store)(nil)

// New creates a Store rooted at dir. The directory tree is created by
// Init.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Init creates the directory layout.
func (s *Store) Init(ctx context.Context) error {
	for _, d := range []string{"worlds", "agents", "chats", "events"} {
		if err := os.MkdirAll(filepath.Join(s.root, d), 0o755); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }

// writeJSON atomically replaces path with the JSON encoding of v.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) worldPath(id string) string { return filepath.Join(s.root, "worlds", id+".json") }
func (s *Store) agentPath(worldID, agentID string) string {
	return filepath.Join(s.root, "agents", worldID, agentID+".json")
}
func (s *Store) chatPath(worldID, chatID string) string {
	return filepath.Join(s.root, "chats", worldID, chatID+".json")
}
func (s *Store) eventPath(worldID string) string {
	return filepath.Join(s.root, "events", worldID+".jsonl")
}

// --- Worlds ---

func (s *Store) SaveWorld(ctx context.Context, w agentworld.WorldData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.worldPath(w.ID), w)
}

func (s *Store) LoadWorld(ctx context.Context, id string) (agentworld.WorldData, error) {
	var w agentworld.WorldData
	if err := readJSON(s.worldPath(id), &w); err != nil {
		return agentworld.WorldData{}, fmt.Errorf("load world %s: %w", id, err)
	}
	return w, nil
}

func (s *Store) ListWorlds(ctx context.Context) ([]agentworld.WorldData, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "worlds"))
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	var out []agentworld.WorldData
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var w agentworld.WorldData
		if err := readJSON(filepath.Join(s.root, "worlds", e.Name()), &w); err != nil {
			continue // skip unreadable entries
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) DeleteWorld(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	os.RemoveAll(filepath.Join(s.root, "agents", id))
	os.RemoveAll(filepath.Join(s.root, "chats", id))
	os.Remove(s.eventPath(id))
	if err := os.Remove(s.worldPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete world %s: %w", id, err)
	}
	return nil
}

// --- Agents ---

func (s *Store) SaveAgent(ctx context.Context, worldID string, a agentworld.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.agentPath(worldID, a.ID), a)
}

func (s *Store) LoadAgent(ctx context.Context, worldID, agentID string) (agentworld.Agent, error) {
	var a agentworld.Agent
	if err := readJSON(s.agentPath(worldID, agentID), &a); err != nil {
		return agentworld.Agent{}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context, worldID string) ([]agentworld.Agent, error) {
	dir := filepath.Join(s.root, "agents", worldID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list agents: %w", err)
	}
	var out []agentworld.Agent
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var a agentworld.Agent
		if err := readJSON(filepath.Join(dir, e.Name()), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.agentPath(worldID, agentID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

// --- Chats ---

func (s *Store) SaveChat(ctx context.Context, worldID string, chat agentworld.ChatMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.chatPath(worldID, chat.ID), chat)
}

func (s *Store) UpdateChat(ctx context.Context, worldID, chatID string, patch agentworld.ChatPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c agentworld.ChatMeta
	if err := readJSON(s.chatPath(worldID, chatID), &c); err != nil {
		return fmt.Errorf("update chat %s: %w", chatID, err)
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.MessageCount != nil {
		c.MessageCount = *patch.MessageCount
	}
	return s.writeJSON(s.chatPath(worldID, chatID), c)
}

func (s *Store) ListChats(ctx context.Context, worldID string) ([]agentworld.ChatMeta, error) {
	dir := filepath.Join(s.root, "chats", worldID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list chats: %w", err)
	}
	var out []agentworld.ChatMeta
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var c agentworld.ChatMeta
		if err := readJSON(filepath.Join(dir, e.Name()), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) DeleteChat(ctx context.Context, worldID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.chatPath(worldID, chatID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return nil
}

// --- Memory ---

// GetMemory returns all agent messages in a chat, across agents, ordered
// by append time.
func (s *Store) GetMemory(ctx context.Context, worldID, chatID string) ([]agentworld.AgentMessage, error) {
	agents, err := s.ListAgents(ctx, worldID)
	if err != nil {
		return nil, err
	}
	var out []agentworld.AgentMessage
	for _, a := range agents {
		for _, msg := range a.Memory {
			if msg.ChatID == chatID {
				out = append(out, msg)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// --- Events ---

// SaveEvent appends one JSONL line to the world's event log.
func (s *Store) SaveEvent(ctx context.Context, rec agentworld.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	f, err := os.OpenFile(s.eventPath(rec.WorldID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
