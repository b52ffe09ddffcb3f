// Package memory implements agentworld.Storage entirely in process.
// Intended for tests and ephemeral worlds; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentworld/agentworld"
)

// Store implements agentworld.Storage with plain maps under one mutex.
type Store struct {
	mu     sync.RWMutex
	worlds map[string]agentworld.WorldData
	agents map[string]map[string]agentworld.Agent // worldID → agentID → agent
	chats  map[string]map[string]agentworld.ChatMeta
	events []agentworld.EventRecord
}

var _ agentworld.Storage = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		worlds: make(map[string]agentworld.WorldData),
		agents: make(map[string]map[string]agentworld.Agent),
		chats:  make(map[string]map[string]agentworld.ChatMeta),
	}
}

func (s *Store) Init(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) SaveWorld(ctx context.Context, w agentworld.WorldData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds[w.ID] = w
	return nil
}

func (s *Store) LoadWorld(ctx context.Context, id string) (agentworld.WorldData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.worlds[id]
	if !ok {
		return agentworld.WorldData{}, fmt.Errorf("world %s not found", id)
	}
	return w, nil
}

func (s *Store) ListWorlds(ctx context.Context) ([]agentworld.WorldData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agentworld.WorldData, 0, len(s.worlds))
	for _, w := range s.worlds {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) DeleteWorld(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.worlds, id)
	delete(s.agents, id)
	delete(s.chats, id)
	return nil
}

func (s *Store) SaveAgent(ctx context.Context, worldID string, a agentworld.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.agents[worldID]
	if !ok {
		m = make(map[string]agentworld.Agent)
		s.agents[worldID] = m
	}
	a.Memory = append([]agentworld.AgentMessage(nil), a.Memory...)
	m[a.ID] = a
	return nil
}

func (s *Store) LoadAgent(ctx context.Context, worldID, agentID string) (agentworld.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[worldID][agentID]
	if !ok {
		return agentworld.Agent{}, fmt.Errorf("agent %s not found", agentID)
	}
	a.Memory = append([]agentworld.AgentMessage(nil), a.Memory...)
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context, worldID string) ([]agentworld.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agentworld.Agent, 0, len(s.agents[worldID]))
	for _, a := range s.agents[worldID] {
		a.Memory = append([]agentworld.AgentMessage(nil), a.Memory...)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents[worldID], agentID)
	return nil
}

func (s *Store) SaveChat(ctx context.Context, worldID string, chat agentworld.ChatMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chats[worldID]
	if !ok {
		m = make(map[string]agentworld.ChatMeta)
		s.chats[worldID] = m
	}
	m[chat.ID] = chat
	return nil
}

func (s *Store) UpdateChat(ctx context.Context, worldID, chatID string, patch agentworld.ChatPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[worldID][chatID]
	if !ok {
		return fmt.Errorf("chat %s not found", chatID)
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
	s.chats[worldID][chatID] = c
	return nil
}

func (s *Store) ListChats(ctx context.Context, worldID string) ([]agentworld.ChatMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agentworld.ChatMeta, 0, len(s.chats[worldID]))
	for _, c := range s.chats[worldID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) DeleteChat(ctx context.Context, worldID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats[worldID], chatID)
	return nil
}

// GetMemory returns all agent messages in a chat, across agents, ordered
// by append time.
func (s *Store) GetMemory(ctx context.Context, worldID, chatID string) ([]agentworld.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []agentworld.AgentMessage
	for _, a := range s.agents[worldID] {
		for _, msg := range a.Memory {
			if msg.ChatID == chatID {
				out = append(out, msg)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) SaveEvent(ctx context.Context, rec agentworld.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rec)
	return nil
}

// Events returns a snapshot of all persisted events (test helper).
func (s *Store) Events() []agentworld.EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]agentworld.EventRecord(nil), s.events...)
}
