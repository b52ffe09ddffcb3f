package agentworld

import (
	"context"
	"sync"
)

// ProcessingHandle is the cancel-scope for one orchestrator pipeline, tied
// to a (world, chat, agent) target. The orchestrator re-checks the handle
// after every suspension point (LLM call, tool execution, storage call).
// Stop is cooperative and idempotent: a tool that ignores the signal runs to
// completion and its result is discarded.
type ProcessingHandle struct {
	chatID  string
	agentID string
	ctx     context.Context
	cancel  context.CancelFunc

	complete func()
	once     sync.Once
}

// Context returns the handle's context; it is cancelled when the handle is
// stopped. Pass it into every blocking call made by the pipeline.
func (h *ProcessingHandle) Context() context.Context { return h.ctx }

// Signal returns a channel closed when the handle is stopped.
func (h *ProcessingHandle) Signal() <-chan struct{} { return h.ctx.Done() }

// IsStopped reports whether a stop has been requested.
func (h *ProcessingHandle) IsStopped() bool { return h.ctx.Err() != nil }

// Stop requests cancellation. Idempotent.
func (h *ProcessingHandle) Stop() { h.cancel() }

// Complete releases the handle's serialization slot and deregisters it.
// Idempotent; must be called when the pipeline exits (success or failure).
func (h *ProcessingHandle) Complete() {
	h.once.Do(h.complete)
}

// processingRegistry enforces at most one in-flight pipeline per
// (chat, agent) target. A second message for the same target queues behind
// the first on the target's lock. Stop-by-chat cancels every live handle in
// that chat.
type processingRegistry struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex       // chatID::agentID → serialization lock
	inFlight map[string]*ProcessingHandle // chatID::agentID → live handle
}

func newProcessingRegistry() *processingRegistry {
	return &processingRegistry{
		locks:    make(map[string]*sync.Mutex),
		inFlight: make(map[string]*ProcessingHandle),
	}
}

func processingKey(chatID, agentID string) string { return chatID + "::" + agentID }

// Begin blocks until the (chat, agent) slot is free, then registers and
// returns a fresh handle derived from parent.
func (r *processingRegistry) Begin(parent context.Context, chatID, agentID string) *ProcessingHandle {
	key := processingKey(chatID, agentID)

	r.mu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	r.mu.Unlock()

	lock.Lock() // serialize pipelines for this target

	ctx, cancel := context.WithCancel(parent)
	h := &ProcessingHandle{
		chatID:  chatID,
		agentID: agentID,
		ctx:     ctx,
		cancel:  cancel,
	}
	h.complete = func() {
		r.mu.Lock()
		if r.inFlight[key] == h {
			delete(r.inFlight, key)
		}
		r.mu.Unlock()
		cancel() // release context resources
		lock.Unlock()
	}

	r.mu.Lock()
	r.inFlight[key] = h
	r.mu.Unlock()
	return h
}

// StopChat cancels every in-flight handle whose chat matches chatID.
func (r *processingRegistry) StopChat(chatID string) {
	r.mu.Lock()
	var stopped []*ProcessingHandle
	for _, h := range r.inFlight {
		if h.chatID == chatID {
			stopped = append(stopped, h)
		}
	}
	r.mu.Unlock()
	for _, h := range stopped {
		h.Stop()
	}
}

// StopAll cancels every in-flight handle in the world.
func (r *processingRegistry) StopAll() {
	r.mu.Lock()
	var stopped []*ProcessingHandle
	for _, h := range r.inFlight {
		stopped = append(stopped, h)
	}
	r.mu.Unlock()
	for _, h := range stopped {
		h.Stop()
	}
}
