package agentworld

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Option is one selectable choice in a human-in-the-loop request.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// OptionRequest asks a human to pick one option within a deadline.
type OptionRequest struct {
	RequestID       string            `json:"request_id"`
	Title           string            `json:"title,omitempty"`
	Message         string            `json:"message"`
	Options         []Option          `json:"options"`
	DefaultOptionID string            `json:"default_option_id,omitempty"`
	TimeoutMs       int               `json:"timeout_ms"`
	ChatID          string            `json:"chat_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// OptionResponse is the resolution of an option request. Source is "user"
// when a client answered, "timeout" when the deadline elapsed and the
// default applied.
type OptionResponse struct {
	OptionID string `json:"option_id"`
	Source   string `json:"source"`
}

const (
	optionSourceUser    = "user"
	optionSourceTimeout = "timeout"

	defaultOptionTimeout = 60 * time.Second
)

// hitlRegistry tracks pending option requests. Scope is process-local:
// pending entries are keyed worldID::requestId and do not survive a
// restart.
type hitlRegistry struct {
	mu      sync.Mutex
	world   *World
	pending map[string]*pendingOption
}

type pendingOption struct {
	options map[string]bool
	resolve chan OptionResponse
	once    sync.Once
}

func newHITLRegistry(w *World) *hitlRegistry {
	return &hitlRegistry{
		world:   w,
		pending: make(map[string]*pendingOption),
	}
}

func optionKey(worldID, requestID string) string { return worldID + "::" + requestID }

// RequestWorldOption emits a hitl-option-request system event and blocks
// until a client answers, the timeout elapses (resolving to the default
// option), or ctx is cancelled.
func (w *World) RequestWorldOption(ctx context.Context, req OptionRequest) (OptionResponse, error) {
	return w.hitl.request(ctx, req)
}

// SubmitWorldOptionResponse resolves a pending option request. The option
// id must be one of the request's options.
func (w *World) SubmitWorldOptionResponse(worldID, requestID, optionID string) error {
	return w.hitl.submit(worldID, requestID, optionID)
}

func (r *hitlRegistry) request(ctx context.Context, req OptionRequest) (OptionResponse, error) {
	if len(req.Options) == 0 {
		return OptionResponse{}, errors.New("option request needs at least one option")
	}
	if req.RequestID == "" {
		req.RequestID = NewID()
	}
	timeout := defaultOptionTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if req.DefaultOptionID == "" {
		req.DefaultOptionID = req.Options[0].ID
	}

	p := &pendingOption{
		options: make(map[string]bool, len(req.Options)),
		resolve: make(chan OptionResponse, 1),
	}
	for _, o := range req.Options {
		p.options[o.ID] = true
	}

	key := optionKey(r.world.ID, req.RequestID)
	r.mu.Lock()
	if _, exists := r.pending[key]; exists {
		r.mu.Unlock()
		return OptionResponse{}, fmt.Errorf("option request %s already pending", req.RequestID)
	}
	r.pending[key] = p
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return OptionResponse{}, err
	}
	r.world.PublishSystem(req.Message, "hitl-option-request", req.ChatID, payload)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-p.resolve:
		return resp, nil
	case <-timer.C:
		return OptionResponse{OptionID: req.DefaultOptionID, Source: optionSourceTimeout}, nil
	case <-ctx.Done():
		return OptionResponse{}, ctx.Err()
	}
}

func (r *hitlRegistry) submit(worldID, requestID, optionID string) error {
	key := optionKey(worldID, requestID)
	r.mu.Lock()
	p, ok := r.pending[key]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending option request %s", requestID)
	}
	if !p.options[optionID] {
		return fmt.Errorf("option %s is not valid for request %s", optionID, requestID)
	}
	p.once.Do(func() {
		p.resolve <- OptionResponse{OptionID: optionID, Source: optionSourceUser}
	})
	return nil
}
