package agentworld

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestRequestWorldOptionUserResponse(t *testing.T) {
	w := newTestWorld(t, testWorldOpts{})
	sys := collectSystem(w)

	type result struct {
		resp OptionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := w.RequestWorldOption(context.Background(), OptionRequest{
			RequestID: "req-1",
			Message:   "Deploy to production?",
			Options:   []Option{{ID: "yes", Label: "Deploy"}, {ID: "no", Label: "Abort"}},
			TimeoutMs: 30000,
		})
		done <- result{resp, err}
	}()

	ev := waitSystem(t, sys, func(e SystemEvent) bool { return e.EventType == "hitl-option-request" })
	var req OptionRequest
	if err := json.Unmarshal(ev.Payload, &req); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if req.RequestID != "req-1" || len(req.Options) != 2 {
		t.Errorf("request payload = %+v", req)
	}
	if req.DefaultOptionID != "yes" {
		t.Errorf("default option = %q, want first option", req.DefaultOptionID)
	}

	if err := w.SubmitWorldOptionResponse(w.ID, "req-1", "bogus"); err == nil {
		t.Error("invalid option id must be rejected")
	}
	if err := w.SubmitWorldOptionResponse(w.ID, "req-1", "no"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("request: %v", r.err)
		}
		if r.resp.OptionID != "no" || r.resp.Source != "user" {
			t.Errorf("response = %+v", r.resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request never resolved")
	}

	// Resolved requests are deregistered.
	if err := w.SubmitWorldOptionResponse(w.ID, "req-1", "no"); err == nil {
		t.Error("submitting to a resolved request should fail")
	}
}

func TestRequestWorldOptionTimeout(t *testing.T) {
	w := newTestWorld(t, testWorldOpts{})

	resp, err := w.RequestWorldOption(context.Background(), OptionRequest{
		Message:         "pick one",
		Options:         []Option{{ID: "a"}, {ID: "b"}},
		DefaultOptionID: "b",
		TimeoutMs:       50,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.OptionID != "b" || resp.Source != "timeout" {
		t.Errorf("response = %+v, want default via timeout", resp)
	}
}

func TestRequestWorldOptionContextCancel(t *testing.T) {
	w := newTestWorld(t, testWorldOpts{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := w.RequestWorldOption(ctx, OptionRequest{
			Message:   "pick one",
			Options:   []Option{{ID: "a"}},
			TimeoutMs: 60000,
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("cancelled request should return the context error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request never returned after cancel")
	}
}

func TestRequestWorldOptionValidation(t *testing.T) {
	w := newTestWorld(t, testWorldOpts{})

	if _, err := w.RequestWorldOption(context.Background(), OptionRequest{Message: "empty"}); err == nil {
		t.Error("request without options must fail")
	}

	// Duplicate pending request ids are rejected.
	go w.RequestWorldOption(context.Background(), OptionRequest{
		RequestID: "dup",
		Message:   "first",
		Options:   []Option{{ID: "a"}},
		TimeoutMs: 30000,
	})
	time.Sleep(50 * time.Millisecond)
	if _, err := w.RequestWorldOption(context.Background(), OptionRequest{
		RequestID: "dup",
		Message:   "second",
		Options:   []Option{{ID: "a"}},
	}); err == nil {
		t.Error("duplicate pending request id must fail")
	}
	w.SubmitWorldOptionResponse(w.ID, "dup", "a")
}

func TestSubmitUnknownRequest(t *testing.T) {
	w := newTestWorld(t, testWorldOpts{})
	if err := w.SubmitWorldOptionResponse(w.ID, "missing", "a"); err == nil {
		t.Error("unknown request id must fail")
	}
}
