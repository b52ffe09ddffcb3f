package agentworld

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRepairJSONStrict(t *testing.T) {
	out, err := RepairJSON(`{"command":"ls","timeout":5}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if v["command"] != "ls" {
		t.Errorf("command = %v", v["command"])
	}
}

func TestRepairJSONEmpty(t *testing.T) {
	out, err := RepairJSON("   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "{}" {
		t.Errorf("empty input should parse as empty object, got %s", out)
	}
}

func TestRepairJSONTrailingComma(t *testing.T) {
	tests := []string{
		`{"a":1,}`,
		`{"a":[1,2,],}`,
		`{"a":1,
		}`,
	}
	for _, raw := range tests {
		out, err := RepairJSON(raw)
		if err != nil {
			t.Errorf("RepairJSON(%q) failed: %v", raw, err)
			continue
		}
		var v any
		if err := json.Unmarshal(out, &v); err != nil {
			t.Errorf("RepairJSON(%q) produced invalid JSON %q", raw, out)
		}
	}
}

func TestRepairJSONUnterminatedString(t *testing.T) {
	out, err := RepairJSON(`{"command":"echo hel`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("output not valid JSON: %s", out)
	}
	if v["command"] != "echo hel" {
		t.Errorf("command = %q", v["command"])
	}
}

func TestRepairJSONUnbalancedBraces(t *testing.T) {
	out, err := RepairJSON(`{"a":{"b":[1,2`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("output not valid JSON: %s", out)
	}
}

func TestRepairJSONTruncateToBalanced(t *testing.T) {
	// Balanced object followed by garbage that defeats the other passes.
	out, err := RepairJSON(`{"a":1} trailing " nonsense`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Errorf("got %s, want truncation to the balanced prefix", out)
	}
}

func TestRepairJSONHopeless(t *testing.T) {
	_, err := RepairJSON(`not even close [`)
	if err == nil {
		t.Fatal("expected error for unrepairable input")
	}
	var terr *ToolError
	if !errors.As(err, &terr) || terr.Kind != ToolArgsInvalid {
		t.Errorf("error should classify as invalid arguments, got %v", err)
	}
}

func TestParseLooseObject(t *testing.T) {
	out, err := parseLooseObject(`{'command': 'ls'}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("output not valid JSON: %s", out)
	}
	if v["command"] != "ls" {
		t.Errorf("command = %q", v["command"])
	}
}
