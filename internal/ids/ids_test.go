package ids

import (
	"strings"
	"testing"
)

func TestNewChangeID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewChangeID()
		if err != nil {
			t.Fatalf("NewChangeID failed: %v", err)
		}
		if len(id) != HexLen {
			t.Fatalf("expected %d hex chars, got %d", HexLen, len(id))
		}
		if !IsHex(id) {
			t.Fatalf("id is not lowercase hex: %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate change id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestOperationIDDeterminism(t *testing.T) {
	payload := map[string]any{
		"description": "hello",
		"change_id":   "abc",
		"nested":      map[string]any{"b": 2, "a": 1},
	}

	a, err := OperationID([]string{"p1", "p2"}, 1700000000000, "alice@example.com", "describe", payload)
	if err != nil {
		t.Fatalf("OperationID failed: %v", err)
	}
	b, err := OperationID([]string{"p1", "p2"}, 1700000000000, "alice@example.com", "describe", payload)
	if err != nil {
		t.Fatalf("OperationID failed: %v", err)
	}
	if a != b {
		t.Errorf("same inputs produced different op ids: %s vs %s", a, b)
	}
	if len(a) != HexLen {
		t.Errorf("expected %d hex chars, got %d", HexLen, len(a))
	}
}

func TestOperationIDSensitivity(t *testing.T) {
	payload := map[string]any{"description": "hello"}
	base, err := OperationID([]string{"p1"}, 1700000000000, "alice", "describe", payload)
	if err != nil {
		t.Fatalf("OperationID failed: %v", err)
	}

	cases := []struct {
		name    string
		parents []string
		ts      int64
		user    string
		kind    string
		payload map[string]any
	}{
		{"parents", []string{"p2"}, 1700000000000, "alice", "describe", payload},
		{"timestamp", []string{"p1"}, 1700000000001, "alice", "describe", payload},
		{"user", []string{"p1"}, 1700000000000, "bob", "describe", payload},
		{"kind", []string{"p1"}, 1700000000000, "alice", "abandon", payload},
		{"payload", []string{"p1"}, 1700000000000, "alice", "describe", map[string]any{"description": "bye"}},
	}

	for _, tc := range cases {
		got, err := OperationID(tc.parents, tc.ts, tc.user, tc.kind, tc.payload)
		if err != nil {
			t.Fatalf("%s: OperationID failed: %v", tc.name, err)
		}
		if got == base {
			t.Errorf("%s: expected different op id for changed input", tc.name)
		}
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	data, err := CanonicalJSON(map[string]any{"z": 1, "a": "x", "m": []any{true, nil}})
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	want := `{"a":"x","m":[true,null],"z":1}`
	if string(data) != want {
		t.Errorf("canonical form mismatch:\n got %s\nwant %s", data, want)
	}
}

func TestCanonicalJSONRejectsFloats(t *testing.T) {
	if _, err := CanonicalJSON(map[string]any{"ts": 1.5}); err == nil {
		t.Error("expected error for non-integer float")
	}
}

func TestCanonicalJSONStructFallback(t *testing.T) {
	type payload struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	data, err := CanonicalJSON(map[string]any{"p": payload{B: 2, A: "x"}})
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	if !strings.Contains(string(data), `"p":{"a":"x","b":2}`) {
		t.Errorf("struct payload not canonicalised: %s", data)
	}
}

func TestShort(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"
	if got := Short(id); got != "0123456789ab" {
		t.Errorf("expected 12-char prefix, got %s", got)
	}
	if got := Short("abc"); got != "abc" {
		t.Errorf("short ids pass through, got %s", got)
	}
}
