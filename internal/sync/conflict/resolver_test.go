package conflict

import (
	"encoding/json"
	"testing"

	"github.com/terravine/backend/internal/models"
)

// TestDetectStructuralDifference tests payload comparison semantics.
func TestDetectStructuralDifference(t *testing.T) {
	r := NewResolver()

	// Key order and whitespace are not differences.
	local := json.RawMessage(`{"kind":"pruning","notes":"rows 1-4"}`)
	remote := json.RawMessage(`{ "notes": "rows 1-4", "kind": "pruning" }`)
	if r.Detect(local, remote) {
		t.Error("Expected structurally equal payloads to not conflict")
	}

	changed := json.RawMessage(`{"kind":"pruning","notes":"rows 1-6"}`)
	if !r.Detect(local, changed) {
		t.Error("Expected differing payloads to conflict")
	}
}

// TestDetectMalformedPayload tests that unparseable payloads count as
// differing, forcing the strategy path instead of a silent skip.
func TestDetectMalformedPayload(t *testing.T) {
	r := NewResolver()
	if !r.Detect(json.RawMessage(`{broken`), json.RawMessage(`{}`)) {
		t.Error("Expected malformed local payload to be treated as a conflict")
	}
}

// TestDecideStrategies tests the strategy-to-decision mapping.
func TestDecideStrategies(t *testing.T) {
	r := NewResolver()

	cases := []struct {
		strategy models.ConflictStrategy
		want     Decision
	}{
		{models.StrategyServerWins, KeepRemote},
		{models.StrategyClientWins, OverwriteRemote},
		{models.StrategyManual, NeedsManual},
		{models.ConflictStrategy("bogus"), KeepRemote},
	}

	for _, tc := range cases {
		if got := r.Decide(tc.strategy, models.ResourceActivity, "A1"); got != tc.want {
			t.Errorf("Decide(%s) = %d, want %d", tc.strategy, got, tc.want)
		}
	}
}
