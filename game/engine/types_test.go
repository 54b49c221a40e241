package engine

import (
	"encoding/json"
	"testing"
)

func TestDirectionVectors(t *testing.T) {
	tests := []struct {
		dir      Direction
		expected Position
	}{
		{Up, Position{-1, 0}},
		{Down, Position{1, 0}},
		{Left, Position{0, -1}},
		{Right, Position{0, 1}},
	}

	for _, test := range tests {
		if got := (Position{}).Add(test.dir); got != test.expected {
			t.Errorf("%s: expected %s, got %s", test.dir, test.expected, got)
		}
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input    string
		expected Direction
		wantErr  bool
	}{
		{"up", Up, false},
		{"DOWN", Down, false},
		{" Left ", Left, false},
		{"right", Right, false},
		{"north", "", true},
		{"", "", true},
	}

	for _, test := range tests {
		got, err := ParseDirection(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseDirection(%q): unexpected error state %v", test.input, err)
			continue
		}
		if got != test.expected {
			t.Errorf("ParseDirection(%q): expected %s, got %s", test.input, test.expected, got)
		}
	}
}

func TestPhaseTerminal(t *testing.T) {
	if Idle.Terminal() || Running.Terminal() {
		t.Error("Idle and Running must not be terminal")
	}
	if !Success.Terminal() || !Failed.Terminal() {
		t.Error("Success and Failed must be terminal")
	}
}

func TestSnapshotJSONMarshaling(t *testing.T) {
	snap := Snapshot{
		RobotPosition: Position{Row: 1, Col: 2},
		Phase:         Failed,
		CommandQueue:  []Direction{Up, Left},
		FailureReason: ReasonWall,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Failed to marshal snapshot: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal snapshot: %v", err)
	}
	if decoded["phase"] != "failed" {
		t.Errorf("Expected phase 'failed', got %v", decoded["phase"])
	}
	if decoded["failure_reason"] != "wall" {
		t.Errorf("Expected failure_reason 'wall', got %v", decoded["failure_reason"])
	}
	if _, ok := decoded["puzzle"]; ok {
		t.Error("Expected puzzle to be omitted when nil")
	}
}
