package engine

import (
	"testing"
)

func TestStraightLineSuccess(t *testing.T) {
	e, rec := createTestEngine(t, createTestDefinition())
	enqueue(e, Right, Right, Right, Right)

	snap := runAndWait(t, e)
	if snap.Phase != Success {
		t.Fatalf("Expected success, got %s (%s)", snap.Phase, snap.FailureReason)
	}
	if snap.Score != 100 {
		t.Errorf("Expected score 100, got %d", snap.Score)
	}
	if snap.RobotPosition != (Position{0, 4}) {
		t.Errorf("Expected robot on goal, got %s", snap.RobotPosition)
	}

	outcomes := rec.all()
	if len(outcomes) != 1 {
		t.Fatalf("Expected one outcome, got %d", len(outcomes))
	}
	o := outcomes[0]
	if !o.Success || o.Score != 100 || o.Attempts != 1 || o.SubjectID != "kid-1" {
		t.Errorf("Unexpected outcome %+v", o)
	}
	if o.Level != 1 || o.PuzzleIndex != 1 || o.PuzzleID != 1 {
		t.Errorf("Expected outcome for level 1 puzzle 1, got %+v", o)
	}
	if !o.Timestamp.Equal(testClock) {
		t.Errorf("Expected timestamp from clock, got %v", o.Timestamp)
	}
}

func TestIllegalMoves(t *testing.T) {
	tests := []struct {
		name   string
		layout []string
		queue  []Direction
		reason FailureReason
		pos    Position
	}{
		{
			name:   "wall collision",
			layout: []string{"S#..G", ".....", ".....", ".....", "....."},
			queue:  []Direction{Right},
			reason: ReasonWall,
			pos:    Position{0, 0},
		},
		{
			name:   "out of bounds",
			layout: []string{"S...G", ".....", ".....", ".....", "....."},
			queue:  []Direction{Up},
			reason: ReasonOutOfBounds,
			pos:    Position{0, 0},
		},
		{
			name:   "wall after moving",
			layout: []string{"S...G", ".#...", ".....", ".....", "....."},
			queue:  []Direction{Down, Right, Right},
			reason: ReasonWall,
			pos:    Position{1, 0},
		},
		{
			name:   "off the left edge mid-run",
			layout: []string{"S...G", ".....", ".....", ".....", "....."},
			queue:  []Direction{Down, Left, Right},
			reason: ReasonOutOfBounds,
			pos:    Position{1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := createTestDefinition()
			def.Layout = tt.layout
			e, rec := createTestEngine(t, def)
			enqueue(e, tt.queue...)

			snap := runAndWait(t, e)
			if snap.Phase != Failed {
				t.Fatalf("Expected failed, got %s", snap.Phase)
			}
			if snap.FailureReason != tt.reason {
				t.Errorf("Expected reason %s, got %s", tt.reason, snap.FailureReason)
			}
			if snap.RobotPosition != tt.pos {
				t.Errorf("Expected robot at %s, got %s", tt.pos, snap.RobotPosition)
			}
			outcomes := rec.all()
			if len(outcomes) != 1 || outcomes[0].Success || outcomes[0].Score != 0 {
				t.Errorf("Expected one failed outcome with score 0, got %+v", outcomes)
			}
		})
	}
}

func TestKeyThenTrap(t *testing.T) {
	def := createTestDefinition()
	def.Keys = []Position{{1, 0}}
	def.Traps = []Position{{2, 0}}
	e, rec := createTestEngine(t, def)
	enqueue(e, Down, Down)

	snap := runAndWait(t, e)
	if snap.Phase != Failed || snap.FailureReason != ReasonTrap {
		t.Fatalf("Expected trap failure, got %s (%s)", snap.Phase, snap.FailureReason)
	}
	if snap.KeysCollected != 1 {
		t.Errorf("Expected 1 key collected, got %d", snap.KeysCollected)
	}
	if !snap.TrapsArmed {
		t.Error("Expected traps armed")
	}
	if snap.RobotPosition != (Position{2, 0}) {
		t.Errorf("Expected robot on the trap, got %s", snap.RobotPosition)
	}
	if len(rec.all()) != 1 {
		t.Errorf("Expected one outcome, got %d", len(rec.all()))
	}
}

func TestUnarmedTrapIsHarmless(t *testing.T) {
	def := createTestDefinition()
	def.Keys = []Position{{3, 4}}
	def.Traps = []Position{{0, 2}}
	e, _ := createTestEngine(t, def)
	// Cross the trap before any key, collect the key, then reach the goal
	enqueue(e, Right, Right, Right, Right, Down, Down, Down, Up, Up, Up)

	snap := runAndWait(t, e)
	if snap.Phase != Success {
		t.Fatalf("Expected success, got %s (%s)", snap.Phase, snap.FailureReason)
	}
	if !snap.TrapsArmed {
		t.Error("Expected traps armed after the key")
	}
}

func TestArmingIsMonotonic(t *testing.T) {
	def := createTestDefinition()
	def.Keys = []Position{{1, 0}, {2, 0}}
	def.Traps = []Position{{1, 2}}
	e, _ := createTestEngine(t, def)
	enqueue(e, Down, Down, Up, Right, Right)

	snap := runAndWait(t, e)
	if snap.Phase != Failed || snap.FailureReason != ReasonTrap {
		t.Fatalf("Expected trap failure, got %s (%s)", snap.Phase, snap.FailureReason)
	}
	if snap.KeysCollected != 2 {
		t.Errorf("Expected both keys collected, got %d", snap.KeysCollected)
	}
}

func TestNoTrapsNeverArm(t *testing.T) {
	def := createTestDefinition()
	def.Keys = []Position{{0, 1}}
	e, _ := createTestEngine(t, def)
	enqueue(e, Right, Right, Right, Right)

	snap := runAndWait(t, e)
	if snap.Phase != Success {
		t.Fatalf("Expected success, got %s", snap.Phase)
	}
	if snap.TrapsArmed {
		t.Error("Expected traps to stay disarmed on a puzzle without traps")
	}
}

func TestGoalBeforeKeys(t *testing.T) {
	newDef := func() PuzzleDefinition {
		def := createTestDefinition()
		def.Layout = []string{"SG...", ".....", ".....", ".....", "....."}
		def.Keys = []Position{{0, 3}}
		return def
	}

	t.Run("queue ends before the key", func(t *testing.T) {
		e, rec := createTestEngine(t, newDef())
		enqueue(e, Right, Right)

		snap := runAndWait(t, e)
		if snap.Phase != Failed || snap.FailureReason != ReasonQueueExhausted {
			t.Fatalf("Expected queue exhaustion, got %s (%s)", snap.Phase, snap.FailureReason)
		}
		if snap.RobotPosition != (Position{0, 2}) {
			t.Errorf("Expected execution to continue past the goal, robot at %s", snap.RobotPosition)
		}
		if len(rec.all()) != 1 {
			t.Errorf("Expected one outcome, got %d", len(rec.all()))
		}
	})

	t.Run("come back after the key", func(t *testing.T) {
		e, _ := createTestEngine(t, newDef())
		enqueue(e, Right, Right, Right, Left, Left)

		snap := runAndWait(t, e)
		if snap.Phase != Success {
			t.Fatalf("Expected success, got %s (%s)", snap.Phase, snap.FailureReason)
		}
		if snap.StepsExecuted != 5 {
			t.Errorf("Expected 5 steps, got %d", snap.StepsExecuted)
		}
	})
}

func TestQueueExhausted(t *testing.T) {
	e, _ := createTestEngine(t, createTestDefinition())
	enqueue(e, Down, Down)

	snap := runAndWait(t, e)
	if snap.Phase != Failed || snap.FailureReason != ReasonQueueExhausted {
		t.Fatalf("Expected queue exhaustion, got %s (%s)", snap.Phase, snap.FailureReason)
	}
	if snap.RobotPosition != (Position{2, 0}) {
		t.Errorf("Expected robot at (2,0), got %s", snap.RobotPosition)
	}
}

func TestSuccessStopsRemainingCommands(t *testing.T) {
	e, _ := createTestEngine(t, createTestDefinition())
	enqueue(e, Right, Right, Right, Right, Down, Down)

	snap := runAndWait(t, e)
	if snap.Phase != Success || snap.StepsExecuted != 4 {
		t.Errorf("Expected success after 4 steps, got %s after %d", snap.Phase, snap.StepsExecuted)
	}
}

func TestRetryPenalty(t *testing.T) {
	e, rec := createTestEngine(t, createTestDefinition())

	enqueue(e, Up)
	if snap := runAndWait(t, e); snap.Phase != Failed {
		t.Fatalf("Expected first attempt to fail, got %s", snap.Phase)
	}

	e.ResetAttempt()
	enqueue(e, Right, Right, Right, Right)
	snap := runAndWait(t, e)
	if snap.Phase != Success {
		t.Fatalf("Expected second attempt to succeed, got %s", snap.Phase)
	}
	if snap.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", snap.Attempts)
	}
	if snap.Score != 80 {
		t.Errorf("Expected score 80, got %d", snap.Score)
	}

	outcomes := rec.all()
	if len(outcomes) != 2 {
		t.Fatalf("Expected two outcomes, got %d", len(outcomes))
	}
	if outcomes[1].Score != 80 || outcomes[1].Attempts != 2 {
		t.Errorf("Unexpected second outcome %+v", outcomes[1])
	}

	// Reset after success keeps the score
	e.ResetAttempt()
	if s := e.Snapshot(); s.Score != 80 || s.Attempts != 2 {
		t.Errorf("Expected score and attempts kept after reset, got %d/%d", s.Score, s.Attempts)
	}
}

func TestDeterminism(t *testing.T) {
	def := createTestDefinition()
	def.Layout = []string{"S...G", ".#...", ".....", ".....", "....."}
	def.Keys = []Position{{2, 0}}
	def.Traps = []Position{{2, 2}}
	queue := []Direction{Down, Down, Right, Right}

	var first Snapshot
	for i := 0; i < 3; i++ {
		e, _ := createTestEngine(t, def)
		enqueue(e, queue...)
		snap := runAndWait(t, e)
		if i == 0 {
			first = snap
			continue
		}
		if snap.Phase != first.Phase || snap.RobotPosition != first.RobotPosition ||
			snap.KeysCollected != first.KeysCollected || snap.TrapsArmed != first.TrapsArmed {
			t.Errorf("Run %d differs: %+v vs %+v", i, snap, first)
		}
	}
	if first.Phase != Failed || first.FailureReason != ReasonTrap {
		t.Errorf("Expected trap failure, got %s (%s)", first.Phase, first.FailureReason)
	}
}

func TestCanMove(t *testing.T) {
	def := createTestDefinition()
	def.Layout = []string{"S#..G", ".....", ".....", ".....", "....."}
	p := mustPuzzle(t, def)

	tests := []struct {
		dir  Direction
		want bool
	}{
		{Up, false},
		{Left, false},
		{Right, false},
		{Down, true},
		{Direction("nowhere"), false},
	}
	for _, tt := range tests {
		if got := CanMove(p, p.Start(), tt.dir); got != tt.want {
			t.Errorf("CanMove(%s) = %v, want %v", tt.dir, got, tt.want)
		}
	}
}
