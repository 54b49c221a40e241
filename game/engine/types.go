package engine

import (
	"fmt"
	"strings"
	"time"
)

// Terrain represents the static classification of a grid cell
type Terrain string

const (
	Empty Terrain = "empty"
	Wall  Terrain = "wall"
	Start Terrain = "start"
	Goal  Terrain = "goal"

	// Trap is kept for layouts written before traps became a separate
	// position set. A 'T' cell is parsed as Empty terrain plus a trap.
	Trap Terrain = "trap"

	// Validation constants
	MinGridSize     = 2
	MaxGridSize     = 32
	MaxCommandLimit = 100

	// DefaultStepDelay paces execution for presentation only.
	DefaultStepDelay = 500 * time.Millisecond
)

// Layout characters
const (
	EmptyChar = '.'
	WallChar  = '#'
	StartChar = 'S'
	GoalChar  = 'G'
	TrapChar  = 'T'
)

// Char returns the layout character for a terrain
func (t Terrain) Char() byte {
	switch t {
	case Wall:
		return WallChar
	case Start:
		return StartChar
	case Goal:
		return GoalChar
	case Trap:
		return TrapChar
	default:
		return EmptyChar
	}
}

// Position represents a 0-indexed row/column pair. Rows grow downward.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// String renders the position as (row,col)
func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
}

// Add returns the position shifted by the direction's vector
func (p Position) Add(d Direction) Position {
	dr, dc := d.Vector()
	return Position{Row: p.Row + dr, Col: p.Col + dc}
}

// Direction is a single queued move
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Directions lists every direction in a stable order
var Directions = []Direction{Up, Down, Left, Right}

// Vector returns the row and column deltas of the direction
func (d Direction) Vector() (int, int) {
	switch d {
	case Up:
		return -1, 0
	case Down:
		return 1, 0
	case Left:
		return 0, -1
	case Right:
		return 0, 1
	default:
		return 0, 0
	}
}

// Valid reports whether d is one of the four directions
func (d Direction) Valid() bool {
	switch d {
	case Up, Down, Left, Right:
		return true
	}
	return false
}

// ParseDirection parses a direction name, case-insensitively
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// Phase is the execution phase of the current attempt
type Phase string

const (
	Idle    Phase = "idle"
	Running Phase = "running"
	Success Phase = "success"
	Failed  Phase = "failed"
)

// Terminal reports whether the phase ends the current attempt
func (p Phase) Terminal() bool {
	return p == Success || p == Failed
}

// FailureReason explains why an attempt ended in Failed
type FailureReason string

const (
	ReasonNone           FailureReason = ""
	ReasonOutOfBounds    FailureReason = "out_of_bounds"
	ReasonWall           FailureReason = "wall"
	ReasonTrap           FailureReason = "trap"
	ReasonQueueExhausted FailureReason = "queue_exhausted"
)

// RunState is the mutable state of one puzzle attempt. It is owned by a
// single Engine and only ever handed out as a copy.
type RunState struct {
	PuzzleID      int           `json:"puzzle_id"`
	RobotPosition Position      `json:"robot_position"`
	CommandQueue  []Direction   `json:"command_queue"`
	Phase         Phase         `json:"phase"`
	Attempts      int           `json:"attempts"`
	Score         int           `json:"score"`
	KeysCollected int           `json:"keys_collected"`
	RemainingKeys []Position    `json:"remaining_keys"`
	TrapsArmed    bool          `json:"traps_armed"`
	StepsExecuted int           `json:"steps_executed"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
}

// Snapshot is the read-only view exposed to presentation layers
type Snapshot struct {
	Puzzle        *PuzzleView   `json:"puzzle,omitempty"`
	RobotPosition Position      `json:"robot_position"`
	Phase         Phase         `json:"phase"`
	CommandQueue  []Direction   `json:"command_queue"`
	MaxCommands   int           `json:"max_commands"`
	RemainingKeys []Position    `json:"remaining_keys"`
	TrapsArmed    bool          `json:"traps_armed"`
	KeysCollected int           `json:"keys_collected"`
	Attempts      int           `json:"attempts"`
	Score         int           `json:"score"`
	StepsExecuted int           `json:"steps_executed"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
}

// Outcome is the record emitted once per terminal transition
type Outcome struct {
	SubjectID   string    `json:"subject_id"`
	PuzzleID    int       `json:"puzzle_id"`
	Level       int       `json:"level"`
	PuzzleIndex int       `json:"puzzle_index"`
	Score       int       `json:"score"`
	Success     bool      `json:"success"`
	Attempts    int       `json:"attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// OutcomeRecorder receives terminal outcomes. Implementations must return
// quickly; the engine calls them from the step loop.
type OutcomeRecorder interface {
	RecordOutcome(outcome Outcome)
}

// RecorderFunc adapts a function to OutcomeRecorder
type RecorderFunc func(Outcome)

// RecordOutcome calls f(outcome)
func (f RecorderFunc) RecordOutcome(outcome Outcome) {
	f(outcome)
}
