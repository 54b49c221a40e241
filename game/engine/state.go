package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidState is returned when a serialized RunState cannot be applied
var ErrInvalidState = errors.New("invalid run state")

// MarshalState serializes the current run state
func (e *Engine) MarshalState() ([]byte, error) {
	return json.Marshal(e.State())
}

// RestoreState applies a run state produced by MarshalState. The state must
// belong to the loaded puzzle. A state captured mid-run is restored as Idle
// with the robot back at the start and the queue kept.
func (e *Engine) RestoreState(data []byte) error {
	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	e.mu.Lock()
	if e.puzzle == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: no puzzle loaded", ErrInvalidState)
	}
	if err := validateState(e.puzzle, &s); err != nil {
		e.mu.Unlock()
		return err
	}

	e.stopRunLocked()
	e.state = s
	if e.state.Phase == Running {
		e.state.Phase = Idle
		e.resetAttemptLocked()
	}
	e.mu.Unlock()

	e.publish()
	return nil
}

func validateState(p *Puzzle, s *RunState) error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
	}

	if s.PuzzleID != p.ID() {
		return invalid("state belongs to puzzle %d, loaded puzzle is %d", s.PuzzleID, p.ID())
	}
	switch s.Phase {
	case Idle, Running, Success, Failed:
	case "":
		s.Phase = Idle
	default:
		return invalid("unknown phase %q", s.Phase)
	}
	if !p.InBounds(s.RobotPosition) || p.TerrainAt(s.RobotPosition) == Wall {
		return invalid("robot position %s is not a legal cell", s.RobotPosition)
	}
	if len(s.CommandQueue) > p.MaxCommands() {
		return invalid("queue holds %d commands, budget is %d", len(s.CommandQueue), p.MaxCommands())
	}
	for _, d := range s.CommandQueue {
		if !d.Valid() {
			return invalid("unknown direction %q", d)
		}
	}
	for _, k := range s.RemainingKeys {
		if !p.IsKey(k) {
			return invalid("%s is not a key", k)
		}
	}
	if s.KeysCollected+len(s.RemainingKeys) != len(p.keys) {
		return invalid("key counts do not add up")
	}
	if s.Attempts < 0 || s.Score < 0 {
		return invalid("negative counters")
	}
	if s.CommandQueue == nil {
		s.CommandQueue = []Direction{}
	}
	if s.RemainingKeys == nil {
		s.RemainingKeys = []Position{}
	}
	return nil
}
