package service

import (
	"time"

	"github.com/wricardo/puzzlebot/game/engine"
)

// SessionInfo provides information about a play session
type SessionInfo struct {
	ID             string          `json:"id"`
	SubjectID      string          `json:"subject_id,omitempty"`
	Level          int             `json:"level"`
	PuzzleIndex    int             `json:"puzzle_index"`
	PuzzleID       int             `json:"puzzle_id"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	State          engine.Snapshot `json:"state"`
}

// RunResult reports whether a run was accepted and the state afterwards.
// When the caller waited, State is terminal or Idle after a cancellation.
type RunResult struct {
	Accepted bool            `json:"accepted"`
	Waited   bool            `json:"waited"`
	State    engine.Snapshot `json:"state"`
}

// LevelInfo provides information about a difficulty level
type LevelInfo struct {
	Level       int             `json:"level"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Filename    string          `json:"filename"`
	Puzzles     []PuzzleSummary `json:"puzzles"`
}

// PuzzleSummary is the short description of a catalog puzzle
type PuzzleSummary struct {
	ID           int    `json:"id"`
	Index        int    `json:"index"`
	Name         string `json:"name"`
	GridSize     int    `json:"grid_size"`
	MaxCommands  int    `json:"max_commands"`
	Keys         int    `json:"keys"`
	Traps        int    `json:"traps"`
	OptimalMoves int    `json:"optimal_moves"`
}

// LevelDetail is a level together with its full puzzle boards
type LevelDetail struct {
	LevelInfo
	Boards []*engine.PuzzleView `json:"boards"`
}

// Summarize builds the summary of a puzzle
func Summarize(p *engine.Puzzle) PuzzleSummary {
	return PuzzleSummary{
		ID:           p.ID(),
		Index:        p.Index(),
		Name:         p.Name(),
		GridSize:     p.GridSize(),
		MaxCommands:  p.MaxCommands(),
		Keys:         len(p.Keys()),
		Traps:        len(p.Traps()),
		OptimalMoves: p.OptimalMoves(),
	}
}
