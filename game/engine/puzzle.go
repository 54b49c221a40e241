package engine

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidPuzzle is wrapped by every ConfigurationError
var ErrInvalidPuzzle = errors.New("invalid puzzle")

// ConfigurationError reports a malformed puzzle definition
type ConfigurationError struct {
	PuzzleID int
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("puzzle %d: %s", e.PuzzleID, e.Reason)
	}
	return fmt.Sprintf("puzzle %d: %s: %s", e.PuzzleID, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidPuzzle
func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidPuzzle
}

// PuzzleDefinition is the raw board description read from a catalog file
type PuzzleDefinition struct {
	ID           int        `json:"id"`
	Level        int        `json:"level"`
	Index        int        `json:"index"`
	Name         string     `json:"name,omitempty"`
	Description  string     `json:"description,omitempty"`
	GridSize     int        `json:"grid_size,omitempty"`
	Layout       []string   `json:"layout"`
	Start        *Position  `json:"start,omitempty"`
	Goal         *Position  `json:"goal,omitempty"`
	MaxCommands  int        `json:"max_commands"`
	Keys         []Position `json:"keys,omitempty"`
	Traps        []Position `json:"traps,omitempty"`
	OptimalMoves int        `json:"optimal_moves,omitempty"`
}

// Puzzle is an immutable, validated board. Build one with NewPuzzle.
type Puzzle struct {
	id           int
	level        int
	index        int
	name         string
	description  string
	gridSize     int
	terrain      [][]Terrain
	start        Position
	goal         Position
	maxCommands  int
	keys         []Position
	traps        []Position
	keySet       map[Position]bool
	trapSet      map[Position]bool
	optimalMoves int
}

// PuzzleView is the serializable form of a Puzzle
type PuzzleView struct {
	ID           int        `json:"id"`
	Level        int        `json:"level"`
	Index        int        `json:"index"`
	Name         string     `json:"name,omitempty"`
	Description  string     `json:"description,omitempty"`
	GridSize     int        `json:"grid_size"`
	Layout       []string   `json:"layout"`
	Start        Position   `json:"start"`
	Goal         Position   `json:"goal"`
	MaxCommands  int        `json:"max_commands"`
	Keys         []Position `json:"keys"`
	Traps        []Position `json:"traps"`
	OptimalMoves int        `json:"optimal_moves,omitempty"`
}

// NewPuzzle validates def and builds an immutable Puzzle from it
func NewPuzzle(def PuzzleDefinition) (*Puzzle, error) {
	invalid := func(field, format string, args ...interface{}) error {
		return &ConfigurationError{PuzzleID: def.ID, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	size := len(def.Layout)
	if size == 0 {
		return nil, invalid("layout", "layout is empty")
	}
	if def.GridSize != 0 && def.GridSize != size {
		return nil, invalid("grid_size", "grid_size is %d but layout has %d rows", def.GridSize, size)
	}
	if size < MinGridSize || size > MaxGridSize {
		return nil, invalid("grid_size", "must be between %d and %d, got %d", MinGridSize, MaxGridSize, size)
	}
	if def.MaxCommands < 1 || def.MaxCommands > MaxCommandLimit {
		return nil, invalid("max_commands", "must be between 1 and %d, got %d", MaxCommandLimit, def.MaxCommands)
	}

	terrain := make([][]Terrain, size)
	var starts, goals, layoutTraps []Position
	for row, line := range def.Layout {
		if len(line) != size {
			return nil, invalid("layout", "row %d has %d cells, grid is not square (%d rows)", row, len(line), size)
		}
		terrain[row] = make([]Terrain, size)
		for col := 0; col < size; col++ {
			pos := Position{Row: row, Col: col}
			switch line[col] {
			case EmptyChar:
				terrain[row][col] = Empty
			case WallChar:
				terrain[row][col] = Wall
			case StartChar:
				terrain[row][col] = Start
				starts = append(starts, pos)
			case GoalChar:
				terrain[row][col] = Goal
				goals = append(goals, pos)
			case TrapChar:
				terrain[row][col] = Empty
				layoutTraps = append(layoutTraps, pos)
			default:
				return nil, invalid("layout", "invalid character '%c' at %s", line[col], pos)
			}
		}
	}

	if len(starts) != 1 {
		return nil, invalid("layout", "must contain exactly one start cell, found %d", len(starts))
	}
	if len(goals) != 1 {
		return nil, invalid("layout", "must contain exactly one goal cell, found %d", len(goals))
	}

	p := &Puzzle{
		id:           def.ID,
		level:        def.Level,
		index:        def.Index,
		name:         def.Name,
		description:  def.Description,
		gridSize:     size,
		terrain:      terrain,
		start:        starts[0],
		goal:         goals[0],
		maxCommands:  def.MaxCommands,
		keySet:       make(map[Position]bool),
		trapSet:      make(map[Position]bool),
		optimalMoves: def.OptimalMoves,
	}

	if def.Start != nil && *def.Start != p.start {
		if !p.InBounds(*def.Start) {
			return nil, invalid("start", "%s is out of bounds", *def.Start)
		}
		return nil, invalid("start", "%s does not match the start cell at %s", *def.Start, p.start)
	}
	if def.Goal != nil && *def.Goal != p.goal {
		if !p.InBounds(*def.Goal) {
			return nil, invalid("goal", "%s is out of bounds", *def.Goal)
		}
		return nil, invalid("goal", "%s does not match the goal cell at %s", *def.Goal, p.goal)
	}

	for _, key := range def.Keys {
		if err := p.checkItem(key); err != "" {
			return nil, invalid("keys", "key at %s %s", key, err)
		}
		if p.keySet[key] {
			return nil, invalid("keys", "duplicate key at %s", key)
		}
		p.keySet[key] = true
		p.keys = append(p.keys, key)
	}

	for _, trap := range append(append([]Position{}, def.Traps...), layoutTraps...) {
		if err := p.checkItem(trap); err != "" {
			return nil, invalid("traps", "trap at %s %s", trap, err)
		}
		if p.trapSet[trap] {
			return nil, invalid("traps", "duplicate trap at %s", trap)
		}
		if p.keySet[trap] {
			return nil, invalid("traps", "trap at %s shares a cell with a key", trap)
		}
		p.trapSet[trap] = true
		p.traps = append(p.traps, trap)
	}

	sortPositions(p.keys)
	sortPositions(p.traps)
	return p, nil
}

// checkItem validates a key or trap location, returning a reason or ""
func (p *Puzzle) checkItem(pos Position) string {
	if !p.InBounds(pos) {
		return "is out of bounds"
	}
	switch p.terrain[pos.Row][pos.Col] {
	case Wall:
		return "sits on a wall"
	case Start:
		return "sits on the start cell"
	}
	return ""
}

// ID returns the puzzle identity
func (p *Puzzle) ID() int { return p.id }

// Level returns the difficulty level the puzzle belongs to
func (p *Puzzle) Level() int { return p.level }

// Index returns the puzzle's position within its level
func (p *Puzzle) Index() int { return p.index }

// Name returns the display name
func (p *Puzzle) Name() string { return p.name }

// GridSize returns the side length of the square board
func (p *Puzzle) GridSize() int { return p.gridSize }

// Start returns the robot's start position
func (p *Puzzle) Start() Position { return p.start }

// Goal returns the goal position
func (p *Puzzle) Goal() Position { return p.goal }

// MaxCommands returns the move budget
func (p *Puzzle) MaxCommands() int { return p.maxCommands }

// OptimalMoves returns the optimal move count if the content declares one,
// otherwise the Manhattan distance from start to goal.
func (p *Puzzle) OptimalMoves() int {
	if p.optimalMoves > 0 {
		return p.optimalMoves
	}
	return ManhattanDistance(p.start, p.goal)
}

// Keys returns a copy of the key positions
func (p *Puzzle) Keys() []Position { return append([]Position(nil), p.keys...) }

// Traps returns a copy of the trap positions
func (p *Puzzle) Traps() []Position { return append([]Position(nil), p.traps...) }

// IsKey reports whether pos holds a key
func (p *Puzzle) IsKey(pos Position) bool { return p.keySet[pos] }

// IsTrap reports whether pos holds a trap
func (p *Puzzle) IsTrap(pos Position) bool { return p.trapSet[pos] }

// InBounds reports whether pos lies on the board
func (p *Puzzle) InBounds(pos Position) bool {
	return pos.Row >= 0 && pos.Row < p.gridSize && pos.Col >= 0 && pos.Col < p.gridSize
}

// TerrainAt returns the terrain at pos; out-of-bounds positions read as Wall
func (p *Puzzle) TerrainAt(pos Position) Terrain {
	if !p.InBounds(pos) {
		return Wall
	}
	return p.terrain[pos.Row][pos.Col]
}

// Layout renders the terrain back into layout rows
func (p *Puzzle) Layout() []string {
	rows := make([]string, p.gridSize)
	for r, line := range p.terrain {
		buf := make([]byte, len(line))
		for c, t := range line {
			buf[c] = t.Char()
		}
		rows[r] = string(buf)
	}
	return rows
}

// View returns the serializable form of the puzzle
func (p *Puzzle) View() *PuzzleView {
	return &PuzzleView{
		ID:           p.id,
		Level:        p.level,
		Index:        p.index,
		Name:         p.name,
		Description:  p.description,
		GridSize:     p.gridSize,
		Layout:       p.Layout(),
		Start:        p.start,
		Goal:         p.goal,
		MaxCommands:  p.maxCommands,
		Keys:         p.Keys(),
		Traps:        p.Traps(),
		OptimalMoves: p.optimalMoves,
	}
}

// Definition returns a definition that rebuilds an equal puzzle
func (p *Puzzle) Definition() PuzzleDefinition {
	start, goal := p.start, p.goal
	return PuzzleDefinition{
		ID:           p.id,
		Level:        p.level,
		Index:        p.index,
		Name:         p.name,
		Description:  p.description,
		GridSize:     p.gridSize,
		Layout:       p.Layout(),
		Start:        &start,
		Goal:         &goal,
		MaxCommands:  p.maxCommands,
		Keys:         p.Keys(),
		Traps:        p.Traps(),
		OptimalMoves: p.optimalMoves,
	}
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Row != ps[j].Row {
			return ps[i].Row < ps[j].Row
		}
		return ps[i].Col < ps[j].Col
	})
}
