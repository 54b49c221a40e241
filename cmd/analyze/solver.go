package main

import (
	"fmt"

	"github.com/wricardo/puzzlebot/game/engine"
)

// maxSolverKeys bounds the key mask; catalog boards carry far fewer keys.
const maxSolverKeys = 16

type searchState struct {
	pos  engine.Position
	keys uint32
}

type searchNode struct {
	parent int
	dir    engine.Direction
	state  searchState
}

// Solution is the shortest program that solves a puzzle
type Solution struct {
	Moves    []engine.Direction
	Solvable bool
}

// Steps returns the number of moves in the solution
func (s Solution) Steps() int { return len(s.Moves) }

// Solve runs a breadth-first search over robot position and collected keys.
// It follows the engine's rules: walls and the board edge end the attempt,
// a trap ends it once the first key has been picked up, and the goal only
// counts with every key collected.
func Solve(p *engine.Puzzle) Solution {
	keys := p.Keys()
	if len(keys) > maxSolverKeys {
		return Solution{}
	}
	keyBit := make(map[engine.Position]uint32, len(keys))
	for i, k := range keys {
		keyBit[k] = 1 << uint(i)
	}
	all := uint32(1)<<uint(len(keys)) - 1
	hasTraps := len(p.Traps()) > 0

	start := searchState{pos: p.Start()}
	if bit, ok := keyBit[start.pos]; ok {
		start.keys |= bit
	}
	if start.pos == p.Goal() && start.keys == all {
		return Solution{Solvable: true}
	}

	nodes := []searchNode{{parent: -1, state: start}}
	seen := map[searchState]bool{start: true}

	for head := 0; head < len(nodes); head++ {
		cur := nodes[head].state
		for _, d := range engine.Directions {
			if !engine.CanMove(p, cur.pos, d) {
				continue
			}
			next := searchState{pos: cur.pos.Add(d), keys: cur.keys}
			if bit, ok := keyBit[next.pos]; ok {
				next.keys |= bit
			}
			if hasTraps && next.keys != 0 && p.IsTrap(next.pos) {
				continue
			}
			if seen[next] {
				continue
			}
			seen[next] = true
			nodes = append(nodes, searchNode{parent: head, dir: d, state: next})

			if next.pos == p.Goal() && next.keys == all {
				return Solution{Moves: backtrack(nodes, len(nodes)-1), Solvable: true}
			}
		}
	}
	return Solution{}
}

func backtrack(nodes []searchNode, i int) []engine.Direction {
	var moves []engine.Direction
	for ; nodes[i].parent >= 0; i = nodes[i].parent {
		moves = append(moves, nodes[i].dir)
	}
	for l, r := 0, len(moves)-1; l < r; l, r = l+1, r-1 {
		moves[l], moves[r] = moves[r], moves[l]
	}
	return moves
}

// Finding is one problem the analyzer reports for a puzzle
type Finding struct {
	Puzzle  string
	Message string
}

// Check solves p and reports anything that would make it unfair to play
func Check(p *engine.Puzzle) (Solution, []Finding) {
	label := puzzleLabel(p)
	sol := Solve(p)

	var findings []Finding
	switch {
	case !sol.Solvable:
		findings = append(findings, Finding{label, "no solution exists"})
	case sol.Steps() > p.MaxCommands():
		findings = append(findings, Finding{label, fmt.Sprintf("shortest solution needs %d moves but max_commands is %d", sol.Steps(), p.MaxCommands())})
	}
	if declared := p.Definition().OptimalMoves; sol.Solvable && declared > 0 && declared != sol.Steps() {
		findings = append(findings, Finding{label, fmt.Sprintf("optimal_moves is %d but the shortest solution takes %d", declared, sol.Steps())})
	}
	return sol, findings
}
