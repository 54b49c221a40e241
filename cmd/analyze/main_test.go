package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wricardo/puzzlebot/game/engine"
)

func createTestPuzzle(t *testing.T, layout []string, maxCommands int, keys, traps []engine.Position) *engine.Puzzle {
	t.Helper()
	p, err := engine.NewPuzzle(engine.PuzzleDefinition{
		ID:          1,
		Level:       1,
		Index:       1,
		Name:        "Test",
		Layout:      layout,
		MaxCommands: maxCommands,
		Keys:        keys,
		Traps:       traps,
	})
	if err != nil {
		t.Fatalf("Failed to build puzzle: %v", err)
	}
	return p
}

func runAnalyze(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	cmd.ErrWriter = &out
	err := cmd.Run(context.Background(), append([]string{"analyze"}, args...))
	return out.String(), err
}

func TestSolve(t *testing.T) {
	tests := []struct {
		name     string
		layout   []string
		keys     []engine.Position
		traps    []engine.Position
		solvable bool
		steps    int
	}{
		{"Adjacent goal", []string{"SG", ".."}, nil, nil, true, 1},
		{"Around a wall", []string{"S#G", "...", "..."}, nil, nil, true, 4},
		{"Unarmed trap is safe", []string{"S#G", "...", "..."}, nil, []engine.Position{{Row: 1, Col: 2}}, true, 4},
		{"Armed trap blocks the goal", []string{"S#G", "...", "..."},
			[]engine.Position{{Row: 2, Col: 1}}, []engine.Position{{Row: 1, Col: 2}}, false, 0},
		{"Goal needs every key", []string{"SG.", "...", "..."}, []engine.Position{{Row: 0, Col: 2}}, nil, true, 3},
		{"Walled in", []string{"S#.", "#..", "..G"}, nil, nil, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol := Solve(createTestPuzzle(t, tt.layout, 20, tt.keys, tt.traps))
			if sol.Solvable != tt.solvable {
				t.Fatalf("Expected solvable=%v, got %v", tt.solvable, sol.Solvable)
			}
			if sol.Steps() != tt.steps {
				t.Errorf("Expected %d steps, got %d (%v)", tt.steps, sol.Steps(), sol.Moves)
			}
		})
	}
}

func TestSolveReplaysOnEngine(t *testing.T) {
	p := createTestPuzzle(t, []string{"S..", ".#.", "..G"}, 10,
		[]engine.Position{{Row: 0, Col: 2}}, []engine.Position{{Row: 2, Col: 0}})
	sol := Solve(p)
	if !sol.Solvable {
		t.Fatal("Expected a solution")
	}

	pos := p.Start()
	keys := 0
	for _, d := range sol.Moves {
		if !engine.CanMove(p, pos, d) {
			t.Fatalf("Illegal move %s from %s", d, pos)
		}
		pos = pos.Add(d)
		if p.IsKey(pos) {
			keys++
		}
		if keys > 0 && p.IsTrap(pos) {
			t.Fatalf("Solution walks into an armed trap at %s", pos)
		}
	}
	if pos != p.Goal() || keys != 1 {
		t.Errorf("Expected to finish on the goal with the key, ended at %s with %d keys", pos, keys)
	}
}

func TestCheck(t *testing.T) {
	t.Run("Limit too low", func(t *testing.T) {
		_, findings := Check(createTestPuzzle(t, []string{"S#G", "...", "..."}, 3, nil, nil))
		if len(findings) != 1 || !strings.Contains(findings[0].Message, "max_commands is 3") {
			t.Errorf("Expected a max_commands finding, got %v", findings)
		}
	})

	t.Run("Wrong optimal moves", func(t *testing.T) {
		p, err := engine.NewPuzzle(engine.PuzzleDefinition{
			ID: 1, Level: 1, Index: 1, Layout: []string{"SG", ".."}, MaxCommands: 5, OptimalMoves: 3,
		})
		if err != nil {
			t.Fatal(err)
		}
		_, findings := Check(p)
		if len(findings) != 1 || !strings.Contains(findings[0].Message, "optimal_moves is 3") {
			t.Errorf("Expected an optimal_moves finding, got %v", findings)
		}
	})

	t.Run("Clean puzzle", func(t *testing.T) {
		sol, findings := Check(createTestPuzzle(t, []string{"SG", ".."}, 5, nil, nil))
		if len(findings) != 0 || sol.Steps() != 1 {
			t.Errorf("Expected no findings, got %v", findings)
		}
	})
}

func TestValidateBundledCatalog(t *testing.T) {
	out, err := runAnalyze(t, "--catalog-dir", filepath.Join(t.TempDir(), "missing"), "validate")
	if err != nil {
		t.Fatalf("Expected bundled catalog to validate, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "All 12 puzzles passed") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}

func TestValidateReportsUnsolvable(t *testing.T) {
	dir := t.TempDir()
	catalog := `{"level": 1, "name": "Broken", "puzzles": [
    {"id": 1, "index": 1, "name": "Sealed", "layout": ["S#.", "#..", "..G"], "max_commands": 10}
  ]}`
	if err := os.WriteFile(filepath.Join(dir, "level_1.json"), []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runAnalyze(t, "--catalog-dir", dir, "validate")
	if err == nil {
		t.Fatal("Expected validation to fail")
	}
	if !strings.Contains(out, "no solution exists") {
		t.Errorf("Expected unsolvable finding, got:\n%s", out)
	}
}

func TestShowMazeRunnerLimit(t *testing.T) {
	out, err := runAnalyze(t, "--catalog-dir", filepath.Join(t.TempDir(), "missing"), "show", "4", "2")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, "Max Commands: 36") || !strings.Contains(out, "Shortest solution (36 moves)") {
		t.Errorf("Expected a 36 move solution within the limit, got:\n%s", out)
	}
	if strings.Contains(out, "⚠️") {
		t.Errorf("Expected no findings for the bundled puzzle, got:\n%s", out)
	}
}

func TestLevelsCommand(t *testing.T) {
	out, err := runAnalyze(t, "--catalog-dir", filepath.Join(t.TempDir(), "missing"), "levels")
	if err != nil {
		t.Fatalf("levels failed: %v", err)
	}
	for _, want := range []string{"Level 1: Easy", "First Steps", "The Ultimate Challenge"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestShowCommand(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")

	out, err := runAnalyze(t, "--catalog-dir", missing, "show", "1", "1")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	for _, want := range []string{`Level 1 #1 "First Steps"`, " 0 S...G", "Shortest solution (4 moves): right, right, right, right"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}

	if _, err := runAnalyze(t, "--catalog-dir", missing, "show", "1"); err == nil {
		t.Error("Expected error for missing index")
	}
	if _, err := runAnalyze(t, "--catalog-dir", missing, "show", "9", "1"); err == nil {
		t.Error("Expected error for unknown level")
	}
}
