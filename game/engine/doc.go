// Package engine provides the core game logic for the PuzzleBot game.
//
// The engine package implements the puzzle mechanics including:
//   - Validated, immutable puzzle boards (walls, keys, traps, goal)
//   - Queue building bounded by a per-puzzle move budget
//   - Paced, cancellable execution of the queue
//   - Attempt-based scoring and outcome emission
//
// Core Types:
//
// Puzzle is built once from a PuzzleDefinition by NewPuzzle and never
// changes. Engine owns the RunState of the loaded puzzle and moves it through
// the Idle, Running, Success and Failed phases.
//
// Usage:
//
//	puzzle, err := engine.NewPuzzle(def)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	e := engine.New(engine.WithRecorder(recorder), engine.WithSubject(kidID))
//	e.LoadPuzzle(puzzle, false)
//	e.EnqueueCommand(engine.Right)
//	e.EnqueueCommand(engine.Down)
//	e.Run(ctx)
//	_ = e.Wait(ctx)
//	snap := e.Snapshot()
//
// Game Rules:
//
// A move onto a wall or off the board fails the attempt without moving the
// robot. Collecting the first key arms every trap, and entering an armed trap
// fails the attempt. Reaching the goal succeeds only once every key has been
// collected; otherwise execution continues. Running out of commands fails.
// A success on the first attempt scores 100, and every further attempt costs
// 20 points down to a floor of 10.
package engine
