// Package session provides play session management for the PuzzleBot game.
//
// The session package implements:
//   - Thread-safe session storage and retrieval
//   - Unique session ID generation
//   - One puzzle engine per session
//   - File persistence of each engine's run state
//   - Session cleanup and expiration
//
// Core Types:
//
// Manager is the main session manager that handles all session operations.
// Each service.Session owns an engine.Engine built with the manager's
// engine options, so every session shares the same outcome recorder and
// pacing while keeping its own run state.
//
// Session Identifiers:
//
// Sessions use 4-character hex IDs for easy reference. Lookups are
// case-insensitive.
//
// Persistence:
//
// FilePersistence writes one JSON file per session holding the puzzle id and
// the serialized engine.RunState. On reload the manager resolves the puzzle
// through the catalog and applies the state with Engine.RestoreState. A state
// saved mid-run comes back as Idle.
//
// Usage:
//
//	persistence, _ := session.NewFilePersistence("sessions")
//	manager := session.NewManagerWithPersistence(persistence, catalog,
//		session.WithEngineOptions(engine.WithRecorder(dispatcher)))
//
//	sess, err := manager.Create("", kidID, puzzle)
//	if err != nil {
//		log.Fatal(err)
//	}
//	sess.Engine.EnqueueCommand(engine.Right)
package session
