package session

import (
	"encoding/json"
	"time"

	"github.com/wricardo/puzzlebot/game/service"
)

// SessionPersistence defines the interface for persisting sessions
type SessionPersistence interface {
	// Save persists a session to storage
	Save(session *service.Session) error

	// Load retrieves a persisted session record by ID
	Load(id string) (*PersistedSessionData, error)

	// Delete removes a session from storage
	Delete(id string) error

	// ListAll returns all persisted session IDs
	ListAll() ([]string, error)

	// Exists checks if a session exists in storage
	Exists(id string) bool
}

// PersistedSessionData represents the JSON structure for persisted sessions
type PersistedSessionData struct {
	ID             string          `json:"id"`
	SubjectID      string          `json:"subject_id,omitempty"`
	PuzzleID       int             `json:"puzzle_id"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	RunState       json.RawMessage `json:"run_state,omitempty"` // engine.RunState as produced by MarshalState
}
