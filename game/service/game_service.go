package service

import (
	"context"
	"time"

	"github.com/wricardo/puzzlebot/game/engine"
)

// GameService defines all game-related operations
type GameService interface {
	// Session Management
	CreateSession(ctx context.Context, subjectID string, level, index int) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Puzzle selection
	LoadPuzzle(ctx context.Context, sessionID string, level, index int) (*SessionInfo, error)
	NextPuzzle(ctx context.Context, sessionID string) (*SessionInfo, error)

	// Queue building
	AddCommand(ctx context.Context, sessionID, direction string) (*engine.Snapshot, error)
	AddCommands(ctx context.Context, sessionID string, directions []string) (*engine.Snapshot, error)
	RemoveLastCommand(ctx context.Context, sessionID string) (*engine.Snapshot, error)
	ClearCommands(ctx context.Context, sessionID string) (*engine.Snapshot, error)

	// Execution
	Run(ctx context.Context, sessionID string, wait bool) (*RunResult, error)
	Reset(ctx context.Context, sessionID string) (*engine.Snapshot, error)

	// Game State
	GetState(ctx context.Context, sessionID string) (*engine.Snapshot, error)

	// Catalog
	ListLevels(ctx context.Context) ([]*LevelInfo, error)
	GetLevel(ctx context.Context, level int) (*LevelDetail, error)
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create(id, subjectID string, puzzle *engine.Puzzle) (*Session, error)
	Get(id string) (*Session, error)
	List() []*Session
	Delete(id string) error
	UpdateLastAccessed(id string) error
	Save(id string) error
}

// ConfigManager serves the validated puzzle catalog
type ConfigManager interface {
	PuzzlesForLevel(level int) ([]*engine.Puzzle, error)
	Puzzle(level, index int) (*engine.Puzzle, error)
	NextPuzzle(current *engine.Puzzle) (*engine.Puzzle, error)
	ListLevels() ([]*LevelInfo, error)
}

// Session represents an active play session
type Session struct {
	ID             string
	SubjectID      string
	Engine         *engine.Engine
	CreatedAt      time.Time
	LastAccessedAt time.Time
}
