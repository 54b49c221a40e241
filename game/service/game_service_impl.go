package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/puzzlebot/game/engine"
)

var (
	// ErrInvalidDirection is returned for direction text that is not up,
	// down, left or right
	ErrInvalidDirection = errors.New("invalid direction")
	// ErrNoPuzzleLoaded is returned when a session has no active puzzle
	ErrNoPuzzleLoaded = errors.New("no puzzle loaded")
)

const (
	DefaultLevel = 1
	DefaultIndex = 1
)

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	sessions SessionManager
	configs  ConfigManager
	runCtx   context.Context
	logger   zerolog.Logger
}

// Option configures the game service
type Option func(*gameServiceImpl)

// WithRunContext sets the parent context of every run. Runs outlive the
// request that started them and stop when this context is cancelled.
func WithRunContext(ctx context.Context) Option {
	return func(s *gameServiceImpl) { s.runCtx = ctx }
}

// WithLogger sets the service logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *gameServiceImpl) { s.logger = l }
}

// NewGameService creates a new game service instance
func NewGameService(sessions SessionManager, configs ConfigManager, opts ...Option) GameService {
	s := &gameServiceImpl{
		sessions: sessions,
		configs:  configs,
		runCtx:   context.Background(),
		logger:   log.Logger.With().Str("component", "service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession creates a new play session on the given puzzle. Zero level
// or index select the first puzzle.
func (s *gameServiceImpl) CreateSession(ctx context.Context, subjectID string, level, index int) (*SessionInfo, error) {
	if level == 0 {
		level = DefaultLevel
	}
	if index == 0 {
		index = DefaultIndex
	}

	puzzle, err := s.configs.Puzzle(level, index)
	if err != nil {
		return nil, fmt.Errorf("failed to load puzzle: %w", err)
	}

	// Let session manager generate a proper 4-character ID
	session, err := s.sessions.Create("", subjectID, puzzle)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return sessionInfo(session), nil
}

// GetSession retrieves session information
func (s *gameServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sessionInfo(session), nil
}

// ListSessions returns all active sessions, oldest first
func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.sessions.List()
	infos := make([]*SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, sessionInfo(session))
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos, nil
}

// DeleteSession removes a session and stops its engine
func (s *gameServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// LoadPuzzle switches a session to another catalog puzzle. Loading the
// puzzle that is already active keeps its progress.
func (s *gameServiceImpl) LoadPuzzle(ctx context.Context, sessionID string, level, index int) (*SessionInfo, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	puzzle, err := s.configs.Puzzle(level, index)
	if err != nil {
		return nil, fmt.Errorf("failed to load puzzle: %w", err)
	}

	session.Engine.LoadPuzzle(puzzle, true)
	s.save(session)
	return sessionInfo(session), nil
}

// NextPuzzle advances a session to the puzzle after its current one
func (s *gameServiceImpl) NextPuzzle(ctx context.Context, sessionID string) (*SessionInfo, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	current := session.Engine.Puzzle()
	if current == nil {
		return nil, ErrNoPuzzleLoaded
	}
	next, err := s.configs.NextPuzzle(current)
	if err != nil {
		return nil, fmt.Errorf("failed to find next puzzle: %w", err)
	}

	session.Engine.LoadPuzzle(next, false)
	s.save(session)

	s.logger.Info().
		Str("session_id", session.ID).
		Int("from_puzzle", current.ID()).
		Int("puzzle_id", next.ID()).
		Msg("advanced to next puzzle")
	return sessionInfo(session), nil
}

// AddCommand appends one direction to the session's queue. Appends the
// engine refuses (wrong phase, full queue) are not errors.
func (s *gameServiceImpl) AddCommand(ctx context.Context, sessionID, direction string) (*engine.Snapshot, error) {
	return s.AddCommands(ctx, sessionID, []string{direction})
}

// AddCommands appends several directions. Every direction is parsed before
// any is queued.
func (s *gameServiceImpl) AddCommands(ctx context.Context, sessionID string, directions []string) (*engine.Snapshot, error) {
	dirs := make([]engine.Direction, 0, len(directions))
	for _, text := range directions {
		d, err := engine.ParseDirection(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, text)
		}
		dirs = append(dirs, d)
	}

	return s.mutate(sessionID, func(e *engine.Engine) {
		for _, d := range dirs {
			e.EnqueueCommand(d)
		}
	})
}

// RemoveLastCommand drops the last queued direction
func (s *gameServiceImpl) RemoveLastCommand(ctx context.Context, sessionID string) (*engine.Snapshot, error) {
	return s.mutate(sessionID, (*engine.Engine).DequeueLastCommand)
}

// ClearCommands empties the queue
func (s *gameServiceImpl) ClearCommands(ctx context.Context, sessionID string) (*engine.Snapshot, error) {
	return s.mutate(sessionID, (*engine.Engine).ClearQueue)
}

// Run starts executing the session's queue. With wait set it blocks until
// the attempt finishes or ctx is done; an expired ctx does not stop the run.
func (s *gameServiceImpl) Run(ctx context.Context, sessionID string, wait bool) (*RunResult, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	result := &RunResult{Accepted: session.Engine.Run(s.runCtx)}
	s.save(session)

	if result.Accepted && wait {
		if err := session.Engine.Wait(ctx); err == nil {
			result.Waited = true
		}
	}
	result.State = session.Engine.Snapshot()

	s.logger.Debug().
		Str("session_id", session.ID).
		Bool("accepted", result.Accepted).
		Str("phase", string(result.State.Phase)).
		Int("attempts", result.State.Attempts).
		Msg("run requested")
	return result, nil
}

// Reset starts a fresh attempt on the same puzzle
func (s *gameServiceImpl) Reset(ctx context.Context, sessionID string) (*engine.Snapshot, error) {
	return s.mutate(sessionID, (*engine.Engine).ResetAttempt)
}

// GetState returns the session's current snapshot
func (s *gameServiceImpl) GetState(ctx context.Context, sessionID string) (*engine.Snapshot, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	snap := session.Engine.Snapshot()
	return &snap, nil
}

// ListLevels returns the catalog's levels
func (s *gameServiceImpl) ListLevels(ctx context.Context) ([]*LevelInfo, error) {
	levels, err := s.configs.ListLevels()
	if err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}
	return levels, nil
}

// GetLevel returns one level with its full boards
func (s *gameServiceImpl) GetLevel(ctx context.Context, level int) (*LevelDetail, error) {
	puzzles, err := s.configs.PuzzlesForLevel(level)
	if err != nil {
		return nil, fmt.Errorf("failed to load level: %w", err)
	}

	detail := &LevelDetail{LevelInfo: LevelInfo{Level: level}}
	levels, err := s.configs.ListLevels()
	if err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}
	for _, info := range levels {
		if info.Level == level {
			detail.LevelInfo = *info
			break
		}
	}

	for _, p := range puzzles {
		detail.Boards = append(detail.Boards, p.View())
	}
	return detail, nil
}

// session fetches a session and marks it accessed
func (s *gameServiceImpl) session(sessionID string) (*Session, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	if err := s.sessions.UpdateLastAccessed(session.ID); err != nil {
		s.logger.Debug().Err(err).Str("session_id", session.ID).Msg("failed to update last access")
	}
	return session, nil
}

// mutate applies fn to a session's engine, persists and returns the result
func (s *gameServiceImpl) mutate(sessionID string, fn func(*engine.Engine)) (*engine.Snapshot, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	fn(session.Engine)
	s.save(session)
	snap := session.Engine.Snapshot()
	return &snap, nil
}

func (s *gameServiceImpl) save(session *Session) {
	if err := s.sessions.Save(session.ID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to persist session")
	}
}

func sessionInfo(session *Session) *SessionInfo {
	snap := session.Engine.Snapshot()
	info := &SessionInfo{
		ID:             session.ID,
		SubjectID:      session.SubjectID,
		CreatedAt:      session.CreatedAt,
		LastAccessedAt: session.LastAccessedAt,
		State:          snap,
	}
	if snap.Puzzle != nil {
		info.Level = snap.Puzzle.Level
		info.PuzzleIndex = snap.Puzzle.Index
		info.PuzzleID = snap.Puzzle.ID
	}
	return info
}
