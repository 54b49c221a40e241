package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/puzzlebot/game/engine"
	"github.com/wricardo/puzzlebot/game/service"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrInvalidSessionID     = errors.New("invalid session ID")
	ErrNoPuzzle             = errors.New("session has no puzzle")
)

// PuzzleFinder resolves persisted puzzle ids back to catalog puzzles
type PuzzleFinder interface {
	FindPuzzle(id int) (*engine.Puzzle, error)
}

// Observer receives every state change of every managed session
type Observer func(sessionID string, snap engine.Snapshot)

// Manager handles play session lifecycle. Each session owns one engine.
type Manager struct {
	sessions    map[string]*managed
	persistence SessionPersistence
	puzzles     PuzzleFinder
	engineOpts  []engine.Option
	observers   []Observer
	logger      zerolog.Logger
	now         func() time.Time
	mu          sync.RWMutex
}

type managed struct {
	session     *service.Session
	unsubscribe func()
}

// Option configures a Manager
type Option func(*Manager)

// WithEngineOptions sets options applied to every engine the manager builds
func WithEngineOptions(opts ...engine.Option) Option {
	return func(m *Manager) { m.engineOpts = append(m.engineOpts, opts...) }
}

// WithObserver registers an observer for every session's state changes
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithLogger sets the manager logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the clock used for session timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new session manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*managed),
		logger:   log.Logger.With().Str("component", "session").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerWithPersistence creates a new session manager with persistence.
// puzzles resolves the puzzle of a persisted session when it is reloaded.
func NewManagerWithPersistence(persistence SessionPersistence, puzzles PuzzleFinder, opts ...Option) *Manager {
	m := NewManager(opts...)
	m.persistence = persistence
	m.puzzles = puzzles
	return m
}

// Create creates a new session playing puzzle. An empty id is generated.
func (m *Manager) Create(id, subjectID string, puzzle *engine.Puzzle) (*service.Session, error) {
	if puzzle == nil {
		return nil, ErrNoPuzzle
	}
	if id != "" && !ValidSessionID(id) {
		return nil, ErrInvalidSessionID
	}

	m.mu.Lock()
	if id == "" {
		id = m.generateSessionID()
	}
	key := strings.ToLower(id)
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return nil, ErrSessionAlreadyExists
	}

	now := m.now()
	session := &service.Session{
		ID:             key,
		SubjectID:      subjectID,
		Engine:         m.newEngine(subjectID),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	session.Engine.LoadPuzzle(puzzle, false)
	m.sessions[key] = &managed{session: session, unsubscribe: m.watch(session)}
	m.mu.Unlock()

	m.logger.Info().
		Str("session_id", key).
		Str("subject_id", subjectID).
		Int("puzzle_id", puzzle.ID()).
		Msg("session created")

	// Auto-save if persistence is enabled
	m.persist(session)
	return session, nil
}

// Get retrieves a session by ID (case-insensitive), loading it from
// persistence when it is not in memory.
func (m *Manager) Get(id string) (*service.Session, error) {
	key := strings.ToLower(id)
	m.mu.RLock()
	entry, exists := m.sessions[key]
	m.mu.RUnlock()
	if exists {
		return entry.session, nil
	}

	// Try loading from persistence if not in memory
	if m.persistence != nil && ValidSessionID(key) && m.persistence.Exists(key) {
		session, err := m.restore(key)
		if err != nil {
			return nil, fmt.Errorf("failed to load persisted session: %w", err)
		}

		m.mu.Lock()
		if entry, exists := m.sessions[key]; exists {
			m.mu.Unlock()
			session.Engine.Close()
			return entry.session, nil
		}
		m.sessions[key] = &managed{session: session, unsubscribe: m.watch(session)}
		m.mu.Unlock()
		return session, nil
	}

	return nil, ErrSessionNotFound
}

// List returns all active sessions
func (m *Manager) List() []*service.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*service.Session, 0, len(m.sessions))
	for _, entry := range m.sessions {
		result = append(result, entry.session)
	}
	return result
}

// Delete removes a session from memory and persistence and stops its engine
func (m *Manager) Delete(id string) error {
	key := strings.ToLower(id)
	if !ValidSessionID(key) {
		return ErrSessionNotFound
	}
	entry := m.detach(key)

	// Delete from persistence if it exists
	if m.persistence != nil && m.persistence.Exists(key) {
		if err := m.persistence.Delete(key); err != nil {
			return fmt.Errorf("failed to delete persisted session: %w", err)
		}
		return nil
	}

	// If not in persistence and not in memory, it doesn't exist
	if entry == nil {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteFromMemory removes a session from memory only (not from persistence)
func (m *Manager) DeleteFromMemory(id string) error {
	if m.detach(strings.ToLower(id)) == nil {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateLastAccessed updates the last accessed time for a session
func (m *Manager) UpdateLastAccessed(id string) error {
	m.mu.Lock()
	entry, exists := m.sessions[strings.ToLower(id)]
	if !exists {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	entry.session.LastAccessedAt = m.now()
	m.mu.Unlock()
	return nil
}

// Save saves a specific session to persistence
func (m *Manager) Save(id string) error {
	if m.persistence == nil {
		return nil // No persistence configured
	}

	m.mu.RLock()
	entry, exists := m.sessions[strings.ToLower(id)]
	m.mu.RUnlock()
	if !exists {
		return ErrSessionNotFound
	}
	return m.persistence.Save(entry.session)
}

// CleanupExpiredSessions removes sessions that haven't been accessed in the
// given duration and stops their engines. Persisted files are kept.
func (m *Manager) CleanupExpiredSessions(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var expired []*managed
	for key, entry := range m.sessions {
		if entry.session.LastAccessedAt.Before(cutoff) {
			delete(m.sessions, key)
			expired = append(expired, entry)
		}
	}
	m.mu.Unlock()

	for _, entry := range expired {
		m.release(entry)
	}
	return len(expired)
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close saves every session and stops all engines
func (m *Manager) Close() error {
	err := m.SaveAllSessions()

	m.mu.Lock()
	entries := make([]*managed, 0, len(m.sessions))
	for key, entry := range m.sessions {
		delete(m.sessions, key)
		entries = append(entries, entry)
	}
	m.mu.Unlock()

	for _, entry := range entries {
		m.release(entry)
	}
	return err
}

// LoadPersistedSessions loads all persisted sessions into memory
func (m *Manager) LoadPersistedSessions() error {
	if m.persistence == nil {
		return nil // No persistence configured
	}

	sessionIDs, err := m.persistence.ListAll()
	if err != nil {
		return fmt.Errorf("failed to list persisted sessions: %w", err)
	}

	loadedCount := 0
	for _, id := range sessionIDs {
		key := strings.ToLower(id)
		m.mu.RLock()
		_, exists := m.sessions[key]
		m.mu.RUnlock()
		// Skip if already loaded in memory
		if exists {
			continue
		}

		session, err := m.restore(key)
		if err != nil {
			m.logger.Warn().Err(err).Str("session_id", key).Msg("failed to load persisted session")
			continue
		}

		m.mu.Lock()
		m.sessions[key] = &managed{session: session, unsubscribe: m.watch(session)}
		m.mu.Unlock()
		loadedCount++
	}

	if loadedCount > 0 {
		m.logger.Info().Int("count", loadedCount).Msg("loaded persisted sessions from storage")
	}
	return nil
}

// SaveAllSessions saves all in-memory sessions to persistence
func (m *Manager) SaveAllSessions() error {
	if m.persistence == nil {
		return nil // No persistence configured
	}

	errorCount := 0
	for _, session := range m.List() {
		if err := m.persistence.Save(session); err != nil {
			m.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to save session")
			errorCount++
		}
	}

	if errorCount > 0 {
		return fmt.Errorf("failed to save %d sessions", errorCount)
	}
	return nil
}

// ValidSessionID reports whether id has the 4 hex character session format
func ValidSessionID(id string) bool {
	if len(id) != 4 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// restore rebuilds a session from its persisted record
func (m *Manager) restore(id string) (*service.Session, error) {
	if m.puzzles == nil {
		return nil, fmt.Errorf("no puzzle catalog configured")
	}
	data, err := m.persistence.Load(id)
	if err != nil {
		return nil, err
	}

	eng := m.newEngine(data.SubjectID)
	if data.PuzzleID != 0 {
		puzzle, err := m.puzzles.FindPuzzle(data.PuzzleID)
		if err != nil {
			eng.Close()
			return nil, fmt.Errorf("failed to resolve puzzle %d: %w", data.PuzzleID, err)
		}
		eng.LoadPuzzle(puzzle, false)
		if len(data.RunState) > 0 {
			if err := eng.RestoreState(data.RunState); err != nil {
				eng.Close()
				return nil, fmt.Errorf("failed to restore run state: %w", err)
			}
		}
	}

	return &service.Session{
		ID:             strings.ToLower(data.ID),
		SubjectID:      data.SubjectID,
		Engine:         eng,
		CreatedAt:      data.CreatedAt,
		LastAccessedAt: data.LastAccessedAt,
	}, nil
}

func (m *Manager) newEngine(subjectID string) *engine.Engine {
	opts := append([]engine.Option{}, m.engineOpts...)
	opts = append(opts, engine.WithSubject(subjectID))
	return engine.New(opts...)
}

// watch forwards engine snapshots to the observers and saves terminal states
func (m *Manager) watch(session *service.Session) func() {
	id := session.ID
	return session.Engine.Subscribe(func(snap engine.Snapshot) {
		for _, o := range m.observers {
			o(id, snap)
		}
		if snap.Phase.Terminal() {
			if err := m.Save(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
				m.logger.Warn().Err(err).Str("session_id", id).Msg("failed to persist finished attempt")
			}
		}
	})
}

// detach removes a session from memory and stops its engine
func (m *Manager) detach(key string) *managed {
	m.mu.Lock()
	entry, exists := m.sessions[key]
	if exists {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}
	m.release(entry)
	return entry
}

// release stops an engine that is no longer tracked. Never call with m.mu
// held: closing waits for the run goroutine, which may be saving.
func (m *Manager) release(entry *managed) {
	entry.unsubscribe()
	entry.session.Engine.Close()
}

func (m *Manager) persist(session *service.Session) {
	if m.persistence == nil {
		return
	}
	if err := m.persistence.Save(session); err != nil {
		// Log error but don't fail the caller
		m.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to persist session")
	}
}

// generateSessionID generates a random unused 4-character session ID.
// Caller holds m.mu.
func (m *Manager) generateSessionID() string {
	for {
		// Generate 2 random bytes (4 hex characters)
		bytes := make([]byte, 2)
		if _, err := rand.Read(bytes); err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		id := hex.EncodeToString(bytes)
		if _, exists := m.sessions[id]; !exists {
			return id
		}
	}
}
