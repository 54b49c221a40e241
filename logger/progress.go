package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Progress log event names
const (
	EventGameSession    = "game_session"
	EventUserRegistered = "user_registered"
	EventUserLogin      = "user_login"
	EventChildLinked    = "child_linked"
)

// Entry is one line of the progress log
type Entry struct {
	Time     time.Time `json:"time"`
	Event    string    `json:"event"`
	Username string    `json:"username"`
	UserType string    `json:"user_type,omitempty"`
	Parent   string    `json:"parent,omitempty"`
	Level    int       `json:"level,omitempty"`
	Game     int       `json:"game,omitempty"`
	Score    int       `json:"score,omitempty"`
	Success  *bool     `json:"success,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
}

// ProgressLog appends one JSON line per account or game event to a file
type ProgressLog struct {
	path   string
	file   *os.File
	logger zerolog.Logger
	once   sync.Once
}

// NewProgressLog opens (or creates) the progress log at path for appending
func NewProgressLog(path string) (*ProgressLog, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress log: %w", err)
	}

	// Entries carry no level field; only Log() events are written
	l := zerolog.New(zerolog.SyncWriter(f)).Level(zerolog.NoLevel).With().Timestamp().Logger()
	return &ProgressLog{path: path, file: f, logger: l}, nil
}

// Path returns the file the log writes to
func (p *ProgressLog) Path() string { return p.path }

// GameSession records a finished attempt
func (p *ProgressLog) GameSession(username string, level, game, score int, success bool, attempts int) {
	p.logger.Log().
		Str("event", EventGameSession).
		Str("username", username).
		Int("level", level).
		Int("game", game).
		Int("score", score).
		Bool("success", success).
		Int("attempts", attempts).
		Send()
}

// UserRegistered records a new account
func (p *ProgressLog) UserRegistered(username, userType string) {
	p.logger.Log().
		Str("event", EventUserRegistered).
		Str("username", username).
		Str("user_type", userType).
		Send()
}

// UserLogin records a successful login
func (p *ProgressLog) UserLogin(username string) {
	p.logger.Log().
		Str("event", EventUserLogin).
		Str("username", username).
		Send()
}

// ChildLinked records a kid joining a parent through an invite code
func (p *ProgressLog) ChildLinked(child, parent string) {
	p.logger.Log().
		Str("event", EventChildLinked).
		Str("username", child).
		Str("parent", parent).
		Send()
}

// Close closes the underlying file
func (p *ProgressLog) Close() error {
	var err error
	p.once.Do(func() { err = p.file.Close() })
	return err
}

// ReadEntries returns the entries of the log at path in file order. A
// non-empty username keeps only that user's entries. A missing file yields
// no entries; malformed lines are skipped.
func ReadEntries(path, username string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open progress log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if username != "" && !strings.EqualFold(e.Username, username) {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read progress log: %w", err)
	}
	return entries, nil
}
