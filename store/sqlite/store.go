// Package sqlite stores accounts and game records in a SQLite database.
//
// Open creates the database file if needed, turns on WAL journaling, a busy
// timeout and foreign keys, and applies the embedded migrations once each.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/puzzlebot/accounts"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned for missing rows
var ErrNotFound = accounts.ErrNotFound

type (
	User       = accounts.User
	GameRecord = accounts.GameRecord
)

// timeFormat sorts lexically in chronological order
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements accounts.Store on SQLite
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ accounts.Store = (*Store)(nil)

// Open opens (and creates if missing) the database at path and migrates it
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{db: db, logger: log.Logger.With().Str("component", "sqlite").Logger()}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies every embedded migration not yet recorded in _migrations
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		name := filepath.Base(f)
		var done int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM _migrations WHERE name=?`, name).Scan(&done)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query _migrations: %w", err)
		}

		text, err := migrations.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(text)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO _migrations(name) VALUES (?)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", name, err)
		}
		s.logger.Info().Str("migration", name).Msg("applied")
	}
	return nil
}

const userColumns = `id, first_name, last_name, username, email, password_hash, user_type, parent_id, invite_code, created_at`

// CreateUser inserts a new account
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.FirstName, u.LastName, u.Username, u.Email, u.PasswordHash,
		string(u.Type), nullString(u.ParentID), nullString(u.InviteCode), formatTime(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", translate(err))
	}
	return nil
}

// UpdateUser rewrites the mutable columns of an account
func (s *Store) UpdateUser(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE users
        SET first_name=?, last_name=?, username=?, email=?, password_hash=?, parent_id=?, invite_code=?
        WHERE id=?`,
		u.FirstName, u.LastName, u.Username, u.Email, u.PasswordHash,
		nullString(u.ParentID), nullString(u.InviteCode), u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", translate(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update user %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

// UserByID looks an account up by id
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	return s.userWhere(ctx, `id=?`, id)
}

// UserByUsername looks an account up by username, case-insensitively
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.userWhere(ctx, `username=?`, username)
}

// UserByEmail looks an account up by email, case-insensitively
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.userWhere(ctx, `email=?`, email)
}

// ParentByInviteCode returns the parent owning code
func (s *Store) ParentByInviteCode(ctx context.Context, code string) (*User, error) {
	return s.userWhere(ctx, `invite_code=? AND user_type='parent'`, strings.ToUpper(code))
}

// KidsForParent lists the kids linked to a parent, by username
func (s *Store) KidsForParent(ctx context.Context, parentID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+userColumns+`
        FROM users
        WHERE parent_id=? AND user_type='kid'
        ORDER BY username COLLATE NOCASE`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query kids: %w", err)
	}
	defer rows.Close()

	var kids []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		kids = append(kids, u)
	}
	return kids, rows.Err()
}

// InsertGameSession stores an attempt outcome and sets r.ID
func (s *Store) InsertGameSession(ctx context.Context, r *GameRecord) error {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO game_sessions (kid_id, puzzle_id, level, game_number, score, success, attempts, played_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.KidID, r.PuzzleID, r.Level, r.Game, r.Score, r.Success, r.Attempts, formatTime(r.PlayedAt),
	)
	if err != nil {
		return fmt.Errorf("insert game session: %w", translate(err))
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

// GameSessionsForKid lists a kid's outcomes, newest first
func (s *Store) GameSessionsForKid(ctx context.Context, kidID string) ([]*GameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, kid_id, puzzle_id, level, game_number, score, success, attempts, played_at
        FROM game_sessions
        WHERE kid_id=?
        ORDER BY played_at DESC, id DESC`, kidID)
	if err != nil {
		return nil, fmt.Errorf("query game sessions: %w", err)
	}
	defer rows.Close()

	var records []*GameRecord
	for rows.Next() {
		var r GameRecord
		var played string
		if err := rows.Scan(&r.ID, &r.KidID, &r.PuzzleID, &r.Level, &r.Game, &r.Score, &r.Success, &r.Attempts, &played); err != nil {
			return nil, fmt.Errorf("scan game session: %w", err)
		}
		r.PlayedAt = parseTime(played)
		records = append(records, &r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) userWhere(ctx context.Context, where string, args ...any) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, args...)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func scanUser(row scanner) (*User, error) {
	var u User
	var userType, created string
	var parentID, inviteCode sql.NullString
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Username, &u.Email, &u.PasswordHash,
		&userType, &parentID, &inviteCode, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Type = accounts.UserType(userType)
	u.ParentID = parentID.String
	u.InviteCode = inviteCode.String
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// translate maps driver constraint errors onto account errors
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", accounts.ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
