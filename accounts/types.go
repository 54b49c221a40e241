package accounts

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores for missing rows
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by stores when a unique column collides
	ErrDuplicate = errors.New("duplicate")

	ErrInvalidInput       = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotParent          = errors.New("user is not a parent")
	ErrNotKid             = errors.New("user is not a kid")
	ErrInviteCodeNotFound = errors.New("invite code not found")
	ErrNotLinked          = errors.New("child is not linked to this parent")
	ErrInvalidToken       = errors.New("invalid token")
)

// UserType distinguishes parent and kid accounts
type UserType string

const (
	Parent UserType = "parent"
	Kid    UserType = "kid"
)

// Valid reports whether t is a known account type
func (t UserType) Valid() bool {
	return t == Parent || t == Kid
}

// User is a registered account. Kids may carry the id of the parent they
// linked to; parents may carry an invite code.
type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Type         UserType  `json:"type"`
	ParentID     string    `json:"parent_id,omitempty"`
	InviteCode   string    `json:"invite_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// GameRecord is one stored attempt outcome of a kid
type GameRecord struct {
	ID       int64     `json:"id"`
	KidID    string    `json:"kid_id"`
	PuzzleID int       `json:"puzzle_id"`
	Level    int       `json:"level"`
	Game     int       `json:"game"`
	Score    int       `json:"score"`
	Success  bool      `json:"success"`
	Attempts int       `json:"attempts"`
	PlayedAt time.Time `json:"played_at"`
}

// Store persists accounts and game records
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	ParentByInviteCode(ctx context.Context, code string) (*User, error)
	KidsForParent(ctx context.Context, parentID string) ([]*User, error)
	InsertGameSession(ctx context.Context, r *GameRecord) error
	GameSessionsForKid(ctx context.Context, kidID string) ([]*GameRecord, error)
}

// RegisterRequest carries the registration form
type RegisterRequest struct {
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	Username        string   `json:"username"`
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	ConfirmPassword string   `json:"confirm_password"`
	Type            UserType `json:"type"`
}

// LevelStat is the success rate of one level
type LevelStat struct {
	Level       int     `json:"level"`
	Played      int     `json:"played"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// ScorePoint is one entry of the chronological score progression
type ScorePoint struct {
	PlayedAt time.Time `json:"played_at"`
	Score    int       `json:"score"`
}

// Report summarizes a kid's play for their parent
type Report struct {
	Child            *User         `json:"child"`
	TotalSessions    int           `json:"total_sessions"`
	SuccessCount     int           `json:"success_count"`
	SuccessRate      float64       `json:"success_rate"`
	AverageScore     float64       `json:"average_score"`
	Levels           []LevelStat   `json:"levels"`
	ScoreProgression []ScorePoint  `json:"score_progression"`
	RecentSessions   []*GameRecord `json:"recent_sessions"`
}
