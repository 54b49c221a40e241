// Package accounts manages parent and kid accounts, login tokens, invite
// codes and the performance reports parents read about their kids.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/wricardo/puzzlebot/game/engine"
)

const (
	inviteCodeLength  = 6
	recentSessions    = 10
	inviteCodeRetries = 5
)

// ProgressRecorder receives account and game events for the progress log
type ProgressRecorder interface {
	GameSession(username string, level, game, score int, success bool, attempts int)
	UserRegistered(username, userType string)
	UserLogin(username string)
	ChildLinked(child, parent string)
}

type nopProgress struct{}

func (nopProgress) GameSession(string, int, int, int, bool, int) {}
func (nopProgress) UserRegistered(string, string)                 {}
func (nopProgress) UserLogin(string)                              {}
func (nopProgress) ChildLinked(string, string)                    {}

// Service implements the account operations
type Service struct {
	store     Store
	tokens    *TokenIssuer
	progress  ProgressRecorder
	reports   *ristretto.Cache[string, *Report]
	reportTTL time.Duration

	// versionMu orders report caching against invalidation
	versionMu      sync.Mutex
	reportVersions map[string]uint64

	bcryptCost int
	now        func() time.Time
	logger     zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithProgressLog sends account and game events to p
func WithProgressLog(p ProgressRecorder) Option {
	return func(s *Service) {
		if p != nil {
			s.progress = p
		}
	}
}

// WithReportTTL sets how long a computed report is served from cache
func WithReportTTL(d time.Duration) Option {
	return func(s *Service) { s.reportTTL = d }
}

// WithBcryptCost sets the password hashing cost
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates the account service. cacheSize is the number of
// reports kept in memory; every report costs 1.
func NewService(store Store, tokens *TokenIssuer, cacheSize int64, opts ...Option) (*Service, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Report]{
		NumCounters:        cacheSize * 10,
		MaxCost:            cacheSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("report cache: %w", err)
	}

	s := &Service{
		store:          store,
		tokens:         tokens,
		progress:       nopProgress{},
		reports:        cache,
		reportTTL:      5 * time.Minute,
		reportVersions: make(map[string]uint64),
		bcryptCost:     bcrypt.DefaultCost,
		now:            time.Now,
		logger:         log.Logger.With().Str("component", "accounts").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the report cache
func (s *Service) Close() {
	s.reports.Close()
}

// Register validates the form and creates an account
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	if _, err := s.store.UserByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, err := s.store.UserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           uuid.NewString(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Type:         req.Type,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	s.progress.UserRegistered(u.Username, string(u.Type))
	s.logger.Info().Str("user_id", u.ID).Str("type", string(u.Type)).Msg("user registered")
	return u, nil
}

// Login checks credentials and issues a token
func (s *Service) Login(ctx context.Context, username, password string) (*User, string, time.Time, error) {
	u, err := s.store.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", time.Time{}, ErrInvalidCredentials
		}
		return nil, "", time.Time{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	s.progress.UserLogin(u.Username)
	return u, token, exp, nil
}

// Authenticate resolves a token to a still existing user
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	u, err := s.store.UserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return u, nil
}

// User returns an account by id
func (s *Service) User(ctx context.Context, id string) (*User, error) {
	return s.store.UserByID(ctx, id)
}

// InviteCode returns the parent's invite code, generating one on first use
func (s *Service) InviteCode(ctx context.Context, parentID string) (string, error) {
	parent, err := s.requireType(ctx, parentID, Parent)
	if err != nil {
		return "", err
	}
	if parent.InviteCode != "" {
		return parent.InviteCode, nil
	}

	for i := 0; i < inviteCodeRetries; i++ {
		parent.InviteCode = newInviteCode()
		err = s.store.UpdateUser(ctx, parent)
		if err == nil {
			return parent.InviteCode, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return "", err
		}
	}
	return "", fmt.Errorf("generate invite code: %w", err)
}

// LinkChild attaches a kid to the parent owning code
func (s *Service) LinkChild(ctx context.Context, childID, code string) (*User, error) {
	child, err := s.requireType(ctx, childID, Kid)
	if err != nil {
		return nil, err
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: invite code is required", ErrInvalidInput)
	}
	parent, err := s.store.ParentByInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInviteCodeNotFound
		}
		return nil, err
	}

	child.ParentID = parent.ID
	if err := s.store.UpdateUser(ctx, child); err != nil {
		return nil, err
	}

	s.progress.ChildLinked(child.Username, parent.Username)
	s.logger.Info().Str("child_id", child.ID).Str("parent_id", parent.ID).Msg("child linked")
	return parent, nil
}

// Children lists the kids linked to a parent
func (s *Service) Children(ctx context.Context, parentID string) ([]*User, error) {
	if _, err := s.requireType(ctx, parentID, Parent); err != nil {
		return nil, err
	}
	return s.store.KidsForParent(ctx, parentID)
}

// Report returns the performance report of a kid linked to parentID
func (s *Service) Report(ctx context.Context, parentID, childID string) (*Report, error) {
	if _, err := s.requireType(ctx, parentID, Parent); err != nil {
		return nil, err
	}
	child, err := s.store.UserByID(ctx, childID)
	if err != nil {
		return nil, err
	}
	if child.Type != Kid || child.ParentID != parentID {
		return nil, ErrNotLinked
	}

	if report, ok := s.reports.Get(childID); ok {
		return report, nil
	}

	version := s.reportVersion(childID)
	records, err := s.store.GameSessionsForKid(ctx, childID)
	if err != nil {
		return nil, err
	}
	report := BuildReport(child, records)

	// An outcome recorded while the sessions were read makes this report
	// stale, so it is returned but not cached.
	s.versionMu.Lock()
	if s.reportVersions[childID] == version {
		s.reports.SetWithTTL(childID, report, 1, s.reportTTL)
		s.reports.Wait()
	}
	s.versionMu.Unlock()
	return report, nil
}

func (s *Service) reportVersion(childID string) uint64 {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	return s.reportVersions[childID]
}

// InvalidateReport drops the cached report of a kid
func (s *Service) InvalidateReport(childID string) {
	s.versionMu.Lock()
	s.reportVersions[childID]++
	s.reports.Del(childID)
	s.versionMu.Unlock()
}

// Record stores the outcome of a kid's attempt. Outcomes of anonymous
// sessions or non-kid accounts are ignored.
func (s *Service) Record(ctx context.Context, o engine.Outcome) error {
	if o.SubjectID == "" {
		return nil
	}
	u, err := s.store.UserByID(ctx, o.SubjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug().Str("subject_id", o.SubjectID).Msg("outcome for unknown user ignored")
			return nil
		}
		return err
	}
	if u.Type != Kid {
		return nil
	}

	record := &GameRecord{
		KidID:    u.ID,
		PuzzleID: o.PuzzleID,
		Level:    o.Level,
		Game:     o.PuzzleIndex,
		Score:    o.Score,
		Success:  o.Success,
		Attempts: o.Attempts,
		PlayedAt: o.Timestamp,
	}
	if record.PlayedAt.IsZero() {
		record.PlayedAt = s.now()
	}
	if err := s.store.InsertGameSession(ctx, record); err != nil {
		return err
	}

	s.InvalidateReport(u.ID)
	s.progress.GameSession(u.Username, o.Level, o.PuzzleIndex, o.Score, o.Success, o.Attempts)
	return nil
}

func (s *Service) requireType(ctx context.Context, id string, want UserType) (*User, error) {
	u, err := s.store.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Type != want {
		if want == Parent {
			return nil, ErrNotParent
		}
		return nil, ErrNotKid
	}
	return u, nil
}

func validateRegistration(req RegisterRequest) error {
	if req.FirstName == "" || req.LastName == "" || req.Username == "" ||
		req.Email == "" || req.Password == "" || req.ConfirmPassword == "" {
		return fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: type must be parent or kid", ErrInvalidInput)
	}
	if len(req.Username) < 3 || len(req.Username) > 24 {
		return fmt.Errorf("%w: username must be 3-24 chars", ErrInvalidInput)
	}
	for _, r := range req.Username {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("%w: username: letters, numbers, underscore only", ErrInvalidInput)
		}
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if len(req.Password) < 8 || len(req.Password) > 100 {
		return fmt.Errorf("%w: password must be 8-100 chars", ErrInvalidInput)
	}
	if req.Password != req.ConfirmPassword {
		return fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}
	return nil
}

func newInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:inviteCodeLength]
}
