package accounts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wricardo/puzzlebot/game/engine"
)

// fakeStore implements Store in memory
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]*User
	records     []*GameRecord
	reportReads int

	// afterSessionsRead runs once the kid's sessions have been read
	afterSessionsRead func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*User{}}
}

func (f *fakeStore) CreateUser(ctx context.Context, u *User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	c := *u
	f.users[u.ID] = &c
	return nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, u *User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		return ErrNotFound
	}
	c := *u
	f.users[u.ID] = &c
	return nil
}

func (f *fakeStore) find(match func(*User) bool) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) UserByID(ctx context.Context, id string) (*User, error) {
	return f.find(func(u *User) bool { return u.ID == id })
}

func (f *fakeStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	return f.find(func(u *User) bool { return strings.EqualFold(u.Username, username) })
}

func (f *fakeStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	return f.find(func(u *User) bool { return strings.EqualFold(u.Email, email) })
}

func (f *fakeStore) ParentByInviteCode(ctx context.Context, code string) (*User, error) {
	return f.find(func(u *User) bool { return u.Type == Parent && u.InviteCode == strings.ToUpper(code) })
}

func (f *fakeStore) KidsForParent(ctx context.Context, parentID string) ([]*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kids []*User
	for _, u := range f.users {
		if u.Type == Kid && u.ParentID == parentID {
			c := *u
			kids = append(kids, &c)
		}
	}
	sort.Slice(kids, func(i, j int) bool { return kids[i].Username < kids[j].Username })
	return kids, nil
}

func (f *fakeStore) InsertGameSession(ctx context.Context, r *GameRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[r.KidID]; !ok {
		return ErrNotFound
	}
	c := *r
	c.ID = int64(len(f.records) + 1)
	f.records = append(f.records, &c)
	return nil
}

func (f *fakeStore) GameSessionsForKid(ctx context.Context, kidID string) ([]*GameRecord, error) {
	f.mu.Lock()
	f.reportReads++
	var out []*GameRecord
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].KidID == kidID {
			c := *f.records[i]
			out = append(out, &c)
		}
	}
	hook := f.afterSessionsRead
	f.afterSessionsRead = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeStore) sessionReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reportReads
}

type fakeProgress struct {
	mu     sync.Mutex
	events []string
}

func (p *fakeProgress) add(e string) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *fakeProgress) GameSession(username string, level, game, score int, success bool, attempts int) {
	p.add("game:" + username)
}
func (p *fakeProgress) UserRegistered(username, userType string) { p.add("register:" + username) }
func (p *fakeProgress) UserLogin(username string)                { p.add("login:" + username) }
func (p *fakeProgress) ChildLinked(child, parent string)         { p.add("link:" + child + ">" + parent) }

func createTestService(t *testing.T) (*Service, *fakeStore, *fakeProgress) {
	t.Helper()
	store := newFakeStore()
	progress := &fakeProgress{}
	svc, err := NewService(store, NewTokenIssuer([]byte("test-secret"), time.Hour), 16,
		WithBcryptCost(bcrypt.MinCost),
		WithProgressLog(progress),
	)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, store, progress
}

func registerRequest(username string, typ UserType) RegisterRequest {
	return RegisterRequest{
		FirstName:       "Pat",
		LastName:        "Doe",
		Username:        username,
		Email:           username + "@example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
		Type:            typ,
	}
}

func mustRegister(t *testing.T, svc *Service, username string, typ UserType) *User {
	t.Helper()
	u, err := svc.Register(context.Background(), registerRequest(username, typ))
	if err != nil {
		t.Fatalf("Failed to register %s: %v", username, err)
	}
	return u
}

func TestService_Register(t *testing.T) {
	svc, _, progress := createTestService(t)
	ctx := context.Background()

	u := mustRegister(t, svc, "mom", Parent)
	if u.ID == "" || u.PasswordHash == "password123" {
		t.Errorf("Expected id and hashed password, got %+v", u)
	}
	if len(progress.events) != 1 || progress.events[0] != "register:mom" {
		t.Errorf("Expected registration event, got %v", progress.events)
	}

	tests := []struct {
		name    string
		mutate  func(*RegisterRequest)
		wantErr error
	}{
		{"missing field", func(r *RegisterRequest) { r.LastName = " " }, ErrInvalidInput},
		{"short username", func(r *RegisterRequest) { r.Username = "ab" }, ErrInvalidInput},
		{"bad username chars", func(r *RegisterRequest) { r.Username = "bad name" }, ErrInvalidInput},
		{"bad email", func(r *RegisterRequest) { r.Email = "nope" }, ErrInvalidInput},
		{"short password", func(r *RegisterRequest) { r.Password, r.ConfirmPassword = "short", "short" }, ErrInvalidInput},
		{"mismatched confirm", func(r *RegisterRequest) { r.ConfirmPassword = "password124" }, ErrInvalidInput},
		{"bad type", func(r *RegisterRequest) { r.Type = "admin" }, ErrInvalidInput},
		{"username taken", func(r *RegisterRequest) { r.Username = "MOM" }, ErrUsernameTaken},
		{"email taken", func(r *RegisterRequest) { r.Email = "mom@example.com" }, ErrEmailTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := registerRequest("newuser", Kid)
			tt.mutate(&req)
			if _, err := svc.Register(ctx, req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestService_LoginAndAuthenticate(t *testing.T) {
	svc, _, progress := createTestService(t)
	ctx := context.Background()
	registered := mustRegister(t, svc, "timmy", Kid)

	u, token, exp, err := svc.Login(ctx, "timmy", "password123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if u.ID != registered.ID || token == "" || exp.IsZero() {
		t.Errorf("Unexpected login result %+v %q %v", u, token, exp)
	}
	if progress.events[len(progress.events)-1] != "login:timmy" {
		t.Errorf("Expected login event, got %v", progress.events)
	}

	authed, err := svc.Authenticate(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if authed.ID != registered.ID {
		t.Errorf("Expected %s, got %s", registered.ID, authed.ID)
	}

	if _, _, _, err := svc.Login(ctx, "timmy", "wrongpass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, token+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuer(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer([]byte("secret"), time.Hour)
	issuer.now = func() time.Time { return now }

	u := &User{ID: "u1", Username: "mom", Type: Parent}
	token, exp, err := issuer.Issue(u)
	if err != nil {
		t.Fatal(err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Errorf("Expected expiry in one hour, got %v", exp)
	}

	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "u1" || claims.Username != "mom" || claims.Type != Parent {
		t.Errorf("Unexpected claims %+v", claims)
	}

	t.Run("Expired", func(t *testing.T) {
		now = now.Add(2 * time.Hour)
		defer func() { now = now.Add(-2 * time.Hour) }()
		if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("Wrong secret", func(t *testing.T) {
		other := NewTokenIssuer([]byte("other"), time.Hour)
		other.now = issuer.now
		if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})
}

func TestService_InviteAndLink(t *testing.T) {
	svc, _, progress := createTestService(t)
	ctx := context.Background()
	parent := mustRegister(t, svc, "mom", Parent)
	kid := mustRegister(t, svc, "timmy", Kid)

	code, err := svc.InviteCode(ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 6 || code != strings.ToUpper(code) {
		t.Errorf("Expected 6 upper-case characters, got %q", code)
	}
	again, _ := svc.InviteCode(ctx, parent.ID)
	if again != code {
		t.Errorf("Expected stable invite code, got %q then %q", code, again)
	}

	if _, err := svc.InviteCode(ctx, kid.ID); !errors.Is(err, ErrNotParent) {
		t.Errorf("Expected ErrNotParent, got %v", err)
	}
	if _, err := svc.LinkChild(ctx, parent.ID, code); !errors.Is(err, ErrNotKid) {
		t.Errorf("Expected ErrNotKid, got %v", err)
	}
	if _, err := svc.LinkChild(ctx, kid.ID, "XXXXXX"); !errors.Is(err, ErrInviteCodeNotFound) {
		t.Errorf("Expected ErrInviteCodeNotFound, got %v", err)
	}

	linked, err := svc.LinkChild(ctx, kid.ID, strings.ToLower(code))
	if err != nil {
		t.Fatal(err)
	}
	if linked.ID != parent.ID {
		t.Errorf("Expected parent %s, got %s", parent.ID, linked.ID)
	}
	if progress.events[len(progress.events)-1] != "link:timmy>mom" {
		t.Errorf("Expected link event, got %v", progress.events)
	}

	children, err := svc.Children(ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].ID != kid.ID {
		t.Errorf("Expected timmy as only child, got %+v", children)
	}
}

func TestService_RecordAndReport(t *testing.T) {
	svc, store, progress := createTestService(t)
	ctx := context.Background()
	parent := mustRegister(t, svc, "mom", Parent)
	other := mustRegister(t, svc, "dad", Parent)
	kid := mustRegister(t, svc, "timmy", Kid)
	code, _ := svc.InviteCode(ctx, parent.ID)
	svc.LinkChild(ctx, kid.ID, code)

	base := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	outcomes := []engine.Outcome{
		{SubjectID: kid.ID, PuzzleID: 1, Level: 1, PuzzleIndex: 1, Score: 100, Success: true, Attempts: 1, Timestamp: base},
		{SubjectID: kid.ID, PuzzleID: 2, Level: 1, PuzzleIndex: 2, Score: 0, Success: false, Attempts: 1, Timestamp: base.Add(time.Minute)},
		{SubjectID: kid.ID, PuzzleID: 4, Level: 2, PuzzleIndex: 1, Score: 80, Success: true, Attempts: 2, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, o := range outcomes {
		if err := svc.Record(ctx, o); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	t.Run("Ignored outcomes", func(t *testing.T) {
		svc.Record(ctx, engine.Outcome{SubjectID: "", Level: 1})
		svc.Record(ctx, engine.Outcome{SubjectID: parent.ID, Level: 1})
		svc.Record(ctx, engine.Outcome{SubjectID: "unknown", Level: 1})
		if len(store.records) != 3 {
			t.Errorf("Expected 3 stored records, got %d", len(store.records))
		}
	})

	t.Run("Report", func(t *testing.T) {
		report, err := svc.Report(ctx, parent.ID, kid.ID)
		if err != nil {
			t.Fatal(err)
		}
		if report.TotalSessions != 3 || report.SuccessCount != 2 {
			t.Errorf("Expected 3 sessions with 2 successes, got %+v", report)
		}
		if report.SuccessRate != 66.7 || report.AverageScore != 60 {
			t.Errorf("Expected 66.7%% and average 60, got %v and %v", report.SuccessRate, report.AverageScore)
		}
		if len(report.Levels) != 2 || report.Levels[0].SuccessRate != 50 || report.Levels[1].SuccessRate != 100 {
			t.Errorf("Unexpected level stats %+v", report.Levels)
		}
		if report.ScoreProgression[0].Score != 100 || report.ScoreProgression[2].Score != 80 {
			t.Errorf("Expected chronological progression, got %+v", report.ScoreProgression)
		}
		if report.RecentSessions[0].PuzzleID != 4 {
			t.Errorf("Expected newest session first, got %+v", report.RecentSessions[0])
		}
	})

	t.Run("Report is served from cache", func(t *testing.T) {
		reads := store.sessionReads()
		if _, err := svc.Report(ctx, parent.ID, kid.ID); err != nil {
			t.Fatal(err)
		}
		if store.sessionReads() != reads {
			t.Errorf("Expected cached report, store was read %d more times", store.sessionReads()-reads)
		}
		if cached, ok := svc.reports.Get(kid.ID); !ok || cached.TotalSessions != 3 {
			t.Errorf("Expected cached report with 3 sessions, got %v (%v)", cached, ok)
		}
	})

	t.Run("New outcome invalidates cached report", func(t *testing.T) {
		svc.Report(ctx, parent.ID, kid.ID)
		if _, ok := svc.reports.Get(kid.ID); !ok {
			t.Fatal("Expected report to be cached before the new outcome")
		}
		svc.Record(ctx, engine.Outcome{SubjectID: kid.ID, PuzzleID: 5, Level: 2, PuzzleIndex: 2, Score: 100, Success: true, Attempts: 1, Timestamp: base.Add(time.Hour)})

		report, err := svc.Report(ctx, parent.ID, kid.ID)
		if err != nil {
			t.Fatal(err)
		}
		if report.TotalSessions != 4 {
			t.Errorf("Expected fresh report with 4 sessions, got %d", report.TotalSessions)
		}
	})

	t.Run("Other parent is refused", func(t *testing.T) {
		if _, err := svc.Report(ctx, other.ID, kid.ID); !errors.Is(err, ErrNotLinked) {
			t.Errorf("Expected ErrNotLinked, got %v", err)
		}
		if _, err := svc.Report(ctx, kid.ID, kid.ID); !errors.Is(err, ErrNotParent) {
			t.Errorf("Expected ErrNotParent, got %v", err)
		}
	})

	found := false
	for _, e := range progress.events {
		if e == "game:timmy" {
			found = true
		}
	}
	if !found {
		t.Error("Expected game events in the progress log")
	}
}

func TestService_ReportRacesRecord(t *testing.T) {
	svc, store, _ := createTestService(t)
	ctx := context.Background()
	parent := mustRegister(t, svc, "mom", Parent)
	kid := mustRegister(t, svc, "timmy", Kid)
	code, _ := svc.InviteCode(ctx, parent.ID)
	svc.LinkChild(ctx, kid.ID, code)

	// An outcome lands after the report read the sessions but before it
	// reached the cache.
	store.afterSessionsRead = func() {
		if err := svc.Record(ctx, engine.Outcome{SubjectID: kid.ID, PuzzleID: 1, Level: 1, PuzzleIndex: 1, Score: 100, Success: true, Attempts: 1}); err != nil {
			t.Errorf("Record failed: %v", err)
		}
	}

	stale, err := svc.Report(ctx, parent.ID, kid.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stale.TotalSessions != 0 {
		t.Fatalf("Expected the report computed before the outcome, got %d sessions", stale.TotalSessions)
	}
	if _, ok := svc.reports.Get(kid.ID); ok {
		t.Error("Expected the stale report to stay out of the cache")
	}

	fresh, err := svc.Report(ctx, parent.ID, kid.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.TotalSessions != 1 {
		t.Errorf("Expected the new outcome in the next report, got %d sessions", fresh.TotalSessions)
	}
}

func TestBuildReport_Empty(t *testing.T) {
	r := BuildReport(&User{ID: "k"}, nil)
	if r.TotalSessions != 0 || r.SuccessRate != 0 || len(r.Levels) != 0 || r.RecentSessions == nil {
		t.Errorf("Unexpected empty report %+v", r)
	}
}

func TestBuildReport_RecentLimit(t *testing.T) {
	var records []*GameRecord
	for i := 0; i < 15; i++ {
		records = append(records, &GameRecord{ID: int64(15 - i), Level: 1, Score: 50})
	}
	r := BuildReport(&User{ID: "k"}, records)
	if len(r.RecentSessions) != 10 || r.RecentSessions[0].ID != 15 {
		t.Errorf("Expected 10 newest sessions, got %d starting at %d", len(r.RecentSessions), r.RecentSessions[0].ID)
	}
	if len(r.ScoreProgression) != 15 {
		t.Errorf("Expected full progression, got %d", len(r.ScoreProgression))
	}
}
