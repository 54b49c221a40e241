package main

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/wricardo/puzzlebot/settings"
	"github.com/wricardo/puzzlebot/transport/mcp"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName != "PuzzleBot Server" {
		t.Errorf("Unexpected app name %s", AppName)
	}
}

func createTestSettings(t *testing.T) *settings.Settings {
	t.Helper()
	dir := t.TempDir()
	cfg := settings.Defaults()
	cfg.Game.CatalogDir = filepath.Join(dir, "missing")
	cfg.Game.StepDelay = 0
	cfg.Storage.SessionsDir = filepath.Join(dir, "sessions")
	cfg.Storage.DatabasePath = filepath.Join(dir, "data", "puzzlebot.db")
	cfg.Storage.ProgressLog = filepath.Join(dir, "data", "progress.log")
	cfg.Auth.JWTSecret = "test-secret"
	return &cfg
}

func createTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), createTestSettings(t))
	if err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

func TestLoadSettingsFlagOverrides(t *testing.T) {
	origPort, origHost, origDebug := *port, *host, *debug
	defer func() { *port, *host, *debug = origPort, origHost, origDebug }()

	*port = 9191
	*host = "127.0.0.1"
	*debug = true

	cfg, err := loadSettings(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9191" {
		t.Errorf("Expected flag address, got %s", cfg.Addr())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadSettingsInvalid(t *testing.T) {
	origPort := *port
	defer func() { *port = origPort }()
	*port = 70000

	if _, err := loadSettings(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("Expected error for an out of range port")
	}
}

func TestNewApp(t *testing.T) {
	a := createTestApp(t)

	if a.game == nil || a.accounts == nil || a.sessions == nil {
		t.Fatal("Expected services to be initialized")
	}

	// The missing catalog directory falls back to the bundled levels
	levels, err := a.catalog.ListLevels()
	if err != nil || len(levels) == 0 {
		t.Fatalf("Expected bundled levels, got %v (%v)", levels, err)
	}

	if _, err := os.Stat(a.cfg.Storage.DatabasePath); err != nil {
		t.Errorf("Expected database file to be created: %v", err)
	}
}

func TestNewApp_InvalidCatalog(t *testing.T) {
	cfg := createTestSettings(t)
	cfg.Game.CatalogDir = t.TempDir()
	if err := os.WriteFile(filepath.Join(cfg.Game.CatalogDir, "level_1.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Error("Expected error for a malformed catalog")
	}
}

func TestHandler(t *testing.T) {
	a := createTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.hub.Run(ctx)

	server := httptest.NewServer(a.handler(mcp.NewClient("http://unused")))
	defer server.Close()

	t.Run("Health", func(t *testing.T) {
		if !apiAvailable(server.URL) {
			t.Error("Expected API to be available")
		}
	})

	t.Run("Accounts enabled", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/auth/login", "application/json", strings.NewReader(`{"username":"nobody","password":"password1"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401 for unknown user, got %d", resp.StatusCode)
		}
	})

	t.Run("MCP rejects GET", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/mcp")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", resp.StatusCode)
		}
	})

	t.Run("MCP tools", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		for _, tool := range []string{"queue_commands", "next_puzzle", "game_instructions"} {
			if !strings.Contains(string(body), tool) {
				t.Errorf("Expected tool %s in listing: %s", tool, body)
			}
		}
	})
}

func TestApiAvailable_NoServer(t *testing.T) {
	if apiAvailable("http://127.0.0.1:1") {
		t.Error("Expected no API on port 1")
	}
}

func TestPruneOrphanedSessions(t *testing.T) {
	a := createTestApp(t)

	info, err := a.game.CreateSession(context.Background(), "", 1, 1)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if pruned := a.pruneOrphanedSessions(); pruned != 0 {
		t.Fatalf("Expected nothing to prune, got %d", pruned)
	}

	if err := a.persistence.Delete(info.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if pruned := a.pruneOrphanedSessions(); pruned != 1 {
		t.Errorf("Expected 1 pruned session, got %d", pruned)
	}
	if a.sessions.Count() != 0 {
		t.Errorf("Expected no sessions in memory, got %d", a.sessions.Count())
	}
}

func TestJWTSecret(t *testing.T) {
	secret, err := jwtSecret("configured", rand.Reader)
	if err != nil || string(secret) != "configured" {
		t.Errorf("Expected configured secret to be used, got %q (%v)", secret, err)
	}

	a, errA := jwtSecret("", rand.Reader)
	b, errB := jwtSecret("", rand.Reader)
	if errA != nil || errB != nil {
		t.Fatalf("Unexpected errors: %v, %v", errA, errB)
	}
	if len(a) != 32 || string(a) == string(b) {
		t.Error("Expected random 32 byte secrets")
	}

	if _, err := jwtSecret("", iotest.ErrReader(errors.New("entropy unavailable"))); err == nil {
		t.Error("Expected error when no random bytes can be read")
	}
}
