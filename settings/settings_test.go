package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "puzzlebot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	s, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
	want := Defaults()
	if s.Server.Port != want.Server.Port || s.Game.CatalogDir != "configs" {
		t.Errorf("Unexpected defaults %+v", s)
	}
	if s.Addr() != ":8080" {
		t.Errorf("Expected :8080, got %s", s.Addr())
	}
}

func TestLoadFrom_Layering(t *testing.T) {
	path := writeYAML(t, `
server:
  host: 127.0.0.1
  port: 9000
game:
  step_delay: 250ms
storage:
  database_path: /tmp/test.db
logging:
  format: json
`)

	t.Run("YAML overrides defaults", func(t *testing.T) {
		s, err := LoadFrom(path)
		if err != nil {
			t.Fatal(err)
		}
		if s.Addr() != "127.0.0.1:9000" {
			t.Errorf("Expected 127.0.0.1:9000, got %s", s.Addr())
		}
		if s.Game.StepDelay != 250*time.Millisecond {
			t.Errorf("Expected 250ms, got %v", s.Game.StepDelay)
		}
		if s.Storage.SessionsDir != "sessions" {
			t.Errorf("Expected untouched default sessions dir, got %s", s.Storage.SessionsDir)
		}
	})

	t.Run("Environment overrides YAML", func(t *testing.T) {
		t.Setenv("PUZZLEBOT_PORT", "9100")
		t.Setenv("PUZZLEBOT_STEP_DELAY", "0s")
		t.Setenv("PUZZLEBOT_JWT_SECRET", "s3cret")
		t.Setenv("PUZZLEBOT_LOG_LEVEL", "debug")
		t.Setenv("PUZZLEBOT_REPORT_CACHE_SIZE", "not-a-number")

		s, err := LoadFrom(path)
		if err != nil {
			t.Fatal(err)
		}
		if s.Server.Port != 9100 || s.Game.StepDelay != 0 {
			t.Errorf("Expected env overrides, got port %d delay %v", s.Server.Port, s.Game.StepDelay)
		}
		if s.Auth.JWTSecret != "s3cret" || s.Logging.Level != "debug" {
			t.Errorf("Unexpected auth/logging %+v %+v", s.Auth, s.Logging)
		}
		if s.Reports.CacheSize != Defaults().Reports.CacheSize {
			t.Errorf("Expected unparsable env to be ignored, got %d", s.Reports.CacheSize)
		}
	})
}

func TestLoadFrom_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad yaml", yaml: "server: [", wantErr: "parse"},
		{name: "port out of range", yaml: "server:\n  port: 70000\n", wantErr: "server.port"},
		{name: "empty catalog", yaml: "game:\n  catalog_dir: \"\"\n", wantErr: "catalog_dir"},
		{name: "negative delay", env: map[string]string{"PUZZLEBOT_STEP_DELAY": "-1s"}, wantErr: "step_delay"},
		{name: "bad format", env: map[string]string{"PUZZLEBOT_LOG_FORMAT": "xml"}, wantErr: "logging.format"},
		{name: "ngrok without token", env: map[string]string{"PUZZLEBOT_NGROK": "true"}, wantErr: "ngrok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NGROK_AUTHTOKEN", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeYAML(t, tt.yaml)
			_, err := LoadFrom(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
