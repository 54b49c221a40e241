package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wricardo/puzzlebot/game/engine"
	"github.com/wricardo/puzzlebot/game/service"
)

func TestFilePersistence(t *testing.T) {
	tempDir := t.TempDir()
	persistence, err := NewFilePersistence(tempDir)
	if err != nil {
		t.Fatalf("Failed to create file persistence: %v", err)
	}

	eng := engine.New(engine.WithStepDelay(0))
	defer eng.Close()
	eng.LoadPuzzle(createTestPuzzle(t, 1), false)
	eng.EnqueueCommand(engine.Right)
	eng.EnqueueCommand(engine.Down)

	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	session := &service.Session{
		ID:             "a1b2",
		SubjectID:      "kid-1",
		Engine:         eng,
		CreatedAt:      created,
		LastAccessedAt: created.Add(time.Minute),
	}

	t.Run("Save", func(t *testing.T) {
		if err := persistence.Save(session); err != nil {
			t.Fatalf("Failed to save session: %v", err)
		}
		if !persistence.Exists("a1b2") {
			t.Error("Expected session file to exist")
		}
		if !persistence.Exists("A1B2") {
			t.Error("Expected lookups to be case-insensitive")
		}
	})

	t.Run("Load", func(t *testing.T) {
		data, err := persistence.Load("a1b2")
		if err != nil {
			t.Fatalf("Failed to load session: %v", err)
		}
		if data.SubjectID != "kid-1" || data.PuzzleID != 1 {
			t.Errorf("Unexpected data %+v", data)
		}
		if !data.CreatedAt.Equal(created) {
			t.Errorf("Expected created %v, got %v", created, data.CreatedAt)
		}

		var state engine.RunState
		if err := json.Unmarshal(data.RunState, &state); err != nil {
			t.Fatalf("Failed to decode run state: %v", err)
		}
		if len(state.CommandQueue) != 2 || state.CommandQueue[1] != engine.Down {
			t.Errorf("Expected queue [right down], got %v", state.CommandQueue)
		}
	})

	t.Run("ListAll", func(t *testing.T) {
		// Stray files are ignored
		os.WriteFile(filepath.Join(tempDir, "notes.txt"), []byte("x"), 0644)
		os.Mkdir(filepath.Join(tempDir, "sub.json"), 0755)

		ids, err := persistence.ListAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 || ids[0] != "a1b2" {
			t.Errorf("Expected [a1b2], got %v", ids)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := persistence.Delete("a1b2"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if persistence.Exists("a1b2") {
			t.Error("Expected file to be gone")
		}
		if err := persistence.Delete("a1b2"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
		if _, err := persistence.Load("a1b2"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("Nil session", func(t *testing.T) {
		if err := persistence.Save(nil); err == nil {
			t.Error("Expected error for nil session")
		}
	})
}

func TestFilePersistenceFileStructure(t *testing.T) {
	tempDir := t.TempDir()
	persistence, _ := NewFilePersistence(tempDir)

	eng := engine.New()
	defer eng.Close()
	eng.LoadPuzzle(createTestPuzzle(t, 4), false)

	session := &service.Session{ID: "beef", Engine: eng, CreatedAt: time.Now(), LastAccessedAt: time.Now()}
	if err := persistence.Save(session); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(tempDir, "beef.json"))
	if err != nil {
		t.Fatalf("Expected beef.json: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Session file is not valid JSON: %v", err)
	}
	for _, key := range []string{"id", "puzzle_id", "created_at", "last_accessed_at", "run_state"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("Expected field %q in session file", key)
		}
	}

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 1 {
		t.Errorf("Expected only the session file, found %d entries", len(entries))
	}
}
