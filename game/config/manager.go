package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/wricardo/puzzlebot/game/engine"
	"github.com/wricardo/puzzlebot/game/service"
)

var (
	ErrLevelNotFound  = errors.New("level not found")
	ErrPuzzleNotFound = errors.New("puzzle not found")
	ErrInvalidCatalog = errors.New("invalid catalog")
)

const (
	catalogPrefix = "level_"
	catalogExt    = ".json"
)

// Catalog is the on-disk format of one level file
type Catalog struct {
	Level       int                       `json:"level"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Puzzles     []engine.PuzzleDefinition `json:"puzzles"`
}

type levelEntry struct {
	info    *service.LevelInfo
	puzzles []*engine.Puzzle
}

// Manager loads level catalogs and caches the validated puzzles
type Manager struct {
	fsys   fs.FS
	levels map[int]*levelEntry
	mu     sync.RWMutex
}

// NewManager creates a catalog manager reading from a directory
func NewManager(dir string) (*Manager, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("failed to stat config directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config path is not a directory: %s", dir)
	}
	return NewManagerFS(os.DirFS(dir)), nil
}

// NewManagerFS creates a catalog manager reading from fsys
func NewManagerFS(fsys fs.FS) *Manager {
	return &Manager{
		fsys:   fsys,
		levels: make(map[int]*levelEntry),
	}
}

// CatalogFilename returns the file name holding a level
func CatalogFilename(level int) string {
	return fmt.Sprintf("%s%d%s", catalogPrefix, level, catalogExt)
}

// PuzzlesForLevel returns the validated puzzles of a level ordered by index
func (m *Manager) PuzzlesForLevel(level int) ([]*engine.Puzzle, error) {
	entry, err := m.loadLevel(level)
	if err != nil {
		return nil, err
	}
	return append([]*engine.Puzzle(nil), entry.puzzles...), nil
}

// Puzzle returns one puzzle by level and 1-based index
func (m *Manager) Puzzle(level, index int) (*engine.Puzzle, error) {
	entry, err := m.loadLevel(level)
	if err != nil {
		return nil, err
	}
	for _, p := range entry.puzzles {
		if p.Index() == index {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: level %d index %d", ErrPuzzleNotFound, level, index)
}

// FindPuzzle returns a puzzle by id from any level
func (m *Manager) FindPuzzle(id int) (*engine.Puzzle, error) {
	levels, err := m.levelNumbers()
	if err != nil {
		return nil, err
	}
	for _, level := range levels {
		entry, err := m.loadLevel(level)
		if err != nil {
			return nil, err
		}
		for _, p := range entry.puzzles {
			if p.ID() == id {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrPuzzleNotFound, id)
}

// NextPuzzle returns the puzzle after current: the next index in the same
// level, or the first puzzle of the next level.
func (m *Manager) NextPuzzle(current *engine.Puzzle) (*engine.Puzzle, error) {
	if current == nil {
		return nil, ErrPuzzleNotFound
	}
	puzzles, err := m.PuzzlesForLevel(current.Level())
	if err != nil {
		return nil, err
	}
	for i, p := range puzzles {
		if p.Index() == current.Index() && i+1 < len(puzzles) {
			return puzzles[i+1], nil
		}
	}

	levels, err := m.levelNumbers()
	if err != nil {
		return nil, err
	}
	for _, level := range levels {
		if level <= current.Level() {
			continue
		}
		next, err := m.PuzzlesForLevel(level)
		if err != nil {
			return nil, err
		}
		return next[0], nil
	}
	return nil, fmt.Errorf("%w: no puzzle after level %d index %d", ErrPuzzleNotFound, current.Level(), current.Index())
}

// ListLevels returns information about every level in the catalog
func (m *Manager) ListLevels() ([]*service.LevelInfo, error) {
	levels, err := m.levelNumbers()
	if err != nil {
		return nil, err
	}

	infos := make([]*service.LevelInfo, 0, len(levels))
	for _, level := range levels {
		entry, err := m.loadLevel(level)
		if err != nil {
			return nil, err
		}
		infos = append(infos, entry.info)
	}
	return infos, nil
}

// Validate loads every level and returns the first catalog error
func (m *Manager) Validate() error {
	levels, err := m.levelNumbers()
	if err != nil {
		return err
	}
	if len(levels) == 0 {
		return fmt.Errorf("%w: no level files found", ErrInvalidCatalog)
	}

	ids := make(map[int]int)
	for _, level := range levels {
		entry, err := m.loadLevel(level)
		if err != nil {
			return err
		}
		for _, p := range entry.puzzles {
			if other, dup := ids[p.ID()]; dup {
				return fmt.Errorf("%w: puzzle id %d used by levels %d and %d", ErrInvalidCatalog, p.ID(), other, level)
			}
			ids[p.ID()] = level
		}
	}
	return nil
}

// RefreshCache drops every cached level so the next read goes to disk
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels = make(map[int]*levelEntry)
}

func (m *Manager) loadLevel(level int) (*levelEntry, error) {
	m.mu.RLock()
	// Check cache first
	if entry, exists := m.levels[level]; exists {
		m.mu.RUnlock()
		return entry, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if entry, exists := m.levels[level]; exists {
		return entry, nil
	}

	filename := CatalogFilename(level)
	data, err := fs.ReadFile(m.fsys, filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %d", ErrLevelNotFound, level)
		}
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	entry, err := parseCatalog(data, filename, level)
	if err != nil {
		return nil, err
	}

	m.levels[level] = entry
	return entry, nil
}

// levelNumbers lists the level numbers with a catalog file, ascending
func (m *Manager) levelNumbers() ([]int, error) {
	matches, err := fs.Glob(m.fsys, catalogPrefix+"*"+catalogExt)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog files: %w", err)
	}

	var levels []int
	for _, match := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(path.Base(match), catalogPrefix), catalogExt)
		level, err := strconv.Atoi(name)
		if err != nil || level < 1 {
			continue
		}
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels, nil
}

// parseCatalog decodes and validates one level file. A single bad puzzle
// rejects the whole level.
func parseCatalog(data []byte, filename string, level int) (*levelEntry, error) {
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, filename, err)
	}
	if catalog.Level == 0 {
		catalog.Level = level
	}
	if catalog.Level != level {
		return nil, fmt.Errorf("%w: %s declares level %d", ErrInvalidCatalog, filename, catalog.Level)
	}
	if len(catalog.Puzzles) == 0 {
		return nil, fmt.Errorf("%w: %s has no puzzles", ErrInvalidCatalog, filename)
	}

	puzzles := make([]*engine.Puzzle, 0, len(catalog.Puzzles))
	indexes := make(map[int]bool)
	ids := make(map[int]bool)
	for i, def := range catalog.Puzzles {
		if def.Level == 0 {
			def.Level = level
		}
		if def.Index == 0 {
			def.Index = i + 1
		}
		if def.Level != level {
			return nil, fmt.Errorf("%w: %s: puzzle %d declares level %d", ErrInvalidCatalog, filename, def.ID, def.Level)
		}
		if indexes[def.Index] {
			return nil, fmt.Errorf("%w: %s: duplicate index %d", ErrInvalidCatalog, filename, def.Index)
		}
		if ids[def.ID] {
			return nil, fmt.Errorf("%w: %s: duplicate puzzle id %d", ErrInvalidCatalog, filename, def.ID)
		}
		indexes[def.Index] = true
		ids[def.ID] = true

		p, err := engine.NewPuzzle(def)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCatalog, filename, err)
		}
		puzzles = append(puzzles, p)
	}

	sort.Slice(puzzles, func(i, j int) bool { return puzzles[i].Index() < puzzles[j].Index() })

	info := &service.LevelInfo{
		Level:       level,
		Name:        catalog.Name,
		Description: catalog.Description,
		Filename:    filename,
		Puzzles:     make([]service.PuzzleSummary, 0, len(puzzles)),
	}
	if info.Name == "" {
		info.Name = fmt.Sprintf("Level %d", level)
	}
	for _, p := range puzzles {
		info.Puzzles = append(info.Puzzles, service.Summarize(p))
	}

	return &levelEntry{info: info, puzzles: puzzles}, nil
}
