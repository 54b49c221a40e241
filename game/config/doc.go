// Package config provides the puzzle catalog for the PuzzleBot game.
//
// The config package handles:
//   - Loading level catalogs from JSON files
//   - Validating every puzzle through engine.NewPuzzle
//   - Caching validated levels
//   - Level discovery and puzzle lookup
//
// Catalog Format:
//
// Each level lives in its own file named level_<n>.json:
//
//	{
//	  "level": 3,
//	  "name": "Hard",
//	  "puzzles": [
//	    {"id": 7, "index": 1, "layout": ["S..", ...], "max_commands": 18,
//	     "keys": [{"row": 3, "col": 2}], "traps": [{"row": 4, "col": 2}]}
//	  ]
//	}
//
// Layout characters are '.' empty, '#' wall, 'S' start, 'G' goal and 'T'
// for a trap written directly into the layout.
//
// Usage:
//
//	manager, err := config.NewManager("configs")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	puzzles, err := manager.PuzzlesForLevel(1)
//
// A level with a single malformed puzzle fails to load as a whole. Nothing
// is substituted for it.
package config
