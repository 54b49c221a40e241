// Command analyze inspects the puzzle catalog. It lists levels, prints
// boards with their shortest solution, and validates that every puzzle is
// well formed and winnable within its command limit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/puzzlebot/configs"
	"github.com/wricardo/puzzlebot/game/config"
	"github.com/wricardo/puzzlebot/game/engine"
	"github.com/wricardo/puzzlebot/logger"
)

func main() {
	logger.New("info", "console")
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("analyze failed")
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "inspect and validate the PuzzleBot catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "catalog-dir",
				Value: "configs",
				Usage: "directory holding level_N.json files; the bundled catalog is used when it is missing",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "levels",
				Usage:  "list levels and their puzzles",
				Action: listLevels,
			},
			{
				Name:   "validate",
				Usage:  "check every puzzle is well formed and solvable within max_commands",
				Action: validateCatalog,
			},
			{
				Name:      "show",
				Usage:     "print a puzzle board and its shortest solution",
				ArgsUsage: "<level> <index>",
				Action:    showPuzzle,
			},
		},
	}
}

// openCatalog falls back to the bundled levels like the server does
func openCatalog(cmd *cli.Command) *config.Manager {
	dir := cmd.String("catalog-dir")
	catalog, err := config.NewManager(dir)
	if err != nil {
		log.Debug().Err(err).Str("dir", dir).Msg("Using bundled catalog")
		return config.NewManagerFS(configs.FS)
	}
	return catalog
}

func listLevels(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer
	levels, err := openCatalog(cmd).ListLevels()
	if err != nil {
		return err
	}

	for _, level := range levels {
		fmt.Fprintf(out, "\n=== Level %d: %s (%s) ===\n", level.Level, level.Name, level.Filename)
		if level.Description != "" {
			fmt.Fprintln(out, level.Description)
		}
		for _, p := range level.Puzzles {
			fmt.Fprintf(out, "  #%d %-26s id=%-3d grid=%dx%d max=%-3d keys=%d traps=%d\n",
				p.Index, p.Name, p.ID, p.GridSize, p.GridSize, p.MaxCommands, p.Keys, p.Traps)
		}
	}
	return nil
}

func validateCatalog(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer
	catalog := openCatalog(cmd)
	if err := catalog.Validate(); err != nil {
		return err
	}

	levels, err := catalog.ListLevels()
	if err != nil {
		return err
	}

	var findings []Finding
	checked := 0
	for _, level := range levels {
		puzzles, err := catalog.PuzzlesForLevel(level.Level)
		if err != nil {
			return err
		}
		for _, p := range puzzles {
			sol, found := Check(p)
			checked++
			if len(found) > 0 {
				findings = append(findings, found...)
				continue
			}
			fmt.Fprintf(out, "✅ %s solvable in %d of %d moves\n", puzzleLabel(p), sol.Steps(), p.MaxCommands())
		}
	}

	for _, f := range findings {
		fmt.Fprintf(out, "⚠️  %s: %s\n", f.Puzzle, f.Message)
	}
	if len(findings) > 0 {
		return fmt.Errorf("%d problems in %d puzzles", len(findings), checked)
	}
	fmt.Fprintf(out, "\nAll %d puzzles passed\n", checked)
	return nil
}

func showPuzzle(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return errors.New("usage: analyze show <level> <index>")
	}
	level, err := strconv.Atoi(cmd.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid level %q", cmd.Args().Get(0))
	}
	index, err := strconv.Atoi(cmd.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid index %q", cmd.Args().Get(1))
	}

	p, err := openCatalog(cmd).Puzzle(level, index)
	if err != nil {
		return err
	}
	printPuzzle(cmd.Root().Writer, p)
	return nil
}

func printPuzzle(out io.Writer, p *engine.Puzzle) {
	fmt.Fprintf(out, "%s\n", puzzleLabel(p))
	fmt.Fprintf(out, "Grid Size: %d x %d\n", p.GridSize(), p.GridSize())
	fmt.Fprintf(out, "Max Commands: %d\n", p.MaxCommands())
	fmt.Fprintf(out, "Start: %s  Goal: %s\n", p.Start(), p.Goal())
	fmt.Fprintf(out, "Keys: %d  Traps: %d\n\n", len(p.Keys()), len(p.Traps()))

	for r, row := range p.Layout() {
		cells := []byte(row)
		for c := range cells {
			pos := engine.Position{Row: r, Col: c}
			switch {
			case p.IsKey(pos):
				cells[c] = 'K'
			case p.IsTrap(pos):
				cells[c] = 'T'
			}
		}
		fmt.Fprintf(out, "%2d %s\n", r, cells)
	}

	sol, findings := Check(p)
	fmt.Fprintln(out)
	if sol.Solvable {
		moves := make([]string, len(sol.Moves))
		for i, m := range sol.Moves {
			moves[i] = string(m)
		}
		fmt.Fprintf(out, "Shortest solution (%d moves): %s\n", sol.Steps(), strings.Join(moves, ", "))
	}
	for _, f := range findings {
		fmt.Fprintf(out, "⚠️  %s\n", f.Message)
	}
}

func puzzleLabel(p *engine.Puzzle) string {
	return fmt.Sprintf("Level %d #%d %q", p.Level(), p.Index(), p.Name())
}
