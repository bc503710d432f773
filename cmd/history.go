package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"plexport/internal/repositories"
	"plexport/internal/shared"
)

// History lists persisted export run summaries, newest first.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	limit := cmd.Int("limit")
	useJSON := cmd.Bool("json")

	if r.config.Database.Path == "" {
		return fmt.Errorf("%w: database.path must be set in config.toml", shared.ErrMissingConfig)
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	repo, err := repositories.NewRunRepository(db)
	if err != nil {
		return err
	}

	runs, err := repo.List(int(limit))
	if err != nil {
		return err
	}

	if useJSON {
		return r.writeJSON(runs, true)
	}

	if len(runs) == 0 {
		r.writePlain("No export runs recorded.\n")
		return nil
	}

	r.writePlain("Last %d export runs:\n\n", len(runs))
	for _, run := range runs {
		status := "✓"
		if !run.Success {
			status = "✗"
		}
		r.writePlain("%s %s  %s\n", status, run.FinishedAt.Format(time.RFC822), run.Playlist)
		if run.ExportedName != "" && run.ExportedName != run.Playlist {
			r.writePlain("   Exported as: %s\n", run.ExportedName)
		}
		r.writePlain("   Added: %d  Missing: %d  Failed: %d  Total: %d\n\n", run.Added, run.Missing, run.Failed, run.Total)
	}

	return nil
}
