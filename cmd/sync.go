package main

import (
	"context"
	"strings"

	"github.com/urfave/cli/v3"

	"plexport/internal/progress"
	"plexport/internal/shared"
)

// SyncRun exports a single Spotify playlist into the Plex library, printing
// progress lines as the job advances.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	playlist := cmd.String("playlist")
	name := cmd.String("name")

	r.logger.Info("starting export", "playlist", playlist, "name", name)

	deps, err := r.buildSyncDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	jobID := shared.GenerateID()
	r.registry.Register(jobID, r.progressSink())
	defer r.registry.Unregister(jobID)

	result, err := deps.engine.ExportOne(ctx, jobID, playlist, name, r.registry.Notifier(jobID))
	if err != nil {
		return err
	}

	r.writeSummary(result)
	return nil
}

// SyncAll exports every Spotify playlist into the Plex library.
func (r *Runner) SyncAll(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("starting export of all playlists")

	deps, err := r.buildSyncDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	// ExportAll generates a fresh job id per playlist; a catch-all sink
	// would miss them, so progress goes through a direct notifier instead.
	results, err := deps.engine.ExportAll(ctx, printNotifier{runner: r})
	if err != nil {
		return err
	}

	failed := 0
	for _, result := range results {
		r.writeSummary(result)
		if !result.Success {
			failed++
		}
	}

	r.writePlainln("Exported %d playlists (%d with failures)", len(results), failed)
	return nil
}

// progressSink returns a Sink that renders encoded progress lines for the
// terminal, hiding the machine-oriented counter tags.
func (r *Runner) progressSink() func(line string) {
	return func(line string) {
		switch {
		case strings.HasPrefix(line, "progress:"):
			// batch counters are summarized at the end
		case strings.HasPrefix(line, "done:"):
			// terminal state is rendered by writeSummary
		case strings.HasPrefix(line, "error:"):
			r.writePlain("✗ %s\n", strings.TrimPrefix(line, "error:"))
		default:
			r.writePlain("  %s\n", line)
		}
	}
}

// printNotifier publishes progress events straight to the runner's output.
type printNotifier struct {
	runner *Runner
}

func (n printNotifier) Publish(event progress.Event) {
	n.runner.progressSink()(event.Encode())
}
