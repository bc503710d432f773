package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"plexport/internal/cache"
	"plexport/internal/match"
	"plexport/internal/progress"
	"plexport/internal/repositories"
	"plexport/internal/services"
	"plexport/internal/shared"
	"plexport/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config   *shared.Config
	spotify  *services.SpotifyService
	plex     *services.PlexService
	registry *progress.Registry
	logger   *log.Logger
	output   io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config  *shared.Config
	Spotify *services.SpotifyService
	Plex    *services.PlexService
	Logger  *log.Logger
	Output  io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:   opts.Config,
		spotify:  opts.Spotify,
		plex:     opts.Plex,
		registry: progress.NewRegistry(),
		logger:   opts.Logger,
		output:   opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, playlistsCommand, syncCommand, cacheCommand, historyCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// syncDeps bundles everything an export run needs: the engine, the
// missing-track store it consults, and the optional history database.
type syncDeps struct {
	engine  *tasks.PlexSyncEngine
	store   *cache.Store
	history *repositories.RunRepository
	db      *sql.DB
}

func (d *syncDeps) Close() {
	if d.db != nil {
		d.db.Close()
	}
}

// buildSyncDeps authenticates both services, connects to the Plex server,
// and assembles the sync engine from the configured tunables.
func (r *Runner) buildSyncDeps(ctx context.Context) (*syncDeps, error) {
	if err := r.ensureSpotify(ctx); err != nil {
		return nil, err
	}
	if r.plex == nil {
		return nil, fmt.Errorf("%w: Plex token must be set in config.toml", shared.ErrMissingCredentials)
	}

	if err := r.plex.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Plex server: %w", err)
	}

	store, err := cache.NewStore(r.config.Sync.CacheDir, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open missing-track cache: %w", err)
	}

	matcher := match.NewMatcher(r.plex, r.config.Sync.FuzzyThreshold, r.logger)

	perSecond := 1.0 / r.config.Sync.BatchDelay().Seconds()
	exporter := tasks.NewExporter(r.plex, r.config.Sync.BatchSize, perSecond, r.logger)

	deps := &syncDeps{store: store}

	var history tasks.HistoryRecorder
	if r.config.Database.Path != "" {
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			r.logger.Warn("run history disabled, database unavailable", "path", r.config.Database.Path, "err", err)
		} else {
			shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
			repo, err := repositories.NewRunRepository(db)
			if err != nil {
				db.Close()
				r.logger.Warn("run history disabled", "err", err)
			} else {
				deps.db = db
				deps.history = repo
				history = repo
			}
		}
	}

	deps.engine = tasks.NewPlexSyncEngine(r.spotify, r.plex, matcher, exporter, store, r.config.Sync.CacheMaxAge(), history, r.logger)
	return deps, nil
}

// ensureSpotify authenticates the Spotify service with tokens saved in the
// config file.
func (r *Runner) ensureSpotify(ctx context.Context) error {
	if r.spotify == nil {
		return fmt.Errorf("%w: Spotify client_id and client_secret must be set in config.toml", shared.ErrMissingCredentials)
	}
	if r.config.Credentials.Spotify.AccessToken == "" {
		return fmt.Errorf("%w: run 'plexport auth spotify' first", shared.ErrNotAuthenticated)
	}
	return r.spotify.Authenticate(ctx, r.config.Credentials.Spotify.Map())
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	summaryLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	summaryOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	summaryBadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// writeSummary renders the terminal summary block for one export result.
func (r *Runner) writeSummary(result *tasks.ExportResult) {
	status := summaryOKStyle.Render("complete")
	if !result.Success || result.State == tasks.StateError {
		status = summaryBadStyle.Render("finished with failures")
	}

	r.writePlain("\n%s\n", summaryTitleStyle.Render(fmt.Sprintf("Export %s", status)))
	r.writePlain("%s %s\n", summaryLabelStyle.Render("Playlist"), result.Playlist)
	if result.ExportedName != "" && result.ExportedName != result.Playlist {
		r.writePlain("%s %s\n", summaryLabelStyle.Render("Exported as"), result.ExportedName)
	}
	r.writePlain("%s %d\n", summaryLabelStyle.Render("Tracks"), result.Total)
	r.writePlain("%s %d\n", summaryLabelStyle.Render("Added"), result.Added)
	r.writePlain("%s %d\n", summaryLabelStyle.Render("Missing"), result.Missing)
	if result.Skipped > 0 {
		r.writePlain("%s %d (known misses)\n", summaryLabelStyle.Render("Skipped"), result.Skipped)
	}
	if result.Failed > 0 {
		r.writePlain("%s %s\n", summaryLabelStyle.Render("Failed"), summaryBadStyle.Render(fmt.Sprintf("%d", result.Failed)))
	}

	if len(result.MissingTracks) > 0 {
		r.writePlain("\nMissing from library:\n")
		for i, item := range result.MissingTracks {
			r.writePlain("  %d. %s\n", i+1, item)
		}
	}
}
