package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"plexport/internal/cache"
	"plexport/internal/formatter"
	"plexport/internal/shared"
)

// CacheShow prints the cached missing tracks for a playlist, optionally
// writing them to a CSV file.
func (r *Runner) CacheShow(ctx context.Context, cmd *cli.Command) error {
	playlist := cmd.String("playlist")
	csvPath := cmd.String("csv")

	store, serverID, err := r.openCache(ctx)
	if err != nil {
		return err
	}

	entry, ok := store.Get(serverID, playlist)
	if !ok {
		r.writePlain("No missing tracks recorded for %q\n", playlist)
		return nil
	}

	if csvPath != "" {
		data, err := formatter.MissingCSV(playlist, entry.Items)
		if err != nil {
			return err
		}
		if err := os.WriteFile(csvPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write CSV file: %w", err)
		}
		r.writePlain("✓ Missing list written to %s (%d tracks)\n", csvPath, len(entry.Items))
		return nil
	}

	r.writePlain("Missing tracks for %q (recorded %s):\n\n", playlist, entry.Updated.Format(time.RFC822))
	for i, item := range entry.Items {
		r.writePlain("  %d. %s\n", i+1, item)
	}

	return nil
}

// CacheClean removes expired cache entries across every known server.
func (r *Runner) CacheClean(ctx context.Context, cmd *cli.Command) error {
	maxAge := r.config.Sync.CacheMaxAge()
	if hours := cmd.Int("max-age"); hours > 0 {
		maxAge = time.Duration(hours) * time.Hour
	}

	store, err := cache.NewStore(r.config.Sync.CacheDir, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open missing-track cache: %w", err)
	}

	r.logger.Info("cleaning missing-track cache", "maxAge", maxAge)
	store.CleanupAll(maxAge)

	r.writePlain("✓ Cache cleaned (entries older than %s removed)\n", maxAge)
	return nil
}

// CacheClear removes the cache entry for one playlist.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	playlist := cmd.String("playlist")

	store, serverID, err := r.openCache(ctx)
	if err != nil {
		return err
	}

	if err := store.Remove(serverID, playlist); err != nil {
		return fmt.Errorf("failed to clear cache entry: %w", err)
	}

	r.writePlain("✓ Cache entry cleared for %q\n", playlist)
	return nil
}

// openCache opens the missing-track store and resolves the server identity
// the entries are partitioned by.
func (r *Runner) openCache(ctx context.Context) (*cache.Store, string, error) {
	if r.plex == nil {
		return nil, "", fmt.Errorf("%w: Plex token must be set in config.toml", shared.ErrMissingCredentials)
	}

	if err := r.plex.Connect(ctx); err != nil {
		return nil, "", fmt.Errorf("failed to connect to Plex server: %w", err)
	}

	store, err := cache.NewStore(r.config.Sync.CacheDir, r.logger)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open missing-track cache: %w", err)
	}

	return store, r.plex.ServerID(), nil
}
