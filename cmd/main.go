package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"plexport/internal/services"
	"plexport/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)

	config := shared.DefaultConfig()
	if _, err := os.Stat("config.toml"); err == nil {
		if loadedConfig, err := shared.LoadConfig("config.toml"); err == nil {
			config = loadedConfig
		}
	}

	var spotifyService *services.SpotifyService
	if config.Credentials.Spotify.ClientID != "" && config.Credentials.Spotify.ClientSecret != "" {
		callsPerSecond := 1.0 / config.Sync.SourceDelay().Seconds()
		if svc, err := services.NewSpotifyService(config.Credentials.Spotify.Map(), callsPerSecond); err == nil {
			spotifyService = svc
		}
	}

	var plexService *services.PlexService
	if config.Credentials.Plex.Token != "" {
		plexService = services.NewPlexService(config.Credentials.Plex.Token, config.Credentials.Plex.BaseURL, logger)
	}

	runner := NewRunner(RunnerOpts{
		Config:  config,
		Spotify: spotifyService,
		Plex:    plexService,
		Logger:  logger,
	})

	app := &cli.Command{
		Name:     "plexport",
		Usage:    "Export Spotify playlists into a Plex music library",
		Version:  "0.1.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Fatalf("application error: %v", err)
	}
}
