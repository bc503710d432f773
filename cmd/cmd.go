// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles configuration and database initialization.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and history database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}

// authCommand handles authentication against both services.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:  "spotify",
				Usage: "Authenticate with Spotify using OAuth2",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
				},
				Action: r.AuthSpotify,
			},
			{
				Name:   "plex",
				Usage:  "Verify the Plex token and show the resolved server",
				Action: r.AuthPlex,
			},
		},
	}
}

// playlistsCommand lists playlists from either side of the sync.
func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlists",
		Aliases: []string{"pl"},
		Usage:   "List playlists",
		Commands: []*cli.Command{
			{
				Name:  "spotify",
				Usage: "List Spotify playlists",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of playlists to return",
						Value: 50,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: r.SpotifyPlaylists,
			},
			{
				Name:  "plex",
				Usage: "List audio playlists on the Plex server",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: r.PlexPlaylists,
			},
		},
	}
}

// syncCommand handles playlist export operations.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Export playlists to the Plex server",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Export a single Spotify playlist to Plex",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "playlist",
						Aliases:  []string{"p"},
						Usage:    "Source playlist name or ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Override the target playlist name",
					},
				},
				Action: r.SyncRun,
			},
			{
				Name:   "all",
				Usage:  "Export every Spotify playlist to Plex",
				Action: r.SyncAll,
			},
		},
	}
}

// cacheCommand manages the missing-track cache.
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and manage the missing-track cache",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show cached missing tracks for a playlist",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "playlist",
						Aliases:  []string{"p"},
						Usage:    "Playlist name",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "csv",
						Aliases: []string{"o"},
						Usage:   "Write the missing list to a CSV file",
					},
				},
				Action: r.CacheShow,
			},
			{
				Name:  "clean",
				Usage: "Remove expired cache entries for every known server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-age",
						Usage: "Entry age threshold in hours",
					},
				},
				Action: r.CacheClean,
			},
			{
				Name:  "clear",
				Usage: "Remove the cache entry for one playlist",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "playlist",
						Aliases:  []string{"p"},
						Usage:    "Playlist name",
						Required: true,
					},
				},
				Action: r.CacheClear,
			},
		},
	}
}

// historyCommand shows persisted run summaries.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show past export runs",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to show",
				Value: 20,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.History,
	}
}

// serveCommand runs the HTTP server exposing exports over the API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the export HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to bind (overrides config)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to bind (overrides config)",
			},
		},
		Action: r.Serve,
	}
}
