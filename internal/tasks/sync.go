// package tasks implements playlist export operations from the source
// streaming service into the target media server.
//
// The core abstraction is SyncEngine, which orchestrates matching, batched
// uploads, missing-cache bookkeeping, and progress narration for export
// jobs. Progress is published through a [progress.Notifier] so callers can
// stream updates without the engine knowing about transports.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"plexport/internal/cache"
	"plexport/internal/match"
	"plexport/internal/models"
	"plexport/internal/progress"
	"plexport/internal/services"
	"plexport/internal/shared"
)

// JobState tracks where an export job is in its lifecycle. Error is
// reachable from any state; every path still emits exactly one terminal
// progress event before the job's sink is released.
type JobState int

const (
	StatePending JobState = iota
	StateSearching
	StateExporting
	StateFinalizing
	StateDone
	StateError
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSearching:
		return "searching"
	case StateExporting:
		return "exporting"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return ""
	}
}

// Source is the subset of the source streaming service the engine needs.
type Source interface {
	GetPlaylists(ctx context.Context) ([]services.Playlist, error)
	ExportPlaylist(ctx context.Context, playlistID string) (*services.PlaylistExport, error)
}

// Target is the subset of the target media server client the engine needs
// beyond the search surface the matcher already holds.
type Target interface {
	ItemAdder
	FindPlaylistByName(ctx context.Context, name string) (*services.Playlist, error)
	CreatePlaylist(ctx context.Context, name string) (*services.Playlist, error)
	ServerID() string
}

// HistoryRecorder persists terminal run summaries. Recording failures are
// logged and never fail the job.
type HistoryRecorder interface {
	RecordRun(run models.SyncRun) error
}

// ExportResult contains the outcome of one export job.
type ExportResult struct {
	JobID         string
	SourceID      string
	Playlist      string   // source playlist name
	ExportedName  string   // resolved target playlist title
	PlaylistID    string   // target playlist rating key
	Added         int
	Missing       int
	Failed        int
	Total         int
	Skipped       int      // known misses excluded via the cache
	Success       bool
	MissingTracks []string // formatted missing descriptors from this run
	State         JobState
}

// SyncEngine defines export operations against one target server.
type SyncEngine interface {
	// ExportOne mirrors a single source playlist into the target library,
	// narrating progress through notify and guaranteeing one terminal event.
	// jobID is the opaque token generated when the export request started.
	ExportOne(ctx context.Context, jobID, sourceID, overrideName string, notify progress.Notifier) (*ExportResult, error)

	// ExportAll runs ExportOne for every source playlist. Per-playlist
	// failures are recorded in the results and do not abort the sweep.
	ExportAll(ctx context.Context, notify progress.Notifier) ([]*ExportResult, error)
}

// PlexSyncEngine implements SyncEngine for Spotify → Plex exports.
type PlexSyncEngine struct {
	source      Source
	target      Target
	matcher     *match.Matcher
	exporter    *Exporter
	missing     *cache.Store
	cacheMaxAge time.Duration
	history     HistoryRecorder
	logger      *log.Logger
}

// NewPlexSyncEngine creates an engine. cacheMaxAge is the age threshold for
// missing-cache entries, defaulting to one day; history may be nil when run
// summaries are not persisted.
func NewPlexSyncEngine(source Source, target Target, matcher *match.Matcher, exporter *Exporter, missing *cache.Store, cacheMaxAge time.Duration, history HistoryRecorder, logger *log.Logger) *PlexSyncEngine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if cacheMaxAge <= 0 {
		cacheMaxAge = 24 * time.Hour
	}
	return &PlexSyncEngine{
		source:      source,
		target:      target,
		matcher:     matcher,
		exporter:    exporter,
		missing:     missing,
		cacheMaxAge: cacheMaxAge,
		history:     history,
		logger:      logger,
	}
}

// ExportOne mirrors one source playlist into the target library.
//
// Any unexpected failure is caught here, logged, and converted into a
// terminal error progress message; it never propagates to crash the
// background job runner.
func (e *PlexSyncEngine) ExportOne(ctx context.Context, jobID, sourceID, overrideName string, notify progress.Notifier) (*ExportResult, error) {
	if notify == nil {
		notify = progress.Discard
	}

	started := time.Now()

	result, err := func() (result *ExportResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("unexpected failure during export: %v", r)
			}
		}()
		return e.exportOne(ctx, sourceID, overrideName, notify)
	}()

	if err != nil {
		e.logger.Error("export job failed", "jobID", jobID, "sourceID", sourceID, "err", err)
		notify.Publish(progress.Error{Message: err.Error()})
		if result == nil {
			result = &ExportResult{SourceID: sourceID}
		}
		result.JobID = jobID
		result.State = StateError
		e.record(result, started, false)
		return result, err
	}

	result.JobID = jobID
	result.State = StateDone
	notify.Publish(progress.Done{
		Added:   result.Added,
		Missing: result.Missing,
		Failed:  result.Failed,
		Total:   result.Total,
	})
	e.record(result, started, result.Success)
	return result, nil
}

// ExportAll mirrors every source playlist.
func (e *PlexSyncEngine) ExportAll(ctx context.Context, notify progress.Notifier) ([]*ExportResult, error) {
	if notify == nil {
		notify = progress.Discard
	}

	playlists, err := e.source.GetPlaylists(ctx)
	if err != nil {
		notify.Publish(progress.Error{Message: err.Error()})
		return nil, fmt.Errorf("%w: listing source playlists: %v", shared.ErrAPIRequest, err)
	}

	results := make([]*ExportResult, 0, len(playlists))
	for _, pl := range playlists {
		result, err := e.ExportOne(ctx, shared.GenerateID(), pl.ID, "", notify)
		if err != nil {
			// terminal error event already emitted by ExportOne
			e.logger.Warn("skipping failed playlist", "playlist", pl.Name, "err", err)
		}
		if result != nil {
			results = append(results, result)
		}
	}

	return results, nil
}

func (e *PlexSyncEngine) exportOne(ctx context.Context, sourceID, overrideName string, notify progress.Notifier) (*ExportResult, error) {
	export, err := e.resolveSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	exportName := overrideName
	if exportName == "" {
		exportName = export.Playlist.Name
	}

	result := &ExportResult{
		SourceID: sourceID,
		Playlist: export.Playlist.Name,
		Total:    len(export.Tracks),
		State:    StateSearching,
	}

	notify.Publish(progress.Started{Playlist: exportName, Total: result.Total})

	serverID := e.target.ServerID()

	// Tracks already recorded as missing are excluded from this run's
	// search set. The cache's age-based cleanup eventually clears them
	// so a later export re-attempts the search.
	known := e.knownMisses(serverID, exportName)

	refs := make([]match.TrackRef, 0, len(export.Tracks))
	for _, track := range export.Tracks {
		if known[match.NormalizeKey(track.Title, track.Artist)] {
			result.Skipped++
			continue
		}
		refs = append(refs, match.TrackRef{Title: track.Title, Artist: track.Artist, Album: track.Album})
	}

	if result.Skipped > 0 {
		notify.Publish(progress.Status{Message: fmt.Sprintf("Skipping %d known missing tracks", result.Skipped)})
	}

	matches := make([]match.Result, 0, len(refs))
	for i, ref := range refs {
		notify.Publish(progress.Status{Message: fmt.Sprintf("[%d/%d] %s - %s", i+1, len(refs), ref.Artist, ref.Title)})
		matches = append(matches, e.matcher.MatchTrack(ctx, ref))
	}

	for _, m := range matches {
		if !m.Found() {
			result.MissingTracks = append(result.MissingTracks, cache.FormatItem(m.Ref.Artist, m.Ref.Album, m.Ref.Title))
		}
	}
	result.Missing = len(result.MissingTracks) + result.Skipped

	matchedCount := len(refs) - len(result.MissingTracks)
	result.Success = true

	if matchedCount > 0 {
		result.State = StateExporting

		playlist, err := e.resolveTargetPlaylist(ctx, exportName)
		if err != nil {
			return result, err
		}
		result.ExportedName = playlist.Name
		result.PlaylistID = playlist.ID

		// Matches are grouped by the server identity that produced them:
		// in multi-server accounts different candidates may live on
		// different servers, and uploads batch per server.
		for _, group := range groupByServer(matches) {
			added, ok := e.exporter.AddTracks(ctx, playlist.ID, group.keys, result.Added, result.Missing, result.Total, notify)
			result.Added += added
			if !ok {
				result.Success = false
			}
		}
		result.Failed = matchedCount - result.Added
	} else {
		result.ExportedName = exportName
	}

	result.State = StateFinalizing
	e.persistMisses(serverID, exportName, result)

	return result, nil
}

// resolveSource exports a playlist by id, falling back to a name lookup when
// the id is unknown so callers can pass either.
func (e *PlexSyncEngine) resolveSource(ctx context.Context, sourceID string) (*services.PlaylistExport, error) {
	export, err := e.source.ExportPlaylist(ctx, sourceID)
	if err == nil {
		return export, nil
	}

	playlists, listErr := e.source.GetPlaylists(ctx)
	if listErr != nil {
		return nil, fmt.Errorf("%w: exporting source playlist: %v", shared.ErrAPIRequest, err)
	}

	for _, pl := range playlists {
		if pl.Name == sourceID {
			return e.source.ExportPlaylist(ctx, pl.ID)
		}
	}

	return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, sourceID)
}

// resolveTargetPlaylist reuses an existing playlist matched by exact
// case-insensitive title before creating a new one.
func (e *PlexSyncEngine) resolveTargetPlaylist(ctx context.Context, name string) (*services.Playlist, error) {
	existing, err := e.target.FindPlaylistByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return e.target.CreatePlaylist(ctx, name)
}

// knownMisses loads the cache entry for a playlist and returns the set of
// normalized title|artist keys recorded as missing. Expired entries are
// cleaned up first, so a stale miss is re-searched rather than skipped.
func (e *PlexSyncEngine) knownMisses(serverID, playlistName string) map[string]bool {
	known := make(map[string]bool)
	if e.missing == nil {
		return known
	}

	if _, err := e.missing.CleanupOlderThan(serverID, e.cacheMaxAge); err != nil {
		e.logger.Warn("missing-cache cleanup failed", "serverID", serverID, "err", err)
	}

	entry, ok := e.missing.Get(serverID, playlistName)
	if !ok {
		return known
	}

	for _, item := range entry.Items {
		artist, _, title := cache.ParseItem(item)
		known[match.NormalizeKey(title, artist)] = true
	}
	return known
}

// persistMisses merges this run's misses into the cache entry, or consumes
// the entry entirely when nothing is missing anymore.
func (e *PlexSyncEngine) persistMisses(serverID, playlistName string, result *ExportResult) {
	if e.missing == nil {
		return
	}

	if result.Missing == 0 {
		if err := e.missing.Remove(serverID, playlistName); err != nil {
			e.logger.Warn("failed to clear missing cache", "playlist", playlistName, "err", err)
		}
		return
	}

	if len(result.MissingTracks) == 0 {
		return
	}

	if err := e.missing.Update(serverID, playlistName, result.MissingTracks); err != nil {
		e.logger.Warn("failed to persist missing cache", "playlist", playlistName, "err", err)
	}
}

func (e *PlexSyncEngine) record(result *ExportResult, started time.Time, success bool) {
	if e.history == nil || result == nil {
		return
	}

	run := models.SyncRun{
		ID:           shared.GenerateID(),
		JobID:        result.JobID,
		Playlist:     result.Playlist,
		ExportedName: result.ExportedName,
		ServerID:     e.target.ServerID(),
		Added:        result.Added,
		Missing:      result.Missing,
		Failed:       result.Failed,
		Total:        result.Total,
		Success:      success,
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
	if run.Playlist == "" {
		run.Playlist = result.SourceID
	}

	if err := e.history.RecordRun(run); err != nil {
		e.logger.Warn("failed to record run history", "playlist", run.Playlist, "err", err)
	}
}

type serverGroup struct {
	serverID string
	keys     []string
}

// groupByServer partitions found matches by server identity, preserving the
// matched order within each group and the first-seen order across groups.
func groupByServer(matches []match.Result) []serverGroup {
	index := make(map[string]int)
	var groups []serverGroup

	for _, m := range matches {
		if !m.Found() {
			continue
		}
		i, ok := index[m.ServerID]
		if !ok {
			i = len(groups)
			index[m.ServerID] = i
			groups = append(groups, serverGroup{serverID: m.ServerID})
		}
		groups[i].keys = append(groups[i].keys, m.RatingKey)
	}

	return groups
}
