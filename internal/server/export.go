package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"plexport/internal/cache"
	"plexport/internal/formatter"
	"plexport/internal/models"
	"plexport/internal/progress"
	"plexport/internal/services"
	"plexport/internal/shared"
	"plexport/internal/tasks"
)

// SourceLister is the source-service surface the handler needs.
type SourceLister interface {
	GetPlaylists(ctx context.Context) ([]services.Playlist, error)
}

// TargetLister is the target-server surface the handler needs.
type TargetLister interface {
	ListPlaylists(ctx context.Context) ([]services.Playlist, error)
	ServerID() string
}

// HistoryLister reads persisted run summaries.
type HistoryLister interface {
	List(limit int) ([]models.SyncRun, error)
}

// ExportHandler exposes the sync engine over HTTP: job start, live progress
// streaming, playlist listings, missing-track downloads, cache management,
// and run history.
type ExportHandler struct {
	engine   tasks.SyncEngine
	registry *progress.Registry
	missing  *cache.Store
	source   SourceLister
	target   TargetLister
	history  HistoryLister
	logger   *log.Logger
}

// NewExportHandler creates the handler. history may be nil when run
// summaries are not persisted.
func NewExportHandler(engine tasks.SyncEngine, registry *progress.Registry, missing *cache.Store, source SourceLister, target TargetLister, history HistoryLister, logger *log.Logger) *ExportHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &ExportHandler{
		engine:   engine,
		registry: registry,
		missing:  missing,
		source:   source,
		target:   target,
		history:  history,
		logger:   logger,
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *ExportHandler) Routes() []string {
	return []string{
		"/api/export",
		"/api/export/stream",
		"/api/export/events",
		"/api/playlists",
		"/api/plex/playlists",
		"/api/missing",
		"/api/cache",
		"/api/history",
	}
}

func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/export" && r.Method == http.MethodPost:
		h.startExport(w, r)
	case r.URL.Path == "/api/export/stream" && r.Method == http.MethodGet:
		h.streamExport(w, r)
	case r.URL.Path == "/api/export/events" && r.Method == http.MethodGet:
		h.attachEvents(w, r)
	case r.URL.Path == "/api/playlists" && r.Method == http.MethodGet:
		h.listSourcePlaylists(w, r)
	case r.URL.Path == "/api/plex/playlists" && r.Method == http.MethodGet:
		h.listTargetPlaylists(w, r)
	case r.URL.Path == "/api/missing" && r.Method == http.MethodGet:
		h.downloadMissing(w, r)
	case r.URL.Path == "/api/cache" && r.Method == http.MethodDelete:
		h.clearCache(w, r)
	case r.URL.Path == "/api/history" && r.Method == http.MethodGet:
		h.listHistory(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type exportRequest struct {
	PlaylistID string `json:"playlist_id"`
	Name       string `json:"name"`
	All        bool   `json:"all"`
}

// startExport spawns a background export job and returns its id
// immediately. Jobs are fire-and-forget from the caller's perspective: the
// engine converts any failure into a terminal progress event.
func (h *ExportHandler) startExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlaylistID == "" && !req.All {
		http.Error(w, "playlist_id is required", http.StatusBadRequest)
		return
	}

	jobID := shared.GenerateID()

	// The job deliberately does not inherit the request context: it runs
	// to completion even when the triggering call has long returned.
	go func() {
		notify := h.registry.Notifier(jobID)
		if req.All {
			h.engine.ExportAll(context.Background(), notify)
			return
		}
		h.engine.ExportOne(context.Background(), jobID, req.PlaylistID, req.Name, notify)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// streamExport starts a job and holds the connection open, streaming
// progress as server-sent events until the terminal message.
func (h *ExportHandler) streamExport(w http.ResponseWriter, r *http.Request) {
	playlistID := r.URL.Query().Get("playlist")
	if playlistID == "" {
		http.Error(w, "playlist query parameter is required", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")

	jobID := shared.GenerateID()

	go func() {
		h.engine.ExportOne(context.Background(), jobID, playlistID, name, h.registry.Notifier(jobID))
	}()

	h.serveStream(w, r, jobID)
}

// attachEvents subscribes to a job started earlier via POST /api/export.
// Messages sent before the subscription are missed permanently; the channel
// has no replay.
func (h *ExportHandler) attachEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job")
	if jobID == "" {
		http.Error(w, "job query parameter is required", http.StatusBadRequest)
		return
	}

	h.serveStream(w, r, jobID)
}

// serveStream registers a sink for the job and relays lines as
// text/event-stream frames until a terminal message arrives or the client
// disconnects. On disconnect the sink is released and further sends become
// no-ops; the job itself runs to completion.
func (h *ExportHandler) serveStream(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lines := make(chan string, 64)
	h.registry.Register(jobID, func(line string) {
		// Drop rather than block when the subscriber cannot keep up;
		// delivery is at-most-once with no buffering guarantees.
		select {
		case lines <- line:
		default:
		}
	})
	defer h.registry.Unregister(jobID)

	for {
		select {
		case <-r.Context().Done():
			return
		case line := <-lines:
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
			if strings.HasPrefix(line, "done:") || strings.HasPrefix(line, "error:") {
				return
			}
		}
	}
}

func (h *ExportHandler) listSourcePlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := h.source.GetPlaylists(r.Context())
	if err != nil {
		h.logger.Error("listing source playlists failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, playlists)
}

func (h *ExportHandler) listTargetPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := h.target.ListPlaylists(r.Context())
	if err != nil {
		h.logger.Error("listing target playlists failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, playlists)
}

// downloadMissing serves the missing-track list for one playlist as CSV and
// consumes the cache entry: once the user has downloaded the list, the entry
// has served its purpose.
func (h *ExportHandler) downloadMissing(w http.ResponseWriter, r *http.Request) {
	playlist := r.URL.Query().Get("playlist")
	if playlist == "" {
		http.Error(w, "playlist query parameter is required", http.StatusBadRequest)
		return
	}

	serverID := h.target.ServerID()
	entry, ok := h.missing.Get(serverID, playlist)
	if !ok {
		http.Error(w, "No missing tracks recorded for playlist", http.StatusNotFound)
		return
	}

	data, err := formatter.MissingCSV(playlist, entry.Items)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.missing.Remove(serverID, playlist); err != nil {
		h.logger.Warn("failed to consume missing-cache entry", "playlist", playlist, "err", err)
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", playlist+"_missing.csv"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *ExportHandler) clearCache(w http.ResponseWriter, r *http.Request) {
	playlist := r.URL.Query().Get("playlist")
	if playlist == "" {
		http.Error(w, "playlist query parameter is required", http.StatusBadRequest)
		return
	}

	if err := h.missing.Remove(h.target.ServerID(), playlist); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ExportHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "Run history is not enabled", http.StatusNotFound)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	runs, err := h.history.List(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
