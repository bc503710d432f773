// Plex Media Server implementation of [Service] plus the library search and
// playlist operations used by the sync engine.
//
// Every request carries the account token as a query parameter and a fixed
// set of X-Plex client identification headers; the Plex API rejects requests
// without them.
package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"plexport/internal/match"
	"plexport/internal/shared"
)

const (
	plexResourcesURL = "https://plex.tv/api/resources"

	// Plex metadata type for music tracks in search filters.
	plexTrackType = "10"

	// Candidates credited to the generic compilation artist are useless
	// for artist matching and are always skipped.
	variousArtists = "Various Artists"
)

// plexHeaders is the static client identification header set attached to
// every request. Not per-request state.
var plexHeaders = map[string]string{
	"X-Plex-Product":           "plexport",
	"X-Plex-Version":           "1.0",
	"X-Plex-Client-Identifier": "plexport-sync",
	"X-Plex-Device":            "plexport",
	"X-Plex-Platform":          "Go",
}

// systemPlaylists are server-generated playlists excluded from listings.
var systemPlaylists = map[string]bool{
	"All Music":       true,
	"Recently Added":  true,
	"Recently Played": true,
}

// plexDevice represents one device under the account from the plex.tv
// resources endpoint.
type plexDevice struct {
	Name             string           `xml:"name,attr"`
	Provides         string           `xml:"provides,attr"`
	ClientIdentifier string           `xml:"clientIdentifier,attr"`
	Connections      []plexConnection `xml:"Connection"`
}

type plexConnection struct {
	Protocol string `xml:"protocol,attr"`
	URI      string `xml:"uri,attr"`
	Local    string `xml:"local,attr"`
}

type plexResources struct {
	XMLName xml.Name     `xml:"MediaContainer"`
	Devices []plexDevice `xml:"Device"`
}

type plexIdentity struct {
	XMLName           xml.Name `xml:"MediaContainer"`
	MachineIdentifier string   `xml:"machineIdentifier,attr"`
}

// PlexTrack represents a track entry in a Plex media container. The artist
// lives in grandparentTitle and the album in parentTitle.
type PlexTrack struct {
	RatingKey string `xml:"ratingKey,attr"`
	Title     string `xml:"title,attr"`
	Artist    string `xml:"grandparentTitle,attr"`
	Album     string `xml:"parentTitle,attr"`
	Duration  int    `xml:"duration,attr"`
}

// PlexPlaylist represents a playlist container on the server.
type PlexPlaylist struct {
	RatingKey    string `xml:"ratingKey,attr"`
	Title        string `xml:"title,attr"`
	PlaylistType string `xml:"playlistType,attr"`
	LeafCount    int    `xml:"leafCount,attr"`
}

type plexContainer struct {
	XMLName          xml.Name       `xml:"MediaContainer"`
	Directories      []plexSection  `xml:"Directory"`
	Tracks           []PlexTrack    `xml:"Track"`
	Playlists        []PlexPlaylist `xml:"Playlist"`
	LeafCountAdded   *int           `xml:"leafCountAdded,attr"`
	LeafCountQueried *int           `xml:"leafCountQueried,attr"`
}

type plexSection struct {
	Key   string `xml:"key,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

// PlexService implements [Service] and [match.Library] against one Plex
// server instance. Connect resolves the server endpoint, machine identifier
// and music section before any search or playlist operation runs.
type PlexService struct {
	token      string
	baseURL    string
	serverID   string
	sectionKey string
	httpClient *http.Client
	logger     *log.Logger
}

// NewPlexService creates a Plex client. baseURL may be empty, in which case
// Connect discovers the server through the account's device list.
func NewPlexService(token, baseURL string, logger *log.Logger) *PlexService {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &PlexService{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (p *PlexService) Name() string { return "Plex" }

// ServerID returns the machine identifier resolved during Connect.
func (p *PlexService) ServerID() string { return p.serverID }

// SectionKey returns the music library section key resolved during Connect.
func (p *PlexService) SectionKey() string { return p.sectionKey }

// BaseURL returns the resolved server endpoint.
func (p *PlexService) BaseURL() string { return p.baseURL }

// Authenticate stores the account token. Plex uses long-lived tokens rather
// than an OAuth exchange, so this only validates presence.
func (p *PlexService) Authenticate(ctx context.Context, credentials map[string]string) error {
	token, ok := credentials["token"]
	if !ok || token == "" {
		return fmt.Errorf("%w: token", shared.ErrMissingCredentials)
	}
	p.token = token
	return nil
}

// Connect resolves the server endpoint, machine identifier and music section.
// Must be called before search or playlist operations.
func (p *PlexService) Connect(ctx context.Context) error {
	if p.token == "" {
		return fmt.Errorf("%w: call Authenticate first", shared.ErrNotAuthenticated)
	}

	if p.baseURL == "" {
		baseURL, serverID, err := p.DiscoverServer(ctx)
		if err != nil {
			return err
		}
		p.baseURL = baseURL
		p.serverID = serverID
	}

	if p.serverID == "" {
		p.serverID = p.resolveServerID(ctx)
	}

	sectionKey, err := p.FindMusicSection(ctx)
	if err != nil {
		return err
	}
	p.sectionKey = sectionKey

	p.logger.Info("connected to Plex server", "baseURL", p.baseURL, "serverID", p.serverID, "section", p.sectionKey)
	return nil
}

// DiscoverServer resolves the first server-capable device under the account.
// Prefers a non-local HTTPS connection endpoint and falls back to any listed
// connection. Returns shared.ErrNoServerFound when the account has no server
// device and shared.ErrNoConnectionFound when the device lists no
// connections.
func (p *PlexService) DiscoverServer(ctx context.Context) (string, string, error) {
	var resources plexResources
	if err := p.requestXML(ctx, http.MethodGet, plexResourcesURL, url.Values{"includeHttps": {"1"}}, &resources); err != nil {
		return "", "", fmt.Errorf("%w: resource discovery: %v", shared.ErrAPIRequest, err)
	}

	var server *plexDevice
	for i := range resources.Devices {
		if strings.Contains(resources.Devices[i].Provides, "server") {
			server = &resources.Devices[i]
			break
		}
	}
	if server == nil {
		return "", "", shared.ErrNoServerFound
	}
	if len(server.Connections) == 0 {
		return "", "", shared.ErrNoConnectionFound
	}

	conn := server.Connections[0]
	for _, c := range server.Connections {
		if c.Protocol == "https" && c.Local != "1" {
			conn = c
			break
		}
	}

	return strings.TrimRight(conn.URI, "/"), server.ClientIdentifier, nil
}

// resolveServerID derives a machine identifier when discovery did not supply
// one: probe the server identity endpoint, then fall back to the host
// component of the base URL, then to the "unknown" sentinel. Discovery is
// best-effort and never fails the caller; downstream key construction
// requires a non-empty value.
func (p *PlexService) resolveServerID(ctx context.Context) string {
	var identity plexIdentity
	if err := p.requestXML(ctx, http.MethodGet, p.baseURL+"/identity", nil, &identity); err == nil && identity.MachineIdentifier != "" {
		return identity.MachineIdentifier
	}

	if u, err := url.Parse(p.baseURL); err == nil && u.Hostname() != "" {
		p.logger.Warn("identity endpoint unavailable, deriving server id from host", "host", u.Hostname())
		return u.Hostname()
	}

	p.logger.Warn("could not resolve machine identifier, using sentinel")
	return "unknown"
}

// FindMusicSection locates the first library section typed as music.
// Returns shared.ErrNoMusicSection when absent.
func (p *PlexService) FindMusicSection(ctx context.Context) (string, error) {
	var container plexContainer
	if err := p.requestXML(ctx, http.MethodGet, p.baseURL+"/library/sections", nil, &container); err != nil {
		return "", fmt.Errorf("%w: listing sections: %v", shared.ErrAPIRequest, err)
	}

	for _, section := range container.Directories {
		if section.Type == "artist" {
			return section.Key, nil
		}
	}

	return "", shared.ErrNoMusicSection
}

// SearchExact runs a server-side filtered query on the title and artist
// fields of the music section. The server filter alone is not trusted to be
// precise: the returned candidate's artist field must equal the requested
// artist (case-insensitive) before it is accepted. Returns the rating key or
// "" when no acceptable candidate exists.
func (p *PlexService) SearchExact(ctx context.Context, title, artist string) (string, error) {
	params := url.Values{
		"type":         {plexTrackType},
		"title":        {title},
		"artist.title": {artist},
	}

	var container plexContainer
	endpoint := fmt.Sprintf("%s/library/sections/%s/all", p.baseURL, p.sectionKey)
	if err := p.requestXML(ctx, http.MethodGet, endpoint, params, &container); err != nil {
		return "", fmt.Errorf("%w: exact search: %v", shared.ErrAPIRequest, err)
	}

	for _, track := range container.Tracks {
		if artistEqual(track.Artist, artist) {
			return track.RatingKey, nil
		}
	}

	return "", nil
}

// SearchFuzzy runs a free-text search over the music section and returns the
// candidates ranked best-first by the similarity score against the wanted
// pair. Candidates credited to "Various Artists" are excluded.
func (p *PlexService) SearchFuzzy(ctx context.Context, title, artist string) ([]match.Candidate, error) {
	params := url.Values{
		"type":  {plexTrackType},
		"query": {title},
	}

	var container plexContainer
	endpoint := fmt.Sprintf("%s/library/sections/%s/search", p.baseURL, p.sectionKey)
	if err := p.requestXML(ctx, http.MethodGet, endpoint, params, &container); err != nil {
		return nil, fmt.Errorf("%w: fuzzy search: %v", shared.ErrAPIRequest, err)
	}

	candidates := make([]match.Candidate, 0, len(container.Tracks))
	for _, track := range container.Tracks {
		if artistEqual(track.Artist, variousArtists) {
			continue
		}
		candidates = append(candidates, match.Candidate{
			RatingKey: track.RatingKey,
			Title:     track.Title,
			Artist:    track.Artist,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return match.Score(title, artist, candidates[i].Title, candidates[i].Artist) <
			match.Score(title, artist, candidates[j].Title, candidates[j].Artist)
	})

	return candidates, nil
}

// SearchGlobal is the last-resort whole-server search. Applies the same
// artist-equality filter as SearchExact.
func (p *PlexService) SearchGlobal(ctx context.Context, title, artist string) (string, error) {
	var container plexContainer
	if err := p.requestXML(ctx, http.MethodGet, p.baseURL+"/search", url.Values{"query": {title}}, &container); err != nil {
		return "", fmt.Errorf("%w: global search: %v", shared.ErrAPIRequest, err)
	}

	for _, track := range container.Tracks {
		if artistEqual(track.Artist, artist) {
			return track.RatingKey, nil
		}
	}

	return "", nil
}

// ListPlaylists fetches all playlists, filtered to audio type, with control
// characters and variant-selector glyphs stripped from titles, system
// playlists excluded, and duplicates removed.
func (p *PlexService) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	var container plexContainer
	if err := p.requestXML(ctx, http.MethodGet, p.baseURL+"/playlists", url.Values{"playlistType": {"audio"}}, &container); err != nil {
		return nil, fmt.Errorf("%w: listing playlists: %v", shared.ErrAPIRequest, err)
	}

	seen := make(map[string]bool)
	playlists := make([]Playlist, 0, len(container.Playlists))
	for _, pl := range container.Playlists {
		if pl.PlaylistType != "" && pl.PlaylistType != "audio" {
			continue
		}

		title := stripControlGlyphs(pl.Title)
		if title == "" || systemPlaylists[title] || seen[title] {
			continue
		}
		seen[title] = true

		playlists = append(playlists, Playlist{
			ID:         pl.RatingKey,
			Name:       title,
			TrackCount: pl.LeafCount,
		})
	}

	return playlists, nil
}

// FindPlaylistByName resolves an existing playlist by exact case-insensitive
// title match. Returns nil when no playlist matches; the caller decides
// whether to create one (reuse-over-duplicate policy).
func (p *PlexService) FindPlaylistByName(ctx context.Context, name string) (*Playlist, error) {
	playlists, err := p.ListPlaylists(ctx)
	if err != nil {
		return nil, err
	}

	for i := range playlists {
		if strings.EqualFold(playlists[i].Name, name) {
			return &playlists[i], nil
		}
	}
	return nil, nil
}

// CreatePlaylist creates an empty audio playlist. The API requires at least
// one seed item reference to create a playlist container, so the request is
// anchored to a synthetic metadata URI; AddItems fills the container
// afterwards. The name has trailing parenthetical annotations stripped and a
// creation-date suffix appended to avoid collisions with manually created
// playlists.
func (p *PlexService) CreatePlaylist(ctx context.Context, name string) (*Playlist, error) {
	title := fmt.Sprintf("%s (%s)", sanitizePlaylistName(name), time.Now().Format("2006-01-02"))

	params := url.Values{
		"type":  {"audio"},
		"title": {title},
		"smart": {"0"},
		"uri":   {p.itemURI("1")},
	}

	body, err := p.request(ctx, http.MethodPost, p.baseURL+"/playlists", params, "application/json")
	if err != nil {
		return nil, fmt.Errorf("%w: creating playlist: %v", shared.ErrAPIRequest, err)
	}

	var created struct {
		MediaContainer struct {
			Metadata []struct {
				RatingKey string `json:"ratingKey"`
				Title     string `json:"title"`
			} `json:"Metadata"`
		} `json:"MediaContainer"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("%w: decoding playlist creation response: %v", shared.ErrAPIRequest, err)
	}
	if len(created.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("%w: no playlist returned from creation request", shared.ErrAPIRequest)
	}

	meta := created.MediaContainer.Metadata[0]
	return &Playlist{ID: meta.RatingKey, Name: meta.Title}, nil
}

// AddItems uploads one batch of tracks to a playlist with a single bulk
// "add items by URI list" request. Returns false when the response status is
// not successful or lacks the leafCountAdded confirmation; the caller decides
// whether to continue with further batches.
func (p *PlexService) AddItems(ctx context.Context, playlistID string, ratingKeys []string) (bool, error) {
	if len(ratingKeys) == 0 {
		return true, nil
	}

	params := url.Values{"uri": {p.itemURI(strings.Join(ratingKeys, ","))}}
	endpoint := fmt.Sprintf("%s/playlists/%s/items", p.baseURL, playlistID)

	body, err := p.request(ctx, http.MethodPut, endpoint, params, "")
	if err != nil {
		return false, fmt.Errorf("%w: adding playlist items: %v", shared.ErrAPIRequest, err)
	}

	var container plexContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return false, nil
	}

	return container.LeafCountAdded != nil && *container.LeafCountAdded > 0, nil
}

// DeletePlaylist removes a playlist. User-initiated, not retried; failures
// propagate.
func (p *PlexService) DeletePlaylist(ctx context.Context, playlistID string) error {
	endpoint := fmt.Sprintf("%s/playlists/%s", p.baseURL, playlistID)
	if _, err := p.request(ctx, http.MethodDelete, endpoint, nil, ""); err != nil {
		return fmt.Errorf("%w: deleting playlist: %v", shared.ErrAPIRequest, err)
	}
	return nil
}

// RenamePlaylist changes a playlist title. Failures propagate.
func (p *PlexService) RenamePlaylist(ctx context.Context, playlistID, title string) error {
	endpoint := fmt.Sprintf("%s/playlists/%s", p.baseURL, playlistID)
	if _, err := p.request(ctx, http.MethodPut, endpoint, url.Values{"title": {title}}, ""); err != nil {
		return fmt.Errorf("%w: renaming playlist: %v", shared.ErrAPIRequest, err)
	}
	return nil
}

// GetPlaylistItems fetches the tracks currently in a playlist.
func (p *PlexService) GetPlaylistItems(ctx context.Context, playlistID string) ([]Track, error) {
	var container plexContainer
	endpoint := fmt.Sprintf("%s/playlists/%s/items", p.baseURL, playlistID)
	if err := p.requestXML(ctx, http.MethodGet, endpoint, nil, &container); err != nil {
		return nil, fmt.Errorf("%w: listing playlist items: %v", shared.ErrAPIRequest, err)
	}

	tracks := make([]Track, 0, len(container.Tracks))
	for _, t := range container.Tracks {
		tracks = append(tracks, Track{
			ID:       t.RatingKey,
			Title:    t.Title,
			Artist:   t.Artist,
			Album:    t.Album,
			Duration: t.Duration / 1000,
		})
	}
	return tracks, nil
}

// Service interface implementation

// GetPlaylists retrieves the server's audio playlists.
func (p *PlexService) GetPlaylists(ctx context.Context) ([]Playlist, error) {
	return p.ListPlaylists(ctx)
}

// GetPlaylist retrieves one playlist by rating key.
func (p *PlexService) GetPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	playlists, err := p.ListPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	for i := range playlists {
		if playlists[i].ID == playlistID {
			return &playlists[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID)
}

// ExportPlaylist exports a playlist with all its tracks.
func (p *PlexService) ExportPlaylist(ctx context.Context, playlistID string) (*PlaylistExport, error) {
	playlist, err := p.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	tracks, err := p.GetPlaylistItems(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	return &PlaylistExport{Playlist: *playlist, Tracks: tracks}, nil
}

// ImportPlaylist creates a playlist and adds the provided tracks in one
// batch. The sync engine uses the batched exporter instead; this exists for
// [Service] completeness.
func (p *PlexService) ImportPlaylist(ctx context.Context, export *PlaylistExport) (*Playlist, error) {
	created, err := p.CreatePlaylist(ctx, export.Playlist.Name)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(export.Tracks))
	for _, track := range export.Tracks {
		keys = append(keys, track.ID)
	}
	if _, err := p.AddItems(ctx, created.ID, keys); err != nil {
		return created, err
	}
	return created, nil
}

// SearchTrack runs the exact search and falls back to the best fuzzy
// candidate. Returns shared.ErrTrackNotFound when neither yields a result.
func (p *PlexService) SearchTrack(ctx context.Context, title, artist string) (*Track, error) {
	if key, err := p.SearchExact(ctx, title, artist); err == nil && key != "" {
		return &Track{ID: key, Title: title, Artist: artist}, nil
	}

	candidates, err := p.SearchFuzzy(ctx, title, artist)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s - %s", shared.ErrTrackNotFound, artist, title)
	}

	best := candidates[0]
	return &Track{ID: best.RatingKey, Title: best.Title, Artist: best.Artist}, nil
}

// request performs an HTTP request with the token query parameter and the
// static client identification headers attached, returning the raw body.
func (p *PlexService) request(ctx context.Context, method, rawURL string, params url.Values, accept string) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("X-Plex-Token", p.token)

	req, err := http.NewRequestWithContext(ctx, method, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range plexHeaders {
		req.Header.Set(k, v)
	}
	if accept == "" {
		accept = "application/xml"
	}
	req.Header.Set("Accept", accept)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("plex API returned status %d", resp.StatusCode)
	}

	return body, nil
}

// requestXML performs a request and decodes the XML media container response.
func (p *PlexService) requestXML(ctx context.Context, method, rawURL string, params url.Values, out any) error {
	body, err := p.request(ctx, method, rawURL, params, "application/xml")
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// itemURI builds the server-scoped metadata URI Plex expects for playlist
// item references.
func (p *PlexService) itemURI(keys string) string {
	return fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s", p.serverID, keys)
}

func artistEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// sanitizePlaylistName strips a trailing parenthetical annotation, typically
// a date suffix left by an earlier export run.
func sanitizePlaylistName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndex(name, "("); idx > 0 && strings.HasSuffix(name, ")") {
		name = strings.TrimSpace(name[:idx])
	}
	return name
}

// stripControlGlyphs removes control characters and variant-selector glyphs
// that some clients embed in playlist titles.
func stripControlGlyphs(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case r >= 0xfe00 && r <= 0xfe0f:
			return -1
		case r >= 0x200b && r <= 0x200d:
			return -1
		}
		return r
	}, s))
}
