package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"plexport/internal/shared"
)

// newTestPlex runs a fake Plex endpoint and returns a connected-enough
// service pointed at it.
func newTestPlex(t *testing.T, handler http.HandlerFunc) (*PlexService, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	svc := NewPlexService("test-token", ts.URL, nil)
	svc.serverID = "machine-1"
	svc.sectionKey = "5"
	return svc, ts
}

func TestPlexService_RequestCarriesTokenAndHeaders(t *testing.T) {
	var gotToken, gotProduct string
	svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("X-Plex-Token")
		gotProduct = r.Header.Get("X-Plex-Product")
		fmt.Fprint(w, `<MediaContainer></MediaContainer>`)
	})

	if _, err := svc.SearchExact(context.Background(), "Song", "Artist"); err != nil {
		t.Fatalf("SearchExact() error = %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("token query param = %q, want test-token", gotToken)
	}
	if gotProduct == "" {
		t.Error("X-Plex-Product header missing")
	}
}

func TestPlexService_SearchExact(t *testing.T) {
	svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<MediaContainer>
			<Track ratingKey="11" title="Hey Jude" grandparentTitle="Some Cover Band" parentTitle="Covers"/>
			<Track ratingKey="12" title="Hey Jude" grandparentTitle=" the beatles " parentTitle="Past Masters"/>
		</MediaContainer>`)
	})

	key, err := svc.SearchExact(context.Background(), "Hey Jude", "The Beatles")
	if err != nil {
		t.Fatalf("SearchExact() error = %v", err)
	}
	if key != "12" {
		t.Errorf("SearchExact() = %q, want the artist-verified 12", key)
	}
}

func TestPlexService_SearchExact_NoAcceptableCandidate(t *testing.T) {
	svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<MediaContainer>
			<Track ratingKey="11" title="Hey Jude" grandparentTitle="Some Cover Band"/>
		</MediaContainer>`)
	})

	key, err := svc.SearchExact(context.Background(), "Hey Jude", "The Beatles")
	if err != nil {
		t.Fatalf("SearchExact() error = %v", err)
	}
	if key != "" {
		t.Errorf("SearchExact() = %q, want empty for artist mismatch", key)
	}
}

func TestPlexService_SearchFuzzy(t *testing.T) {
	svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<MediaContainer>
			<Track ratingKey="1" title="Hey Jude Tribute" grandparentTitle="Cover Band"/>
			<Track ratingKey="2" title="Hey Jude" grandparentTitle="Various Artists"/>
			<Track ratingKey="3" title="Hey Jude" grandparentTitle="The Beatles"/>
		</MediaContainer>`)
	})

	candidates, err := svc.SearchFuzzy(context.Background(), "Hey Jude", "The Beatles")
	if err != nil {
		t.Fatalf("SearchFuzzy() error = %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("SearchFuzzy() returned %d candidates, want 2 (Various Artists excluded)", len(candidates))
	}
	if candidates[0].RatingKey != "3" {
		t.Errorf("SearchFuzzy() best candidate = %q, want the closest match 3", candidates[0].RatingKey)
	}
}

func TestPlexService_ListPlaylists(t *testing.T) {
	svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<MediaContainer>
			<Playlist ratingKey="1" title="Road Trip" playlistType="audio" leafCount="42"/>
			<Playlist ratingKey="2" title="All Music" playlistType="audio" leafCount="9999"/>
			<Playlist ratingKey="3" title="Road Trip" playlistType="audio" leafCount="42"/>
			<Playlist ratingKey="4" title="Movie Night" playlistType="video" leafCount="3"/>
			<Playlist ratingKey="5" title="&#8203;Chill&#8203;" playlistType="audio" leafCount="7"/>
		</MediaContainer>`)
	})

	playlists, err := svc.ListPlaylists(context.Background())
	if err != nil {
		t.Fatalf("ListPlaylists() error = %v", err)
	}

	if len(playlists) != 2 {
		t.Fatalf("ListPlaylists() = %d playlists, want 2 (system, video, duplicate excluded)", len(playlists))
	}
	if playlists[0].Name != "Road Trip" || playlists[0].TrackCount != 42 {
		t.Errorf("playlists[0] = %+v", playlists[0])
	}
	if playlists[1].Name != "Chill" {
		t.Errorf("playlists[1].Name = %q, want glyphs stripped to Chill", playlists[1].Name)
	}
}

func TestPlexService_FindPlaylistByName(t *testing.T) {
	svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<MediaContainer>
			<Playlist ratingKey="1" title="Road Trip" playlistType="audio" leafCount="42"/>
		</MediaContainer>`)
	})

	found, err := svc.FindPlaylistByName(context.Background(), "road trip")
	if err != nil {
		t.Fatalf("FindPlaylistByName() error = %v", err)
	}
	if found == nil || found.ID != "1" {
		t.Errorf("FindPlaylistByName() = %+v, want case-insensitive hit on 1", found)
	}

	missing, err := svc.FindPlaylistByName(context.Background(), "Nonexistent")
	if err != nil {
		t.Fatalf("FindPlaylistByName() error = %v", err)
	}
	if missing != nil {
		t.Errorf("FindPlaylistByName() = %+v, want nil for absent playlist", missing)
	}
}

func TestPlexService_AddItems(t *testing.T) {
	t.Run("confirmed addition", func(t *testing.T) {
		var gotURI string
		svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
			gotURI = r.URL.Query().Get("uri")
			fmt.Fprint(w, `<MediaContainer leafCountAdded="3"></MediaContainer>`)
		})

		ok, err := svc.AddItems(context.Background(), "77", []string{"1", "2", "3"})
		if err != nil {
			t.Fatalf("AddItems() error = %v", err)
		}
		if !ok {
			t.Error("AddItems() confirmed = false, want true")
		}
		if !strings.Contains(gotURI, "server://machine-1/") || !strings.HasSuffix(gotURI, "/library/metadata/1,2,3") {
			t.Errorf("item uri = %q, want server-scoped metadata uri with comma-joined keys", gotURI)
		}
	})

	t.Run("unconfirmed addition", func(t *testing.T) {
		svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<MediaContainer leafCountAdded="0"></MediaContainer>`)
		})

		ok, err := svc.AddItems(context.Background(), "77", []string{"1"})
		if err != nil {
			t.Fatalf("AddItems() error = %v", err)
		}
		if ok {
			t.Error("AddItems() confirmed = true, want false for leafCountAdded=0")
		}
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected for an empty batch")
		})

		ok, err := svc.AddItems(context.Background(), "77", nil)
		if err != nil || !ok {
			t.Errorf("AddItems() = (%v, %v), want (true, nil)", ok, err)
		}
	})
}

func TestPlexService_CreatePlaylist(t *testing.T) {
	svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		title := r.URL.Query().Get("title")
		fmt.Fprintf(w, `{"MediaContainer":{"Metadata":[{"ratingKey":"88","title":%q}]}}`, title)
	})

	created, err := svc.CreatePlaylist(context.Background(), "Road Trip (2023-04-01)")
	if err != nil {
		t.Fatalf("CreatePlaylist() error = %v", err)
	}
	if created.ID != "88" {
		t.Errorf("CreatePlaylist() id = %q, want 88", created.ID)
	}

	// The stale date suffix is replaced with a fresh one.
	if !strings.HasPrefix(created.Name, "Road Trip (") || strings.Contains(created.Name, "2023-04-01") {
		t.Errorf("CreatePlaylist() name = %q, want sanitized base with new date suffix", created.Name)
	}
}

func TestPlexService_FindMusicSection(t *testing.T) {
	t.Run("music section present", func(t *testing.T) {
		svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<MediaContainer>
				<Directory key="2" type="movie" title="Movies"/>
				<Directory key="5" type="artist" title="Music"/>
			</MediaContainer>`)
		})

		key, err := svc.FindMusicSection(context.Background())
		if err != nil {
			t.Fatalf("FindMusicSection() error = %v", err)
		}
		if key != "5" {
			t.Errorf("FindMusicSection() = %q, want 5", key)
		}
	})

	t.Run("no music section", func(t *testing.T) {
		svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<MediaContainer><Directory key="2" type="movie" title="Movies"/></MediaContainer>`)
		})

		_, err := svc.FindMusicSection(context.Background())
		if !errors.Is(err, shared.ErrNoMusicSection) {
			t.Errorf("FindMusicSection() error = %v, want ErrNoMusicSection", err)
		}
	})
}

func TestPlexService_APIErrorsSurface(t *testing.T) {
	svc, _ := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	if _, err := svc.SearchExact(context.Background(), "Song", "Artist"); !errors.Is(err, shared.ErrAPIRequest) {
		t.Errorf("SearchExact() error = %v, want ErrAPIRequest", err)
	}
	if _, err := svc.ListPlaylists(context.Background()); !errors.Is(err, shared.ErrAPIRequest) {
		t.Errorf("ListPlaylists() error = %v, want ErrAPIRequest", err)
	}
}

func TestSanitizePlaylistName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Road Trip", "Road Trip"},
		{"Road Trip (2023-04-01)", "Road Trip"},
		{"  Road Trip (old) ", "Road Trip"},
		{"(leading)", "(leading)"},
	}

	for _, tt := range tests {
		if got := sanitizePlaylistName(tt.input); got != tt.want {
			t.Errorf("sanitizePlaylistName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAuthenticateRequiresToken(t *testing.T) {
	svc := NewPlexService("", "http://localhost:32400", nil)

	if err := svc.Authenticate(context.Background(), map[string]string{}); !errors.Is(err, shared.ErrMissingCredentials) {
		t.Errorf("Authenticate() error = %v, want ErrMissingCredentials", err)
	}
	if err := svc.Authenticate(context.Background(), map[string]string{"token": "abc"}); err != nil {
		t.Errorf("Authenticate() with token error = %v", err)
	}
}
