package match

import (
	"context"
	"errors"
	"testing"
)

type mockLibrary struct {
	exactResults  map[string]string
	fuzzyResults  map[string][]Candidate
	globalResults map[string]string
	exactErr      error
	fuzzyErr      error
	globalErr     error
	exactCalls    int
	fuzzyCalls    int
	globalCalls   int
}

func (m *mockLibrary) SearchExact(ctx context.Context, title, artist string) (string, error) {
	m.exactCalls++
	if m.exactErr != nil {
		return "", m.exactErr
	}
	return m.exactResults[title+"|"+artist], nil
}

func (m *mockLibrary) SearchFuzzy(ctx context.Context, title, artist string) ([]Candidate, error) {
	m.fuzzyCalls++
	if m.fuzzyErr != nil {
		return nil, m.fuzzyErr
	}
	return m.fuzzyResults[title+"|"+artist], nil
}

func (m *mockLibrary) SearchGlobal(ctx context.Context, title, artist string) (string, error) {
	m.globalCalls++
	if m.globalErr != nil {
		return "", m.globalErr
	}
	return m.globalResults[title+"|"+artist], nil
}

func (m *mockLibrary) SectionKey() string { return "5" }
func (m *mockLibrary) ServerID() string   { return "server-1" }

func TestMatcher_MatchTrack(t *testing.T) {
	tests := []struct {
		name        string
		lib         *mockLibrary
		ref         TrackRef
		wantKey     string
		wantFuzzy   int // expected fuzzy call count
		wantGlobal  int // expected global call count
	}{
		{
			name: "exact hit short-circuits",
			lib: &mockLibrary{
				exactResults: map[string]string{"Hey Jude|The Beatles": "101"},
			},
			ref:        TrackRef{Title: "Hey Jude", Artist: "The Beatles"},
			wantKey:    "101",
			wantFuzzy:  0,
			wantGlobal: 0,
		},
		{
			name: "fuzzy candidate within threshold accepted",
			lib: &mockLibrary{
				fuzzyResults: map[string][]Candidate{
					"Hey Jude|The Beatles": {
						{RatingKey: "202", Title: "Hey Jud", Artist: "The Beatles"},
					},
				},
			},
			ref:        TrackRef{Title: "Hey Jude", Artist: "The Beatles"},
			wantKey:    "202",
			wantFuzzy:  1,
			wantGlobal: 0,
		},
		{
			name: "fuzzy candidate over threshold rejected, global misses",
			lib: &mockLibrary{
				fuzzyResults: map[string][]Candidate{
					"Hey Jude|The Beatles": {
						{RatingKey: "203", Title: "Bohemian Rhapsody", Artist: "Queen"},
					},
				},
			},
			ref:        TrackRef{Title: "Hey Jude", Artist: "The Beatles"},
			wantKey:    "",
			wantFuzzy:  1,
			wantGlobal: 1,
		},
		{
			name: "global fallback hit",
			lib: &mockLibrary{
				globalResults: map[string]string{"Hey Jude|The Beatles": "303"},
			},
			ref:        TrackRef{Title: "Hey Jude", Artist: "The Beatles"},
			wantKey:    "303",
			wantFuzzy:  1,
			wantGlobal: 1,
		},
		{
			name:       "nothing found anywhere",
			lib:        &mockLibrary{},
			ref:        TrackRef{Title: "Hey Jude", Artist: "The Beatles"},
			wantKey:    "",
			wantFuzzy:  1,
			wantGlobal: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher := NewMatcher(tt.lib, 3, nil)
			result := matcher.MatchTrack(context.Background(), tt.ref)

			if result.RatingKey != tt.wantKey {
				t.Errorf("MatchTrack() ratingKey = %q, want %q", result.RatingKey, tt.wantKey)
			}
			if result.Found() != (tt.wantKey != "") {
				t.Errorf("MatchTrack() Found() = %v, want %v", result.Found(), tt.wantKey != "")
			}
			if result.Found() {
				if result.SectionKey != "5" || result.ServerID != "server-1" {
					t.Errorf("MatchTrack() provenance = (%q, %q), want (5, server-1)", result.SectionKey, result.ServerID)
				}
			}
			if tt.lib.fuzzyCalls != tt.wantFuzzy {
				t.Errorf("MatchTrack() fuzzy calls = %d, want %d", tt.lib.fuzzyCalls, tt.wantFuzzy)
			}
			if tt.lib.globalCalls != tt.wantGlobal {
				t.Errorf("MatchTrack() global calls = %d, want %d", tt.lib.globalCalls, tt.wantGlobal)
			}
		})
	}
}

func TestMatcher_MatchTrack_SearchErrorsDegrade(t *testing.T) {
	lib := &mockLibrary{
		exactErr: errors.New("section unavailable"),
		fuzzyErr: errors.New("section unavailable"),
		globalResults: map[string]string{
			"Hey Jude|The Beatles": "404",
		},
	}

	matcher := NewMatcher(lib, 3, nil)
	result := matcher.MatchTrack(context.Background(), TrackRef{Title: "Hey Jude", Artist: "The Beatles"})

	if result.RatingKey != "404" {
		t.Errorf("MatchTrack() should fall through failed steps, got key %q", result.RatingKey)
	}
}

func TestMatcher_MatchTrack_AllErrorsMeanNotFound(t *testing.T) {
	lib := &mockLibrary{
		exactErr:  errors.New("down"),
		fuzzyErr:  errors.New("down"),
		globalErr: errors.New("down"),
	}

	matcher := NewMatcher(lib, 3, nil)
	result := matcher.MatchTrack(context.Background(), TrackRef{Title: "Hey Jude", Artist: "The Beatles"})

	if result.Found() {
		t.Error("MatchTrack() should report not found when every search fails")
	}
}

func TestMatcher_MatchTracks(t *testing.T) {
	lib := &mockLibrary{
		exactResults: map[string]string{
			"Song A|Artist A": "1",
			"Song C|Artist C": "3",
		},
	}

	matcher := NewMatcher(lib, 3, nil)
	refs := []TrackRef{
		{Title: "Song A", Artist: "Artist A"},
		{Title: "Song B", Artist: "Artist B"},
		{Title: "Song C", Artist: "Artist C"},
	}

	results := matcher.MatchTracks(context.Background(), refs)

	if len(results) != 3 {
		t.Fatalf("MatchTracks() returned %d results, want 3", len(results))
	}
	if !results[0].Found() || results[0].RatingKey != "1" {
		t.Errorf("MatchTracks()[0] = %+v, want found with key 1", results[0])
	}
	if results[1].Found() {
		t.Errorf("MatchTracks()[1] should be missing")
	}
	if !results[2].Found() || results[2].RatingKey != "3" {
		t.Errorf("MatchTracks()[2] = %+v, want found with key 3", results[2])
	}

	// Input order is preserved.
	if results[0].Ref.Title != "Song A" || results[2].Ref.Title != "Song C" {
		t.Error("MatchTracks() should preserve input order")
	}
}
