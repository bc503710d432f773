package match

import (
	"context"

	"github.com/charmbracelet/log"
)

// TrackRef is the semantic identity of a track to be matched, constructed
// per sync run from source playlist data.
type TrackRef struct {
	Title  string
	Artist string
	Album  string
}

// Candidate is one search hit from the target library.
type Candidate struct {
	RatingKey string
	Title     string
	Artist    string
}

// Library is the subset of the target media server client the matcher needs.
// SearchExact and SearchGlobal apply their own artist-equality filter and
// return the rating key or "" when nothing acceptable was found. SearchFuzzy
// returns candidates ranked best-first.
type Library interface {
	SearchExact(ctx context.Context, title, artist string) (string, error)
	SearchFuzzy(ctx context.Context, title, artist string) ([]Candidate, error)
	SearchGlobal(ctx context.Context, title, artist string) (string, error)
	SectionKey() string
	ServerID() string
}

// Result is the outcome of attempting to locate one TrackRef in the target
// library. RatingKey == "" means the track is missing; SectionKey and
// ServerID record which library and server produced a hit, since in
// multi-server accounts different candidates may live on different servers
// and the exporter batches uploads per server.
type Result struct {
	Ref        TrackRef
	RatingKey  string
	SectionKey string
	ServerID   string
}

// Found reports whether the track was located.
func (r Result) Found() bool { return r.RatingKey != "" }

// Matcher resolves source tracks to target library rating keys by trying, in
// order: exact filtered search, fuzzy section search bounded by the score
// threshold, and global server search. The first accepted candidate wins.
type Matcher struct {
	lib       Library
	threshold int
	logger    *log.Logger
}

// NewMatcher creates a Matcher. threshold is the maximum acceptable
// similarity score for a fuzzy candidate; it was tuned empirically and is a
// design parameter, not a hard constant.
func NewMatcher(lib Library, threshold int, logger *log.Logger) *Matcher {
	return &Matcher{lib: lib, threshold: threshold, logger: logger}
}

// MatchTracks resolves each input track independently. Duplicate
// (artist, title) pairs are searched independently; deduplication happens
// upstream at the missing-cache level.
func (m *Matcher) MatchTracks(ctx context.Context, refs []TrackRef) []Result {
	results := make([]Result, len(refs))
	for i, ref := range refs {
		results[i] = m.MatchTrack(ctx, ref)
	}
	return results
}

// MatchTrack resolves a single track. Transient search failures are logged
// and degrade to "not found" for that step rather than aborting the run.
func (m *Matcher) MatchTrack(ctx context.Context, ref TrackRef) Result {
	result := Result{Ref: ref}

	key, err := m.lib.SearchExact(ctx, ref.Title, ref.Artist)
	if err != nil {
		m.logf("exact search failed", ref, err)
	} else if key != "" {
		return m.found(result, key)
	}

	candidates, err := m.lib.SearchFuzzy(ctx, ref.Title, ref.Artist)
	if err != nil {
		m.logf("fuzzy search failed", ref, err)
	} else if len(candidates) > 0 {
		best := candidates[0]
		if Score(ref.Title, ref.Artist, best.Title, best.Artist) < m.threshold {
			return m.found(result, best.RatingKey)
		}
	}

	key, err = m.lib.SearchGlobal(ctx, ref.Title, ref.Artist)
	if err != nil {
		m.logf("global search failed", ref, err)
	} else if key != "" {
		return m.found(result, key)
	}

	return result
}

func (m *Matcher) found(result Result, key string) Result {
	result.RatingKey = key
	result.SectionKey = m.lib.SectionKey()
	result.ServerID = m.lib.ServerID()
	return result
}

func (m *Matcher) logf(msg string, ref TrackRef, err error) {
	if m.logger != nil {
		m.logger.Warn(msg, "title", ref.Title, "artist", ref.Artist, "err", err)
	}
}
