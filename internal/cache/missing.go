// package cache implements the persistent missing-track cache.
//
// One JSON document per target-server identity maps playlist name to the
// list of track descriptors that could not be matched on the most recent
// export, plus created/updated timestamps. Entries are merged monotonically
// and never shared across servers: different servers have disjoint
// libraries, so cross-server leakage of missing lists must never occur.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Entry is the persisted record for one playlist: the deduplicated missing
// descriptors plus creation and last-update timestamps.
type Entry struct {
	Items   []string  `json:"items"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// FormatItem encodes a missing track as the descriptor string stored in the
// cache: "Artist | Album - Title", with the album segment omitted when empty.
func FormatItem(artist, album, title string) string {
	if album == "" {
		return fmt.Sprintf("%s | %s", artist, title)
	}
	return fmt.Sprintf("%s | %s - %s", artist, album, title)
}

// ParseItem splits a descriptor back into its artist, album and title parts.
func ParseItem(item string) (artist, album, title string) {
	parts := strings.SplitN(item, " | ", 2)
	if len(parts) != 2 {
		return "", "", item
	}
	artist = parts[0]

	rest := parts[1]
	if idx := strings.Index(rest, " - "); idx >= 0 {
		return artist, rest[:idx], rest[idx+3:]
	}
	return artist, "", rest
}

// Store persists missing-track entries, one file per server identity, under
// a base directory. All methods are safe for concurrent use; concurrent
// updates to the same playlist resolve last-writer-wins, which is acceptable
// because merges are monotonic and a lost merge only causes redundant
// re-searching.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *log.Logger
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Load reads the persisted state for one server identity. A missing or
// unreadable file is treated as an empty cache, never as a fatal error.
func (s *Store) Load(serverID string) map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(serverID)
}

// Save atomically overwrites the persisted file for one server identity.
func (s *Store) Save(serverID string, entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(serverID, entries)
}

// Get returns the entry for one playlist, if present.
func (s *Store) Get(serverID, playlistName string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.load(serverID)[playlistName]
	return entry, ok
}

// Update merges new missing descriptors into the playlist's entry,
// re-deduplicates, and refreshes the updated timestamp. The entry is created
// on first export of a playlist. The merge is a superset union: repeated
// updates with X then Y yield exactly the deduplicated union of X and Y.
func (s *Store) Update(serverID, playlistName string, items []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load(serverID)
	now := time.Now()

	entry, ok := entries[playlistName]
	if !ok {
		entry = Entry{Created: now}
	}

	entry.Items = dedupe(append(entry.Items, items...))
	entry.Updated = now
	entries[playlistName] = entry

	return s.save(serverID, entries)
}

// Remove deletes the entry for one playlist. Used after a successful
// missing-list download: the entry is consumed once the user has it.
func (s *Store) Remove(serverID, playlistName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load(serverID)
	if _, ok := entries[playlistName]; !ok {
		return nil
	}

	delete(entries, playlistName)
	return s.save(serverID, entries)
}

// CleanupOlderThan removes entries whose created timestamp exceeds maxAge,
// normalizes keys by stripping legacy parenthetical suffixes, and merges any
// resulting duplicate keys. Returns the number of expired entries removed.
func (s *Store) CleanupOlderThan(serverID string, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load(serverID)
	if len(entries) == 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	cleaned := make(map[string]Entry, len(entries))
	removed := 0

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := entries[name]
		if entry.Created.Before(cutoff) {
			removed++
			continue
		}

		key := normalizeKey(name)
		if existing, ok := cleaned[key]; ok {
			existing.Items = dedupe(append(existing.Items, entry.Items...))
			if entry.Updated.After(existing.Updated) {
				existing.Updated = entry.Updated
			}
			cleaned[key] = existing
			continue
		}
		cleaned[key] = entry
	}

	if err := s.save(serverID, cleaned); err != nil {
		return removed, err
	}
	return removed, nil
}

// CleanupAll sweeps every persisted server file.
func (s *Store) CleanupAll(maxAge time.Duration) {
	for _, serverID := range s.serverIDs() {
		removed, err := s.CleanupOlderThan(serverID, maxAge)
		if err != nil {
			s.logf("cache cleanup failed", "serverID", serverID, "err", err)
			continue
		}
		if removed > 0 {
			s.logf("expired missing-cache entries removed", "serverID", serverID, "count", removed)
		}
	}
}

// RunSweeper runs CleanupAll once immediately and then on every tick until
// the done channel closes.
func (s *Store) RunSweeper(done <-chan struct{}, interval, maxAge time.Duration) {
	s.CleanupAll(maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.CleanupAll(maxAge)
		}
	}
}

func (s *Store) load(serverID string) map[string]Entry {
	data, err := os.ReadFile(s.path(serverID))
	if err != nil {
		return map[string]Entry{}
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logf("corrupt missing-cache file, treating as empty", "serverID", serverID, "err", err)
		return map[string]Entry{}
	}
	if entries == nil {
		return map[string]Entry{}
	}
	return entries
}

func (s *Store) save(serverID string, entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	path := s.path(serverID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

func (s *Store) serverIDs() []string {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil
	}

	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, strings.TrimSuffix(filepath.Base(f), ".json"))
	}
	return ids
}

// path maps a server identity to its cache file. The identity is sanitized
// so it is always a single safe path element.
func (s *Store) path(serverID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, serverID)
	return filepath.Join(s.dir, safe+".json")
}

func (s *Store) logf(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}

// normalizeKey strips a legacy trailing parenthetical suffix from a playlist
// key, e.g. "Road Trip (2023-04-01)" becomes "Road Trip".
func normalizeKey(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndex(name, "("); idx > 0 && strings.HasSuffix(name, ")") {
		return strings.TrimSpace(name[:idx])
	}
	return name
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
