// package formatter renders missing-track lists and export summaries for
// download and CLI display.
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"

	"plexport/internal/cache"
)

// MissingRow is one row of a missing-track CSV export.
type MissingRow struct {
	Playlist string
	Artist   string
	Album    string
	Title    string
}

// MissingCSV renders missing descriptors for one playlist as a
// semicolon-delimited UTF-8 CSV with a Playlist;Artist;Album;Title header,
// sorted by artist, then album, then title.
func MissingCSV(playlist string, items []string) ([]byte, error) {
	rows := make([]MissingRow, 0, len(items))
	for _, item := range items {
		artist, album, title := cache.ParseItem(item)
		rows = append(rows, MissingRow{Playlist: playlist, Artist: artist, Album: album, Title: title})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Artist != rows[j].Artist {
			return rows[i].Artist < rows[j].Artist
		}
		if rows[i].Album != rows[j].Album {
			return rows[i].Album < rows[j].Album
		}
		return rows[i].Title < rows[j].Title
	})

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.Comma = ';'

	if err := writer.Write([]string{"Playlist", "Artist", "Album", "Title"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range rows {
		if err := writer.Write([]string{row.Playlist, row.Artist, row.Album, row.Title}); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
