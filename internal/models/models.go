// package models defines the data model for the playlist export service
package models

import (
	"fmt"
	"time"
)

// SyncRun is the persisted summary of one completed export job, recorded
// when the job reaches a terminal state.
type SyncRun struct {
	ID           string
	JobID        string
	Playlist     string
	ExportedName string
	ServerID     string
	Added        int
	Missing      int
	Failed       int
	Total        int
	Success      bool
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Validate checks the run for required fields.
func (r SyncRun) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("sync run requires an id")
	}
	if r.Playlist == "" {
		return fmt.Errorf("sync run requires a playlist name")
	}
	if r.Total < 0 || r.Added < 0 || r.Missing < 0 || r.Failed < 0 {
		return fmt.Errorf("sync run counters must not be negative")
	}
	return nil
}
