// package progress models sync progress as typed events and delivers their
// line-oriented text encoding to per-job subscriber sinks.
//
// The event model is separate from the wire encoding so the orchestrator can
// be tested without a real stream; serialization happens at the boundary.
package progress

import "fmt"

// Event is one progress message for an export job. Encode renders the ad hoc
// line format clients parse by string convention.
type Event interface {
	Encode() string
}

// Started announces the beginning of an export job.
type Started struct {
	Playlist string
	Total    int
}

func (e Started) Encode() string {
	return fmt.Sprintf("Exporting %s (%d tracks)", e.Playlist, e.Total)
}

// Status carries a free-text status line.
type Status struct {
	Message string
}

func (e Status) Encode() string { return e.Message }

// BatchProgress reports cumulative counts after an exported batch.
type BatchProgress struct {
	Added   int
	Missing int
	Total   int
}

func (e BatchProgress) Encode() string {
	return fmt.Sprintf("progress:%d:%d:%d", e.Added, e.Missing, e.Total)
}

// Done is the terminal success event. Every job emits exactly one terminal
// event (Done or Error) before its sink is released.
type Done struct {
	Added   int
	Missing int
	Failed  int
	Total   int
}

func (e Done) Encode() string {
	return fmt.Sprintf("done:%d:%d:%d:%d", e.Added, e.Missing, e.Failed, e.Total)
}

// Error is the terminal failure event.
type Error struct {
	Message string
}

func (e Error) Encode() string { return fmt.Sprintf("error:%s", e.Message) }

// IsTerminal reports whether an event ends the job's stream.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Done, Error:
		return true
	}
	return false
}
