package progress

import (
	"reflect"
	"sync"
	"testing"
)

func TestEventEncode(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "started",
			event: Started{Playlist: "Road Trip", Total: 120},
			want:  "Exporting Road Trip (120 tracks)",
		},
		{
			name:  "status passes message through",
			event: Status{Message: "[3/96] Queen - Bohemian Rhapsody"},
			want:  "[3/96] Queen - Bohemian Rhapsody",
		},
		{
			name:  "batch progress",
			event: BatchProgress{Added: 50, Missing: 24, Total: 120},
			want:  "progress:50:24:120",
		},
		{
			name:  "done",
			event: Done{Added: 96, Missing: 24, Failed: 0, Total: 120},
			want:  "done:96:24:0:120",
		},
		{
			name:  "error",
			event: Error{Message: "source playlist not found"},
			want:  "error:source playlist not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(Done{}) {
		t.Error("Done should be terminal")
	}
	if !IsTerminal(Error{}) {
		t.Error("Error should be terminal")
	}
	if IsTerminal(Started{}) || IsTerminal(Status{}) || IsTerminal(BatchProgress{}) {
		t.Error("non-terminal events reported as terminal")
	}
}

func TestRegistry_SendDeliversToRegisteredSink(t *testing.T) {
	registry := NewRegistry()

	var lines []string
	registry.Register("job-1", func(line string) {
		lines = append(lines, line)
	})

	registry.Send("job-1", Started{Playlist: "Mix", Total: 2})
	registry.Send("job-1", Done{Added: 2, Total: 2})

	want := []string{"Exporting Mix (2 tracks)", "done:2:0:0:2"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("sink received %v, want %v", lines, want)
	}
}

func TestRegistry_SendToUnknownJobIsNoOp(t *testing.T) {
	registry := NewRegistry()

	// Must not panic or error: the subscriber may simply be gone.
	registry.Send("never-registered", Status{Message: "hello"})

	registry.Register("job-1", func(string) {})
	registry.Unregister("job-1")
	registry.Send("job-1", Status{Message: "after unregister"})
}

func TestRegistry_NotifierBindsJobID(t *testing.T) {
	registry := NewRegistry()

	var got []string
	registry.Register("job-1", func(line string) { got = append(got, line) })
	registry.Register("job-2", func(line string) {
		t.Errorf("job-2 sink received %q, should get nothing", line)
	})

	notifier := registry.Notifier("job-1")
	notifier.Publish(Status{Message: "only for job-1"})

	if len(got) != 1 || got[0] != "only for job-1" {
		t.Errorf("job-1 sink received %v", got)
	}
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			registry.Register(id, func(string) {})
			registry.Send(id, Status{Message: "x"})
			registry.Unregister(id)
		}(i)
	}
	wg.Wait()
}

func TestDiscardDropsEvents(t *testing.T) {
	// Must be callable without any setup.
	Discard.Publish(Done{})
	Discard.Publish(Error{Message: "ignored"})
}
