package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"plexport/internal/progress"
)

type mockAdder struct {
	batches     [][]string
	failBatches map[int]error // batch index -> error returned
	unconfirmed map[int]bool  // batch index -> return ok=false
}

func (m *mockAdder) AddItems(ctx context.Context, playlistID string, ratingKeys []string) (bool, error) {
	index := len(m.batches)
	m.batches = append(m.batches, ratingKeys)

	if err, ok := m.failBatches[index]; ok {
		return false, err
	}
	if m.unconfirmed[index] {
		return false, nil
	}
	return true, nil
}

type recordingNotifier struct {
	lines []string
}

func (n *recordingNotifier) Publish(event progress.Event) {
	n.lines = append(n.lines, event.Encode())
}

func keysN(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}
	return keys
}

func TestExporter_AddTracks_Batching(t *testing.T) {
	tests := []struct {
		name        string
		trackCount  int
		batchSize   int
		wantBatches int
	}{
		{"under one batch", 10, 50, 1},
		{"exact batch boundary", 100, 50, 2},
		{"boundary plus one", 101, 50, 3},
		{"single track", 1, 50, 1},
		{"zero tracks", 0, 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adder := &mockAdder{}
			exporter := NewExporter(adder, tt.batchSize, 1000, nil)

			added, ok := exporter.AddTracks(context.Background(), "pl-1", keysN(tt.trackCount), 0, 0, tt.trackCount, nil)

			if !ok {
				t.Error("AddTracks() success = false, want true")
			}
			if added != tt.trackCount {
				t.Errorf("AddTracks() added = %d, want %d", added, tt.trackCount)
			}
			if len(adder.batches) != tt.wantBatches {
				t.Errorf("AddTracks() issued %d batches, want %d", len(adder.batches), tt.wantBatches)
			}

			// Batches partition the keys in matched order.
			var flattened []string
			for _, batch := range adder.batches {
				if len(batch) > tt.batchSize {
					t.Errorf("batch of %d exceeds batch size %d", len(batch), tt.batchSize)
				}
				flattened = append(flattened, batch...)
			}
			for i, key := range flattened {
				if key != fmt.Sprintf("key-%d", i) {
					t.Fatalf("batch order broken at %d: %s", i, key)
				}
			}
		})
	}
}

func TestExporter_AddTracks_PartialFailureContinues(t *testing.T) {
	adder := &mockAdder{
		failBatches: map[int]error{1: errors.New("upstream 500")},
	}
	exporter := NewExporter(adder, 50, 1000, nil)

	added, ok := exporter.AddTracks(context.Background(), "pl-1", keysN(150), 0, 0, 150, nil)

	if ok {
		t.Error("AddTracks() success = true, want false after a failed batch")
	}
	if len(adder.batches) != 3 {
		t.Errorf("AddTracks() issued %d batches, want all 3 despite mid-run failure", len(adder.batches))
	}
	if added != 100 {
		t.Errorf("AddTracks() added = %d, want 100 (two confirmed batches)", added)
	}
}

func TestExporter_AddTracks_UnconfirmedBatchNotCounted(t *testing.T) {
	adder := &mockAdder{unconfirmed: map[int]bool{0: true}}
	exporter := NewExporter(adder, 50, 1000, nil)

	added, ok := exporter.AddTracks(context.Background(), "pl-1", keysN(30), 0, 0, 30, nil)

	if ok {
		t.Error("AddTracks() success = true, want false for unconfirmed batch")
	}
	if added != 0 {
		t.Errorf("AddTracks() added = %d, want 0", added)
	}
}

func TestExporter_AddTracks_ProgressAfterEveryBatch(t *testing.T) {
	adder := &mockAdder{}
	notifier := &recordingNotifier{}
	exporter := NewExporter(adder, 50, 1000, nil)

	// 120 total tracks, 96 matched, 24 missing: two batches of 50 and 46.
	added, ok := exporter.AddTracks(context.Background(), "pl-1", keysN(96), 0, 24, 120, notifier)

	if !ok || added != 96 {
		t.Fatalf("AddTracks() = (%d, %v), want (96, true)", added, ok)
	}

	want := []string{"progress:50:24:120", "progress:96:24:120"}
	if len(notifier.lines) != len(want) {
		t.Fatalf("got %d progress events %v, want %d", len(notifier.lines), notifier.lines, len(want))
	}
	for i, line := range want {
		if notifier.lines[i] != line {
			t.Errorf("progress[%d] = %q, want %q", i, notifier.lines[i], line)
		}
	}
}

func TestExporter_AddTracks_CumulativeAcrossGroups(t *testing.T) {
	adder := &mockAdder{}
	notifier := &recordingNotifier{}
	exporter := NewExporter(adder, 50, 1000, nil)

	// A job uploading in two server groups: the second call carries the
	// count the first already added, so the stream never goes backwards.
	first, ok := exporter.AddTracks(context.Background(), "pl-1", keysN(50), 0, 24, 120, notifier)
	if !ok || first != 50 {
		t.Fatalf("first group = (%d, %v), want (50, true)", first, ok)
	}
	second, ok := exporter.AddTracks(context.Background(), "pl-1", keysN(46), first, 24, 120, notifier)
	if !ok || second != 46 {
		t.Fatalf("second group = (%d, %v), want (46, true)", second, ok)
	}

	want := []string{"progress:50:24:120", "progress:96:24:120"}
	if len(notifier.lines) != len(want) {
		t.Fatalf("got %d progress events %v, want %d", len(notifier.lines), notifier.lines, len(want))
	}
	for i, line := range want {
		if notifier.lines[i] != line {
			t.Errorf("progress[%d] = %q, want %q", i, notifier.lines[i], line)
		}
	}
}

func TestExporter_AddTracks_NilNotifier(t *testing.T) {
	adder := &mockAdder{}
	exporter := NewExporter(adder, 50, 1000, nil)

	if added, ok := exporter.AddTracks(context.Background(), "pl-1", keysN(5), 0, 0, 5, nil); !ok || added != 5 {
		t.Errorf("AddTracks() with nil notifier = (%d, %v), want (5, true)", added, ok)
	}
}
