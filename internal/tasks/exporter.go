package tasks

import (
	"context"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"plexport/internal/progress"
)

// ItemAdder uploads one batch of rating keys to a target playlist and
// reports whether the server confirmed the addition.
type ItemAdder interface {
	AddItems(ctx context.Context, playlistID string, ratingKeys []string) (bool, error)
}

// Exporter uploads matched rating keys to a target playlist in fixed-size
// batches. A failed batch marks the overall result unsuccessful but does not
// abort the remaining batches; partial success is expected under flaky
// upstream conditions. Batches are paced through a rate limiter to stay
// clear of the target server's rate limiting.
type Exporter struct {
	target    ItemAdder
	batchSize int
	limiter   *rate.Limiter
	logger    *log.Logger
}

// NewExporter creates an Exporter. batchSize defaults to 50, chosen to stay
// under the target API's practical URL-length and processing limits.
// interBatch is the minimum spacing between bulk requests.
func NewExporter(target ItemAdder, batchSize int, perSecond float64, logger *log.Logger) *Exporter {
	if batchSize <= 0 {
		batchSize = 50
	}
	if perSecond <= 0 {
		perSecond = 5
	}
	return &Exporter{
		target:    target,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:    logger,
	}
}

// AddTracks splits keys into batches, issues one bulk add per batch in the
// order the tracks were matched, and emits a cumulative progress event after
// every batch. offset is the count already added by earlier calls for the
// same job, so progress stays monotonic when a job uploads in several
// groups; missing and total provide the remaining counts the events report.
// Returns the number of keys confirmed added by this call and whether every
// batch succeeded.
func (e *Exporter) AddTracks(ctx context.Context, playlistID string, keys []string, offset, missing, total int, notify progress.Notifier) (int, bool) {
	if notify == nil {
		notify = progress.Discard
	}

	added := 0
	success := true

	for start := 0; start < len(keys); start += e.batchSize {
		end := start + e.batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		if err := e.limiter.Wait(ctx); err != nil {
			e.warn("batch pacing interrupted", "err", err)
			success = false
			break
		}

		ok, err := e.target.AddItems(ctx, playlistID, batch)
		switch {
		case err != nil:
			e.warn("batch upload failed", "playlistID", playlistID, "batch", len(batch), "err", err)
			success = false
		case !ok:
			e.warn("batch not confirmed by server", "playlistID", playlistID, "batch", len(batch))
			success = false
		default:
			added += len(batch)
		}

		notify.Publish(progress.BatchProgress{Added: offset + added, Missing: missing, Total: total})
	}

	return added, success
}

func (e *Exporter) warn(msg string, kv ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, kv...)
	}
}
