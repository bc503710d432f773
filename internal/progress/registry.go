package progress

import "sync"

// Sink consumes encoded progress lines for one job. A sink is owned by
// exactly one background task which issues sends sequentially; concurrent
// sends to one job's sink are not supported.
type Sink func(line string)

// Notifier publishes events for one job.
type Notifier interface {
	Publish(Event)
}

// Registry tracks the open sink per job id. Registration and unregistration
// are the only mutations and are independent per key, so a single mutex over
// the map suffices.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

// Register associates a sink with a job id, replacing any previous sink.
func (r *Registry) Register(jobID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[jobID] = sink
}

// Unregister releases the sink for a job id.
func (r *Registry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, jobID)
}

// Send encodes the event and delivers it to the job's sink. Sending to an
// unknown or already-unregistered job id is a silent no-op: the subscriber
// may have disconnected, and that must not fail the export. Delivery is
// at-most-once with no buffering or replay; a client that connects after a
// message was sent has missed it permanently.
func (r *Registry) Send(jobID string, event Event) {
	r.mu.RLock()
	sink, ok := r.sinks[jobID]
	r.mu.RUnlock()

	if !ok {
		return
	}
	sink(event.Encode())
}

// Notifier returns a Notifier bound to one job id.
func (r *Registry) Notifier(jobID string) Notifier {
	return &jobNotifier{registry: r, jobID: jobID}
}

type jobNotifier struct {
	registry *Registry
	jobID    string
}

func (n *jobNotifier) Publish(event Event) {
	n.registry.Send(n.jobID, event)
}

// Discard is a Notifier that drops all events. Used by the synchronous
// summary variant where no subscriber is listening.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Publish(Event) {}
