package eventbus

import "sync"

// Recorder is a simple in-memory Sink used by tests and by main.go's
// demo wiring. It is not a durable store — see internal/redisstream for
// the one optional durable adapter this module ships (persistent
// run-history storage itself remains out of scope per spec §1).
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
