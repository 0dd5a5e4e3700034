package codondb

import "sync"

// ProgressStage identifies the current phase of initialization.
type ProgressStage uint8

// Progress stages, in the order a session passes through them.
const (
	// StagePending indicates initialization has not started.
	StagePending ProgressStage = iota

	// StageLookup indicates the persistent store is being checked.
	StageLookup

	// StageDownloading indicates the snapshot is being fetched.
	StageDownloading

	// StageBuilding indicates the query engine is being built.
	StageBuilding

	// StageReady indicates the session is ready for queries.
	StageReady

	// StageFailed indicates initialization failed.
	StageFailed
)

// String returns the lowercase stage name.
func (s ProgressStage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageLookup:
		return "lookup"
	case StageDownloading:
		return "downloading"
	case StageBuilding:
		return "building"
	case StageReady:
		return "ready"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressEvent represents a progress update during initialization.
type ProgressEvent struct {
	// Stage identifies the current phase.
	Stage ProgressStage

	// Fraction is the share of the snapshot that is available, in [0, 1].
	// It never decreases over the life of a session.
	Fraction float64
}

// broadcaster fans progress events out to subscribers. Each subscriber
// has a one-slot channel that always holds the most recent undelivered
// event, so a slow reader skips intermediate values but never sees them
// out of order and always receives the final one.
type broadcaster struct {
	mu     sync.Mutex
	last   ProgressEvent
	subs   map[chan ProgressEvent]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan ProgressEvent]struct{})}
}

func (b *broadcaster) current() ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *broadcaster) publish(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(ev)
}

func (b *broadcaster) publishLocked(ev ProgressEvent) {
	if b.closed {
		return
	}
	ev.Fraction = min(max(ev.Fraction, b.last.Fraction), 1)
	b.last = ev
	for ch := range b.subs {
		offer(ch, ev)
	}
}

// finish publishes ev and closes every subscription.
func (b *broadcaster) finish(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(ev)
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

func (b *broadcaster) subscribe() (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan ProgressEvent, 1)
	ch <- b.last
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// offer replaces any pending event in ch with ev. Only the broadcaster
// sends, under its lock, so the final send cannot block.
func offer(ch chan ProgressEvent, ev ProgressEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- ev
}
