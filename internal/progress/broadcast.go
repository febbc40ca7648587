package progress

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 64

// Broadcaster delivers events to live subscribers of a run. Delivery never
// blocks the emitter: a subscriber whose buffer is full misses the event.
// Subscriptions of a run are closed when its RUN_DONE event is emitted.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	buffer  int
	logger  *zap.Logger
	dropped atomic.Int64
}

type subscriber struct {
	ch     chan Event
	closed bool
}

var _ Emitter = (*Broadcaster)(nil)

// NewBroadcaster creates a Broadcaster with per-subscriber buffers of the
// given size.
func NewBroadcaster(buffer int, logger *zap.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers for runID's events. The returned cancel func removes
// the subscription and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(runID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	set, ok := b.subs[runID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[runID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(runID, sub)
	}
}

// Emit delivers evt to the run's subscribers.
func (b *Broadcaster) Emit(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[evt.RunID] {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber buffer full; event dropped",
				zap.String("run_id", evt.RunID), zap.String("stage", string(evt.Stage)))
		}
		if evt.Terminal() {
			b.remove(evt.RunID, sub)
		}
	}
}

// Subscribers returns the number of live subscriptions for runID.
func (b *Broadcaster) Subscribers(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// remove must be called with b.mu held.
func (b *Broadcaster) remove(runID string, sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	set := b.subs[runID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, runID)
	}
}
