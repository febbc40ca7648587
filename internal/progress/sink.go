package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines and tolerate repeated calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events without blocking the caller.
type Emitter interface {
	Emit(evt Event)
}

// Emitters fans one event out to several emitters.
type Emitters []Emitter

// Emit forwards evt to every non-nil emitter in order.
func (m Emitters) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
