package progress

import (
	"context"
	"fmt"
	"time"
)

type countingSink struct {
	pages int
}

func (s *countingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StagePageDone {
			s.pages++
		}
	}
	return nil
}

func (s *countingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit emits a page event and flushes it via Close.
func ExampleHub_Emit() {
	sink := &countingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchWait: time.Second}, sink)

	hub.Emit(Event{
		RunID: "0190b5b2-0000-7000-8000-000000000001",
		TS:    time.Unix(0, 0),
		Stage: StagePageDone,
		URL:   "https://example.com/report",
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("pages seen: %d\n", sink.pages)
	// Output:
	// pages seen: 1
}

// ExampleBroadcaster_Subscribe follows one run until it finishes.
func ExampleBroadcaster_Subscribe() {
	b := NewBroadcaster(8, nil)
	events, cancel := b.Subscribe("run-1")
	defer cancel()

	b.Emit(Event{RunID: "run-1", TS: time.Unix(0, 0), Stage: StageRunStart})
	b.Emit(Event{RunID: "run-1", TS: time.Unix(1, 0), Stage: StageRunDone, Status: "completed"})

	for evt := range events {
		fmt.Println(evt.Stage)
	}
	// Output:
	// RUN_START
	// RUN_DONE
}
