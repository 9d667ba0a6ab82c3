package sim

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"pete/internal/net/plc"
)

const testTravel = 60 * time.Millisecond

func testEnv(store plc.NodeStore) *Env {
	cfg := DefaultConfig()
	cfg.AnalogPeriod = 5 * time.Millisecond
	cfg.ValvePollPeriod = 5 * time.Millisecond
	cfg.TravelTime = testTravel

	return &Env{
		Store:  store,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// eventLog collects observed events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
