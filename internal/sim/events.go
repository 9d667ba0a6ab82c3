package sim

import "time"

type EventType int

const (
	EVENT_TICK        EventType = iota + 1 // a Step finished, Err set on failure
	EVENT_SAMPLE                           // analog transmitter wrote Value
	EVENT_FOLLOW                           // control valve feedback changed to Value
	EVENT_VALVE_STATE                      // solenoid valve moved to Value (a ValveState)
)

func (t EventType) String() string {
	switch t {
	case EVENT_TICK:
		return "tick"
	case EVENT_SAMPLE:
		return "sample"
	case EVENT_FOLLOW:
		return "follow"
	case EVENT_VALVE_STATE:
		return "valve_state"
	default:
		return "unknown"
	}
}

type Event struct {
	Type     EventType
	Kind     Kind
	Tag      string
	Value    any
	Err      error
	Duration time.Duration
	Time     time.Time
}

// Observer receives events from device loops. Observe is called from the
// loop goroutines and must not block.
type Observer interface {
	Observe(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

// Observers fans an event out to each of its members.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		obs.Observe(ev)
	}
}
