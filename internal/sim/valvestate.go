package sim

import (
	"fmt"

	u "pete/internal/utils"
)

type Position int

const (
	POSITION_CLOSED Position = iota + 1
	POSITION_OPEN
)

func (p Position) String() string {
	switch p {
	case POSITION_CLOSED:
		return "closed"
	case POSITION_OPEN:
		return "open"
	default:
		return "unknown"
	}
}

func (p Position) opposite() Position {
	if p == POSITION_OPEN {
		return POSITION_CLOSED
	}
	return POSITION_OPEN
}

func (p Position) valid() bool {
	return p == POSITION_OPEN || p == POSITION_CLOSED
}

// ValveState is the mechanical state of a two position valve: settled open,
// settled closed, or moving towards one of them. Feedback signals are only
// ever derived from a ValveState, so a valve can not report open and closed
// at once. The zero value means "not yet known".
type ValveState struct {
	pos    Position
	moving bool
}

func StateSettled(p Position) ValveState {
	u.Assertf(p.valid(), "[sim.StateSettled] invalid position %d", p)
	return ValveState{pos: p}
}

func StateMoving(target Position) ValveState {
	u.Assertf(target.valid(), "[sim.StateMoving] invalid target %d", target)
	return ValveState{pos: target, moving: true}
}

func (s ValveState) Known() bool  { return s.pos.valid() }
func (s ValveState) Moving() bool { return s.moving }

// Target is the settled position, or the end of travel while moving.
func (s ValveState) Target() Position { return s.pos }

func (s ValveState) Settled(p Position) bool {
	return !s.moving && s.pos == p
}

// Feedback returns the opened/closed signal values for the state. Both are
// false while the valve travels.
func (s ValveState) Feedback() (opened, closed bool) {
	if s.moving {
		return false, false
	}
	return s.pos == POSITION_OPEN, s.pos == POSITION_CLOSED
}

// Openness maps the state onto 0 (closed), 0.5 (moving) and 1 (open).
func (s ValveState) Openness() float64 {
	switch {
	case s.moving:
		return 0.5
	case s.pos == POSITION_OPEN:
		return 1
	default:
		return 0
	}
}

func (s ValveState) String() string {
	switch {
	case !s.Known():
		return "unknown"
	case s.moving:
		return fmt.Sprintf("moving(%s)", s.pos)
	default:
		return s.pos.String()
	}
}
