package sim

import (
	"context"
	"strings"
	"sync"
	"time"

	"pete/internal/net/plc"
	u "pete/internal/utils"
)

type EnergizeType int

const (
	ENERGIZE_TO_OPEN EnergizeType = iota + 1
	ENERGIZE_TO_CLOSE
)

func (e EnergizeType) String() string {
	if e == ENERGIZE_TO_OPEN {
		return "energize_to_open"
	}
	return "energize_to_close"
}

// energizeTypeOf reads the valve's function from its energize signal name.
// Names without "open" energize to close.
func energizeTypeOf(name string) EnergizeType {
	if strings.Contains(name, MARKER_ENERGIZE_OPEN) {
		return ENERGIZE_TO_OPEN
	}
	return ENERGIZE_TO_CLOSE
}

type feedback struct {
	opened bool
	closed bool
}

func (f feedback) at(p Position) bool {
	if p == POSITION_OPEN {
		return f.opened
	}
	return f.closed
}

// SolenoidValve simulates a two position valve driven by one energize
// signal. A change of command clears the old end switch, waits for the
// travel time and then sets the new one. Travel is never interrupted: a
// command reversed mid-travel is acted on by the tick after it lands.
type SolenoidValve struct {
	env          *Env
	energize     plc.NodeRef
	opened       plc.NodeRef
	closed       plc.NodeRef
	tag          string
	energizeType EnergizeType

	mu    sync.RWMutex
	state ValveState
}

func NewSolenoidValve(env *Env, energize, opened, closed plc.NodeRef) *SolenoidValve {
	u.AssertAll("[sim.NewSolenoidValve]",
		u.Assertion{Message: "energize node is unset", Condition: energize.ID != ""},
		u.Assertion{Message: "opened node is unset", Condition: opened.ID != ""},
		u.Assertion{Message: "closed node is unset", Condition: closed.ID != ""},
	)

	return &SolenoidValve{
		env:          env,
		energize:     energize,
		opened:       opened,
		closed:       closed,
		tag:          deviceTag(energize.Name()),
		energizeType: energizeTypeOf(energize.Name()),
	}
}

func (v *SolenoidValve) Step(ctx context.Context) error {
	energized, err := v.readBool(ctx, v.energize)
	if err != nil {
		return err
	}
	opened, err := v.readBool(ctx, v.opened)
	if err != nil {
		return err
	}
	closed, err := v.readBool(ctx, v.closed)
	if err != nil {
		return err
	}

	observed := feedback{opened: opened, closed: closed}
	want := v.commanded(energized)

	// Already there. apply only writes if something else set both switches.
	if observed.at(want) {
		return v.apply(ctx, observed, StateSettled(want))
	}

	moving := StateMoving(want)
	if err := v.apply(ctx, observed, moving); err != nil {
		return err
	}

	if err := sleep(ctx, v.env.Config.TravelTime); err != nil {
		return err
	}

	opened, closed = moving.Feedback()
	return v.apply(ctx, feedback{opened: opened, closed: closed}, StateSettled(want))
}

// commanded is the end position for the current energize signal.
func (v *SolenoidValve) commanded(energized bool) Position {
	active := POSITION_OPEN
	if v.energizeType == ENERGIZE_TO_CLOSE {
		active = POSITION_CLOSED
	}

	if energized {
		return active
	}
	return active.opposite()
}

// apply writes the feedback signals that differ between current and next,
// clearing before setting, and records next as the valve state.
func (v *SolenoidValve) apply(ctx context.Context, current feedback, next ValveState) error {
	opened, closed := next.Feedback()
	writes := []struct {
		node      plc.NodeRef
		from, set bool
	}{
		{v.opened, current.opened, opened},
		{v.closed, current.closed, closed},
	}

	for _, pass := range []bool{false, true} {
		for _, w := range writes {
			if w.set != pass || w.from == w.set {
				continue
			}
			if err := v.env.Store.SetValue(ctx, w.node, w.set); err != nil {
				return err
			}
		}
	}

	v.mu.Lock()
	prev := v.state
	v.state = next
	v.mu.Unlock()

	if prev != next {
		v.env.report(Event{Type: EVENT_VALVE_STATE, Kind: v.Kind(), Tag: v.tag, Value: next})
	}
	return nil
}

func (v *SolenoidValve) readBool(ctx context.Context, node plc.NodeRef) (bool, error) {
	value, err := v.env.Store.Value(ctx, node)
	if err != nil {
		return false, err
	}

	b, err := plc.AsBool(value)
	if err != nil {
		return false, &plc.NodeError{Op: "read", Node: node.String(), Kind: plc.ErrRead, Err: err}
	}
	return b, nil
}

// State is the last state the model drove the valve to.
func (v *SolenoidValve) State() ValveState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

func (v *SolenoidValve) EnergizeType() EnergizeType { return v.energizeType }
func (v *SolenoidValve) Tag() string                { return v.tag }
func (v *SolenoidValve) Kind() Kind                 { return KIND_SOLENOID_VALVE }
func (v *SolenoidValve) Period() time.Duration      { return v.env.Config.ValvePollPeriod }
