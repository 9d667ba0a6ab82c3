package sim

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"pete/internal/net/plc"
)

type Subtree int

const (
	SUBTREE_INPUTS Subtree = iota + 1
	SUBTREE_OUTPUTS
)

func (s Subtree) String() string {
	if s == SUBTREE_INPUTS {
		return "inputs"
	}
	return "outputs"
}

// Match is a node a rule accepted, with what its builder needs to find the
// companion signals.
type Match struct {
	Node    plc.NodeRef
	Tag     string
	Inputs  plc.NodeRef
	Outputs plc.NodeRef
}

// Rule maps a signal name pattern in one subtree to a device constructor.
type Rule struct {
	Name    string
	Kind    Kind
	Subtree Subtree
	Matches func(name string) bool
	Build   func(ctx context.Context, env *Env, m Match) (Device, error)
}

// Rules is an ordered classification table; the first matching rule wins.
type Rules []Rule

func DefaultRules(cfg Config) Rules {
	return Rules{
		{
			Name:    "analog",
			Kind:    KIND_ANALOG_TRANSMITTER,
			Subtree: SUBTREE_INPUTS,
			Matches: containsAny(cfg.AnalogMarkers...),
			Build:   buildAnalog,
		},
		{
			Name:    "solenoid",
			Kind:    KIND_SOLENOID_VALVE,
			Subtree: SUBTREE_OUTPUTS,
			Matches: containsAny(cfg.SolenoidMarker),
			Build:   buildSolenoid,
		},
		{
			Name:    "control_valve",
			Kind:    KIND_CONTROL_VALVE,
			Subtree: SUBTREE_OUTPUTS,
			Matches: containsAny(cfg.ControlValveMarker),
			Build:   buildControlValve,
		},
	}
}

func (r Rules) Classify(subtree Subtree, name string) (Rule, bool) {
	for _, rule := range r {
		if rule.Subtree == subtree && rule.Matches(name) {
			return rule, true
		}
	}
	return Rule{}, false
}

func containsAny(markers ...string) func(string) bool {
	return func(name string) bool {
		for _, m := range markers {
			if m != "" && strings.Contains(name, m) {
				return true
			}
		}
		return false
	}
}

func buildAnalog(ctx context.Context, env *Env, m Match) (Device, error) {
	return NewAnalogTransmitter(env, m.Node, env.Config.AnalogLow, env.Config.AnalogHigh), nil
}

func buildSolenoid(ctx context.Context, env *Env, m Match) (Device, error) {
	opened, err := env.Store.Child(ctx, m.Inputs, PREFIX_HW_INPUT+m.Tag+SUFFIX_OPENED)
	if err != nil {
		return nil, errors.Wrap(err, "opened feedback")
	}

	closed, err := env.Store.Child(ctx, m.Inputs, PREFIX_HW_INPUT+m.Tag+SUFFIX_CLOSED)
	if err != nil {
		return nil, errors.Wrap(err, "closed feedback")
	}

	return NewSolenoidValve(env, m.Node, opened, closed), nil
}

func buildControlValve(ctx context.Context, env *Env, m Match) (Device, error) {
	command, err := env.Store.Child(ctx, m.Outputs, PREFIX_HW_OUTPUT+m.Tag)
	if err != nil {
		return nil, errors.Wrap(err, "openness command")
	}

	position, err := env.Store.Child(ctx, m.Inputs, PREFIX_HW_INPUT+m.Tag)
	if err != nil {
		return nil, errors.Wrap(err, "openness feedback")
	}

	return NewControlValve(env, command, position), nil
}
