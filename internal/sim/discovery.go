package sim

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"pete/internal/net/plc"
)

// Skipped is a matched signal for which no device could be built.
type Skipped struct {
	Node   string
	Tag    string
	Rule   string
	Kind   Kind
	Reason error
}

type Inventory struct {
	Devices []Device
	Skipped []Skipped
}

// Tags returns the sorted, distinct tags of the discovered devices.
func (inv *Inventory) Tags() []string {
	set := make(map[string]struct{}, len(inv.Devices))
	for _, d := range inv.Devices {
		set[d.Tag()] = struct{}{}
	}

	tags := maps.Keys(set)
	slices.Sort(tags)
	return tags
}

func (inv *Inventory) Count(kind Kind) int {
	n := 0
	for _, d := range inv.Devices {
		if d.Kind() == kind {
			n++
		}
	}
	return n
}

// Discovery walks the controller's inputs and outputs once and builds a
// device for every signal the rules recognise. A device whose companion
// signals are missing is skipped; only failing to reach the subtrees
// themselves fails the whole pass.
type Discovery struct {
	env   *Env
	rules Rules
}

func NewDiscovery(env *Env, rules Rules) *Discovery {
	return &Discovery{env: env, rules: rules}
}

func (d *Discovery) Run(ctx context.Context) (*Inventory, error) {
	inputs, outputs, err := d.locate(ctx)
	if err != nil {
		return nil, err
	}

	inv := &Inventory{}
	if err := d.scanInputs(ctx, inv, inputs, outputs); err != nil {
		return nil, err
	}
	if err := d.scanOutputs(ctx, inv, inputs, outputs); err != nil {
		return nil, err
	}

	d.env.logger().Info("discovery finished",
		"analog_transmitters", inv.Count(KIND_ANALOG_TRANSMITTER),
		"solenoid_valves", inv.Count(KIND_SOLENOID_VALVE),
		"control_valves", inv.Count(KIND_CONTROL_VALVE),
		"skipped", len(inv.Skipped),
	)
	return inv, nil
}

// locate resolves Objects -> controller -> Inputs / Outputs.
func (d *Discovery) locate(ctx context.Context) (inputs, outputs plc.NodeRef, err error) {
	store := d.env.Store
	cfg := d.env.Config

	root, err := store.Root(ctx)
	if err != nil {
		return inputs, outputs, errors.Wrap(err, "[sim.Discovery] root")
	}

	objects, err := store.Child(ctx, root, plc.PATH_OBJECTS)
	if err != nil {
		return inputs, outputs, errors.Wrap(err, "[sim.Discovery] objects folder")
	}

	var controller plc.NodeRef
	if cfg.PLCName != "" {
		controller, err = store.Child(ctx, objects, cfg.PLCName)
		if err != nil {
			return inputs, outputs, errors.Wrapf(err, "[sim.Discovery] controller %q", cfg.PLCName)
		}
	} else {
		children, err := store.Children(ctx, objects)
		if err != nil {
			return inputs, outputs, errors.Wrap(err, "[sim.Discovery] listing objects")
		}
		if len(children) == 0 {
			return inputs, outputs, errors.Wrap(plc.ErrNotFound, "[sim.Discovery] no controller below objects")
		}
		// the controller is the last object, after the server's own nodes
		controller = children[len(children)-1]
	}

	if inputs, err = store.Child(ctx, controller, cfg.InputsPath); err != nil {
		return inputs, outputs, errors.Wrap(err, "[sim.Discovery] inputs")
	}
	if outputs, err = store.Child(ctx, controller, cfg.OutputsPath); err != nil {
		return inputs, outputs, errors.Wrap(err, "[sim.Discovery] outputs")
	}
	return inputs, outputs, nil
}

func (d *Discovery) scanInputs(ctx context.Context, inv *Inventory, inputs, outputs plc.NodeRef) error {
	nodes, err := d.env.Store.Children(ctx, inputs)
	if err != nil {
		return errors.Wrap(err, "[sim.Discovery] listing inputs")
	}

	seen := make(map[string]bool)
	for _, node := range nodes {
		name := node.Name()
		rule, ok := d.rules.Classify(SUBTREE_INPUTS, name)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true

		d.build(ctx, inv, rule, Match{Node: node, Tag: deviceTag(name), Inputs: inputs, Outputs: outputs})
	}
	return nil
}

func (d *Discovery) scanOutputs(ctx context.Context, inv *Inventory, inputs, outputs plc.NodeRef) error {
	nodes, err := d.env.Store.Children(ctx, outputs)
	if err != nil {
		return errors.Wrap(err, "[sim.Discovery] listing outputs")
	}

	seen := make(map[string]bool)
	for _, node := range nodes {
		name := node.Name()
		tag, ok := tagFromName(name)
		if !ok || seen[tag] {
			continue
		}

		rule, ok := d.rules.Classify(SUBTREE_OUTPUTS, name)
		if !ok {
			continue
		}
		seen[tag] = true

		d.build(ctx, inv, rule, Match{Node: node, Tag: tag, Inputs: inputs, Outputs: outputs})
	}
	return nil
}

func (d *Discovery) build(ctx context.Context, inv *Inventory, rule Rule, m Match) {
	device, err := rule.Build(ctx, d.env, m)
	if err != nil {
		inv.Skipped = append(inv.Skipped, Skipped{
			Node:   m.Node.Name(),
			Tag:    m.Tag,
			Rule:   rule.Name,
			Kind:   rule.Kind,
			Reason: err,
		})
		d.env.logger().Warn("device skipped",
			"node", m.Node.Name(),
			"tag", m.Tag,
			"kind", rule.Kind.String(),
			"error", err,
		)
		return
	}

	d.env.logger().Debug("device discovered", "node", m.Node.Name(), "tag", device.Tag(), "kind", device.Kind().String())
	inv.Devices = append(inv.Devices, device)
}
