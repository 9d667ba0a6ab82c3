package sim

import (
	"context"
	"math/rand/v2"
	"time"

	"pete/internal/net/plc"
	u "pete/internal/utils"
)

// AnalogTransmitter writes a uniformly random integer in [low, high] to its
// signal every tick. It keeps no state between ticks.
type AnalogTransmitter struct {
	env  *Env
	node plc.NodeRef
	tag  string
	low  int
	high int
	rng  *rand.Rand
}

func NewAnalogTransmitter(env *Env, node plc.NodeRef, low, high int) *AnalogTransmitter {
	u.Assertf(low <= high, "[sim.NewAnalogTransmitter] range [%d, %d] is empty", low, high)

	return &AnalogTransmitter{
		env:  env,
		node: node,
		tag:  deviceTag(node.Name()),
		low:  low,
		high: high,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Seed makes the sample sequence reproducible.
func (a *AnalogTransmitter) Seed(seed1, seed2 uint64) {
	a.rng = rand.New(rand.NewPCG(seed1, seed2))
}

// Sample draws the next value. Not safe for concurrent use.
func (a *AnalogTransmitter) Sample() int {
	return a.low + a.rng.IntN(a.high-a.low+1)
}

func (a *AnalogTransmitter) Step(ctx context.Context) error {
	value := a.Sample()
	if err := a.env.Store.SetValue(ctx, a.node, value); err != nil {
		return err
	}

	a.env.report(Event{Type: EVENT_SAMPLE, Kind: a.Kind(), Tag: a.tag, Value: value})
	return nil
}

func (a *AnalogTransmitter) Tag() string           { return a.tag }
func (a *AnalogTransmitter) Kind() Kind            { return KIND_ANALOG_TRANSMITTER }
func (a *AnalogTransmitter) Period() time.Duration { return a.env.Config.AnalogPeriod }
func (a *AnalogTransmitter) Node() plc.NodeRef     { return a.node }
