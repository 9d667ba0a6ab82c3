package sim

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"pete/internal/net/plc"
)

// ControlValve copies the commanded openness into the position feedback
// every tick, unchanged. Out of range or null commands are copied as well.
type ControlValve struct {
	env      *Env
	command  plc.NodeRef
	feedback plc.NodeRef
	tag      string
	limiter  *rate.Limiter

	last    any
	hasLast bool
}

func NewControlValve(env *Env, command, feedback plc.NodeRef) *ControlValve {
	limit := rate.Inf
	if env.Config.ControlValveRate > 0 {
		limit = rate.Limit(env.Config.ControlValveRate)
	}

	return &ControlValve{
		env:      env,
		command:  command,
		feedback: feedback,
		tag:      deviceTag(feedback.Name()),
		limiter:  rate.NewLimiter(limit, 1),
	}
}

func (c *ControlValve) Step(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	value, err := c.env.Store.Value(ctx, c.command)
	if err != nil {
		return err
	}

	if err := c.env.Store.SetValue(ctx, c.feedback, value); err != nil {
		return err
	}

	// the loop runs unpaced, only report changes
	if !c.hasLast || !plc.Equal(c.last, value) {
		c.last, c.hasLast = value, true
		c.env.report(Event{Type: EVENT_FOLLOW, Kind: c.Kind(), Tag: c.tag, Value: value})
	}
	return nil
}

func (c *ControlValve) Tag() string           { return c.tag }
func (c *ControlValve) Kind() Kind            { return KIND_CONTROL_VALVE }
func (c *ControlValve) Period() time.Duration { return 0 }
