package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	u "pete/internal/utils"
)

// Scheduler runs one control loop per device until its context ends.
// Loops share nothing but the store; a failing or panicking tick is logged
// and retried and never reaches the other loops.
type Scheduler struct {
	env     *Env
	devices []Device
}

func NewScheduler(env *Env, devices []Device) *Scheduler {
	u.Assert(env != nil, "[sim.NewScheduler] nil env")
	return &Scheduler{env: env, devices: devices}
}

// Run blocks until ctx is cancelled and every loop has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.env.logger().Info("starting device loops", "devices", len(s.devices))

	var g errgroup.Group
	for _, dev := range s.devices {
		g.Go(func() error {
			s.loop(ctx, dev)
			return nil
		})
	}

	err := g.Wait()
	s.env.logger().Info("device loops stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, dev Device) {
	log := s.env.logger().With("tag", dev.Tag(), "kind", dev.Kind().String())
	log.Debug("device loop started")
	defer log.Debug("device loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay := dev.Period()
		if err := s.tick(ctx, dev, log); err != nil && delay < RETRY_DELAY {
			delay = RETRY_DELAY
		}

		if delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, dev Device, log *slog.Logger) (err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in tick: %v", r)
			log.Error("device tick panicked", "panic", r)
		}
		if ctx.Err() != nil {
			// shutting down, the tick was cut short
			return
		}
		s.env.report(Event{
			Type:     EVENT_TICK,
			Kind:     dev.Kind(),
			Tag:      dev.Tag(),
			Err:      err,
			Duration: time.Since(start),
		})
	}()

	if err = dev.Step(ctx); err != nil && ctx.Err() == nil {
		log.Warn("device tick failed", "error", err)
	}
	return err
}
