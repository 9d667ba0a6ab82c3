package sim

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"pete/internal/net/plc"
)

type Kind int

const (
	KIND_ANALOG_TRANSMITTER Kind = iota + 1
	KIND_CONTROL_VALVE
	KIND_SOLENOID_VALVE
)

func (k Kind) String() string {
	switch k {
	case KIND_ANALOG_TRANSMITTER:
		return "analog_transmitter"
	case KIND_CONTROL_VALVE:
		return "control_valve"
	case KIND_SOLENOID_VALVE:
		return "solenoid_valve"
	default:
		return "unknown"
	}
}

// Device is one simulated field device bound to its controller signals.
type Device interface {
	Tag() string
	Kind() Kind

	// Step runs one tick of the device's control loop.
	Step(ctx context.Context) error

	// Period is the pause between two ticks. Zero means run again at once.
	Period() time.Duration
}

// Config holds the knobs of discovery and of the simulated devices.
type Config struct {
	PLCName     string // child of Objects holding the controller; empty picks the last one
	InputsPath  string
	OutputsPath string

	AnalogMarkers []string
	AnalogPeriod  time.Duration
	AnalogLow     int
	AnalogHigh    int

	SolenoidMarker  string
	ValvePollPeriod time.Duration
	TravelTime      time.Duration

	ControlValveMarker string
	ControlValveRate   float64 // ticks per second, 0 for no limit
}

func DefaultConfig() Config {
	return Config{
		InputsPath:  plc.PATH_INPUTS,
		OutputsPath: plc.PATH_OUTPUTS,

		AnalogMarkers: ANALOG_MARKERS,
		AnalogPeriod:  ANALOG_PERIOD,
		AnalogLow:     ANALOG_DEFAULT_LOW,
		AnalogHigh:    ANALOG_DEFAULT_HIGH,

		SolenoidMarker:  MARKER_SOLENOID,
		ValvePollPeriod: VALVE_POLL_PERIOD,
		TravelTime:      VALVE_TRAVEL_TIME,

		ControlValveMarker: MARKER_CONTROL_VALVE,
	}
}

// Env is shared by discovery and every device loop. Store must be safe for
// concurrent use; Observer and Logger are optional.
type Env struct {
	Store    plc.NodeStore
	Config   Config
	Observer Observer
	Logger   *slog.Logger
}

func (e *Env) report(ev Event) {
	if e.Observer == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.Observer.Observe(ev)
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// tagFromName extracts the P&ID tag, the second underscore separated
// segment of a signal name: "DEV_TT-001_Value" -> "TT-001".
func tagFromName(name string) (string, bool) {
	parts := strings.Split(name, NAME_SEPARATOR)
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// deviceTag falls back to the whole name for signals without a tag segment.
func deviceTag(name string) string {
	if tag, ok := tagFromName(name); ok {
		return tag
	}
	return name
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
