package sim

import "time"

const (
	ANALOG_PERIOD       = 200 * time.Millisecond
	ANALOG_DEFAULT_LOW  = 13000
	ANALOG_DEFAULT_HIGH = 14000

	VALVE_POLL_PERIOD = 200 * time.Millisecond
	VALVE_TRAVEL_TIME = 700 * time.Millisecond

	// Minimum pause after a failed tick, so a loop without a period does
	// not spin against an unreachable node.
	RETRY_DELAY = 200 * time.Millisecond

	MARKER_SOLENOID      = "YSV"
	MARKER_CONTROL_VALVE = "CV-"
	MARKER_ENERGIZE_OPEN = "open"

	PREFIX_HW_INPUT  = "hwi_"
	PREFIX_HW_OUTPUT = "hwo_"
	SUFFIX_OPENED    = "_opened"
	SUFFIX_CLOSED    = "_closed"

	NAME_SEPARATOR = "_"
)

// Instrument type markers of analog transmitters (temperature, pressure,
// radiation, flow).
var ANALOG_MARKERS = []string{"_TT-", "_PT-", "_RT-", "_FT"}
