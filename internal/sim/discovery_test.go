package sim

import (
	"context"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pete/internal/net/plc"
)

// newPlant lays out a server namespace the way the controller exposes it:
// the server's own folder first, then the controller with its signals.
func newPlant() *plc.MemoryStore {
	store := plc.NewMemoryStore()
	store.AddFolder("0:Objects/0:Server")

	in := "0:Objects/PLC/3:Inputs/"
	store.Add(in+"hwi_TT-001", ua.TypeIDInt16, int16(0))
	store.Add(in+"hwi_PT-002", ua.TypeIDInt16, int16(0))
	store.Add(in+"hwi_FT-003", ua.TypeIDInt16, int16(0))
	store.Add(in+"hwi_YSV-001_opened", ua.TypeIDBoolean, false)
	store.Add(in+"hwi_YSV-001_closed", ua.TypeIDBoolean, true)
	store.Add(in+"hwi_CV-001", ua.TypeIDFloat, float32(0))
	store.Add(in+"hwi_LSH-001", ua.TypeIDBoolean, false)

	out := "0:Objects/PLC/3:Outputs/"
	store.Add(out+"DEV_YSV-001_open", ua.TypeIDBoolean, false)
	store.Add(out+"DEV_YSV-001_spare", ua.TypeIDBoolean, false)
	store.Add(out+"hwo_CV-001", ua.TypeIDFloat, float32(0))
	store.Add(out+"DEV_P-001_run", ua.TypeIDBoolean, false)
	store.Add(out+"RESET", ua.TypeIDBoolean, false)
	return store
}

func TestDiscoveryFindsDevices(t *testing.T) {
	env := testEnv(newPlant())

	inv, err := NewDiscovery(env, DefaultRules(env.Config)).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, inv.Skipped)
	assert.Equal(t, []string{"CV-001", "FT-003", "PT-002", "TT-001", "YSV-001"}, inv.Tags())
	assert.Equal(t, 3, inv.Count(KIND_ANALOG_TRANSMITTER))
	assert.Equal(t, 1, inv.Count(KIND_SOLENOID_VALVE))
	assert.Equal(t, 1, inv.Count(KIND_CONTROL_VALVE))

	for _, d := range inv.Devices {
		switch dev := d.(type) {
		case *SolenoidValve:
			assert.Equal(t, "YSV-001", dev.Tag())
			assert.Equal(t, ENERGIZE_TO_OPEN, dev.EnergizeType())
		case *ControlValve:
			assert.Equal(t, "CV-001", dev.Tag())
		case *AnalogTransmitter:
			assert.Equal(t, "Inputs", dev.Node().Path[len(dev.Node().Path)-2])
		default:
			t.Fatalf("unexpected device %T", d)
		}
	}
}

func TestDiscoveryIsRepeatable(t *testing.T) {
	env := testEnv(newPlant())
	discovery := NewDiscovery(env, DefaultRules(env.Config))

	first, err := discovery.Run(context.Background())
	require.NoError(t, err)
	second, err := discovery.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Tags(), second.Tags())
	assert.Len(t, second.Devices, len(first.Devices))
}

func TestDiscoverySkipsIncompleteDevice(t *testing.T) {
	store := plc.NewMemoryStore()
	store.AddFolder("Objects/Server")
	store.Add("Objects/PLC/Inputs/hwi_YSV-001_opened", ua.TypeIDBoolean, false)
	store.Add("Objects/PLC/Inputs/hwi_YSV-001_closed", ua.TypeIDBoolean, true)
	store.Add("Objects/PLC/Inputs/hwi_YSV-009_opened", ua.TypeIDBoolean, false)
	store.Add("Objects/PLC/Outputs/DEV_YSV-009_open", ua.TypeIDBoolean, false)
	store.Add("Objects/PLC/Outputs/DEV_YSV-001_open", ua.TypeIDBoolean, false)
	store.Add("Objects/PLC/Outputs/hwo_CV-002", ua.TypeIDFloat, float32(0))

	env := testEnv(store)
	inv, err := NewDiscovery(env, DefaultRules(env.Config)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"YSV-001"}, inv.Tags())
	require.Len(t, inv.Skipped, 2)

	assert.Equal(t, "YSV-009", inv.Skipped[0].Tag)
	assert.Equal(t, KIND_SOLENOID_VALVE, inv.Skipped[0].Kind)
	assert.ErrorIs(t, inv.Skipped[0].Reason, plc.ErrNotFound)
	assert.Contains(t, inv.Skipped[0].Reason.Error(), "closed feedback")

	assert.Equal(t, "CV-002", inv.Skipped[1].Tag)
	assert.Equal(t, "control_valve", inv.Skipped[1].Rule)
	assert.ErrorIs(t, inv.Skipped[1].Reason, plc.ErrNotFound)
}

func TestDiscoveryControllerSelection(t *testing.T) {
	store := newPlant()
	store.AddFolder("Objects/Diagnostics")
	env := testEnv(store)

	// the last object is picked by default
	_, err := NewDiscovery(env, DefaultRules(env.Config)).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, plc.ErrNotFound)
	assert.Contains(t, err.Error(), "[sim.Discovery] inputs")

	env.Config.PLCName = "PLC"
	inv, err := NewDiscovery(env, DefaultRules(env.Config)).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, inv.Devices, 5)

	env.Config.PLCName = "Missing"
	_, err = NewDiscovery(env, DefaultRules(env.Config)).Run(context.Background())
	assert.ErrorIs(t, err, plc.ErrNotFound)
}

func TestDiscoveryMissingOutputs(t *testing.T) {
	store := plc.NewMemoryStore()
	store.Add("Objects/PLC/Inputs/hwi_TT-001", ua.TypeIDInt16, int16(0))
	env := testEnv(store)

	_, err := NewDiscovery(env, DefaultRules(env.Config)).Run(context.Background())
	assert.ErrorIs(t, err, plc.ErrNotFound)
	assert.Contains(t, err.Error(), "[sim.Discovery] outputs")
}

func TestDiscoveryEmptyObjects(t *testing.T) {
	store := plc.NewMemoryStore()
	store.AddFolder("Objects")
	env := testEnv(store)

	_, err := NewDiscovery(env, DefaultRules(env.Config)).Run(context.Background())
	assert.ErrorIs(t, err, plc.ErrNotFound)
}

func TestSimulatedSolenoidOpensOnCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("runs with the real travel time")
	}

	store := plc.NewMemoryStore()
	store.AddFolder("Objects/Server")
	opened := store.Add("Objects/PLC/Inputs/hwi_YSV-001_opened", ua.TypeIDBoolean, false)
	closed := store.Add("Objects/PLC/Inputs/hwi_YSV-001_closed", ua.TypeIDBoolean, true)
	energize := store.Add("Objects/PLC/Outputs/DEV_YSV-001_open", ua.TypeIDBoolean, false)

	env := testEnv(store)
	env.Config.TravelTime = VALVE_TRAVEL_TIME

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv, err := NewDiscovery(env, DefaultRules(env.Config)).Run(ctx)
	require.NoError(t, err)
	require.Len(t, inv.Devices, 1)
	valve, ok := inv.Devices[0].(*SolenoidValve)
	require.True(t, ok)
	assert.Equal(t, ENERGIZE_TO_OPEN, valve.EnergizeType())

	done := make(chan error, 1)
	go func() { done <- NewScheduler(env, inv.Devices).Run(ctx) }()

	require.Eventually(t, func() bool { return valve.State().Settled(POSITION_CLOSED) }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, store.SetValue(ctx, energize, true))

	ok, err = plc.WaitForValue(ctx, store, opened, true, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok, "valve never reported open")
	assert.GreaterOrEqual(t, time.Since(start), VALVE_TRAVEL_TIME)

	value, err := store.Value(ctx, closed)
	require.NoError(t, err)
	assert.Equal(t, false, value)

	cancel()
	assert.NoError(t, <-done)
}

func TestDiscoveryIgnoresOutputsWithoutTag(t *testing.T) {
	store := plc.NewMemoryStore()
	store.AddFolder("Objects/Server")
	store.AddFolder("Objects/PLC/Inputs")
	store.Add("Objects/PLC/Outputs/DEV__open", ua.TypeIDBoolean, false)
	store.Add("Objects/PLC/Outputs/hwo_", ua.TypeIDFloat, float32(0))
	store.Add("Objects/PLC/Outputs/DEV", ua.TypeIDBoolean, false)

	env := testEnv(store)
	inv, err := NewDiscovery(env, DefaultRules(env.Config)).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, inv.Devices)
	assert.Empty(t, inv.Skipped)
}
