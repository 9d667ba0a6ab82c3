package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pete/internal/net/plc"
)

func newControlValveNodes(store *plc.MemoryStore) (command, position plc.NodeRef) {
	command = store.Add("Objects/PLC/Outputs/hwo_CV-001", ua.TypeIDFloat, float32(0))
	position = store.Add("Objects/PLC/Inputs/hwi_CV-001", ua.TypeIDFloat, float32(0))
	return command, position
}

func TestControlValveMirrorsCommand(t *testing.T) {
	ctx := context.Background()
	store := plc.NewMemoryStore()
	command, position := newControlValveNodes(store)
	cv := NewControlValve(testEnv(store), command, position)

	assert.Equal(t, "CV-001", cv.Tag())
	assert.Equal(t, time.Duration(0), cv.Period())

	// out of range commands are copied too, no clamping
	for _, cmd := range []float32{0, 50, 37.5, 120, -5, 100} {
		require.NoError(t, store.SetValue(ctx, command, cmd))
		require.NoError(t, cv.Step(ctx))

		got, err := store.Value(ctx, position)
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}
}

func TestControlValveCopiesNull(t *testing.T) {
	ctx := context.Background()
	store := plc.NewMemoryStore()
	command, position := newControlValveNodes(store)
	cv := NewControlValve(testEnv(store), command, position)

	require.NoError(t, store.SetValue(ctx, command, nil))
	require.NoError(t, cv.Step(ctx))

	got, err := store.Value(ctx, position)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestControlValveReportsOnlyChanges(t *testing.T) {
	ctx := context.Background()
	store := plc.NewMemoryStore()
	command, position := newControlValveNodes(store)

	env := testEnv(store)
	events := &eventLog{}
	env.Observer = events
	cv := NewControlValve(env, command, position)

	for range 5 {
		require.NoError(t, cv.Step(ctx))
	}
	require.NoError(t, store.SetValue(ctx, command, 40))
	for range 5 {
		require.NoError(t, cv.Step(ctx))
	}

	follows := events.ofType(EVENT_FOLLOW)
	require.Len(t, follows, 2)
	assert.Equal(t, float32(0), follows[0].Value)
	assert.Equal(t, float32(40), follows[1].Value)
}

func TestControlValveReadFailureLeavesFeedback(t *testing.T) {
	ctx := context.Background()
	store := plc.NewMemoryStore()
	command, position := newControlValveNodes(store)
	cv := NewControlValve(testEnv(store), command, position)

	require.NoError(t, store.SetValue(ctx, position, 12))
	store.Fail(command, errors.New("unreachable"))

	assert.ErrorIs(t, cv.Step(ctx), plc.ErrRead)
	got, err := store.Value(ctx, position)
	require.NoError(t, err)
	assert.Equal(t, float32(12), got)
}

func TestControlValveRateLimit(t *testing.T) {
	ctx := context.Background()
	store := plc.NewMemoryStore()
	command, position := newControlValveNodes(store)

	env := testEnv(store)
	env.Config.ControlValveRate = 20
	cv := NewControlValve(env, command, position)

	start := time.Now()
	for range 3 {
		require.NoError(t, cv.Step(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
