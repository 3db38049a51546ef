package rigctl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrams/trxd/pkg/controller"
	"github.com/sgrams/trxd/pkg/frontend"
	"github.com/sgrams/trxd/pkg/rig"
	"github.com/sgrams/trxd/pkg/rig/dummy"
)

func testEnv(t *testing.T) (frontend.Env, context.CancelFunc) {
	t.Helper()
	ctrl := controller.New(controller.Config{
		RigID:         "test",
		InitialFreqHz: 14_250_000,
		InitialMode:   rig.ModeUSB,
		Polling:       controller.NoPolling{},
		PowerOnSettle: 10 * time.Millisecond,
	}, dummy.New())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()

	rx := ctrl.StateWatch().Subscribe()
	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
		state, err := rx.Changed(waitCtx)
		waitCancel()
		require.NoError(t, err)
		if state.Initialized {
			break
		}
	}

	return frontend.Env{
		RigID:      "test",
		StateWatch: ctrl.StateWatch(),
		Do:         ctrl.Do,
		Runtime:    &frontend.RuntimeContext{},
	}, cancel
}

func TestSetFreqThenGetFreq(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()
	ctx := context.Background()

	reply, closeConn := processCommand(ctx, "F 14250000", env)
	assert.False(t, closeConn)
	assert.Equal(t, "RPRT 0\n", reply)

	reply, _ = processCommand(ctx, "f", env)
	assert.Equal(t, "14250000\nRPRT 0\n", reply)
}

func TestGetMode(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()

	reply, _ := processCommand(context.Background(), "m", env)
	assert.Equal(t, "USB\n0\nRPRT 0\n", reply)
}

func TestSetModeAndPtt(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()
	ctx := context.Background()

	reply, _ := processCommand(ctx, "M CW 500", env)
	assert.Equal(t, "RPRT 0\n", reply)

	reply, _ = processCommand(ctx, "T 1", env)
	assert.Equal(t, "RPRT 0\n", reply)
	reply, _ = processCommand(ctx, "t", env)
	assert.Equal(t, "1\nRPRT 0\n", reply)
	reply, _ = processCommand(ctx, "T 0", env)
	assert.Equal(t, "RPRT 0\n", reply)
}

func TestInvalidFreqIsError(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()

	reply, _ := processCommand(context.Background(), "F bogus", env)
	assert.Equal(t, "RPRT -1\n", reply)
}

func TestOutOfBandFreqIsError(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()

	reply, _ := processCommand(context.Background(), "F 999", env)
	assert.Equal(t, "RPRT -1\n", reply)
}

func TestQuitClosesConnection(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()

	_, closeConn := processCommand(context.Background(), "q", env)
	assert.True(t, closeConn)
}

func TestDumpStateEndsWithDoneMarkers(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()

	reply, _ := processCommand(context.Background(), "\\dump_state", env)
	assert.Contains(t, reply, "0xffffffffffffffbf\n")
	assert.Contains(t, reply, "RPRT 0\n")
}

func TestDumpCapsReflectsRig(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()

	reply, _ := processCommand(context.Background(), "\\dump_caps", env)
	assert.Contains(t, reply, "model_name=Dummy\n")
	assert.Contains(t, reply, "mfg_name=trxd\n")
	assert.Contains(t, reply, "vfo_count=2\n")
	assert.Contains(t, reply, "can_ptt=1\n")
	assert.True(t, len(reply) > 0 && reply[len(reply)-5:] == "done\n")
}

func TestGetVfoAndSplit(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()
	ctx := context.Background()

	reply, _ := processCommand(ctx, "v", env)
	assert.Equal(t, "VFOA\nRPRT 0\n", reply)

	reply, _ = processCommand(ctx, "s", env)
	assert.Equal(t, "0\nVFOA\nRPRT 0\n", reply)

	reply, _ = processCommand(ctx, "S 0", env)
	assert.Equal(t, "RPRT 0\n", reply)
	reply, _ = processCommand(ctx, "S 1", env)
	assert.Equal(t, "RPRT -1\n", reply)
}

func TestSetVfoToggles(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()
	ctx := context.Background()

	reply, _ := processCommand(ctx, "V VFOB", env)
	assert.Equal(t, "RPRT 0\n", reply)
	reply, _ = processCommand(ctx, "v", env)
	assert.Equal(t, "VFOB\nRPRT 0\n", reply)
}

func TestPowerstat(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()

	reply, _ := processCommand(context.Background(), "\\get_powerstat", env)
	assert.Equal(t, "1\nRPRT 0\n", reply)
}

func TestUnsupportedCommand(t *testing.T) {
	env, cancel := testEnv(t)
	defer cancel()

	reply, _ := processCommand(context.Background(), "Z 1", env)
	assert.Equal(t, "RPRT -1\n", reply)
}
