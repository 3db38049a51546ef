package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrams/trxd/pkg/controller"
	"github.com/sgrams/trxd/pkg/protocol"
	"github.com/sgrams/trxd/pkg/rig"
	"github.com/sgrams/trxd/pkg/rig/dummy"
)

// startTestDaemon brings up a controller on a dummy backend plus a
// control listener on an ephemeral port.
func startTestDaemon(t *testing.T, tokens []string) (addr string, cancel context.CancelFunc) {
	t.Helper()

	ctrl := controller.New(controller.Config{
		RigID:         "default",
		InitialFreqHz: 144_300_000,
		InitialMode:   rig.ModeUSB,
		Polling:       controller.NoPolling{},
		PowerOnSettle: 10 * time.Millisecond,
	}, dummy.New())

	ctx, cancelCtx := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()

	// Wait for initialization.
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

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = ln.Addr().String()
	ln.Close()

	listener := NewListener(addr, protocol.NewTokenValidator(tokens))
	listener.Register("default", &RigHandle{Controller: ctrl, AudioPort: 4533})
	go func() { _ = listener.Run(ctx) }()

	// Wait for the listener to come up.
	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return addr, cancelCtx
}

func sendLine(t *testing.T, conn net.Conn, rd *bufio.Scanner, line string) *protocol.ClientResponse {
	t.Helper()
	_, err := fmt.Fprintf(conn, "%s\n", line)
	require.NoError(t, err)
	require.True(t, rd.Scan(), "expected a response line")
	resp, err := protocol.ParseResponse(rd.Bytes())
	require.NoError(t, err)
	return resp
}

func TestListenerGetState(t *testing.T) {
	addr, cancel := startTestDaemon(t, nil)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	rd := bufio.NewScanner(conn)

	resp := sendLine(t, conn, rd, `{"cmd":"get_state"}`)
	require.True(t, resp.Success)
	require.NotNil(t, resp.State)
	assert.Equal(t, uint64(144_300_000), resp.State.Status.Freq.Hz)
	assert.Equal(t, rig.ModeUSB, resp.State.Status.Mode)
	assert.False(t, resp.State.Status.TxEn)
	assert.True(t, resp.State.Initialized)
	require.NotNil(t, resp.RigID)
	assert.Equal(t, "default", *resp.RigID)
}

func TestListenerSetFreqRoundTrip(t *testing.T) {
	addr, cancel := startTestDaemon(t, nil)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	rd := bufio.NewScanner(conn)

	resp := sendLine(t, conn, rd, `{"cmd":"set_freq","freq_hz":14074000}`)
	require.True(t, resp.Success, "error: %v", resp.Error)
	require.NotNil(t, resp.State)
	assert.Equal(t, uint64(14_074_000), resp.State.Status.Freq.Hz)

	resp = sendLine(t, conn, rd, `{"cmd":"get_state"}`)
	require.True(t, resp.Success)
	assert.Equal(t, uint64(14_074_000), resp.State.Status.Freq.Hz)
}

func TestListenerGetRigs(t *testing.T) {
	addr, cancel := startTestDaemon(t, nil)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	rd := bufio.NewScanner(conn)

	resp := sendLine(t, conn, rd, `{"cmd":"get_rigs"}`)
	require.True(t, resp.Success)
	require.Len(t, resp.Rigs, 1)
	assert.Equal(t, "default", resp.Rigs[0].RigID)
	require.NotNil(t, resp.Rigs[0].AudioPort)
	assert.Equal(t, 4533, *resp.Rigs[0].AudioPort)
}

func TestListenerAuth(t *testing.T) {
	addr, cancel := startTestDaemon(t, []string{"secret"})
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	rd := bufio.NewScanner(conn)

	resp := sendLine(t, conn, rd, `{"cmd":"get_state"}`)
	require.False(t, resp.Success)
	assert.Equal(t, "missing authorization token", *resp.Error)

	resp = sendLine(t, conn, rd, `{"token":"wrong","cmd":"get_state"}`)
	require.False(t, resp.Success)
	assert.Equal(t, "invalid authorization token", *resp.Error)

	resp = sendLine(t, conn, rd, `{"token":"Bearer secret","cmd":"get_state"}`)
	assert.True(t, resp.Success)

	// Connection stayed open through the failures.
	resp = sendLine(t, conn, rd, `{"token":"secret","cmd":"get_state"}`)
	assert.True(t, resp.Success)
}

func TestListenerMalformedLineKeepsConnection(t *testing.T) {
	addr, cancel := startTestDaemon(t, nil)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	rd := bufio.NewScanner(conn)

	resp := sendLine(t, conn, rd, `{not json`)
	require.False(t, resp.Success)

	resp = sendLine(t, conn, rd, `{"cmd":"get_state"}`)
	assert.True(t, resp.Success)
}

func TestListenerUnknownRig(t *testing.T) {
	addr, cancel := startTestDaemon(t, nil)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	rd := bufio.NewScanner(conn)

	resp := sendLine(t, conn, rd, `{"rig_id":"nope","cmd":"get_state"}`)
	require.False(t, resp.Success)
	assert.Contains(t, *resp.Error, "unknown rig")
}

func TestListenerDecoderToggleViaProtocol(t *testing.T) {
	addr, cancel := startTestDaemon(t, nil)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	rd := bufio.NewScanner(conn)

	resp := sendLine(t, conn, rd, `{"cmd":"set_aprs_decode_enabled","enabled":true}`)
	require.True(t, resp.Success)
	assert.True(t, resp.State.Decoders.AprsEnabled)

	resp = sendLine(t, conn, rd, `{"cmd":"reset_aprs_decoder"}`)
	require.True(t, resp.Success)
	assert.Equal(t, uint64(1), resp.State.Decoders.AprsResetSeq)
}
