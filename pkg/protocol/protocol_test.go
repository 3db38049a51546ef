package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/sgrams/trxd/pkg/rig"
)

func TestParseEnvelopeFullEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"token":"abc123","cmd":"get_state"}`))
	require.NoError(t, err)
	require.NotNil(t, env.Token)
	assert.Equal(t, "abc123", *env.Token)
	assert.Equal(t, CmdGetState, env.Cmd)
	assert.Nil(t, env.RigID)
}

func TestParseEnvelopeBareCommand(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"cmd":"get_state"}`))
	require.NoError(t, err)
	assert.Nil(t, env.Token)
	assert.Equal(t, CmdGetState, env.Cmd)
}

func TestParseEnvelopeWithParams(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"cmd":"set_freq","freq_hz":14100000}`))
	require.NoError(t, err)
	require.NotNil(t, env.FreqHz)
	assert.Equal(t, uint64(14100000), *env.FreqHz)
}

func TestParseEnvelopeRigID(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"token":"t","rig_id":"sdr0","cmd":"set_mode","mode":"WFM"}`))
	require.NoError(t, err)
	require.NotNil(t, env.RigID)
	assert.Equal(t, "sdr0", *env.RigID)
	require.NotNil(t, env.Mode)
	assert.Equal(t, "WFM", *env.Mode)
}

func TestParseEnvelopeInvalidJSON(t *testing.T) {
	_, err := ParseEnvelope([]byte("not valid json"))
	assert.Error(t, err)
}

func TestParseEnvelopeUnknownCommand(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"cmd":"warp_drive"}`))
	assert.Error(t, err)
}

func TestParseEnvelopeMissingArg(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"cmd":"set_freq"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "freq_hz")
}

func TestParseEnvelopeOversize(t *testing.T) {
	big := `{"cmd":"set_mode","mode":"` + strings.Repeat("A", MaxLineBytes) + `"}`
	_, err := ParseEnvelope([]byte(big))
	assert.Error(t, err)
}

func TestEnvelopeEncodeRoundTrip(t *testing.T) {
	token := "Bearer secret"
	hz := uint64(7074000)
	in := Envelope{
		Token:         &token,
		ClientCommand: ClientCommand{Cmd: CmdSetFreq, FreqHz: &hz},
	}
	data, err := in.Encode()
	require.NoError(t, err)
	out, err := ParseEnvelope(data[:len(data)-1])
	require.NoError(t, err)
	assert.Equal(t, in.Cmd, out.Cmd)
	assert.Equal(t, *in.FreqHz, *out.FreqHz)
	assert.Equal(t, *in.Token, *out.Token)
}

func TestStripBearer(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer xyz789", "xyz789"},
		{"BeArEr test123", "test123"},
		{"abc123", "abc123"},
		{"  Bearer token  ", "token"},
		{"", ""},
		{"bearer ", "bearer"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StripBearer(c.in), "input %q", c.in)
	}
}

func TestTokenValidatorEmptySetAcceptsAll(t *testing.T) {
	v := NewTokenValidator(nil)
	assert.NoError(t, v.Validate(nil))
	any := "anytoken"
	assert.NoError(t, v.Validate(&any))
	assert.True(t, v.Empty())
}

func TestTokenValidatorMembership(t *testing.T) {
	v := NewTokenValidator([]string{"token123"})

	ok := "token123"
	assert.NoError(t, v.Validate(&ok))

	bearer := "Bearer token123"
	assert.NoError(t, v.Validate(&bearer))

	bad := "wrongtoken"
	assert.ErrorIs(t, v.Validate(&bad), ErrInvalidToken)

	assert.ErrorIs(t, v.Validate(nil), ErrMissingToken)
}

func TestNoAuthValidator(t *testing.T) {
	v := NoAuthValidator{}
	assert.NoError(t, v.Validate(nil))
	tok := "Bearer secret123"
	assert.NoError(t, v.Validate(&tok))
}

func TestMappingRoundTripAllCommands(t *testing.T) {
	hz := uint64(14074000)
	mode := "DIG"
	ptt := true
	limit := uint8(50)
	enabled := true
	wpm := uint32(25)
	tone := uint32(800)

	cmds := []ClientCommand{
		{Cmd: CmdGetState},
		{Cmd: CmdSetFreq, FreqHz: &hz},
		{Cmd: CmdSetMode, Mode: &mode},
		{Cmd: CmdSetPtt, Ptt: &ptt},
		{Cmd: CmdPowerOn},
		{Cmd: CmdPowerOff},
		{Cmd: CmdToggleVfo},
		{Cmd: CmdLock},
		{Cmd: CmdUnlock},
		{Cmd: CmdGetTxLimit},
		{Cmd: CmdSetTxLimit, Limit: &limit},
		{Cmd: CmdSetAprsDecodeEnabled, Enabled: &enabled},
		{Cmd: CmdSetCwDecodeEnabled, Enabled: &enabled},
		{Cmd: CmdSetCwAuto, Enabled: &enabled},
		{Cmd: CmdSetCwWpm, Wpm: &wpm},
		{Cmd: CmdSetCwToneHz, ToneHz: &tone},
		{Cmd: CmdSetFt8DecodeEnabled, Enabled: &enabled},
		{Cmd: CmdSetWsprDecodeEnabled, Enabled: &enabled},
		{Cmd: CmdResetAprsDecoder},
		{Cmd: CmdResetCwDecoder},
		{Cmd: CmdResetFt8Decoder},
		{Cmd: CmdResetWsprDecoder},
	}

	for _, c := range cmds {
		c := c
		rc, err := ClientToRig(&c)
		require.NoError(t, err, c.Cmd)
		back := RigToClient(rc)
		assert.Equal(t, c, back, "round trip failed for %s", c.Cmd)
	}
}

func TestMappingModeOtherRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[A-Z0-9]{1,8}`).Draw(t, "mode")
		cmd := ClientCommand{Cmd: CmdSetMode, Mode: &s}
		rc, err := ClientToRig(&cmd)
		require.NoError(t, err)
		back := RigToClient(rc)
		require.NotNil(t, back.Mode)
		assert.Equal(t, rig.ParseMode(s).String(), *back.Mode)
	})
}

func TestResponseEncodeParse(t *testing.T) {
	resp := Fail("request queue timeout")
	data, err := resp.Encode()
	require.NoError(t, err)
	parsed, err := ParseResponse(data)
	require.NoError(t, err)
	assert.False(t, parsed.Success)
	require.NotNil(t, parsed.Error)
	assert.Equal(t, "request queue timeout", *parsed.Error)
}
