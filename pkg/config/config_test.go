package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadTomlConfig(t *testing.T) {
	path := writeConfig(t, "trxd.toml", `
[general]
callsign = "N0CALL"
locator = "JO91"

[rig]
model = "ft817"
initial_freq_hz = 14074000
initial_mode = "DIG"

[rig.access]
type = "serial"
path = "/dev/ttyUSB0"
baud = 38400

[frontends.http]
enabled = true
listen_addr = "127.0.0.1:8080"

[frontends.rigctl]
enabled = true

[behavior]
poll_interval_ms = 250
max_retries = 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "N0CALL", cfg.General.Callsign)
	assert.Equal(t, "ft817", cfg.Rig.Model)
	assert.Equal(t, uint64(14_074_000), cfg.Rig.InitialFreqHz)
	assert.Equal(t, "serial", cfg.Rig.Access.Type)
	assert.Equal(t, 38400, cfg.Rig.Access.Baud)
	assert.True(t, cfg.Frontends.HTTP.Enabled)
	assert.Equal(t, 250, cfg.Behavior.PollIntervalMs)
	assert.Equal(t, 5, cfg.Behavior.MaxRetries)
	// Defaults fill the rest.
	assert.Equal(t, 100, cfg.Behavior.PollIntervalTxMs)
	assert.Equal(t, 48_000, cfg.Audio.SampleRate)
	assert.Equal(t, "0.0.0.0:4532", cfg.Server.ListenAddr)
}

func TestLoadYamlConfig(t *testing.T) {
	path := writeConfig(t, "trxd.yaml", `
general:
  callsign: N0CALL
rig:
  model: dummy
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "dummy", cfg.Rig.Model)
	assert.Equal(t, "N0CALL", cfg.General.Callsign)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/trxd.toml")
	assert.Error(t, err)
}

func TestValidateUnknownModel(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[rig]
model = "ft9999"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "unknown rig model")
}

func TestValidateSerialNeedsPath(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[rig]
model = "ft817"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "requires path")
}

func TestValidateBadAccessType(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[rig]
model = "dummy"
[rig.access]
type = "carrier_pigeon"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "serial or tcp")
}

func TestValidateSdrDeemphasis(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[rig]
model = "sdr"
[rig.sdr]
driver = "rtltcp"
wfm_deemphasis_us = 60
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "50 or 75")
}

func TestValidateFrameDuration(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[rig]
model = "dummy"
[audio]
frame_duration_ms = 25
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "frame_duration_ms")
}

func TestValidateUplinksNeedIdentity(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[rig]
model = "dummy"
[aprsis]
enabled = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "callsign")
}
