// Package config loads and validates the daemon configuration. TOML is
// the primary format; .yaml/.yml files load through the legacy parser
// for older deployments.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// Config is the daemon configuration.
type Config struct {
	General struct {
		Callsign  string   `toml:"callsign" yaml:"callsign"`
		Locator   string   `toml:"locator" yaml:"locator"`
		Latitude  *float64 `toml:"latitude" yaml:"latitude"`
		Longitude *float64 `toml:"longitude" yaml:"longitude"`
	} `toml:"general" yaml:"general"`

	Rig struct {
		// Model selects the backend: dummy, ft817, ft450d, sdr.
		Model         string `toml:"model" yaml:"model"`
		RigID         string `toml:"rig_id" yaml:"rig_id"`
		DisplayName   string `toml:"display_name" yaml:"display_name"`
		InitialFreqHz uint64 `toml:"initial_freq_hz" yaml:"initial_freq_hz"`
		InitialMode   string `toml:"initial_mode" yaml:"initial_mode"`

		Access struct {
			// Type is "serial" or "tcp".
			Type string `toml:"type" yaml:"type"`
			Path string `toml:"path" yaml:"path"`
			Baud int    `toml:"baud" yaml:"baud"`
			Addr string `toml:"addr" yaml:"addr"`
		} `toml:"access" yaml:"access"`

		Sdr struct {
			// Driver is "rtltcp" or "file".
			Driver          string `toml:"driver" yaml:"driver"`
			Addr            string `toml:"addr" yaml:"addr"`
			IqFile          string `toml:"iq_file" yaml:"iq_file"`
			SampleRate      uint32 `toml:"sample_rate" yaml:"sample_rate"`
			CenterOffsetHz  int64  `toml:"center_offset_hz" yaml:"center_offset_hz"`
			GainTenthsDb    int    `toml:"gain_tenths_db" yaml:"gain_tenths_db"`
			BandwidthHz     uint32 `toml:"bandwidth_hz" yaml:"bandwidth_hz"`
			FirTaps         int    `toml:"fir_taps" yaml:"fir_taps"`
			WfmDeemphasisUs uint32 `toml:"wfm_deemphasis_us" yaml:"wfm_deemphasis_us"`
			WfmStereo       bool   `toml:"wfm_stereo" yaml:"wfm_stereo"`
		} `toml:"sdr" yaml:"sdr"`
	} `toml:"rig" yaml:"rig"`

	Server struct {
		ListenAddr string   `toml:"listen_addr" yaml:"listen_addr"`
		AudioAddr  string   `toml:"audio_addr" yaml:"audio_addr"`
		AuthTokens []string `toml:"auth_tokens" yaml:"auth_tokens"`
	} `toml:"server" yaml:"server"`

	Frontends struct {
		HTTP struct {
			Enabled       bool     `toml:"enabled" yaml:"enabled"`
			ListenAddr    string   `toml:"listen_addr" yaml:"listen_addr"`
			Tokens        []string `toml:"tokens" yaml:"tokens"`
			ControlTokens []string `toml:"control_tokens" yaml:"control_tokens"`
		} `toml:"http" yaml:"http"`

		Rigctl struct {
			Enabled    bool   `toml:"enabled" yaml:"enabled"`
			ListenAddr string `toml:"listen_addr" yaml:"listen_addr"`
		} `toml:"rigctl" yaml:"rigctl"`

		HTTPJson struct {
			Enabled bool `toml:"enabled" yaml:"enabled"`
		} `toml:"http_json" yaml:"http_json"`
	} `toml:"frontends" yaml:"frontends"`

	Behavior struct {
		PollIntervalMs   int `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
		PollIntervalTxMs int `toml:"poll_interval_tx_ms" yaml:"poll_interval_tx_ms"`
		MaxRetries       int `toml:"max_retries" yaml:"max_retries"`
		RetryBaseDelayMs int `toml:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	} `toml:"behavior" yaml:"behavior"`

	Audio struct {
		SampleRate      int  `toml:"sample_rate" yaml:"sample_rate"`
		Channels        int  `toml:"channels" yaml:"channels"`
		FrameDurationMs int  `toml:"frame_duration_ms" yaml:"frame_duration_ms"`
		CaptureDevice   bool `toml:"capture_device" yaml:"capture_device"`
		PlaybackDevice  bool `toml:"playback_device" yaml:"playback_device"`
	} `toml:"audio" yaml:"audio"`

	Storage struct {
		DatabasePath string `toml:"database_path" yaml:"database_path"`
		MaxMessages  int    `toml:"max_messages" yaml:"max_messages"`
	} `toml:"storage" yaml:"storage"`

	AprsIs struct {
		Enabled bool   `toml:"enabled" yaml:"enabled"`
		Server  string `toml:"server" yaml:"server"`
		Filter  string `toml:"filter" yaml:"filter"`
	} `toml:"aprsis" yaml:"aprsis"`

	PskReporter struct {
		Enabled bool   `toml:"enabled" yaml:"enabled"`
		Server  string `toml:"server" yaml:"server"`
		Antenna string `toml:"antenna" yaml:"antenna"`
	} `toml:"pskreporter" yaml:"pskreporter"`

	Logging struct {
		Level      string `toml:"level" yaml:"level"`
		File       string `toml:"file" yaml:"file"`
		MaxSize    int    `toml:"max_size" yaml:"max_size"`
		MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
		MaxAge     int    `toml:"max_age" yaml:"max_age"`
		Compress   bool   `toml:"compress" yaml:"compress"`
		Console    bool   `toml:"console" yaml:"console"`
		Structured bool   `toml:"structured" yaml:"structured"`
	} `toml:"logging" yaml:"logging"`
}

// Load reads a configuration file, dispatching on extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Rig.Model == "" {
		c.Rig.Model = "dummy"
	}
	if c.Rig.RigID == "" {
		c.Rig.RigID = "default"
	}
	if c.Rig.InitialFreqHz == 0 {
		c.Rig.InitialFreqHz = 144_300_000
	}
	if c.Rig.InitialMode == "" {
		c.Rig.InitialMode = "USB"
	}
	if c.Rig.Access.Type == "" {
		c.Rig.Access.Type = "serial"
	}
	if c.Rig.Access.Baud == 0 {
		c.Rig.Access.Baud = 9600
	}
	if c.Rig.Sdr.Driver == "" {
		c.Rig.Sdr.Driver = "rtltcp"
	}
	if c.Rig.Sdr.Addr == "" {
		c.Rig.Sdr.Addr = "127.0.0.1:1234"
	}
	if c.Rig.Sdr.SampleRate == 0 {
		c.Rig.Sdr.SampleRate = 1_024_000
	}
	if c.Rig.Sdr.WfmDeemphasisUs == 0 {
		c.Rig.Sdr.WfmDeemphasisUs = 50
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0:4532"
	}
	if c.Server.AudioAddr == "" {
		c.Server.AudioAddr = "0.0.0.0:4533"
	}
	if c.Frontends.HTTP.ListenAddr == "" {
		c.Frontends.HTTP.ListenAddr = "0.0.0.0:8080"
	}
	if c.Frontends.Rigctl.ListenAddr == "" {
		c.Frontends.Rigctl.ListenAddr = "0.0.0.0:4534"
	}
	if c.Behavior.PollIntervalMs == 0 {
		c.Behavior.PollIntervalMs = 500
	}
	if c.Behavior.PollIntervalTxMs == 0 {
		c.Behavior.PollIntervalTxMs = 100
	}
	if c.Behavior.MaxRetries == 0 {
		c.Behavior.MaxRetries = 3
	}
	if c.Behavior.RetryBaseDelayMs == 0 {
		c.Behavior.RetryBaseDelayMs = 100
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 48_000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.FrameDurationMs == 0 {
		c.Audio.FrameDurationMs = 20
	}
	if c.Storage.MaxMessages == 0 {
		c.Storage.MaxMessages = 10_000
	}
	if c.AprsIs.Server == "" {
		c.AprsIs.Server = "rotate.aprs2.net:14580"
	}
	if c.PskReporter.Server == "" {
		c.PskReporter.Server = "report.pskreporter.info:4739"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// knownModels are the backends the daemon can construct.
var knownModels = map[string]bool{
	"dummy": true, "ft817": true, "ft450d": true, "sdr": true,
}

var validFrameDurations = map[int]bool{3: true, 5: true, 10: true, 20: true, 40: true, 60: true}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if !knownModels[c.Rig.Model] {
		return fmt.Errorf("unknown rig model %q", c.Rig.Model)
	}
	switch c.Rig.Access.Type {
	case "serial":
		if c.Rig.Model != "dummy" && c.Rig.Model != "sdr" && c.Rig.Access.Path == "" {
			return fmt.Errorf("[rig.access] type serial requires path")
		}
	case "tcp":
		if c.Rig.Model != "dummy" && c.Rig.Model != "sdr" && c.Rig.Access.Addr == "" {
			return fmt.Errorf("[rig.access] type tcp requires addr")
		}
	default:
		return fmt.Errorf("[rig.access] type must be serial or tcp, got %q", c.Rig.Access.Type)
	}
	if c.Rig.Model == "sdr" {
		switch c.Rig.Sdr.Driver {
		case "rtltcp":
		case "file":
			if c.Rig.Sdr.IqFile == "" {
				return fmt.Errorf("[rig.sdr] driver file requires iq_file")
			}
		default:
			return fmt.Errorf("[rig.sdr] unknown driver %q", c.Rig.Sdr.Driver)
		}
		if c.Rig.Sdr.WfmDeemphasisUs != 50 && c.Rig.Sdr.WfmDeemphasisUs != 75 {
			return fmt.Errorf("[rig.sdr] wfm_deemphasis_us must be 50 or 75")
		}
	}
	if !validFrameDurations[c.Audio.FrameDurationMs] {
		return fmt.Errorf("[audio] frame_duration_ms must be one of 3, 5, 10, 20, 40, 60")
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("[audio] channels must be 1 or 2")
	}
	if c.AprsIs.Enabled && c.General.Callsign == "" {
		return fmt.Errorf("[aprsis] requires a callsign in [general]")
	}
	if c.PskReporter.Enabled && (c.General.Callsign == "" || c.General.Locator == "") {
		return fmt.Errorf("[pskreporter] requires callsign and locator in [general]")
	}
	return nil
}
