package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sgrams/trxd/pkg/audio"
	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/config"
	"github.com/sgrams/trxd/pkg/controller"
	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/frontend"
	"github.com/sgrams/trxd/pkg/frontend/httpfe"
	"github.com/sgrams/trxd/pkg/frontend/rigctl"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/protocol"
	"github.com/sgrams/trxd/pkg/rig"
	"github.com/sgrams/trxd/pkg/rig/dummy"
	"github.com/sgrams/trxd/pkg/rig/ft450d"
	"github.com/sgrams/trxd/pkg/rig/ft817"
	"github.com/sgrams/trxd/pkg/rig/sdr"
	"github.com/sgrams/trxd/pkg/server"
	"github.com/sgrams/trxd/pkg/storage"
	"github.com/sgrams/trxd/pkg/uplink"
)

// Daemon wires the backend, controller, listeners, frontends, decoder
// tasks and uplinks together.
type Daemon struct {
	cfg    *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	backend rig.Backend
	ctrl    *controller.Controller
	store   *storage.MessageStore
	history *server.AprsHistory

	pcm     *broadcast.Channel[[]float32]
	decoded *broadcast.Channel[decode.Message]
	txOut   chan []float32

	listener    *server.Listener
	audioServer *server.AudioServer
	registry    *frontend.Registry
}

// NewDaemon builds all components without starting any goroutines.
func NewDaemon(cfg *config.Config) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		decoded: broadcast.New[decode.Message](64),
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	d.backend = backend

	if cfg.Storage.DatabasePath != "" {
		store, err := storage.NewMessageStore(cfg.Storage.DatabasePath, cfg.Storage.MaxMessages)
		if err != nil {
			cancel()
			return nil, err
		}
		d.store = store
	}
	if d.store != nil {
		d.history = server.NewAprsHistory(d.store)
	} else {
		d.history = server.NewAprsHistory(nil)
	}

	d.ctrl = controller.New(controller.Config{
		RigID:       cfg.Rig.RigID,
		DisplayName: cfg.Rig.DisplayName,
		Polling: controller.AdaptivePolling{
			IdleInterval:   time.Duration(cfg.Behavior.PollIntervalMs) * time.Millisecond,
			ActiveInterval: time.Duration(cfg.Behavior.PollIntervalTxMs) * time.Millisecond,
		},
		Retry: controller.ExponentialBackoff{
			Attempts:  cfg.Behavior.MaxRetries,
			BaseDelay: time.Duration(cfg.Behavior.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:  2 * time.Second,
		},
		InitialFreqHz:    cfg.Rig.InitialFreqHz,
		InitialMode:      rig.ParseMode(cfg.Rig.InitialMode),
		Callsign:         cfg.General.Callsign,
		Version:          Version,
		Latitude:         cfg.General.Latitude,
		Longitude:        cfg.General.Longitude,
		ClearAprsHistory: d.history.Clear,
	}, backend)

	// Audio: an SDR backend brings its own demodulated PCM; anything
	// else goes through the capture device.
	if src := rig.AsAudioSource(backend); src != nil {
		d.pcm = nil // subscribe directly from the backend
	} else if cfg.Audio.CaptureDevice {
		d.pcm = broadcast.New[[]float32](32)
	}
	if cfg.Audio.PlaybackDevice {
		d.txOut = make(chan []float32, 16)
	}

	streamInfo := d.streamInfo()
	d.audioServer = server.NewAudioServer(cfg.Server.AudioAddr, streamInfo,
		d.subscribePCM, d.decoded, d.history, d.txOut)

	d.listener = server.NewListener(cfg.Server.ListenAddr,
		protocol.NewTokenValidator(cfg.Server.AuthTokens))
	audioPort := parsePort(cfg.Server.AudioAddr)
	d.listener.Register(cfg.Rig.RigID, &server.RigHandle{
		Controller: d.ctrl,
		AudioPort:  audioPort,
	})

	d.registry = frontend.NewRegistry()
	d.registry.Register("http", httpfe.Serve)
	d.registry.Register("rigctl", rigctl.Serve)

	return d, nil
}

// streamInfo derives the audio format announced to clients.
func (d *Daemon) streamInfo() server.StreamInfo {
	info := server.StreamInfo{
		SampleRate:      d.cfg.Audio.SampleRate,
		Channels:        d.cfg.Audio.Channels,
		FrameDurationMs: d.cfg.Audio.FrameDurationMs,
	}
	if src, okSrc := d.backend.(*sdr.Backend); okSrc {
		info.SampleRate = src.PCMSampleRate()
		info.Channels = src.PCMChannels()
		info.FrameDurationMs = src.FrameDurationMs()
	}
	return info
}

// subscribePCM taps whichever PCM source the daemon has. Returns nil
// receivers when there is none.
func (d *Daemon) subscribePCM() *broadcast.Receiver[[]float32] {
	if src := rig.AsAudioSource(d.backend); src != nil {
		return src.SubscribePCM()
	}
	if d.pcm != nil {
		return d.pcm.Subscribe()
	}
	return nil
}

func buildBackend(cfg *config.Config) (rig.Backend, error) {
	switch cfg.Rig.Model {
	case "dummy":
		return dummy.New(), nil
	case "ft817":
		if cfg.Rig.Access.Type == "tcp" {
			return ft817.NewTCP(cfg.Rig.Access.Addr)
		}
		return ft817.New(cfg.Rig.Access.Path, cfg.Rig.Access.Baud)
	case "ft450d":
		if cfg.Rig.Access.Type == "tcp" {
			return ft450d.NewTCP(cfg.Rig.Access.Addr)
		}
		return ft450d.New(cfg.Rig.Access.Path, cfg.Rig.Access.Baud)
	case "sdr":
		var source sdr.IQSource
		var err error
		switch cfg.Rig.Sdr.Driver {
		case "file":
			source, err = sdr.NewFileSource(cfg.Rig.Sdr.IqFile)
		default:
			hardwareCenter := int64(cfg.Rig.InitialFreqHz) - cfg.Rig.Sdr.CenterOffsetHz
			source, err = sdr.DialRtlTcp(cfg.Rig.Sdr.Addr, cfg.Rig.Sdr.SampleRate,
				uint64(hardwareCenter), cfg.Rig.Sdr.GainTenthsDb)
		}
		if err != nil {
			return nil, err
		}
		return sdr.New(sdr.Config{
			SampleRate:      cfg.Rig.Sdr.SampleRate,
			CenterOffsetHz:  cfg.Rig.Sdr.CenterOffsetHz,
			InitialFreqHz:   cfg.Rig.InitialFreqHz,
			InitialMode:     rig.ParseMode(cfg.Rig.InitialMode),
			AudioSampleRate: uint32(cfg.Audio.SampleRate),
			OutputChannels:  cfg.Audio.Channels,
			FrameDurationMs: cfg.Audio.FrameDurationMs,
			BandwidthHz:     cfg.Rig.Sdr.BandwidthHz,
			FirTaps:         cfg.Rig.Sdr.FirTaps,
			WfmDeemphasisUs: cfg.Rig.Sdr.WfmDeemphasisUs,
			WfmStereo:       cfg.Rig.Sdr.WfmStereo,
		}, source), nil
	default:
		return nil, fmt.Errorf("unknown rig model %q", cfg.Rig.Model)
	}
}

func parsePort(addr string) int {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return 0
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return 0
	}
	return port
}

// Start launches every component.
func (d *Daemon) Start() error {
	d.spawn("controller", func() error { return d.ctrl.Run(d.ctx) })
	d.spawn("listener", func() error { return d.listener.Run(d.ctx) })
	d.spawn("audio-server", func() error { return d.audioServer.Run(d.ctx) })

	// Device halves for non-SDR rigs.
	if d.pcm != nil {
		d.spawn("capture", func() error {
			return audio.RunCapture(d.ctx, audio.CaptureConfig{
				SampleRate:      d.cfg.Audio.SampleRate,
				Channels:        d.cfg.Audio.Channels,
				FrameDurationMs: d.cfg.Audio.FrameDurationMs,
			}, d.pcm)
		})
	}
	if d.txOut != nil {
		d.spawn("playback", func() error {
			return audio.RunPlayback(d.ctx, audio.PlaybackConfig{
				SampleRate:      d.cfg.Audio.SampleRate,
				Channels:        d.cfg.Audio.Channels,
				FrameDurationMs: d.cfg.Audio.FrameDurationMs,
			}, d.txOut)
		})
	}

	// Decoder tasks run off the critical path.
	info := d.streamInfo()
	runner := server.NewDecoderRunner(d.ctrl.StateWatch(), d.subscribePCM,
		uint32(info.SampleRate), info.Channels, d.decoded, d.history)
	d.spawn("decoders", func() error { return runner.Run(d.ctx) })

	// Frontends.
	env := d.frontendEnv()
	if d.cfg.Frontends.HTTP.Enabled {
		httpEnv := env
		httpEnv.ListenAddr = d.cfg.Frontends.HTTP.ListenAddr
		d.spawnFrontend("http", httpEnv)
	}
	if d.cfg.Frontends.Rigctl.Enabled {
		rigctlEnv := env
		rigctlEnv.ListenAddr = d.cfg.Frontends.Rigctl.ListenAddr
		d.spawnFrontend("rigctl", rigctlEnv)
	}

	// Uplinks consume the decoded stream.
	if d.cfg.AprsIs.Enabled {
		up := uplink.NewAprsIsUplink(uplink.AprsIsConfig{
			Server:   d.cfg.AprsIs.Server,
			Callsign: d.cfg.General.Callsign,
			Filter:   d.cfg.AprsIs.Filter,
		}, d.decoded)
		d.spawn("aprsis", func() error { return up.Run(d.ctx) })
	}
	if d.cfg.PskReporter.Enabled {
		up := uplink.NewPskReporterUplink(uplink.PskReporterConfig{
			Server:   d.cfg.PskReporter.Server,
			Callsign: d.cfg.General.Callsign,
			Locator:  d.cfg.General.Locator,
			Antenna:  d.cfg.PskReporter.Antenna,
			DialFreqHz: func() uint64 {
				return d.ctrl.StateWatch().Get().Status.Freq.Hz
			},
		}, d.decoded)
		d.spawn("pskreporter", func() error { return up.Run(d.ctx) })
	}

	return nil
}

func (d *Daemon) frontendEnv() frontend.Env {
	runtime := &frontend.RuntimeContext{
		HTTPTokens:    d.cfg.Frontends.HTTP.Tokens,
		ControlTokens: d.cfg.Frontends.HTTP.ControlTokens,
		Decoded:       d.decoded,
		SubscribePCM:  d.subscribePCM,
		AudioFormat: frontend.AudioFormat{
			SampleRate:      d.streamInfo().SampleRate,
			Channels:        d.streamInfo().Channels,
			FrameDurationMs: d.streamInfo().FrameDurationMs,
		},
	}
	if ss := rig.AsSpectrumSource(d.backend); ss != nil {
		runtime.Spectrum = ss.Spectrum
	}
	return frontend.Env{
		RigID:      d.cfg.Rig.RigID,
		Callsign:   d.cfg.General.Callsign,
		StateWatch: d.ctrl.StateWatch(),
		Do:         d.ctrl.Do,
		Runtime:    runtime,
	}
}

// spawn runs fn on its own goroutine, logging a non-cancel exit.
func (d *Daemon) spawn(name string, fn func() error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := fn(); err != nil && d.ctx.Err() == nil {
			logging.Error("daemon", fmt.Sprintf("%s exited: %v", name, err))
		}
	}()
}

func (d *Daemon) spawnFrontend(name string, env frontend.Env) {
	done, err := d.registry.Spawn(d.ctx, name, env)
	if err != nil {
		logging.Error("daemon", fmt.Sprintf("frontend %s: %v", name, err))
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := <-done; err != nil && d.ctx.Err() == nil {
			logging.Error("daemon", fmt.Sprintf("frontend %s exited: %v", name, err))
		}
	}()
}

// Stop shuts everything down and waits for the goroutines.
func (d *Daemon) Stop() error {
	d.cancel()
	d.wg.Wait()
	if err := d.backend.Close(); err != nil {
		logging.Warn("daemon", fmt.Sprintf("backend close: %v", err))
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}
