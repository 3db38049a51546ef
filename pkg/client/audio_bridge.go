package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gordonklaus/portaudio"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/server"
)

// AudioBridgeConfig parameterises the client-side audio connection.
type AudioBridgeConfig struct {
	ServerAddr string
	// Playback enables the local output device.
	Playback bool
	// Capture streams the local input device upstream as TX frames.
	Capture bool
}

// AudioBridge connects to a daemon's audio port, plays the RX stream
// locally and republishes PCM and decoded messages for local
// frontends.
type AudioBridge struct {
	cfg AudioBridgeConfig

	pcm     *broadcast.Channel[[]float32]
	decoded *broadcast.Channel[decode.Message]

	info server.StreamInfo
}

// NewAudioBridge builds a bridge.
func NewAudioBridge(cfg AudioBridgeConfig) *AudioBridge {
	return &AudioBridge{
		cfg:     cfg,
		pcm:     broadcast.New[[]float32](32),
		decoded: broadcast.New[decode.Message](64),
	}
}

// PCM exposes the re-published RX audio for local frontends.
func (b *AudioBridge) PCM() *broadcast.Channel[[]float32] {
	return b.pcm
}

// Decoded exposes the re-published decoded-message stream.
func (b *AudioBridge) Decoded() *broadcast.Channel[decode.Message] {
	return b.decoded
}

// StreamInfo returns the format announced by the daemon, valid after
// the first connect.
func (b *AudioBridge) StreamInfo() server.StreamInfo {
	return b.info
}

// Run keeps the audio connection up until ctx is done.
func (b *AudioBridge) Run(ctx context.Context) error {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := b.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn("audio-bridge", fmt.Sprintf("connection ended: %v (reconnecting in %v)", err, delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (b *AudioBridge) runOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", b.cfg.ServerAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The daemon leads with STREAM_INFO.
	msgType, payload, err := b.readMsg(conn)
	if err != nil {
		return err
	}
	if msgType != server.MsgStreamInfo {
		return fmt.Errorf("expected STREAM_INFO, got 0x%02x", msgType)
	}
	if err := json.Unmarshal(payload, &b.info); err != nil {
		return fmt.Errorf("bad STREAM_INFO: %w", err)
	}
	logging.Info("audio-bridge", fmt.Sprintf("stream: %d Hz, %d ch, %d ms frames",
		b.info.SampleRate, b.info.Channels, b.info.FrameDurationMs))

	dec, err := opus.NewDecoder(b.info.SampleRate, b.info.Channels)
	if err != nil {
		return fmt.Errorf("opus decoder: %w", err)
	}

	var playbackQueue chan []float32
	if b.cfg.Playback {
		playbackQueue = make(chan []float32, 16)
		go func() {
			if err := b.runPlayback(connCtx, playbackQueue); err != nil && connCtx.Err() == nil {
				logging.Warn("audio-bridge", fmt.Sprintf("playback stopped: %v", err))
			}
		}()
	}
	if b.cfg.Capture {
		go func() {
			if err := b.runCapture(connCtx, conn); err != nil && connCtx.Err() == nil {
				logging.Warn("audio-bridge", fmt.Sprintf("capture stopped: %v", err))
			}
		}()
	}

	pcm16 := make([]int16, b.info.SampleRate*b.info.FrameDurationMs*b.info.Channels/1000*4)
	for {
		if connCtx.Err() != nil {
			return connCtx.Err()
		}
		msgType, payload, err := b.readMsg(conn)
		if err != nil {
			return err
		}
		switch msgType {
		case server.MsgRxFrame:
			n, err := dec.Decode(payload, pcm16)
			if err != nil {
				continue
			}
			frame := make([]float32, n*b.info.Channels)
			for i := range frame {
				frame[i] = float32(pcm16[i]) / 32767.0
			}
			b.pcm.Send(frame)
			if playbackQueue != nil {
				select {
				case playbackQueue <- frame:
				default:
				}
			}
		case server.MsgAprsDecode, server.MsgCwDecode:
			msg, err := decode.ParseMessage(payload)
			if err != nil {
				continue
			}
			b.decoded.Send(*msg)
		}
	}
}

func (b *AudioBridge) readMsg(conn net.Conn) (byte, []byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	return server.ReadAudioMsg(conn)
}

// runPlayback drains decoded frames to the default output device.
func (b *AudioBridge) runPlayback(ctx context.Context, queue <-chan []float32) error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	frameSamples := b.info.SampleRate * b.info.FrameDurationMs / 1000 * b.info.Channels
	buf := make([]float32, frameSamples)
	stream, err := portaudio.OpenDefaultStream(0, b.info.Channels,
		float64(b.info.SampleRate), frameSamples/b.info.Channels, buf)
	if err != nil {
		return err
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return err
	}
	defer stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-queue:
			n := copy(buf, frame)
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
			if err := stream.Write(); err != nil {
				logging.Debug("audio-bridge", fmt.Sprintf("playback write: %v", err))
			}
		}
	}
}

// runCapture streams the local microphone upstream as Opus TX frames.
func (b *AudioBridge) runCapture(ctx context.Context, conn net.Conn) error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	frameSamples := b.info.SampleRate * b.info.FrameDurationMs / 1000 * b.info.Channels
	buf := make([]float32, frameSamples)
	stream, err := portaudio.OpenDefaultStream(b.info.Channels, 0,
		float64(b.info.SampleRate), frameSamples/b.info.Channels, buf)
	if err != nil {
		return err
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return err
	}
	defer stream.Stop()

	enc, err := opus.NewEncoder(b.info.SampleRate, b.info.Channels, opus.AppVoIP)
	if err != nil {
		return err
	}
	if err := enc.SetBitrate(server.OpusBitrate); err != nil {
		logging.Debug("audio-bridge", fmt.Sprintf("set bitrate: %v", err))
	}

	pcm16 := make([]int16, frameSamples)
	out := make([]byte, 4000)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return err
			}
			continue
		}
		for i, v := range buf {
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			pcm16[i] = int16(v * 32767)
		}
		n, err := enc.Encode(pcm16, out)
		if err != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := server.WriteAudioMsg(conn, server.MsgTxFrame, out[:n]); err != nil {
			return err
		}
	}
}
