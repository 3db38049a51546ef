// Package audio owns the daemon's sound device halves: capture of the
// rig's receive audio into the PCM broadcast, and playback of inbound
// TX frames to the output device. Both halves pause when unused so an
// idle daemon neither burns CPU nor underruns the device.
package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/logging"
)

// CaptureConfig parameterises the capture half.
type CaptureConfig struct {
	SampleRate      int
	Channels        int
	FrameDurationMs int
}

// RunCapture reads from the default input device and publishes
// fixed-duration frames on pcm. The stream pauses whenever the
// broadcast has no receivers and resumes on the first subscriber.
func RunCapture(ctx context.Context, cfg CaptureConfig, pcm *broadcast.Channel[[]float32]) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	frameSamples := cfg.SampleRate * cfg.FrameDurationMs / 1000 * cfg.Channels
	buf := make([]float32, frameSamples)

	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate),
		frameSamples/cfg.Channels, buf)
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}
	defer stream.Close()

	running := false
	defer func() {
		if running {
			_ = stream.Stop()
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if pcm.ReceiverCount() == 0 {
			if running {
				_ = stream.Stop()
				running = false
				logging.Info("audio", "capture paused (no listeners)")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		if !running {
			if err := stream.Start(); err != nil {
				return fmt.Errorf("start capture stream: %w", err)
			}
			running = true
			logging.Info("audio", "capture resumed")
		}

		if err := stream.Read(); err != nil {
			// Overflows recover on the next read.
			logging.Debug("audio", fmt.Sprintf("capture read: %v", err))
			continue
		}
		frame := make([]float32, len(buf))
		copy(frame, buf)
		pcm.Send(frame)
	}
}
