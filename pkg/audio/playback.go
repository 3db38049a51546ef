package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/sgrams/trxd/pkg/logging"
)

// PlaybackConfig parameterises the playback half.
type PlaybackConfig struct {
	SampleRate      int
	Channels        int
	FrameDurationMs int
}

// RunPlayback drains txIn to the default output device. The stream
// pauses once the queue has been idle for two frame durations and
// resumes when frames arrive again.
func RunPlayback(ctx context.Context, cfg PlaybackConfig, txIn <-chan []float32) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	frameSamples := cfg.SampleRate * cfg.FrameDurationMs / 1000 * cfg.Channels
	buf := make([]float32, frameSamples)

	stream, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate),
		frameSamples/cfg.Channels, buf)
	if err != nil {
		return fmt.Errorf("open playback stream: %w", err)
	}
	defer stream.Close()

	idleAfter := 2 * time.Duration(cfg.FrameDurationMs) * time.Millisecond
	running := false
	defer func() {
		if running {
			_ = stream.Stop()
		}
	}()

	for {
		var frame []float32
		if running {
			idle := time.NewTimer(idleAfter)
			select {
			case <-ctx.Done():
				idle.Stop()
				return ctx.Err()
			case frame = <-txIn:
				idle.Stop()
			case <-idle.C:
				_ = stream.Stop()
				running = false
				logging.Info("audio", "playback paused (idle)")
				continue
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case frame = <-txIn:
			}
			if err := stream.Start(); err != nil {
				return fmt.Errorf("start playback stream: %w", err)
			}
			running = true
			logging.Info("audio", "playback resumed")
		}

		n := copy(buf, frame)
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			// Underruns recover on the next write.
			logging.Debug("audio", fmt.Sprintf("playback write: %v", err))
		}
	}
}
