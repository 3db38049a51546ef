package server

import (
	"context"
	"fmt"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/decode/aprs"
	"github.com/sgrams/trxd/pkg/decode/cw"
	"github.com/sgrams/trxd/pkg/decode/ft8"
	"github.com/sgrams/trxd/pkg/decode/wspr"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/rig"
)

// DecoderRunner drives the server-side decoders for one rig. It taps
// the PCM broadcast, tracks the snapshot's decoder settings and
// publishes decoded messages.
type DecoderRunner struct {
	stateWatch   *broadcast.Watch[rig.State]
	subscribePCM func() *broadcast.Receiver[[]float32]
	sampleRate   uint32
	channels     int
	decoded      *broadcast.Channel[decode.Message]
	history      *AprsHistory
}

// NewDecoderRunner wires a runner for one rig's audio.
func NewDecoderRunner(stateWatch *broadcast.Watch[rig.State],
	subscribePCM func() *broadcast.Receiver[[]float32],
	sampleRate uint32, channels int,
	decoded *broadcast.Channel[decode.Message],
	history *AprsHistory) *DecoderRunner {
	return &DecoderRunner{
		stateWatch:   stateWatch,
		subscribePCM: subscribePCM,
		sampleRate:   sampleRate,
		channels:     channels,
		decoded:      decoded,
		history:      history,
	}
}

// Run consumes PCM until ctx is done. Decoders tolerate broadcast lag;
// the APRS decoder resubscribes (dropping its backlog) when the mode
// changes so it never chews on stale audio.
func (r *DecoderRunner) Run(ctx context.Context) error {
	aprsDec := aprs.NewDecoder(r.sampleRate)
	cwDec := cw.NewDecoder(r.sampleRate)
	ft8Dec := ft8.NewDecoder()
	wsprDec := wspr.NewDecoder()

	ft8Resample := newDecimator(int(r.sampleRate), ft8.SampleRate)
	wsprResample := newDecimator(int(r.sampleRate), wspr.SampleRate)

	rx := r.subscribePCM()
	if rx == nil {
		// No audio source configured; nothing to decode.
		logging.Info("decode", "no PCM source, decoder tasks idle")
		<-ctx.Done()
		return ctx.Err()
	}
	defer func() { rx.Close() }()

	var seen rig.DecoderSettings
	var lastMode rig.Mode
	syncSettings := func() rig.DecoderSettings {
		state := r.stateWatch.Get()
		d := state.Decoders

		if d.AprsResetSeq != seen.AprsResetSeq {
			aprsDec.Reset()
		}
		if d.CwResetSeq != seen.CwResetSeq {
			cwDec.Reset()
		}
		if d.Ft8ResetSeq != seen.Ft8ResetSeq {
			ft8Dec.Reset()
		}
		if d.WsprResetSeq != seen.WsprResetSeq {
			wsprDec.Reset()
		}
		cwDec.SetAuto(d.CwAuto)
		if !d.CwAuto {
			cwDec.SetWpm(d.CwWpm)
			cwDec.SetToneHz(d.CwToneHz)
		}

		if state.Status.Mode != lastMode {
			lastMode = state.Status.Mode
			aprsDec.Reset()
			rx.Close()
			rx = r.subscribePCM()
		}
		seen = d
		return d
	}

	for {
		frame, _, err := rx.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		settings := syncSettings()
		if !settings.AprsEnabled && !settings.CwEnabled &&
			!settings.Ft8Enabled && !settings.WsprEnabled {
			continue
		}

		mono := downmix(frame, r.channels)

		if settings.AprsEnabled {
			for _, pkt := range aprsDec.ProcessSamples(mono) {
				logging.Info("decode", fmt.Sprintf("APRS %s > %s [%s] crc_ok=%v",
					pkt.SrcCall, pkt.DestCall, pkt.PacketType, pkt.CrcOk))
				if r.history != nil {
					r.history.Record(pkt)
				}
				r.decoded.Send(decode.NewAprsMessage(pkt))
			}
		}
		if settings.CwEnabled {
			for _, ev := range cwDec.ProcessSamples(mono) {
				r.decoded.Send(decode.NewCwMessage(ev))
			}
		}
		if settings.Ft8Enabled {
			for _, msg := range ft8Dec.ProcessSamples(ft8Resample.process(mono)) {
				logging.Info("decode", fmt.Sprintf("FT8 candidate %.1f Hz snr %.1f dB", msg.FreqHz, msg.SnrDb))
				r.decoded.Send(decode.NewFt8Message(msg))
			}
		}
		if settings.WsprEnabled {
			for _, msg := range wsprDec.ProcessSamples(wsprResample.process(mono)) {
				logging.Info("decode", fmt.Sprintf("WSPR candidate %.1f Hz snr %.1f dB", msg.FreqHz, msg.SnrDb))
				r.decoded.Send(decode.NewWsprMessage(msg))
			}
		}
	}
}

// downmix folds interleaved multichannel PCM to mono.
func downmix(frame []float32, channels int) []float32 {
	if channels <= 1 {
		return frame
	}
	out := make([]float32, len(frame)/channels)
	for i := range out {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += frame[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// decimator is an integer-ratio box-average downsampler feeding the
// fixed-rate slot decoders.
type decimator struct {
	factor int
	acc    float32
	count  int
}

func newDecimator(inRate, outRate int) *decimator {
	factor := inRate / outRate
	if factor < 1 {
		factor = 1
	}
	return &decimator{factor: factor}
}

func (d *decimator) process(in []float32) []float32 {
	if d.factor == 1 {
		return in
	}
	out := make([]float32, 0, len(in)/d.factor+1)
	for _, s := range in {
		d.acc += s
		d.count++
		if d.count >= d.factor {
			out = append(out, d.acc/float32(d.factor))
			d.acc = 0
			d.count = 0
		}
	}
	return out
}
