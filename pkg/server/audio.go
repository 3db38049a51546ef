package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/metrics"
)

// Audio transport message types.
const (
	MsgStreamInfo byte = 0x01
	MsgRxFrame    byte = 0x02
	MsgTxFrame    byte = 0x03
	MsgAprsDecode byte = 0x10
	MsgCwDecode   byte = 0x11
)

// maxAudioPayload bounds one framed message.
const maxAudioPayload = 1 << 20

// OpusBitrate is the encoder target.
const OpusBitrate = 24_000

// StreamInfo is the JSON payload of the 0x01 message.
type StreamInfo struct {
	SampleRate      int `json:"sample_rate"`
	Channels        int `json:"channels"`
	FrameDurationMs int `json:"frame_duration_ms"`
}

// WriteAudioMsg frames one [type][len:u32be][payload] message.
func WriteAudioMsg(w io.Writer, msgType byte, payload []byte) error {
	var header [5]byte
	header[0] = msgType
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadAudioMsg reads one framed message.
func ReadAudioMsg(r io.Reader) (byte, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxAudioPayload {
		return 0, nil, fmt.Errorf("audio message of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

// AudioServer streams Opus RX frames and decoded messages to clients
// and replays inbound TX frames through the playback queue.
type AudioServer struct {
	addr string
	info StreamInfo

	// SubscribePCM taps the rig's demodulated PCM broadcast.
	subscribePCM func() *broadcast.Receiver[[]float32]
	decoded      *broadcast.Channel[decode.Message]
	history      *AprsHistory

	// txOut receives decoded TX PCM for the playback device. May be
	// nil when the daemon has no output device.
	txOut chan<- []float32
}

// NewAudioServer wires the transport to its producers.
func NewAudioServer(addr string, info StreamInfo,
	subscribePCM func() *broadcast.Receiver[[]float32],
	decoded *broadcast.Channel[decode.Message],
	history *AprsHistory,
	txOut chan<- []float32) *AudioServer {
	return &AudioServer{
		addr:         addr,
		info:         info,
		subscribePCM: subscribePCM,
		decoded:      decoded,
		history:      history,
		txOut:        txOut,
	}
}

// Run accepts audio clients until ctx is done.
func (s *AudioServer) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("audio listener bind %s: %w", s.addr, err)
	}
	logging.Info("audio", "audio transport listening on "+s.addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn("audio", fmt.Sprintf("accept failed: %v", err))
			continue
		}
		go s.handleClient(ctx, conn)
	}
}

// handleClient serves one audio client: STREAM_INFO, history replay,
// then two independent halves. A failure on either half tears down
// both.
func (s *AudioServer) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	metrics.AudioClients.Inc()
	defer metrics.AudioClients.Dec()
	logging.Info("audio", "client connected: "+conn.RemoteAddr().String())

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	writeMsg := func(msgType byte, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
		return WriteAudioMsg(conn, msgType, payload)
	}

	infoJSON, err := json.Marshal(s.info)
	if err != nil {
		return
	}
	if err := writeMsg(MsgStreamInfo, infoJSON); err != nil {
		return
	}

	// Replay the retained APRS history, oldest first.
	if s.history != nil {
		for _, pkt := range s.history.Snapshot() {
			msg := decode.NewAprsMessage(pkt)
			data, err := msg.Encode()
			if err != nil {
				continue
			}
			if err := writeMsg(MsgAprsDecode, data); err != nil {
				return
			}
		}
	}

	var wg sync.WaitGroup

	// RX audio half.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := s.forwardRx(clientCtx, writeMsg); err != nil && clientCtx.Err() == nil {
			logging.Debug("audio", fmt.Sprintf("rx forwarding ended: %v", err))
		}
	}()

	// Decoded message half.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.forwardDecoded(clientCtx, writeMsg)
	}()

	// Inbound TX half, on the calling goroutine. Closing the socket
	// on cancellation unblocks the read.
	stop := context.AfterFunc(clientCtx, func() { conn.Close() })
	s.readTx(clientCtx, conn)
	stop()
	cancel()
	wg.Wait()
	logging.Info("audio", "client disconnected: "+conn.RemoteAddr().String())
}

// forwardRx encodes PCM frames to Opus and streams them.
func (s *AudioServer) forwardRx(ctx context.Context, writeMsg func(byte, []byte) error) error {
	if s.subscribePCM == nil {
		<-ctx.Done()
		return nil
	}
	rx := s.subscribePCM()
	if rx == nil {
		<-ctx.Done()
		return nil
	}
	defer rx.Close()

	enc, err := opus.NewEncoder(s.info.SampleRate, s.info.Channels, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetBitrate(OpusBitrate); err != nil {
		logging.Warn("audio", fmt.Sprintf("failed to set Opus bitrate: %v", err))
	}

	pcm16 := make([]int16, 0, 4096)
	buf := make([]byte, 4000)
	for {
		frame, lag, err := rx.Recv(ctx)
		if err != nil {
			return err
		}
		if lag > 0 {
			metrics.BroadcastLag.WithLabelValues("pcm").Add(float64(lag))
		}

		pcm16 = pcm16[:0]
		for _, v := range frame {
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			pcm16 = append(pcm16, int16(v*32767))
		}
		n, err := enc.Encode(pcm16, buf)
		if err != nil {
			logging.Warn("audio", fmt.Sprintf("opus encode failed: %v", err))
			continue
		}
		if err := writeMsg(MsgRxFrame, buf[:n]); err != nil {
			return err
		}
	}
}

// forwardDecoded streams decoded messages as typed JSON frames.
func (s *AudioServer) forwardDecoded(ctx context.Context, writeMsg func(byte, []byte) error) {
	if s.decoded == nil {
		<-ctx.Done()
		return
	}
	rx := s.decoded.Subscribe()
	defer rx.Close()

	for {
		msg, lag, err := rx.Recv(ctx)
		if err != nil {
			return
		}
		if lag > 0 {
			metrics.BroadcastLag.WithLabelValues("decoded").Add(float64(lag))
		}
		data, err := msg.Encode()
		if err != nil {
			continue
		}
		msgType := MsgAprsDecode
		switch msg.Kind {
		case decode.KindCw:
			msgType = MsgCwDecode
		case decode.KindAprs, decode.KindFt8, decode.KindWspr:
			msgType = MsgAprsDecode
		}
		if err := writeMsg(msgType, data); err != nil {
			return
		}
	}
}

// readTx drains inbound messages, decoding TX audio into the playback
// queue.
func (s *AudioServer) readTx(ctx context.Context, conn net.Conn) {
	var dec *opus.Decoder
	if s.txOut != nil {
		var err error
		dec, err = opus.NewDecoder(s.info.SampleRate, s.info.Channels)
		if err != nil {
			logging.Warn("audio", fmt.Sprintf("opus decoder: %v", err))
		}
	}
	pcm := make([]int16, s.info.SampleRate*s.info.FrameDurationMs*s.info.Channels/1000*4)

	for {
		if ctx.Err() != nil {
			return
		}
		msgType, payload, err := ReadAudioMsg(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logging.Debug("audio", fmt.Sprintf("tx read ended: %v", err))
			}
			return
		}
		if msgType != MsgTxFrame || dec == nil || s.txOut == nil {
			continue
		}
		n, err := dec.Decode(payload, pcm)
		if err != nil {
			continue
		}
		frame := make([]float32, n*s.info.Channels)
		for i := range frame {
			frame[i] = float32(pcm[i]) / 32767.0
		}
		select {
		case s.txOut <- frame:
		default:
			// Playback queue full; drop the frame.
		}
	}
}
