package uplink

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/logging"
)

// PskReporterConfig parameterises the PSK Reporter uplink.
type PskReporterConfig struct {
	Server   string // host:port, default report.pskreporter.info:4739
	Callsign string
	Locator  string
	// Antenna is free-text antenna information, optional.
	Antenna string
	// DialFreqHz resolves a decode's audio offset to RF.
	DialFreqHz func() uint64
}

// reception is one spotted station pending upload.
type reception struct {
	call   string
	freqHz uint64
	mode   string
	snrDb  int
	at     time.Time
}

// PskReporterUplink batches FT8/WSPR decodes and posts them over UDP
// in the IPFIX-derived PSK Reporter format.
type PskReporterUplink struct {
	cfg     PskReporterConfig
	decoded *broadcast.Channel[decode.Message]

	randID  uint32
	seq     uint32
	pending []reception
}

// NewPskReporterUplink builds the uplink.
func NewPskReporterUplink(cfg PskReporterConfig, decoded *broadcast.Channel[decode.Message]) *PskReporterUplink {
	if cfg.Server == "" {
		cfg.Server = "report.pskreporter.info:4739"
	}
	return &PskReporterUplink{
		cfg:     cfg,
		decoded: decoded,
		randID:  rand.Uint32(),
	}
}

// Run collects decodes and flushes a batch every five minutes, the
// cadence the service asks for.
func (u *PskReporterUplink) Run(ctx context.Context) error {
	rx := u.decoded.Subscribe()
	defer rx.Close()

	flush := time.NewTicker(5 * time.Minute)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-flush.C:
			if err := u.flush(); err != nil {
				logging.Warn("pskreporter", fmt.Sprintf("upload failed: %v", err))
			}
		default:
		}

		recvCtx, cancel := context.WithTimeout(ctx, time.Second)
		msg, _, err := rx.Recv(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		u.collect(msg)
	}
}

func (u *PskReporterUplink) collect(msg decode.Message) {
	dial := uint64(0)
	if u.cfg.DialFreqHz != nil {
		dial = u.cfg.DialFreqHz()
	}
	switch msg.Kind {
	case decode.KindFt8:
		if msg.Ft8 == nil {
			return
		}
		// Candidates without a decoded callsign cannot be spotted.
		if msg.Ft8.Text == "" {
			return
		}
		u.pending = append(u.pending, reception{
			call:   msg.Ft8.Text,
			freqHz: dial + uint64(msg.Ft8.FreqHz),
			mode:   "FT8",
			snrDb:  int(msg.Ft8.SnrDb),
			at:     time.UnixMilli(msg.TimestampMs),
		})
	case decode.KindWspr:
		if msg.Wspr == nil || msg.Wspr.Call == "" {
			return
		}
		u.pending = append(u.pending, reception{
			call:   msg.Wspr.Call,
			freqHz: dial + uint64(msg.Wspr.FreqHz),
			mode:   "WSPR",
			snrDb:  int(msg.Wspr.SnrDb),
			at:     time.UnixMilli(msg.TimestampMs),
		})
	}
}

func (u *PskReporterUplink) flush() error {
	if len(u.pending) == 0 {
		return nil
	}
	batch := u.pending
	u.pending = nil

	conn, err := net.Dial("udp", u.cfg.Server)
	if err != nil {
		return err
	}
	defer conn.Close()

	packet := u.buildPacket(batch)
	_, err = conn.Write(packet)
	if err == nil {
		logging.Info("pskreporter", fmt.Sprintf("uploaded %d spots", len(batch)))
	}
	return err
}

// buildPacket assembles the IPFIX-style datagram: header, receiver
// record, then one sender record per spot. Field encodings follow the
// published PSK Reporter description.
func (u *PskReporterUplink) buildPacket(batch []reception) []byte {
	var body bytes.Buffer

	// Receiver information record (template 0x9992).
	var rcv bytes.Buffer
	writeString(&rcv, u.cfg.Callsign)
	writeString(&rcv, u.cfg.Locator)
	writeString(&rcv, "trxd")
	if u.cfg.Antenna != "" {
		writeString(&rcv, u.cfg.Antenna)
	}
	pad(&rcv)
	writeSet(&body, 0x9992, rcv.Bytes())

	// Sender records (template 0x9993).
	var snd bytes.Buffer
	for _, r := range batch {
		writeString(&snd, r.call)
		var freq [4]byte
		binary.BigEndian.PutUint32(freq[:], uint32(r.freqHz))
		snd.Write(freq[:])
		snd.WriteByte(byte(int8(r.snrDb)))
		writeString(&snd, r.mode)
		snd.WriteByte(1) // information source: automatic
		var ts [4]byte
		binary.BigEndian.PutUint32(ts[:], uint32(r.at.Unix()))
		snd.Write(ts[:])
	}
	pad(&snd)
	writeSet(&body, 0x9993, snd.Bytes())

	// Datagram header.
	u.seq++
	var out bytes.Buffer
	var header [16]byte
	binary.BigEndian.PutUint16(header[0:], 0x000A)
	binary.BigEndian.PutUint16(header[2:], uint16(16+body.Len()))
	binary.BigEndian.PutUint32(header[4:], uint32(time.Now().Unix()))
	binary.BigEndian.PutUint32(header[8:], u.seq)
	binary.BigEndian.PutUint32(header[12:], u.randID)
	out.Write(header[:])
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	if len(s) > 255 {
		s = s[:255]
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

// pad aligns a record set to a 4-byte boundary.
func pad(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func writeSet(out *bytes.Buffer, setID uint16, payload []byte) {
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:], setID)
	binary.BigEndian.PutUint16(header[2:], uint16(4+len(payload)))
	out.Write(header[:])
	out.Write(payload)
}
