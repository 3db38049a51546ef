package sdr

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/sgrams/trxd/pkg/logging"
)

// rtl_tcp command identifiers.
const (
	rtlCmdSetFreq       = 0x01
	rtlCmdSetSampleRate = 0x02
	rtlCmdSetGainMode   = 0x03
	rtlCmdSetGain       = 0x04
	rtlCmdSetAgcMode    = 0x08
)

// RtlTcpSource reads 8-bit IQ from an rtl_tcp server. It is the
// network-attached IQ source for RTL-SDR class hardware.
type RtlTcpSource struct {
	conn net.Conn
	rd   *bufio.Reader
	raw  []byte
}

// DialRtlTcp connects to an rtl_tcp server and configures sample rate,
// centre frequency and gain. gainTenthsDb < 0 enables hardware AGC.
func DialRtlTcp(addr string, sampleRate uint32, centerHz uint64, gainTenthsDb int) (*RtlTcpSource, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("rtl_tcp dial %s: %w", addr, err)
	}

	s := &RtlTcpSource{conn: conn, rd: bufio.NewReaderSize(conn, 1<<16)}

	// The server leads with a 12-byte dongle info block: "RTL0",
	// tuner type and gain count.
	header := make([]byte, 12)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := s.rd.Read(header); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtl_tcp header: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if string(header[:4]) != "RTL0" {
		logging.Warn("sdr", fmt.Sprintf("rtl_tcp %s sent unexpected magic %q", addr, header[:4]))
	}

	if err := s.command(rtlCmdSetSampleRate, sampleRate); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.command(rtlCmdSetFreq, uint32(centerHz)); err != nil {
		conn.Close()
		return nil, err
	}
	if gainTenthsDb < 0 {
		if err := s.command(rtlCmdSetGainMode, 0); err != nil {
			conn.Close()
			return nil, err
		}
		_ = s.command(rtlCmdSetAgcMode, 1)
	} else {
		if err := s.command(rtlCmdSetGainMode, 1); err != nil {
			conn.Close()
			return nil, err
		}
		if err := s.command(rtlCmdSetGain, uint32(gainTenthsDb)); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return s, nil
}

// command sends one [cmd:u8][param:u32be] frame.
func (s *RtlTcpSource) command(cmd byte, param uint32) error {
	frame := [5]byte{cmd}
	binary.BigEndian.PutUint32(frame[1:], param)
	if _, err := s.conn.Write(frame[:]); err != nil {
		return fmt.Errorf("rtl_tcp command 0x%02x: %w", cmd, err)
	}
	return nil
}

// ReadBlock implements IQSource: unsigned 8-bit interleaved IQ scaled
// to [-1, 1].
func (s *RtlTcpSource) ReadBlock(buf []complex64) error {
	need := len(buf) * 2
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]
	read := 0
	for read < need {
		n, err := s.rd.Read(raw[read:])
		if err != nil {
			return fmt.Errorf("rtl_tcp read: %w", err)
		}
		read += n
	}
	const scale = 1.0 / 127.5
	for i := range buf {
		re := (float32(raw[i*2]) - 127.5) * scale
		im := (float32(raw[i*2+1]) - 127.5) * scale
		buf[i] = complex(re, im)
	}
	return nil
}

// SetCenterFreq implements IQSource.
func (s *RtlTcpSource) SetCenterFreq(hz uint64) error {
	return s.command(rtlCmdSetFreq, uint32(hz))
}

// Close implements IQSource.
func (s *RtlTcpSource) Close() error {
	return s.conn.Close()
}
