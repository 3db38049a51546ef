// Package uplink forwards decoded packets to the APRS-IS and PSK
// Reporter networks. Both consumers tap the decoded-message broadcast
// and tolerate lag; neither ever blocks the decoders.
package uplink

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/decode/aprs"
	"github.com/sgrams/trxd/pkg/logging"
)

// AprsIsConfig parameterises the APRS-IS uplink.
type AprsIsConfig struct {
	Server   string // host:port, e.g. rotate.aprs2.net:14580
	Callsign string
	// Filter is the optional APRS-IS server-side filter string.
	Filter string
}

// AprsIsUplink forwards CRC-valid decoded packets as an iGate.
type AprsIsUplink struct {
	cfg     AprsIsConfig
	decoded *broadcast.Channel[decode.Message]
}

// NewAprsIsUplink builds the uplink.
func NewAprsIsUplink(cfg AprsIsConfig, decoded *broadcast.Channel[decode.Message]) *AprsIsUplink {
	return &AprsIsUplink{cfg: cfg, decoded: decoded}
}

// Run keeps a connection up, reconnecting with backoff, and forwards
// packets until ctx is done.
func (u *AprsIsUplink) Run(ctx context.Context) error {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := u.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn("aprsis", fmt.Sprintf("connection ended: %v (reconnecting in %v)", err, delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 60*time.Second {
			delay *= 2
		}
	}
}

func (u *AprsIsUplink) runOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", u.cfg.Server)
	if err != nil {
		return err
	}
	defer conn.Close()

	login := fmt.Sprintf("user %s pass %d vers trxd 1.0", u.cfg.Callsign, aprs.Passcode(u.cfg.Callsign))
	if u.cfg.Filter != "" {
		login += " filter " + u.cfg.Filter
	}
	if _, err := fmt.Fprintf(conn, "%s\r\n", login); err != nil {
		return err
	}

	// The server greets with comment lines; drain them in the
	// background so keepalives do not stall the socket.
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			logging.Debug("aprsis", "server: "+scanner.Text())
		}
	}()

	rx := u.decoded.Subscribe()
	defer rx.Close()

	logging.Info("aprsis", "connected to "+u.cfg.Server)
	for {
		msg, _, err := rx.Recv(ctx)
		if err != nil {
			return err
		}
		if msg.Kind != decode.KindAprs || msg.Aprs == nil || !msg.Aprs.CrcOk {
			continue
		}
		line := formatTnc2(msg.Aprs, u.cfg.Callsign)
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
			return err
		}
	}
}

// formatTnc2 renders a packet in TNC2 monitor format with the iGate
// path appended.
func formatTnc2(pkt *decode.AprsPacket, gateCall string) string {
	var sb strings.Builder
	sb.WriteString(pkt.SrcCall)
	sb.WriteByte('>')
	sb.WriteString(pkt.DestCall)
	if pkt.Path != "" {
		sb.WriteByte(',')
		sb.WriteString(pkt.Path)
	}
	sb.WriteString(",qAR,")
	sb.WriteString(gateCall)
	sb.WriteByte(':')
	sb.WriteString(pkt.Info)
	return sb.String()
}
