// Package client implements the remote daemon client: it speaks the
// JSON control protocol and the audio transport so local frontends can
// mirror a rig whose hardware lives behind a remote trxd.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/protocol"
	"github.com/sgrams/trxd/pkg/rig"
)

const (
	ioTimeout    = 10 * time.Second
	pollInterval = time.Second
)

// Config parameterises the remote connection.
type Config struct {
	ServerAddr string
	Token      string
	RigID      string
}

// Remote is a connection to a remote daemon's control port. It keeps a
// local state cache refreshed by polling get_state, and serialises
// request/response exchanges on the single connection.
type Remote struct {
	cfg Config

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Scanner

	watch *broadcast.Watch[rig.State]
}

// NewRemote builds a client; Connect establishes the session.
func NewRemote(cfg Config) *Remote {
	return &Remote{
		cfg:   cfg,
		watch: broadcast.NewWatch(rig.State{}),
	}
}

// StateWatch exposes the mirrored snapshot cache for local frontends.
func (r *Remote) StateWatch() *broadcast.Watch[rig.State] {
	return r.watch
}

// Connect dials the control port.
func (r *Remote) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: ioTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", r.cfg.ServerAddr, err)
	}
	r.mu.Lock()
	r.conn = conn
	r.rd = bufio.NewScanner(conn)
	r.rd.Buffer(make([]byte, 0, 4096), protocol.MaxLineBytes)
	r.mu.Unlock()
	logging.Info("remote", "connected to "+r.cfg.ServerAddr)
	return nil
}

// Close drops the connection.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		return err
	}
	return nil
}

// roundTrip sends one envelope and reads one response. Per-connection
// ordering makes the pairing valid.
func (r *Remote) roundTrip(env *protocol.Envelope) (*protocol.ClientResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	if r.cfg.Token != "" {
		tok := r.cfg.Token
		env.Token = &tok
	}
	if r.cfg.RigID != "" {
		id := r.cfg.RigID
		env.RigID = &id
	}

	data, err := env.Encode()
	if err != nil {
		return nil, err
	}
	_ = r.conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if _, err := r.conn.Write(data); err != nil {
		r.dropLocked()
		return nil, err
	}

	_ = r.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	if !r.rd.Scan() {
		err := r.rd.Err()
		if err == nil {
			err = fmt.Errorf("connection closed")
		}
		r.dropLocked()
		return nil, err
	}
	resp, err := protocol.ParseResponse(r.rd.Bytes())
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Remote) dropLocked() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Do mirrors the controller's command API over the network, so local
// frontends plug in unchanged.
func (r *Remote) Do(_ context.Context, cmd rig.Command) (rig.Snapshot, error) {
	clientCmd := protocol.RigToClient(cmd)
	resp, err := r.roundTrip(&protocol.Envelope{ClientCommand: clientCmd})
	if err != nil {
		return rig.Snapshot{}, err
	}
	if !resp.Success {
		msg := "remote error"
		if resp.Error != nil {
			msg = *resp.Error
		}
		return rig.Snapshot{}, fmt.Errorf("%s", msg)
	}
	if resp.State == nil {
		return rig.Snapshot{}, fmt.Errorf("remote response carried no state")
	}
	r.publish(*resp.State)
	return *resp.State, nil
}

// GetRigs enumerates the remote daemon's rigs.
func (r *Remote) GetRigs() ([]protocol.RigEnumEntry, error) {
	resp, err := r.roundTrip(&protocol.Envelope{
		ClientCommand: protocol.ClientCommand{Cmd: protocol.CmdGetRigs},
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := "remote error"
		if resp.Error != nil {
			msg = *resp.Error
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return resp.Rigs, nil
}

// publish folds a received snapshot into the local state cache.
func (r *Remote) publish(snap rig.Snapshot) {
	info := snap.Info
	state := rig.State{
		RigInfo:     &info,
		Status:      snap.Status,
		Initialized: snap.Initialized,
		Callsign:    snap.Callsign,
		Version:     snap.Version,
		Latitude:    snap.Latitude,
		Longitude:   snap.Longitude,
		Decoders:    snap.Decoders,
		Filter:      snap.Filter,
		Rds:         snap.Rds,
	}
	enabled := snap.PowerOn
	state.Control.Enabled = &enabled
	r.watch.Set(state)
}

// RunPoller keeps the state cache fresh and reconnects with backoff
// until ctx is done.
func (r *Remote) RunPoller(ctx context.Context) error {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.Do(ctx, rig.Command{Kind: rig.CmdGetSnapshot}); err != nil {
			logging.Warn("remote", fmt.Sprintf("poll failed: %v (reconnecting in %v)", err, delay))
			_ = r.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if delay < 30*time.Second {
				delay *= 2
			}
			if err := r.Connect(ctx); err != nil {
				continue
			}
			delay = time.Second
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
