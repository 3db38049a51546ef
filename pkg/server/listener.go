// Package server hosts the daemon's TCP surfaces: the line-framed JSON
// control multiplexer and the binary audio transport.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sgrams/trxd/pkg/controller"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/protocol"
)

const (
	// ioTimeout bounds each network read/write.
	ioTimeout = 10 * time.Second
	// requestTimeout bounds a full round trip that touches the rig.
	requestTimeout = 12 * time.Second
)

// RigHandle ties a registered rig to its audio port for enumeration.
type RigHandle struct {
	Controller *controller.Controller
	AudioPort  int
}

// Listener is the control protocol multiplexer. rig_id selects the
// target rig; absent rig_id routes to the default (first registered).
type Listener struct {
	addr      string
	rigs      map[string]*RigHandle
	order     []string
	validator protocol.TokenValidator
}

// NewListener builds a multiplexer over the given rigs. Registration
// order decides the default rig.
func NewListener(addr string, validator protocol.TokenValidator) *Listener {
	if validator == nil {
		validator = protocol.NoAuthValidator{}
	}
	return &Listener{
		addr:      addr,
		rigs:      make(map[string]*RigHandle),
		validator: validator,
	}
}

// Register adds a rig. The first registration becomes the default.
func (l *Listener) Register(id string, handle *RigHandle) {
	if _, exists := l.rigs[id]; !exists {
		l.order = append(l.order, id)
	}
	l.rigs[id] = handle
}

// DefaultRigID returns the routing default.
func (l *Listener) DefaultRigID() string {
	if len(l.order) == 0 {
		return ""
	}
	return l.order[0]
}

// Run accepts connections until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("control listener bind %s: %w", l.addr, err)
	}
	logging.Info("listener", "control protocol listening on "+l.addr)

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
			logging.Warn("listener", fmt.Sprintf("accept failed: %v", err))
			continue
		}
		go func() {
			defer conn.Close()
			if err := l.handleClient(ctx, conn); err != nil &&
				!errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
				logging.Debug("listener", fmt.Sprintf("client %s: %v", conn.RemoteAddr(), err))
			}
		}()
	}
}

// handleClient serves one connection. Responses keep request order;
// protocol errors answer on the same connection and keep it open.
// Idle connections block in the scanner; shutdown unblocks them by
// closing the socket.
func (l *Listener) handleClient(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxLineBytes+1)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := l.dispatch(ctx, line)
		if err := l.writeResponse(conn, &resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			resp := protocol.Fail(fmt.Sprintf("line exceeds %d bytes", protocol.MaxLineBytes))
			_ = l.writeResponse(conn, &resp)
		}
		return err
	}
	return nil // EOF
}

func (l *Listener) writeResponse(conn net.Conn, resp *protocol.ClientResponse) error {
	data, err := resp.Encode()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	_, err = conn.Write(data)
	return err
}

// dispatch parses, authenticates and routes one request line.
func (l *Listener) dispatch(ctx context.Context, line []byte) protocol.ClientResponse {
	env, err := protocol.ParseEnvelope(line)
	if err != nil {
		return protocol.Fail("invalid request: " + err.Error())
	}

	if err := l.validator.Validate(env.Token); err != nil {
		return protocol.Fail(err.Error())
	}

	// get_rigs never contacts a rig.
	if env.Cmd == protocol.CmdGetRigs {
		entries := make([]protocol.RigEnumEntry, 0, len(l.order))
		for _, id := range l.order {
			handle := l.rigs[id]
			entry := protocol.RigEnumEntry{
				RigID:       id,
				DisplayName: handle.Controller.DisplayName(),
			}
			if handle.AudioPort != 0 {
				port := handle.AudioPort
				entry.AudioPort = &port
			}
			state := handle.Controller.StateWatch().Get()
			if snap, okSnap := state.Snapshot(); okSnap {
				entry.State = &snap
			}
			entries = append(entries, entry)
		}
		return protocol.OkRigs(entries)
	}

	targetID := l.DefaultRigID()
	if env.RigID != nil && *env.RigID != "" {
		targetID = *env.RigID
	}
	handle, okRig := l.rigs[targetID]
	if !okRig {
		return protocol.Fail(fmt.Sprintf("unknown rig %q", targetID))
	}

	// Fast path: get_state answers from the state cache without
	// touching the rig's request channel.
	if env.Cmd == protocol.CmdGetState {
		state := handle.Controller.StateWatch().Get()
		if snap, okSnap := state.Snapshot(); okSnap {
			return protocol.OkState(targetID, snap)
		}
		return protocol.FailFor(targetID, "rig state not available yet")
	}

	cmd, err := protocol.ClientToRig(&env.ClientCommand)
	if err != nil {
		return protocol.FailFor(targetID, err.Error())
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	snap, err := handle.Controller.Do(reqCtx, cmd)
	if err != nil {
		if errors.Is(err, controller.ErrQueueTimeout) {
			return protocol.FailFor(targetID, "request queue timeout")
		}
		return protocol.FailFor(targetID, err.Error())
	}
	return protocol.OkState(targetID, snap)
}
