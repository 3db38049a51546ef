// Package controller owns a rig backend and serialises all access to
// it: commands arrive on a bounded request channel, status polls run on
// an adaptive timer, and consistent snapshots go out on a watch channel.
package controller

import (
	"encoding/json"
	"time"

	"github.com/sgrams/trxd/pkg/rig"
)

// StateKind enumerates the rig lifecycle states.
type StateKind int

const (
	StateDisconnected StateKind = iota
	StateConnecting
	StateInitializing
	StatePoweredOff
	StateReady
	StateTransmitting
	StateError
)

func (k StateKind) String() string {
	switch k {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateInitializing:
		return "Initializing"
	case StatePoweredOff:
		return "PoweredOff"
	case StateReady:
		return "Ready"
	case StateTransmitting:
		return "Transmitting"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// EventKind enumerates the events that drive state transitions.
type EventKind int

const (
	EventConnected EventKind = iota
	EventInitialized
	EventPoweredOn
	EventPoweredOff
	EventPttOn
	EventPttOff
	EventError
	EventRecovered
	EventDisconnected
)

// StateErrorInfo is the error payload held in the Error state.
type StateErrorInfo struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	OccurredAt  int64  `json:"occurred_at,omitempty"`
}

// TransientError builds a recoverable state error.
func TransientError(msg string) *StateErrorInfo {
	return &StateErrorInfo{Message: msg, Recoverable: true, OccurredAt: time.Now().Unix()}
}

// FatalError builds an unrecoverable state error.
func FatalError(msg string) *StateErrorInfo {
	return &StateErrorInfo{Message: msg, Recoverable: false, OccurredAt: time.Now().Unix()}
}

// Event is one input to the state machine.
type Event struct {
	Kind EventKind
	Err  *StateErrorInfo
}

// ReadyData is the payload of the Ready state.
type ReadyData struct {
	RigInfo rig.Info      `json:"rig_info"`
	Freq    rig.Frequency `json:"freq"`
	Mode    rig.Mode      `json:"mode"`
	Vfo     *rig.Vfo      `json:"vfo,omitempty"`
	Rx      *rig.RxStatus `json:"rx,omitempty"`
	TxLimit *uint8        `json:"tx_limit,omitempty"`
	Locked  bool          `json:"locked"`
}

// TransmittingData is the payload of the Transmitting state.
type TransmittingData struct {
	RigInfo rig.Info      `json:"rig_info"`
	Freq    rig.Frequency `json:"freq"`
	Mode    rig.Mode      `json:"mode"`
	Vfo     *rig.Vfo      `json:"vfo,omitempty"`
	Tx      *rig.TxStatus `json:"tx,omitempty"`
	Locked  bool          `json:"locked"`
}

// MachineState is one state of the rig lifecycle with its payload.
// It is a pure function of the snapshot fields; the machine only makes
// the transitions explicit.
type MachineState struct {
	Kind         StateKind
	StartedAt    int64
	RigInfo      *rig.Info
	Ready        *ReadyData
	Transmitting *TransmittingData
	Err          *StateErrorInfo
	Previous     *MachineState
}

// MarshalJSON renders the state as {"state": "...", "data": {...}}.
func (s MachineState) MarshalJSON() ([]byte, error) {
	type tagged struct {
		State string      `json:"state"`
		Data  interface{} `json:"data,omitempty"`
	}
	out := tagged{State: s.Kind.String()}
	switch s.Kind {
	case StateConnecting:
		out.Data = map[string]int64{"started_at": s.StartedAt}
	case StateInitializing, StatePoweredOff:
		if s.RigInfo != nil {
			out.Data = map[string]interface{}{"rig_info": s.RigInfo}
		}
	case StateReady:
		out.Data = s.Ready
	case StateTransmitting:
		out.Data = s.Transmitting
	case StateError:
		out.Data = map[string]interface{}{"error": s.Err}
	}
	return json.Marshal(out)
}

// CanExecuteCommands reports whether rig commands may run.
func (s *MachineState) CanExecuteCommands() bool {
	return s.Kind == StateReady || s.Kind == StateTransmitting
}

// IsInitialized reports whether the rig finished its first poll.
func (s *MachineState) IsInitialized() bool {
	return s.Kind == StateReady || s.Kind == StateTransmitting || s.Kind == StatePoweredOff
}

// IsTransmitting reports whether PTT is engaged.
func (s *MachineState) IsTransmitting() bool {
	return s.Kind == StateTransmitting
}

// IsLocked reports whether the panel lock is active.
func (s *MachineState) IsLocked() bool {
	switch s.Kind {
	case StateReady:
		return s.Ready.Locked
	case StateTransmitting:
		return s.Transmitting.Locked
	}
	return false
}

// Info returns the rig info if the state carries one.
func (s *MachineState) Info() *rig.Info {
	switch s.Kind {
	case StateInitializing, StatePoweredOff:
		return s.RigInfo
	case StateReady:
		return &s.Ready.RigInfo
	case StateTransmitting:
		return &s.Transmitting.RigInfo
	case StateError:
		if s.Previous != nil {
			return s.Previous.Info()
		}
	}
	return nil
}

// Machine tracks the current state and applies transitions. Invalid
// transitions are silently refused.
type Machine struct {
	state           MachineState
	transitionCount uint64
	lastTransition  time.Time
}

// NewMachine returns a machine in the Disconnected state.
func NewMachine() *Machine {
	return &Machine{state: MachineState{Kind: StateDisconnected}}
}

// State returns the current state.
func (m *Machine) State() MachineState {
	return m.state
}

// TransitionCount returns the number of transitions so far.
func (m *Machine) TransitionCount() uint64 {
	return m.transitionCount
}

// ProcessEvent applies ev, returning true when a transition occurred.
func (m *Machine) ProcessEvent(ev Event) bool {
	next, ok := m.nextState(ev)
	if !ok {
		return false
	}
	m.setState(next)
	return true
}

// SetState forces the state, for initialization and status-driven sync.
func (m *Machine) SetState(s MachineState) {
	m.setState(s)
}

func (m *Machine) setState(s MachineState) {
	m.state = s
	m.transitionCount++
	m.lastTransition = time.Now()
}

func (m *Machine) nextState(ev Event) (MachineState, bool) {
	cur := m.state
	switch {
	case cur.Kind == StateDisconnected && ev.Kind == EventConnected:
		return MachineState{Kind: StateConnecting, StartedAt: time.Now().Unix()}, true

	case cur.Kind == StateConnecting && ev.Kind == EventInitialized:
		return MachineState{Kind: StateInitializing}, true

	case cur.Kind == StateInitializing && ev.Kind == EventPoweredOn:
		if cur.RigInfo == nil {
			return MachineState{}, false
		}
		return MachineState{Kind: StateReady, Ready: &ReadyData{
			RigInfo: *cur.RigInfo,
			Mode:    rig.ModeUSB,
		}}, true

	case cur.Kind == StatePoweredOff && ev.Kind == EventPoweredOn:
		return MachineState{Kind: StateReady, Ready: &ReadyData{
			RigInfo: *cur.RigInfo,
			Mode:    rig.ModeUSB,
		}}, true

	case cur.Kind == StateReady && ev.Kind == EventPttOn:
		return MachineState{Kind: StateTransmitting, Transmitting: &TransmittingData{
			RigInfo: cur.Ready.RigInfo,
			Freq:    cur.Ready.Freq,
			Mode:    cur.Ready.Mode,
			Vfo:     cur.Ready.Vfo,
			Tx:      &rig.TxStatus{Limit: cur.Ready.TxLimit},
			Locked:  cur.Ready.Locked,
		}}, true

	case cur.Kind == StateTransmitting && ev.Kind == EventPttOff:
		var limit *uint8
		if cur.Transmitting.Tx != nil {
			limit = cur.Transmitting.Tx.Limit
		}
		return MachineState{Kind: StateReady, Ready: &ReadyData{
			RigInfo: cur.Transmitting.RigInfo,
			Freq:    cur.Transmitting.Freq,
			Mode:    cur.Transmitting.Mode,
			Vfo:     cur.Transmitting.Vfo,
			TxLimit: limit,
			Locked:  cur.Transmitting.Locked,
		}}, true

	case (cur.Kind == StateReady || cur.Kind == StateTransmitting) && ev.Kind == EventPoweredOff:
		return MachineState{Kind: StatePoweredOff, RigInfo: cur.Info()}, true

	case ev.Kind == EventError:
		prev := cur
		return MachineState{Kind: StateError, Err: ev.Err, Previous: &prev}, true

	case cur.Kind == StateError && ev.Kind == EventRecovered:
		if cur.Err != nil && cur.Err.Recoverable && cur.Previous != nil {
			return *cur.Previous, true
		}
		return MachineState{Kind: StateDisconnected}, true

	case ev.Kind == EventDisconnected:
		return MachineState{Kind: StateDisconnected}, true
	}
	return MachineState{}, false
}
