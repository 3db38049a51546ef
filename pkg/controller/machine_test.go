package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrams/trxd/pkg/rig"
)

func mockInfo() rig.Info {
	return rig.Info{
		Manufacturer: "Test",
		Model:        "Mock",
		Revision:     "1.0",
		Capabilities: rig.Capabilities{
			MinFreqStepHz: 1,
			NumVfos:       2,
			Lockable:      true,
			Tx:            true,
			TxLimit:       true,
			VfoSwitch:     true,
			SignalMeter:   true,
		},
		Access: rig.SerialAccess("/dev/test", 9600),
	}
}

func TestMachineInitialState(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, StateDisconnected, m.State().Kind)
}

func TestMachineConnectTransition(t *testing.T) {
	m := NewMachine()
	assert.True(t, m.ProcessEvent(Event{Kind: EventConnected}))
	assert.Equal(t, StateConnecting, m.State().Kind)
}

func TestMachineFullLifecycle(t *testing.T) {
	m := NewMachine()

	m.ProcessEvent(Event{Kind: EventConnected})
	assert.Equal(t, StateConnecting, m.State().Kind)

	m.ProcessEvent(Event{Kind: EventInitialized})
	assert.Equal(t, StateInitializing, m.State().Kind)

	info := mockInfo()
	m.SetState(MachineState{Kind: StateInitializing, RigInfo: &info})
	m.ProcessEvent(Event{Kind: EventPoweredOn})
	assert.Equal(t, StateReady, m.State().Kind)

	m.ProcessEvent(Event{Kind: EventPttOn})
	assert.Equal(t, StateTransmitting, m.State().Kind)
	s := m.State()
	assert.True(t, s.IsTransmitting())

	m.ProcessEvent(Event{Kind: EventPttOff})
	assert.Equal(t, StateReady, m.State().Kind)

	m.ProcessEvent(Event{Kind: EventPoweredOff})
	assert.Equal(t, StatePoweredOff, m.State().Kind)
}

func TestMachineErrorAndRecovery(t *testing.T) {
	m := NewMachine()
	info := mockInfo()
	m.SetState(MachineState{Kind: StateReady, Ready: &ReadyData{RigInfo: info, Mode: rig.ModeUSB}})

	m.ProcessEvent(Event{Kind: EventError, Err: TransientError("test error")})
	assert.Equal(t, StateError, m.State().Kind)

	m.ProcessEvent(Event{Kind: EventRecovered})
	assert.Equal(t, StateReady, m.State().Kind)
}

func TestMachineFatalErrorRecoversToDisconnected(t *testing.T) {
	m := NewMachine()
	info := mockInfo()
	m.SetState(MachineState{Kind: StateReady, Ready: &ReadyData{RigInfo: info, Mode: rig.ModeUSB}})

	m.ProcessEvent(Event{Kind: EventError, Err: FatalError("device gone")})
	m.ProcessEvent(Event{Kind: EventRecovered})
	assert.Equal(t, StateDisconnected, m.State().Kind)
}

func TestMachineInvalidTransitionRefused(t *testing.T) {
	m := NewMachine()
	assert.False(t, m.ProcessEvent(Event{Kind: EventPttOn}))
	assert.Equal(t, StateDisconnected, m.State().Kind)
}

func TestMachinePttCarriesState(t *testing.T) {
	m := NewMachine()
	info := mockInfo()
	limit := uint8(80)
	m.SetState(MachineState{Kind: StateReady, Ready: &ReadyData{
		RigInfo: info,
		Freq:    rig.Frequency{Hz: 14_250_000},
		Mode:    rig.ModeUSB,
		TxLimit: &limit,
		Locked:  true,
	}})

	m.ProcessEvent(Event{Kind: EventPttOn})
	s := m.State()
	require.NotNil(t, s.Transmitting)
	assert.Equal(t, uint64(14_250_000), s.Transmitting.Freq.Hz)
	assert.True(t, s.Transmitting.Locked)
	require.NotNil(t, s.Transmitting.Tx)
	assert.Equal(t, uint8(80), *s.Transmitting.Tx.Limit)

	m.ProcessEvent(Event{Kind: EventPttOff})
	s = m.State()
	require.NotNil(t, s.Ready)
	assert.Equal(t, uint8(80), *s.Ready.TxLimit)
}

func TestMachineDisconnectFromAnyState(t *testing.T) {
	m := NewMachine()
	info := mockInfo()
	m.SetState(MachineState{Kind: StateTransmitting, Transmitting: &TransmittingData{RigInfo: info}})
	assert.True(t, m.ProcessEvent(Event{Kind: EventDisconnected}))
	assert.Equal(t, StateDisconnected, m.State().Kind)
}
