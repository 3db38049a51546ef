package controller

import "github.com/sgrams/trxd/pkg/rig"

// Listener receives typed notifications when rig state changes.
// Embed NopListener to pick only the events you care about.
type Listener interface {
	OnFrequencyChange(old *rig.Frequency, cur rig.Frequency)
	OnModeChange(old *rig.Mode, cur rig.Mode)
	OnPttChange(transmitting bool)
	OnStateChange(old, cur MachineState)
	OnMeterUpdate(rx *rig.RxStatus, tx *rig.TxStatus)
	OnLockChange(locked bool)
	OnPowerChange(powered bool)
}

// NopListener implements Listener with no-ops.
type NopListener struct{}

func (NopListener) OnFrequencyChange(*rig.Frequency, rig.Frequency) {}
func (NopListener) OnModeChange(*rig.Mode, rig.Mode)                {}
func (NopListener) OnPttChange(bool)                                {}
func (NopListener) OnStateChange(MachineState, MachineState)        {}
func (NopListener) OnMeterUpdate(*rig.RxStatus, *rig.TxStatus)      {}
func (NopListener) OnLockChange(bool)                               {}
func (NopListener) OnPowerChange(bool)                              {}

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

// Emitter dispatches typed events to registered listeners. All calls
// happen on the controller goroutine; listeners must not block.
type Emitter struct {
	listeners map[ListenerID]Listener
	nextID    ListenerID
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[ListenerID]Listener)}
}

// Register adds a listener and returns its removal handle.
func (e *Emitter) Register(l Listener) ListenerID {
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	return id
}

// Unregister removes a listener.
func (e *Emitter) Unregister(id ListenerID) {
	delete(e.listeners, id)
}

// Count returns the number of registered listeners.
func (e *Emitter) Count() int {
	return len(e.listeners)
}

func (e *Emitter) frequencyChange(old *rig.Frequency, cur rig.Frequency) {
	for _, l := range e.listeners {
		l.OnFrequencyChange(old, cur)
	}
}

func (e *Emitter) modeChange(old *rig.Mode, cur rig.Mode) {
	for _, l := range e.listeners {
		l.OnModeChange(old, cur)
	}
}

func (e *Emitter) pttChange(transmitting bool) {
	for _, l := range e.listeners {
		l.OnPttChange(transmitting)
	}
}

func (e *Emitter) stateChange(old, cur MachineState) {
	for _, l := range e.listeners {
		l.OnStateChange(old, cur)
	}
}

func (e *Emitter) meterUpdate(rx *rig.RxStatus, tx *rig.TxStatus) {
	for _, l := range e.listeners {
		l.OnMeterUpdate(rx, tx)
	}
}

func (e *Emitter) lockChange(locked bool) {
	for _, l := range e.listeners {
		l.OnLockChange(locked)
	}
}

func (e *Emitter) powerChange(powered bool) {
	for _, l := range e.listeners {
		l.OnPowerChange(powered)
	}
}
