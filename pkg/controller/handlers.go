package controller

import (
	"context"
	"fmt"

	"github.com/sgrams/trxd/pkg/rig"
)

// Verdict is the outcome of command validation.
type Verdict int

const (
	VerdictOk Verdict = iota
	VerdictLocked
	VerdictInvalidState
	VerdictInvalidParams
)

// Validation pairs a verdict with its reason.
type Validation struct {
	Verdict Verdict
	Reason  string
}

func ok() Validation                  { return Validation{Verdict: VerdictOk} }
func locked() Validation              { return Validation{Verdict: VerdictLocked, Reason: "panel is locked"} }
func invalidState(r string) Validation { return Validation{Verdict: VerdictInvalidState, Reason: r} }
func invalidParams(r string) Validation {
	return Validation{Verdict: VerdictInvalidParams, Reason: r}
}

// ResultKind tags the state update a command produced.
type ResultKind int

const (
	ResultOk ResultKind = iota
	ResultFreqUpdated
	ResultModeUpdated
	ResultPttUpdated
	ResultPowerUpdated
	ResultLockUpdated
	ResultTxLimitUpdated
	ResultRefreshRequired
)

// CommandResult tells the controller how to fold an executed command
// back into state.
type CommandResult struct {
	Kind  ResultKind
	Freq  rig.Frequency
	Mode  rig.Mode
	Ptt   bool
	Power bool
	Lock  bool
	Limit uint8
}

// handlerContext is the read-only view handlers validate against:
// machine state plus capability set, never the backend.
type handlerContext struct {
	state MachineState
	caps  *rig.Capabilities
}

// handler classifies and executes one command.
type handler struct {
	name     string
	validate func(hc *handlerContext) Validation
	execute  func(ctx context.Context, b rig.Backend) (CommandResult, error)
}

func requireReady(hc *handlerContext) Validation {
	if !hc.state.CanExecuteCommands() {
		return invalidState(fmt.Sprintf("rig is %s", hc.state.Kind))
	}
	return ok()
}

func requireReadyUnlocked(hc *handlerContext) Validation {
	if v := requireReady(hc); v.Verdict != VerdictOk {
		return v
	}
	if hc.state.IsLocked() {
		return locked()
	}
	return ok()
}

// handlerFor builds the handler object for cmd. Decoder commands never
// reach here; the controller resolves them before validation.
func handlerFor(cmd rig.Command) *handler {
	switch cmd.Kind {
	case rig.CmdGetSnapshot:
		return &handler{
			name:     "GetSnapshot",
			validate: func(*handlerContext) Validation { return ok() },
			execute: func(context.Context, rig.Backend) (CommandResult, error) {
				return CommandResult{Kind: ResultOk}, nil
			},
		}

	case rig.CmdSetFreq:
		return &handler{
			name: "SetFreq",
			validate: func(hc *handlerContext) Validation {
				if v := requireReadyUnlocked(hc); v.Verdict != VerdictOk {
					return v
				}
				if !hc.caps.SupportsFreq(cmd.Freq) {
					return invalidParams(fmt.Sprintf("frequency %d Hz outside supported bands", cmd.Freq.Hz))
				}
				return ok()
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				if err := b.SetFreq(ctx, cmd.Freq); err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultFreqUpdated, Freq: cmd.Freq}, nil
			},
		}

	case rig.CmdSetMode:
		return &handler{
			name: "SetMode",
			validate: func(hc *handlerContext) Validation {
				if v := requireReadyUnlocked(hc); v.Verdict != VerdictOk {
					return v
				}
				if len(hc.caps.SupportedModes) > 0 && !hc.caps.SupportsMode(cmd.Mode) {
					return invalidParams(fmt.Sprintf("mode %s not supported", cmd.Mode))
				}
				return ok()
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				if err := b.SetMode(ctx, cmd.Mode); err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultModeUpdated, Mode: cmd.Mode}, nil
			},
		}

	case rig.CmdSetPtt:
		return &handler{
			name: "SetPtt",
			validate: func(hc *handlerContext) Validation {
				if !hc.caps.Tx {
					return invalidState("backend cannot transmit")
				}
				if cmd.Ptt {
					if hc.state.Kind != StateReady {
						return invalidState(fmt.Sprintf("cannot key up while %s", hc.state.Kind))
					}
				} else if hc.state.Kind != StateTransmitting {
					return invalidState("not transmitting")
				}
				return ok()
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				if err := b.SetPtt(ctx, cmd.Ptt); err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultPttUpdated, Ptt: cmd.Ptt}, nil
			},
		}

	case rig.CmdPowerOn:
		return &handler{
			name: "PowerOn",
			validate: func(hc *handlerContext) Validation {
				if hc.state.Kind == StateTransmitting {
					return invalidState("cannot power cycle while transmitting")
				}
				return ok()
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				if err := b.PowerOn(ctx); err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultPowerUpdated, Power: true}, nil
			},
		}

	case rig.CmdPowerOff:
		return &handler{
			name: "PowerOff",
			validate: func(hc *handlerContext) Validation {
				if hc.state.Kind == StateTransmitting {
					return invalidState("cannot power off while transmitting")
				}
				return ok()
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				if err := b.PowerOff(ctx); err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultPowerUpdated, Power: false}, nil
			},
		}

	case rig.CmdToggleVfo:
		return &handler{
			name: "ToggleVfo",
			validate: func(hc *handlerContext) Validation {
				if !hc.caps.VfoSwitch {
					return invalidState("backend has no VFO switch")
				}
				return requireReadyUnlocked(hc)
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				if err := b.ToggleVfo(ctx); err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultRefreshRequired}, nil
			},
		}

	case rig.CmdLock:
		return &handler{
			name: "Lock",
			validate: func(hc *handlerContext) Validation {
				if !hc.caps.Lockable {
					return invalidState("backend has no panel lock")
				}
				return requireReady(hc)
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				if err := b.Lock(ctx); err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultLockUpdated, Lock: true}, nil
			},
		}

	case rig.CmdUnlock:
		return &handler{
			name: "Unlock",
			validate: func(hc *handlerContext) Validation {
				if !hc.caps.Lockable {
					return invalidState("backend has no panel lock")
				}
				return requireReady(hc)
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				if err := b.Unlock(ctx); err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultLockUpdated, Lock: false}, nil
			},
		}

	case rig.CmdGetTxLimit:
		return &handler{
			name: "GetTxLimit",
			validate: func(hc *handlerContext) Validation {
				if !hc.caps.TxLimit {
					return invalidState("backend has no TX limit")
				}
				return requireReady(hc)
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				limit, err := b.GetTxLimit(ctx)
				if err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultTxLimitUpdated, Limit: limit}, nil
			},
		}

	case rig.CmdSetTxLimit:
		return &handler{
			name: "SetTxLimit",
			validate: func(hc *handlerContext) Validation {
				if !hc.caps.TxLimit {
					return invalidState("backend has no TX limit")
				}
				return requireReadyUnlocked(hc)
			},
			execute: func(ctx context.Context, b rig.Backend) (CommandResult, error) {
				if err := b.SetTxLimit(ctx, cmd.Limit); err != nil {
					return CommandResult{}, err
				}
				return CommandResult{Kind: ResultTxLimitUpdated, Limit: cmd.Limit}, nil
			},
		}
	}

	name := cmd.Kind.String()
	return &handler{
		name: name,
		validate: func(*handlerContext) Validation {
			return invalidParams(fmt.Sprintf("unhandled command %s", name))
		},
		execute: func(context.Context, rig.Backend) (CommandResult, error) {
			return CommandResult{}, rig.ErrInvalidState("unhandled command " + name)
		},
	}
}
