package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/metrics"
	"github.com/sgrams/trxd/pkg/rig"
)

const (
	// requestQueueCap bounds the MPSC between frontends and the
	// controller task.
	requestQueueCap = 32

	// tuneQuietWindow suspends polling after a tuning command so the
	// rig can settle.
	tuneQuietWindow = 200 * time.Millisecond

	// powerOnSettle is how long a rig gets to wake up after power on.
	powerOnSettle = 3 * time.Second
)

// Config parameterises a controller instance.
type Config struct {
	RigID       string
	DisplayName string

	Polling PollingPolicy
	Retry   RetryPolicy

	InitialFreqHz uint64
	InitialMode   rig.Mode

	Callsign  string
	Version   string
	Latitude  *float64
	Longitude *float64

	// EnqueueTimeout bounds how long a frontend waits for queue space.
	EnqueueTimeout time.Duration
	// RoundTripTimeout bounds a full request round trip.
	RoundTripTimeout time.Duration

	// ClearAprsHistory and ClearFt8History run when the matching
	// decoder reset command arrives. Either may be nil.
	ClearAprsHistory func()
	ClearFt8History  func()

	// PowerOnSettle is how long a rig gets to wake up after power on.
	PowerOnSettle time.Duration
}

func (c *Config) applyDefaults() {
	if c.RigID == "" {
		c.RigID = "default"
	}
	if c.Polling == nil {
		c.Polling = DefaultPolling()
	}
	if c.Retry == nil {
		c.Retry = DefaultBackoff()
	}
	if c.InitialFreqHz == 0 {
		c.InitialFreqHz = 144_300_000
	}
	if c.InitialMode == "" {
		c.InitialMode = rig.ModeUSB
	}
	if c.EnqueueTimeout == 0 {
		c.EnqueueTimeout = 10 * time.Second
	}
	if c.RoundTripTimeout == 0 {
		c.RoundTripTimeout = 12 * time.Second
	}
	if c.PowerOnSettle == 0 {
		c.PowerOnSettle = powerOnSettle
	}
}

// Reply is the controller's answer to one request.
type Reply struct {
	Snap rig.Snapshot
	Err  error
}

// Request is one command plus its reply channel (capacity 1).
type Request struct {
	Cmd   rig.Command
	Reply chan Reply
}

// ErrQueueTimeout is reported when the request channel stays full.
var ErrQueueTimeout = fmt.Errorf("request queue timeout")

// Controller owns a backend and serialises all access to it. Exactly
// one goroutine (Run) touches the backend.
type Controller struct {
	cfg     Config
	backend rig.Backend

	reqs    chan Request
	watch   *broadcast.Watch[rig.State]
	machine *Machine
	emitter *Emitter

	state          rig.State
	pollPauseUntil time.Time
	lastPowerOn    time.Time
}

// New builds a controller around backend. Listeners must be registered
// before Run starts.
func New(cfg Config, backend rig.Backend) *Controller {
	cfg.applyDefaults()
	state := rig.NewState(cfg.Callsign, cfg.Version, cfg.Latitude, cfg.Longitude,
		cfg.InitialFreqHz, cfg.InitialMode)
	return &Controller{
		cfg:     cfg,
		backend: backend,
		reqs:    make(chan Request, requestQueueCap),
		watch:   broadcast.NewWatch(state),
		machine: NewMachine(),
		emitter: NewEmitter(),
	}
}

// RigID returns the controller's rig identifier.
func (c *Controller) RigID() string {
	return c.cfg.RigID
}

// DisplayName returns the human-readable rig name.
func (c *Controller) DisplayName() string {
	if c.cfg.DisplayName != "" {
		return c.cfg.DisplayName
	}
	info := c.backend.Info()
	return fmt.Sprintf("%s %s", info.Manufacturer, info.Model)
}

// Backend exposes the owned backend for capability discovery only
// (audio source, spectrum). CAT access stays with the controller.
func (c *Controller) Backend() rig.Backend {
	return c.backend
}

// StateWatch returns the snapshot watch channel.
func (c *Controller) StateWatch() *broadcast.Watch[rig.State] {
	return c.watch
}

// Listeners returns the event emitter for registration before Run.
func (c *Controller) Listeners() *Emitter {
	return c.emitter
}

// Do submits a command and waits for the reply. Enqueueing times out
// with ErrQueueTimeout; the round trip is bounded by RoundTripTimeout.
func (c *Controller) Do(ctx context.Context, cmd rig.Command) (rig.Snapshot, error) {
	req := Request{Cmd: cmd, Reply: make(chan Reply, 1)}

	enqueue := time.NewTimer(c.cfg.EnqueueTimeout)
	defer enqueue.Stop()
	select {
	case c.reqs <- req:
	case <-enqueue.C:
		return rig.Snapshot{}, ErrQueueTimeout
	case <-ctx.Done():
		return rig.Snapshot{}, ctx.Err()
	}

	total := time.NewTimer(c.cfg.RoundTripTimeout)
	defer total.Stop()
	select {
	case reply := <-req.Reply:
		return reply.Snap, reply.Err
	case <-total.C:
		return rig.Snapshot{}, fmt.Errorf("rig request timed out")
	case <-ctx.Done():
		return rig.Snapshot{}, ctx.Err()
	}
}

// Run drives the backend until ctx is cancelled. It performs the
// power-on and initial-tune sequence, then selects over the polling
// timer and the request channel.
func (c *Controller) Run(ctx context.Context) error {
	info := c.backend.Info()
	logging.Info("controller", fmt.Sprintf("[%s] backend ready: %s %s %s",
		c.cfg.RigID, info.Manufacturer, info.Model, info.Revision))

	c.machine.ProcessEvent(Event{Kind: EventConnected})
	c.machine.ProcessEvent(Event{Kind: EventInitialized})
	c.state.RigInfo = &info
	c.syncMachine()
	c.publish()

	initialStatusRead := c.initialPowerOn(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := c.primeVfoState(ctx); err != nil {
		logging.Warn("controller", fmt.Sprintf("[%s] VFO priming failed: %v", c.cfg.RigID, err))
	} else {
		initialStatusRead = true
	}

	if initialStatusRead {
		old := c.state.Clone()
		if err := c.applyInitialTune(ctx); err != nil {
			logging.Warn("controller", fmt.Sprintf("[%s] initial tune failed (continuing): %v", c.cfg.RigID, err))
		} else {
			c.syncAndEmit(&old)
		}
	}

	c.state.Initialized = true
	c.syncMachine()
	c.publish()

	pollInterval := c.cfg.Polling.Interval(c.state.Status.TxEn)
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		next := c.cfg.Polling.Interval(c.state.Status.TxEn)
		if next != pollInterval {
			pollInterval = next
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pollInterval)
		}

		select {
		case <-ctx.Done():
			logging.Info("controller", fmt.Sprintf("[%s] shutting down", c.cfg.RigID))
			return ctx.Err()

		case <-timer.C:
			timer.Reset(pollInterval)
			c.pollOnce(ctx)

		case req, okCh := <-c.reqs:
			if !okCh {
				return nil
			}
			// Coalesce bursts: drain whatever else is queued and
			// process the batch in one pass.
			batch := []Request{req}
		drain:
			for {
				select {
				case next := <-c.reqs:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			for _, r := range batch {
				started := time.Now()
				snap, err := c.processCommand(ctx, r.Cmd)
				r.Reply <- Reply{Snap: snap, Err: err}
				if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
					logging.Warn("controller", fmt.Sprintf("[%s] command %s took %v", c.cfg.RigID, r.Cmd, elapsed))
				}
			}
		}
	}
}

// initialPowerOn wakes the rig and reads its first status. Some rigs
// emit garbage CAT bytes while waking, so a failed first refresh is
// retried once after 500 ms; a second failure is reported and the
// controller continues.
func (c *Controller) initialPowerOn(ctx context.Context) bool {
	if c.state.PowerOn() {
		return false
	}
	logging.Info("controller", fmt.Sprintf("[%s] sending initial PowerOn to wake rig", c.cfg.RigID))
	if err := c.backend.PowerOn(ctx); err != nil {
		logging.Warn("controller", fmt.Sprintf("[%s] initial PowerOn failed (continuing): %v", c.cfg.RigID, err))
		return false
	}
	enabled := true
	c.state.Control.Enabled = &enabled
	sleepCtx(ctx, c.cfg.PowerOnSettle)

	if err := c.refreshWithRetry(ctx); err != nil {
		logging.Warn("controller", fmt.Sprintf("[%s] initial refresh failed, retrying once: %v", c.cfg.RigID, err))
		sleepCtx(ctx, 500*time.Millisecond)
		if err2 := c.refreshWithRetry(ctx); err2 != nil {
			logging.Warn("controller", fmt.Sprintf("[%s] second initial refresh failed (continuing): %v", c.cfg.RigID, err2))
			return false
		}
	}
	logging.Info("controller", fmt.Sprintf("[%s] rig initialized after power on", c.cfg.RigID))
	return true
}

// primeVfoState reads, toggles, reads and toggles back so both VFO
// registers are known.
func (c *Controller) primeVfoState(ctx context.Context) error {
	caps := c.backend.Info().Capabilities
	if caps.Lockable {
		_ = c.backend.Unlock(ctx)
		sleepCtx(ctx, 100*time.Millisecond)
	}

	if err := c.refreshWithRetry(ctx); err != nil {
		return err
	}
	if !caps.VfoSwitch {
		return nil
	}
	sleepCtx(ctx, 150*time.Millisecond)

	if err := c.backend.ToggleVfo(ctx); err != nil {
		return err
	}
	sleepCtx(ctx, 150*time.Millisecond)
	if err := c.refreshWithRetry(ctx); err != nil {
		return err
	}

	if err := c.backend.ToggleVfo(ctx); err != nil {
		return err
	}
	sleepCtx(ctx, 150*time.Millisecond)
	return c.refreshWithRetry(ctx)
}

// applyInitialTune pushes the configured frequency and mode when the
// rig reports something else: mode first, then frequency, then re-read.
func (c *Controller) applyInitialTune(ctx context.Context) error {
	needsFreq := c.state.Status.Freq.Hz != c.cfg.InitialFreqHz
	needsMode := c.state.Status.Mode != c.cfg.InitialMode
	if !needsFreq && !needsMode {
		return nil
	}
	if needsMode {
		if err := c.backend.SetMode(ctx, c.cfg.InitialMode); err != nil {
			return err
		}
	}
	if needsFreq {
		if err := c.backend.SetFreq(ctx, rig.Frequency{Hz: c.cfg.InitialFreqHz}); err != nil {
			return err
		}
	}
	return c.refreshWithRetry(ctx)
}

// pollOnce refreshes state from CAT, honouring the quiet window.
func (c *Controller) pollOnce(ctx context.Context) {
	if !c.cfg.Polling.ShouldPoll(c.state.Status.TxEn) {
		return
	}
	if !c.pollPauseUntil.IsZero() {
		if time.Now().Before(c.pollPauseUntil) {
			return
		}
		c.pollPauseUntil = time.Time{}
	}
	if c.state.Control.Enabled != nil && !*c.state.Control.Enabled {
		return
	}

	metrics.PollsTotal.WithLabelValues(c.cfg.RigID).Inc()
	old := c.state.Clone()
	if err := c.refreshWithRetry(ctx); err != nil {
		metrics.PollErrors.WithLabelValues(c.cfg.RigID).Inc()
		logging.Error("controller", fmt.Sprintf("[%s] CAT polling error: %v", c.cfg.RigID, err))
		// Absorb wake-up noise right after power on.
		if !c.lastPowerOn.IsZero() && time.Since(c.lastPowerOn) < 5*time.Second {
			c.pollPauseUntil = time.Now().Add(800 * time.Millisecond)
		}
		return
	}
	c.syncAndEmit(&old)
	c.publish()
}

// processCommand runs one command through classify → execute → apply →
// refresh → publish.
func (c *Controller) processCommand(ctx context.Context, cmd rig.Command) (rig.Snapshot, error) {
	metrics.CommandsTotal.WithLabelValues(c.cfg.RigID, cmd.Kind.String()).Inc()

	// Decoder toggles mutate the server-side section only and never
	// touch the rig.
	if cmd.IsDecoderCommand() {
		c.applyDecoderCommand(cmd)
		c.publish()
		return c.snapshot()
	}

	c.syncMachine()

	if !c.state.Initialized && cmd.Kind != rig.CmdPowerOn && cmd.Kind != rig.CmdGetSnapshot {
		metrics.CommandErrors.WithLabelValues(c.cfg.RigID, cmd.Kind.String()).Inc()
		return rig.Snapshot{}, rig.ErrInvalidState("rig not initialized yet")
	}

	h := handlerFor(cmd)
	caps := c.backend.Info().Capabilities
	hc := handlerContext{state: c.machine.State(), caps: &caps}
	if v := h.validate(&hc); v.Verdict != VerdictOk {
		metrics.CommandErrors.WithLabelValues(c.cfg.RigID, cmd.Kind.String()).Inc()
		logging.Warn("controller", fmt.Sprintf("[%s] %s blocked: %s", c.cfg.RigID, h.name, v.Reason))
		return rig.Snapshot{}, rig.ErrInvalidState(v.Reason)
	}

	old := c.state.Clone()
	result, err := c.executeWithRetry(ctx, h)
	if err != nil {
		metrics.CommandErrors.WithLabelValues(c.cfg.RigID, cmd.Kind.String()).Inc()
		logging.Error("controller", fmt.Sprintf("[%s] command %s failed: %v", c.cfg.RigID, h.name, err))
		return rig.Snapshot{}, fmt.Errorf("CAT error: %w", err)
	}

	if err := c.applyResult(ctx, cmd, result); err != nil {
		metrics.CommandErrors.WithLabelValues(c.cfg.RigID, cmd.Kind.String()).Inc()
		return rig.Snapshot{}, err
	}

	c.syncAndEmit(&old)
	c.publish()
	return c.snapshot()
}

// applyDecoderCommand folds a decoder toggle into the server-side
// snapshot section, bumping the reset sequence where needed.
func (c *Controller) applyDecoderCommand(cmd rig.Command) {
	d := &c.state.Decoders
	switch cmd.Kind {
	case rig.CmdSetAprsDecodeEnabled:
		d.AprsEnabled = cmd.Enabled
	case rig.CmdSetCwDecodeEnabled:
		d.CwEnabled = cmd.Enabled
	case rig.CmdSetCwAuto:
		d.CwAuto = cmd.Enabled
	case rig.CmdSetCwWpm:
		d.CwWpm = clampU32(cmd.Wpm, 5, 40)
	case rig.CmdSetCwToneHz:
		d.CwToneHz = clampU32(cmd.ToneHz, 300, 1200)
	case rig.CmdSetFt8DecodeEnabled:
		d.Ft8Enabled = cmd.Enabled
	case rig.CmdSetWsprDecodeEnabled:
		d.WsprEnabled = cmd.Enabled
	case rig.CmdResetAprsDecoder:
		if c.cfg.ClearAprsHistory != nil {
			c.cfg.ClearAprsHistory()
		}
		d.AprsResetSeq++
	case rig.CmdResetCwDecoder:
		d.CwResetSeq++
	case rig.CmdResetFt8Decoder:
		if c.cfg.ClearFt8History != nil {
			c.cfg.ClearFt8History()
		}
		d.Ft8ResetSeq++
	case rig.CmdResetWsprDecoder:
		d.WsprResetSeq++
	}
}

// executeWithRetry runs the handler, retrying transient failures per
// the retry policy.
func (c *Controller) executeWithRetry(ctx context.Context, h *handler) (CommandResult, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.Retry.MaxAttempts(); attempt++ {
		result, err := h.execute(ctx, c.backend)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !c.cfg.Retry.ShouldRetry(attempt, err) {
			return CommandResult{}, err
		}
		delay := c.cfg.Retry.Delay(attempt)
		metrics.RetriesTotal.WithLabelValues(c.cfg.RigID).Inc()
		logging.Warn("controller", fmt.Sprintf("[%s] retrying %s (attempt %d, delay %v)",
			c.cfg.RigID, h.name, attempt+1, delay))
		sleepCtx(ctx, delay)
		if ctx.Err() != nil {
			return CommandResult{}, ctx.Err()
		}
	}
	return CommandResult{}, lastErr
}

// applyResult folds a CommandResult back into state, scheduling quiet
// windows and refreshes as the command demands.
func (c *Controller) applyResult(ctx context.Context, cmd rig.Command, result CommandResult) error {
	switch result.Kind {
	case ResultFreqUpdated:
		c.state.ApplyFreq(result.Freq)
		c.pollPauseUntil = time.Now().Add(tuneQuietWindow)
	case ResultModeUpdated:
		c.state.ApplyMode(result.Mode)
		c.pollPauseUntil = time.Now().Add(tuneQuietWindow)
	case ResultPttUpdated:
		c.state.ApplyPtt(result.Ptt)
	case ResultPowerUpdated:
		on := result.Power
		c.state.Control.Enabled = &on
		if on {
			sleepCtx(ctx, c.cfg.PowerOnSettle)
			now := time.Now()
			c.pollPauseUntil = now.Add(c.cfg.PowerOnSettle)
			c.lastPowerOn = now
			if err := c.refreshWithRetry(ctx); err != nil {
				if rig.ProtocolErr(err) {
					logging.Warn("controller", fmt.Sprintf("[%s] transient CAT decode after PowerOn (ignored): %v", c.cfg.RigID, err))
					c.pollPauseUntil = time.Now().Add(1500 * time.Millisecond)
				} else {
					return fmt.Errorf("CAT error after power on: %w", err)
				}
			}
		} else {
			c.state.Status.TxEn = false
		}
	case ResultLockUpdated:
		locked := result.Lock
		c.state.Control.Lock = &locked
		c.state.Status.Lock = &locked
	case ResultTxLimitUpdated:
		limit := result.Limit
		if c.state.Status.Tx == nil {
			c.state.Status.Tx = &rig.TxStatus{}
		}
		c.state.Status.Tx.Limit = &limit
	case ResultRefreshRequired:
		if cmd.Kind == rig.CmdToggleVfo {
			sleepCtx(ctx, 150*time.Millisecond)
			c.pollPauseUntil = time.Now().Add(300 * time.Millisecond)
		}
		if err := c.refreshWithRetry(ctx); err != nil {
			return fmt.Errorf("CAT error: %w", err)
		}
	case ResultOk:
	}
	return nil
}

// refreshWithRetry reads status from CAT with the retry policy applied
// to transient failures.
func (c *Controller) refreshWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.Retry.MaxAttempts(); attempt++ {
		err := c.refreshFromCat(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !c.cfg.Retry.ShouldRetry(attempt, err) || attempt+1 >= c.cfg.Retry.MaxAttempts() {
			return err
		}
		delay := c.cfg.Retry.Delay(attempt)
		metrics.RetriesTotal.WithLabelValues(c.cfg.RigID).Inc()
		logging.Warn("controller", fmt.Sprintf("[%s] retrying CAT state read (attempt %d of %d, delay %v)",
			c.cfg.RigID, attempt+1, c.cfg.Retry.MaxAttempts(), delay))
		sleepCtx(ctx, delay)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// refreshFromCat reads status and meters. Signal strength is read only
// while receiving, TX power only while transmitting; either failing is
// not fatal to the poll.
func (c *Controller) refreshFromCat(ctx context.Context) error {
	freq, mode, vfo, err := c.backend.GetStatus(ctx)
	if err != nil {
		return err
	}
	enabled := true
	c.state.Control.Enabled = &enabled
	c.state.ApplyFreq(freq)
	c.state.ApplyMode(mode)
	c.state.Status.Vfo = vfo

	if c.state.Status.TxEn {
		zero := 0
		if c.state.Status.Rx == nil {
			c.state.Status.Rx = &rig.RxStatus{}
		}
		c.state.Status.Rx.Sig = &zero
	} else if meter, err := c.backend.GetSignalStrength(ctx); err == nil {
		sig := mapSignalStrength(c.state.Status.Mode, meter)
		if c.state.Status.Rx == nil {
			c.state.Status.Rx = &rig.RxStatus{}
		}
		c.state.Status.Rx.Sig = &sig
	}

	if limit, err := c.backend.GetTxLimit(ctx); err == nil {
		if c.state.Status.Tx == nil {
			c.state.Status.Tx = &rig.TxStatus{}
		}
		l := limit
		c.state.Status.Tx.Limit = &l
	}

	if c.state.Status.TxEn {
		if power, err := c.backend.GetTxPower(ctx); err == nil {
			if c.state.Status.Tx == nil {
				c.state.Status.Tx = &rig.TxStatus{}
			}
			p := power
			c.state.Status.Tx.Power = &p
		}
	}

	if fc := rig.AsFilterControl(c.backend); fc != nil {
		c.state.Filter = fc.FilterState()
	}
	if rs := rig.AsRdsSource(c.backend); rs != nil {
		c.state.Rds = rs.RdsState()
	}

	lock := c.state.LockState()
	c.state.Status.Lock = &lock
	return nil
}

// mapSignalStrength converts the raw meter byte to approximate dBm.
// FM squelch meters sit a little higher than the SSB S-meter.
func mapSignalStrength(mode rig.Mode, raw uint8) int {
	switch mode {
	case rig.ModeFM, rig.ModeWFM:
		return -120 + int(raw)*6
	default:
		return -127 + int(raw)*6
	}
}

// syncMachine derives the machine state from the status record. The
// machine is a pure function of the snapshot fields.
func (c *Controller) syncMachine() {
	desired := c.desiredMachineState()
	cur := c.machine.State()
	if cur.Kind == desired.Kind {
		switch cur.Kind {
		case StateReady, StateTransmitting:
			c.machine.SetState(desired)
		}
		return
	}
	c.machine.SetState(desired)
}

func (c *Controller) desiredMachineState() MachineState {
	if !c.state.Initialized {
		if c.state.RigInfo != nil {
			return MachineState{Kind: StateInitializing, RigInfo: c.state.RigInfo}
		}
		return MachineState{Kind: StateDisconnected}
	}
	if c.state.RigInfo == nil {
		return MachineState{Kind: StateDisconnected}
	}
	if c.state.Control.Enabled != nil && !*c.state.Control.Enabled {
		return MachineState{Kind: StatePoweredOff, RigInfo: c.state.RigInfo}
	}

	var txLimit *uint8
	if c.state.Status.Tx != nil {
		txLimit = c.state.Status.Tx.Limit
	}
	if c.state.Status.TxEn {
		return MachineState{Kind: StateTransmitting, Transmitting: &TransmittingData{
			RigInfo: *c.state.RigInfo,
			Freq:    c.state.Status.Freq,
			Mode:    c.state.Status.Mode,
			Vfo:     c.state.Status.Vfo,
			Tx:      c.state.Status.Tx,
			Locked:  c.state.LockState(),
		}}
	}
	return MachineState{Kind: StateReady, Ready: &ReadyData{
		RigInfo: *c.state.RigInfo,
		Freq:    c.state.Status.Freq,
		Mode:    c.state.Status.Mode,
		Vfo:     c.state.Status.Vfo,
		Rx:      c.state.Status.Rx,
		TxLimit: txLimit,
		Locked:  c.state.LockState(),
	}}
}

// syncAndEmit updates the machine and notifies listeners of every
// observable difference between old and the current state.
func (c *Controller) syncAndEmit(old *rig.State) {
	oldMachine := c.machine.State()
	c.syncMachine()
	newMachine := c.machine.State()

	cur := &c.state
	if old.Status.Freq.Hz != cur.Status.Freq.Hz {
		f := old.Status.Freq
		c.emitter.frequencyChange(&f, cur.Status.Freq)
	}
	if old.Status.Mode != cur.Status.Mode {
		m := old.Status.Mode
		c.emitter.modeChange(&m, cur.Status.Mode)
	}
	if old.Status.TxEn != cur.Status.TxEn {
		c.emitter.pttChange(cur.Status.TxEn)
	}
	if old.LockState() != cur.LockState() {
		c.emitter.lockChange(cur.LockState())
	}
	if old.PowerOn() != cur.PowerOn() {
		c.emitter.powerChange(cur.PowerOn())
	}
	if metersChanged(old, cur) {
		c.emitter.meterUpdate(cur.Status.Rx, cur.Status.Tx)
	}
	if oldMachine.Kind != newMachine.Kind {
		c.emitter.stateChange(oldMachine, newMachine)
	}
}

func metersChanged(old, cur *rig.State) bool {
	if sigOf(old) != sigOf(cur) {
		return true
	}
	op, ol, os, oa := txParts(old.Status.Tx)
	np, nl, ns, na := txParts(cur.Status.Tx)
	return op != np || ol != nl || os != ns || oa != na
}

func sigOf(s *rig.State) int {
	if s.Status.Rx != nil && s.Status.Rx.Sig != nil {
		return *s.Status.Rx.Sig
	}
	return -1 << 30
}

func txParts(tx *rig.TxStatus) (power, limit int, swr float32, alc int) {
	power, limit, alc = -1, -1, -1
	if tx == nil {
		return
	}
	if tx.Power != nil {
		power = int(*tx.Power)
	}
	if tx.Limit != nil {
		limit = int(*tx.Limit)
	}
	if tx.Swr != nil {
		swr = *tx.Swr
	}
	if tx.Alc != nil {
		alc = int(*tx.Alc)
	}
	return
}

func (c *Controller) publish() {
	c.watch.Set(c.state.Clone())
}

func (c *Controller) snapshot() (rig.Snapshot, error) {
	snap, okSnap := c.state.Snapshot()
	if !okSnap {
		return rig.Snapshot{}, rig.ErrInvalidState("rig info unavailable")
	}
	return snap, nil
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
