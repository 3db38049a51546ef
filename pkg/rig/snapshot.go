package rig

// DecoderSettings is the server-side decoder section of the state.
// Reset sequence numbers are monotonic; decoder tasks observe a bump
// and drop their accumulated state.
type DecoderSettings struct {
	AprsEnabled bool   `json:"aprs_enabled"`
	CwEnabled   bool   `json:"cw_enabled"`
	CwAuto      bool   `json:"cw_auto"`
	CwWpm       uint32 `json:"cw_wpm"`
	CwToneHz    uint32 `json:"cw_tone_hz"`
	Ft8Enabled  bool   `json:"ft8_enabled"`
	WsprEnabled bool   `json:"wspr_enabled"`

	AprsResetSeq uint64 `json:"aprs_reset_seq"`
	CwResetSeq   uint64 `json:"cw_reset_seq"`
	Ft8ResetSeq  uint64 `json:"ft8_reset_seq"`
	WsprResetSeq uint64 `json:"wspr_reset_seq"`
}

// State is the mutable record owned by the controller task. Only the
// controller writes it; everyone else sees Snapshot values through the
// watch channel.
type State struct {
	RigInfo     *Info           `json:"rig_info,omitempty"`
	Status      Status          `json:"status"`
	Control     Control         `json:"control"`
	Initialized bool            `json:"initialized"`
	Callsign    string          `json:"callsign,omitempty"`
	Version     string          `json:"version,omitempty"`
	Latitude    *float64        `json:"latitude,omitempty"`
	Longitude   *float64        `json:"longitude,omitempty"`
	Decoders    DecoderSettings `json:"decoders"`
	Filter      *FilterState    `json:"filter,omitempty"`
	Rds         *RdsState       `json:"rds,omitempty"`
}

// NewState seeds a state record with server metadata and the initial
// tuning targets.
func NewState(callsign, version string, lat, lon *float64, initialFreqHz uint64, initialMode Mode) State {
	return State{
		Status: Status{
			Freq: Frequency{Hz: initialFreqHz},
			Mode: initialMode,
		},
		Callsign:  callsign,
		Version:   version,
		Latitude:  lat,
		Longitude: lon,
		Decoders: DecoderSettings{
			CwWpm:    20,
			CwToneHz: 700,
		},
	}
}

// ApplyFreq records a confirmed frequency change.
func (s *State) ApplyFreq(f Frequency) {
	s.Status.Freq = f
}

// ApplyMode records a confirmed mode change.
func (s *State) ApplyMode(m Mode) {
	s.Status.Mode = m
}

// ApplyPtt records a confirmed PTT change.
func (s *State) ApplyPtt(on bool) {
	s.Status.TxEn = on
}

// PowerOn reports whether the rig is believed to be powered up.
func (s *State) PowerOn() bool {
	return s.Control.Enabled != nil && *s.Control.Enabled
}

// LockState resolves the effective panel lock from control intent and
// the last status read.
func (s *State) LockState() bool {
	if s.Control.Lock != nil {
		return *s.Control.Lock
	}
	if s.Status.Lock != nil {
		return *s.Status.Lock
	}
	return false
}

// Snapshot is the immutable value object published to frontends. It is
// the only shape clients ever see.
type Snapshot struct {
	Info        Info            `json:"info"`
	Status      Status          `json:"status"`
	Band        string          `json:"band,omitempty"`
	PowerOn     bool            `json:"power_on"`
	Initialized bool            `json:"initialized"`
	Callsign    string          `json:"callsign,omitempty"`
	Version     string          `json:"version,omitempty"`
	Latitude    *float64        `json:"latitude,omitempty"`
	Longitude   *float64        `json:"longitude,omitempty"`
	Decoders    DecoderSettings `json:"decoders"`
	Filter      *FilterState    `json:"filter,omitempty"`
	Rds         *RdsState       `json:"rds,omitempty"`
}

// Snapshot derives the published value object. It returns false until
// the backend's info is known.
func (s *State) Snapshot() (Snapshot, bool) {
	if s.RigInfo == nil {
		return Snapshot{}, false
	}
	snap := Snapshot{
		Info:        *s.RigInfo,
		Status:      s.Status,
		Band:        BandName(s.Status.Freq),
		PowerOn:     s.PowerOn(),
		Initialized: s.Initialized,
		Callsign:    s.Callsign,
		Version:     s.Version,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		Decoders:    s.Decoders,
	}
	if s.Filter != nil {
		f := *s.Filter
		snap.Filter = &f
	}
	if s.Rds != nil {
		r := *s.Rds
		snap.Rds = &r
	}
	snap.Status = cloneStatus(s.Status)
	return snap, true
}

// Clone returns a deep copy of the state, safe to publish on the watch
// channel while the controller keeps mutating the original.
func (s *State) Clone() State {
	out := *s
	if s.RigInfo != nil {
		info := *s.RigInfo
		out.RigInfo = &info
	}
	out.Status = cloneStatus(s.Status)
	if s.Control.Enabled != nil {
		v := *s.Control.Enabled
		out.Control.Enabled = &v
	}
	if s.Control.Lock != nil {
		v := *s.Control.Lock
		out.Control.Lock = &v
	}
	if s.Filter != nil {
		f := *s.Filter
		out.Filter = &f
	}
	if s.Rds != nil {
		r := *s.Rds
		out.Rds = &r
	}
	return out
}

func cloneStatus(st Status) Status {
	out := st
	if st.Vfo != nil {
		v := Vfo{Entries: append([]VfoEntry(nil), st.Vfo.Entries...)}
		if st.Vfo.Active != nil {
			a := *st.Vfo.Active
			v.Active = &a
		}
		out.Vfo = &v
	}
	if st.Tx != nil {
		tx := TxStatus{}
		tx.Power = cloneU8(st.Tx.Power)
		tx.Limit = cloneU8(st.Tx.Limit)
		tx.Alc = cloneU8(st.Tx.Alc)
		if st.Tx.Swr != nil {
			s := *st.Tx.Swr
			tx.Swr = &s
		}
		out.Tx = &tx
	}
	if st.Rx != nil {
		rx := RxStatus{}
		if st.Rx.Sig != nil {
			s := *st.Rx.Sig
			rx.Sig = &s
		}
		out.Rx = &rx
	}
	if st.Lock != nil {
		l := *st.Lock
		out.Lock = &l
	}
	return out
}

func cloneU8(p *uint8) *uint8 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
