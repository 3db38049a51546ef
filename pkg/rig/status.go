package rig

// Status is the backend-agnostic view of a rig's current state,
// populated from CAT polls. Fields the backend does not expose stay nil.
type Status struct {
	Freq  Frequency `json:"freq"`
	Mode  Mode      `json:"mode"`
	TxEn  bool      `json:"tx_en"`
	Vfo   *Vfo      `json:"vfo,omitempty"`
	Tx    *TxStatus `json:"tx,omitempty"`
	Rx    *RxStatus `json:"rx,omitempty"`
	Lock  *bool     `json:"lock,omitempty"`
}

// Vfo describes the rig's VFO registers as far as they are known.
type Vfo struct {
	Entries []VfoEntry `json:"entries"`
	// Active is the index into Entries for the active VFO, if known.
	Active *int `json:"active,omitempty"`
}

// VfoEntry is a single VFO register.
type VfoEntry struct {
	Name string    `json:"name"`
	Freq Frequency `json:"freq"`
	Mode *Mode     `json:"mode,omitempty"`
}

// TxStatus carries transmit-side meter readings.
type TxStatus struct {
	Power *uint8   `json:"power,omitempty"`
	Limit *uint8   `json:"limit,omitempty"`
	Swr   *float32 `json:"swr,omitempty"`
	Alc   *uint8   `json:"alc,omitempty"`
}

// RxStatus carries receive-side meter readings.
type RxStatus struct {
	// Sig is the approximate signal level in dBm.
	Sig *int `json:"sig,omitempty"`
}

// Control holds settings pushed to the rig that are not directly
// readable back on every poll.
type Control struct {
	Enabled     *bool    `json:"enabled,omitempty"`
	Lock        *bool    `json:"lock,omitempty"`
	ClarHz      *int     `json:"clar_hz,omitempty"`
	ClarOn      *bool    `json:"clar_on,omitempty"`
	RptOffsetHz *int     `json:"rpt_offset_hz,omitempty"`
	CtcssHz     *float32 `json:"ctcss_hz,omitempty"`
	DcsCode     *uint16  `json:"dcs_code,omitempty"`
}

// FilterState describes the DSP filter chain of an SDR backend.
type FilterState struct {
	BandwidthHz    uint32 `json:"bandwidth_hz"`
	FirTaps        uint32 `json:"fir_taps"`
	WfmDeemphasisUs uint32 `json:"wfm_deemphasis_us"`
	WfmDenoise     bool   `json:"wfm_denoise"`
	WfmStereo      bool   `json:"wfm_stereo"`
	StereoDetected bool   `json:"stereo_detected"`
	CenterFreqHz   uint64 `json:"center_freq_hz"`
}

// SpectrumData is one magnitude frame from an SDR backend.
type SpectrumData struct {
	CenterFreqHz uint64    `json:"center_freq_hz"`
	SampleRate   uint32    `json:"sample_rate"`
	Bins         []float32 `json:"bins"`
}

// RdsState is the RDS decoder output published alongside the snapshot.
// ProgramService is set only after all four segments have been seen.
type RdsState struct {
	Pi             *uint16 `json:"pi,omitempty"`
	Pty            *uint8  `json:"pty,omitempty"`
	PtyName        string  `json:"pty_name,omitempty"`
	ProgramService string  `json:"program_service,omitempty"`
}
