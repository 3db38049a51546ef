// Package metrics holds the Prometheus instruments shared by the
// controller and the decoder tasks. The HTTP frontend exposes them at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollsTotal counts CAT status polls per rig.
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxd_cat_polls_total",
		Help: "CAT status polls issued by the rig controller",
	}, []string{"rig"})

	// PollErrors counts failed CAT polls per rig.
	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxd_cat_poll_errors_total",
		Help: "CAT status polls that failed after retries",
	}, []string{"rig"})

	// RetriesTotal counts retried CAT operations per rig.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxd_cat_retries_total",
		Help: "Transient CAT failures that were retried",
	}, []string{"rig"})

	// CommandsTotal counts rig commands by name.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxd_rig_commands_total",
		Help: "Commands processed by the rig controller",
	}, []string{"rig", "command"})

	// CommandErrors counts failed rig commands by name.
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxd_rig_command_errors_total",
		Help: "Commands that failed validation or execution",
	}, []string{"rig", "command"})

	// DecodedMessages counts decoder output by decoder name.
	DecodedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxd_decoded_messages_total",
		Help: "Messages emitted by the server-side decoders",
	}, []string{"decoder"})

	// DecoderErrors counts frames a decoder dropped (bad CRC, short
	// frame). Decoder health is only visible here.
	DecoderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxd_decoder_errors_total",
		Help: "Malformed frames dropped by the server-side decoders",
	}, []string{"decoder"})

	// BroadcastLag counts frames lost by slow broadcast subscribers.
	BroadcastLag = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxd_broadcast_lagged_frames_total",
		Help: "Frames dropped for subscribers that fell behind",
	}, []string{"channel"})

	// AudioClients tracks connected audio transport clients.
	AudioClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trxd_audio_clients",
		Help: "Connected audio transport clients",
	})
)
