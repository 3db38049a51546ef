package protocol

import (
	"encoding/json"

	"github.com/sgrams/trxd/pkg/rig"
)

// RigEnumEntry is one rig in a get_rigs response.
type RigEnumEntry struct {
	RigID       string        `json:"rig_id"`
	DisplayName string        `json:"display_name"`
	State       *rig.Snapshot `json:"state,omitempty"`
	AudioPort   *int          `json:"audio_port,omitempty"`
}

// ClientResponse is the single outbound frame shape. On success State
// carries a snapshot or Rigs carries an enumeration; on failure Error
// is a human-readable string.
type ClientResponse struct {
	Success bool           `json:"success"`
	RigID   *string        `json:"rig_id,omitempty"`
	State   *rig.Snapshot  `json:"state,omitempty"`
	Rigs    []RigEnumEntry `json:"rigs,omitempty"`
	Error   *string        `json:"error,omitempty"`
}

// OkState builds a success response carrying a snapshot.
func OkState(rigID string, snap rig.Snapshot) ClientResponse {
	return ClientResponse{Success: true, RigID: &rigID, State: &snap}
}

// OkRigs builds a success response carrying a rig enumeration.
func OkRigs(entries []RigEnumEntry) ClientResponse {
	return ClientResponse{Success: true, Rigs: entries}
}

// Fail builds an error response.
func Fail(msg string) ClientResponse {
	return ClientResponse{Success: false, Error: &msg}
}

// FailFor builds an error response attributed to a rig.
func FailFor(rigID, msg string) ClientResponse {
	return ClientResponse{Success: false, RigID: &rigID, Error: &msg}
}

// Encode renders the response as one newline-terminated wire frame.
func (r *ClientResponse) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ParseResponse parses one response line.
func ParseResponse(line []byte) (*ClientResponse, error) {
	var resp ClientResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
