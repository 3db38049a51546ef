package aprs

import "strings"

// Passcode computes the APRS-IS login passcode for a callsign. The
// SSID is stripped and only the first ten characters participate,
// case-insensitively.
func Passcode(callsign string) int {
	call := strings.ToUpper(callsign)
	if dash := strings.IndexByte(call, '-'); dash >= 0 {
		call = call[:dash]
	}
	if len(call) > 10 {
		call = call[:10]
	}

	hash := 0x73E2
	for i := 0; i < len(call); i += 2 {
		hash ^= int(call[i]) << 8
		if i+1 < len(call) {
			hash ^= int(call[i+1])
		}
	}
	return hash & 0x7FFF
}
