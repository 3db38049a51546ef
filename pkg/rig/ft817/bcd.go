package ft817

import "github.com/sgrams/trxd/pkg/rig"

// EncodeFreqBCD packs a frequency into the FT-817's four BCD bytes,
// two digits per byte, most significant first. Frequencies that do not
// fit in eight digits are rejected.
func EncodeFreqBCD(hz uint64) ([4]byte, error) {
	var out [4]byte
	if hz >= 100_000_000 {
		return out, rig.ErrProtocol("encode_freq_bcd", "frequency does not fit in 4 BCD bytes")
	}
	div := uint64(10_000_000)
	for i := 0; i < 4; i++ {
		hi := (hz / div) % 10
		div /= 10
		lo := (hz / div) % 10
		div /= 10
		out[i] = byte(hi<<4 | lo)
	}
	return out, nil
}

// DecodeFreqBCD unpacks four BCD bytes back into hertz. Nibbles above
// 9 mark a corrupt frame (rigs emit garbage while waking up).
func DecodeFreqBCD(bcd [4]byte) (uint64, error) {
	var hz uint64
	for _, b := range bcd {
		hi := uint64(b >> 4)
		lo := uint64(b & 0x0f)
		if hi > 9 || lo > 9 {
			return 0, rig.ErrProtocol("decode_freq_bcd", "BCD digit out of range")
		}
		hz = hz*100 + hi*10 + lo
	}
	return hz, nil
}
