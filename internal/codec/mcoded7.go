package codec

import "errors"

// errMcoded7TrailingHeader indicates an Mcoded7 stream ended with an MSB byte that carries
// no following data bytes, which cannot have been produced by EncodeMcoded7.
var errMcoded7TrailingHeader = errors.New("mcoded7: trailing MSB byte with no data bytes")

// Mcoded7 packs 8-bit bytes into the 7-bit-safe alphabet required by SysEx payloads. Input
// is consumed in groups of up to 7 bytes: each group is emitted as a single computed
// "MSB byte" (bit j holds bit 7 of data byte j) followed by the group's data bytes with
// their own MSBs cleared. A short final group (fewer than 7 data bytes) still produces a
// 1-byte MSB header followed by however many data bytes remain.

// EncodeMcoded7 converts arbitrary 8-bit data into its Mcoded7 7-bit-safe encoding.
func EncodeMcoded7(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	out := make([]byte, 0, len(data)+len(data)/7+1)
	for i := 0; i < len(data); i += 7 {
		end := i + 7
		if end > len(data) {
			end = len(data)
		}
		group := data[i:end]
		var msb byte
		for j, b := range group {
			if b&0x80 != 0 {
				msb |= 1 << uint(j)
			}
		}
		out = append(out, msb)
		for _, b := range group {
			out = append(out, b&0x7F)
		}
	}
	return out
}

// DecodeMcoded7 reverses EncodeMcoded7, reinserting the MSB of each data byte from its
// group's leading MSB byte. Malformed input (a trailing MSB byte with no data bytes) is
// rejected rather than silently truncated.
func DecodeMcoded7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		msb := data[i]
		i++
		groupLen := len(data) - i
		if groupLen > 7 {
			groupLen = 7
		}
		if groupLen == 0 {
			return nil, errMcoded7TrailingHeader
		}
		for j := 0; j < groupLen; j++ {
			b := data[i+j]
			if msb&(1<<uint(j)) != 0 {
				b |= 0x80
			}
			out = append(out, b)
		}
		i += groupLen
	}
	return out, nil
}
