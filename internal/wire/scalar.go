// Package wire implements the 7-bit-safe scalar encodings shared by every MIDI-CI and
// Property Exchange message: little-endian 7-bit limbs for 14-bit and 28-bit integers,
// and the MSB-clear rule that applies to every byte in a SysEx payload region.
package wire

import "fmt"

// MaxMUID is the largest value a MUID may hold; 0x0FFF_FFFF is reserved as the broadcast MUID.
const MaxMUID = 0x0FFF_FFFF

// BroadcastMUID is the reserved "everyone" destination MUID.
const BroadcastMUID = 0x0FFF_FFFF

// IsSevenBit reports whether b has its MSB clear, the rule every payload byte must obey.
func IsSevenBit(b byte) bool { return b&0x80 == 0 }

// AllSevenBit reports whether every byte in buf has its MSB clear.
func AllSevenBit(buf []byte) bool {
	for _, b := range buf {
		if !IsSevenBit(b) {
			return false
		}
	}
	return true
}

// Put14 writes a 14-bit value as two little-endian 7-bit limbs.
func Put14(dst []byte, v uint16) {
	dst[0] = byte(v & 0x7F)
	dst[1] = byte((v >> 7) & 0x7F)
}

// Get14 reads a 14-bit value from two little-endian 7-bit limbs.
func Get14(src []byte) uint16 {
	return uint16(src[0]&0x7F) | uint16(src[1]&0x7F)<<7
}

// Put28 writes a 28-bit value as four little-endian 7-bit limbs.
func Put28(dst []byte, v uint32) {
	dst[0] = byte(v & 0x7F)
	dst[1] = byte((v >> 7) & 0x7F)
	dst[2] = byte((v >> 14) & 0x7F)
	dst[3] = byte((v >> 21) & 0x7F)
}

// Get28 reads a 28-bit value from four little-endian 7-bit limbs.
func Get28(src []byte) uint32 {
	return uint32(src[0]&0x7F) |
		uint32(src[1]&0x7F)<<7 |
		uint32(src[2]&0x7F)<<14 |
		uint32(src[3]&0x7F)<<21
}

// MUID is a 28-bit session-scoped device identity.
type MUID uint32

// NewMUID constructs a MUID, rejecting values outside the 28-bit range. Constructing from
// an out-of-range value is a caller error, never a silent truncation.
func NewMUID(v uint32) (MUID, error) {
	if v > MaxMUID {
		return 0, fmt.Errorf("muid %#x exceeds 28-bit range (max %#x)", v, MaxMUID)
	}
	return MUID(v), nil
}

// Broadcast returns the reserved broadcast MUID.
func Broadcast() MUID { return MUID(BroadcastMUID) }

// IsBroadcast reports whether m is the broadcast MUID.
func (m MUID) IsBroadcast() bool { return uint32(m) == BroadcastMUID }

// PutMUID writes m as four little-endian 7-bit limbs.
func PutMUID(dst []byte, m MUID) { Put28(dst, uint32(m)) }

// GetMUID reads a MUID from four little-endian 7-bit limbs. Each limb is masked to 7 bits on
// read, so the result always fits the 28-bit range by construction.
func GetMUID(src []byte) MUID {
	return MUID(Get28(src))
}
