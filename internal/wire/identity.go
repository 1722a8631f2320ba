package wire

import "fmt"

// IdentityLen is the fixed wire size of a DeviceIdentity (§3).
const IdentityLen = 11

// DeviceIdentity identifies a MIDI-CI device's manufacturer, family, model, and firmware
// revision. ManufacturerID is either a single standard byte or a 3-byte extended code
// prefixed with 0x00 (§3); it is always carried as exactly 3 wire bytes here for uniform
// layout, with unused standard-ID bytes left zero.
type DeviceIdentity struct {
	ManufacturerID [3]byte
	FamilyID       uint16 // 14-bit
	ModelID        uint16 // 14-bit
	VersionID      uint32 // 28-bit
}

// PutIdentity writes dst[:11] with the DeviceIdentity wire encoding.
func PutIdentity(dst []byte, id DeviceIdentity) {
	_ = dst[10] // bounds check hint
	dst[0] = id.ManufacturerID[0]
	dst[1] = id.ManufacturerID[1]
	dst[2] = id.ManufacturerID[2]
	Put14(dst[3:5], id.FamilyID)
	Put14(dst[5:7], id.ModelID)
	Put28(dst[7:11], id.VersionID)
}

// ParseIdentity reads a DeviceIdentity from the first 11 bytes of src.
func ParseIdentity(src []byte) (DeviceIdentity, error) {
	if len(src) < IdentityLen {
		return DeviceIdentity{}, fmt.Errorf("identity: need %d bytes, have %d", IdentityLen, len(src))
	}
	if !AllSevenBit(src[:IdentityLen]) {
		return DeviceIdentity{}, fmt.Errorf("identity: payload byte with MSB set")
	}
	var id DeviceIdentity
	copy(id.ManufacturerID[:], src[0:3])
	id.FamilyID = Get14(src[3:5])
	id.ModelID = Get14(src[5:7])
	id.VersionID = Get28(src[7:11])
	return id, nil
}

// CategorySupport is a bitset over the four MIDI-CI capability categories.
type CategorySupport uint8

const (
	CategoryProtocolNegotiation CategorySupport = 1 << iota
	CategoryProfileConfiguration
	CategoryPropertyExchange
	CategoryProcessInquiry
)

// Has reports whether cs declares support for category c.
func (cs CategorySupport) Has(c CategorySupport) bool { return cs&c != 0 }

// Byte returns the single wire byte representation.
func (cs CategorySupport) Byte() byte { return byte(cs) }

// CategorySupportFromByte reconstructs a CategorySupport from its wire byte. The MIDI-CI spec
// reserves the MSB of this byte; upper bits beyond the four defined categories are preserved
// verbatim to round-trip vendor extensions rather than silently dropped.
func CategorySupportFromByte(b byte) CategorySupport { return CategorySupport(b) }
