// Package codec implements bit-exact construction and parsing of the Universal SysEx
// messages used by MIDI Capability Inquiry (MIDI-CI) and its Property Exchange (PE)
// sub-protocol. Every function here is a total, non-panicking transform: builders never
// emit a byte with its MSB set in a payload position, and parsers never read past a
// caller-declared length.
package codec

import (
	"fmt"

	"github.com/midici-go/midici/internal/wire"
)

// Wire framing constants (§4.1).
const (
	SysExStart           byte = 0xF0
	SysExEnd             byte = 0xF7
	UniversalNonRealTime byte = 0x7E
	SubIDMIDICI          byte = 0x0D
	BroadcastDeviceID    byte = 0x7F

	// headerPrefixLen is the number of bytes from F0 through ciVersion inclusive, i.e.
	// everything preceding the source MUID.
	headerPrefixLen = 6 // F0 7E devId 0D msgType ciVersion
	muidLen         = 4
	// MinMessageLen is the minimum length of any well-formed CI SysEx message: the
	// fixed header, both MUIDs, and the trailing F7, with a zero-length payload.
	MinMessageLen = headerPrefixLen + muidLen + muidLen + 1
)

// MessageType identifies the kind of CI or PE message carried in a SysEx frame.
type MessageType byte

const (
	MsgDiscoveryInquiry MessageType = 0x70
	MsgDiscoveryReply   MessageType = 0x71
	MsgInvalidateMUID   MessageType = 0x7E
	MsgNAK              MessageType = 0x7F

	MsgPECapabilityInquiry MessageType = 0x30
	MsgPECapabilityReply   MessageType = 0x31

	MsgPEGetInquiry MessageType = 0x34
	MsgPEGetReply   MessageType = 0x35
	MsgPESetInquiry MessageType = 0x36
	MsgPESetReply   MessageType = 0x37

	MsgPESubscribeInquiry MessageType = 0x38
	MsgPESubscribeReply   MessageType = 0x39
	MsgPENotify           MessageType = 0x3F

	MsgProcessInquiryLo MessageType = 0x40
	MsgProcessInquiryHi MessageType = 0x44
)

// IsPEReply reports whether t is one of the three message types that carry a PE reply
// payload understood by ParsePEChunk (Get/Set/Capability replies).
func (t MessageType) IsPEReply() bool {
	return t == MsgPEGetReply || t == MsgPESetReply || t == MsgPECapabilityReply
}

// Message is a fully parsed or about-to-be-built CI SysEx frame, excluding the F0/F7
// framing bytes themselves.
type Message struct {
	DeviceID  byte // 0x7F means broadcast
	Type      MessageType
	CIVersion byte // 1 or 2
	Source    wire.MUID
	Dest      wire.MUID
	Payload   []byte
}

// Build serializes m into a complete F0…F7 SysEx frame. It is the caller's
// responsibility to ensure m.Payload contains only 7-bit-safe bytes; Build validates
// this and returns an error rather than emit a malformed frame.
func Build(m Message) ([]byte, error) {
	if !wire.AllSevenBit(m.Payload) {
		return nil, fmt.Errorf("codec: build %#x: payload byte with MSB set", m.Type)
	}
	out := make([]byte, 0, headerPrefixLen+muidLen+muidLen+len(m.Payload)+2)
	out = append(out, SysExStart, UniversalNonRealTime, m.DeviceID, SubIDMIDICI, byte(m.Type), m.CIVersion)
	var muidBuf [4]byte
	wire.PutMUID(muidBuf[:], m.Source)
	out = append(out, muidBuf[:]...)
	wire.PutMUID(muidBuf[:], m.Dest)
	out = append(out, muidBuf[:]...)
	out = append(out, m.Payload...)
	out = append(out, SysExEnd)
	return out, nil
}

// Parse validates SysEx framing and the common CI header, returning the parsed Message
// with Payload set to the remaining (still-unparsed) bytes between the header and the
// trailing F7. It never panics and never reads past the declared buffer.
func Parse(raw []byte) (Message, error) {
	if len(raw) < MinMessageLen {
		return Message{}, fmt.Errorf("codec: message too short: %d bytes", len(raw))
	}
	if raw[0] != SysExStart {
		return Message{}, fmt.Errorf("codec: missing F0 start byte")
	}
	if raw[len(raw)-1] != SysExEnd {
		return Message{}, fmt.Errorf("codec: missing F7 end byte")
	}
	if raw[1] != UniversalNonRealTime {
		return Message{}, fmt.Errorf("codec: not a universal non-realtime message: %#x", raw[1])
	}
	if raw[3] != SubIDMIDICI {
		return Message{}, fmt.Errorf("codec: not a MIDI-CI sub-ID: %#x", raw[3])
	}
	payload := raw[headerPrefixLen+muidLen+muidLen : len(raw)-1]
	if !wire.AllSevenBit(payload) {
		return Message{}, fmt.Errorf("codec: payload byte with MSB set")
	}
	return Message{
		DeviceID:  raw[2],
		Type:      MessageType(raw[4]),
		CIVersion: raw[5],
		Source:    wire.GetMUID(raw[headerPrefixLen : headerPrefixLen+muidLen]),
		Dest:      wire.GetMUID(raw[headerPrefixLen+muidLen : headerPrefixLen+muidLen+muidLen]),
		Payload:   payload,
	}, nil
}
