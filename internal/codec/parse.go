package codec

import (
	"fmt"

	"github.com/midici-go/midici/internal/wire"
)

// DiscoveryPayload is the parsed body of a Discovery Inquiry or Discovery Reply.
type DiscoveryPayload struct {
	Identity     wire.DeviceIdentity
	Categories   wire.CategorySupport
	MaxSysEx     uint32
	OutputPathID byte
	FnPathID     byte // only present on replies; zero on inquiries
}

// ParseDiscoveryInquiry parses a Discovery Inquiry payload (the bytes between the CI
// header and the trailing F7, as returned in Message.Payload).
func ParseDiscoveryInquiry(payload []byte) (DiscoveryPayload, error) {
	const want = wire.IdentityLen + 1 + 4 + 1
	if len(payload) < want {
		return DiscoveryPayload{}, fmt.Errorf("codec: discovery inquiry too short: %d bytes", len(payload))
	}
	id, err := wire.ParseIdentity(payload[:wire.IdentityLen])
	if err != nil {
		return DiscoveryPayload{}, fmt.Errorf("codec: discovery inquiry identity: %w", err)
	}
	return DiscoveryPayload{
		Identity:     id,
		Categories:   wire.CategorySupportFromByte(payload[wire.IdentityLen]),
		MaxSysEx:     wire.Get28(payload[wire.IdentityLen+1 : wire.IdentityLen+5]),
		OutputPathID: payload[wire.IdentityLen+5],
	}, nil
}

// ParseDiscoveryReply parses a Discovery Reply payload, which carries one extra
// function-block path ID byte beyond an inquiry.
func ParseDiscoveryReply(payload []byte) (DiscoveryPayload, error) {
	const want = wire.IdentityLen + 1 + 4 + 2
	if len(payload) < want {
		return DiscoveryPayload{}, fmt.Errorf("codec: discovery reply too short: %d bytes", len(payload))
	}
	id, err := wire.ParseIdentity(payload[:wire.IdentityLen])
	if err != nil {
		return DiscoveryPayload{}, fmt.Errorf("codec: discovery reply identity: %w", err)
	}
	return DiscoveryPayload{
		Identity:     id,
		Categories:   wire.CategorySupportFromByte(payload[wire.IdentityLen]),
		MaxSysEx:     wire.Get28(payload[wire.IdentityLen+1 : wire.IdentityLen+5]),
		OutputPathID: payload[wire.IdentityLen+5],
		FnPathID:     payload[wire.IdentityLen+6],
	}, nil
}

// ParseInvalidateMUID parses the target MUID carried by an Invalidate MUID message.
func ParseInvalidateMUID(payload []byte) (wire.MUID, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("codec: invalidate MUID too short: %d bytes", len(payload))
	}
	return wire.GetMUID(payload[:4]), nil
}

// ParsedNAK is the parsed body of a NAK message. Fields past OriginalType/StatusCode are
// zero-valued when the sender omitted them (§4.1: "missing tails degrade gracefully").
type ParsedNAK struct {
	OriginalType MessageType
	StatusCode   byte
	StatusData   byte
	Details      [5]byte
	MessageText  []byte
}

// ParseNAK parses a NAK payload: originalTxn|status|statusData|details|msgLen|msgText,
// tolerating any truncation of the tail past originalTxn/status.
func ParseNAK(payload []byte) (ParsedNAK, error) {
	if len(payload) < 2 {
		return ParsedNAK{}, fmt.Errorf("codec: NAK too short: %d bytes", len(payload))
	}
	nak := ParsedNAK{
		OriginalType: MessageType(payload[0]),
		StatusCode:   payload[1],
	}
	if len(payload) < 3 {
		return nak, nil
	}
	nak.StatusData = payload[2]
	if len(payload) < 8 {
		return nak, nil
	}
	copy(nak.Details[:], payload[3:8])
	if len(payload) < 10 {
		return nak, nil
	}
	textLen := int(wire.Get14(payload[8:10]))
	if len(payload) < 10+textLen {
		return ParsedNAK{}, fmt.Errorf("codec: NAK message text truncated: want %d more bytes", textLen)
	}
	nak.MessageText = payload[10 : 10+textLen]
	return nak, nil
}

// PECapabilityPayload is the single-byte body of a PE Capability Inquiry or Reply.
type PECapabilityPayload struct {
	MaxSimultaneousRequests byte
}

// ParsePECapability parses a PE Capability Inquiry or Reply payload.
func ParsePECapability(payload []byte) (PECapabilityPayload, error) {
	if len(payload) < 1 {
		return PECapabilityPayload{}, fmt.Errorf("codec: PE capability payload empty")
	}
	return PECapabilityPayload{MaxSimultaneousRequests: payload[0]}, nil
}

// PEInquiry is the parsed body of a Get Inquiry, Subscribe Inquiry, or Subscribe Reply:
// a request ID and a JSON header, with no chunk fields at all (§4.1).
type PEInquiry struct {
	RequestID byte
	Header    []byte
}

// ParsePEInquiry parses the trailer-free requestId|headerLen|headerData body shared by
// Get Inquiry, Subscribe Inquiry, and Subscribe Reply messages.
func ParsePEInquiry(payload []byte) (PEInquiry, error) {
	if len(payload) < 1+2 {
		return PEInquiry{}, fmt.Errorf("codec: PE inquiry too short for preamble")
	}
	requestID := payload[0]
	headerLen := int(wire.Get14(payload[1:3]))
	if len(payload) < 3+headerLen {
		return PEInquiry{}, fmt.Errorf("codec: PE inquiry too short for declared header length")
	}
	return PEInquiry{RequestID: requestID, Header: payload[3 : 3+headerLen]}, nil
}

// PEChunk is one parsed chunk of a PE reply or Notify message (the chunked, property-data
// bearing dialects), normalized across all three wire variants (§4.1).
type PEChunk struct {
	RequestID   byte
	Header      []byte
	TotalChunks uint16
	ChunkNumber uint16
	Body        []byte
}

// ParsePEChunk parses a single PE reply/Notify chunk from payload, detecting and handling
// whichever of the three wire dialects produced it (see parse_dialects.go). Standard and
// compact both place their length fields between headerLen and the header and validate
// them exactly, so they never falsely match each other's bytes. Vendor instead places its
// JSON header immediately after headerLen with the counters trailing it, so trying
// standard and compact first and falling back to vendor only once both have failed their
// length checks correctly disambiguates all three.
func ParsePEChunk(payload []byte) (PEChunk, error) {
	if chunk, err := parseStandardChunk(payload); err == nil {
		return chunk, nil
	}
	if chunk, err := parseCompactChunk(payload); err == nil {
		return chunk, nil
	}
	return parseVendorJSONFirstChunk(payload)
}
