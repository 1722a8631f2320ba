package codec

import (
	"github.com/midici-go/midici/internal/wire"
)

// CIVersion1_2 is the CI version byte this module advertises and expects.
const CIVersion1_2 byte = 0x02

// BuildDiscoveryInquiry builds a broadcast Discovery Inquiry (§4.7): source identifies
// the sending device, dest is always the broadcast MUID, and the payload carries the
// sender's DeviceIdentity, CategorySupport, max SysEx size, and output path ID.
func BuildDiscoveryInquiry(source wire.MUID, id wire.DeviceIdentity, categories wire.CategorySupport, maxSysEx uint32, outputPathID byte) ([]byte, error) {
	payload := make([]byte, wire.IdentityLen+1+4+1)
	wire.PutIdentity(payload[:wire.IdentityLen], id)
	payload[wire.IdentityLen] = categories.Byte()
	wire.Put28(payload[wire.IdentityLen+1:wire.IdentityLen+5], maxSysEx)
	payload[wire.IdentityLen+5] = outputPathID

	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgDiscoveryInquiry,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      wire.Broadcast(),
		Payload:   payload,
	})
}

// BuildDiscoveryReply builds a reply to a Discovery Inquiry, addressed back at the
// inquiring device's MUID.
func BuildDiscoveryReply(source, dest wire.MUID, id wire.DeviceIdentity, categories wire.CategorySupport, maxSysEx uint32, outputPathID, fnPathID byte) ([]byte, error) {
	payload := make([]byte, wire.IdentityLen+1+4+2)
	wire.PutIdentity(payload[:wire.IdentityLen], id)
	payload[wire.IdentityLen] = categories.Byte()
	wire.Put28(payload[wire.IdentityLen+1:wire.IdentityLen+5], maxSysEx)
	payload[wire.IdentityLen+5] = outputPathID
	payload[wire.IdentityLen+6] = fnPathID

	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgDiscoveryReply,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   payload,
	})
}

// BuildInvalidateMUID builds a notice that the sender's prior MUID (given as target) is
// no longer valid and has been replaced by source.
func BuildInvalidateMUID(source wire.MUID, target wire.MUID) ([]byte, error) {
	payload := make([]byte, 4)
	wire.PutMUID(payload, target)
	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgInvalidateMUID,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      wire.Broadcast(),
		Payload:   payload,
	})
}

// NAKReason carries the structured fields a CI 1.2 NAK may report. BuildNAK always emits
// every field, so even a zero NAKReason produces the full CI 1.2 body layout.
type NAKReason struct {
	OriginalType   MessageType
	StatusCode     byte
	StatusData     byte
	Details        [5]byte
	MessageText    []byte
}

// BuildNAK builds a negative acknowledgement addressed back at source's counterpart.
// The payload carries no CI-version-replied field (§4.1's NAK layout is
// originalTxn|status|statusData|details|msgLen|msgText).
func BuildNAK(source, dest wire.MUID, reason NAKReason) ([]byte, error) {
	payload := make([]byte, 0, 1+1+1+5+2+len(reason.MessageText))
	payload = append(payload, byte(reason.OriginalType), reason.StatusCode, reason.StatusData)
	payload = append(payload, reason.Details[:]...)
	payload = append(payload, byte(len(reason.MessageText)&0x7F), byte((len(reason.MessageText)>>7)&0x7F))
	payload = append(payload, reason.MessageText...)

	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgNAK,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   payload,
	})
}

// appendPEInquiryBody appends the bare requestId|headerLen|headerData body carried by
// messages that never carry chunked property data: Get/Subscribe Inquiry and the
// Subscribe Reply ack (§4.1: "no chunk fields on inquiries except for Set").
func appendPEInquiryBody(out []byte, header []byte, requestID byte) []byte {
	out = append(out, requestID)
	var lenBuf [2]byte
	wire.Put14(lenBuf[:], uint16(len(header)))
	out = append(out, lenBuf[:]...)
	out = append(out, header...)
	return out
}

// appendPESetInquiryTrailer appends the requestId|headerLen|headerData|numChunks|
// thisChunk|dataLen|propertyData body the PE Set Inquiry layout requires (§4.1).
func appendPESetInquiryTrailer(out []byte, header []byte, requestID byte, totalChunks, chunkNumber uint16, body []byte) []byte {
	out = appendPEInquiryBody(out, header, requestID)
	var lenBuf [2]byte
	wire.Put14(lenBuf[:], totalChunks)
	out = append(out, lenBuf[:]...)
	wire.Put14(lenBuf[:], chunkNumber)
	out = append(out, lenBuf[:]...)
	wire.Put14(lenBuf[:], uint16(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out
}

// appendStandardPEReplyTrailer appends the requestId|headerLen|numChunks|thisChunk|
// dataLen|headerData|propertyData body the standard CI 1.2 PE reply dialect requires
// (§4.1): unlike the Set Inquiry layout, the chunk-count fields come before the header,
// not after it.
func appendStandardPEReplyTrailer(out []byte, header []byte, requestID byte, totalChunks, chunkNumber uint16, body []byte) []byte {
	out = append(out, requestID)
	var lenBuf [2]byte
	wire.Put14(lenBuf[:], uint16(len(header)))
	out = append(out, lenBuf[:]...)
	wire.Put14(lenBuf[:], totalChunks)
	out = append(out, lenBuf[:]...)
	wire.Put14(lenBuf[:], chunkNumber)
	out = append(out, lenBuf[:]...)
	wire.Put14(lenBuf[:], uint16(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, header...)
	out = append(out, body...)
	return out
}

// BuildPEGetInquiry builds a Property Exchange Get Inquiry. Inquiries carry no chunk
// fields at all (§4.1): just the request ID and JSON header.
func BuildPEGetInquiry(source, dest wire.MUID, requestID byte, header []byte) ([]byte, error) {
	payload := appendPEInquiryBody(nil, header, requestID)
	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgPEGetInquiry,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   payload,
	})
}

// BuildPESetInquiry builds a single-chunk Property Exchange Set Inquiry with body as the
// Mcoded7-encoded value to set. Callers that need multi-chunk Set split body themselves
// and call this once per chunk with the appropriate totalChunks/chunkNumber.
func BuildPESetInquiry(source, dest wire.MUID, requestID byte, header []byte, totalChunks, chunkNumber uint16, body []byte) ([]byte, error) {
	payload := appendPESetInquiryTrailer(nil, header, requestID, totalChunks, chunkNumber, body)
	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgPESetInquiry,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   payload,
	})
}

// BuildPEReply builds one chunk of a PE reply (Get, Set, or Capability reply depending
// on msgType) in the standard CI 1.2 dialect: header length and chunk counters, then the
// header itself, then body.
func BuildPEReply(msgType MessageType, source, dest wire.MUID, requestID byte, header []byte, totalChunks, chunkNumber uint16, body []byte) ([]byte, error) {
	payload := appendStandardPEReplyTrailer(nil, header, requestID, totalChunks, chunkNumber, body)
	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      msgType,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   payload,
	})
}

// BuildPESubscribeInquiry builds a Subscribe start/end/notify-ack inquiry; header encodes
// the command via BuildSubscribeHeader. Carries no chunk fields, per §4.1.
func BuildPESubscribeInquiry(source, dest wire.MUID, requestID byte, header []byte) ([]byte, error) {
	payload := appendPEInquiryBody(nil, header, requestID)
	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgPESubscribeInquiry,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   payload,
	})
}

// BuildPESubscribeReply builds the device's reply to a Subscribe Inquiry. This is an ack,
// never a chunked property payload, so it carries no chunk fields either.
func BuildPESubscribeReply(source, dest wire.MUID, requestID byte, header []byte) ([]byte, error) {
	payload := appendPEInquiryBody(nil, header, requestID)
	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgPESubscribeReply,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   payload,
	})
}

// BuildPENotify builds an unsolicited Notify message pushed by a device to a subscriber,
// using the same standard chunk-trailer layout as a PE reply.
func BuildPENotify(source, dest wire.MUID, requestID byte, header []byte, totalChunks, chunkNumber uint16, body []byte) ([]byte, error) {
	payload := appendStandardPEReplyTrailer(nil, header, requestID, totalChunks, chunkNumber, body)
	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgPENotify,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   payload,
	})
}

// BuildPECapabilityInquiry builds a PE Capability Inquiry advertising the sender's max
// simultaneous PE requests.
func BuildPECapabilityInquiry(source, dest wire.MUID, maxRequests byte) ([]byte, error) {
	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgPECapabilityInquiry,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   []byte{maxRequests},
	})
}

// BuildPECapabilityReply builds the reply to a PE Capability Inquiry.
func BuildPECapabilityReply(source, dest wire.MUID, maxRequests byte) ([]byte, error) {
	return Build(Message{
		DeviceID:  BroadcastDeviceID,
		Type:      MsgPECapabilityReply,
		CIVersion: CIVersion1_2,
		Source:    source,
		Dest:      dest,
		Payload:   []byte{maxRequests},
	})
}
