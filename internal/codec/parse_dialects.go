package codec

import (
	"fmt"

	"github.com/midici-go/midici/internal/wire"
)

// Three distinct wire layouts all appear as valid PE chunk payloads in deployed devices:
//
//   - standard (CI 1.2): requestID, headerLen, totalChunks, chunkNumber, bodyLen, header, body
//   - compact (CI 1.1):  requestID, headerLen, bodyLen, header, body (always a single chunk)
//   - vendor JSON-first:  requestID, headerLen, header, totalChunks, chunkNumber, bodyLen, body
//
// All three carry an explicit headerLen field right after requestID, so their header
// bounds are never ambiguous; what differs is where the three chunk-count fields sit
// relative to the header. Standard and compact place them before the header (and are
// told apart by a full length accounting of the remaining bytes), vendor places them
// after. ParsePEChunk tries standard and compact first, since their trailing length
// fields make a false positive's remaining-byte accounting fail, and only falls back to
// vendor once both have been ruled out.

// parseVendorJSONFirstChunk parses the vendor dialect, where the JSON header sits
// immediately after headerLen and the three chunk-count fields trail it.
func parseVendorJSONFirstChunk(payload []byte) (PEChunk, error) {
	if len(payload) < 1+2 {
		return PEChunk{}, fmt.Errorf("codec: vendor PE chunk too short for preamble")
	}
	requestID := payload[0]
	headerLen := int(wire.Get14(payload[1:3]))
	if len(payload) < 3+headerLen {
		return PEChunk{}, fmt.Errorf("codec: vendor PE chunk too short for declared header length")
	}
	if headerLen == 0 || payload[3] != '{' {
		return PEChunk{}, fmt.Errorf("codec: vendor PE chunk header does not start with '{'")
	}
	header := payload[3 : 3+headerLen]
	rest := payload[3+headerLen:]
	if len(rest) < 6 {
		return PEChunk{}, fmt.Errorf("codec: vendor PE chunk trailer too short")
	}
	totalChunks := wire.Get14(rest[0:2])
	chunkNumber := wire.Get14(rest[2:4])
	bodyLen := int(wire.Get14(rest[4:6]))
	body := rest[6:]
	if len(body) != bodyLen {
		return PEChunk{}, fmt.Errorf("codec: vendor PE chunk body length mismatch: header says %d, have %d", bodyLen, len(body))
	}
	return PEChunk{
		RequestID:   requestID,
		Header:      header,
		TotalChunks: totalChunks,
		ChunkNumber: chunkNumber,
		Body:        body,
	}, nil
}

// parseStandardChunk parses the standard CI 1.2 dialect, failing if the trailing field
// lengths don't exactly account for every remaining byte.
func parseStandardChunk(payload []byte) (PEChunk, error) {
	if len(payload) < 1+2+2+2+2 {
		return PEChunk{}, fmt.Errorf("codec: standard PE chunk too short for preamble")
	}
	requestID := payload[0]
	headerLen := int(wire.Get14(payload[1:3]))
	totalChunks := wire.Get14(payload[3:5])
	chunkNumber := wire.Get14(payload[5:7])
	bodyLen := int(wire.Get14(payload[7:9]))
	if totalChunks < 1 || totalChunks > 0x3FFF || chunkNumber < 1 || chunkNumber > totalChunks {
		return PEChunk{}, fmt.Errorf("codec: standard PE chunk has invalid chunk counters: %d/%d", chunkNumber, totalChunks)
	}
	if len(payload) < 9+headerLen+bodyLen {
		return PEChunk{}, fmt.Errorf("codec: standard PE chunk too short for declared header/body length")
	}
	header := payload[9 : 9+headerLen]
	body := payload[9+headerLen:]
	if len(body) != bodyLen {
		return PEChunk{}, fmt.Errorf("codec: standard PE chunk body length mismatch: header says %d, have %d", bodyLen, len(body))
	}
	return PEChunk{
		RequestID:   requestID,
		Header:      header,
		TotalChunks: totalChunks,
		ChunkNumber: chunkNumber,
		Body:        body,
	}, nil
}

// parseCompactChunk parses the CI 1.1 compact dialect, which omits the chunk-count and
// chunk-number fields because it only ever carries a single chunk.
func parseCompactChunk(payload []byte) (PEChunk, error) {
	if len(payload) < 1+2+2 {
		return PEChunk{}, fmt.Errorf("codec: compact PE chunk too short for preamble")
	}
	requestID := payload[0]
	headerLen := int(wire.Get14(payload[1:3]))
	bodyLen := int(wire.Get14(payload[3:5]))
	if len(payload) < 5+headerLen+bodyLen {
		return PEChunk{}, fmt.Errorf("codec: compact PE chunk too short for declared header/body length")
	}
	header := payload[5 : 5+headerLen]
	body := payload[5+headerLen:]
	if len(body) != bodyLen {
		return PEChunk{}, fmt.Errorf("codec: compact PE chunk body length mismatch: header says %d, have %d", bodyLen, len(body))
	}
	return PEChunk{
		RequestID:   requestID,
		Header:      header,
		TotalChunks: 1,
		ChunkNumber: 1,
		Body:        body,
	}, nil
}
