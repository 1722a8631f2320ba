// Package chunkasm reassembles multi-chunk Property Exchange replies keyed by request
// ID. A PE reply larger than one SysEx message arrives as several numbered chunks,
// possibly out of order; Assembler buffers them until every chunk has arrived, or until
// the assembly ages past its timeout.
package chunkasm

import (
	"time"

	"github.com/midici-go/midici/internal/bufpool"
)

// Outcome is the sum type returned by AddChunk. Exactly one of the embedded fields is
// meaningful, selected by Kind.
type Outcome struct {
	Kind Kind

	// Incomplete
	Received int
	Total    int

	// Complete
	Header []byte
	Body   []byte

	// Timeout / UnknownRequestId
	RequestID uint8
	Partial   bool
}

// Kind distinguishes the four AddChunk outcomes (§4.4).
type Kind int

const (
	KindIncomplete Kind = iota
	KindComplete
	KindTimeout
	KindUnknownRequestID
)

type assembly struct {
	header      []byte
	chunks      map[uint16][]byte
	total       int
	lastActive  time.Time
}

// Assembler buffers in-flight chunked PE replies. Not safe for concurrent use; the
// owning component (the transaction manager) must serialize calls.
type Assembler struct {
	inflight map[uint8]*assembly
	timeout  time.Duration
}

// New creates an Assembler with the given per-assembly chunk timeout.
func New(timeout time.Duration) *Assembler {
	return &Assembler{
		inflight: make(map[uint8]*assembly),
		timeout:  timeout,
	}
}

// Begin registers requestID as having an active assembly, so the first chunk for it is
// accepted; a chunk for a request ID that was never begun is reported as
// KindUnknownRequestID. Transaction begin() calls this.
func (a *Assembler) Begin(requestID uint8, now time.Time) {
	if _, exists := a.inflight[requestID]; exists {
		return
	}
	a.inflight[requestID] = &assembly{
		chunks:     make(map[uint16][]byte),
		lastActive: now,
	}
}

// AddChunk buffers one chunk of requestID's reply. thisChunk and numChunks are 1-based
// per the wire encoding. Re-receiving a chunk that was already buffered replaces its
// bytes without incrementing the received count.
func (a *Assembler) AddChunk(requestID uint8, thisChunk, numChunks uint16, header, body []byte, now time.Time) Outcome {
	st, ok := a.inflight[requestID]
	if !ok {
		return Outcome{Kind: KindUnknownRequestID, RequestID: requestID}
	}
	st.lastActive = now
	if st.total == 0 {
		st.total = int(numChunks)
	}
	if len(header) > 0 && len(st.header) == 0 {
		st.header = header
	}
	st.chunks[thisChunk] = body

	if len(st.chunks) < st.total {
		return Outcome{Kind: KindIncomplete, Received: len(st.chunks), Total: st.total}
	}

	total := 0
	for i := uint16(1); i <= uint16(st.total); i++ {
		total += len(st.chunks[i])
	}
	assembled := bufpool.Get(total)[:0]
	for i := uint16(1); i <= uint16(st.total); i++ {
		assembled = append(assembled, st.chunks[i]...)
	}
	delete(a.inflight, requestID)
	return Outcome{Kind: KindComplete, Header: st.header, Body: assembled}
}

// ReleaseBody returns a completed Outcome's Body buffer to the shared pool. Callers must
// stop referencing body (or must have already copied anything they need out of it) before
// calling this; it exists because the reassembly buffer for a large multi-chunk PE reply
// is sized by the caller and reused across requests rather than re-allocated each time.
func ReleaseBody(body []byte) {
	bufpool.Put(body)
}

// CheckTimeouts returns an outcome for every active assembly whose lastActive is older
// than the configured timeout as of now, removing them from the assembler.
func (a *Assembler) CheckTimeouts(now time.Time) []Outcome {
	var out []Outcome
	for id, st := range a.inflight {
		if now.Sub(st.lastActive) < a.timeout {
			continue
		}
		out = append(out, Outcome{
			Kind:      KindTimeout,
			RequestID: id,
			Received:  len(st.chunks),
			Total:     st.total,
			Partial:   len(st.chunks) > 0,
		})
		delete(a.inflight, id)
	}
	return out
}

// Cancel discards any in-progress assembly for requestID, silent if none exists.
func (a *Assembler) Cancel(requestID uint8) {
	delete(a.inflight, requestID)
}

// HasActive reports whether requestID currently has a buffered, incomplete assembly.
func (a *Assembler) HasActive(requestID uint8) bool {
	_, ok := a.inflight[requestID]
	return ok
}
