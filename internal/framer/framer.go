// Package framer reassembles complete F0...F7 SysEx messages out of a byte stream that
// may arrive split across arbitrary packet boundaries, interleaved with non-SysEx
// garbage, or corrupted mid-frame.
package framer

import "bytes"

const (
	sysExStart = 0xF0
	sysExEnd   = 0xF7

	// DefaultCeiling is the default rolling-buffer ceiling (§4.2).
	DefaultCeiling = 1 << 20 // 1 MiB
	// MinCeiling is the smallest ceiling New accepts.
	MinCeiling = 1 << 10 // 1 KiB
)

// Framer is a stateful byte-stream reassembler for one inbound endpoint. Not safe for
// concurrent use; the owning component must serialize calls to Process.
type Framer struct {
	buf           []byte
	ceiling       int
	overflowCount uint64
}

// New creates a Framer with the given buffer ceiling. Values below MinCeiling are raised
// to MinCeiling; a zero ceiling selects DefaultCeiling.
func New(ceiling int) *Framer {
	if ceiling == 0 {
		ceiling = DefaultCeiling
	}
	if ceiling < MinCeiling {
		ceiling = MinCeiling
	}
	return &Framer{ceiling: ceiling}
}

// Process feeds newly arrived bytes into the framer and returns every complete message
// (including its F0/F7 framing bytes) that can now be emitted. Each returned slice is a
// fresh copy, safe for the caller to retain past the next Process call.
func (f *Framer) Process(data []byte) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		if len(f.buf) == 0 {
			idx := bytes.IndexByte(data, sysExStart)
			if idx == -1 {
				return out // remainder is garbage; nothing more to find
			}
			data = data[idx:]

			if end := bytes.IndexByte(data[1:], sysExEnd); end != -1 {
				msgLen := end + 2 // +1 for the skipped F0, +1 to include F7 itself
				out = append(out, append([]byte(nil), data[:msgLen]...))
				data = data[msgLen:]
				continue
			}

			if len(data) <= f.ceiling {
				f.buf = append(f.buf[:0], data...)
			} else {
				f.overflowCount++
			}
			data = nil
			continue
		}

		if data[0] == sysExStart {
			// A new message started before the previous one terminated: the buffered
			// span is corrupted. Discard it and restart on the new F0.
			f.buf = f.buf[:0]
			continue
		}

		if idx := bytes.IndexByte(data, sysExEnd); idx != -1 {
			f.buf = append(f.buf, data[:idx+1]...)
			out = append(out, append([]byte(nil), f.buf...))
			f.buf = f.buf[:0]
			data = data[idx+1:]
			continue
		}

		if len(f.buf)+len(data) <= f.ceiling {
			f.buf = append(f.buf, data...)
		} else {
			f.overflowCount++
			f.buf = f.buf[:0]
		}
		data = nil
	}
	return out
}

// HasIncomplete reports whether a message is currently partially buffered.
func (f *Framer) HasIncomplete() bool { return len(f.buf) > 0 }

// BufferSize returns the number of bytes currently held in the rolling buffer.
func (f *Framer) BufferSize() int { return len(f.buf) }

// BufferOverflowCount returns the number of times the ceiling forced a discard.
func (f *Framer) BufferOverflowCount() uint64 { return f.overflowCount }

// Reset discards any partially buffered message without affecting overflowCount.
func (f *Framer) Reset() { f.buf = f.buf[:0] }
