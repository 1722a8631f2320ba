package framer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func buildMessage(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, sysExStart)
	out = append(out, payload...)
	out = append(out, sysExEnd)
	return out
}

func TestProcessSingleCompleteMessage(t *testing.T) {
	f := New(0)
	msg := buildMessage([]byte{0x01, 0x02, 0x03})
	out := f.Process(msg)
	require.Len(t, out, 1)
	require.Equal(t, msg, out[0])
	require.False(t, f.HasIncomplete())
}

func TestProcessSplitAcrossCalls(t *testing.T) {
	f := New(0)
	msg := buildMessage([]byte{0x01, 0x02, 0x03, 0x04})
	out := f.Process(msg[:3])
	require.Empty(t, out)
	require.True(t, f.HasIncomplete())

	out = f.Process(msg[3:])
	require.Len(t, out, 1)
	require.Equal(t, msg, out[0])
	require.False(t, f.HasIncomplete())
}

func TestProcessSkipsLeadingGarbage(t *testing.T) {
	f := New(0)
	msg := buildMessage([]byte{0x01})
	stream := append([]byte{0x00, 0x01, 0x02}, msg...)
	out := f.Process(stream)
	require.Len(t, out, 1)
	require.Equal(t, msg, out[0])
}

func TestProcessMultipleMessagesOneCall(t *testing.T) {
	f := New(0)
	m1 := buildMessage([]byte{0x01})
	m2 := buildMessage([]byte{0x02, 0x03})
	stream := append(append([]byte{}, m1...), m2...)
	out := f.Process(stream)
	require.Len(t, out, 2)
	require.Equal(t, m1, out[0])
	require.Equal(t, m2, out[1])
}

func TestProcessDiscardsCorruptedSpanOnNewStart(t *testing.T) {
	f := New(0)
	// A new F0 arrives before the first message's F7.
	out := f.Process([]byte{sysExStart, 0x01, 0x02})
	require.Empty(t, out)
	require.True(t, f.HasIncomplete())

	msg := buildMessage([]byte{0x05})
	out = f.Process(msg)
	require.Len(t, out, 1)
	require.Equal(t, msg, out[0])
}

func TestProcessEnforcesCeilingOnSeed(t *testing.T) {
	f := New(MinCeiling)
	oversized := append([]byte{sysExStart}, bytes.Repeat([]byte{0x01}, MinCeiling+10)...)
	out := f.Process(oversized)
	require.Empty(t, out)
	require.Equal(t, uint64(1), f.BufferOverflowCount())
	require.False(t, f.HasIncomplete())
}

func TestProcessEnforcesCeilingOnAppend(t *testing.T) {
	f := New(MinCeiling)
	f.Process([]byte{sysExStart, 0x01})
	require.True(t, f.HasIncomplete())

	more := bytes.Repeat([]byte{0x01}, MinCeiling+10)
	out := f.Process(more)
	require.Empty(t, out)
	require.Equal(t, uint64(1), f.BufferOverflowCount())
	require.False(t, f.HasIncomplete())
}

func TestReset(t *testing.T) {
	f := New(0)
	f.Process([]byte{sysExStart, 0x01, 0x02})
	require.True(t, f.HasIncomplete())
	f.Reset()
	require.False(t, f.HasIncomplete())
	require.Equal(t, 0, f.BufferSize())
}

// nonFramingByte draws a byte guaranteed not to collide with F0 or F7, so generated
// "garbage" and "payload" bytes never accidentally start or end a frame.
func nonFramingByte(t *rapid.T, label string) byte {
	return rapid.Uint8Range(0, 0xEF).Filter(func(b uint8) bool {
		return b != sysExStart
	}).Draw(t, label)
}

func TestFramerRobustnessUnderFragmentation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := New(0)
		numMessages := rapid.IntRange(0, 6).Draw(t, "numMessages")

		var stream []byte
		var want [][]byte
		for i := 0; i < numMessages; i++ {
			if rapid.Bool().Draw(t, "garbageBefore") {
				garbageLen := rapid.IntRange(0, 5).Draw(t, "garbageLen")
				for j := 0; j < garbageLen; j++ {
					stream = append(stream, nonFramingByte(t, "garbageByte"))
				}
			}
			payloadLen := rapid.IntRange(0, 16).Draw(t, "payloadLen")
			payload := make([]byte, payloadLen)
			for j := range payload {
				payload[j] = nonFramingByte(t, "payloadByte")
			}
			msg := buildMessage(payload)
			stream = append(stream, msg...)
			want = append(want, msg)
		}

		var got [][]byte
		for len(stream) > 0 {
			chunkLen := rapid.IntRange(1, 7).Draw(t, "chunkLen")
			if chunkLen > len(stream) {
				chunkLen = len(stream)
			}
			got = append(got, f.Process(stream[:chunkLen])...)
			stream = stream[chunkLen:]
		}

		if len(got) != len(want) {
			t.Fatalf("message count mismatch: got %d want %d", len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("message %d mismatch: got %x want %x", i, got[i], want[i])
			}
		}
		if f.BufferSize() > DefaultCeiling {
			t.Fatalf("buffer size %d exceeds ceiling", f.BufferSize())
		}
	})
}
