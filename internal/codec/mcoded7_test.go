package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMcoded7RoundTripEmpty(t *testing.T) {
	enc := EncodeMcoded7(nil)
	require.Nil(t, enc)
	dec, err := DecodeMcoded7(nil)
	require.NoError(t, err)
	require.Nil(t, dec)
}

func TestMcoded7RoundTripShortGroup(t *testing.T) {
	data := []byte{0x81, 0x02, 0x83}
	enc := EncodeMcoded7(data)
	require.Len(t, enc, 4) // 1 MSB byte + 3 data bytes
	dec, err := DecodeMcoded7(enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestMcoded7RoundTripExactGroup(t *testing.T) {
	data := []byte{0x80, 0x01, 0x82, 0x03, 0x84, 0x05, 0x86}
	enc := EncodeMcoded7(data)
	require.Len(t, enc, 8) // 1 MSB byte + 7 data bytes
	dec, err := DecodeMcoded7(enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestMcoded7RoundTripMultipleGroups(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i*13 + 1)
	}
	enc := EncodeMcoded7(data)
	require.True(t, len(enc) > len(data)) // at least 3 MSB header bytes added
	dec, err := DecodeMcoded7(enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestMcoded7EncodedBytesAreSevenBitSafe(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		enc := EncodeMcoded7(data)
		for _, b := range enc {
			if b&0x80 != 0 {
				t.Fatalf("encoded byte %#x has MSB set", b)
			}
		}
	})
}

func TestMcoded7RapidRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		enc := EncodeMcoded7(data)
		dec, err := DecodeMcoded7(enc)
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		if len(data) == 0 {
			if len(dec) != 0 {
				t.Fatalf("expected empty decode, got %v", dec)
			}
			return
		}
		require.Equal(t, data, dec)
	})
}

func TestMcoded7DecodeRejectsTrailingMSBByte(t *testing.T) {
	_, err := DecodeMcoded7([]byte{0x00})
	require.ErrorIs(t, err, errMcoded7TrailingHeader)
}

func TestMcoded7DecodeRejectsTrailingMSBByteAfterGroup(t *testing.T) {
	// One full 8-byte group (1 MSB byte + 7 data bytes) followed by a lone MSB byte
	// with no data bytes behind it.
	_, err := DecodeMcoded7(make([]byte, 9))
	require.ErrorIs(t, err, errMcoded7TrailingHeader)
}
