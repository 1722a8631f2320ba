package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestIdentityRoundTrip(t *testing.T) {
	id := DeviceIdentity{
		ManufacturerID: [3]byte{0x00, 0x21, 0x34},
		FamilyID:       0x1234 & 0x3FFF,
		ModelID:        0x0567,
		VersionID:      0x0A1B2C3D & MaxMUID,
	}
	buf := make([]byte, IdentityLen)
	PutIdentity(buf, id)
	require.True(t, AllSevenBit(buf))

	got, err := ParseIdentity(buf)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestParseIdentityRejectsShortInput(t *testing.T) {
	_, err := ParseIdentity(make([]byte, 5))
	require.Error(t, err)
}

func TestParseIdentityRejectsMSBSet(t *testing.T) {
	buf := make([]byte, IdentityLen)
	buf[4] = 0x80
	_, err := ParseIdentity(buf)
	require.Error(t, err)
}

func TestIdentityRapidRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := DeviceIdentity{
			FamilyID:  rapid.Uint16Range(0, 0x3FFF).Draw(t, "family"),
			ModelID:   rapid.Uint16Range(0, 0x3FFF).Draw(t, "model"),
			VersionID: rapid.Uint32Range(0, MaxMUID).Draw(t, "version"),
		}
		mfr := rapid.SliceOfN(rapid.Byte(), 3, 3).Draw(t, "mfr")
		for i := range id.ManufacturerID {
			id.ManufacturerID[i] = mfr[i] & 0x7F
		}
		buf := make([]byte, IdentityLen)
		PutIdentity(buf, id)
		require.True(t, AllSevenBit(buf))
		got, err := ParseIdentity(buf)
		require.NoError(t, err)
		require.Equal(t, id, got)
	})
}

func TestCategorySupportHas(t *testing.T) {
	cs := CategoryPropertyExchange | CategoryProcessInquiry
	require.True(t, cs.Has(CategoryPropertyExchange))
	require.True(t, cs.Has(CategoryProcessInquiry))
	require.False(t, cs.Has(CategoryProfileConfiguration))
	require.Equal(t, cs, CategorySupportFromByte(cs.Byte()))
}
