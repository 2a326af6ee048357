package plumbing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAlgoSizeAndKind(t *testing.T) {
	assert.Equal(t, 20, SHA1.Size())
	assert.Equal(t, "sha1", SHA1.String())
	assert.Equal(t, 32, BLAKE3.Size())
	assert.Equal(t, "blake3", BLAKE3.String())
}

func TestNewHashInfersAlgoFromLength(t *testing.T) {
	sha1Hex := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	blake3Hex := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	h1 := NewHash(sha1Hex)
	require.False(t, h1.IsZero())
	assert.Equal(t, 20, h1.Size)
	assert.Equal(t, sha1Hex, h1.String())

	h2 := NewHash(blake3Hex)
	require.False(t, h2.IsZero())
	assert.Equal(t, 32, h2.Size)
	assert.Equal(t, blake3Hex, h2.String())
}

func TestNewHashRejectsMalformedInput(t *testing.T) {
	assert.True(t, NewHash("not-hex").IsZero())
	assert.True(t, NewHash("abcd").IsZero())
	assert.True(t, NewHash("").IsZero())
}

func TestHashEqualDistinguishesWidths(t *testing.T) {
	sha1 := NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	// A 32-byte hash whose leading 20 bytes coincide with sha1 above must
	// never compare equal to it.
	blake3 := NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa000000000000000000000000")

	assert.False(t, sha1.Equal(blake3))
	assert.True(t, sha1.Equal(NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")))
}

func TestNewHashFromBytesRoundTrips(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i)
	}
	h, err := NewHashFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, h.Bytes())

	_, err = NewHashFromBytes(make([]byte, 7))
	assert.Error(t, err)
}

func TestValidateHashHexAndAbbrev(t *testing.T) {
	full := "0123456789abcdef0123456789abcdef01234567"[:40]
	assert.True(t, ValidateHashHex(full))
	assert.False(t, ValidateHashHex(full[:10]))
	assert.True(t, ValidateAbbrevHex(full[:10]))
	assert.False(t, ValidateAbbrevHex(""))
	assert.False(t, ValidateAbbrevHex("not-hex!!"))
}

func TestHashCompareOrdersByWidthThenBytes(t *testing.T) {
	a := NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	b := NewHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	wide := NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa000000000000000000000000")

	assert.True(t, a.Compare(b) < 0)
	assert.True(t, a.Compare(wide) < 0, "a 20-byte hash sorts before any 32-byte hash")
}
