package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameWriterCompressesRepeatedSuffix(t *testing.T) {
	w := newNameWriter()

	out, err := w.writeName(nil, "www.example.com", 0)
	require.NoError(t, err)
	firstLen := len(out)

	out, err = w.writeName(out, "mail.example.com", 0)
	require.NoError(t, err)

	// "mail" label plus a 2-byte pointer is far shorter than re-encoding
	// "example.com" in full.
	secondNameLen := len(out) - firstLen
	assert.Less(t, secondNameLen, len("mail.example.com")+2)

	// The last two bytes are a compression pointer (top two bits set).
	assert.Equal(t, byte(0xC0), out[len(out)-2]&0xC0)
}

func TestNameWriterRoundTripsThroughDecodeName(t *testing.T) {
	w := newNameWriter()
	out, err := w.writeName(nil, "a.example.com", 0)
	require.NoError(t, err)
	out, err = w.writeName(out, "b.example.com", 0)
	require.NoError(t, err)

	off := 0
	first, err := decodeName(out, &off, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", first)

	second, err := decodeName(out, &off, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "b.example.com", second)
}

func TestNameWriterRootName(t *testing.T) {
	w := newNameWriter()
	out, err := w.writeName(nil, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, out)
}

func TestNameWriterDoesNotRecordOffsetsPast14Bits(t *testing.T) {
	w := newNameWriter()
	// A 0x4000-byte prefix in out puts "example.com" at an offset
	// >= 0x4000, which can't be
	// expressed as a compression pointer, so it must not be recorded.
	out, err := w.writeName(make([]byte, 0x4000), "example.com", 0)
	require.NoError(t, err)
	assert.Len(t, out, 0x4000+len("example.com")+2)
	_, recorded := w.offsets["example.com"]
	assert.False(t, recorded)
}
