package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEDNSOptionMarshal(t *testing.T) {
	opt := EDNSOption{Code: 10, Data: []byte{1, 2, 3}}
	b := opt.Marshal()
	assert.Equal(t, []byte{0x00, 0x0A, 0x00, 0x03, 1, 2, 3}, b)
}

func TestParseEDNSOptionsRoundTrip(t *testing.T) {
	opts := []EDNSOption{
		{Code: 10, Data: []byte("cookie-data")},
		{Code: 12, Data: []byte{0, 0, 0}},
	}
	rdata := MarshalEDNSOptions(opts)

	parsed := ParseEDNSOptions(rdata)
	require.Len(t, parsed, 2)
	assert.Equal(t, uint16(10), parsed[0].Code)
	assert.Equal(t, []byte("cookie-data"), parsed[0].Data)
	assert.Equal(t, uint16(12), parsed[1].Code)
}

func TestParseEDNSOptionsSkipsUnknownCode(t *testing.T) {
	opt := EDNSOption{Code: 999, Data: []byte{1}}
	rdata := opt.Marshal()
	parsed := ParseEDNSOptions(rdata)
	assert.Empty(t, parsed)
}

func TestParseEDNSOptionsTruncatedHeaderStopsEarly(t *testing.T) {
	rdata := []byte{0x00, 0x0A} // only 2 of the 4 header bytes
	parsed := ParseEDNSOptions(rdata)
	assert.Empty(t, parsed)
}

func TestMarshalEDNSOptionsEmpty(t *testing.T) {
	assert.Nil(t, MarshalEDNSOptions(nil))
}

func TestCreateOPTClampsPayloadSize(t *testing.T) {
	opt := CreateOPT(100) // below EDNSMinUDPPayloadSize
	assert.Equal(t, uint16(EDNSMinUDPPayloadSize), opt.UDPPayloadSize)

	opt = CreateOPT(70000) // above uint16 range
	assert.Equal(t, uint16(65535), opt.UDPPayloadSize)
}

func TestOPTRecordMarshalExtractRoundTrip(t *testing.T) {
	opt := CreateOPT(EDNSDefaultUDPPayloadSize)
	opt.DNSSECOk = true
	opt.Version = 0
	opt.Options = []EDNSOption{{Code: 10, Data: []byte("abc")}}

	b := opt.Marshal()

	off := 0
	rr, err := ParseRR(b, &off)
	require.NoError(t, err)
	assert.Equal(t, TypeOPT, rr.Type())

	extracted := ExtractOPT([]Record{rr})
	require.NotNil(t, extracted)
	assert.Equal(t, uint16(EDNSDefaultUDPPayloadSize), extracted.UDPPayloadSize)
	assert.True(t, extracted.DNSSECOk)
	require.Len(t, extracted.Options, 1)
	assert.Equal(t, []byte("abc"), extracted.Options[0].Data)
}

func TestExtractOPTAbsent(t *testing.T) {
	assert.Nil(t, ExtractOPT(nil))
}

func TestClientMaxUDPSizeDefault(t *testing.T) {
	assert.Equal(t, DefaultUDPPayloadSize, ClientMaxUDPSize(Packet{}))
}

func TestClientMaxUDPSizeFromOPT(t *testing.T) {
	opt := CreateOPT(EDNSMaxUDPPayloadSize)
	optHeader := NewRRHeader("", RecordClass(opt.UDPPayloadSize), 0)
	rr := NewOpaqueRecord(optHeader, TypeOPT, nil)

	p := Packet{Additionals: []Record{rr}}
	assert.Equal(t, EDNSMaxUDPPayloadSize, ClientMaxUDPSize(p))
}

func TestIsTruncated(t *testing.T) {
	h := Header{Flags: TCFlag}
	assert.True(t, IsTruncated(h.Marshal()))

	h2 := Header{Flags: 0}
	assert.False(t, IsTruncated(h2.Marshal()))

	assert.False(t, IsTruncated([]byte{0x00}))
}
