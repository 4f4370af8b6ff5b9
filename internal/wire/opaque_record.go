package wire

import "fmt"

// OpaqueRecord carries raw, un-interpreted rdata: TXT records (whose
// character-string framing the caller is responsible for) and any
// record type this package doesn't parse structurally.
type OpaqueRecord struct {
	H    RRHeader
	T    RecordType
	Data []byte
}

func NewOpaqueRecord(h RRHeader, rt RecordType, data []byte) *OpaqueRecord {
	return &OpaqueRecord{H: h, T: rt, Data: data}
}

func (r *OpaqueRecord) Type() RecordType     { return r.T }
func (r *OpaqueRecord) Header() RRHeader     { return r.H }
func (r *OpaqueRecord) SetHeader(h RRHeader) { r.H = h }

func (r *OpaqueRecord) MarshalRData() ([]byte, error) {
	if r.Data == nil {
		return nil, nil
	}
	return r.Data, nil
}

// ParseOpaqueRData parses raw rdata for TXT and unrecognized types.
func ParseOpaqueRData(msg []byte, off *int, rdlen int, rt RecordType) (*OpaqueRecord, error) {
	if *off+rdlen > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF reading opaque record", ErrWire)
	}
	b := make([]byte, rdlen)
	copy(b, msg[*off:*off+rdlen])
	*off += rdlen
	return &OpaqueRecord{T: rt, Data: b}, nil
}
