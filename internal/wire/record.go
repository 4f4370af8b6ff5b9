package wire

import (
	"encoding/binary"
	"fmt"
)

// RRHeader is the fixed-format prefix shared by every resource record:
// owner name, class, and TTL. Type is carried by the concrete Record
// implementation rather than the header, since a handful of record
// kinds (CNAME/NS/PTR) share a single Go type for several wire types.
type RRHeader struct {
	Name  string
	Class RecordClass
	TTL   uint32
}

// NewRRHeader builds an RRHeader for a record owned by name.
func NewRRHeader(name string, class RecordClass, ttl uint32) RRHeader {
	return RRHeader{Name: name, Class: class, TTL: ttl}
}

// Record is any resource record that can appear in an answer,
// authority, or additional section.
type Record interface {
	Type() RecordType
	Header() RRHeader
	SetHeader(RRHeader)
	MarshalRData() ([]byte, error)
}

// MarshalRR appends a full resource record (name, type, class, ttl,
// rdlength, rdata) to out using w's shared compression table. The OPT
// pseudo-record's owner name is always the root and is never a
// candidate for compression (RFC 6891 §6.1.2).
func MarshalRR(out []byte, w *nameWriter, base int, r Record) ([]byte, error) {
	h := r.Header()
	var err error
	if r.Type() == TypeOPT {
		out = append(out, 0)
	} else {
		out, err = w.writeName(out, h.Name, base)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", h.Name, err)
		}
	}

	rdata, err := r.MarshalRData()
	if err != nil {
		return nil, fmt.Errorf("record %q rdata: %w", h.Name, err)
	}
	if len(rdata) > 0xFFFF {
		return nil, fmt.Errorf("%w: rdata too long (%d bytes)", ErrWire, len(rdata))
	}

	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(r.Type()))
	binary.BigEndian.PutUint16(fixed[2:4], uint16(h.Class))
	binary.BigEndian.PutUint32(fixed[4:8], h.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	out = append(out, fixed...)
	out = append(out, rdata...)
	return out, nil
}

// ParseRR parses one resource record at *off, advancing *off past it.
func ParseRR(msg []byte, off *int) (Record, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return nil, fmt.Errorf("record name: %w", err)
	}
	if *off+10 > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF reading record header", ErrWire)
	}
	rrType := RecordType(binary.BigEndian.Uint16(msg[*off : *off+2]))
	rrClass := RecordClass(binary.BigEndian.Uint16(msg[*off+2 : *off+4]))
	ttl := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	rdlen := int(binary.BigEndian.Uint16(msg[*off+8 : *off+10]))
	*off += 10

	start := *off
	if start+rdlen > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF reading record rdata", ErrWire)
	}
	header := NewRRHeader(NormalizeName(name), rrClass, ttl)

	var rec Record
	switch rrType {
	case TypeA, TypeAAAA:
		rec, err = ParseIPRData(msg, off, rdlen)
	case TypeCNAME, TypeNS, TypePTR:
		rec, err = ParseNameRData(msg, off, start, rdlen, rrType)
	case TypeMX:
		rec, err = ParseMXRData(msg, off, start, rdlen)
	default:
		rec, err = ParseOpaqueRData(msg, off, rdlen, rrType)
	}
	if err != nil {
		return nil, err
	}
	if *off != start+rdlen {
		return nil, fmt.Errorf("%w: rdata length mismatch for type %d", ErrWire, rrType)
	}
	rec.SetHeader(header)
	return rec, nil
}

// MXRecord is a mail-exchange record (RFC 1035 §3.3.9).
type MXRecord struct {
	H          RRHeader
	Preference uint16
	Exchange   string
}

func NewMXRecord(h RRHeader, preference uint16, exchange string) *MXRecord {
	return &MXRecord{H: h, Preference: preference, Exchange: exchange}
}

func (r *MXRecord) Type() RecordType     { return TypeMX }
func (r *MXRecord) Header() RRHeader     { return r.H }
func (r *MXRecord) SetHeader(h RRHeader) { r.H = h }

func (r *MXRecord) MarshalRData() ([]byte, error) {
	ex, err := EncodeName(r.Exchange)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2+len(ex))
	binary.BigEndian.PutUint16(out[0:2], r.Preference)
	copy(out[2:], ex)
	return out, nil
}

// ParseMXRData parses MX record RDATA from wire format.
func ParseMXRData(msg []byte, off *int, start, rdlen int) (*MXRecord, error) {
	if *off+2 > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF reading MX preference", ErrWire)
	}
	pref := binary.BigEndian.Uint16(msg[*off : *off+2])
	*off += 2
	exchange, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	if *off-start != rdlen {
		return nil, fmt.Errorf("%w: MX record rdata length mismatch", ErrWire)
	}
	return &MXRecord{Exchange: NormalizeName(exchange), Preference: pref}, nil
}
