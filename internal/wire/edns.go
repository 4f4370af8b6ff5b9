package wire

import "encoding/binary"

// EDNS (Extension Mechanisms for DNS) constants per RFC 6891.
const (
	DefaultUDPPayloadSize     = 512  // traditional DNS UDP limit (RFC 1035)
	EDNSDefaultUDPPayloadSize = 1232 // safe EDNS size avoiding fragmentation
	EDNSMaxUDPPayloadSize     = 4096 // maximum practical EDNS UDP size
	EDNSMinUDPPayloadSize     = 512  // minimum EDNS UDP payload size
)

// EDNSOption is one option TLV inside an OPT record's RDATA.
type EDNSOption struct {
	Code uint16
	Data []byte
}

const (
	ednsOptionHeaderLen   = 4
	ednsMaxOptionDataSize = EDNSMaxUDPPayloadSize
)

func isAllowedEDNSOption(code uint16) bool {
	switch code {
	case 10: // COOKIE
		return true
	case 12: // PADDING
		return true
	default:
		return false
	}
}

// Marshal serializes an EDNS option to wire format.
func (o EDNSOption) Marshal() []byte {
	b := make([]byte, 4+len(o.Data))
	binary.BigEndian.PutUint16(b[0:2], o.Code)
	binary.BigEndian.PutUint16(b[2:4], clampIntToUint16(len(o.Data)))
	copy(b[4:], o.Data)
	return b
}

// ParseEDNSOptions extracts recognized EDNS options from raw RDATA,
// skipping unknown or oversized options. A truncated option header
// ends parsing early rather than erroring the whole packet.
func ParseEDNSOptions(rdata []byte) []EDNSOption {
	opts := make([]EDNSOption, 0, 2)
	for i := 0; i < len(rdata); {
		if len(rdata)-i < ednsOptionHeaderLen {
			break
		}
		code := binary.BigEndian.Uint16(rdata[i : i+2])
		ln := int(binary.BigEndian.Uint16(rdata[i+2 : i+4]))
		i += ednsOptionHeaderLen

		if ln > ednsMaxOptionDataSize {
			i += ln
			if i > len(rdata) {
				break
			}
			continue
		}
		if i+ln > len(rdata) {
			break
		}
		if !isAllowedEDNSOption(code) {
			i += ln
			continue
		}
		data := make([]byte, ln)
		copy(data, rdata[i:i+ln])
		opts = append(opts, EDNSOption{Code: code, Data: data})
		i += ln
	}
	return opts
}

// MarshalEDNSOptions serializes EDNS options to RDATA, skipping oversized ones.
func MarshalEDNSOptions(opts []EDNSOption) []byte {
	if len(opts) == 0 {
		return nil
	}
	size := 0
	for _, o := range opts {
		if len(o.Data) > ednsMaxOptionDataSize {
			continue
		}
		size += ednsOptionHeaderLen + len(o.Data)
	}
	if size == 0 {
		return nil
	}
	out := make([]byte, 0, size)
	for _, o := range opts {
		if len(o.Data) > ednsMaxOptionDataSize {
			continue
		}
		out = append(out, o.Marshal()...)
	}
	return out
}

// OPTRecord is the EDNS pseudo-record (RFC 6891). It reuses the RR
// wire layout with a non-standard field meaning: NAME is always root,
// CLASS carries the sender's UDP payload size, and TTL packs the
// extended RCODE, version, and the DO (DNSSEC OK) flag:
//
//	+----------------+----------------+
//	| EXTENDED-RCODE |     VERSION    |
//	+----------------+----------------+
//	|DO|           Z (reserved)       |
//	+----------------+----------------+
type OPTRecord struct {
	UDPPayloadSize uint16
	ExtendedRCode  uint8
	Version        uint8
	DNSSECOk       bool
	Options        []EDNSOption
}

// CreateOPT builds an OPT record advertising the given UDP payload size.
func CreateOPT(udpPayloadSize int) OPTRecord {
	sz := clampInt(udpPayloadSize, EDNSMinUDPPayloadSize, 65535)
	return OPTRecord{UDPPayloadSize: clampIntToUint16(sz)}
}

// Marshal serializes the OPT record to wire format.
func (o OPTRecord) Marshal() []byte {
	ttl := packOPTTTL(o.ExtendedRCode, o.Version, o.DNSSECOk)

	rdata := MarshalEDNSOptions(o.Options)

	b := make([]byte, 0, 11+len(rdata))
	b = append(b, 0) // root name

	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(TypeOPT))
	binary.BigEndian.PutUint16(fixed[2:4], o.UDPPayloadSize) // CLASS field holds UDP size
	binary.BigEndian.PutUint32(fixed[4:8], ttl)
	binary.BigEndian.PutUint16(fixed[8:10], clampIntToUint16(len(rdata)))
	b = append(b, fixed...)
	b = append(b, rdata...)
	return b
}

func packOPTTTL(extRCode, version uint8, dnssecOk bool) uint32 {
	ttl := uint32(extRCode)<<24 | uint32(version)<<16
	if dnssecOk {
		ttl |= 1 << 15
	}
	return ttl
}

// ExtractOPT finds and parses an OPT record from a records slice
// (typically a packet's additionals section). Returns nil if absent.
func ExtractOPT(records []Record) *OPTRecord {
	for _, r := range records {
		if r.Type() != TypeOPT {
			continue
		}
		opaque, ok := r.(*OpaqueRecord)
		if !ok {
			continue
		}
		h := opaque.Header()
		o := OPTRecord{
			UDPPayloadSize: uint16(h.Class),
			ExtendedRCode:  clampUint32ToUint8((h.TTL >> 24) & 0xFF),
			Version:        clampUint32ToUint8((h.TTL >> 16) & 0xFF),
			DNSSECOk:       ((h.TTL >> 15) & 0x1) == 1,
			Options:        ParseEDNSOptions(opaque.Data),
		}
		return &o
	}
	return nil
}

// ClientMaxUDPSize returns the max UDP response size a requester
// advertised via EDNS, or DefaultUDPPayloadSize if it sent none.
func ClientMaxUDPSize(p Packet) int {
	opt := ExtractOPT(p.Additionals)
	if opt == nil {
		return DefaultUDPPayloadSize
	}
	if opt.UDPPayloadSize < DefaultUDPPayloadSize {
		return DefaultUDPPayloadSize
	}
	return int(opt.UDPPayloadSize)
}

// IsTruncated reports whether a wire message has the TC flag set.
func IsTruncated(msg []byte) bool {
	if len(msg) < 4 {
		return false
	}
	flags := binary.BigEndian.Uint16(msg[2:4])
	return (flags & TCFlag) != 0
}
