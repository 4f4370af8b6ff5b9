package wire

// Packet is a complete DNS message (RFC 1035 §4): a header plus the
// question, answer, authority, and additional sections.
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// Marshal serializes the packet to wire format, compressing names
// with a single pointer table shared across every question and
// record in the message.
func (p Packet) Marshal() ([]byte, error) {
	h := Header{
		ID:      p.Header.ID,
		Flags:   p.Header.Flags,
		QDCount: clampIntToUint16(len(p.Questions)),
		ANCount: clampIntToUint16(len(p.Answers)),
		NSCount: clampIntToUint16(len(p.Authorities)),
		ARCount: clampIntToUint16(len(p.Additionals)),
	}

	estimatedSize := HeaderSize + len(p.Questions)*32 + (len(p.Answers)+len(p.Authorities)+len(p.Additionals))*48
	out := make([]byte, 0, estimatedSize)
	out = append(out, h.Marshal()...)

	w := newNameWriter()
	var err error
	for _, q := range p.Questions {
		out, err = q.Marshal(out, w, 0)
		if err != nil {
			return nil, err
		}
	}
	for _, sec := range [][]Record{p.Answers, p.Authorities, p.Additionals} {
		for _, rr := range sec {
			out, err = MarshalRR(out, w, 0, rr)
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func limitCount(count uint16, limit int) int {
	if int(count) > limit {
		return limit
	}
	return int(count)
}

// ParsePacket parses a complete message. Any malformed question or
// record is a fatal parse error; for tolerant parsing of replies from
// upstream servers where a single bad trailing record shouldn't
// discard an otherwise-usable answer, use ParsePacketLenient.
func ParsePacket(msg []byte) (Packet, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Packet{}, err
	}

	p := Packet{Header: h}
	p.Questions = make([]Question, 0, limitCount(h.QDCount, MaxQuestions))
	for i := 0; i < int(h.QDCount); i++ {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Questions = append(p.Questions, q)
	}

	for _, sec := range []struct {
		count uint16
		dst   *[]Record
	}{
		{h.ANCount, &p.Answers},
		{h.NSCount, &p.Authorities},
		{h.ARCount, &p.Additionals},
	} {
		*sec.dst = make([]Record, 0, limitCount(sec.count, MaxRRPerSection))
		for i := 0; i < int(sec.count); i++ {
			rr, err := ParseRR(msg, &off)
			if err != nil {
				return Packet{}, err
			}
			*sec.dst = append(*sec.dst, rr)
		}
	}
	return p, nil
}

// ParsePacketLenient parses a message the same way as ParsePacket, but
// a record that fails to parse in the answer, authority, or additional
// sections ends that section instead of aborting the whole parse: the
// records before it are kept, and it and the rest of that section are
// dropped. A reply that is otherwise well-formed but carries one
// corrupt glue record still yields its usable answers. Question parsing failures remain
// fatal, since a mismatched question can't be matched to a pending
// request at all.
func ParsePacketLenient(msg []byte) (Packet, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Packet{}, err
	}

	p := Packet{Header: h}
	p.Questions = make([]Question, 0, limitCount(h.QDCount, MaxQuestions))
	for i := 0; i < int(h.QDCount); i++ {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Questions = append(p.Questions, q)
	}

	for _, sec := range []struct {
		count uint16
		dst   *[]Record
	}{
		{h.ANCount, &p.Answers},
		{h.NSCount, &p.Authorities},
		{h.ARCount, &p.Additionals},
	} {
		*sec.dst = make([]Record, 0, limitCount(sec.count, MaxRRPerSection))
		for i := 0; i < int(sec.count); i++ {
			rr, err := ParseRR(msg, &off)
			if err != nil {
				// Can't resynchronize past a record whose rdlength we
				// trust but whose rdata failed to decode: stop this
				// section rather than risk misparsing what follows.
				break
			}
			*sec.dst = append(*sec.dst, rr)
		}
	}
	return p, nil
}
