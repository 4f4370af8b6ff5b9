package wire

import (
	"encoding/binary"
	"fmt"
)

// Question is a single entry in a DNS message's question section.
type Question struct {
	Name  string
	Type  RecordType
	Class RecordClass
}

// Marshal appends the question to out using w's shared compression
// table, returning the extended buffer.
func (q Question) Marshal(out []byte, w *nameWriter, base int) ([]byte, error) {
	out, err := w.writeName(out, q.Name, base)
	if err != nil {
		return nil, fmt.Errorf("question %q: %w", q.Name, err)
	}
	tail := make([]byte, 4)
	binary.BigEndian.PutUint16(tail[0:2], uint16(q.Type))
	binary.BigEndian.PutUint16(tail[2:4], uint16(q.Class))
	return append(out, tail...), nil
}

// ParseQuestion parses a question at *off, advancing *off past it.
// The name is normalized (lowercased) on parse, matching the
// case-insensitive comparison rule used when validating replies.
func ParseQuestion(msg []byte, off *int) (Question, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, fmt.Errorf("question name: %w", err)
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: unexpected EOF reading question", ErrWire)
	}
	q := Question{
		Name:  NormalizeName(name),
		Type:  RecordType(binary.BigEndian.Uint16(msg[*off : *off+2])),
		Class: RecordClass(binary.BigEndian.Uint16(msg[*off+2 : *off+4])),
	}
	*off += 4
	return q, nil
}
