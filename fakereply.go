package rdnsloop

import "strings"

// MaxFakeName bounds the question name length eligible for a fake-reply
// lookup, keeping the hash key cheap to build on every request.
const MaxFakeName = 255

type fakeKey struct {
	name string
	qtype uint16
}

// fakeTable is a hash map from (lowercased name, type) to a pre-built
// reply, consulted only for single-question requests whose name is
// short enough to bother hashing (§4.7).
type fakeTable struct {
	entries map[fakeKey]Reply
}

func newFakeTable() *fakeTable {
	return &fakeTable{entries: make(map[fakeKey]Reply)}
}

func (t *fakeTable) set(name string, qtype uint16, reply Reply) {
	t.entries[fakeKey{name: strings.ToLower(trimDot(name)), qtype: qtype}] = reply
}

func (t *fakeTable) lookup(questions []Question) (Reply, bool) {
	if len(questions) != 1 {
		return Reply{}, false
	}
	q := questions[0]
	if len(q.Name) > MaxFakeName {
		return Reply{}, false
	}
	reply, ok := t.entries[fakeKey{name: strings.ToLower(trimDot(q.Name)), qtype: q.Type}]
	return reply, ok
}

func trimDot(s string) string {
	for len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	for len(s) > 0 && s[0] == '.' {
		s = s[1:]
	}
	return s
}
