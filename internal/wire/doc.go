// Package wire implements DNS message encoding and decoding: the
// header, question section, resource records, EDNS0 OPT pseudo-record,
// and name compression (RFC 1035 §4.1.4). It is pure — no I/O, no
// engine state — so it can be exercised directly in tests and reused
// by both the query-encode and reply-decode paths.
package wire
