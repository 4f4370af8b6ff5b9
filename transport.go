package rdnsloop

import "net"

// TransportPlugin replaces raw sendto/recv on a UDP channel, e.g. to
// wrap queries in an encrypted tunnel. A plugin may identify the
// request itself (via a nonce in its envelope) and set reqOut before
// ID-based matching runs; if it leaves reqOut nil, the engine falls
// back to looking the reply up by transaction ID as usual.
type TransportPlugin interface {
	SendCB(req *Request, addr net.Addr) (int, error)
	RecvCB(ch *Channel, buf []byte, addr net.Addr) (n int, reqOut *Request, err error)
}
