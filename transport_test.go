package rdnsloop

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jroosing/rdnsloop/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a TransportPlugin stand-in: SendCB just counts the
// bytes it was asked to send, and RecvCB hands back one pre-built
// reply, identifying the request itself via reqOut the way a
// nonce-based tunnel plugin would — skipping the engine's own
// transaction-ID lookup entirely.
type fakeTransport struct {
	sentTo  net.Addr
	sentReq *Request
	served  bool
}

var errTransportDrained = errors.New("fakeTransport: no more replies queued")

func (f *fakeTransport) SendCB(req *Request, addr net.Addr) (int, error) {
	f.sentTo = addr
	f.sentReq = req
	return len(req.packet), nil
}

func (f *fakeTransport) RecvCB(ch *Channel, buf []byte, addr net.Addr) (int, *Request, error) {
	if f.served || f.sentReq == nil {
		return 0, nil, errTransportDrained
	}
	f.served = true

	id := binary.BigEndian.Uint16(f.sentReq.packet[0:2])
	p := wire.Packet{
		Header:    wire.Header{ID: id, Flags: wire.QRFlag | uint16(wire.RCodeNXDomain)},
		Questions: []wire.Question{{Name: "example.com", Type: wire.TypeA, Class: wire.ClassIN}},
	}
	b, err := p.Marshal()
	if err != nil {
		return 0, nil, err
	}
	n := copy(buf, b)
	return n, f.sentReq, nil
}

// TestTransportPluginSendCBIsConsulted exercises comment 4's fix:
// RegisterPlugin must actually be wired into the UDP send path rather
// than sitting unused on the Resolver.
func TestTransportPluginSendCBIsConsulted(t *testing.T) {
	r, _ := newTestResolver(t)
	plugin := &fakeTransport{}
	r.RegisterPlugin(plugin)

	req, err := r.MakeRequest(func(*Request, Reply) {}, nil, time.Second, 1, []Question{{Name: "example.com", Type: uint16(wire.TypeA)}})
	require.NoError(t, err)

	assert.NotNil(t, plugin.sentReq, "SendCB was never called")
	assert.Equal(t, StateWaitReply, req.State())
}

// TestTransportPluginRecvCBShortCircuitsIDLookup exercises RecvCB's
// reqOut path: readUDP must deliver straight to the request the
// plugin identified, without the engine's usual ID-keyed pending
// lookup ever running.
func TestTransportPluginRecvCBShortCircuitsIDLookup(t *testing.T) {
	r, _ := newTestResolver(t)
	plugin := &fakeTransport{}
	r.RegisterPlugin(plugin)

	var reply Reply
	delivered := false
	req, err := r.MakeRequest(func(_ *Request, rep Reply) {
		delivered = true
		reply = rep
	}, nil, time.Second, 1, []Question{{Name: "example.com", Type: uint16(wire.TypeA)}})
	require.NoError(t, err)

	ch := req.Channel()
	require.NotNil(t, ch)

	r.readUDP(ch)

	require.True(t, delivered, "RecvCB's reqOut should have delivered the reply directly")
	assert.Equal(t, uint16(wire.RCodeNXDomain), reply.RCode)
	assert.Len(t, ch.pending, 0, "the delivered request must have been unbound")
}
