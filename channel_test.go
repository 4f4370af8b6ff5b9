package rdnsloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDPermuterNeverYieldsZero(t *testing.T) {
	p := newIDPermuter(1)
	seen := make(map[uint16]bool)
	for i := 0; i < 1000; i++ {
		id := p.next()
		assert.NotEqual(t, uint16(0), id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 900, "an LFSR with a long period shouldn't repeat heavily over 1000 draws")
}

func TestIDPermuterZeroSeedFallsBackToDefault(t *testing.T) {
	p := newIDPermuter(0)
	assert.NotEqual(t, uint16(0), p.state)
}

func TestAssignIDSkipsCollisions(t *testing.T) {
	r, _ := newTestResolver(t)
	ch := newChannel(r, r.servers[0], false)

	first, ok := ch.assignID()
	require.True(t, ok)
	ch.pending[first] = &Request{}

	second, ok := ch.assignID()
	require.True(t, ok)
	assert.NotEqual(t, first, second)
}

func TestAssignIDExhaustsAfter32Attempts(t *testing.T) {
	r, _ := newTestResolver(t)
	ch := newChannel(r, r.servers[0], false)

	// Force every future draw to already be "pending" by pre-filling
	// the first 40 states the permuter will produce.
	probe := newIDPermuter(ch.ids.state)
	for i := 0; i < 40; i++ {
		ch.pending[probe.next()] = &Request{}
	}

	_, ok := ch.assignID()
	assert.False(t, ok)
}

func TestBindAndUnbind(t *testing.T) {
	r, loop := newTestResolver(t)
	ch := newChannel(r, r.servers[0], false)
	req := &Request{timeout: 0}

	require.NoError(t, ch.bind(req, 42))
	assert.Equal(t, uint16(42), req.id)
	assert.Same(t, ch, req.channel)
	assert.Equal(t, int64(1), ch.uses)
	assert.Len(t, loop.timers, 1)

	ch.unbind(req)
	_, stillPending := ch.pending[42]
	assert.False(t, stillPending)
	assert.False(t, req.hasTimer)
}

func TestChannelIdle(t *testing.T) {
	r, _ := newTestResolver(t)

	udpCh := newChannel(r, r.servers[0], false)
	assert.False(t, udpCh.idle(), "idle only applies to TCP channels")

	tcpCh := newChannel(r, r.servers[0], true)
	assert.False(t, tcpCh.idle(), "not connected yet")

	tcpCh.flags.connected = true
	assert.True(t, tcpCh.idle())

	tcpCh.pending[1] = &Request{}
	assert.False(t, tcpCh.idle(), "has an in-flight request")
}

func TestChannelConnReturnsNilBeforeOpen(t *testing.T) {
	r, _ := newTestResolver(t)
	ch := newChannel(r, r.servers[0], false)
	assert.Nil(t, ch.conn())

	tcpCh := newChannel(r, r.servers[0], true)
	assert.Nil(t, tcpCh.conn())
}
