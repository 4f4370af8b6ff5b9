package rdnsloop

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkServer(name string, priority int) *Server {
	return newServer(name, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 53}, priority, 1)
}

func TestRoundRobinUpstreamSelect(t *testing.T) {
	s1 := mkServer("a", 0)
	s2 := mkServer("b", 1)
	u := NewRoundRobinUpstream([]*Server{s1, s2})

	elt := u.Select("example.com", 1)
	require.NotNil(t, elt)
	assert.Equal(t, s1, elt.Server)
}

func TestRoundRobinUpstreamSelectRetransmitExcludesPrevious(t *testing.T) {
	s1 := mkServer("a", 0)
	s2 := mkServer("b", 1)
	u := NewRoundRobinUpstream([]*Server{s1, s2})

	prev := &UpstreamElt{Server: s1}
	elt := u.SelectRetransmit("example.com", 1, prev)
	require.NotNil(t, elt)
	assert.Equal(t, s2, elt.Server)
}

func TestRoundRobinUpstreamFailSkipsServerUntilRecovered(t *testing.T) {
	s1 := mkServer("a", 0)
	s2 := mkServer("b", 1)
	u := NewRoundRobinUpstream([]*Server{s1, s2})

	u.Fail(&UpstreamElt{Server: s1}, errors.New("boom"))

	elt := u.Select("example.com", 1)
	require.NotNil(t, elt)
	assert.Equal(t, s2, elt.Server, "failed server should be skipped until its cooldown elapses")
}

func TestRoundRobinUpstreamOkClearsFailure(t *testing.T) {
	s1 := mkServer("a", 0)
	u := NewRoundRobinUpstream([]*Server{s1})

	u.Fail(&UpstreamElt{Server: s1}, nil)
	u.Ok(&UpstreamElt{Server: s1})

	elt := u.Select("example.com", 1)
	require.NotNil(t, elt)
	assert.Equal(t, s1, elt.Server)
}

func TestRoundRobinUpstreamAllFailedFallsBackToFirst(t *testing.T) {
	s1 := mkServer("a", 0)
	s2 := mkServer("b", 1)
	u := NewRoundRobinUpstream([]*Server{s1, s2})

	u.Fail(&UpstreamElt{Server: s1}, nil)
	u.Fail(&UpstreamElt{Server: s2}, nil)

	elt := u.Select("example.com", 1)
	require.NotNil(t, elt)
	assert.Equal(t, s1, elt.Server)
}

func TestRoundRobinUpstreamSelectEmpty(t *testing.T) {
	u := NewRoundRobinUpstream(nil)
	assert.Nil(t, u.Select("example.com", 1))
}

func TestRoundRobinUpstreamCount(t *testing.T) {
	u := NewRoundRobinUpstream([]*Server{mkServer("a", 0), mkServer("b", 1)})
	assert.Equal(t, 2, u.Count())
}

func TestRoundRobinUpstreamNilEltIsNoop(t *testing.T) {
	u := NewRoundRobinUpstream([]*Server{mkServer("a", 0)})
	assert.NotPanics(t, func() {
		u.Ok(nil)
		u.Fail(nil, nil)
	})
}
