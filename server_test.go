package rdnsloop

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewServerAllocatesFixedChannelSlots(t *testing.T) {
	s := newServer("resolver1", &net.UDPAddr{IP: net.ParseIP("8.8.8.8"), Port: 53}, 5, 4)

	assert.Equal(t, "resolver1", s.Name)
	assert.Equal(t, 5, s.Priority)
	assert.Len(t, s.UDPChannels(), 4)
	assert.Len(t, s.TCPChannels(), 4)
	for _, ch := range s.UDPChannels() {
		assert.Nil(t, ch, "channels are opened lazily on first send")
	}
}
