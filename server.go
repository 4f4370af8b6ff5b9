package rdnsloop

import "net"

// Server is a named upstream with a fixed-size fan-out of channels to
// it, established at construction and never resized — connection
// multiplexing beyond this small fixed fan-out is explicitly out of
// scope.
type Server struct {
	Name     string
	Addr     *net.UDPAddr
	Priority int

	udpChannels []*Channel
	tcpChannels []*Channel
}

// newServer allocates a Server with ioCount UDP channels and ioCount
// TCP channels, all initially closed (opened lazily on first send).
func newServer(name string, addr *net.UDPAddr, priority, ioCount int) *Server {
	s := &Server{Name: name, Addr: addr, Priority: priority}
	s.udpChannels = make([]*Channel, ioCount)
	s.tcpChannels = make([]*Channel, ioCount)
	return s
}

// TCPAddr returns the server's address as a *net.TCPAddr, for dialing
// the same upstream endpoint its UDP channels use over TCP.
func (s *Server) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: s.Addr.IP, Port: s.Addr.Port, Zone: s.Addr.Zone}
}

// UDPChannels returns the server's fixed UDP channel slots.
func (s *Server) UDPChannels() []*Channel { return s.udpChannels }

// TCPChannels returns the server's fixed TCP channel slots.
func (s *Server) TCPChannels() []*Channel { return s.tcpChannels }
