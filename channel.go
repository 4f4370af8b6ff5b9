package rdnsloop

import (
	crand "crypto/rand"
	"encoding/binary"
	"net"
	"sync/atomic"

	"github.com/jroosing/rdnsloop/internal/wire"
)

// idPermuter draws 16-bit transaction IDs from a maximal-length
// Fibonacci LFSR (taps 16,14,13,11) seeded from crypto/rand. A
// maximal-length LFSR visits all 65535 non-zero states before
// repeating, which is what makes a handful of redraws enough to dodge
// a collision with whatever's currently in a channel's pending table:
// collisions that matter come from live in-flight IDs, not from the
// generator's period.
type idPermuter struct {
	state uint16
}

func newIDPermuter(seed uint16) *idPermuter {
	if seed == 0 {
		seed = 0xACE1
	}
	return &idPermuter{state: seed}
}

func (p *idPermuter) next() uint16 {
	bit := ((p.state >> 0) ^ (p.state >> 2) ^ (p.state >> 3) ^ (p.state >> 5)) & 1
	p.state = (p.state >> 1) | (bit << 15)
	return p.state
}

// channelFlags mirrors the flag set described in §3 for an I/O channel.
type channelFlags struct {
	isTCP         bool
	connected     bool
	active        bool
	tcpConnecting bool
}

// tcpFrame is one outbound length-prefixed message queued on a TCP
// channel's output chain.
type tcpFrame struct {
	body []byte // be16(len) ‖ body, curWrite indexes into this
}

// Channel owns a single socket to one upstream server: either a UDP
// socket (connected lazily on first successful send) or a TCP stream
// with framed reads and a FIFO output chain.
type Channel struct {
	resolver *Resolver
	server   *Server
	flags    channelFlags

	udpConn *net.UDPConn
	tcpConn *net.TCPConn
	peer    *net.UDPAddr

	pending map[uint16]*Request
	ids     *idPermuter
	uses    int64

	// UDP: requests that hit EAGAIN and are waiting for a writable
	// tick to retry their send, in arrival order.
	udpWriteQueue []*Request
	// Fake replies queued to fire on this channel's next writable
	// tick, per §4.7 — reuses the event loop without touching the
	// network.
	fakeQueue []*Request

	writeHandle Handle
	hasWrite    bool
	readHandle  Handle
	hasRead     bool

	// TCP output chain and framed-read state machine (§4.2).
	outChain     []*tcpFrame
	curWrite     int
	readBuf      []byte
	curRead      int
	nextReadSize int

	// Outcome of an in-flight async connect, set by the dialing
	// goroutine and read back by onTCPConnectDone once its
	// EventTCPConnectDone has been delivered through the dispatcher.
	dialConn *net.TCPConn
	dialErr  error
}

const maxTCPFrameBuf = 65535

// newChannel allocates an unopened channel; the socket is created
// lazily by send, matching the teacher's "open on first use" pattern
// for upstream connections.
func newChannel(resolver *Resolver, server *Server, isTCP bool) *Channel {
	return &Channel{
		resolver: resolver,
		server:   server,
		flags:    channelFlags{isTCP: isTCP, active: true},
		pending:  make(map[uint16]*Request),
		ids:      newIDPermuter(randSeed16()),
	}
}

// conn returns the channel's underlying connection, or nil if it
// hasn't been opened yet.
func (c *Channel) conn() net.Conn {
	if c.flags.isTCP {
		if c.tcpConn == nil {
			return nil
		}
		return c.tcpConn
	}
	if c.udpConn == nil {
		return nil
	}
	return c.udpConn
}

// randSeed16 draws a channel's initial LFSR state from crypto/rand, so
// the transaction-ID sequence a channel produces differs across
// process restarts rather than replaying the same sequence —
// predictable seeding would undercut the source-port+ID rotation §5
// relies on to resist blind spoofing.
func randSeed16() uint16 {
	var b [2]byte
	if _, err := crand.Read(b[:]); err != nil {
		return uint16(atomic.AddInt64(&nanoCounter, 1))
	}
	return binary.LittleEndian.Uint16(b[:])
}

// nanoCounter only backstops randSeed16 if crypto/rand itself is
// unavailable; newIDPermuter already treats a zero seed as "pick the
// default," so even an all-zero read still yields a working permuter.
var nanoCounter int64

// assignID draws a fresh transaction ID not already present in the
// pending table, trying up to 32 times before giving up (§3).
func (c *Channel) assignID() (uint16, bool) {
	for attempt := 0; attempt < 32; attempt++ {
		id := c.ids.next()
		if _, exists := c.pending[id]; !exists {
			return id, true
		}
	}
	return 0, false
}

// bind installs req into the pending table under id, arms its
// deadline timer, and sets its channel reference. Callers must have
// already set req.state to WAIT_REPLY or TCP as appropriate.
func (c *Channel) bind(req *Request, id uint16) error {
	req.id = id
	req.channel = c
	c.pending[id] = req
	c.uses++

	h, err := c.resolver.loop.AddTimer(req.timeout, Event{Kind: EventRequestTimer, Request: req})
	if err != nil {
		delete(c.pending, id)
		return err
	}
	req.timerHandle = h
	req.hasTimer = true
	return nil
}

// unbind removes req from the pending table and cancels its timer. It
// does not change req.state or req.channel; callers decide those.
func (c *Channel) unbind(req *Request) {
	delete(c.pending, req.id)
	if req.hasTimer {
		_ = c.resolver.loop.DelTimer(req.timerHandle)
		req.hasTimer = false
	}
}

// sendStatus is the outcome of a lower-level socket send attempt.
type sendStatus int

const (
	sendOK sendStatus = iota
	sendWouldBlock
	sendFailed
)

// sendUDP implements the UDP send path of §4.2. The first send dials
// the peer (net.DialUDP performs the underlying connect(2) in one
// step), so the channel is CONNECTED from its first successful send
// onward and every later send is a plain Write.
func (c *Channel) sendUDP(req *Request) (sendStatus, error) {
	if c.udpConn == nil {
		c.peer = c.server.Addr
		conn, err := net.DialUDP("udp", nil, c.peer)
		if err != nil {
			if isTemporary(err) {
				return sendWouldBlock, nil
			}
			return sendFailed, err
		}
		c.udpConn = conn
		c.flags.connected = true
		if err := c.armRead(); err != nil {
			return sendFailed, err
		}
	}

	var n int
	var err error
	if c.resolver.transport != nil {
		n, err = c.resolver.transport.SendCB(req, c.peer)
	} else {
		n, err = c.udpConn.Write(req.packet)
	}
	if err != nil {
		if isTemporary(err) {
			return sendWouldBlock, nil
		}
		return sendFailed, err
	}
	if n != len(req.packet) {
		return sendFailed, errShortWrite
	}
	return sendOK, nil
}

// isTemporary reports whether err represents a transient EAGAIN/EINTR
// style condition that should be retried on the next writable tick.
func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	if t, ok := err.(temporary); ok {
		return t.Temporary()
	}
	return false
}

// enqueueTCP appends a framed message to the channel's output chain
// and arms a writable event if one isn't already armed, initiating a
// connect first if the channel isn't yet connected (§4.2 TCP send path).
// If a connect is already in flight, the frame just waits in outChain
// for onTCPConnectDone to arm the write once the socket exists.
func (c *Channel) enqueueTCP(req *Request) error {
	frame := make([]byte, 2+len(req.packet))
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(req.packet)))
	copy(frame[2:], req.packet)
	c.outChain = append(c.outChain, &tcpFrame{body: frame})

	if c.flags.connected {
		return c.armWrite()
	}
	if !c.flags.tcpConnecting {
		c.startTCPConnect()
	}
	return nil
}

// startTCPConnect initiates the TCP connect of §4.2 without blocking
// the single dispatcher goroutine: net.DialTCP itself still blocks
// until the handshake resolves, so that call runs on a throwaway
// goroutine, which hands its outcome back through EventTCPConnectDone
// once it completes — the async-connect-then-poll-writable shape the
// spec describes, just with the completion signal coming from this
// goroutine instead of a later writable-readiness tick on the socket.
func (c *Channel) startTCPConnect() {
	c.flags.tcpConnecting = true
	addr := c.server.TCPAddr()
	loop := c.resolver.loop
	go func() {
		conn, err := net.DialTCP("tcp", nil, addr)
		c.dialConn = conn
		c.dialErr = err
		_ = loop.Post(Event{Kind: EventTCPConnectDone, Channel: c})
	}()
}

func (c *Channel) armWrite() error {
	if c.hasWrite {
		return nil
	}
	conn := c.conn()
	if conn == nil {
		return nil
	}
	h, err := c.resolver.loop.AddWrite(conn, Event{Kind: EventChannelWritable, Channel: c})
	if err != nil {
		return err
	}
	c.writeHandle = h
	c.hasWrite = true
	return nil
}

func (c *Channel) disarmWrite() {
	if !c.hasWrite {
		return
	}
	_ = c.resolver.loop.DelWrite(c.writeHandle)
	c.hasWrite = false
}

// armRead registers read interest once a connection exists, so the
// engine learns of replies (UDP) or framed data (TCP) without polling.
func (c *Channel) armRead() error {
	if c.hasRead {
		return nil
	}
	conn := c.conn()
	if conn == nil {
		return nil
	}
	h, err := c.resolver.loop.AddRead(conn, Event{Kind: EventChannelReadable, Channel: c})
	if err != nil {
		return err
	}
	c.readHandle = h
	c.hasRead = true
	return nil
}

// flushTCP writes as much of the output chain as the socket accepts,
// removing completed frames, per the writev/cur_write accounting in
// §4.2 (modeled here as per-frame io.Writer calls rather than a single
// writev, since net.TCPConn doesn't expose one).
func (c *Channel) flushTCP() error {
	for len(c.outChain) > 0 {
		f := c.outChain[0]
		n, err := c.tcpConn.Write(f.body[c.curWrite:])
		if err != nil {
			if isTemporary(err) {
				return nil
			}
			return err
		}
		c.curWrite += n
		if c.curWrite >= len(f.body) {
			c.outChain = c.outChain[1:]
			c.curWrite = 0
			continue
		}
		return nil
	}
	c.disarmWrite()
	return nil
}

// readFrame advances the TCP framed-read state machine by one step
// (§4.2). It returns a complete frame's payload when one is ready, or
// nil if more data is needed.
func (c *Channel) readFrame() ([]byte, error) {
	if c.readBuf == nil {
		c.readBuf = make([]byte, 512)
	}

	switch {
	case c.curRead < 2:
		buf := make([]byte, 2-c.curRead)
		n, err := c.tcpConn.Read(buf)
		if err != nil {
			return nil, err
		}
		copy(c.readBuf[c.curRead:], buf[:n])
		c.curRead += n
		if c.curRead < 2 {
			return nil, nil
		}
		c.nextReadSize = int(binary.BigEndian.Uint16(c.readBuf[0:2]))
		if c.nextReadSize < wire.HeaderSize {
			return nil, errShortFrame
		}
		if needed := 2 + c.nextReadSize; needed > len(c.readBuf) {
			c.growReadBuf(needed)
		}
		return c.readFrame()
	default:
		have := c.curRead - 2
		want := c.nextReadSize - have
		if want <= 0 {
			frame := make([]byte, c.nextReadSize)
			copy(frame, c.readBuf[2:2+c.nextReadSize])
			c.curRead = 0
			c.nextReadSize = 0
			return frame, nil
		}
		buf := make([]byte, want)
		n, err := c.tcpConn.Read(buf)
		if err != nil {
			return nil, err
		}
		copy(c.readBuf[c.curRead:], buf[:n])
		c.curRead += n
		if c.curRead-2 < c.nextReadSize {
			return nil, nil
		}
		frame := make([]byte, c.nextReadSize)
		copy(frame, c.readBuf[2:2+c.nextReadSize])
		c.curRead = 0
		c.nextReadSize = 0
		return frame, nil
	}
}

func (c *Channel) growReadBuf(needed int) {
	size := len(c.readBuf)
	if size == 0 {
		size = 512
	}
	for size < needed {
		size *= 2
		if size > maxTCPFrameBuf+2 {
			size = maxTCPFrameBuf + 2
			break
		}
	}
	nb := make([]byte, size)
	copy(nb, c.readBuf)
	c.readBuf = nb
}

// reset closes the socket and drops the output chain and read/write
// state, matching §7's "TCP connection/read/write error: reset
// channel" policy. Requests still in the pending table are left in
// place: they see their own timers expire and retry per their state
// machine rather than being failed or retried inline here.
func (c *Channel) reset() {
	if c.tcpConn != nil {
		_ = c.resolver.loop.Close(c.tcpConn)
		_ = c.tcpConn.Close()
		c.tcpConn = nil
	}
	c.flags.connected = false
	c.flags.tcpConnecting = false
	c.outChain = nil
	c.curWrite = 0
	c.curRead = 0
	c.nextReadSize = 0
	c.hasWrite = false
	c.hasRead = false
}

// idle reports whether a TCP channel has no in-flight requests and is
// therefore eligible for periodic idle close (§3, §4.6).
func (c *Channel) idle() bool {
	return c.flags.isTCP && c.flags.connected && len(c.pending) == 0
}
