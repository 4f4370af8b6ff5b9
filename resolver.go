package rdnsloop

import (
	"log/slog"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/jroosing/rdnsloop/internal/stats"
	"github.com/jroosing/rdnsloop/internal/wire"
)

// defaultMaxIOCUses is how many requests a UDP channel serves before
// it's retired in favor of a fresh one on the next periodic tick,
// mitigating predictable source-port+ID exposure (§5).
const defaultMaxIOCUses = 4096

// defaultRescanPeriod is how often the periodic housekeeping tick
// runs when the caller hasn't configured one explicitly.
const defaultRescanPeriod = 30 * time.Second

// Resolver is the top-level aggregate: servers, the event-loop
// adapter, the upstream-selection adapter, an optional transport
// plugin, and the fake-reply table, tied together by the event
// handlers in engine.go.
type Resolver struct {
	servers []*Server

	loop      EventLoop
	upstream  UpstreamAdapter
	transport TransportPlugin

	maxIOCUses   int
	rescanPeriod time.Duration

	dnssec bool

	logger *slog.Logger

	fakes *fakeTable

	counters *stats.Counters

	initialized    bool
	periodicHandle Handle
	hasPeriodic    bool

	rng *rand.Rand
}

// NewResolver builds a Resolver bound to loop. Callers must call
// AddServer for each upstream and Init before MakeRequest.
func NewResolver(loop EventLoop) *Resolver {
	return &Resolver{
		loop:         loop,
		maxIOCUses:   defaultMaxIOCUses,
		rescanPeriod: defaultRescanPeriod,
		logger:       slog.Default(),
		fakes:        newFakeTable(),
		counters:     stats.NewCounters(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Counters returns the resolver's engine-event counters, for a
// diagnostics surface or test assertions.
func (r *Resolver) Counters() *stats.Counters { return r.counters }

// Servers returns the resolver's configured upstreams in the order
// AddServer registered them, for a diagnostics surface.
func (r *Resolver) Servers() []*Server { return r.servers }

// AddServer registers an upstream with a fixed fan-out of ioCount UDP
// and ioCount TCP channels.
func (r *Resolver) AddServer(name string, addr *net.UDPAddr, priority, ioCount int) *Server {
	s := newServer(name, addr, priority, ioCount)
	r.servers = append(r.servers, s)
	return s
}

// SetUpstream overrides the default round-robin upstream-selection
// policy installed by Init.
func (r *Resolver) SetUpstream(u UpstreamAdapter) { r.upstream = u }

// SetLogger installs a structured logger; nil restores slog.Default.
func (r *Resolver) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	r.logger = l
}

// SetLogLevel is a convenience wrapper for callers who haven't set up
// their own handler; it installs a text handler on stderr at level.
// Callers who need a specific handler (JSON, a file, a log
// aggregator) should call SetLogger directly instead.
func (r *Resolver) SetLogLevel(level slog.Level) {
	r.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetMaxIOUses configures the channel-refresh ceiling and the period
// at which the periodic tick checks for it (§4.6).
func (r *Resolver) SetMaxIOUses(n int, period time.Duration) {
	if n > 0 {
		r.maxIOCUses = n
	}
	if period > 0 {
		r.rescanPeriod = period
	}
}

// SetDNSSEC toggles the DO bit on outgoing queries' EDNS0 OPT record.
func (r *Resolver) SetDNSSEC(enabled bool) { r.dnssec = enabled }

// RegisterPlugin installs an optional transport plugin replacing raw
// UDP sendto/recv.
func (r *Resolver) RegisterPlugin(p TransportPlugin) { r.transport = p }

// SetFakeReply configures a synthetic answer bypassing network I/O
// for exact-match (name, type) requests.
func (r *Resolver) SetFakeReply(name string, qtype uint16, rcode uint16, entries []ReplyEntry) {
	r.fakes.set(name, qtype, Reply{RCode: rcode, Entries: entries})
}

// Init finalizes resolver configuration: installs a default
// round-robin upstream adapter if none was set, and registers the
// periodic housekeeping tick if the event loop supports it.
func (r *Resolver) Init() error {
	if len(r.servers) == 0 {
		return ErrNoServers
	}
	if r.upstream == nil {
		r.upstream = NewRoundRobinUpstream(r.servers)
	}

	h, err := r.loop.AddPeriodic(r.rescanPeriod, Event{Kind: EventPeriodic})
	if err == nil {
		r.periodicHandle = h
		r.hasPeriodic = true
	} else if err != ErrPeriodicUnsupported {
		return err
	}

	r.initialized = true
	return nil
}

// MakeRequest builds and dispatches a query for one or more
// (name, type) pairs sharing a single header, returning a handle whose
// callback fires exactly once. It returns an error instead of a
// request on any construction failure: bad name, uninitialized
// resolver, no servers, or send-attempt exhaustion.
func (r *Resolver) MakeRequest(cb Callback, cbArg any, timeout time.Duration, retransmits int, questions []Question) (*Request, error) {
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if len(questions) == 0 {
		return nil, ErrInvalidName
	}
	if retransmits <= 0 {
		retransmits = 1
	}

	for _, q := range questions {
		if wire.NormalizeName(q.Name) == "" {
			return nil, ErrInvalidName
		}
	}

	req := &Request{
		resolver:    r,
		questions:   questions,
		callback:    cb,
		cbArg:       cbArg,
		retransmits: retransmits,
		timeout:     timeout,
		state:       StateNew,
	}

	if reply, ok := r.fakes.lookup(questions); ok {
		return r.scheduleFake(req, reply)
	}

	packet, err := buildQueryPacket(questions, r.dnssec)
	if err != nil {
		return nil, err
	}
	req.packet = packet

	elt := r.upstream.Select(questions[0].Name, questions[0].Type)
	if elt == nil || elt.Server == nil {
		return nil, ErrNoServers
	}
	req.upstreamElt = elt

	return bindAndSend(req, elt.Server, false)
}

// scheduleFake transitions req into the FAKE state and queues it on
// an arbitrary channel of the first server so it fires on that
// channel's next writable tick, per §4.7.
func (r *Resolver) scheduleFake(req *Request, reply Reply) (*Request, error) {
	if len(r.servers) == 0 {
		return nil, ErrNoServers
	}
	s := r.servers[0]
	ch := s.udpChannels[0]
	if ch == nil {
		ch = newChannel(r, s, false)
		s.udpChannels[0] = ch
	}
	if ch.conn() == nil {
		// A writable tick needs a socket to watch: open the channel's
		// UDP socket the same way its first send would, without sending.
		conn, err := net.DialUDP("udp", nil, s.Addr)
		if err != nil {
			return nil, err
		}
		ch.peer = s.Addr
		ch.udpConn = conn
		ch.flags.connected = true
		if err := ch.armRead(); err != nil {
			return nil, err
		}
	}
	if r.counters != nil {
		r.counters.RecordFakeReply()
	}
	req.state = StateFake
	req.channel = ch
	req.fakeReply = &reply
	ch.fakeQueue = append(ch.fakeQueue, req)
	if err := ch.armWrite(); err != nil {
		return nil, err
	}
	return req, nil
}

// buildQueryPacket encodes a query packet for the given questions,
// sharing compression across questions and always appending an
// EDNS0 OPT record (§4.1).
func buildQueryPacket(questions []Question, dnssec bool) ([]byte, error) {
	p := wire.Packet{
		Header: wire.Header{Flags: wire.RDFlag},
	}
	for _, q := range questions {
		p.Questions = append(p.Questions, wire.Question{
			Name:  q.Name,
			Type:  wire.RecordType(q.Type),
			Class: wire.ClassIN,
		})
	}

	opt := wire.CreateOPT(wire.EDNSDefaultUDPPayloadSize)
	opt.DNSSECOk = dnssec
	optHeader := wire.NewRRHeader("", wire.RecordClass(opt.UDPPayloadSize), packOPTAsTTL(opt))
	p.Additionals = append(p.Additionals, wire.NewOpaqueRecord(optHeader, wire.TypeOPT, wire.MarshalEDNSOptions(opt.Options)))

	return p.Marshal()
}

// packOPTAsTTL re-derives the OPT TTL field from an OPTRecord so its
// RRHeader carries the same extended-RCODE/version/DO packing that
// OPTRecord.Marshal would otherwise compute inline; Packet.Marshal
// goes through the generic Record path rather than OPTRecord.Marshal,
// so the bit-packing needs to be reproduced on the header's TTL.
func packOPTAsTTL(o wire.OPTRecord) uint32 {
	ttl := uint32(o.ExtendedRCode)<<24 | uint32(o.Version)<<16
	if o.DNSSECOk {
		ttl |= 1 << 15
	}
	return ttl
}
