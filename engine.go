package rdnsloop

import (
	"github.com/jroosing/rdnsloop/internal/pool"
	"github.com/jroosing/rdnsloop/internal/wire"
)

// udpReadBufPool reuses the fixed-size scratch buffers onReadable drains
// UDP datagrams into, the same pooling the teacher's udp_server.go uses
// for its receive buffers, adapted here to the client-side read path.
var udpReadBufPool = pool.New(func() []byte {
	return make([]byte, wire.MaxIncomingDNSMessageSize)
})

// Dispatch is the single entry point an EventLoop calls back into; it
// routes to the appropriate handler by the event's tagged kind,
// replacing the "compare ctx against a magic tag" discriminator with
// the explicit EventKind carried on Event.
func (r *Resolver) Dispatch(ev Event) {
	switch ev.Kind {
	case EventChannelReadable:
		r.onReadable(ev.Channel)
	case EventChannelWritable:
		r.onWritable(ev.Channel)
	case EventRequestTimer:
		r.onTimer(ev.Request)
	case EventPeriodic:
		r.onPeriodic()
	case EventTCPConnectDone:
		r.onTCPConnectDone(ev.Channel)
	}
}

// pickChannel returns server's channel at a random index, lazily
// opening it if this is its first use.
func (r *Resolver) pickChannel(server *Server, isTCP bool) *Channel {
	slots := server.udpChannels
	if isTCP {
		slots = server.tcpChannels
	}
	idx := r.rng.Intn(len(slots))
	if slots[idx] == nil {
		slots[idx] = newChannel(r, server, isTCP)
	}
	return slots[idx]
}

// attemptSend draws a transaction ID on ch, patches it into req's
// packet, and tries the lower-level send, without touching the
// pending table — callers decide how to react to the outcome.
func attemptSend(ch *Channel, req *Request) (uint16, sendStatus, error) {
	id, ok := ch.assignID()
	if !ok {
		return 0, sendFailed, ErrSendExhausted
	}
	wire.PatchTransactionID(req.packet, id)
	status, err := ch.sendUDP(req)
	return id, status, err
}

// bindAndSend implements the NEW state's first send attempt (§4.5):
// pick a random UDP channel on server, draw an ID, and send. A
// permanent failure here is a MakeRequest construction failure, not a
// deliverable reply, since no request has been handed back yet.
func bindAndSend(req *Request, server *Server, renew bool) (*Request, error) {
	if !renew && req.resolver.counters != nil {
		req.resolver.counters.RecordRequest("udp")
	}
	ch := req.resolver.pickChannel(server, false)
	id, status, err := attemptSend(ch, req)
	if status == sendFailed {
		if err == nil {
			err = ErrSendExhausted
		}
		return nil, err
	}

	switch status {
	case sendOK:
		req.state = StateWaitReply
		if err := ch.bind(req, id); err != nil {
			return nil, err
		}
	case sendWouldBlock:
		req.state = StateWaitSend
		req.id = id
		req.channel = ch
		ch.pending[id] = req
		ch.udpWriteQueue = append(ch.udpWriteQueue, req)
		if err := ch.armWrite(); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// onReadable drains as many complete messages as are available on ch
// and demultiplexes each to its pending request (§4.4).
func (r *Resolver) onReadable(ch *Channel) {
	if ch.flags.isTCP {
		r.readTCP(ch)
		return
	}
	r.readUDP(ch)
}

func (r *Resolver) readUDP(ch *Channel) {
	buf := udpReadBufPool.Get()
	defer udpReadBufPool.Put(buf)
	for {
		var n int
		var reqOut *Request
		var err error
		if r.transport != nil {
			n, reqOut, err = r.transport.RecvCB(ch, buf, ch.peer)
		} else {
			n, err = ch.udpConn.Read(buf)
		}
		if err != nil {
			if !isTemporary(err) {
				r.logger.Debug("udp read error", "server", ch.server.Name, "error", err)
			}
			return
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		if reqOut != nil {
			r.handleReplyFor(ch, reqOut, msg)
			continue
		}
		r.handleReply(ch, msg)
	}
}

func (r *Resolver) readTCP(ch *Channel) {
	for {
		frame, err := ch.readFrame()
		if err != nil {
			ch.reset()
			return
		}
		if frame == nil {
			return
		}
		r.handleReply(ch, frame)
	}
}

// replyBoundFor returns the size cap ParseBoundedReply enforces for
// msg arriving on ch: UDP replies are bounded the way a single
// datagram is, but a TCP reply is exactly what the TC→TCP upgrade
// exists to carry past that, so it gets the channel's own frame limit
// instead of silently being dropped for being "too big".
func (r *Resolver) replyBoundFor(ch *Channel) int {
	if ch.flags.isTCP {
		return maxTCPFrameBuf
	}
	return wire.MaxIncomingDNSMessageSize
}

// handleReply implements the demultiplexer of §4.4: look the reply up
// by transaction ID, validate it against the request's own questions,
// and either deliver it, retry over TCP on truncation, or drop it.
func (r *Resolver) handleReply(ch *Channel, msg []byte) {
	p, err := wire.ParseBoundedReply(msg, r.replyBoundFor(ch))
	if err != nil {
		r.logger.Debug("malformed dns reply, dropping", "error", err)
		return
	}

	req, ok := ch.pending[p.Header.ID]
	if !ok {
		r.logger.Warn("unknown transaction id, dropping", "id", p.Header.ID)
		return
	}
	r.finishReply(ch, req, p, msg)
}

// handleReplyFor processes msg for req once a TransportPlugin's
// RecvCB has already identified it, skipping the transaction-ID
// lookup handleReply otherwise does.
func (r *Resolver) handleReplyFor(ch *Channel, req *Request, msg []byte) {
	p, err := wire.ParseBoundedReply(msg, r.replyBoundFor(ch))
	if err != nil {
		r.logger.Debug("malformed dns reply, dropping", "error", err)
		return
	}
	r.finishReply(ch, req, p, msg)
}

func (r *Resolver) finishReply(ch *Channel, req *Request, p wire.Packet, msg []byte) {
	if p.Header.Flags&wire.QRFlag == 0 {
		return
	}
	if int(p.Header.QDCount) != len(req.questions) {
		return
	}
	for i, q := range p.Questions {
		if q.Name != wire.NormalizeName(req.questions[i].Name) || uint16(q.Type) != req.questions[i].Type {
			return
		}
	}

	reply := Reply{
		RCode:      uint16(wire.RCodeFromFlags(p.Header.Flags)),
		Authentic:  p.Header.Flags&wire.ADFlag != 0,
		Truncated:  p.Header.Flags&wire.TCFlag != 0,
		RawMessage: msg,
	}

	if reply.RCode == uint16(wire.RCodeNoError) {
		wantType := req.questions[0].Type
		matched := wantType == uint16(wire.TypeANY)
		for _, rr := range p.Answers {
			reply.Entries = append(reply.Entries, entryFromRecord(rr))
			if uint16(rr.Type()) == wantType {
				matched = true
			}
		}
		if !matched {
			reply.RCode = uint16(wire.RCodeNoRec)
		}
	}

	if r.upstream != nil {
		r.upstream.Ok(req.upstreamElt)
	}

	if reply.Truncated && !ch.flags.isTCP && len(ch.server.tcpChannels) > 0 {
		if r.rescheduleOverTCP(req, reply) {
			return
		}
	}

	ch.unbind(req)
	req.channel = nil
	req.deliver(reply)
}

func entryFromRecord(rr wire.Record) ReplyEntry {
	h := rr.Header()
	return ReplyEntry{
		Name:  h.Name,
		Type:  uint16(rr.Type()),
		Class: uint16(h.Class),
		TTL:   h.TTL,
		Data:  rr,
	}
}

// rescheduleOverTCP implements the TC→TCP upgrade of §4.5/§9: move req
// from its UDP channel's pending table onto a random TCP channel with
// a freshly assigned ID, re-arming its timer. Returns false (leaving
// the truncated UDP reply to be delivered as-is by the caller) if no
// TCP transaction ID could be assigned, the frame could not be queued,
// or the timer could not be armed. The TCP connect itself completes
// asynchronously: a failed connect later fails the request with a net
// error in onTCPConnectDone, and the request is not retried over UDP.
func (r *Resolver) rescheduleOverTCP(req *Request, _ Reply) bool {
	tcpCh := r.pickChannel(req.channel.server, true)

	oldCh := req.channel
	oldCh.unbind(req)

	id, ok := tcpCh.assignID()
	if !ok {
		return false
	}
	wire.PatchTransactionID(req.packet, id)

	if err := tcpCh.enqueueTCP(req); err != nil {
		return false
	}

	req.id = id
	req.channel = tcpCh
	req.state = StateTCP
	tcpCh.pending[id] = req
	h, err := r.loop.AddTimer(req.timeout, Event{Kind: EventRequestTimer, Request: req})
	if err != nil {
		return false
	}
	req.timerHandle = h
	req.hasTimer = true
	return true
}

// onWritable handles a channel becoming writable: any queued fake
// replies fire; TCP then flushes its output chain (a TCP write is only
// armed once onTCPConnectDone has completed the connect); UDP retries
// deferred sends.
func (r *Resolver) onWritable(ch *Channel) {
	if len(ch.fakeQueue) > 0 {
		for _, req := range ch.fakeQueue {
			req.state = StateReplied
			req.deliver(*req.fakeReply)
		}
		ch.fakeQueue = nil
	}

	if ch.flags.isTCP {
		if err := ch.flushTCP(); err != nil {
			ch.reset()
		}
		return
	}

	for len(ch.udpWriteQueue) > 0 {
		req := ch.udpWriteQueue[0]
		status, err := ch.sendUDP(req)
		if status == sendWouldBlock {
			return
		}
		ch.udpWriteQueue = ch.udpWriteQueue[1:]
		if status == sendFailed {
			ch.unbind(req)
			req.channel = nil
			r.failPermanently(req, err)
			continue
		}
		req.state = StateWaitReply
	}
	ch.disarmWrite()
}

func (r *Resolver) failPermanently(req *Request, err error) {
	if r.upstream != nil {
		r.upstream.Fail(req.upstreamElt, err)
	}
	req.deliver(Reply{RCode: uint16(wire.RCodeNetErr)})
}

// failAllPending fails every request still parked in ch's pending
// table with a net error, e.g. because the TCP connect they were
// waiting on never completed, and empties the table.
func (r *Resolver) failAllPending(ch *Channel, err error) {
	for _, req := range ch.pending {
		req.channel = nil
		r.failPermanently(req, err)
	}
	ch.pending = make(map[uint16]*Request)
}

// onTCPConnectDone completes the async connect Channel.startTCPConnect
// started (§4.2): on success the channel becomes CONNECTED and flushes
// whatever frames queued up while the connect was in flight; on
// failure every request already enqueued on it fails with a net error.
func (r *Resolver) onTCPConnectDone(ch *Channel) {
	ch.flags.tcpConnecting = false
	conn, err := ch.dialConn, ch.dialErr
	ch.dialConn, ch.dialErr = nil, nil

	if err != nil {
		r.logger.Debug("tcp connect failed", "server", ch.server.Name, "error", err)
		r.failAllPending(ch, err)
		ch.outChain = nil
		return
	}

	ch.tcpConn = conn
	ch.flags.connected = true
	ch.flags.active = true
	if err := ch.armRead(); err != nil {
		r.failAllPending(ch, err)
		return
	}
	if err := ch.armWrite(); err != nil {
		r.failAllPending(ch, err)
	}
}

// onTimer implements §4.5's retransmit/failover/timeout decision tree
// for a request's per-attempt deadline.
func (r *Resolver) onTimer(req *Request) {
	req.hasTimer = false
	req.retransmits--
	if r.upstream != nil {
		r.upstream.Fail(req.upstreamElt, nil)
	}

	if req.state == StateTCP {
		r.finalizeTimeout(req)
		return
	}
	if req.retransmits <= 0 {
		r.finalizeTimeout(req)
		return
	}
	if r.counters != nil {
		r.counters.RecordRetransmit()
	}

	ch := req.channel
	renew := !ch.flags.active || len(r.servers) > 1

	if renew {
		ch.unbind(req)
		req.channel = nil
		elt := r.upstream.SelectRetransmit(req.questions[0].Name, req.questions[0].Type, req.upstreamElt)
		if elt == nil || elt.Server == nil {
			req.deliver(Reply{RCode: uint16(wire.RCodeLocalServFail)})
			return
		}
		req.upstreamElt = elt
		newReq, err := bindAndSend(req, elt.Server, true)
		if err != nil || newReq == nil {
			r.failPermanently(req, err)
		}
		return
	}

	// Retransmit on the same channel: re-arm the timer and re-send.
	status, err := ch.sendUDP(req)
	switch status {
	case sendOK:
		h, herr := r.loop.AddTimer(req.timeout, Event{Kind: EventRequestTimer, Request: req})
		if herr != nil {
			r.failPermanently(req, herr)
			return
		}
		req.timerHandle = h
		req.hasTimer = true
	case sendWouldBlock:
		req.state = StateWaitSend
		ch.udpWriteQueue = append(ch.udpWriteQueue, req)
		if werr := ch.armWrite(); werr != nil {
			r.failPermanently(req, werr)
		}
	case sendFailed:
		ch.unbind(req)
		req.channel = nil
		r.failPermanently(req, err)
	}
}

func (r *Resolver) finalizeTimeout(req *Request) {
	if req.channel != nil {
		req.channel.unbind(req)
		req.channel = nil
	}
	req.deliver(Reply{RCode: uint16(wire.RCodeTimeout)})
}

// onPeriodic performs the channel housekeeping of §4.6: it closes idle
// TCP channels and retires over-used UDP channels. It does not call
// into the upstream adapter; UpstreamAdapter has no rescan method.
func (r *Resolver) onPeriodic() {
	for _, s := range r.servers {
		for i, ch := range s.tcpChannels {
			if ch != nil && ch.idle() {
				ch.reset()
				s.tcpChannels[i] = nil
			}
		}
		for i, ch := range s.udpChannels {
			if ch != nil && ch.uses > int64(r.maxIOCUses) {
				ch.flags.active = false
				s.udpChannels[i] = newChannel(r, s, false)
			}
		}
	}
}
