// Package ioloop provides the default goroutine-based EventLoop the
// resolver engine drives itself through. It has no epoll/kqueue of its
// own: readiness is detected by parking a goroutine in the runtime
// network poller via (syscall.RawConn).Read/Write, which blocks until
// the underlying file descriptor is actually ready without consuming
// any bytes — the same readiness-without-data contract a real event
// loop gives the resolver's Channel, which does its own Read/Write
// once notified.
package ioloop

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/rdnsloop"
)

// errUnsupportedConn is returned when a conn doesn't expose a raw fd
// (SyscallConn), which every *net.UDPConn and *net.TCPConn does.
var errUnsupportedConn = errors.New("ioloop: conn does not support SyscallConn")

type regKind int

const (
	regRead regKind = iota
	regWrite
	regTimer
	regPeriodic
)

type registration struct {
	kind   regKind
	cancel context.CancelFunc
	timer  *time.Timer
	ticker *time.Ticker
	delay  time.Duration
	ev     rdnsloop.Event
}

// Loop is a goroutine-per-registration EventLoop: one goroutine blocks
// on readiness/timer expiry per registration and hands the resulting
// Event to Dispatch, which is called from a single dedicated goroutine
// so the resolver's single-threaded state machine is never entered
// concurrently.
type Loop struct {
	mu     sync.Mutex
	regs   map[rdnsloop.Handle]*registration
	nextID uint64

	dispatchCh chan rdnsloop.Event
	closeOnce  sync.Once
	done       chan struct{}

	logger *slog.Logger
}

// New builds a Loop that calls dispatch for every fired event, always
// from the same goroutine.
func New(dispatch func(rdnsloop.Event)) *Loop {
	l := &Loop{
		regs:       make(map[rdnsloop.Handle]*registration),
		dispatchCh: make(chan rdnsloop.Event, 256),
		done:       make(chan struct{}),
		logger:     slog.Default(),
	}
	go l.runDispatcher(dispatch)
	return l
}

func (l *Loop) runDispatcher(dispatch func(rdnsloop.Event)) {
	for {
		select {
		case ev := <-l.dispatchCh:
			dispatch(ev)
		case <-l.done:
			return
		}
	}
}

// SetLogger installs a logger for readiness-wait diagnostics.
func (l *Loop) SetLogger(log *slog.Logger) {
	if log != nil {
		l.logger = log
	}
}

func (l *Loop) allocHandle() rdnsloop.Handle {
	return rdnsloop.Handle(atomic.AddUint64(&l.nextID, 1))
}

func (l *Loop) emit(ev rdnsloop.Event) {
	select {
	case l.dispatchCh <- ev:
	case <-l.done:
	}
}

// AddRead registers read interest on conn, notifying ev on every
// readiness transition until DelWrite/Close/another registration
// cancels it. There is no DelRead in the EventLoop interface because
// Channel only ever stops reading by closing the whole conn.
func (l *Loop) AddRead(conn net.Conn, ev rdnsloop.Event) (rdnsloop.Handle, error) {
	raw, err := rawConnOf(conn)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := l.allocHandle()
	l.mu.Lock()
	l.regs[h] = &registration{kind: regRead, cancel: cancel}
	l.mu.Unlock()

	go l.waitReadable(ctx, raw, ev)
	return h, nil
}

func (l *Loop) waitReadable(ctx context.Context, raw syscall.RawConn, ev rdnsloop.Event) {
	for ctx.Err() == nil {
		err := raw.Read(func(fd uintptr) bool { return true })
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
				continue
			}
			return
		}
		l.emit(ev)
	}
}

// AddWrite registers write interest on conn, firing ev the next time
// the socket can accept a write. Unlike AddRead this is one-shot per
// call: the caller re-arms via AddWrite again if it needs another.
func (l *Loop) AddWrite(conn net.Conn, ev rdnsloop.Event) (rdnsloop.Handle, error) {
	raw, err := rawConnOf(conn)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := l.allocHandle()
	l.mu.Lock()
	l.regs[h] = &registration{kind: regWrite, cancel: cancel}
	l.mu.Unlock()

	go l.waitWritable(ctx, raw, ev)
	return h, nil
}

func (l *Loop) waitWritable(ctx context.Context, raw syscall.RawConn, ev rdnsloop.Event) {
	err := raw.Write(func(fd uintptr) bool { return true })
	if err != nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	l.emit(ev)
}

// Post enqueues ev for the dispatcher goroutine without registering
// anything or waiting on readiness, for a caller that already has a
// finished result (an async connect's outcome) and just needs it
// delivered on the same goroutine every other event is.
func (l *Loop) Post(ev rdnsloop.Event) error {
	l.emit(ev)
	return nil
}

// DelWrite cancels a registration made by AddWrite (or AddRead, though
// Channel never calls DelWrite on a read handle).
func (l *Loop) DelWrite(h rdnsloop.Handle) error {
	l.mu.Lock()
	reg, ok := l.regs[h]
	if ok {
		delete(l.regs, h)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	reg.cancel()
	return nil
}

// AddTimer arms a one-shot timer, firing ev after d.
func (l *Loop) AddTimer(d time.Duration, ev rdnsloop.Event) (rdnsloop.Handle, error) {
	h := l.allocHandle()
	reg := &registration{kind: regTimer, delay: d, ev: ev}
	t := time.AfterFunc(d, func() { l.fireTimer(h) })
	reg.timer = t

	l.mu.Lock()
	l.regs[h] = reg
	l.mu.Unlock()
	return h, nil
}

func (l *Loop) fireTimer(h rdnsloop.Handle) {
	l.mu.Lock()
	reg, ok := l.regs[h]
	l.mu.Unlock()
	if !ok {
		return
	}
	l.emit(reg.ev)
}

// RepeatTimer re-arms h for another round of its original delay,
// matching the per-attempt deadline reset a retransmit needs.
func (l *Loop) RepeatTimer(h rdnsloop.Handle) error {
	l.mu.Lock()
	reg, ok := l.regs[h]
	l.mu.Unlock()
	if !ok {
		return errors.New("ioloop: unknown timer handle")
	}
	reg.timer.Reset(reg.delay)
	return nil
}

// DelTimer cancels a pending timer.
func (l *Loop) DelTimer(h rdnsloop.Handle) error {
	l.mu.Lock()
	reg, ok := l.regs[h]
	if ok {
		delete(l.regs, h)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	reg.timer.Stop()
	return nil
}

// AddPeriodic registers a recurring housekeeping tick.
func (l *Loop) AddPeriodic(d time.Duration, ev rdnsloop.Event) (rdnsloop.Handle, error) {
	h := l.allocHandle()
	ticker := time.NewTicker(d)
	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.regs[h] = &registration{kind: regPeriodic, cancel: cancel, ticker: ticker}
	l.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				l.emit(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
	return h, nil
}

// DelPeriodic cancels a periodic registration.
func (l *Loop) DelPeriodic(h rdnsloop.Handle) error {
	l.mu.Lock()
	reg, ok := l.regs[h]
	if ok {
		delete(l.regs, h)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	reg.ticker.Stop()
	reg.cancel()
	return nil
}

// Close tears down every still-live registration whose kind touches
// conn. Channel is responsible for actually closing conn itself.
func (l *Loop) Close(conn net.Conn) error {
	l.mu.Lock()
	for h, reg := range l.regs {
		if reg.kind == regRead || reg.kind == regWrite {
			delete(l.regs, h)
			reg.cancel()
		}
	}
	l.mu.Unlock()
	return nil
}

// Shutdown stops the dispatcher goroutine. Not part of the EventLoop
// interface; callers that own a Loop's lifecycle call it directly.
func (l *Loop) Shutdown() {
	l.closeOnce.Do(func() { close(l.done) })
}

func rawConnOf(conn net.Conn) (syscall.RawConn, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, errUnsupportedConn
	}
	return sc.SyscallConn()
}

// TuneUDPBuffers sets the kernel socket receive/send buffer sizes on a
// UDP conn via SO_RCVBUF/SO_SNDBUF, for callers running a resolver
// against a high query rate where the default buffers cause drops
// under burst.
func TuneUDPBuffers(conn *net.UDPConn, rcvBuf, sndBuf int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if rcvBuf > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, rcvBuf); e != nil {
				sockErr = e
			}
		}
		if sndBuf > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sndBuf); e != nil {
				sockErr = e
			}
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

var _ rdnsloop.EventLoop = (*Loop)(nil)
