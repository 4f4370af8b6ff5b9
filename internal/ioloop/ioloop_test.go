package ioloop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/rdnsloop"
)

func newUDPPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestAddTimerFires(t *testing.T) {
	events := make(chan rdnsloop.Event, 1)
	l := New(func(ev rdnsloop.Event) { events <- ev })
	defer l.Shutdown()

	want := rdnsloop.Event{Kind: rdnsloop.EventRequestTimer}
	_, err := l.AddTimer(10*time.Millisecond, want)
	require.NoError(t, err)

	select {
	case got := <-events:
		assert.Equal(t, rdnsloop.EventRequestTimer, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestDelTimerPreventsFire(t *testing.T) {
	events := make(chan rdnsloop.Event, 1)
	l := New(func(ev rdnsloop.Event) { events <- ev })
	defer l.Shutdown()

	h, err := l.AddTimer(50*time.Millisecond, rdnsloop.Event{Kind: rdnsloop.EventRequestTimer})
	require.NoError(t, err)
	require.NoError(t, l.DelTimer(h))

	select {
	case <-events:
		t.Fatal("canceled timer must not fire")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRepeatTimerRearmsOriginalDelay(t *testing.T) {
	events := make(chan rdnsloop.Event, 2)
	l := New(func(ev rdnsloop.Event) { events <- ev })
	defer l.Shutdown()

	h, err := l.AddTimer(20*time.Millisecond, rdnsloop.Event{Kind: rdnsloop.EventRequestTimer})
	require.NoError(t, err)

	<-events
	require.NoError(t, l.RepeatTimer(h))

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("repeated timer never fired again")
	}
}

func TestAddPeriodicFiresRepeatedly(t *testing.T) {
	events := make(chan rdnsloop.Event, 4)
	l := New(func(ev rdnsloop.Event) { events <- ev })
	defer l.Shutdown()

	h, err := l.AddPeriodic(10*time.Millisecond, rdnsloop.Event{Kind: rdnsloop.EventPeriodic})
	require.NoError(t, err)

	<-events
	<-events
	require.NoError(t, l.DelPeriodic(h))
}

func TestAddReadFiresOnIncomingDatagram(t *testing.T) {
	a, b := newUDPPair(t)

	events := make(chan rdnsloop.Event, 1)
	l := New(func(ev rdnsloop.Event) { events <- ev })
	defer l.Shutdown()

	_, err := l.AddRead(a, rdnsloop.Event{Kind: rdnsloop.EventChannelReadable})
	require.NoError(t, err)

	_, err = b.WriteToUDP([]byte("hello"), a.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	select {
	case got := <-events:
		assert.Equal(t, rdnsloop.EventChannelReadable, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("read event never fired")
	}

	buf := make([]byte, 16)
	n, err := a.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestAddWriteFiresOnceSocketIsWritable(t *testing.T) {
	a, _ := newUDPPair(t)

	events := make(chan rdnsloop.Event, 1)
	l := New(func(ev rdnsloop.Event) { events <- ev })
	defer l.Shutdown()

	_, err := l.AddWrite(a, rdnsloop.Event{Kind: rdnsloop.EventChannelWritable})
	require.NoError(t, err)

	select {
	case got := <-events:
		assert.Equal(t, rdnsloop.EventChannelWritable, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("write event never fired")
	}
}

func TestCloseCancelsReadAndWriteRegistrations(t *testing.T) {
	a, _ := newUDPPair(t)

	l := New(func(rdnsloop.Event) {})
	defer l.Shutdown()

	_, err := l.AddRead(a, rdnsloop.Event{Kind: rdnsloop.EventChannelReadable})
	require.NoError(t, err)
	_, err = l.AddWrite(a, rdnsloop.Event{Kind: rdnsloop.EventChannelWritable})
	require.NoError(t, err)

	require.NoError(t, l.Close(a))

	l.mu.Lock()
	n := len(l.regs)
	l.mu.Unlock()
	assert.Equal(t, 0, n)
}

func TestAddReadRejectsConnWithoutSyscallConn(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	l := New(func(rdnsloop.Event) {})
	defer l.Shutdown()

	_, err := l.AddRead(server, rdnsloop.Event{Kind: rdnsloop.EventChannelReadable})
	assert.ErrorIs(t, err, errUnsupportedConn)
}

func TestTuneUDPBuffers(t *testing.T) {
	a, _ := newUDPPair(t)
	assert.NoError(t, TuneUDPBuffers(a, 1<<16, 1<<16))
}
