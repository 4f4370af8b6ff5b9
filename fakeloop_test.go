package rdnsloop

import (
	"net"
	"sync"
	"testing"
	"time"
)

// fakeLoop is a minimal in-memory EventLoop stand-in for tests: it
// never actually waits on readiness or elapsed time, it just records
// registrations so a test can fire them deliberately and assert on
// the resulting Dispatch behavior. Post is the exception: a real
// goroutine (Channel's async TCP connect) calls it concurrently with
// the test, so posts is guarded by mu and also mirrored onto postCh
// for tests that need to block until one arrives.
type fakeLoop struct {
	nextHandle Handle
	timers     map[Handle]Event
	periodics  map[Handle]Event
	writes     map[Handle]Event
	reads      map[Handle]Event

	mu     sync.Mutex
	posts  []Event
	postCh chan Event

	periodicUnsupported bool
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{
		timers:    make(map[Handle]Event),
		periodics: make(map[Handle]Event),
		writes:    make(map[Handle]Event),
		reads:     make(map[Handle]Event),
		postCh:    make(chan Event, 8),
	}
}

func (l *fakeLoop) alloc() Handle {
	l.nextHandle++
	return l.nextHandle
}

func (l *fakeLoop) AddRead(conn net.Conn, ev Event) (Handle, error) {
	h := l.alloc()
	l.reads[h] = ev
	return h, nil
}

func (l *fakeLoop) AddWrite(conn net.Conn, ev Event) (Handle, error) {
	h := l.alloc()
	l.writes[h] = ev
	return h, nil
}

func (l *fakeLoop) DelWrite(h Handle) error {
	delete(l.writes, h)
	return nil
}

func (l *fakeLoop) AddTimer(d time.Duration, ev Event) (Handle, error) {
	h := l.alloc()
	l.timers[h] = ev
	return h, nil
}

func (l *fakeLoop) RepeatTimer(h Handle) error {
	return nil
}

func (l *fakeLoop) DelTimer(h Handle) error {
	delete(l.timers, h)
	return nil
}

func (l *fakeLoop) AddPeriodic(d time.Duration, ev Event) (Handle, error) {
	if l.periodicUnsupported {
		return 0, ErrPeriodicUnsupported
	}
	h := l.alloc()
	l.periodics[h] = ev
	return h, nil
}

func (l *fakeLoop) DelPeriodic(h Handle) error {
	delete(l.periodics, h)
	return nil
}

func (l *fakeLoop) Close(conn net.Conn) error {
	return nil
}

func (l *fakeLoop) Post(ev Event) error {
	l.mu.Lock()
	l.posts = append(l.posts, ev)
	l.mu.Unlock()
	select {
	case l.postCh <- ev:
	default:
	}
	return nil
}

// fireAllWrites dispatches every currently-armed write event, the way
// a real loop would once the underlying socket reports writable.
func (l *fakeLoop) fireAllWrites(r *Resolver) {
	for _, ev := range l.writes {
		r.Dispatch(ev)
	}
}

// firePosts dispatches every event queued via Post since the last call
// and clears the queue, mirroring a real loop delivering a posted
// event on its dispatcher goroutine.
func (l *fakeLoop) firePosts(r *Resolver) {
	l.mu.Lock()
	posts := l.posts
	l.posts = nil
	l.mu.Unlock()
	for _, ev := range posts {
		r.Dispatch(ev)
	}
}

// waitForPost blocks until a goroutine outside the test (the async TCP
// connect dial, in practice) calls Post, then dispatches the posted
// event on the caller's goroutine, standing in for a real dispatcher
// goroutine receiving it. Fails the test if nothing arrives in time.
func waitForPost(t *testing.T, r *Resolver, l *fakeLoop, timeout time.Duration) {
	t.Helper()
	select {
	case ev := <-l.postCh:
		l.mu.Lock()
		for i, p := range l.posts {
			if p == ev {
				l.posts = append(l.posts[:i], l.posts[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
		r.Dispatch(ev)
	case <-time.After(timeout):
		t.Fatal("timed out waiting for posted event")
	}
}

var _ EventLoop = (*fakeLoop)(nil)
