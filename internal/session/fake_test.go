package session

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeConn is an in-memory Conn. The test plays the peer.
type fakeConn struct {
	in       chan []byte
	gone     chan struct{}
	goneOnce sync.Once

	mu        sync.Mutex
	readErr   error
	written   [][]byte
	closeSent []int
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), gone: make(chan struct{})}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.gone:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.readErr
	}
}

func (c *fakeConn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteClose(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSent = append(c.closeSent, code)
	return nil
}

func (c *fakeConn) Close() error {
	c.terminate(net.ErrClosed)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// peerClose simulates the server closing the socket with code.
func (c *fakeConn) peerClose(code int) {
	c.terminate(&websocket.CloseError{Code: code})
}

func (c *fakeConn) terminate(err error) {
	c.goneOnce.Do(func() {
		c.mu.Lock()
		c.readErr = err
		c.mu.Unlock()
		close(c.gone)
	})
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// frames returns the type field of every frame written so far.
func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []string
	for _, w := range c.written {
		var f struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(w, &f) == nil {
			types = append(types, f.Type)
		}
	}
	return types
}

// fakeDialer hands out fakeConns. Dials numbered in failFrom and above fail
// with failErr; zero disables failures.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	targets  []string
	failFrom int
	failErr  error
	conns    []*fakeConn
	opened   chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{opened: make(chan *fakeConn, 32)}
}

func (d *fakeDialer) Dial(ctx context.Context, target string) (Conn, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.dials++
	d.targets = append(d.targets, target)
	n := d.dials
	fail := d.failFrom > 0 && n >= d.failFrom
	d.mu.Unlock()

	if fail {
		return nil, d.failErr
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	d.opened <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) openConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.opened:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no transport dialed within 2s")
		return nil
	}
}

// recorder captures state changes delivered by a Manager.
type recorder struct {
	ch chan StateChange
}

func record(m *Manager) *recorder {
	r := &recorder{ch: make(chan StateChange, 128)}
	m.OnStateChange(func(sc StateChange) { r.ch <- sc })
	return r
}

// waitFor consumes changes until one reaches want and returns it together
// with every state seen on the way.
func (r *recorder) waitFor(t *testing.T, want State) (StateChange, []State) {
	t.Helper()
	var seen []State
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sc := <-r.ch:
			seen = append(seen, sc.New)
			if sc.New == want {
				return sc, seen
			}
		case <-deadline:
			t.Fatalf("state %s not reached; saw %v", want, seen)
			return StateChange{}, seen
		}
	}
}

// quiet fails if any state change arrives within d.
func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case sc := <-r.ch:
		t.Fatalf("unexpected state change %s -> %s", sc.Old, sc.New)
	case <-time.After(d):
	}
}

// resources reports what the session currently holds.
func (m *Manager) resources() (conn bool, timers int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess.reconnectTimer != nil {
		timers++
	}
	if m.sess.heartbeatTimer != nil {
		timers++
	}
	return m.sess.conn != nil, timers
}

func stop(t *testing.T, m *Manager) {
	t.Helper()
	m.Shutdown()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
}
