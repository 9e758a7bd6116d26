package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
)

const testURL = "ws://quanta.test/ws/client-1"

func newTestManager(d Dialer, mutate func(*Options)) *Manager {
	opts := Options{
		URL:                  testURL,
		ReconnectInterval:    30 * time.Millisecond,
		MaxReconnectAttempts: 5,
		PingInterval:         time.Hour,
		Dialer:               d,
		Logger:               zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewManager(opts)
}

func TestManager_ConnectOpens(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, nil)
	defer stop(t, m)
	rec := record(m)

	assert.Equal(t, Disconnected, m.State())
	m.Connect("")

	_, seen := rec.waitFor(t, Connected)
	assert.Equal(t, []State{Connecting, Connected}, seen)
	assert.Equal(t, 0, m.Attempt())
	d.mu.Lock()
	assert.Equal(t, []string{testURL}, d.targets)
	d.mu.Unlock()

	conn, timers := m.resources()
	assert.True(t, conn)
	assert.Equal(t, 1, timers, "heartbeat timer should be armed")
}

func TestManager_HeartbeatPings(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, func(o *Options) { o.PingInterval = 10 * time.Millisecond })
	defer stop(t, m)
	rec := record(m)

	m.Connect("")
	rec.waitFor(t, Connected)
	c := d.next(t)

	require.Eventually(t, func() bool {
		pings := 0
		for _, f := range c.frames() {
			if f == "ping" {
				pings++
			}
		}
		return pings >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_AbnormalCloseRetries(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, func(o *Options) { o.ReconnectInterval = 40 * time.Millisecond })
	defer stop(t, m)
	rec := record(m)

	m.Connect("")
	rec.waitFor(t, Connected)
	c := d.next(t)

	c.peerClose(4001)
	sc, _ := rec.waitFor(t, Reconnecting)
	closedAt := time.Now()
	assert.Equal(t, Connected, sc.Old)
	assert.Equal(t, 1, sc.Attempt)

	sc, _ = rec.waitFor(t, Connecting)
	assert.GreaterOrEqual(t, time.Since(closedAt), 30*time.Millisecond)
	assert.Equal(t, Reconnecting, sc.Old)

	rec.waitFor(t, Connected)
	assert.Equal(t, 0, m.Attempt(), "successful open resets the budget")
	assert.Equal(t, 2, d.dialCount())
}

func TestManager_NormalCloseIsTerminal(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, nil)
	defer stop(t, m)
	rec := record(m)

	m.Connect("")
	rec.waitFor(t, Connected)
	d.next(t).peerClose(1000)

	sc, _ := rec.waitFor(t, Disconnected)
	assert.Equal(t, Connected, sc.Old)
	rec.quiet(t, 150*time.Millisecond)
	assert.Equal(t, 1, d.dialCount())

	conn, timers := m.resources()
	assert.False(t, conn)
	assert.Zero(t, timers)
}

func TestManager_BudgetExhaustedThenManualReconnect(t *testing.T) {
	d := newFakeDialer()
	d.failFrom = 2
	d.failErr = errors.New("connection refused")
	m := newTestManager(d, func(o *Options) {
		o.MaxReconnectAttempts = 2
		o.ReconnectInterval = 10 * time.Millisecond
	})
	defer stop(t, m)
	rec := record(m)

	m.Connect("")
	rec.waitFor(t, Connected)
	d.next(t).peerClose(1011)

	_, seen := rec.waitFor(t, Disconnected)
	assert.Equal(t, []State{
		Reconnecting, Connecting, Error,
		Reconnecting, Connecting, Error,
		Disconnected,
	}, seen)
	assert.Equal(t, 2, m.Attempt())
	assert.Equal(t, 3, d.dialCount())

	rec.quiet(t, 100*time.Millisecond)
	assert.Equal(t, 3, d.dialCount(), "no automatic retry after exhaustion")

	d.mu.Lock()
	d.failFrom = 0
	d.mu.Unlock()

	m.Reconnect()
	sc, _ := rec.waitFor(t, Connecting)
	assert.Equal(t, 0, sc.Attempt)
	rec.waitFor(t, Connected)
}

func TestManager_ErrorCarriesCause(t *testing.T) {
	d := newFakeDialer()
	d.failFrom = 1
	d.failErr = errors.New("no route to host")
	m := newTestManager(d, func(o *Options) { o.MaxReconnectAttempts = 0 })
	defer stop(t, m)
	rec := record(m)

	m.Connect("")
	sc, _ := rec.waitFor(t, Error)
	require.Error(t, sc.Err)
	assert.Contains(t, sc.Err.Error(), "no route to host")
	rec.waitFor(t, Disconnected)
}

func TestManager_InvalidTargetIsNotRetried(t *testing.T) {
	m := newTestManager(WebsocketDialer{}, nil)
	defer stop(t, m)
	rec := record(m)

	m.Connect("http://quanta.test/ws/1")
	sc, _ := rec.waitFor(t, Error)
	assert.ErrorIs(t, sc.Err, ErrInvalidTarget)

	rec.quiet(t, 100*time.Millisecond)
	assert.Equal(t, Error, m.State())
	assert.Equal(t, 0, m.Attempt())
}

func TestManager_SendRequiresConnected(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, nil)
	defer stop(t, m)
	rec := record(m)

	err := m.Send(map[string]string{"type": "hello"})
	assert.ErrorIs(t, err, ErrNotConnected)

	m.Connect("")
	rec.waitFor(t, Connected)
	c := d.next(t)

	require.NoError(t, m.Send("plain text"))
	require.NoError(t, m.Send(map[string]any{"type": "custom", "n": 1}))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.written, 2)
	assert.Equal(t, "plain text", string(c.written[0]))
	assert.JSONEq(t, `{"type":"custom","n":1}`, string(c.written[1]))
}

func TestManager_DisconnectIsClean(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, nil)
	defer stop(t, m)
	rec := record(m)

	m.Connect("")
	rec.waitFor(t, Connected)
	c := d.next(t)

	m.Disconnect()
	rec.waitFor(t, Disconnected)
	rec.quiet(t, 100*time.Millisecond)

	c.mu.Lock()
	assert.Equal(t, []int{1000}, c.closeSent)
	c.mu.Unlock()
	assert.True(t, c.isClosed())
	assert.Equal(t, 1, d.dialCount())
}

func TestManager_RapidReconnectsKeepOneTransport(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, nil)
	defer stop(t, m)
	rec := record(m)

	m.Connect("")
	for i := 0; i < 5; i++ {
		m.Reconnect()
	}
	rec.waitFor(t, Connected)

	require.Eventually(t, func() bool {
		return d.dialCount() == 6 && d.openConns() == 1
	}, 2*time.Second, 5*time.Millisecond)

	conn, timers := m.resources()
	assert.True(t, conn)
	assert.Equal(t, 1, timers)
}

func TestManager_MessagesInArrivalOrder(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, nil)
	defer stop(t, m)
	rec := record(m)

	var mu sync.Mutex
	var got []string
	m.OnMessage(func(b []byte) {
		mu.Lock()
		got = append(got, string(b))
		mu.Unlock()
	})

	m.Connect("")
	rec.waitFor(t, Connected)
	c := d.next(t)
	for _, s := range []string{"a", "b", "c"} {
		c.in <- []byte(s)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestManager_ObserverMaySend(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, nil)
	defer stop(t, m)
	rec := record(m)

	m.OnStateChange(func(sc StateChange) {
		if sc.New == Connected {
			m.Send(`{"type":"hello"}`)
		}
	})

	m.Connect("")
	rec.waitFor(t, Connected)
	c := d.next(t)
	require.Eventually(t, func() bool {
		return len(c.frames()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, c.frames())
}

func TestManager_ShutdownIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := newFakeDialer()
	m := newTestManager(d, func(o *Options) { o.ReconnectInterval = time.Hour })
	rec := record(m)

	m.Connect("")
	rec.waitFor(t, Connected)
	d.next(t).peerClose(1006)
	rec.waitFor(t, Reconnecting)

	conn, timers := m.resources()
	require.False(t, conn)
	require.Equal(t, 1, timers, "retry timer should be pending")

	m.Shutdown()
	m.Shutdown()
	<-m.Done()
	m.Shutdown()

	conn, timers = m.resources()
	assert.False(t, conn)
	assert.Zero(t, timers)

	// Commands after teardown are no-ops.
	m.Connect("")
	m.Reconnect()
	assert.ErrorIs(t, m.Send("x"), ErrNotConnected)
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, 1, d.dialCount())
}

func TestManager_ShutdownWhileDialing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	block := make(chan struct{})
	d := dialFunc(func() (Conn, error) {
		<-block
		return newFakeConn(), nil
	})
	m := newTestManager(d, nil)
	rec := record(m)

	m.Connect("")
	rec.waitFor(t, Connecting)
	stop(t, m)
	close(block)

	rec.quiet(t, 50*time.Millisecond)
	conn, timers := m.resources()
	assert.False(t, conn)
	assert.Zero(t, timers)
}

func TestManager_LiveServerReconnects(t *testing.T) {
	var upgrades atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/live-client" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := upgrades.Add(1)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection"}`))
		if n == 1 {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(4000, "going away"), time.Now().Add(time.Second))
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	url, err := Endpoint(base, "live-client")
	require.NoError(t, err)

	var frames atomic.Int32
	m := NewManager(Options{
		URL:                  url,
		ReconnectInterval:    20 * time.Millisecond,
		MaxReconnectAttempts: 3,
		PingInterval:         time.Hour,
		Logger:               zerolog.Nop(),
	})
	defer stop(t, m)
	m.OnMessage(func([]byte) { frames.Add(1) })
	rec := record(m)

	m.Connect("")
	rec.waitFor(t, Connected)
	sc, _ := rec.waitFor(t, Reconnecting)
	assert.Equal(t, 1, sc.Attempt)
	rec.waitFor(t, Connected)

	assert.Equal(t, int32(2), upgrades.Load())
	require.Eventually(t, func() bool { return frames.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestEndpoint(t *testing.T) {
	got, err := Endpoint("ws://localhost:8000", "client 1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/ws/client%201", got)

	got, err = Endpoint("wss://api.example.com/base/", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/base/ws/abc", got)

	_, err = Endpoint("ws://localhost:8000", "")
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = Endpoint("localhost:8000", "abc")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestCloseCode(t *testing.T) {
	assert.Equal(t, 1000, CloseCode(&websocket.CloseError{Code: 1000}))
	assert.Equal(t, 4001, CloseCode(&websocket.CloseError{Code: 4001}))
	assert.Equal(t, 1006, CloseCode(errors.New("read: connection reset by peer")))
}

type dialFunc func() (Conn, error)

func (f dialFunc) Dial(_ context.Context, _ string) (Conn, error) { return f() }

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{"string verbatim", "hello", "hello", false},
		{"bytes verbatim", []byte(`{"a":1}`), `{"a":1}`, false},
		{"ping frame", protocol.Ping(time.UnixMilli(1700000000123)), `{"type":"ping","timestamp":1700000000123}`, false},
		{"unencodable", make(chan int), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeFrame(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}
