// Package session keeps one logical duplex session alive against the Quanta
// backend: it dials, heartbeats, retries abnormal closures within a bounded
// budget and fans inbound frames and state changes out to observers.
//
// A Manager is an actor. A single goroutine owns the Session record and is the
// only writer of connection state; public methods enqueue work and return
// immediately. Observers run on that goroutine, in event order, and may call
// back into the Manager.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
	"github.com/rs/zerolog"
)

const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultPingInterval         = 30 * time.Second
)

// ErrNotConnected is returned by Send when the session is not CONNECTED.
var ErrNotConnected = errors.New("not connected")

// Options configures a Manager.
type Options struct {
	// URL is the full endpoint, usually built with Endpoint.
	URL string

	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds automatic retries; zero disables them.
	MaxReconnectAttempts int
	PingInterval         time.Duration

	Dialer Dialer
	Logger zerolog.Logger
	Now    func() time.Time
}

// DefaultOptions returns the documented defaults for url.
func DefaultOptions(url string) Options {
	return Options{
		URL:                  url,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		PingInterval:         DefaultPingInterval,
	}
}

// Session is the live transport handle plus its timers. At most one of each
// exists at any instant; cleanup always runs before a new dial.
type Session struct {
	conn           Conn
	gen            uint64 // bumped whenever conn is replaced; tags async events
	dialCancel     context.CancelFunc
	reconnectTimer *time.Timer
	heartbeatTimer *time.Timer
	retrySeq       uint64
	beatSeq        uint64
}

// Mailbox items.
type (
	command struct {
		kind   EventKind
		target string
	}
	shutdownCmd struct{}
	dialResult  struct {
		gen  uint64
		conn Conn
		err  error
	}
	inbound struct {
		gen  uint64
		data []byte
	}
	closed struct {
		gen  uint64
		code int
		err  error
	}
	timerFired struct {
		kind EventKind
		seq  uint64
	}
)

// Manager owns the connection lifecycle.
type Manager struct {
	opts   Options
	log    zerolog.Logger
	box    *mailbox
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	// mu guards the fields below. Only the loop goroutine writes them.
	mu     sync.RWMutex
	snap   Snapshot
	sess   Session
	alive  bool
	target string

	obsMu    sync.Mutex
	stateObs []func(StateChange)
	msgObs   []func([]byte)
}

// NewManager starts a manager in the DISCONNECTED state. Call Connect to dial
// and Shutdown to release it.
func NewManager(opts Options) *Manager {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "session").Logger(),
		box:    newMailbox(),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		alive:  true,
		target: opts.URL,
	}
	go m.run()
	return m
}

// OnStateChange registers fn for every state transition.
func (m *Manager) OnStateChange(fn func(StateChange)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.stateObs = append(m.stateObs, fn)
}

// OnMessage registers fn for every inbound frame, in arrival order.
func (m *Manager) OnMessage(fn func([]byte)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.msgObs = append(m.msgObs, fn)
}

// Connect dials target, or the configured URL when target is empty. Outcomes
// are reported through OnStateChange.
func (m *Manager) Connect(target string) {
	m.post(command{kind: EventConnect, target: target})
}

// Disconnect closes the session with a normal closure. No retry follows.
func (m *Manager) Disconnect() {
	m.post(command{kind: EventDisconnect})
}

// Reconnect resets the retry budget and dials again, even after the budget
// was exhausted.
func (m *Manager) Reconnect() {
	m.post(command{kind: EventReconnect})
}

// Shutdown tears the manager down. It is safe to call more than once and from
// an observer. Done is closed once teardown has finished.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.box.put(shutdownCmd{})
	})
}

// Done is closed after Shutdown completes.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.State
}

// Attempt returns the current retry count.
func (m *Manager) Attempt() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Attempt
}

// MaxAttempts returns the retry budget.
func (m *Manager) MaxAttempts() int {
	return m.opts.MaxReconnectAttempts
}

// Send writes v if the session is CONNECTED. Strings and byte slices go out
// verbatim; anything else is JSON-encoded. When not connected the frame is
// dropped with a warning and ErrNotConnected is returned.
func (m *Manager) Send(v any) error {
	data, err := encodeFrame(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	m.mu.RLock()
	state, conn, alive := m.snap.State, m.sess.conn, m.alive
	m.mu.RUnlock()

	if !alive || state != Connected || conn == nil {
		m.log.Warn().Stringer("state", state).Int("bytes", len(data)).Msg("send dropped: not connected")
		return ErrNotConnected
	}
	if err := conn.Write(data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func encodeFrame(v any) ([]byte, error) {
	switch p := v.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(v)
	}
}

func (m *Manager) post(c command) {
	if !m.box.put(c) {
		m.log.Debug().Stringer("event", c.kind).Msg("manager stopped, command ignored")
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for range m.box.signal {
		items := m.box.drain()
		for i, item := range items {
			if !m.handle(item) {
				discard(items[i+1:])
				return
			}
		}
	}
}

// discard releases transports carried by items that will never be handled.
func discard(items []any) {
	for _, item := range items {
		if r, ok := item.(dialResult); ok && r.conn != nil {
			r.conn.Close()
		}
	}
}

func (m *Manager) handle(item any) bool {
	switch it := item.(type) {
	case shutdownCmd:
		m.teardown()
		return false

	case command:
		if it.target != "" {
			m.mu.Lock()
			m.target = it.target
			m.mu.Unlock()
		}
		m.apply(Event{Kind: it.kind})

	case dialResult:
		m.onDial(it)

	case inbound:
		if it.gen != m.sess.gen || m.sess.conn == nil {
			return true
		}
		m.notifyMessage(it.data)

	case closed:
		if it.gen != m.sess.gen || m.sess.conn == nil {
			return true
		}
		m.log.Info().Int("code", it.code).AnErr("cause", it.err).Msg("transport closed")
		m.apply(Event{Kind: EventClose, Code: it.code, Err: it.err})

	case timerFired:
		m.onTimer(it)
	}
	return true
}

func (m *Manager) onDial(r dialResult) {
	if r.gen != m.sess.gen || m.snap.State != Connecting {
		if r.conn != nil {
			r.conn.Close()
		}
		return
	}

	m.mu.Lock()
	if m.sess.dialCancel != nil {
		m.sess.dialCancel()
		m.sess.dialCancel = nil
	}
	if r.err == nil {
		m.sess.conn = r.conn
	}
	m.mu.Unlock()

	if r.err != nil {
		m.log.Warn().Err(r.err).Str("url", m.target).Msg("dial failed")
		m.apply(Event{Kind: EventError, Err: r.err})
		if !errors.Is(r.err, ErrInvalidTarget) {
			// A failed handshake ends the way a browser socket does: error, then
			// an abnormal close that the retry policy acts on.
			m.apply(Event{Kind: EventClose, Code: protocol.CloseAbnormal, Err: r.err})
		}
		return
	}

	go m.read(r.gen, r.conn)
	m.log.Info().Str("url", m.target).Msg("connected")
	m.apply(Event{Kind: EventOpen})
}

func (m *Manager) read(gen uint64, conn Conn) {
	for {
		data, err := conn.Read()
		if err != nil {
			m.box.put(closed{gen: gen, code: CloseCode(err), err: err})
			return
		}
		if !m.box.put(inbound{gen: gen, data: data}) {
			return
		}
	}
}

func (m *Manager) onTimer(t timerFired) {
	m.mu.Lock()
	switch t.kind {
	case EventRetry:
		if m.sess.reconnectTimer == nil || t.seq != m.sess.retrySeq {
			m.mu.Unlock()
			return
		}
		m.sess.reconnectTimer = nil
	case EventHeartbeat:
		if m.sess.heartbeatTimer == nil || t.seq != m.sess.beatSeq {
			m.mu.Unlock()
			return
		}
		m.sess.heartbeatTimer = nil
	}
	m.mu.Unlock()
	m.apply(Event{Kind: t.kind})
}

// apply runs one event through Step, performs the effects and notifies
// observers if the snapshot changed.
func (m *Manager) apply(ev Event) {
	m.mu.Lock()
	old := m.snap
	next, effects := Step(old, ev, m.opts.MaxReconnectAttempts)
	m.snap = next
	for _, eff := range effects {
		m.perform(eff)
	}
	m.mu.Unlock()

	if next == old {
		return
	}
	m.log.Debug().
		Stringer("event", ev.Kind).
		Stringer("from", old.State).
		Stringer("to", next.State).
		Int("attempt", next.Attempt).
		Msg("state change")
	m.notifyState(StateChange{Old: old.State, New: next.State, Attempt: next.Attempt, Err: ev.Err})
}

// perform runs with mu held.
func (m *Manager) perform(eff Effect) {
	switch eff {
	case EffectCleanup:
		m.cleanup()
	case EffectDial:
		m.dial()
	case EffectStartHeartbeat:
		m.armHeartbeat()
	case EffectStopHeartbeat:
		stopTimer(&m.sess.heartbeatTimer)
	case EffectScheduleRetry:
		m.armRetry()
	case EffectSendPing:
		m.ping()
	case EffectReleaseTransport:
		if m.sess.conn != nil {
			m.sess.conn.Close()
			m.sess.conn = nil
		}
		m.sess.gen++
	}
}

// cleanup stops both timers, aborts a pending dial and closes the transport.
// It is idempotent.
func (m *Manager) cleanup() {
	stopTimer(&m.sess.reconnectTimer)
	stopTimer(&m.sess.heartbeatTimer)
	if m.sess.dialCancel != nil {
		m.sess.dialCancel()
		m.sess.dialCancel = nil
	}
	if conn := m.sess.conn; conn != nil {
		m.sess.conn = nil
		if err := conn.WriteClose(protocol.CloseNormal); err != nil {
			m.log.Debug().Err(err).Msg("close frame not sent")
		}
		conn.Close()
	}
	m.sess.gen++
}

func (m *Manager) dial() {
	ctx, cancel := context.WithCancel(m.ctx)
	m.sess.dialCancel = cancel
	gen, target, dialer := m.sess.gen, m.target, m.opts.Dialer

	m.log.Info().Str("url", target).Int("attempt", m.snap.Attempt).Msg("connecting")
	go func() {
		conn, err := dialer.Dial(ctx, target)
		if !m.box.put(dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) armHeartbeat() {
	stopTimer(&m.sess.heartbeatTimer)
	m.sess.beatSeq++
	seq := m.sess.beatSeq
	m.sess.heartbeatTimer = time.AfterFunc(m.opts.PingInterval, func() {
		m.box.put(timerFired{kind: EventHeartbeat, seq: seq})
	})
}

func (m *Manager) armRetry() {
	stopTimer(&m.sess.reconnectTimer)
	m.sess.retrySeq++
	seq := m.sess.retrySeq
	m.log.Info().
		Int("attempt", m.snap.Attempt).
		Int("max", m.opts.MaxReconnectAttempts).
		Dur("in", m.opts.ReconnectInterval).
		Msg("reconnect scheduled")
	m.sess.reconnectTimer = time.AfterFunc(m.opts.ReconnectInterval, func() {
		m.box.put(timerFired{kind: EventRetry, seq: seq})
	})
}

func (m *Manager) ping() {
	if conn := m.sess.conn; conn != nil {
		data, err := encodeFrame(protocol.Ping(m.opts.Now()))
		if err != nil {
			m.log.Error().Err(err).Msg("encode heartbeat")
		} else if err := conn.Write(data); err != nil {
			m.log.Warn().Err(err).Msg("heartbeat write failed")
		}
	}
	m.armHeartbeat()
}

func (m *Manager) teardown() {
	m.mu.Lock()
	m.alive = false
	m.cleanup()
	m.snap.State = Disconnected
	m.mu.Unlock()

	m.cancel()
	m.box.close()
	discard(m.box.drain())
	m.log.Debug().Msg("session manager stopped")
}

func (m *Manager) notifyState(sc StateChange) {
	m.obsMu.Lock()
	obs := append([]func(StateChange){}, m.stateObs...)
	m.obsMu.Unlock()
	for _, fn := range obs {
		fn(sc)
	}
}

func (m *Manager) notifyMessage(data []byte) {
	m.obsMu.Lock()
	obs := append([]func([]byte){}, m.msgObs...)
	m.obsMu.Unlock()
	for _, fn := range obs {
		fn(data)
	}
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
