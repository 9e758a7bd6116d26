// Package dispatch turns raw inbound frames into Envelopes and publishes them
// to a last-message slot, an ordered log and any registered subscribers.
package dispatch

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
	"github.com/rs/zerolog"
)

// Envelope is one decoded inbound frame.
type Envelope struct {
	Type      protocol.MessageType
	Timestamp time.Time
	// Payload is the original frame. For text envelopes it is the raw bytes.
	Payload json.RawMessage
	// Text is set for text envelopes only.
	Text string
}

// IsText reports whether the frame was not a JSON object.
func (e Envelope) IsText() bool {
	return e.Type == protocol.MsgText
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// epoch-second values below this are treated as seconds, above as millis.
const secondsCutoff = 1e11

// Decode never fails: anything that is not a JSON object becomes a text
// envelope carrying the raw payload.
func Decode(raw []byte, now time.Time) Envelope {
	data := append([]byte(nil), raw...)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return textEnvelope(data, now)
	}

	var head struct {
		Type      protocol.MessageType `json:"type"`
		Timestamp json.RawMessage      `json:"timestamp"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		// A non-string type field lands here too; keep the frame as text.
		return textEnvelope(data, now)
	}
	return Envelope{
		Type:      head.Type,
		Timestamp: parseTimestamp(head.Timestamp, now),
		Payload:   json.RawMessage(trimmed),
	}
}

func textEnvelope(data []byte, now time.Time) Envelope {
	return Envelope{
		Type:      protocol.MsgText,
		Timestamp: now,
		Payload:   json.RawMessage(data),
		Text:      string(data),
	}
}

func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return now
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return now
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f, now)
		}
		return now
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return now
	}
	return fromEpoch(f, now)
}

func fromEpoch(f float64, now time.Time) time.Time {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return now
	}
	if f < secondsCutoff {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9))
	}
	return time.UnixMilli(int64(f))
}

// Dispatcher owns the last-message slot and the message log. It is safe for
// concurrent use; subscribers run synchronously in registration order.
type Dispatcher struct {
	log zerolog.Logger
	now func() time.Time

	mu       sync.RWMutex
	last     *Envelope
	history  []Envelope
	capacity int

	subMu sync.Mutex
	subs  []func(Envelope)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCapacity bounds the log to n entries, evicting the oldest. Zero keeps
// every envelope.
func WithCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.capacity = n
		}
	}
}

// WithClock overrides the arrival clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log: logger.With().Str("component", "dispatch").Logger(),
		now: time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle decodes raw and publishes the envelope. It matches the signature
// session.Manager.OnMessage expects.
func (d *Dispatcher) Handle(raw []byte) {
	env := Decode(raw, d.now())
	if env.IsText() {
		d.log.Debug().Int("bytes", len(raw)).Msg("non-JSON frame kept as text")
	}

	d.mu.Lock()
	d.last = &env
	d.history = append(d.history, env)
	if d.capacity > 0 && len(d.history) > d.capacity {
		d.history = append([]Envelope(nil), d.history[len(d.history)-d.capacity:]...)
	}
	d.mu.Unlock()

	d.subMu.Lock()
	subs := append([]func(Envelope){}, d.subs...)
	d.subMu.Unlock()
	for _, fn := range subs {
		fn(env)
	}
}

// Subscribe registers fn for every envelope published after the call.
func (d *Dispatcher) Subscribe(fn func(Envelope)) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.subs = append(d.subs, fn)
}

// Last returns the most recent envelope.
func (d *Dispatcher) Last() (Envelope, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Envelope{}, false
	}
	return *d.last, true
}

// Log returns a copy of the message log, oldest first.
func (d *Dispatcher) Log() []Envelope {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Envelope(nil), d.history...)
}

// Len returns the number of logged envelopes.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.history)
}

// Clear empties the last-message slot and the log.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = nil
	d.history = nil
}
