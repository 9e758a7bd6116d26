// Package workflow folds workflow status frames into an ordered update log and
// a last-write-wins snapshot.
package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/UkemeSkywalker/Quanta/internal/dispatch"
	"github.com/UkemeSkywalker/Quanta/internal/protocol"
	"github.com/rs/zerolog"
)

// Update is one workflow_started, workflow_completed or agent_status frame.
type Update struct {
	Type               protocol.MessageType `json:"type"`
	WorkflowID         string               `json:"workflow_id"`
	Status             string               `json:"status"`
	Message            string               `json:"message"`
	ProgressPercentage *float64             `json:"progress_percentage,omitempty"`
	AgentName          *string              `json:"agent_name,omitempty"`
	Timestamp          time.Time            `json:"-"`
}

// Snapshot is the current workflow status. Every field is taken from the
// latest update alone; absent optional fields reset to their zero value.
type Snapshot struct {
	WorkflowID   string
	Status       string
	Progress     float64
	CurrentAgent string
	Message      string
}

func snapshotOf(u Update) Snapshot {
	s := Snapshot{
		WorkflowID: u.WorkflowID,
		Status:     u.Status,
		Message:    u.Message,
	}
	if u.ProgressPercentage != nil {
		s.Progress = *u.ProgressPercentage
	}
	if u.AgentName != nil {
		s.CurrentAgent = *u.AgentName
	}
	return s
}

// Done reports whether the workflow reached a terminal status.
func (s Snapshot) Done() bool {
	switch protocol.WorkflowStatus(s.Status) {
	case protocol.WorkflowCompleted, protocol.WorkflowFailed:
		return true
	}
	return false
}

// Aggregator consumes dispatcher envelopes. It is safe for concurrent use.
type Aggregator struct {
	log zerolog.Logger

	mu       sync.RWMutex
	updates  []Update
	snapshot Snapshot

	subMu sync.Mutex
	subs  []func(Snapshot)
}

func NewAggregator(logger zerolog.Logger) *Aggregator {
	return &Aggregator{log: logger.With().Str("component", "workflow").Logger()}
}

// Observe folds env if it is a workflow status frame and ignores it
// otherwise. Register it with dispatch.Dispatcher.Subscribe.
func (a *Aggregator) Observe(env dispatch.Envelope) {
	if !protocol.IsWorkflowUpdate(env.Type) {
		return
	}
	u, err := decodeUpdate(env)
	if err != nil {
		a.log.Debug().Err(err).Str("type", string(env.Type)).Msg("workflow frame ignored")
		return
	}

	snap := snapshotOf(u)
	a.mu.Lock()
	a.updates = append(a.updates, u)
	a.snapshot = snap
	a.mu.Unlock()

	a.log.Debug().
		Str("type", string(u.Type)).
		Str("status", snap.Status).
		Float64("progress", snap.Progress).
		Str("agent", snap.CurrentAgent).
		Msg("workflow update")
	a.notify(snap)
}

// decodeUpdate reads the frame one field at a time. Only an unreadable status
// rejects the frame; any other malformed field falls back to its zero value.
func decodeUpdate(env dispatch.Envelope) (Update, error) {
	var raw struct {
		WorkflowID         json.RawMessage `json:"workflow_id"`
		Status             json.RawMessage `json:"status"`
		Message            json.RawMessage `json:"message"`
		ProgressPercentage json.RawMessage `json:"progress_percentage"`
		AgentName          json.RawMessage `json:"agent_name"`
	}
	if err := env.Decode(&raw); err != nil {
		return Update{}, err
	}

	u := Update{Type: env.Type, Timestamp: env.Timestamp}
	if err := json.Unmarshal(raw.Status, &u.Status); err != nil {
		return Update{}, fmt.Errorf("status: %w", err)
	}
	u.WorkflowID = lenientString(raw.WorkflowID)
	u.Message = lenientString(raw.Message)
	if agent := lenientString(raw.AgentName); agent != "" {
		u.AgentName = &agent
	}
	if p, ok := lenientNumber(raw.ProgressPercentage); ok {
		u.ProgressPercentage = &p
	}
	return u, nil
}

func lenientString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// lenientNumber accepts a JSON number or a numeric string.
func lenientNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f, true
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Updates returns a copy of the update log, oldest first.
func (a *Aggregator) Updates() []Update {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Update(nil), a.updates...)
}

// Snapshot returns the current status.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// Reset clears the log and the snapshot.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.updates = nil
	a.snapshot = Snapshot{}
	a.mu.Unlock()
	a.notify(Snapshot{})
}

// Subscribe registers fn for every snapshot change, including resets.
func (a *Aggregator) Subscribe(fn func(Snapshot)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subs = append(a.subs, fn)
}

func (a *Aggregator) notify(s Snapshot) {
	a.subMu.Lock()
	subs := append([]func(Snapshot){}, a.subs...)
	a.subMu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
