package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStep(t *testing.T) {
	const max = 3
	tests := []struct {
		name    string
		from    Snapshot
		ev      Event
		want    Snapshot
		effects []Effect
	}{
		{
			name:    "connect from disconnected",
			from:    Snapshot{State: Disconnected},
			ev:      Event{Kind: EventConnect},
			want:    Snapshot{State: Connecting},
			effects: []Effect{EffectCleanup, EffectDial},
		},
		{
			name:    "connect keeps attempt",
			from:    Snapshot{State: Disconnected, Attempt: 3},
			ev:      Event{Kind: EventConnect},
			want:    Snapshot{State: Connecting, Attempt: 3},
			effects: []Effect{EffectCleanup, EffectDial},
		},
		{
			name:    "reconnect resets attempt",
			from:    Snapshot{State: Disconnected, Attempt: 3},
			ev:      Event{Kind: EventReconnect},
			want:    Snapshot{State: Connecting},
			effects: []Effect{EffectCleanup, EffectDial},
		},
		{
			name:    "open resets attempt and starts heartbeat",
			from:    Snapshot{State: Connecting, Attempt: 2},
			ev:      Event{Kind: EventOpen},
			want:    Snapshot{State: Connected},
			effects: []Effect{EffectStartHeartbeat},
		},
		{
			name: "open outside connecting is ignored",
			from: Snapshot{State: Disconnected, Attempt: 1},
			ev:   Event{Kind: EventOpen},
			want: Snapshot{State: Disconnected, Attempt: 1},
		},
		{
			name:    "normal close is terminal",
			from:    Snapshot{State: Connected},
			ev:      Event{Kind: EventClose, Code: 1000},
			want:    Snapshot{State: Disconnected},
			effects: []Effect{EffectStopHeartbeat, EffectReleaseTransport},
		},
		{
			name:    "normal close ignores remaining budget",
			from:    Snapshot{State: Connected, Attempt: 1},
			ev:      Event{Kind: EventClose, Code: 1000},
			want:    Snapshot{State: Disconnected, Attempt: 1},
			effects: []Effect{EffectStopHeartbeat, EffectReleaseTransport},
		},
		{
			name:    "abnormal close under budget retries",
			from:    Snapshot{State: Connected},
			ev:      Event{Kind: EventClose, Code: 1006},
			want:    Snapshot{State: Reconnecting, Attempt: 1},
			effects: []Effect{EffectStopHeartbeat, EffectReleaseTransport, EffectScheduleRetry},
		},
		{
			name:    "close after error retries",
			from:    Snapshot{State: Error, Attempt: 2},
			ev:      Event{Kind: EventClose, Code: 1006},
			want:    Snapshot{State: Reconnecting, Attempt: 3},
			effects: []Effect{EffectStopHeartbeat, EffectReleaseTransport, EffectScheduleRetry},
		},
		{
			name:    "abnormal close with budget exhausted",
			from:    Snapshot{State: Error, Attempt: max},
			ev:      Event{Kind: EventClose, Code: 4000},
			want:    Snapshot{State: Disconnected, Attempt: max},
			effects: []Effect{EffectStopHeartbeat, EffectReleaseTransport},
		},
		{
			name: "close while reconnecting is stale",
			from: Snapshot{State: Reconnecting, Attempt: 1},
			ev:   Event{Kind: EventClose, Code: 1006},
			want: Snapshot{State: Reconnecting, Attempt: 1},
		},
		{
			name: "error does not schedule a retry",
			from: Snapshot{State: Connecting, Attempt: 1},
			ev:   Event{Kind: EventError, Err: errors.New("boom")},
			want: Snapshot{State: Error, Attempt: 1},
		},
		{
			name:    "retry timer dials",
			from:    Snapshot{State: Reconnecting, Attempt: 1},
			ev:      Event{Kind: EventRetry},
			want:    Snapshot{State: Connecting, Attempt: 1},
			effects: []Effect{EffectCleanup, EffectDial},
		},
		{
			name: "retry timer after manual disconnect is ignored",
			from: Snapshot{State: Disconnected, Attempt: 1},
			ev:   Event{Kind: EventRetry},
			want: Snapshot{State: Disconnected, Attempt: 1},
		},
		{
			name:    "heartbeat while connected pings",
			from:    Snapshot{State: Connected},
			ev:      Event{Kind: EventHeartbeat},
			want:    Snapshot{State: Connected},
			effects: []Effect{EffectSendPing},
		},
		{
			name: "heartbeat while reconnecting is ignored",
			from: Snapshot{State: Reconnecting, Attempt: 1},
			ev:   Event{Kind: EventHeartbeat},
			want: Snapshot{State: Reconnecting, Attempt: 1},
		},
		{
			name:    "disconnect cleans up",
			from:    Snapshot{State: Reconnecting, Attempt: 2},
			ev:      Event{Kind: EventDisconnect},
			want:    Snapshot{State: Disconnected, Attempt: 2},
			effects: []Effect{EffectCleanup},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects := Step(tt.from, tt.ev, max)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.effects, effects)
		})
	}
}

// Drives Step with max consecutive failed retries and checks the budget is
// honoured without a live transport.
func TestStepExhaustsBudget(t *testing.T) {
	const max = 5
	s := Snapshot{State: Connecting}
	s, _ = Step(s, Event{Kind: EventOpen}, max)
	s, _ = Step(s, Event{Kind: EventClose, Code: 1011}, max)

	for i := 1; i <= max; i++ {
		if s.State != Reconnecting || s.Attempt != i {
			t.Fatalf("round %d: got %+v, want reconnecting attempt %d", i, s, i)
		}
		s, _ = Step(s, Event{Kind: EventRetry}, max)
		s, _ = Step(s, Event{Kind: EventError}, max)
		s, _ = Step(s, Event{Kind: EventClose, Code: 1006}, max)
	}

	if s.State != Disconnected {
		t.Fatalf("state = %s, want disconnected", s.State)
	}
	if s.Attempt != max {
		t.Errorf("attempt = %d, want %d", s.Attempt, max)
	}

	_, effects := Step(s, Event{Kind: EventRetry}, max)
	if len(effects) != 0 {
		t.Errorf("retry after exhaustion produced effects %v", effects)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Reconnecting: "reconnecting",
		Error:        "error",
		State(42):    "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestCanReconnect(t *testing.T) {
	assert.True(t, Error.CanReconnect())
	assert.True(t, Disconnected.CanReconnect())
	assert.False(t, Connected.CanReconnect())
	assert.False(t, Reconnecting.CanReconnect())
	assert.False(t, Connecting.CanReconnect())
}
