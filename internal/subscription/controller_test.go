package subscription

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
	"github.com/UkemeSkywalker/Quanta/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.SubscribeFrame
	err  error
}

func (s *fakeSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f protocol.SubscribeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	s.sent = append(s.sent, f)
	return nil
}

func (s *fakeSender) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, f := range s.sent {
		out = append(out, f.WorkflowID)
	}
	return out
}

func TestController_OnePerEdge(t *testing.T) {
	s := &fakeSender{}
	c := New(s, zerolog.Nop())
	c.SetTopic("wf-42")

	c.SetConnected(false)
	c.SetConnected(true)
	c.SetConnected(false)
	c.SetConnected(true)

	assert.Equal(t, []string{"wf-42", "wf-42"}, s.topics())
}

func TestController_FrameShape(t *testing.T) {
	s := &fakeSender{}
	c := New(s, zerolog.Nop())
	c.SetTopic("wf-1")
	c.SetConnected(true)

	require.Len(t, s.sent, 1)
	f := s.sent[0]
	assert.Equal(t, protocol.MsgSubscribe, f.Type)
	assert.Equal(t, "wf-1", f.WorkflowID)
	assert.Positive(t, f.Timestamp)
}

func TestController_Edges(t *testing.T) {
	tests := []struct {
		name  string
		steps func(c *Controller)
		want  []string
	}{
		{
			name: "no topic never subscribes",
			steps: func(c *Controller) {
				c.SetConnected(true)
				c.SetConnected(false)
				c.SetConnected(true)
			},
		},
		{
			name: "topic set while connected",
			steps: func(c *Controller) {
				c.SetConnected(true)
				c.SetTopic("wf-1")
			},
			want: []string{"wf-1"},
		},
		{
			name: "repeated connected is not an edge",
			steps: func(c *Controller) {
				c.SetTopic("wf-1")
				c.SetConnected(true)
				c.SetConnected(true)
			},
			want: []string{"wf-1"},
		},
		{
			name: "same topic again is not an edge",
			steps: func(c *Controller) {
				c.SetTopic("wf-1")
				c.SetConnected(true)
				c.SetTopic("wf-1")
			},
			want: []string{"wf-1"},
		},
		{
			name: "topic change while connected",
			steps: func(c *Controller) {
				c.SetTopic("wf-1")
				c.SetConnected(true)
				c.SetTopic("wf-2")
			},
			want: []string{"wf-1", "wf-2"},
		},
		{
			name: "clearing and restoring topic",
			steps: func(c *Controller) {
				c.SetTopic("wf-1")
				c.SetConnected(true)
				c.SetTopic("")
				c.SetTopic("wf-1")
			},
			want: []string{"wf-1", "wf-1"},
		},
		{
			name: "topic change while disconnected waits",
			steps: func(c *Controller) {
				c.SetTopic("wf-1")
				c.SetTopic("wf-2")
				c.SetConnected(true)
			},
			want: []string{"wf-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSender{}
			c := New(s, zerolog.Nop())
			tt.steps(c)
			assert.Equal(t, tt.want, s.topics())
		})
	}
}

func TestController_ObserveStateChanges(t *testing.T) {
	s := &fakeSender{}
	c := New(s, zerolog.Nop())
	c.SetTopic("wf-9")

	for _, sc := range []session.StateChange{
		{Old: session.Disconnected, New: session.Connecting},
		{Old: session.Connecting, New: session.Connected},
		{Old: session.Connected, New: session.Reconnecting, Attempt: 1},
		{Old: session.Reconnecting, New: session.Connecting, Attempt: 1},
		{Old: session.Connecting, New: session.Connected},
	} {
		c.Observe(sc)
	}

	assert.Equal(t, []string{"wf-9", "wf-9"}, s.topics())
}

func TestController_SendFailureIsLogged(t *testing.T) {
	s := &fakeSender{err: errors.New("not connected")}
	c := New(s, zerolog.Nop())
	c.SetTopic("wf-1")

	assert.NotPanics(t, func() { c.SetConnected(true) })
	assert.Empty(t, s.topics())
	assert.Equal(t, "wf-1", c.Topic())
}
