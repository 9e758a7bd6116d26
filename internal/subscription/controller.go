// Package subscription re-announces the watched workflow whenever the session
// becomes usable.
package subscription

import (
	"sync"
	"time"

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
	"github.com/UkemeSkywalker/Quanta/internal/session"
	"github.com/rs/zerolog"
)

// Sender writes a frame to the session. *session.Manager satisfies it.
type Sender interface {
	Send(v any) error
}

// Controller sends exactly one subscribe frame each time the pair
// (connected, topic) changes into connected with a non-empty topic. A
// reconnect is a new edge, so the server re-learns the subscription.
type Controller struct {
	sender Sender
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	connected bool
	topic     string
	active    bool
	sentTopic string
}

func New(sender Sender, logger zerolog.Logger) *Controller {
	return &Controller{
		sender: sender,
		log:    logger.With().Str("component", "subscription").Logger(),
		now:    time.Now,
	}
}

// SetConnected records the session's connectivity.
func (c *Controller) SetConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	topic, fire := c.evaluate()
	c.mu.Unlock()
	c.fire(topic, fire)
}

// SetTopic changes the watched workflow. An empty topic pauses subscribing.
func (c *Controller) SetTopic(topic string) {
	c.mu.Lock()
	c.topic = topic
	topic, fire := c.evaluate()
	c.mu.Unlock()
	c.fire(topic, fire)
}

// Topic returns the watched workflow id.
func (c *Controller) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

// Observe adapts manager state changes. Register it with
// session.Manager.OnStateChange.
func (c *Controller) Observe(sc session.StateChange) {
	c.SetConnected(sc.New == session.Connected)
}

// evaluate runs with mu held and reports whether a subscribe is due.
func (c *Controller) evaluate() (string, bool) {
	want := c.connected && c.topic != ""
	fire := want && (!c.active || c.topic != c.sentTopic)
	c.active = want
	if fire {
		c.sentTopic = c.topic
	}
	if !want {
		c.sentTopic = ""
	}
	return c.topic, fire
}

func (c *Controller) fire(topic string, ok bool) {
	if !ok {
		return
	}
	if err := c.sender.Send(protocol.Subscribe(topic, c.now())); err != nil {
		c.log.Warn().Err(err).Str("workflow_id", topic).Msg("subscribe not sent")
		return
	}
	c.log.Info().Str("workflow_id", topic).Msg("subscribed")
}
