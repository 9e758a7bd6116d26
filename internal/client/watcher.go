package client

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/UkemeSkywalker/Quanta/internal/dispatch"
	"github.com/UkemeSkywalker/Quanta/internal/session"
	"github.com/UkemeSkywalker/Quanta/internal/subscription"
	"github.com/UkemeSkywalker/Quanta/internal/workflow"
)

const eventBuffer = 256

// --- Bubble Tea messages ---

// StateMsg is sent on every connection state change.
type StateMsg struct{ Change session.StateChange }

// EnvelopeMsg delivers one decoded inbound frame.
type EnvelopeMsg struct{ Envelope dispatch.Envelope }

// SnapshotMsg is sent when the workflow snapshot changes.
type SnapshotMsg struct{ Snapshot workflow.Snapshot }

// ClosedMsg is sent once the watcher has shut down.
type ClosedMsg struct{}

type WatcherOptions struct {
	Session session.Options
	// Topic is the workflow to subscribe to. Empty waits for SetTopic.
	Topic string
	// LogCapacity bounds the message log; zero keeps everything.
	LogCapacity int
	Logger      zerolog.Logger
}

// Watcher wires a session manager to the dispatcher, the subscription
// controller and the workflow aggregator, and bridges their events to Bubble
// Tea.
type Watcher struct {
	Manager      *session.Manager
	Dispatcher   *dispatch.Dispatcher
	Subscription *subscription.Controller
	Workflow     *workflow.Aggregator

	log    zerolog.Logger
	events chan tea.Msg

	// State changes are queued without a bound so none is ever dropped;
	// stateReady holds at most one pending wake-up.
	stateMu    sync.Mutex
	states     []session.StateChange
	stateReady chan struct{}
}

func NewWatcher(opts WatcherOptions) *Watcher {
	opts.Session.Logger = opts.Logger
	m := session.NewManager(opts.Session)
	w := &Watcher{
		Manager:      m,
		Dispatcher:   dispatch.New(opts.Logger, dispatch.WithCapacity(opts.LogCapacity)),
		Subscription: subscription.New(m, opts.Logger),
		Workflow:     workflow.NewAggregator(opts.Logger),
		log:          opts.Logger.With().Str("component", "watcher").Logger(),
		events:       make(chan tea.Msg, eventBuffer),
		stateReady:   make(chan struct{}, 1),
	}

	m.OnMessage(w.Dispatcher.Handle)
	m.OnStateChange(w.Subscription.Observe)
	w.Dispatcher.Subscribe(w.Workflow.Observe)

	m.OnStateChange(w.queueState)
	w.Dispatcher.Subscribe(func(e dispatch.Envelope) { w.emit(EnvelopeMsg{Envelope: e}) })
	w.Workflow.Subscribe(func(s workflow.Snapshot) { w.emit(SnapshotMsg{Snapshot: s}) })

	w.Subscription.SetTopic(opts.Topic)
	return w
}

// Start dials the configured endpoint.
func (w *Watcher) Start() {
	w.Manager.Connect("")
}

// Watch changes the subscribed workflow.
func (w *Watcher) Watch(workflowID string) {
	w.Subscription.SetTopic(workflowID)
}

// Reconnect resets the retry budget and dials again.
func (w *Watcher) Reconnect() {
	w.Manager.Reconnect()
}

// Close shuts the session down.
func (w *Watcher) Close() {
	w.Manager.Shutdown()
}

// Listen returns a Bubble Tea command that waits for the next event. Re-issue
// it after every message it delivers. Pending state changes are delivered
// first, in order.
func (w *Watcher) Listen() tea.Cmd {
	return func() tea.Msg {
		for {
			if sc, ok := w.nextState(); ok {
				return StateMsg{Change: sc}
			}
			select {
			case <-w.stateReady:
			case msg := <-w.events:
				return msg
			case <-w.Manager.Done():
				if sc, ok := w.nextState(); ok {
					return StateMsg{Change: sc}
				}
				return ClosedMsg{}
			}
		}
	}
}

func (w *Watcher) queueState(sc session.StateChange) {
	w.stateMu.Lock()
	w.states = append(w.states, sc)
	w.stateMu.Unlock()
	select {
	case w.stateReady <- struct{}{}:
	default:
	}
}

func (w *Watcher) nextState() (session.StateChange, bool) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if len(w.states) == 0 {
		return session.StateChange{}, false
	}
	sc := w.states[0]
	w.states = w.states[1:]
	return sc, true
}

// emit never blocks the session loop. Only envelope and snapshot wake-ups go
// through it; the components keep the data, so a drop delays a redraw.
func (w *Watcher) emit(msg tea.Msg) {
	select {
	case w.events <- msg:
	default:
		w.log.Debug().Msgf("event buffer full, dropped %T", msg)
	}
}
