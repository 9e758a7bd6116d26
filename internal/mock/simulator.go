// Package mock simulates research workflows so the backend has realistic
// status traffic to stream.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
)

// Agents run in this order for every workflow.
var Agents = []string{"Research", "Data", "Experiment", "Critic", "Visualization"}

var agentWork = map[string]string{
	"Research":      "discovering data sources",
	"Data":          "collecting and cleaning datasets",
	"Experiment":    "running statistical analysis",
	"Critic":        "reviewing methodology and findings",
	"Visualization": "rendering charts and the final report",
}

// Publisher receives every frame a workflow emits.
type Publisher interface {
	Publish(workflowID string, frame protocol.WorkflowUpdateFrame)
}

type run struct {
	id      string
	query   string
	userID  string
	status  protocol.WorkflowStatus
	percent float64
	agent   string
	message string
	started bool
	last    *protocol.WorkflowUpdateFrame
}

func (r *run) apply(f protocol.WorkflowUpdateFrame) {
	r.last = &f
	r.message = f.Message
	r.agent = ""
	if f.AgentName != nil {
		r.agent = *f.AgentName
	}
	if f.ProgressPercentage != nil {
		r.percent = *f.ProgressPercentage
	}
	switch f.Type {
	case protocol.MsgAgentStatus:
		r.status = protocol.WorkflowRunning
	case protocol.MsgWorkflowCompleted:
		r.status = protocol.WorkflowStatus(f.Status)
		if r.status == protocol.WorkflowCompleted {
			r.percent = 100
		}
	default:
		r.status = protocol.WorkflowStatus(f.Status)
	}
}

// Simulator owns every workflow run. Runs start on first subscription and
// advance one step per interval.
type Simulator struct {
	pub      Publisher
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	runs map[string]*run

	wg sync.WaitGroup
}

func NewSimulator(pub Publisher, interval time.Duration, logger zerolog.Logger) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{
		pub:      pub,
		interval: interval,
		log:      logger.With().Str("component", "simulator").Logger(),
		now:      time.Now,
		runs:     make(map[string]*run),
	}
}

// Create registers a pending workflow for q.
func (s *Simulator) Create(q protocol.ResearchQuery) protocol.WorkflowResponse {
	id := fmt.Sprintf("workflow_%s_%s", q.UserID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	s.mu.Lock()
	s.runs[id] = &run{
		id:      id,
		query:   q.Query,
		userID:  q.UserID,
		status:  protocol.WorkflowPending,
		message: "Waiting for a subscriber",
	}
	s.mu.Unlock()

	s.log.Info().Str("workflow_id", id).Str("user_id", q.UserID).Msg("workflow created")
	return protocol.WorkflowResponse{
		WorkflowID: id,
		Status:     "initiated",
		Message:    "Research workflow started for query: " + truncate(q.Query, 50) + "...",
	}
}

// Status reports a workflow's current state.
func (s *Simulator) Status(id string) (protocol.WorkflowStatusResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return protocol.WorkflowStatusResponse{}, false
	}
	return protocol.WorkflowStatusResponse{
		WorkflowID:         r.id,
		Status:             string(r.status),
		ProgressPercentage: r.percent,
		CurrentAgent:       strings.ToLower(r.agent),
		Message:            r.message,
	}, true
}

// Current returns the latest frame for a started workflow so late subscribers
// can catch up.
func (s *Simulator) Current(id string) (protocol.WorkflowUpdateFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok || r.last == nil {
		return protocol.WorkflowUpdateFrame{}, false
	}
	f := *r.last
	f.Timestamp = s.now().UnixMilli()
	return f, true
}

// IDs returns every known workflow id, sorted.
func (s *Simulator) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start begins streaming id. Unknown ids are created on the fly. Calling Start
// for a running or finished workflow does nothing.
func (s *Simulator) Start(ctx context.Context, id string) {
	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		r = &run{id: id, status: protocol.WorkflowPending}
		s.runs[id] = r
	}
	if r.started {
		s.mu.Unlock()
		return
	}
	r.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.stream(ctx, id)
	}()
}

// Wait blocks until every stream has returned.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

func (s *Simulator) stream(ctx context.Context, id string) {
	steps := Script(id)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i, f := range steps {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		f.Timestamp = s.now().UnixMilli()

		s.mu.Lock()
		s.runs[id].apply(f)
		s.mu.Unlock()

		s.pub.Publish(id, f)
	}
	s.log.Info().Str("workflow_id", id).Msg("workflow completed")
}

// Script returns the frames a workflow emits, in order: a start, a
// processing and a completed status per agent, then completion.
func Script(id string) []protocol.WorkflowUpdateFrame {
	step := 100.0 / float64(len(Agents))
	frames := []protocol.WorkflowUpdateFrame{{
		Type:               protocol.MsgWorkflowStarted,
		WorkflowID:         id,
		Status:             string(protocol.WorkflowRunning),
		Message:            "Research workflow started",
		ProgressPercentage: ptr(0.0),
	}}
	for i, agent := range Agents {
		frames = append(frames,
			protocol.WorkflowUpdateFrame{
				Type:               protocol.MsgAgentStatus,
				WorkflowID:         id,
				Status:             string(protocol.AgentProcessing),
				Message:            fmt.Sprintf("**%s** agent is %s...", agent, agentWork[agent]),
				ProgressPercentage: ptr(float64(i)*step + step/2),
				AgentName:          ptr(agent),
			},
			protocol.WorkflowUpdateFrame{
				Type:               protocol.MsgAgentStatus,
				WorkflowID:         id,
				Status:             string(protocol.AgentCompleted),
				Message:            fmt.Sprintf("**%s** agent finished", agent),
				ProgressPercentage: ptr(float64(i+1) * step),
				AgentName:          ptr(agent),
			},
		)
	}
	frames = append(frames, protocol.WorkflowUpdateFrame{
		Type:       protocol.MsgWorkflowCompleted,
		WorkflowID: id,
		Status:     string(protocol.WorkflowCompleted),
		Message:    "## Research complete\n\nAll five agents reported. The report is ready.",
	})
	return frames
}

func ptr[T any](v T) *T { return &v }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
