// Package protocol defines the wire format shared by the Quanta backend and its
// clients: socket message types, control frames, close codes and the REST
// request/response bodies.
package protocol

import "time"

// MessageType identifies the kind of socket message.
type MessageType string

const (
	// Client → server.
	MsgPing      MessageType = "ping"
	MsgSubscribe MessageType = "subscribe"

	// Server → client.
	MsgConnection            MessageType = "connection"
	MsgPong                  MessageType = "pong"
	MsgSubscriptionConfirmed MessageType = "subscription_confirmed"
	MsgWorkflowStarted       MessageType = "workflow_started"
	MsgWorkflowCompleted     MessageType = "workflow_completed"
	MsgAgentStatus           MessageType = "agent_status"

	// MsgText is assigned to inbound frames that are not JSON objects.
	MsgText MessageType = "text"
)

// IsWorkflowUpdate reports whether t carries workflow status fields.
func IsWorkflowUpdate(t MessageType) bool {
	switch t {
	case MsgWorkflowStarted, MsgWorkflowCompleted, MsgAgentStatus:
		return true
	}
	return false
}

// Close codes (RFC 6455 §7.4.1).
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// Frame is the minimal shape every JSON frame shares.
type Frame struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// SubscribeFrame asks the server to stream updates for a workflow.
type SubscribeFrame struct {
	Type       MessageType `json:"type"`
	WorkflowID string      `json:"workflow_id"`
	Timestamp  int64       `json:"timestamp"`
}

// ConnectionFrame is sent by the server right after the socket opens.
type ConnectionFrame struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"client_id"`
	Message   string      `json:"message"`
	Timestamp int64       `json:"timestamp"`
}

// SubscriptionConfirmedFrame acknowledges a subscribe frame.
type SubscriptionConfirmedFrame struct {
	Type       MessageType `json:"type"`
	WorkflowID string      `json:"workflow_id"`
	Message    string      `json:"message"`
	Timestamp  int64       `json:"timestamp"`
}

// WorkflowUpdateFrame carries a workflow status change.
type WorkflowUpdateFrame struct {
	Type               MessageType `json:"type"`
	WorkflowID         string      `json:"workflow_id"`
	Status             string      `json:"status"`
	Message            string      `json:"message"`
	ProgressPercentage *float64    `json:"progress_percentage,omitempty"`
	AgentName          *string     `json:"agent_name,omitempty"`
	Timestamp          int64       `json:"timestamp"`
}

// Ping builds a heartbeat frame.
func Ping(now time.Time) Frame {
	return Frame{Type: MsgPing, Timestamp: now.UnixMilli()}
}

// Pong builds a heartbeat reply.
func Pong(now time.Time) Frame {
	return Frame{Type: MsgPong, Timestamp: now.UnixMilli()}
}

// Subscribe builds a subscribe frame for workflowID.
func Subscribe(workflowID string, now time.Time) SubscribeFrame {
	return SubscribeFrame{Type: MsgSubscribe, WorkflowID: workflowID, Timestamp: now.UnixMilli()}
}

// WorkflowStatus mirrors the backend's workflow lifecycle.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowPaused    WorkflowStatus = "paused"
)

// AgentStatus is the per-agent state reported in agent_status frames.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentProcessing AgentStatus = "processing"
	AgentCompleted  AgentStatus = "completed"
	AgentError      AgentStatus = "error"
)

// --- HTTP types ---

// ResearchQuery is the body of POST /api/research/submit.
type ResearchQuery struct {
	Query    string         `json:"query" validate:"required,min=10,max=2000"`
	UserID   string         `json:"user_id" validate:"required"`
	Priority int            `json:"priority" validate:"min=1,max=5"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WorkflowResponse is returned when a query is accepted.
type WorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// WorkflowStatusResponse is returned by GET /api/workflow/{id}/status.
type WorkflowStatusResponse struct {
	WorkflowID         string  `json:"workflow_id"`
	Status             string  `json:"status"`
	ProgressPercentage float64 `json:"progress_percentage"`
	CurrentAgent       string  `json:"current_agent"`
	Message            string  `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string       `json:"status"`
	Service string       `json:"service"`
	Process *ProcessInfo `json:"process,omitempty"`
}

// ProcessInfo describes the serving process.
type ProcessInfo struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	UptimeSec  float64 `json:"uptime_sec"`
}

// InfoResponse is returned by GET /api/info.
type InfoResponse struct {
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Endpoints   map[string]string `json:"endpoints"`
	Agents      []string          `json:"agents"`
}

// SocketStatusResponse is returned by GET /api/websocket/status.
type SocketStatusResponse struct {
	ActiveConnections int      `json:"active_connections"`
	Clients           []string `json:"clients"`
}

// FieldError describes one rejected field in a 422 response.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationErrorResponse is the body of a 422 response.
type ValidationErrorResponse struct {
	Detail []FieldError `json:"detail"`
}
