// Package conversation persists chat sessions, messages, agent actions and
// escalations in SQL, and serves a cached context view used by escalation
// handling and the assistant pipeline.
package conversation

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Session statuses.
const (
	StatusActive    = "active"
	StatusEscalated = "escalated"
	StatusClosed    = "closed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Escalation statuses.
const (
	EscalationPending    = "pending"
	EscalationInProgress = "in_progress"
	EscalationResolved   = "resolved"
	EscalationCancelled  = "cancelled"
)

// Session is one conversation thread. A user gets a fresh session once the
// previous one has been idle for the configured window. Metadata carries the
// pack snapshot taken at creation.
type Session struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	TenantID    string         `json:"tenant_id"`
	Application string         `json:"application"`
	PackLevel   string         `json:"pack_level"`
	Channel     string         `json:"channel"`
	Language    string         `json:"language,omitempty"`
	Status      string         `json:"status"`
	Context     map[string]any `json:"context,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
}

// SessionParams identifies and seeds the session a turn belongs to.
type SessionParams struct {
	UserID      string
	TenantID    string
	Application string
	Channel     string
	Language    string
	PackLevel   string
	Metadata    map[string]any
}

// Message is a single turn in a session.
type Message struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	AgentUsed      string         `json:"agent_used,omitempty"`
	ToolsUsed      []string       `json:"tools_used,omitempty"`
	TokensConsumed int            `json:"tokens_consumed,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
	ResponseTimeMs int            `json:"response_time_ms,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// AgentAction records one tool or agent execution inside a session. Failed
// actions drive the escalation failure counter.
type AgentAction struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	AgentName       string    `json:"agent_name"`
	ActionType      string    `json:"action_type"`
	ActionData      string    `json:"action_data,omitempty"`
	Success         bool      `json:"success"`
	ExecutionTimeMs int       `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

// Escalation is a handoff request to a human agent. Context is the snapshot
// taken at handoff time.
type Escalation struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Reason          string         `json:"reason"`
	Type            string         `json:"type"`
	Priority        string         `json:"priority"`
	AssignedTo      string         `json:"assigned_to,omitempty"`
	Status          string         `json:"status"`
	Context         map[string]any `json:"context,omitempty"`
	EscalatedAt     time.Time      `json:"escalated_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
}

// Context is the full view of a session used when building escalation
// handoffs: the session row, its history, the agent action trail and any
// escalations still open (pending or in progress).
type Context struct {
	Session         Session       `json:"session"`
	Messages        []Message     `json:"messages"`
	AgentActions    []AgentAction `json:"agent_actions"`
	Escalations     []Escalation  `json:"active_escalations,omitempty"`
	TotalMessages   int           `json:"total_messages"`
	DurationMinutes float64       `json:"duration_minutes"`
	FailedActions   int           `json:"failed_actions"`
}

// UserStats summarizes a user's recent sessions.
type UserStats struct {
	TotalSessions     int       `json:"total_sessions"`
	EscalatedSessions int       `json:"escalated_sessions"`
	LastSessionAt     time.Time `json:"last_session_at,omitempty"`
}

// DailyStats aggregates the last 24 hours for one tenant.
type DailyStats struct {
	Since             time.Time `json:"since"`
	Conversations     int       `json:"conversations"`
	Messages          int       `json:"messages"`
	ActiveSessions    int       `json:"active_sessions"`
	EscalatedSessions int       `json:"escalated_sessions"`
	EscalationRate    float64   `json:"escalation_rate"`
	TokensConsumed    int       `json:"tokens_consumed"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
}

// Stats aggregates a session for the metrics endpoint.
type Stats struct {
	TotalMessages     int            `json:"total_messages"`
	MessagesByRole    map[string]int `json:"messages_by_role"`
	TotalTokens       int            `json:"total_tokens"`
	AvgTokens         float64        `json:"avg_tokens"`
	AvgConfidence     float64        `json:"avg_confidence"`
	AvgResponseTimeMs float64        `json:"avg_response_time_ms"`
	DurationMinutes   float64        `json:"duration_minutes"`
}
