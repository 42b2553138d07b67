// Package assistant runs the end to end chat turn: tenant capability
// resolution, session handling, orchestration, escalation detection and
// persistence. It is the only package the HTTP surface talks to.
package assistant

import (
	"context"
	"errors"

	"github.com/atlaspay/concierge/pkg/agents"
	"github.com/atlaspay/concierge/pkg/conversation"
	"github.com/atlaspay/concierge/pkg/escalation"
	"github.com/atlaspay/concierge/pkg/packs"
)

// ErrSessionNotFound is returned for operations on unknown sessions.
var ErrSessionNotFound = errors.New("session not found")

// ChatRequest is one user turn.
type ChatRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"filiale_id"`
	Message  string `json:"message"`
	Channel  string `json:"channel"`
	Language string `json:"language,omitempty"`
}

// ChatResponse is the assistant's reply for one turn.
type ChatResponse struct {
	SessionID        string   `json:"conversation_id"`
	Response         string   `json:"response"`
	AgentUsed        string   `json:"agent_used"`
	Confidence       float64  `json:"confidence"`
	SuggestedActions []string `json:"suggested_actions"`
	EscalationNeeded bool     `json:"escalation_needed"`
}

// EscalateRequest asks for a handoff to a human agent.
type EscalateRequest struct {
	SessionID string `json:"conversation_id"`
	Reason    string `json:"reason"`
	Priority  string `json:"priority"`
}

// EscalateResponse reports the created handoff.
type EscalateResponse struct {
	EscalationID          string                     `json:"escalation_id"`
	AssignedAgent         string                     `json:"assigned_agent"`
	EstimatedResponseTime string                     `json:"estimated_response_time"`
	Status                string                     `json:"status"`
	Handoff               *escalation.HandoffContext `json:"handoff_context,omitempty"`
}

// ConversationStore is the slice of the conversation store the pipeline
// uses.
type ConversationStore interface {
	GetOrCreateSession(ctx context.Context, p conversation.SessionParams) (*conversation.Session, bool, error)
	GetSession(ctx context.Context, sessionID string) (*conversation.Session, error)
	AppendMessage(ctx context.Context, msg *conversation.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error)
	UpdateContext(ctx context.Context, sessionID string, patch map[string]any) error
	CreateEscalation(ctx context.Context, esc *conversation.Escalation) error
	DailyStats(ctx context.Context, tenantID string) (*conversation.DailyStats, error)
}

// Orchestrator executes one turn with tiered degradation and analyzes
// message sentiment for the escalation rules.
type Orchestrator interface {
	Run(ctx context.Context, inputs agents.Inputs, caps packs.Capabilities) *agents.Result
	AnalyzeSentiment(ctx context.Context, message string) agents.SentimentResult
}

// CapabilityResolver maps a tenant to its subscribed capabilities.
type CapabilityResolver interface {
	Resolve(tenantID, application string) packs.Capabilities
}

// AgentFinder places a handoff with a human agent.
type AgentFinder interface {
	FindBestAgent(ctx context.Context, req escalation.RouteRequest) (*escalation.HumanAgent, error)
}

// HandoffBuilder assembles the briefing attached to an escalation.
type HandoffBuilder interface {
	Build(ctx context.Context, sessionID string) (*escalation.HandoffContext, error)
}

// Recorder receives fire-and-forget operational metrics.
type Recorder interface {
	ConversationStarted(tenantID, application string)
	MessageProcessed(tenantID, mode string)
	EscalationCreated(tenantID, priority string)
	TokensUsed(tenantID string, tokens int)
	ErrorOccurred(component string)
	ObserveResponseTime(tenantID, mode string, seconds float64)
}

// nopRecorder keeps the pipeline free of nil checks when metrics are off.
type nopRecorder struct{}

func (nopRecorder) ConversationStarted(string, string)          {}
func (nopRecorder) MessageProcessed(string, string)             {}
func (nopRecorder) EscalationCreated(string, string)            {}
func (nopRecorder) TokensUsed(string, int)                      {}
func (nopRecorder) ErrorOccurred(string)                        {}
func (nopRecorder) ObserveResponseTime(string, string, float64) {}

var _ Recorder = nopRecorder{}

// estimatedResponseTime is what callers are told after an escalation is
// accepted.
const estimatedResponseTime = "< 30 secondes"
