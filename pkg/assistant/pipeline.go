package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlaspay/concierge/pkg/agents"
	"github.com/atlaspay/concierge/pkg/conversation"
	"github.com/atlaspay/concierge/pkg/escalation"
)

// Confidence reported per execution mode. Degraded tiers answer with less
// certainty and that is surfaced to the caller.
var modeConfidence = map[string]float64{
	agents.ModeCrew:     0.85,
	agents.ModeDirect:   0.75,
	agents.ModeMinimal:  0.6,
	agents.ModeFallback: 0.2,
}

// Pipeline runs chat turns and escalations for one application.
type Pipeline struct {
	application  string
	store        ConversationStore
	packs        CapabilityResolver
	orchestrator Orchestrator
	detector     *escalation.Detector
	finder       AgentFinder
	builder      HandoffBuilder
	metrics      Recorder

	now func() time.Time
}

// NewPipeline wires the pipeline. finder, builder and metrics may be nil;
// escalation then degrades to unassigned handoffs and metrics are dropped.
func NewPipeline(application string, store ConversationStore, resolver CapabilityResolver, orchestrator Orchestrator, detector *escalation.Detector, finder AgentFinder, builder HandoffBuilder, metrics Recorder) *Pipeline {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Pipeline{
		application:  application,
		store:        store,
		packs:        resolver,
		orchestrator: orchestrator,
		detector:     detector,
		finder:       finder,
		builder:      builder,
		metrics:      metrics,
		now:          time.Now,
	}
}

// Chat processes one user turn. An unknown or unsubscribed tenant is never
// refused; it runs on the default pack's capabilities. The returned error
// is non-nil only when persistence fails, so a degraded model never breaks
// the chat surface.
func (p *Pipeline) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := p.now()

	if req.Channel == "" {
		req.Channel = "mobile"
	}

	caps := p.packs.Resolve(req.TenantID, p.application)

	language := req.Language
	if language == "" {
		language = agents.DetectLanguage(req.Message)
	}

	session, created, err := p.store.GetOrCreateSession(ctx, conversation.SessionParams{
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		Application: p.application,
		Channel:     req.Channel,
		Language:    language,
		PackLevel:   caps.PackName,
		Metadata: map[string]any{
			"pack_name": caps.PackName,
			"features":  caps.Features,
		},
	})
	if err != nil {
		p.metrics.ErrorOccurred("conversation")
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if created {
		p.metrics.ConversationStarted(req.TenantID, p.application)
	}

	if err := p.store.AppendMessage(ctx, &conversation.Message{
		SessionID: session.ID,
		Role:      conversation.RoleUser,
		Content:   req.Message,
	}); err != nil {
		p.metrics.ErrorOccurred("conversation")
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	result := p.orchestrator.Run(ctx, agents.Inputs{
		Query:       req.Message,
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		Application: p.application,
	}, caps)

	failedAttempts := p.trackFailures(ctx, session, result.Mode)

	// Sentiment feeds the escalation rules. Trivial turns never touch the
	// model and a fallback turn means the model is down, so both skip the
	// extra call.
	var sentiment string
	switch result.Mode {
	case agents.ModeCrew, agents.ModeMinimal:
		analyzed := p.orchestrator.AnalyzeSentiment(ctx, req.Message)
		sentiment = analyzed.Sentiment
		if analyzed.Urgency == agents.UrgencyUrgent {
			sentiment = agents.SentimentUrgent
		}
	}

	decision := p.detector.Detect(escalation.Signal{
		UserMessage:    req.Message,
		FailedAttempts: failedAttempts,
		Sentiment:      sentiment,
		TechnicalError: result.Mode == agents.ModeFallback,
	})

	agentUsed := ""
	if len(result.AgentsUsed) > 0 {
		agentUsed = result.AgentsUsed[len(result.AgentsUsed)-1]
	}
	confidence := modeConfidence[result.Mode]
	elapsed := p.now().Sub(start)

	if err := p.store.AppendMessage(ctx, &conversation.Message{
		SessionID:      session.ID,
		Role:           conversation.RoleAssistant,
		Content:        result.Result,
		AgentUsed:      agentUsed,
		TokensConsumed: result.TokensUsed,
		Confidence:     confidence,
		ResponseTimeMs: int(elapsed.Milliseconds()),
		Metadata: map[string]any{
			"mode":        result.Mode,
			"agents_used": result.AgentsUsed,
		},
	}); err != nil {
		p.metrics.ErrorOccurred("conversation")
		return nil, fmt.Errorf("failed to persist reply: %w", err)
	}

	p.metrics.MessageProcessed(req.TenantID, result.Mode)
	p.metrics.TokensUsed(req.TenantID, result.TokensUsed)
	p.metrics.ObserveResponseTime(req.TenantID, result.Mode, elapsed.Seconds())

	slog.Info("Chat turn completed",
		"session_id", session.ID,
		"tenant_id", req.TenantID,
		"mode", result.Mode,
		"language", language,
		"escalation_needed", decision.ShouldEscalate,
		"duration_ms", elapsed.Milliseconds())

	return &ChatResponse{
		SessionID:        session.ID,
		Response:         result.Result,
		AgentUsed:        agentUsed,
		Confidence:       confidence,
		SuggestedActions: suggestedActions(result.Mode, decision.ShouldEscalate),
		EscalationNeeded: decision.ShouldEscalate,
	}, nil
}

// trackFailures maintains the per-session failed attempt counter: degraded
// turns increment it, a full crew turn resets it. The updated count feeds
// the detector for this same turn. Counter updates are best effort.
func (p *Pipeline) trackFailures(ctx context.Context, session *conversation.Session, mode string) int {
	count := asInt(session.Context["failed_attempts"])

	switch mode {
	case agents.ModeCrew, agents.ModeDirect:
		if count == 0 {
			return 0
		}
		count = 0
	default:
		count++
	}

	if err := p.store.UpdateContext(ctx, session.ID, map[string]any{"failed_attempts": count}); err != nil {
		slog.Warn("Failed to update failure counter",
			"session_id", session.ID, "error", err)
	}
	return count
}

// Escalate hands a session to a human agent. The handoff is created even
// when no agent is free; it stays unassigned for the next Reconcile pass.
func (p *Pipeline) Escalate(ctx context.Context, req EscalateRequest) (*EscalateResponse, error) {
	session, err := p.store.GetSession(ctx, req.SessionID)
	if err != nil {
		if err == conversation.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if req.Priority == "" {
		req.Priority = escalation.PriorityMedium
	}

	lastMessage := p.lastUserMessage(ctx, session.ID)

	var assignedID, assignedName string
	if p.finder != nil {
		agent, err := p.finder.FindBestAgent(ctx, escalation.RouteRequest{
			Reason:       req.Reason,
			UserMessage:  lastMessage,
			UserLanguage: agents.DetectLanguage(lastMessage),
			Priority:     req.Priority,
		})
		if err != nil {
			slog.Warn("Agent routing failed, creating unassigned escalation",
				"session_id", session.ID, "error", err)
		} else if agent != nil {
			assignedID = agent.ID
			assignedName = agent.Name
		}
	}

	var handoff *escalation.HandoffContext
	if p.builder != nil {
		handoff, err = p.builder.Build(ctx, session.ID)
		if err != nil {
			slog.Warn("Handoff context build failed",
				"session_id", session.ID, "error", err)
			handoff = nil
		}
	}

	esc := &conversation.Escalation{
		SessionID:  session.ID,
		Reason:     req.Reason,
		Priority:   req.Priority,
		AssignedTo: assignedID,
	}
	if handoff != nil {
		snapshot, err := handoffSnapshot(handoff)
		if err != nil {
			slog.Warn("Handoff snapshot failed",
				"session_id", session.ID, "error", err)
		} else {
			esc.Context = snapshot
		}
	}
	if err := p.store.CreateEscalation(ctx, esc); err != nil {
		p.metrics.ErrorOccurred("escalation")
		return nil, fmt.Errorf("failed to create escalation: %w", err)
	}

	p.metrics.EscalationCreated(session.TenantID, req.Priority)

	return &EscalateResponse{
		EscalationID:          esc.ID,
		AssignedAgent:         assignedName,
		EstimatedResponseTime: estimatedResponseTime,
		Status:                "escalated",
		Handoff:               handoff,
	}, nil
}

// History returns a session's messages, oldest first.
func (p *Pipeline) History(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	if _, err := p.store.GetSession(ctx, sessionID); err != nil {
		if err == conversation.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return p.store.History(ctx, sessionID, limit)
}

// DailyStats exposes the 24 hour aggregate for the metrics endpoint.
func (p *Pipeline) DailyStats(ctx context.Context, tenantID string) (*conversation.DailyStats, error) {
	return p.store.DailyStats(ctx, tenantID)
}

func (p *Pipeline) lastUserMessage(ctx context.Context, sessionID string) string {
	messages, err := p.store.History(ctx, sessionID, 0)
	if err != nil {
		return ""
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// handoffSnapshot freezes the handoff briefing as plain JSON data so the
// escalation row keeps the context as it was at handoff time.
func handoffSnapshot(h *escalation.HandoffContext) (map[string]any, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func suggestedActions(mode string, escalate bool) []string {
	var actions []string
	if escalate {
		actions = append(actions, "Parler à un conseiller")
	}
	if mode == agents.ModeFallback {
		actions = append(actions, "Réessayer dans quelques minutes")
	}
	return actions
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
