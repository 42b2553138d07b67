package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atlaspay/concierge/pkg/conversation"
	"github.com/atlaspay/concierge/pkg/packs"
)

const (
	contextVersion  = "1.0"
	maxActions      = 10
	issueMaxChars   = 200
	frequentUserMin = 5
)

// ContextSource supplies the conversation data the builder needs.
type ContextSource interface {
	Context(ctx context.Context, sessionID string) (*conversation.Context, error)
	UserStats(ctx context.Context, userID, tenantID string, since time.Time) (*conversation.UserStats, error)
}

// CapabilityResolver supplies the tenant's subscription view.
type CapabilityResolver interface {
	Resolve(tenantID, application string) packs.Capabilities
}

// HandoffContext is the briefing a human agent receives with an escalation.
type HandoffContext struct {
	ConversationSummary ConversationSummary `json:"conversation_summary"`
	UserProfile         UserProfile         `json:"user_profile"`
	TechnicalContext    TechnicalContext    `json:"technical_context"`
	BusinessContext     BusinessContext     `json:"business_context"`
	RecommendedActions  []string            `json:"recommended_actions"`
	Metadata            HandoffMetadata     `json:"escalation_metadata"`
}

type ConversationSummary struct {
	MainIssue         string    `json:"main_issue"`
	LatestMessage     string    `json:"latest_message"`
	TotalMessages     int       `json:"total_messages"`
	UserMessages      int       `json:"user_messages_count"`
	AssistantMessages int       `json:"assistant_messages_count"`
	Duration          string    `json:"conversation_duration"`
	Channel           string    `json:"channel"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivity      time.Time `json:"last_activity"`
}

type UserProfile struct {
	UserID            string    `json:"user_id"`
	TenantID          string    `json:"tenant_id"`
	PackLevel         string    `json:"pack_level"`
	TotalSessions     int       `json:"total_conversations"`
	EscalatedSessions int       `json:"escalated_conversations"`
	IsFrequentUser    bool      `json:"is_frequent_user"`
	LastSessionAt     time.Time `json:"last_conversation,omitempty"`
}

type TechnicalContext struct {
	AgentsInvolved    []string                  `json:"agents_involved"`
	TotalAgentActions int                       `json:"total_agent_actions"`
	FailedActions     int                       `json:"failed_actions"`
	FailedAttempts    int                       `json:"failed_attempts"`
	AvgResponseTimeMs float64                   `json:"average_response_time_ms"`
	ErrorDetails      []string                  `json:"error_details,omitempty"`
	LastSuccessful    *conversation.AgentAction `json:"last_successful_action,omitempty"`
}

type BusinessContext struct {
	TenantID          string   `json:"tenant_id"`
	PackSubscribed    string   `json:"pack_subscribed"`
	AvailableFeatures []string `json:"available_features"`
	AutomationLevel   int      `json:"automation_level"`
	AvailableChannels []string `json:"available_channels"`
	BusinessHours     string   `json:"business_hours"`
	EscalationSLA     string   `json:"escalation_sla"`
}

type HandoffMetadata struct {
	EscalationTimestamp     time.Time `json:"escalation_timestamp"`
	ContextVersion          string    `json:"context_version"`
	PriorityScore           int       `json:"priority_score"`
	ComplexityScore         int       `json:"complexity_score"`
	EstimatedResolutionTime string    `json:"estimated_resolution_time"`
}

// Builder assembles handoff contexts from the conversation trail and the
// tenant's subscription.
type Builder struct {
	source ContextSource
	packs  CapabilityResolver
	now    func() time.Time
}

func NewBuilder(source ContextSource, resolver CapabilityResolver) *Builder {
	return &Builder{source: source, packs: resolver, now: time.Now}
}

// Build assembles the full handoff for one session.
func (b *Builder) Build(ctx context.Context, sessionID string) (*HandoffContext, error) {
	view, err := b.source.Context(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session context: %w", err)
	}

	session := view.Session
	summary := buildSummary(view)
	technical := buildTechnical(view)
	profile := b.buildProfile(ctx, view)
	business := b.buildBusiness(session.TenantID, session.Application)

	priority := priorityScore(technical.FailedAttempts, view.TotalMessages)
	complexity := complexityScore(len(technical.AgentsInvolved), technical.FailedActions)

	handoff := &HandoffContext{
		ConversationSummary: summary,
		UserProfile:         profile,
		TechnicalContext:    technical,
		BusinessContext:     business,
		RecommendedActions:  recommendActions(summary, technical),
		Metadata: HandoffMetadata{
			EscalationTimestamp:     b.now().UTC(),
			ContextVersion:          contextVersion,
			PriorityScore:           priority,
			ComplexityScore:         complexity,
			EstimatedResolutionTime: estimateResolution(priority, complexity),
		},
	}

	slog.Info("Escalation context prepared",
		"session_id", sessionID,
		"priority_score", priority,
		"complexity_score", complexity)

	return handoff, nil
}

func buildSummary(view *conversation.Context) ConversationSummary {
	var userMsgs, assistantMsgs []conversation.Message
	for _, msg := range view.Messages {
		switch msg.Role {
		case conversation.RoleUser:
			userMsgs = append(userMsgs, msg)
		case conversation.RoleAssistant:
			assistantMsgs = append(assistantMsgs, msg)
		}
	}

	var mainIssue, latest string
	if len(userMsgs) > 0 {
		mainIssue = truncateIssue(userMsgs[0].Content)
		latest = truncateIssue(userMsgs[len(userMsgs)-1].Content)
	}

	duration := "Inconnue"
	if len(view.Messages) > 0 {
		first := view.Messages[0].Timestamp
		last := view.Messages[len(view.Messages)-1].Timestamp
		duration = formatDuration(last.Sub(first))
	}

	return ConversationSummary{
		MainIssue:         mainIssue,
		LatestMessage:     latest,
		TotalMessages:     view.TotalMessages,
		UserMessages:      len(userMsgs),
		AssistantMessages: len(assistantMsgs),
		Duration:          duration,
		Channel:           view.Session.Channel,
		CreatedAt:         view.Session.CreatedAt,
		LastActivity:      view.Session.UpdatedAt,
	}
}

func buildTechnical(view *conversation.Context) TechnicalContext {
	seen := make(map[string]bool)
	var agents, errorDetails []string
	var responseSum float64
	var lastSuccess *conversation.AgentAction

	for i := range view.AgentActions {
		action := view.AgentActions[i]
		if !seen[action.AgentName] {
			seen[action.AgentName] = true
			agents = append(agents, action.AgentName)
		}
		responseSum += float64(action.ExecutionTimeMs)
		if action.Success {
			lastSuccess = &view.AgentActions[i]
		} else {
			detail := action.AgentName + "/" + action.ActionType
			if action.ActionData != "" {
				detail += ": " + truncateIssue(action.ActionData)
			}
			errorDetails = append(errorDetails, detail)
		}
	}

	var avgResponse float64
	if len(view.AgentActions) > 0 {
		avgResponse = responseSum / float64(len(view.AgentActions))
	}

	// The pipeline's turn counter can run ahead of the recorded action
	// trail; the handoff reports whichever is worse.
	failedAttempts := view.FailedActions
	if v, ok := view.Session.Context["failed_attempts"]; ok {
		if n, ok := asInt(v); ok && n > failedAttempts {
			failedAttempts = n
		}
	}

	return TechnicalContext{
		AgentsInvolved:    agents,
		TotalAgentActions: len(view.AgentActions),
		FailedActions:     view.FailedActions,
		FailedAttempts:    failedAttempts,
		AvgResponseTimeMs: avgResponse,
		ErrorDetails:      errorDetails,
		LastSuccessful:    lastSuccess,
	}
}

func (b *Builder) buildProfile(ctx context.Context, view *conversation.Context) UserProfile {
	session := view.Session
	profile := UserProfile{
		UserID:    session.UserID,
		TenantID:  session.TenantID,
		PackLevel: session.PackLevel,
	}

	since := b.now().UTC().Add(-30 * 24 * time.Hour)
	stats, err := b.source.UserStats(ctx, session.UserID, session.TenantID, since)
	if err != nil {
		slog.Warn("Failed to load user stats for handoff", "user_id", session.UserID, "error", err)
		return profile
	}

	profile.TotalSessions = stats.TotalSessions
	profile.EscalatedSessions = stats.EscalatedSessions
	profile.IsFrequentUser = stats.TotalSessions > frequentUserMin
	profile.LastSessionAt = stats.LastSessionAt
	return profile
}

func (b *Builder) buildBusiness(tenantID, application string) BusinessContext {
	caps := b.packs.Resolve(tenantID, application)

	return BusinessContext{
		TenantID:          tenantID,
		PackSubscribed:    caps.PackName,
		AvailableFeatures: caps.Features,
		AutomationLevel:   caps.AutomationLevel,
		AvailableChannels: caps.Channels,
		BusinessHours:     businessHours(tenantID),
		EscalationSLA:     escalationSLA(caps.PackName),
	}
}

// recommendActions suggests next steps for the human agent, capped at ten.
func recommendActions(summary ConversationSummary, technical TechnicalContext) []string {
	var actions []string

	if technical.FailedAttempts > 2 {
		actions = append(actions,
			"Vérifier les autorisations du compte utilisateur",
			"Valider les paramètres de la transaction")
	}

	if technical.FailedActions > 0 {
		actions = append(actions,
			"Examiner les erreurs techniques détectées",
			"Vérifier la connectivité aux systèmes backend")
	}

	mainIssue := strings.ToLower(summary.MainIssue)
	switch {
	case strings.Contains(mainIssue, "transfert"):
		actions = append(actions,
			"Vérifier le statut du transfert dans le système",
			"Confirmer les détails du bénéficiaire")
	case strings.Contains(mainIssue, "solde"):
		actions = append(actions,
			"Consulter le solde en temps réel",
			"Vérifier les dernières transactions")
	case strings.Contains(mainIssue, "réclamation") || strings.Contains(mainIssue, "problème"):
		actions = append(actions,
			"Créer un ticket de réclamation formelle",
			"Escalader vers le service qualité si nécessaire")
	}

	actions = append(actions,
		"Confirmer l'identité du client",
		"Expliquer les prochaines étapes clairement",
		"Fournir un délai de résolution réaliste")

	if len(actions) > maxActions {
		actions = actions[:maxActions]
	}
	return actions
}

// priorityScore rates urgency on a 1-10 scale from the failure count and
// conversation length.
func priorityScore(failedAttempts, totalMessages int) int {
	score := 5 + minInt(failedAttempts, 3)
	if totalMessages > 10 {
		score += 2
	}
	return minInt(score, 10)
}

// complexityScore rates difficulty on a 1-10 scale from how many agents got
// involved and how many actions failed.
func complexityScore(agentsUsed, failedActions int) int {
	score := 5 + minInt(agentsUsed-1, 3) + minInt(failedActions, 2)
	return minInt(score, 10)
}

func estimateResolution(priority, complexity int) string {
	switch {
	case priority >= 8 || complexity >= 8:
		return "30-60 minutes"
	case priority >= 6 || complexity >= 6:
		return "1-2 heures"
	default:
		return "15-30 minutes"
	}
}

func businessHours(tenantID string) string {
	hours := map[string]string{
		"atlas_ci": "8h00 - 17h00 (GMT)",
		"atlas_bf": "8h00 - 17h00 (GMT)",
		"atlas_ml": "8h00 - 17h00 (GMT)",
		"atlas_sn": "8h00 - 17h00 (GMT)",
	}
	if h, ok := hours[tenantID]; ok {
		return h
	}
	return "8h00 - 17h00 (GMT)"
}

func escalationSLA(packName string) string {
	sla := map[string]string{
		"basic":    "2 heures",
		"advanced": "1 heure",
		"premium":  "30 minutes",
	}
	if s, ok := sla[packName]; ok {
		return s
	}
	return "2 heures"
}

func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	switch {
	case minutes < 1:
		return "< 1 minute"
	case minutes < 60:
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	}
}

// truncateIssue caps an excerpt, cutting on a rune boundary so accented
// text never splits mid-sequence.
func truncateIssue(s string) string {
	if len(s) <= issueMaxChars {
		return s
	}
	cut := issueMaxChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
