package assistant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspay/concierge/pkg/agents"
	"github.com/atlaspay/concierge/pkg/config"
	"github.com/atlaspay/concierge/pkg/conversation"
	"github.com/atlaspay/concierge/pkg/escalation"
	"github.com/atlaspay/concierge/pkg/packs"
)

type fakeStore struct {
	sessions    map[string]*conversation.Session
	messages    map[string][]conversation.Message
	escalations []conversation.Escalation
	appendErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*conversation.Session{},
		messages: map[string][]conversation.Message{},
	}
}

func (f *fakeStore) GetOrCreateSession(_ context.Context, p conversation.SessionParams) (*conversation.Session, bool, error) {
	for _, s := range f.sessions {
		if s.UserID == p.UserID && s.TenantID == p.TenantID && s.Status == conversation.StatusActive {
			return s, false, nil
		}
	}
	s := &conversation.Session{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		TenantID:    p.TenantID,
		Application: p.Application,
		PackLevel:   p.PackLevel,
		Channel:     p.Channel,
		Language:    p.Language,
		Status:      conversation.StatusActive,
		Context:     map[string]any{},
		Metadata:    p.Metadata,
	}
	f.sessions[s.ID] = s
	return s, true, nil
}

func (f *fakeStore) GetSession(_ context.Context, sessionID string) (*conversation.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, msg *conversation.Message) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	f.messages[msg.SessionID] = append(f.messages[msg.SessionID], *msg)
	return nil
}

func (f *fakeStore) History(_ context.Context, sessionID string, _ int) ([]conversation.Message, error) {
	return f.messages[sessionID], nil
}

func (f *fakeStore) UpdateContext(_ context.Context, sessionID string, patch map[string]any) error {
	s, ok := f.sessions[sessionID]
	if !ok {
		return conversation.ErrNotFound
	}
	for k, v := range patch {
		s.Context[k] = v
	}
	return nil
}

func (f *fakeStore) CreateEscalation(_ context.Context, esc *conversation.Escalation) error {
	if esc.ID == "" {
		esc.ID = uuid.NewString()
	}
	f.escalations = append(f.escalations, *esc)
	f.sessions[esc.SessionID].Status = conversation.StatusEscalated
	return nil
}

func (f *fakeStore) DailyStats(_ context.Context, _ string) (*conversation.DailyStats, error) {
	return &conversation.DailyStats{Conversations: len(f.sessions)}, nil
}

type fakeOrchestrator struct {
	results        []*agents.Result
	calls          int
	sentiment      agents.SentimentResult
	sentimentCalls int
}

func (f *fakeOrchestrator) Run(_ context.Context, _ agents.Inputs, _ packs.Capabilities) *agents.Result {
	result := f.results[f.calls%len(f.results)]
	f.calls++
	return result
}

func (f *fakeOrchestrator) AnalyzeSentiment(_ context.Context, _ string) agents.SentimentResult {
	f.sentimentCalls++
	if f.sentiment.Sentiment == "" {
		return agents.SentimentResult{Sentiment: agents.SentimentNeutral, Urgency: agents.UrgencyNormal}
	}
	return f.sentiment
}

type fakeResolver struct{ caps packs.Capabilities }

func (f fakeResolver) Resolve(_, _ string) packs.Capabilities { return f.caps }

type fakeFinder struct {
	agent *escalation.HumanAgent
	req   escalation.RouteRequest
}

func (f *fakeFinder) FindBestAgent(_ context.Context, req escalation.RouteRequest) (*escalation.HumanAgent, error) {
	f.req = req
	return f.agent, nil
}

func crewResult(text string) *agents.Result {
	return &agents.Result{
		Success:       true,
		Result:        text,
		AgentsUsed:    []string{"customer_service", "banking_assistant"},
		TasksExecuted: 2,
		TokensUsed:    80,
		Mode:          agents.ModeCrew,
	}
}

func fallbackResult() *agents.Result {
	return &agents.Result{
		Success:    true,
		Result:     "Je rencontre actuellement des difficultés techniques.",
		AgentsUsed: []string{"fallback_assistant"},
		Mode:       agents.ModeFallback,
	}
}

func newTestPipeline(store *fakeStore, orch Orchestrator, finder AgentFinder) *Pipeline {
	detector := escalation.NewDetector(config.EscalationRulesConfig{})
	return NewPipeline("atlas_money", store, fakeResolver{caps: packs.Capabilities{PackName: "premium"}}, orch, detector, finder, nil, nil)
}

func TestChatPersistsBothTurns(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, &fakeOrchestrator{results: []*agents.Result{crewResult("Votre solde est de 15000 XOF.")}}, nil)

	resp, err := p.Chat(context.Background(), ChatRequest{
		UserID:   "u-1",
		TenantID: "atlas_ci",
		Message:  "Quel est mon solde actuel ?",
	})
	require.NoError(t, err)

	assert.Equal(t, "Votre solde est de 15000 XOF.", resp.Response)
	assert.Equal(t, "banking_assistant", resp.AgentUsed)
	assert.Equal(t, 0.85, resp.Confidence)
	assert.False(t, resp.EscalationNeeded)
	assert.Empty(t, resp.SuggestedActions)

	messages := store.messages[resp.SessionID]
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, messages[1].Role)
	assert.Equal(t, 80, messages[1].TokensConsumed)
	assert.Equal(t, "banking_assistant", messages[1].AgentUsed)

	// The reply records how it was produced.
	assert.Equal(t, agents.ModeCrew, messages[1].Metadata["mode"])

	session := store.sessions[resp.SessionID]
	assert.Equal(t, "premium", session.PackLevel)
	assert.Equal(t, "mobile", session.Channel)
	assert.Equal(t, "fr", session.Language)
	assert.Equal(t, "premium", session.Metadata["pack_name"])
}

func TestChatAnalyzesSentimentForEscalation(t *testing.T) {
	store := newFakeStore()
	orch := &fakeOrchestrator{
		results:   []*agents.Result{crewResult("Je comprends votre frustration.")},
		sentiment: agents.SentimentResult{Sentiment: agents.SentimentNegative, Urgency: agents.UrgencyNormal},
	}
	p := newTestPipeline(store, orch, nil)

	resp, err := p.Chat(context.Background(), ChatRequest{
		UserID:   "u-1",
		TenantID: "atlas_ci",
		Message:  "C'est inadmissible, rien ne fonctionne dans cette application",
	})
	require.NoError(t, err)
	assert.True(t, resp.EscalationNeeded)
	assert.Equal(t, 1, orch.sentimentCalls)
}

func TestChatSkipsSentimentWhenModelIsDown(t *testing.T) {
	store := newFakeStore()
	orch := &fakeOrchestrator{results: []*agents.Result{fallbackResult()}}
	p := newTestPipeline(store, orch, nil)

	_, err := p.Chat(context.Background(), ChatRequest{
		UserID:   "u-1",
		TenantID: "atlas_ci",
		Message:  "Quel est mon solde actuel ?",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, orch.sentimentCalls)
}

func TestChatTracksFailuresAcrossDegradedTurns(t *testing.T) {
	store := newFakeStore()
	orch := &fakeOrchestrator{results: []*agents.Result{fallbackResult()}}
	p := newTestPipeline(store, orch, nil)

	var resp *ChatResponse
	var err error
	for i := 0; i < 3; i++ {
		resp, err = p.Chat(context.Background(), ChatRequest{
			UserID:   "u-1",
			TenantID: "atlas_ci",
			Message:  "Quel est mon solde actuel ?",
		})
		require.NoError(t, err)
		// A fallback turn is a technical error, flagged immediately.
		assert.True(t, resp.EscalationNeeded)
	}

	assert.Equal(t, 0.2, resp.Confidence)
	assert.Contains(t, resp.SuggestedActions, "Parler à un conseiller")
	assert.Contains(t, resp.SuggestedActions, "Réessayer dans quelques minutes")
	assert.Equal(t, 3, store.sessions[resp.SessionID].Context["failed_attempts"])

	// A healthy crew turn resets the counter.
	orch.results = []*agents.Result{crewResult("Voici votre solde.")}
	resp, err = p.Chat(context.Background(), ChatRequest{
		UserID:   "u-1",
		TenantID: "atlas_ci",
		Message:  "Quel est mon solde actuel ?",
	})
	require.NoError(t, err)
	assert.False(t, resp.EscalationNeeded)
	assert.Equal(t, 0, store.sessions[resp.SessionID].Context["failed_attempts"])
}

func TestChatDetectsExplicitHumanRequest(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, &fakeOrchestrator{results: []*agents.Result{crewResult("Bien sûr.")}}, nil)

	resp, err := p.Chat(context.Background(), ChatRequest{
		UserID:   "u-1",
		TenantID: "atlas_ci",
		Message:  "Je veux parler à un conseiller maintenant",
	})
	require.NoError(t, err)
	assert.True(t, resp.EscalationNeeded)
}

func TestChatFailsOnlyOnPersistence(t *testing.T) {
	store := newFakeStore()
	store.appendErr = assert.AnError
	p := newTestPipeline(store, &fakeOrchestrator{results: []*agents.Result{crewResult("ok")}}, nil)

	_, err := p.Chat(context.Background(), ChatRequest{
		UserID:   "u-1",
		TenantID: "atlas_ci",
		Message:  "Quel est mon solde actuel ?",
	})
	assert.Error(t, err)
}

func TestEscalateAssignsAgentAndRecordsHandoff(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, &fakeOrchestrator{results: []*agents.Result{crewResult("ok")}}, nil)

	chat, err := p.Chat(context.Background(), ChatRequest{
		UserID:   "u-1",
		TenantID: "atlas_ci",
		Message:  "Mon transfert a échoué trois fois",
	})
	require.NoError(t, err)

	finder := &fakeFinder{agent: &escalation.HumanAgent{ID: "agent-1", Name: "Awa Diallo"}}
	p.finder = finder

	resp, err := p.Escalate(context.Background(), EscalateRequest{
		SessionID: chat.SessionID,
		Reason:    "multiple_failures(3)",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.EscalationID)
	assert.Equal(t, "Awa Diallo", resp.AssignedAgent)
	assert.Equal(t, "escalated", resp.Status)
	assert.Equal(t, estimatedResponseTime, resp.EstimatedResponseTime)

	// Routing saw the defaulted priority and the last user message.
	assert.Equal(t, escalation.PriorityMedium, finder.req.Priority)
	assert.Equal(t, "Mon transfert a échoué trois fois", finder.req.UserMessage)

	require.Len(t, store.escalations, 1)
	assert.Equal(t, "agent-1", store.escalations[0].AssignedTo)
	assert.Equal(t, conversation.StatusEscalated, store.sessions[chat.SessionID].Status)
}

func TestEscalateWithoutAgentStaysUnassigned(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, &fakeOrchestrator{results: []*agents.Result{crewResult("ok")}}, &fakeFinder{agent: nil})

	chat, err := p.Chat(context.Background(), ChatRequest{
		UserID:   "u-1",
		TenantID: "atlas_ci",
		Message:  "Mon compte est bloqué",
	})
	require.NoError(t, err)

	resp, err := p.Escalate(context.Background(), EscalateRequest{
		SessionID: chat.SessionID,
		Reason:    "urgent_keywords(bloqué)",
		Priority:  escalation.PriorityUrgent,
	})
	require.NoError(t, err)

	assert.Empty(t, resp.AssignedAgent)
	require.Len(t, store.escalations, 1)
	assert.Empty(t, store.escalations[0].AssignedTo)
	assert.Equal(t, escalation.PriorityUrgent, store.escalations[0].Priority)
}

func TestEscalateUnknownSession(t *testing.T) {
	p := newTestPipeline(newFakeStore(), &fakeOrchestrator{results: []*agents.Result{crewResult("ok")}}, nil)

	_, err := p.Escalate(context.Background(), EscalateRequest{SessionID: "missing"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = p.History(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
