package conversation

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspay/concierge/pkg/config"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_busy_timeout=5000&_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	conv := config.ConversationConfig{}
	conv.SetDefaults()

	store, err := NewSQLStore(db, "sqlite", conv)
	require.NoError(t, err)
	return store
}

func sessionParams(userID, tenantID, packLevel string) SessionParams {
	return SessionParams{
		UserID:      userID,
		TenantID:    tenantID,
		Application: "atlas_money",
		Channel:     "mobile",
		Language:    "fr",
		PackLevel:   packLevel,
	}
}

func TestGetOrCreateSessionReusesActiveSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, created, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "advanced"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusActive, first.Status)
	assert.Equal(t, "advanced", first.PackLevel)

	second, created, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "advanced"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateSessionScopesByUserAndTenant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)
	b, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_bf", "basic"))
	require.NoError(t, err)
	c, _, err := store.GetOrCreateSession(ctx, sessionParams("user-2", "atlas_ci", "basic"))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestSessionCarriesLanguageAndPackSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := sessionParams("user-1", "atlas_ci", "premium")
	p.Metadata = map[string]any{"pack_level": "premium", "features": []any{"faq", "complaint_handling"}}

	session, created, err := store.GetOrCreateSession(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)

	reloaded, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "fr", reloaded.Language)
	assert.Equal(t, "premium", reloaded.Metadata["pack_level"])
	assert.Equal(t, []any{"faq", "complaint_handling"}, reloaded.Metadata["features"])
	assert.Nil(t, reloaded.ClosedAt)
}

func TestIdleWindowBoundary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	first, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)

	// One second before the window closes the session is still live.
	store.now = func() time.Time { return base.Add(30*time.Minute - time.Second) }
	same, created, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, same.ID)

	// At exactly the window length the session has expired.
	store.now = func() time.Time { return base.Add(30 * time.Minute) }
	fresh, created, err := store.GetOrCreateSession(ctx, sessionParams("user-2", "atlas_ci", "basic"))
	require.NoError(t, err)
	assert.True(t, created)

	store.now = func() time.Time { return base.Add(30 * time.Minute) }
	renewed, created, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, renewed.ID)
	assert.NotEqual(t, fresh.ID, renewed.ID)

	// The expired session was closed, not left dangling.
	expired, err := store.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, expired.Status)
	require.NotNil(t, expired.ClosedAt)
}

func TestActiveSessionSlotIsUniqueAtTheDatabase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)

	// A second row claiming the same active slot must be rejected by the
	// schema itself, not just by application-level locking.
	_, err = store.db.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, tenant_id, application, pack_level, channel, status, context, metadata, active_key, created_at, updated_at)
VALUES ('dup', 'user-1', 'atlas_ci', 'atlas_money', 'basic', 'mobile', 'active', '{}', '{}', 'user-1|atlas_ci|atlas_money', ?, ?)`,
		session.CreatedAt, session.UpdatedAt)
	require.Error(t, err)

	// Losing the race is recoverable: the retry adopts the winner's row.
	again, created, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, session.ID, again.ID)
}

func TestConcurrentGetOrCreateYieldsOneSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := 0; i < len(ids); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
			if assert.NoError(t, err) {
				ids[i] = session.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestAppendMessageBumpsActivityAndKeepsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, content := range []string{"premier", "deuxième", "troisième"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		err := store.AppendMessage(ctx, &Message{
			SessionID: session.ID,
			Role:      role,
			Content:   content,
			Metadata:  map[string]any{"turn": content},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	history, err := store.History(ctx, session.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "premier", history[0].Content)
	assert.Equal(t, "troisième", history[2].Content)
	assert.Equal(t, "premier", history[0].Metadata["turn"])

	updated, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.Equal(base.Add(2*time.Minute)))
}

func TestCreateEscalationFlipsSessionStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "premium"))
	require.NoError(t, err)

	err = store.CreateEscalation(ctx, &Escalation{
		SessionID: session.ID,
		Reason:    "multiple_failures(3)",
		Priority:  "high",
		Context:   map[string]any{"summary": "3 échecs consécutifs"},
	})
	require.NoError(t, err)

	updated, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, updated.Status)

	// The context view surfaces the open escalation with its snapshot.
	view, err := store.Context(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, view.Escalations, 1)
	assert.Equal(t, "multiple_failures(3)", view.Escalations[0].Reason)
	assert.Equal(t, EscalationPending, view.Escalations[0].Status)
	assert.Equal(t, "3 échecs consécutifs", view.Escalations[0].Context["summary"])

	// Resolved escalations drop out of the active list.
	require.NoError(t, store.CreateEscalation(ctx, &Escalation{
		SessionID: session.ID,
		Reason:    "explicit_request",
		Priority:  "medium",
		Status:    EscalationResolved,
	}))
	view, err = store.Context(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, view.Escalations, 1)

	// An escalated session no longer holds the active slot.
	next, created, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "premium"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, session.ID, next.ID)
}

func TestCloseSessionRecordsReasonAndTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)

	require.NoError(t, store.CloseSession(ctx, session.ID, "résolu par l'assistant"))

	closed, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, "résolu par l'assistant", closed.Metadata["close_reason"])

	// Closing again is a no-op, not an error.
	require.NoError(t, store.CloseSession(ctx, session.ID, ""))
	assert.ErrorIs(t, store.CloseSession(ctx, "missing", "test"), ErrNotFound)
}

func TestUpdateContextMergesShallow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateContext(ctx, session.ID, map[string]any{"failed_attempts": 1, "language": "fr"}))
	require.NoError(t, store.UpdateContext(ctx, session.ID, map[string]any{"failed_attempts": 2}))

	updated, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Context["failed_attempts"])
	assert.Equal(t, "fr", updated.Context["language"])

	assert.ErrorIs(t, store.UpdateContext(ctx, "missing", map[string]any{"a": 1}), ErrNotFound)
}

func TestContextViewReflectsMutations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)

	view, err := store.Context(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.TotalMessages)

	require.NoError(t, store.AppendMessage(ctx, &Message{
		SessionID: session.ID,
		Role:      RoleUser,
		Content:   "je ne comprends pas",
	}))
	require.NoError(t, store.RecordAgentAction(ctx, &AgentAction{
		SessionID:  session.ID,
		AgentName:  "account_manager",
		ActionType: "balance_lookup",
		Success:    false,
	}))

	// Mutations invalidate the cached view.
	view, err = store.Context(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.TotalMessages)
	assert.Equal(t, 1, view.FailedActions)
	require.Len(t, view.AgentActions, 1)
	assert.Equal(t, "account_manager", view.AgentActions[0].AgentName)
}

func TestSessionStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)

	require.NoError(t, store.AppendMessage(ctx, &Message{
		SessionID: session.ID, Role: RoleUser, Content: "solde ?", TokensConsumed: 10,
	}))
	require.NoError(t, store.AppendMessage(ctx, &Message{
		SessionID: session.ID, Role: RoleAssistant, Content: "Votre solde est de 1000 FCFA.",
		TokensConsumed: 30, Confidence: 0.9, ResponseTimeMs: 1200,
	}))

	stats, err := store.SessionStats(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 1, stats.MessagesByRole[RoleUser])
	assert.Equal(t, 1, stats.MessagesByRole[RoleAssistant])
	assert.Equal(t, 40, stats.TotalTokens)
	assert.InDelta(t, 20.0, stats.AvgTokens, 1e-9)
	assert.InDelta(t, 0.9, stats.AvgConfidence, 1e-9)
	assert.InDelta(t, 1200.0, stats.AvgResponseTimeMs, 1e-9)
}

func TestDailyStatsAggregatesLastDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// A session from two days ago must not count.
	store.now = func() time.Time { return base.Add(-48 * time.Hour) }
	stale, _, err := store.GetOrCreateSession(ctx, sessionParams("user-0", "atlas_ci", "basic"))
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, &Message{
		SessionID: stale.ID, Role: RoleUser, Content: "ancien", Timestamp: base.Add(-48 * time.Hour),
	}))

	store.now = func() time.Time { return base }
	first, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "premium"))
	require.NoError(t, err)
	second, _, err := store.GetOrCreateSession(ctx, sessionParams("user-2", "atlas_ci", "basic"))
	require.NoError(t, err)
	other, _, err := store.GetOrCreateSession(ctx, sessionParams("user-3", "atlas_bf", "basic"))
	require.NoError(t, err)

	require.NoError(t, store.AppendMessage(ctx, &Message{
		SessionID: first.ID, Role: RoleUser, Content: "solde ?", TokensConsumed: 10, Timestamp: base,
	}))
	require.NoError(t, store.AppendMessage(ctx, &Message{
		SessionID: first.ID, Role: RoleAssistant, Content: "1000 FCFA",
		TokensConsumed: 30, ResponseTimeMs: 800, Timestamp: base,
	}))
	require.NoError(t, store.AppendMessage(ctx, &Message{
		SessionID: second.ID, Role: RoleAssistant, Content: "Bonjour",
		TokensConsumed: 20, ResponseTimeMs: 400, Timestamp: base,
	}))
	require.NoError(t, store.AppendMessage(ctx, &Message{
		SessionID: other.ID, Role: RoleUser, Content: "hors filiale", TokensConsumed: 99, Timestamp: base,
	}))

	require.NoError(t, store.CreateEscalation(ctx, &Escalation{
		SessionID: second.ID, Reason: "explicit_request", Priority: "medium",
	}))

	stats, err := store.DailyStats(ctx, "atlas_ci")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Conversations)
	assert.Equal(t, 3, stats.Messages)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 1, stats.EscalatedSessions)
	assert.InDelta(t, 0.5, stats.EscalationRate, 1e-9)
	assert.Equal(t, 60, stats.TokensConsumed)
	assert.InDelta(t, 600.0, stats.AvgResponseTimeMs, 1e-9)
}

func TestSweepRemovesOnlyExpiredClosedSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	old, _, err := store.GetOrCreateSession(ctx, sessionParams("user-1", "atlas_ci", "basic"))
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, &Message{SessionID: old.ID, Role: RoleUser, Content: "bonjour", Timestamp: base}))
	require.NoError(t, store.CloseSession(ctx, old.ID, "inactivité"))

	store.now = func() time.Time { return base.Add(time.Hour) }
	live, _, err := store.GetOrCreateSession(ctx, sessionParams("user-2", "atlas_ci", "basic"))
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(91 * 24 * time.Hour) }
	n, err := store.Sweep(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetSession(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := store.History(ctx, old.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = store.GetSession(ctx, live.ID)
	assert.NoError(t, err)
}
