package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.ConversationStarted("atlas_ci", "atlas_money")
	c.ConversationStarted("atlas_ci", "atlas_money")
	c.ConversationStarted("atlas_bf", "atlas_money")
	c.EscalationCreated("atlas_ci", "urgent")
	c.TokensUsed("atlas_ci", 120)
	c.TokensUsed("atlas_ci", 0)
	c.ErrorOccurred("llm")
	c.SetBusyAgents(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.conversations.WithLabelValues("atlas_ci", "atlas_money")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conversations.WithLabelValues("atlas_bf", "atlas_money")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.escalations.WithLabelValues("atlas_ci", "urgent")))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.tokens.WithLabelValues("atlas_ci")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("llm")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activeAgents))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.ConversationStarted("atlas_ci", "atlas_money")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.conversations.WithLabelValues("atlas_ci", "atlas_money")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.conversations.WithLabelValues("atlas_ci", "atlas_money")))
}

func TestHandlerServesExposition(t *testing.T) {
	c := NewCollector()
	c.ConversationStarted("atlas_ci", "atlas_money")
	c.ObserveResponseTime("atlas_ci", "crew", 0.42)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "concierge_conversations_total")
	assert.Contains(t, body, "concierge_response_time_seconds")
}
