package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlaspay/concierge/pkg/config"
)

func newTestDetector() *Detector {
	var rules config.EscalationRulesConfig
	rules.SetDefaults()
	return NewDetector(rules)
}

func TestDetectNoEscalation(t *testing.T) {
	d := newTestDetector()

	decision := d.Detect(Signal{UserMessage: "quel est mon solde ?"})
	assert.False(t, decision.ShouldEscalate)
	assert.Equal(t, "no_escalation_needed", decision.Reason)
	assert.Empty(t, decision.Reasons)
}

func TestDetectFailedAttempts(t *testing.T) {
	d := newTestDetector()

	decision := d.Detect(Signal{UserMessage: "réessayer", FailedAttempts: 2})
	assert.False(t, decision.ShouldEscalate)

	decision = d.Detect(Signal{UserMessage: "réessayer", FailedAttempts: 3})
	assert.True(t, decision.ShouldEscalate)
	assert.Contains(t, decision.Reasons, "multiple_failures(3)")
	assert.Equal(t, PriorityHigh, decision.Priority)
}

func TestDetectUrgentKeywords(t *testing.T) {
	d := newTestDetector()

	decision := d.Detect(Signal{UserMessage: "C'est URGENT, mon compte est bloqué !"})
	assert.True(t, decision.ShouldEscalate)
	assert.Contains(t, decision.Reasons, "urgent_keywords(urgent,bloqué)")
	assert.Equal(t, PriorityUrgent, decision.Priority)
}

func TestDetectExplicitHumanRequest(t *testing.T) {
	d := newTestDetector()

	decision := d.Detect(Signal{UserMessage: "je veux parler à un agent humain"})
	assert.True(t, decision.ShouldEscalate)
	assert.Contains(t, decision.Reasons, "explicit_human_request")
	assert.Equal(t, PriorityMedium, decision.Priority)
}

func TestDetectComplexQuery(t *testing.T) {
	d := newTestDetector()

	decision := d.Detect(Signal{UserMessage: "je ne comprends pas, il y a plusieurs opérations"})
	assert.True(t, decision.ShouldEscalate)
	assert.Contains(t, decision.Reasons, "complex_query(plusieurs,ne comprends pas)")
	assert.Equal(t, PriorityLow, decision.Priority)
}

func TestDetectAccumulatesReasons(t *testing.T) {
	d := newTestDetector()

	decision := d.Detect(Signal{
		UserMessage:       "urgent, je veux un conseiller",
		FailedAttempts:    4,
		Sentiment:         "negative",
		ComplaintPriority: "URGENT",
		TechnicalError:    true,
	})
	assert.True(t, decision.ShouldEscalate)
	assert.Equal(t,
		"multiple_failures(4) | urgent_keywords(urgent) | negative_sentiment | urgent_complaint | explicit_human_request | technical_error",
		decision.Reason)
	assert.Equal(t, PriorityUrgent, decision.Priority)
}

func TestAssessPriorityTiers(t *testing.T) {
	assert.Equal(t, PriorityUrgent, AssessPriority("urgent_complaint"))
	assert.Equal(t, PriorityUrgent, AssessPriority("urgent_keywords(urgent)"))
	assert.Equal(t, PriorityUrgent, AssessPriority("technical_error"))
	assert.Equal(t, PriorityHigh, AssessPriority("multiple_failures(3)"))
	assert.Equal(t, PriorityHigh, AssessPriority("negative_sentiment"))
	assert.Equal(t, PriorityMedium, AssessPriority("explicit_human_request"))
	assert.Equal(t, PriorityLow, AssessPriority("complex_query(plusieurs)"))

	// Highest matching tier wins on combined reasons.
	assert.Equal(t, PriorityUrgent, AssessPriority("multiple_failures(3) | technical_error"))
}

func TestUpdateRulesSwapsThreshold(t *testing.T) {
	d := newTestDetector()

	d.UpdateRules(config.EscalationRulesConfig{FailedAttemptsThreshold: 5})

	decision := d.Detect(Signal{UserMessage: "réessayer", FailedAttempts: 4})
	assert.False(t, decision.ShouldEscalate)

	decision = d.Detect(Signal{UserMessage: "réessayer", FailedAttempts: 5})
	assert.True(t, decision.ShouldEscalate)
}

func TestRequiredExpertise(t *testing.T) {
	assert.Equal(t, ExpertiseComplaints, RequiredExpertise("", "j'ai une réclamation à faire"))
	assert.Equal(t, ExpertiseOperations, RequiredExpertise("", "où en est mon transfert ?"))
	assert.Equal(t, ExpertiseOperations, RequiredExpertise("", "mon solde est faux"))
	assert.Equal(t, ExpertiseTechnical, RequiredExpertise("", "il y a un bug dans l'application"))
	assert.Equal(t, ExpertiseCommercial, RequiredExpertise("", "quel est le tarif du service ?"))
	assert.Equal(t, ExpertiseGeneral, RequiredExpertise("", "bonjour"))

	// Reason text also drives classification.
	assert.Equal(t, ExpertiseComplaints, RequiredExpertise("urgent_complaint: problème signalé", "bonjour"))

	// First matching domain wins when keywords overlap.
	assert.Equal(t, ExpertiseComplaints, RequiredExpertise("", "erreur sur mon compte"))
}
