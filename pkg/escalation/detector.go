// Package escalation decides when a conversation must leave the automated
// assistant, finds the right human agent for it, and assembles the handoff
// context the agent receives.
package escalation

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/atlaspay/concierge/pkg/config"
)

// Escalation priorities, lowest to highest.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Signal carries everything the detector inspects for one turn.
type Signal struct {
	UserMessage       string
	FailedAttempts    int
	Sentiment         string
	ComplaintPriority string
	TechnicalError    bool
}

// Decision is the detector verdict. Reason is the pipe-joined reason list,
// stable enough to drive priority assessment and reporting.
type Decision struct {
	ShouldEscalate bool
	Reasons        []string
	Reason         string
	Priority       string
}

// Detector evaluates escalation rules. Rules are swapped atomically on
// config reload, so detection never observes a half-updated rule set.
type Detector struct {
	rules atomic.Pointer[config.EscalationRulesConfig]
}

func NewDetector(rules config.EscalationRulesConfig) *Detector {
	d := &Detector{}
	d.UpdateRules(rules)
	return d
}

// UpdateRules replaces the active rule set.
func (d *Detector) UpdateRules(rules config.EscalationRulesConfig) {
	rules.SetDefaults()
	d.rules.Store(&rules)
}

// Detect evaluates all rules against one turn and accumulates every reason
// that fires. One reason is enough to escalate.
func (d *Detector) Detect(signal Signal) Decision {
	rules := d.rules.Load()
	message := strings.ToLower(signal.UserMessage)

	var reasons []string

	if signal.FailedAttempts >= rules.FailedAttemptsThreshold {
		reasons = append(reasons, fmt.Sprintf("multiple_failures(%d)", signal.FailedAttempts))
	}

	if found := matchKeywords(message, rules.UrgentKeywords); len(found) > 0 {
		reasons = append(reasons, fmt.Sprintf("urgent_keywords(%s)", strings.Join(found, ",")))
	}

	if signal.Sentiment == "negative" || signal.Sentiment == "urgent" {
		reasons = append(reasons, "negative_sentiment")
	}

	if found := matchKeywords(message, rules.ComplexQueryIndicators); len(found) > 0 {
		reasons = append(reasons, fmt.Sprintf("complex_query(%s)", strings.Join(found, ",")))
	}

	if strings.EqualFold(signal.ComplaintPriority, "URGENT") {
		reasons = append(reasons, "urgent_complaint")
	}

	if len(matchKeywords(message, rules.HumanRequestPhrases)) > 0 {
		reasons = append(reasons, "explicit_human_request")
	}

	if signal.TechnicalError {
		reasons = append(reasons, "technical_error")
	}

	decision := Decision{
		ShouldEscalate: len(reasons) > 0,
		Reasons:        reasons,
		Reason:         "no_escalation_needed",
	}
	if decision.ShouldEscalate {
		decision.Reason = strings.Join(reasons, " | ")
		decision.Priority = AssessPriority(decision.Reason)
		slog.Info("Escalation detected", "reasons", decision.Reason, "priority", decision.Priority)
	}

	return decision
}

// AssessPriority maps a reason string to an escalation priority. The first
// matching tier wins.
func AssessPriority(reason string) string {
	switch {
	case containsAnyReason(reason, "urgent_complaint", "urgent_keywords", "technical_error"):
		return PriorityUrgent
	case containsAnyReason(reason, "multiple_failures", "negative_sentiment"):
		return PriorityHigh
	case strings.Contains(reason, "explicit_human_request"):
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func matchKeywords(message string, keywords []string) []string {
	var found []string
	for _, kw := range keywords {
		if strings.Contains(message, kw) {
			found = append(found, kw)
		}
	}
	return found
}

func containsAnyReason(reason string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(reason, term) {
			return true
		}
	}
	return false
}
