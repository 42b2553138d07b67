package config

import "fmt"

// EscalationRulesConfig holds the detector rule set. The whole struct is
// hot-swappable: the detector takes a full snapshot on every update.
type EscalationRulesConfig struct {
	// FailedAttemptsThreshold triggers multiple_failures.
	FailedAttemptsThreshold int `yaml:"failed_attempts_threshold"`

	// UrgentKeywords trigger urgent_keywords when present in the message.
	UrgentKeywords []string `yaml:"urgent_keywords"`

	// ComplexQueryIndicators trigger complex_query.
	ComplexQueryIndicators []string `yaml:"complex_query_indicators"`

	// HumanRequestPhrases trigger explicit_human_request.
	HumanRequestPhrases []string `yaml:"human_request_phrases"`

	// TimeoutMinutes bounds how long an automated exchange may run.
	TimeoutMinutes int `yaml:"timeout_minutes"`
}

func (c *EscalationRulesConfig) SetDefaults() {
	if c.FailedAttemptsThreshold == 0 {
		c.FailedAttemptsThreshold = 3
	}
	if len(c.UrgentKeywords) == 0 {
		c.UrgentKeywords = []string{"urgent", "immédiat", "emergency", "bloqué", "problème grave"}
	}
	if len(c.ComplexQueryIndicators) == 0 {
		c.ComplexQueryIndicators = []string{"plusieurs", "complexe", "ne comprends pas", "confusion"}
	}
	if len(c.HumanRequestPhrases) == 0 {
		c.HumanRequestPhrases = []string{"agent humain", "conseiller", "responsable", "manager", "supervisor"}
	}
	if c.TimeoutMinutes == 0 {
		c.TimeoutMinutes = 5
	}
}

func (c *EscalationRulesConfig) Validate() error {
	if c.FailedAttemptsThreshold < 1 {
		return fmt.Errorf("failed_attempts_threshold must be at least 1")
	}
	return nil
}
