package agents

// Built-in crew used when no agent files are configured. Mirrors the
// production YAML shipped under configs/agents.
func defaultAgentDefs() map[string]AgentDef {
	return map[string]AgentDef{
		"customer_service": {
			Role:      "Agent de Service Client AtlasPay Money",
			Goal:      "Accueillir et orienter les clients avec professionnalisme",
			Backstory: "Agent de service client expérimenté, vous connaissez parfaitement les produits et services locaux et orientez les clients vers les bonnes ressources.",
			Tools:     []string{"intent_classifier", "language_detector", "faq_search"},
			MaxIter:   3,
			Memory:    true,
		},
		"banking_assistant": {
			Role:      "Assistant Bancaire AtlasPay Money",
			Goal:      "Aider les clients avec leurs opérations bancaires quotidiennes",
			Backstory: "Spécialiste des services bancaires, vous maîtrisez les transferts, consultations de compte et opérations courantes.",
			Tools:     []string{"faq_search", "get_account_balance", "query_transaction_history"},
			MaxIter:   3,
			Memory:    true,
		},
		"complaint_handler": {
			Role:         "Gestionnaire de Réclamations AtlasPay Money",
			Goal:         "Traiter efficacement les réclamations clients",
			Backstory:    "Expert en résolution de problèmes, vous gérez les réclamations avec empathie et efficacité en appliquant les procédures appropriées.",
			Tools:        []string{"create_complaint", "get_complaint_status", "sentiment_analyzer"},
			MaxIter:      3,
			Memory:       true,
			RequiredPack: "complaint_handling",
		},
	}
}

func defaultTaskDefs() map[string]TaskDef {
	return map[string]TaskDef{
		"welcome_and_classify": {
			Description:    "Accueillir le client, comprendre sa demande et identifier le type d'assistance nécessaire. Demande du client: {query}",
			ExpectedOutput: "Classification de la demande et orientation vers le bon spécialiste.",
			Agent:          "customer_service",
			Order:          1,
		},
		"handle_banking_query": {
			Description:    "Répondre à la demande bancaire du client en t'appuyant sur la base de connaissances et le contexte fourni. Demande: {query}",
			ExpectedOutput: "Réponse claire, exacte et actionnable à la demande du client.",
			Agent:          "banking_assistant",
			Order:          2,
		},
	}
}
