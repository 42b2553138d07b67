package escalation

import "strings"

// Expertise domains for human agents.
const (
	ExpertiseComplaints = "complaints"
	ExpertiseOperations = "operations"
	ExpertiseTechnical  = "technical"
	ExpertiseCommercial = "commercial"
	ExpertiseGeneral    = "general"
)

// expertiseKeywords maps each domain to its trigger words. Evaluation order
// matters: the first domain with a hit wins.
var expertiseKeywords = []struct {
	domain   string
	keywords []string
}{
	{ExpertiseComplaints, []string{"réclamation", "complaint", "problème", "insatisfait", "erreur"}},
	{ExpertiseOperations, []string{"transfert", "annulation", "transaction", "solde", "compte"}},
	{ExpertiseTechnical, []string{"bug", "erreur", "ne fonctionne pas", "problème technique", "app"}},
	{ExpertiseCommercial, []string{"tarif", "prix", "nouveau service", "information produit"}},
}

// RequiredExpertise classifies a handoff by the escalation reason and the
// user's message. Falls back to general when nothing matches.
func RequiredExpertise(reason, userMessage string) string {
	reason = strings.ToLower(reason)
	userMessage = strings.ToLower(userMessage)

	for _, entry := range expertiseKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(reason, kw) || strings.Contains(userMessage, kw) {
				return entry.domain
			}
		}
	}

	return ExpertiseGeneral
}
