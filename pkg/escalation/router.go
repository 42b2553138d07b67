package escalation

import (
	"context"
	"log/slog"
	"sort"
)

// maxCandidates bounds how many ranked agents the router considers per
// handoff.
const maxCandidates = 5

// RouteRequest describes the handoff the router must place.
type RouteRequest struct {
	Reason       string
	UserMessage  string
	UserLanguage string
	Priority     string
}

// Router assigns escalations to human agents, weighing expertise, remaining
// capacity and recency of activity.
type Router struct {
	agents *AgentStore
}

func NewRouter(agents *AgentStore) *Router {
	return &Router{agents: agents}
}

// FindBestAgent picks and claims an agent for the handoff. Candidates must
// be available with spare capacity and speak the user's language or French.
// The claim is atomic, so a candidate grabbed by a concurrent handoff is
// skipped and the next one is tried. Returns nil when nobody can take it.
func (r *Router) FindBestAgent(ctx context.Context, req RouteRequest) (*HumanAgent, error) {
	if req.UserLanguage == "" {
		req.UserLanguage = "fr"
	}
	expertise := RequiredExpertise(req.Reason, req.UserMessage)

	available, err := r.agents.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}

	candidates := rankCandidates(available, req.UserLanguage, expertise)
	if len(candidates) == 0 {
		slog.Warn("No available agent found for escalation",
			"expertise", expertise,
			"language", req.UserLanguage)
		return nil, nil
	}

	// Prefer a specialty match that also speaks the user's language, then
	// anyone speaking the language, then rank order.
	tier := func(agent HumanAgent) int {
		switch {
		case agent.HasSpecialty(expertise) && agent.Speaks(req.UserLanguage):
			return 0
		case agent.Speaks(req.UserLanguage):
			return 1
		default:
			return 2
		}
	}
	ordered := make([]HumanAgent, 0, len(candidates))
	for t := 0; t <= 2; t++ {
		for _, agent := range candidates {
			if tier(agent) == t {
				ordered = append(ordered, agent)
			}
		}
	}

	for _, agent := range ordered {
		claimed, err := r.agents.Claim(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}

		slog.Info("Agent assigned for escalation",
			"agent_id", agent.ID,
			"expertise", expertise,
			"reason", req.Reason)

		return r.agents.Get(ctx, agent.ID)
	}

	slog.Warn("All candidate agents were claimed concurrently", "expertise", expertise)
	return nil, nil
}

// Release returns the agent's slot after the handoff resolves.
func (r *Router) Release(ctx context.Context, agentID string) error {
	return r.agents.Release(ctx, agentID)
}

// rankCandidates filters agents on language and orders them by expertise
// match, then remaining capacity, then most recent activity, keeping the
// top five.
func rankCandidates(agents []HumanAgent, language, expertise string) []HumanAgent {
	var eligible []HumanAgent
	for _, agent := range agents {
		if agent.Speaks(language) || agent.Speaks("fr") {
			eligible = append(eligible, agent)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]

		aMatch, bMatch := a.HasSpecialty(expertise), b.HasSpecialty(expertise)
		if aMatch != bMatch {
			return aMatch
		}
		if sa, sb := a.AvailabilityScore(), b.AvailabilityScore(); sa != sb {
			return sa > sb
		}
		return a.LastActivity.After(b.LastActivity)
	})

	if len(eligible) > maxCandidates {
		eligible = eligible[:maxCandidates]
	}
	return eligible
}
