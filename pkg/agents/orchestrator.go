package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/atlaspay/concierge/pkg/config"
	"github.com/atlaspay/concierge/pkg/knowledge"
	"github.com/atlaspay/concierge/pkg/llms"
	"github.com/atlaspay/concierge/pkg/packs"
)

// Execution modes, most capable first.
const (
	ModeCrew     = "crew"
	ModeDirect   = "direct"
	ModeMinimal  = "minimal"
	ModeFallback = "fallback"
)

const (
	fallbackAgent = "fallback_assistant"
	greeterAgent  = "customer_service"

	// Queries shorter than this are answered with a canned acknowledgement,
	// without touching the model.
	trivialQueryLen = 10
)

var fallbackMessage = "Je rencontre actuellement des difficultés techniques. " +
	"Votre demande a bien été enregistrée et un conseiller vous répondra dans les plus brefs délais. " +
	"Merci de votre patience."

var greetings = map[string]string{
	"fr": "Bonjour ! Je suis l'assistant AtlasPay Money. Comment puis-je vous aider aujourd'hui ?",
	"en": "Hello! I am the AtlasPay Money assistant. How can I help you today?",
}

// Retriever feeds tenant knowledge into prompts.
type Retriever interface {
	Search(ctx context.Context, tenantID, query string, topK int, category string) ([]knowledge.Hit, error)
}

// Inputs is one user turn handed to the orchestrator.
type Inputs struct {
	Query       string
	UserID      string
	TenantID    string
	Application string
}

// Result is the outcome of a run. Success is true even in fallback mode;
// the caller distinguishes degraded turns by Mode.
type Result struct {
	Success       bool
	Result        string
	AgentsUsed    []string
	TasksExecuted int
	TokensUsed    int
	Mode          string
}

// Orchestrator executes crews with tiered degradation: full crew, then a
// single minimal agent, then a canned reply. It never returns an error to
// the caller; the worst case is a fallback Result.
type Orchestrator struct {
	llm       llms.LLM
	agents    map[string]AgentDef
	tasks     map[string]TaskDef
	retriever Retriever
	topK      int
	tokens    *TokenCounter

	crewTimeout    time.Duration
	minimalTimeout time.Duration
}

// New builds an orchestrator from explicit definitions. A nil retriever
// disables knowledge grounding.
func New(llm llms.LLM, agents map[string]AgentDef, tasks map[string]TaskDef, retriever Retriever, cfg config.AgentsConfig) *Orchestrator {
	cfg.SetDefaults()
	return &Orchestrator{
		llm:            llm,
		agents:         agents,
		tasks:          tasks,
		retriever:      retriever,
		topK:           cfg.KnowledgeTopK,
		tokens:         NewTokenCounter(llm.Model()),
		crewTimeout:    time.Duration(cfg.CrewTimeoutSeconds) * time.Second,
		minimalTimeout: time.Duration(cfg.MinimalTimeoutSeconds) * time.Second,
	}
}

// NewFromConfig loads agent and task definitions from the configured files,
// falling back to the built-in crew when a file is absent.
func NewFromConfig(llm llms.LLM, cfg config.AgentsConfig, retriever Retriever) (*Orchestrator, error) {
	cfg.SetDefaults()

	agents := defaultAgentDefs()
	var present []string
	for _, path := range cfg.AgentFiles {
		if _, err := os.Stat(path); err == nil {
			present = append(present, path)
		}
	}
	if len(present) > 0 {
		loaded, err := LoadAgentDefs(present)
		if err != nil {
			return nil, err
		}
		agents = loaded
	}

	tasks := defaultTaskDefs()
	if _, err := os.Stat(cfg.TasksFile); err == nil {
		loaded, err := LoadTaskDefs(cfg.TasksFile)
		if err != nil {
			return nil, err
		}
		tasks = loaded
	}

	for name, task := range tasks {
		if _, ok := agents[task.Agent]; !ok {
			return nil, fmt.Errorf("task %q references unknown agent %q (known agents: %s)",
				name, task.Agent, strings.Join(sortedNames(agents), ", "))
		}
	}

	return New(llm, agents, tasks, retriever, cfg), nil
}

// Run executes one user turn. caps gates which agents join the crew; an
// agent whose required pack feature is absent is silently skipped.
func (o *Orchestrator) Run(ctx context.Context, inputs Inputs, caps packs.Capabilities) *Result {
	query := strings.TrimSpace(inputs.Query)

	// Greetings and other very short messages get an acknowledgement
	// without spending a model call.
	if len(query) < trivialQueryLen {
		greeting, ok := greetings[DetectLanguage(query)]
		if !ok {
			greeting = greetings["fr"]
		}
		return &Result{
			Success:    true,
			Result:     greeting,
			AgentsUsed: []string{greeterAgent},
			Mode:       ModeDirect,
		}
	}

	result, err := o.runCrew(ctx, inputs, caps)
	if err == nil {
		return result
	}
	slog.Warn("Crew execution failed, degrading to minimal agent",
		"tenant_id", inputs.TenantID, "error", err)

	result, err = o.runMinimal(ctx, inputs, ModeMinimal)
	if err == nil {
		return result
	}
	slog.Error("Minimal agent failed, serving fallback reply",
		"tenant_id", inputs.TenantID, "error", err)

	return o.fallback()
}

// runCrew executes every task in order, chaining each task's output into
// the next one's prompt.
func (o *Orchestrator) runCrew(ctx context.Context, inputs Inputs, caps packs.Capabilities) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.crewTimeout)
	defer cancel()

	tasks := o.orderedTasks(caps)
	if len(tasks) == 0 {
		return nil, errors.New("no tasks eligible for this tenant")
	}

	hits := o.retrieve(ctx, inputs)

	var (
		previous   string
		agentsUsed []string
		tokens     int
	)
	for _, name := range tasks {
		task := o.tasks[name]
		agent := o.agents[task.Agent]

		messages := o.taskMessages(agent, task, inputs, hits, previous)
		generated, err := o.llm.Generate(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", name, err)
		}

		tokens += o.tokensFor(messages, generated)
		agentsUsed = append(agentsUsed, task.Agent)
		previous = generated.Text
	}

	return &Result{
		Success:       true,
		Result:        previous,
		AgentsUsed:    agentsUsed,
		TasksExecuted: len(tasks),
		TokensUsed:    tokens,
		Mode:          ModeCrew,
	}, nil
}

// runMinimal is the degraded tier: one agent, no task chain, no memory.
func (o *Orchestrator) runMinimal(ctx context.Context, inputs Inputs, mode string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.minimalTimeout)
	defer cancel()

	hits := o.retrieve(ctx, inputs)

	system := "Tu es un assistant bancaire pour AtlasPay Money. " +
		"Réponds de façon claire et concise à la demande du client, en français sauf s'il écrit en anglais."
	if kb := formatHits(hits); kb != "" {
		system += "\n\nBase de connaissances:\n" + kb
	}

	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: system},
		{Role: llms.RoleUser, Content: inputs.Query},
	}
	generated, err := o.llm.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	return &Result{
		Success:       true,
		Result:        generated.Text,
		AgentsUsed:    []string{"banking_assistant"},
		TasksExecuted: 1,
		TokensUsed:    o.tokensFor(messages, generated),
		Mode:          mode,
	}, nil
}

// tokensFor prefers the provider's usage report and estimates from the
// prompt and reply when the provider sends none.
func (o *Orchestrator) tokensFor(messages []llms.Message, generated *llms.Result) int {
	if generated.TokensUsed > 0 {
		return generated.TokensUsed
	}
	total := o.tokens.Count(generated.Text)
	for _, m := range messages {
		total += o.tokens.Count(m.Content)
	}
	return total
}

// AnalyzeSentiment reports the normalized sentiment of a message, for the
// escalation detector. Best effort: a failing model reads as neutral.
func (o *Orchestrator) AnalyzeSentiment(ctx context.Context, message string) SentimentResult {
	return AnalyzeSentiment(ctx, o.llm, message)
}

func (o *Orchestrator) fallback() *Result {
	return &Result{
		Success:    true,
		Result:     fallbackMessage,
		AgentsUsed: []string{fallbackAgent},
		Mode:       ModeFallback,
	}
}

// orderedTasks returns task names sorted by (Order, name), dropping tasks
// whose agent is gated out by the tenant's capabilities.
func (o *Orchestrator) orderedTasks(caps packs.Capabilities) []string {
	var names []string
	for name, task := range o.tasks {
		agent, ok := o.agents[task.Agent]
		if !ok {
			continue
		}
		if agent.RequiredPack != "" && !caps.HasFeature(agent.RequiredPack) {
			continue
		}
		if len(caps.Agents) > 0 && !caps.HasAgent(task.Agent) {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := o.tasks[names[i]], o.tasks[names[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return names[i] < names[j]
	})
	return names
}

func (o *Orchestrator) taskMessages(agent AgentDef, task TaskDef, inputs Inputs, hits []knowledge.Hit, previous string) []llms.Message {
	var system strings.Builder
	fmt.Fprintf(&system, "Tu es: %s\nObjectif: %s\n%s\n", agent.Role, agent.Goal, agent.Backstory)
	if kb := formatHits(hits); kb != "" {
		system.WriteString("\nBase de connaissances:\n" + kb)
	}
	if agent.Memory && previous != "" {
		system.WriteString("\nRésultat de l'étape précédente:\n" + previous)
	}
	fmt.Fprintf(&system, "\nRésultat attendu: %s", task.ExpectedOutput)

	description := strings.ReplaceAll(task.Description, "{query}", inputs.Query)

	return []llms.Message{
		{Role: llms.RoleSystem, Content: system.String()},
		{Role: llms.RoleUser, Content: description},
	}
}

// retrieve is best-effort: retrieval failures degrade to an ungrounded
// prompt rather than failing the turn.
func (o *Orchestrator) retrieve(ctx context.Context, inputs Inputs) []knowledge.Hit {
	if o.retriever == nil {
		return nil
	}
	hits, err := o.retriever.Search(ctx, inputs.TenantID, inputs.Query, o.topK, "")
	if err != nil {
		slog.Warn("Knowledge retrieval failed",
			"tenant_id", inputs.TenantID, "error", err)
		return nil
	}
	return hits
}

func formatHits(hits []knowledge.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&b, "%d. %s\n", i+1, hit.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
