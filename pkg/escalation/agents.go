package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Human agent statuses.
const (
	AgentAvailable = "available"
	AgentBusy      = "busy"
	AgentOffline   = "offline"
)

// ErrAgentNotFound is returned for unknown agent IDs.
var ErrAgentNotFound = errors.New("agent not found")

// HumanAgent is one support agent in the routing pool.
type HumanAgent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Specialties   []string  `json:"specialties"`
	Languages     []string  `json:"languages"`
	Status        string    `json:"status"`
	CurrentLoad   int       `json:"current_load"`
	MaxConcurrent int       `json:"max_concurrent"`
	LastActivity  time.Time `json:"last_activity"`
}

// AvailabilityScore is the agent's remaining capacity as a fraction of its
// maximum. An idle agent scores 1.0.
func (a *HumanAgent) AvailabilityScore() float64 {
	if a.CurrentLoad == 0 {
		return 1.0
	}
	if a.MaxConcurrent <= 0 {
		return 0
	}
	return float64(a.MaxConcurrent-a.CurrentLoad) / float64(a.MaxConcurrent)
}

// Speaks reports whether the agent handles a language.
func (a *HumanAgent) Speaks(language string) bool {
	for _, l := range a.Languages {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

// HasSpecialty reports whether the agent covers an expertise domain.
func (a *HumanAgent) HasSpecialty(domain string) bool {
	for _, s := range a.Specialties {
		if strings.EqualFold(s, domain) {
			return true
		}
	}
	return false
}

// AgentStore persists the human agent pool. It shares the conversation
// database so claims and escalation records live in one place.
type AgentStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

var agentSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS human_agents (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    specialties TEXT,
    languages TEXT,
    status VARCHAR(50) NOT NULL,
    current_load INTEGER NOT NULL DEFAULT 0,
    max_concurrent INTEGER NOT NULL,
    last_activity TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_human_agents_status ON human_agents(status)`,
}

func NewAgentStore(db *sql.DB, dialect string) (*AgentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &AgentStore{db: db, dialect: dialect, now: time.Now}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range agentSchemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return s, nil
}

func (s *AgentStore) bind(query string) string {
	if s.dialect != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Register inserts or replaces an agent. Load and activity are reset only
// on first registration.
func (s *AgentStore) Register(ctx context.Context, agent *HumanAgent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Status == "" {
		agent.Status = AgentAvailable
	}
	if agent.MaxConcurrent <= 0 {
		agent.MaxConcurrent = 3
	}
	if len(agent.Languages) == 0 {
		agent.Languages = []string{"fr"}
	}
	if agent.LastActivity.IsZero() {
		agent.LastActivity = s.now().UTC()
	}

	specialties, err := json.Marshal(agent.Specialties)
	if err != nil {
		return fmt.Errorf("failed to marshal specialties: %w", err)
	}
	languages, err := json.Marshal(agent.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := s.bind(`
UPDATE human_agents
SET name = ?, specialties = ?, languages = ?, status = ?, max_concurrent = ?
WHERE id = ?
`)
	res, err := tx.ExecContext(ctx, update,
		agent.Name, string(specialties), string(languages), agent.Status, agent.MaxConcurrent, agent.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		insert := s.bind(`
INSERT INTO human_agents (id, name, specialties, languages, status, current_load, max_concurrent, last_activity)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`)
		_, err = tx.ExecContext(ctx, insert,
			agent.ID, agent.Name, string(specialties), string(languages),
			agent.Status, agent.CurrentLoad, agent.MaxConcurrent, agent.LastActivity)
		if err != nil {
			return fmt.Errorf("failed to insert agent: %w", err)
		}
	}

	return tx.Commit()
}

// Get loads one agent.
func (s *AgentStore) Get(ctx context.Context, agentID string) (*HumanAgent, error) {
	query := s.bind(`
SELECT id, name, specialties, languages, status, current_load, max_concurrent, last_activity
FROM human_agents
WHERE id = ?
`)

	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, agentID))
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return agent, nil
}

// SetStatus changes an agent's availability.
func (s *AgentStore) SetStatus(ctx context.Context, agentID, status string) error {
	switch status {
	case AgentAvailable, AgentBusy, AgentOffline:
		// Valid
	default:
		return fmt.Errorf("unsupported agent status: %s", status)
	}

	update := s.bind(`UPDATE human_agents SET status = ?, last_activity = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, update, status, s.now().UTC(), agentID)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// ListAvailable returns agents that can take more work, least loaded first.
func (s *AgentStore) ListAvailable(ctx context.Context) ([]HumanAgent, error) {
	query := s.bind(`
SELECT id, name, specialties, languages, status, current_load, max_concurrent, last_activity
FROM human_agents
WHERE status = ? AND current_load < max_concurrent
ORDER BY current_load ASC, name ASC
`)

	rows, err := s.db.QueryContext(ctx, query, AgentAvailable)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []HumanAgent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}

	return agents, rows.Err()
}

// Claim atomically takes one slot on an agent. The capacity check and the
// increment run in the same transaction, so two concurrent claims can never
// push an agent past its maximum. Returns false when the agent is full or
// no longer available.
func (s *AgentStore) Claim(ctx context.Context, agentID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := s.bind(`
UPDATE human_agents
SET current_load = current_load + 1, last_activity = ?
WHERE id = ? AND status = ? AND current_load < max_concurrent
`)

	res, err := tx.ExecContext(ctx, update, s.now().UTC(), agentID, AgentAvailable)
	if err != nil {
		return false, fmt.Errorf("failed to claim agent: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	return n == 1, nil
}

// Release returns one slot. Load never goes below zero, even on a double
// release.
func (s *AgentStore) Release(ctx context.Context, agentID string) error {
	update := s.bind(`
UPDATE human_agents
SET current_load = CASE WHEN current_load > 0 THEN current_load - 1 ELSE 0 END,
    last_activity = ?
WHERE id = ?
`)

	res, err := s.db.ExecContext(ctx, update, s.now().UTC(), agentID)
	if err != nil {
		return fmt.Errorf("failed to release agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}

	slog.Info("Agent released", "agent_id", agentID)
	return nil
}

// BusyCount reports how many agents currently carry at least one handoff,
// for the operational gauge.
func (s *AgentStore) BusyCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM human_agents WHERE current_load > 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count busy agents: %w", err)
	}
	return n, nil
}

// Reconcile recomputes every agent's load from the pending escalations
// actually assigned to it. Run periodically to heal drift from crashes
// between a claim and its release.
func (s *AgentStore) Reconcile(ctx context.Context) error {
	update := s.bind(`
UPDATE human_agents
SET current_load = (
    SELECT COUNT(*) FROM escalations
    WHERE escalations.assigned_to = human_agents.id AND escalations.status = ?
)
`)

	if _, err := s.db.ExecContext(ctx, update, "pending"); err != nil {
		return fmt.Errorf("failed to reconcile agent loads: %w", err)
	}

	slog.Debug("Reconciled agent loads")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*HumanAgent, error) {
	var a HumanAgent
	var specialties, languages sql.NullString

	err := row.Scan(
		&a.ID, &a.Name, &specialties, &languages,
		&a.Status, &a.CurrentLoad, &a.MaxConcurrent, &a.LastActivity,
	)
	if err != nil {
		return nil, err
	}

	if specialties.Valid && specialties.String != "" && specialties.String != "null" {
		if err := json.Unmarshal([]byte(specialties.String), &a.Specialties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal specialties: %w", err)
		}
	}
	if languages.Valid && languages.String != "" && languages.String != "null" {
		if err := json.Unmarshal([]byte(languages.String), &a.Languages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal languages: %w", err)
		}
	}

	return &a, nil
}
