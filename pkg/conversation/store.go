package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/atlaspay/concierge/pkg/config"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements the conversation store on PostgreSQL, MySQL or SQLite
// via database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect string

	idleWindow time.Duration
	cache      *contextCache
	group      singleflight.Group

	now func() time.Time
}

// Schema statements are executed one at a time so every dialect accepts
// them. Indexes live in separate statements instead of inline table options.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    tenant_id VARCHAR(255) NOT NULL,
    application VARCHAR(255) NOT NULL,
    pack_level VARCHAR(50) NOT NULL,
    channel VARCHAR(50) NOT NULL,
    language VARCHAR(10),
    status VARCHAR(50) NOT NULL,
    context TEXT,
    metadata TEXT,
    active_key VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    closed_at TIMESTAMP NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_lookup ON sessions(user_id, tenant_id, application, status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,
	// active_key is set only while a session is active, so the unique index
	// admits at most one active session per (user, tenant, application) on
	// every supported dialect. NULLs never collide.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_key ON sessions(active_key)`,
	`CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    agent_used VARCHAR(255),
    tools_used TEXT,
    tokens_consumed INTEGER,
    confidence DOUBLE PRECISION,
    response_time_ms INTEGER,
    metadata TEXT,
    timestamp TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
	`CREATE TABLE IF NOT EXISTS agent_actions (
    id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    agent_name VARCHAR(255) NOT NULL,
    action_type VARCHAR(255) NOT NULL,
    action_data TEXT,
    success BOOLEAN NOT NULL,
    execution_time_ms INTEGER,
    timestamp TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_actions_session_id ON agent_actions(session_id)`,
	`CREATE TABLE IF NOT EXISTS escalations (
    id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    escalation_reason TEXT NOT NULL,
    escalation_type VARCHAR(50) NOT NULL,
    priority VARCHAR(50) NOT NULL,
    assigned_to VARCHAR(255),
    status VARCHAR(50) NOT NULL,
    context TEXT,
    escalated_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP NULL,
    resolution_notes TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_session_id ON escalations(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status)`,
}

// NewSQLStore creates a store on an existing connection.
func NewSQLStore(db *sql.DB, dialect string, conv config.ConversationConfig) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
		// Valid
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{
		db:         db,
		dialect:    dialect,
		idleWindow: time.Duration(conv.IdleWindowMinutes) * time.Minute,
		cache:      newContextCache(time.Duration(conv.CacheTTLSeconds) * time.Second),
		now:        time.Now,
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// NewSQLStoreFromConfig opens the configured database and creates the store.
func NewSQLStoreFromConfig(cfg *config.DatabaseConfig, conv config.ConversationConfig) (*SQLStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := sql.Open(cfg.DriverName(), cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewSQLStore(db, cfg.Driver, conv)
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// bind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) bind(query string) string {
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

const sessionColumns = `id, user_id, tenant_id, application, pack_level, channel, language, status, context, metadata, created_at, updated_at, closed_at`

// activeKey is the value held in the unique active-session slot while a
// session is active.
func activeKey(p SessionParams) string {
	return p.UserID + "|" + p.TenantID + "|" + p.Application
}

// GetOrCreateSession returns the user's active session if it saw activity
// within the idle window, otherwise creates a new one. A session idle for
// exactly the window length is expired. The unique index on active_key keeps
// concurrent first messages from minting two sessions: the loser's insert is
// rejected and its retry adopts the winner's row.
func (s *SQLStore) GetOrCreateSession(ctx context.Context, p SessionParams) (*Session, bool, error) {
	session, created, err := s.getOrCreateSession(ctx, p)
	if err != nil {
		session, created, err = s.getOrCreateSession(ctx, p)
	}
	return session, created, err
}

func (s *SQLStore) getOrCreateSession(ctx context.Context, p SessionParams) (*Session, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	cutoff := now.Add(-s.idleWindow)
	key := activeKey(p)

	query := s.bind(`SELECT ` + sessionColumns + ` FROM sessions WHERE active_key = ?`)

	session, err := scanSession(tx.QueryRowContext(ctx, query, key))
	switch {
	case err == nil && session.UpdatedAt.After(cutoff):
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit: %w", err)
		}
		return session, false, nil
	case err == nil:
		// Idle past the window: expire the old session so the slot frees up.
		expire := s.bind(`UPDATE sessions SET status = ?, closed_at = ?, updated_at = ?, active_key = NULL WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, expire, StatusClosed, now, now, session.ID); err != nil {
			return nil, false, fmt.Errorf("failed to expire session: %w", err)
		}
	case err != sql.ErrNoRows:
		return nil, false, fmt.Errorf("failed to query session: %w", err)
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	session = &Session{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		TenantID:    p.TenantID,
		Application: p.Application,
		PackLevel:   p.PackLevel,
		Channel:     p.Channel,
		Language:    p.Language,
		Status:      StatusActive,
		Context:     map[string]any{},
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	insert := s.bind(`
INSERT INTO sessions (id, user_id, tenant_id, application, pack_level, channel, language, status, context, metadata, active_key, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)

	_, err = tx.ExecContext(ctx, insert,
		session.ID, session.UserID, session.TenantID, session.Application,
		session.PackLevel, session.Channel, session.Language, session.Status,
		"{}", string(metadataJSON), key,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}

	slog.Info("Created new session",
		"session_id", session.ID,
		"user_id", p.UserID,
		"tenant_id", p.TenantID)

	return session, true, nil
}

// GetSession loads one session by ID.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := s.bind(`SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`)

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// AppendMessage inserts a message and bumps the session's activity
// timestamp in one transaction, keeping the idle window accurate.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}

	toolsJSON, err := json.Marshal(msg.ToolsUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := s.bind(`
INSERT INTO messages (id, session_id, role, content, agent_used, tools_used, tokens_consumed, confidence, response_time_ms, metadata, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)

	_, err = tx.ExecContext(ctx, insert,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.AgentUsed,
		string(toolsJSON), msg.TokensConsumed, msg.Confidence, msg.ResponseTimeMs,
		string(metadataJSON), msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	update := s.bind(`UPDATE sessions SET updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, msg.Timestamp, msg.SessionID); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.cache.invalidate(msg.SessionID)
	return nil
}

// History returns a session's messages in chronological order.
func (s *SQLStore) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.bind(`
SELECT id, session_id, role, content, agent_used, tools_used, tokens_consumed, confidence, response_time_ms, metadata, timestamp
FROM messages
WHERE session_id = ?
ORDER BY timestamp ASC
LIMIT ?
`)

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// RecordAgentAction appends one agent execution to the session's trail.
func (s *SQLStore) RecordAgentAction(ctx context.Context, action *AgentAction) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = s.now().UTC()
	}

	insert := s.bind(`
INSERT INTO agent_actions (id, session_id, agent_name, action_type, action_data, success, execution_time_ms, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`)

	_, err := s.db.ExecContext(ctx, insert,
		action.ID, action.SessionID, action.AgentName, action.ActionType,
		action.ActionData, action.Success, action.ExecutionTimeMs, action.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent action: %w", err)
	}

	s.cache.invalidate(action.SessionID)
	return nil
}

// CreateEscalation records the handoff and flips the session status in one
// transaction, so a session is never escalated without its record.
func (s *SQLStore) CreateEscalation(ctx context.Context, esc *Escalation) error {
	if esc.ID == "" {
		esc.ID = uuid.NewString()
	}
	if esc.EscalatedAt.IsZero() {
		esc.EscalatedAt = s.now().UTC()
	}
	if esc.Type == "" {
		esc.Type = "human_agent"
	}
	if esc.Status == "" {
		esc.Status = EscalationPending
	}

	contextJSON, err := json.Marshal(esc.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := s.bind(`
INSERT INTO escalations (id, session_id, escalation_reason, escalation_type, priority, assigned_to, status, context, escalated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`)

	_, err = tx.ExecContext(ctx, insert,
		esc.ID, esc.SessionID, esc.Reason, esc.Type,
		esc.Priority, esc.AssignedTo, esc.Status, string(contextJSON), esc.EscalatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert escalation: %w", err)
	}

	// An escalated session no longer holds the active slot.
	update := s.bind(`UPDATE sessions SET status = ?, updated_at = ?, active_key = NULL WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, StatusEscalated, esc.EscalatedAt, esc.SessionID); err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.cache.invalidate(esc.SessionID)

	slog.Info("Escalation created",
		"escalation_id", esc.ID,
		"session_id", esc.SessionID,
		"priority", esc.Priority,
		"assigned_to", esc.AssignedTo)

	return nil
}

// CloseSession marks a session closed, stamping closed_at and recording the
// reason in the session metadata. Closing an already closed session is a
// no-op beyond refreshing the timestamp.
func (s *SQLStore) CloseSession(ctx context.Context, sessionID, reason string) error {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.bind(`SELECT metadata FROM sessions WHERE id = ?`)

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, query, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query session: %w", err)
	}

	metadata := map[string]any{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if reason != "" {
		metadata["close_reason"] = reason
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	update := s.bind(`UPDATE sessions SET status = ?, closed_at = ?, updated_at = ?, metadata = ?, active_key = NULL WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, StatusClosed, now, now, string(metadataJSON), sessionID); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.cache.invalidate(sessionID)
	return nil
}

// UpdateContext shallow-merges a patch into the session's context JSON.
// Existing keys not named in the patch survive.
func (s *SQLStore) UpdateContext(ctx context.Context, sessionID string, patch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.bind(`SELECT context FROM sessions WHERE id = ?`)

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, query, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query context: %w", err)
	}

	merged := map[string]any{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &merged); err != nil {
			return fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}
	for k, v := range patch {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	update := s.bind(`UPDATE sessions SET context = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, string(data), sessionID); err != nil {
		return fmt.Errorf("failed to update context: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.cache.invalidate(sessionID)
	return nil
}

// Context returns the full session view. Results are cached briefly and
// concurrent fills for the same session are collapsed into one query.
func (s *SQLStore) Context(ctx context.Context, sessionID string) (*Context, error) {
	if cached, ok := s.cache.get(sessionID); ok {
		return cached, nil
	}

	v, err, _ := s.group.Do(sessionID, func() (any, error) {
		view, err := s.loadContext(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		s.cache.put(sessionID, view)
		return view, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Context), nil
}

func (s *SQLStore) loadContext(ctx context.Context, sessionID string) (*Context, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := s.History(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}

	query := s.bind(`
SELECT id, session_id, agent_name, action_type, action_data, success, execution_time_ms, timestamp
FROM agent_actions
WHERE session_id = ?
ORDER BY timestamp ASC
`)

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent actions: %w", err)
	}
	defer rows.Close()

	var actions []AgentAction
	failed := 0
	for rows.Next() {
		var a AgentAction
		var data sql.NullString
		var execMs sql.NullInt64
		err := rows.Scan(&a.ID, &a.SessionID, &a.AgentName, &a.ActionType, &data, &a.Success, &execMs, &a.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent action: %w", err)
		}
		a.ActionData = data.String
		a.ExecutionTimeMs = int(execMs.Int64)
		if !a.Success {
			failed++
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	escalations, err := s.activeEscalations(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Context{
		Session:         *session,
		Messages:        messages,
		AgentActions:    actions,
		Escalations:     escalations,
		TotalMessages:   len(messages),
		DurationMinutes: session.UpdatedAt.Sub(session.CreatedAt).Minutes(),
		FailedActions:   failed,
	}, nil
}

// activeEscalations returns the session's escalations still awaiting a human
// outcome, oldest first.
func (s *SQLStore) activeEscalations(ctx context.Context, sessionID string) ([]Escalation, error) {
	query := s.bind(`
SELECT id, session_id, escalation_reason, escalation_type, priority, assigned_to, status, context, escalated_at, resolved_at, resolution_notes
FROM escalations
WHERE session_id = ? AND status IN (?, ?)
ORDER BY escalated_at ASC
`)

	rows, err := s.db.QueryContext(ctx, query, sessionID, EscalationPending, EscalationInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}
	defer rows.Close()

	var escalations []Escalation
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		escalations = append(escalations, *esc)
	}

	return escalations, rows.Err()
}

// SessionStats aggregates one session for the metrics surface.
func (s *SQLStore) SessionStats(ctx context.Context, sessionID string) (*Stats, error) {
	view, err := s.Context(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalMessages:   view.TotalMessages,
		MessagesByRole:  make(map[string]int),
		DurationMinutes: view.DurationMinutes,
	}

	var confidenceSum, responseSum float64
	var assistantCount int
	for _, msg := range view.Messages {
		stats.MessagesByRole[msg.Role]++
		stats.TotalTokens += msg.TokensConsumed
		if msg.Role == RoleAssistant {
			assistantCount++
			confidenceSum += msg.Confidence
			responseSum += float64(msg.ResponseTimeMs)
		}
	}

	if stats.TotalMessages > 0 {
		stats.AvgTokens = float64(stats.TotalTokens) / float64(stats.TotalMessages)
	}
	if assistantCount > 0 {
		stats.AvgConfidence = confidenceSum / float64(assistantCount)
		stats.AvgResponseTimeMs = responseSum / float64(assistantCount)
	}

	return stats, nil
}

// UserStats summarizes a user's sessions since a cutoff, for the handoff
// profile given to human agents.
func (s *SQLStore) UserStats(ctx context.Context, userID, tenantID string, since time.Time) (*UserStats, error) {
	query := s.bind(`
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
       MAX(created_at)
FROM sessions
WHERE user_id = ? AND tenant_id = ? AND created_at > ?
`)

	var stats UserStats
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, query, StatusEscalated, userID, tenantID, since).
		Scan(&stats.TotalSessions, &stats.EscalatedSessions, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to query user stats: %w", err)
	}

	if last.Valid {
		stats.LastSessionAt = last.Time
	}
	return &stats, nil
}

// DailyStats aggregates the last 24 hours across all sessions, for the
// operational metrics endpoint.
func (s *SQLStore) DailyStats(ctx context.Context, tenantID string) (*DailyStats, error) {
	since := s.now().UTC().Add(-24 * time.Hour)

	stats := &DailyStats{Since: since}

	sessionsQuery := s.bind(`
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
FROM sessions
WHERE tenant_id = ? AND created_at > ?
`)
	err := s.db.QueryRowContext(ctx, sessionsQuery, StatusActive, StatusEscalated, tenantID, since).
		Scan(&stats.Conversations, &stats.ActiveSessions, &stats.EscalatedSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sessions: %w", err)
	}

	messagesQuery := s.bind(`
SELECT COUNT(*),
       COALESCE(SUM(m.tokens_consumed), 0),
       COALESCE(AVG(CASE WHEN m.role = ? THEN m.response_time_ms END), 0)
FROM messages m
JOIN sessions s ON s.id = m.session_id
WHERE s.tenant_id = ? AND m.timestamp > ?
`)
	err = s.db.QueryRowContext(ctx, messagesQuery, RoleAssistant, tenantID, since).
		Scan(&stats.Messages, &stats.TokensConsumed, &stats.AvgResponseTimeMs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate messages: %w", err)
	}

	if stats.Conversations > 0 {
		stats.EscalationRate = float64(stats.EscalatedSessions) / float64(stats.Conversations)
	}
	return stats, nil
}

// Sweep deletes closed sessions idle past the retention period, along with
// their messages, actions and escalations. Returns the session count removed.
func (s *SQLStore) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-retention)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub := `SELECT id FROM sessions WHERE status = ? AND updated_at < ?`
	for _, table := range []string{"messages", "agent_actions", "escalations"} {
		del := s.bind(fmt.Sprintf(`DELETE FROM %s WHERE session_id IN (%s)`, table, sub))
		if _, err := tx.ExecContext(ctx, del, StatusClosed, cutoff); err != nil {
			return 0, fmt.Errorf("failed to sweep %s: %w", table, err)
		}
	}

	del := s.bind(`DELETE FROM sessions WHERE status = ? AND updated_at < ?`)
	res, err := tx.ExecContext(ctx, del, StatusClosed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("Swept expired sessions", "count", n, "cutoff", cutoff)
	}
	return int(n), nil
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var language, contextJSON, metadataJSON sql.NullString
	var closedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.UserID, &s.TenantID, &s.Application, &s.PackLevel,
		&s.Channel, &language, &s.Status, &contextJSON, &metadataJSON,
		&s.CreatedAt, &s.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Language = language.String
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}

	s.Context = map[string]any{}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &s.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session context: %w", err)
		}
	}
	s.Metadata = map[string]any{}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
		}
	}

	return &s, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var agentUsed, toolsJSON, metadataJSON sql.NullString
	var tokens, responseMs sql.NullInt64
	var confidence sql.NullFloat64

	err := row.Scan(
		&m.ID, &m.SessionID, &m.Role, &m.Content, &agentUsed,
		&toolsJSON, &tokens, &confidence, &responseMs, &metadataJSON, &m.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	m.AgentUsed = agentUsed.String
	m.TokensConsumed = int(tokens.Int64)
	m.Confidence = confidence.Float64
	m.ResponseTimeMs = int(responseMs.Int64)

	if toolsJSON.Valid && toolsJSON.String != "" && toolsJSON.String != "null" {
		if err := json.Unmarshal([]byte(toolsJSON.String), &m.ToolsUsed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tools: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
	}

	return &m, nil
}

func scanEscalation(row rowScanner) (*Escalation, error) {
	var e Escalation
	var assignedTo, contextJSON, notes sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.SessionID, &e.Reason, &e.Type, &e.Priority,
		&assignedTo, &e.Status, &contextJSON, &e.EscalatedAt, &resolvedAt, &notes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan escalation: %w", err)
	}

	e.AssignedTo = assignedTo.String
	e.ResolutionNotes = notes.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}

	if contextJSON.Valid && contextJSON.String != "" && contextJSON.String != "null" {
		if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal escalation context: %w", err)
		}
	}

	return &e, nil
}
