package config

import "fmt"

// PacksConfig points the capability resolver at its definition files.
//
// Base packs live in a single file; each application contributes its own
// pack file keyed "<app>_packs"; tenants get one file each under
// tenants_dir/<app>/<tenant_id>.yaml.
type PacksConfig struct {
	// BasePacksFile holds the shared base pack definitions.
	BasePacksFile string `yaml:"base_packs_file"`

	// AppPackFiles maps application id -> pack definition file.
	AppPackFiles map[string]string `yaml:"app_pack_files"`

	// TenantsDir holds per-tenant subscription files, one directory per
	// application.
	TenantsDir string `yaml:"tenants_dir"`

	// DefaultPack is subscribed implicitly when a tenant has no record.
	DefaultPack string `yaml:"default_pack"`

	// DefaultAutomationLevel applies when a pack declares none.
	DefaultAutomationLevel int `yaml:"default_automation_level"`
}

func (c *PacksConfig) SetDefaults() {
	if c.BasePacksFile == "" {
		c.BasePacksFile = "config/base_packs.yaml"
	}
	if c.TenantsDir == "" {
		c.TenantsDir = "config/tenants"
	}
	if c.DefaultPack == "" {
		c.DefaultPack = "basic"
	}
	if c.DefaultAutomationLevel == 0 {
		c.DefaultAutomationLevel = 30
	}
}

func (c *PacksConfig) Validate() error {
	if c.BasePacksFile == "" {
		return fmt.Errorf("base_packs_file is required")
	}
	return nil
}

// AgentsConfig points the orchestrator at its agent and task definitions.
type AgentsConfig struct {
	// AgentFiles list the YAML files holding agent descriptors. Later files
	// override earlier ones on name collision.
	AgentFiles []string `yaml:"agent_files"`

	// TasksFile holds the task descriptors.
	TasksFile string `yaml:"tasks_file"`

	// CrewTimeoutSeconds bounds a full crew run before the orchestrator
	// degrades to the minimal tier.
	CrewTimeoutSeconds int `yaml:"crew_timeout_seconds"`

	// MinimalTimeoutSeconds bounds the single-agent degraded run.
	MinimalTimeoutSeconds int `yaml:"minimal_timeout_seconds"`

	// KnowledgeTopK is how many knowledge hits are folded into prompts.
	KnowledgeTopK int `yaml:"knowledge_top_k"`
}

func (c *AgentsConfig) SetDefaults() {
	if len(c.AgentFiles) == 0 {
		c.AgentFiles = []string{"config/agents.yaml"}
	}
	if c.TasksFile == "" {
		c.TasksFile = "config/tasks.yaml"
	}
	if c.CrewTimeoutSeconds == 0 {
		c.CrewTimeoutSeconds = 45
	}
	if c.MinimalTimeoutSeconds == 0 {
		c.MinimalTimeoutSeconds = 20
	}
	if c.KnowledgeTopK == 0 {
		c.KnowledgeTopK = 3
	}
}

// ConversationConfig tunes session lifecycle and context caching.
type ConversationConfig struct {
	// IdleWindowMinutes is how long an active session accepts new messages
	// before a fresh one is created.
	IdleWindowMinutes int `yaml:"idle_window_minutes"`

	// CacheTTLSeconds bounds the in-process context cache.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	// HistoryLimit is the default message page size.
	HistoryLimit int `yaml:"history_limit"`

	// ContextMessages is how many recent messages the context aggregate
	// carries.
	ContextMessages int `yaml:"context_messages"`

	// RetentionDays for the closed-session sweep.
	RetentionDays int `yaml:"retention_days"`
}

func (c *ConversationConfig) SetDefaults() {
	if c.IdleWindowMinutes == 0 {
		c.IdleWindowMinutes = 30
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 300
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 50
	}
	if c.ContextMessages == 0 {
		c.ContextMessages = 10
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 90
	}
}
