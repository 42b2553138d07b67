// Command concierge runs the multi-tenant banking assistant: the HTTP
// surface, knowledge ingestion, agent pool seeding and session retention.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/atlaspay/concierge/pkg/agents"
	"github.com/atlaspay/concierge/pkg/assistant"
	"github.com/atlaspay/concierge/pkg/auth"
	"github.com/atlaspay/concierge/pkg/config"
	"github.com/atlaspay/concierge/pkg/config/provider"
	"github.com/atlaspay/concierge/pkg/conversation"
	"github.com/atlaspay/concierge/pkg/embedders"
	"github.com/atlaspay/concierge/pkg/escalation"
	"github.com/atlaspay/concierge/pkg/knowledge"
	"github.com/atlaspay/concierge/pkg/llms"
	"github.com/atlaspay/concierge/pkg/logger"
	"github.com/atlaspay/concierge/pkg/metrics"
	"github.com/atlaspay/concierge/pkg/packs"
	"github.com/atlaspay/concierge/pkg/server"
)

type cli struct {
	Config string `short:"c" default:"concierge.yaml" help:"Configuration file."`

	Serve  serveCmd  `cmd:"" default:"1" help:"Run the HTTP server."`
	Ingest ingestCmd `cmd:"" help:"Ingest documents into a tenant's knowledge base."`
	Seed   seedCmd   `cmd:"" help:"Register human agents from a YAML file."`
	Sweep  sweepCmd  `cmd:"" help:"Delete closed sessions past the retention period."`
	Token  tokenCmd  `cmd:"" help:"Issue an ops JWT."`
}

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	var c cli
	ctx := kong.Parse(&c,
		kong.Name("concierge"),
		kong.Description("Multi-tenant banking assistant."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&c); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}

func openDatabase(cfg *config.DatabaseConfig) (*sql.DB, error) {
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
	return db, nil
}

type serveCmd struct{}

func (s *serveCmd) Run(c *cli) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	convStore, err := conversation.NewSQLStore(db, cfg.Database.Driver, cfg.Conversation)
	if err != nil {
		return err
	}
	agentStore, err := escalation.NewAgentStore(db, cfg.Database.Driver)
	if err != nil {
		return err
	}

	packsManager, err := packs.NewManager(cfg.Packs)
	if err != nil {
		return err
	}

	vectorProvider, err := knowledge.NewProvider(cfg.VectorStore)
	if err != nil {
		return err
	}
	knowledgeStore := knowledge.NewStore(cfg.Application, vectorProvider, embedders.NewManager(cfg.Embedders))
	defer knowledgeStore.Close()

	llmRegistry, err := llms.NewRegistryFromConfig(cfg.LLMs, cfg.DefaultLLM)
	if err != nil {
		return err
	}
	llm, err := llmRegistry.Default()
	if err != nil {
		return fmt.Errorf("a default LLM is required to serve: %w", err)
	}

	orchestrator, err := agents.NewFromConfig(llm, cfg.Agents, knowledgeStore)
	if err != nil {
		return err
	}

	detector := escalation.NewDetector(cfg.Escalation)
	router := escalation.NewRouter(agentStore)
	builder := escalation.NewBuilder(convStore, packsManager)
	collector := metrics.NewCollector()

	pipeline := assistant.NewPipeline(
		cfg.Application, convStore, packsManager, orchestrator,
		detector, router, builder, collector,
	)

	// Hot-reload escalation rules and pack definitions on config changes.
	fileProvider, err := provider.NewFileProvider(c.Config)
	if err != nil {
		return err
	}
	loader := config.NewLoader(fileProvider, config.WithOnChange(func(newCfg *config.Config) {
		detector.UpdateRules(newCfg.Escalation)
		if err := packsManager.Reload(); err != nil {
			slog.Error("Pack reload failed", "error", err)
		}
	}))
	defer loader.Close()
	go func() {
		if err := loader.Watch(ctx); err != nil && err != context.Canceled {
			slog.Error("Config watch stopped", "error", err)
		}
	}()

	// Heal agent load counters left over from a previous run, then seed the
	// busy gauge from the reconciled pool.
	if err := agentStore.Reconcile(ctx); err != nil {
		slog.Warn("Agent load reconciliation failed", "error", err)
	}
	if busy, err := agentStore.BusyCount(ctx); err != nil {
		slog.Warn("Busy agent count failed", "error", err)
	} else {
		collector.SetBusyAgents(busy)
	}

	httpServer := server.New(cfg.Server, pipeline, auth.NewAuthenticator(cfg.Auth), collector, agentStore)
	return httpServer.Start(ctx)
}

type ingestCmd struct {
	Tenant   string `required:"" help:"Tenant the documents belong to."`
	Source   string `arg:"" type:"path" help:"Document file or directory."`
	Category string `help:"Category stamped on every chunk."`
}

func (i *ingestCmd) Run(c *cli) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	vectorProvider, err := knowledge.NewProvider(cfg.VectorStore)
	if err != nil {
		return err
	}
	store := knowledge.NewStore(cfg.Application, vectorProvider, embedders.NewManager(cfg.Embedders))
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files, err := collectDocuments(i.Source)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no ingestable documents under %s", i.Source)
	}

	total := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		count, err := store.Ingest(ctx, i.Tenant, filepath.Base(path), i.Category, string(data))
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}
		total += count
		slog.Info("Document ingested", "file", path, "chunks", count)
	}

	fmt.Printf("Ingested %d chunks from %d documents for tenant %s\n", total, len(files), i.Tenant)
	return nil
}

// collectDocuments lists the text documents under path, or path itself when
// it is a file.
func collectDocuments(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".txt", ".md":
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

type seedCmd struct {
	File string `arg:"" type:"existingfile" help:"Agent definitions YAML."`
}

type seedFile struct {
	Agents []escalation.HumanAgent `yaml:"agents"`
}

func (s *seedCmd) Run(c *cli) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(s.File)
	if err != nil {
		return err
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.File, err)
	}
	if len(seed.Agents) == 0 {
		return fmt.Errorf("no agents defined in %s", s.File)
	}

	db, err := openDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	agentStore, err := escalation.NewAgentStore(db, cfg.Database.Driver)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := range seed.Agents {
		agent := seed.Agents[i]
		if err := agentStore.Register(ctx, &agent); err != nil {
			return fmt.Errorf("failed to register agent %s: %w", agent.ID, err)
		}
		slog.Info("Agent registered", "agent_id", agent.ID, "name", agent.Name)
	}

	fmt.Printf("Registered %d agents\n", len(seed.Agents))
	return nil
}

type sweepCmd struct{}

func (s *sweepCmd) Run(c *cli) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	db, err := openDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := conversation.NewSQLStore(db, cfg.Database.Driver, cfg.Conversation)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	retention := time.Duration(cfg.Conversation.RetentionDays) * 24 * time.Hour
	removed, err := store.Sweep(ctx, retention)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d sessions older than %d days\n", removed, cfg.Conversation.RetentionDays)
	return nil
}

type tokenCmd struct {
	Subject string `required:"" help:"Token subject."`
	Role    string `default:"admin" help:"Token role."`
}

func (t *tokenCmd) Run(c *cli) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	signed, err := auth.NewAuthenticator(cfg.Auth).IssueToken(t.Subject, t.Role)
	if err != nil {
		return err
	}

	fmt.Println(signed)
	return nil
}
