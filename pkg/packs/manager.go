package packs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/atlaspay/concierge/pkg/config"
)

// Manager resolves tenant -> pack -> capabilities.
//
// Base and application packs are loaded eagerly; per-tenant subscription
// files are loaded lazily and cached. Reload builds a complete new state and
// swaps it atomically, so in-flight readers never observe a half-updated
// configuration.
type Manager struct {
	cfg   config.PacksConfig
	state atomic.Pointer[state]
	group singleflight.Group
}

type state struct {
	basePacks map[string]PackDef
	appPacks  map[string]map[string]PackDef

	// tenants caches lazily loaded tenant files, keyed "<app>/<tenant>".
	tenants sync.Map
}

// NewManager loads pack definitions and fails fast when none exist.
func NewManager(cfg config.PacksConfig) (*Manager, error) {
	m := &Manager{cfg: cfg}

	st, err := m.loadState()
	if err != nil {
		return nil, err
	}
	if len(st.basePacks) == 0 && len(st.appPacks) == 0 {
		return nil, fmt.Errorf("no packs loaded from %s", cfg.BasePacksFile)
	}

	m.state.Store(st)
	return m, nil
}

// Reload re-reads all pack files and swaps the internal state atomically.
// The tenant cache starts empty in the new state so subscription changes are
// picked up too.
func (m *Manager) Reload() error {
	st, err := m.loadState()
	if err != nil {
		return fmt.Errorf("pack reload failed: %w", err)
	}
	m.state.Store(st)
	slog.Info("Pack configuration reloaded",
		"base_packs", len(st.basePacks),
		"applications", len(st.appPacks))
	return nil
}

func (m *Manager) loadState() (*state, error) {
	st := &state{
		basePacks: make(map[string]PackDef),
		appPacks:  make(map[string]map[string]PackDef),
	}

	data, err := os.ReadFile(m.cfg.BasePacksFile)
	if err == nil {
		var file BasePacksFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse base packs %s: %w", m.cfg.BasePacksFile, err)
		}
		st.basePacks = file.BasePacks
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read base packs: %w", err)
	}

	for app, path := range m.cfg.AppPackFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read packs for application %s: %w", app, err)
		}

		var raw map[string]map[string]PackDef
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse packs for application %s: %w", app, err)
		}

		packs, ok := raw[app+"_packs"]
		if !ok {
			return nil, fmt.Errorf("pack file %s missing %q section", path, app+"_packs")
		}
		st.appPacks[app] = packs
	}

	return st, nil
}

// tenantConfig lazily loads and caches the tenant's subscription file.
// Missing files resolve to an empty config; the caller falls back to the
// default pack.
func (m *Manager) tenantConfig(tenantID, application string) *TenantConfig {
	st := m.state.Load()
	key := application + "/" + tenantID

	if cached, ok := st.tenants.Load(key); ok {
		return cached.(*TenantConfig)
	}

	loaded, _, _ := m.group.Do(key, func() (any, error) {
		// Re-check: another caller may have filled the entry while we
		// waited on the flight group.
		if cached, ok := st.tenants.Load(key); ok {
			return cached, nil
		}

		cfg := &TenantConfig{}
		path := filepath.Join(m.cfg.TenantsDir, application, tenantID+".yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Tenant configuration not found",
				"tenant_id", tenantID,
				"application", application,
				"path", path)
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("Failed to parse tenant configuration",
				"tenant_id", tenantID,
				"application", application,
				"error", err)
			cfg = &TenantConfig{}
		}

		st.tenants.Store(key, cfg)
		return cfg, nil
	})

	return loaded.(*TenantConfig)
}

// Subscription returns the tenant's record for an application, or false when
// the tenant has none.
func (m *Manager) Subscription(tenantID, application string) (TenantAppSubscription, bool) {
	cfg := m.tenantConfig(tenantID, application)
	sub, ok := cfg.Filiale.Applications[application]
	return sub, ok
}

// PackOf returns the pack the tenant subscribes to for an application,
// defaulting to the configured minimal pack. Never fails.
func (m *Manager) PackOf(tenantID, application string) string {
	sub, ok := m.Subscription(tenantID, application)
	if !ok || sub.PackSouscrit == "" {
		return m.cfg.DefaultPack
	}
	return sub.PackSouscrit
}

// ResolvePack flattens a pack and its inherited base packs into
// capabilities. Pure: same definitions in, same capabilities out, and
// resolving an already resolved pack is a no-op by construction.
func (m *Manager) ResolvePack(application, packName string) Capabilities {
	st := m.state.Load()

	caps := Capabilities{
		PackName:        packName,
		Channels:        []string{"mobile"},
		AutomationLevel: m.cfg.DefaultAutomationLevel,
		Limits:          make(map[string]float64),
	}

	appPack, ok := st.appPacks[application][packName]
	if !ok {
		// A pack declared only at the base level still resolves.
		if basePack, baseOK := st.basePacks[packName]; baseOK {
			mergeCapabilities(&caps, basePack)
			return caps
		}
		return caps
	}

	for _, baseName := range appPack.InheritsBase {
		if basePack, baseOK := st.basePacks[baseName]; baseOK {
			mergeCapabilities(&caps, basePack)
		} else {
			slog.Warn("Unknown base pack referenced",
				"application", application,
				"pack", packName,
				"base", baseName)
		}
	}

	mergeCapabilities(&caps, appPack)

	if appPack.AutomationLevel != nil {
		caps.AutomationLevel = *appPack.AutomationLevel
	} else {
		caps.AutomationLevel = m.cfg.DefaultAutomationLevel
	}

	return caps
}

// Resolve returns the tenant's capabilities for an application.
func (m *Manager) Resolve(tenantID, application string) Capabilities {
	return m.ResolvePack(application, m.PackOf(tenantID, application))
}

// FeaturesOf returns the resolved feature set of a pack.
func (m *Manager) FeaturesOf(packName, application string) []string {
	return m.ResolvePack(application, packName).Features
}

// AgentsOf returns the resolved agent list of a pack.
func (m *Manager) AgentsOf(packName, application string) []string {
	return m.ResolvePack(application, packName).Agents
}

// LimitsOf returns the resolved quota map of a pack.
func (m *Manager) LimitsOf(packName, application string) map[string]float64 {
	return m.ResolvePack(application, packName).Limits
}

// AllowFeature reports whether the tenant's pack grants a feature.
func (m *Manager) AllowFeature(tenantID, application, feature string) bool {
	return m.Resolve(tenantID, application).HasFeature(feature)
}

// AllowAgent reports whether the tenant's pack grants an agent.
func (m *Manager) AllowAgent(tenantID, application, agent string) bool {
	return m.Resolve(tenantID, application).HasAgent(agent)
}

// WithinQuota reports whether current usage fits the pack's declared cap for
// a resource. Undeclared resources are unbounded.
func (m *Manager) WithinQuota(tenantID, application, resource string, current float64) bool {
	limits := m.Resolve(tenantID, application).Limits
	cap, declared := limits[resource]
	if !declared {
		return true
	}
	return current <= cap
}

// mergeCapabilities folds a pack definition into caps: union for set fields,
// last writer wins for channels.
func mergeCapabilities(caps *Capabilities, def PackDef) {
	caps.Features = unionAppend(caps.Features, def.Features)
	caps.Agents = unionAppend(caps.Agents, def.Agents)
	caps.Tools = unionAppend(caps.Tools, def.Tools)

	if len(def.Channels) > 0 {
		caps.Channels = append([]string(nil), def.Channels...)
	}
	for resource, limit := range def.Limits {
		caps.Limits[resource] = limit
	}
}

// unionAppend appends items not already present, preserving first-seen order.
func unionAppend(dst, add []string) []string {
	for _, item := range add {
		if !contains(dst, item) {
			dst = append(dst, item)
		}
	}
	return dst
}
