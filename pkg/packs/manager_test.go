package packs

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspay/concierge/pkg/config"
)

const basePacksYAML = `
base_packs:
  standard_support:
    features: [faq_search, balance_inquiry]
    agents: [customer_service]
    tools: [faq_search]
    limits:
      daily_requests: 1000
  extended_support:
    features: [transfer_tracking]
    agents: [operations_specialist]
    tools: [transfer_status]
    limits:
      daily_requests: 5000
`

const appPacksYAML = `
atlas_money_packs:
  basic:
    inherits_base: [standard_support]
    automation_level: 40
    channels: [mobile]
  advanced:
    inherits_base: [standard_support, extended_support]
    features: [transfer_cancellation]
    agents: [complaint_handler]
    automation_level: 70
    channels: [mobile, web]
    limits:
      daily_requests: 10000
  premium:
    inherits_base: [standard_support, extended_support]
    features: [transfer_cancellation, priority_support]
    agents: [complaint_handler]
    channels: [mobile, web, ussd]
`

const tenantYAML = `
filiale:
  id: atlas_ci
  name: "Atlas Côte d'Ivoire"
  applications:
    atlas_money:
      active: true
      pack_souscrit: advanced
      knowledge_base:
        collection: atlas_money_atlas_ci
`

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	dir := t.TempDir()

	basePath := filepath.Join(dir, "base_packs.yaml")
	require.NoError(t, os.WriteFile(basePath, []byte(basePacksYAML), 0o644))

	appPath := filepath.Join(dir, "atlas_money_packs.yaml")
	require.NoError(t, os.WriteFile(appPath, []byte(appPacksYAML), 0o644))

	tenantsDir := filepath.Join(dir, "tenants")
	require.NoError(t, os.MkdirAll(filepath.Join(tenantsDir, "atlas_money"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(tenantsDir, "atlas_money", "atlas_ci.yaml"),
		[]byte(tenantYAML), 0o644))

	cfg := config.PacksConfig{
		BasePacksFile: basePath,
		AppPackFiles:  map[string]string{"atlas_money": appPath},
		TenantsDir:    tenantsDir,
	}
	cfg.SetDefaults()

	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestPackOf(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, "advanced", m.PackOf("atlas_ci", "atlas_money"))

	// Unknown tenants never fail; they get the default pack.
	assert.Equal(t, "basic", m.PackOf("atlas_xx", "atlas_money"))
}

func TestResolveInheritance(t *testing.T) {
	m := newTestManager(t)

	caps := m.ResolvePack("atlas_money", "advanced")

	assert.Equal(t, "advanced", caps.PackName)
	assert.ElementsMatch(t,
		[]string{"faq_search", "balance_inquiry", "transfer_tracking", "transfer_cancellation"},
		caps.Features)
	assert.ElementsMatch(t,
		[]string{"customer_service", "operations_specialist", "complaint_handler"},
		caps.Agents)
	assert.Equal(t, []string{"mobile", "web"}, caps.Channels)
	assert.Equal(t, 70, caps.AutomationLevel)

	// App pack limit overrides the inherited base limits.
	assert.Equal(t, float64(10000), caps.Limits["daily_requests"])
}

func TestResolveIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	first := m.ResolvePack("atlas_money", "premium")
	second := m.ResolvePack("atlas_money", "premium")

	assert.Equal(t, first, second)
}

func TestResolveDefaultsWhenPackUnknown(t *testing.T) {
	m := newTestManager(t)

	caps := m.ResolvePack("atlas_money", "nonexistent")

	assert.Empty(t, caps.Features)
	assert.Equal(t, []string{"mobile"}, caps.Channels)
	assert.Equal(t, 30, caps.AutomationLevel)
}

func TestResolveBaseOnlyPack(t *testing.T) {
	m := newTestManager(t)

	caps := m.ResolvePack("atlas_money", "standard_support")

	assert.ElementsMatch(t, []string{"faq_search", "balance_inquiry"}, caps.Features)
}

func TestAutomationLevelDefault(t *testing.T) {
	m := newTestManager(t)

	// premium declares no automation_level: the default applies.
	caps := m.ResolvePack("atlas_money", "premium")
	assert.Equal(t, 30, caps.AutomationLevel)
}

func TestAllowFeatureAndAgent(t *testing.T) {
	m := newTestManager(t)

	assert.True(t, m.AllowFeature("atlas_ci", "atlas_money", "transfer_cancellation"))
	assert.False(t, m.AllowFeature("atlas_ci", "atlas_money", "priority_support"))

	assert.True(t, m.AllowAgent("atlas_ci", "atlas_money", "complaint_handler"))
	assert.False(t, m.AllowAgent("atlas_xx", "atlas_money", "complaint_handler"))
}

func TestWithinQuota(t *testing.T) {
	m := newTestManager(t)

	assert.True(t, m.WithinQuota("atlas_ci", "atlas_money", "daily_requests", 10000))
	assert.False(t, m.WithinQuota("atlas_ci", "atlas_money", "daily_requests", 10001))

	// Undeclared resources are unbounded.
	assert.True(t, m.WithinQuota("atlas_ci", "atlas_money", "monthly_exports", 1e9))
}

func TestReloadProducesSameResolution(t *testing.T) {
	m := newTestManager(t)

	before := m.Resolve("atlas_ci", "atlas_money")
	require.NoError(t, m.Reload())
	after := m.Resolve("atlas_ci", "atlas_money")

	assert.Equal(t, before, after)
}

func TestConcurrentTenantLoads(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "advanced", m.PackOf("atlas_ci", "atlas_money"))
		}()
	}
	wg.Wait()
}

func TestNewManagerFailsWithoutPacks(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PacksConfig{
		BasePacksFile: filepath.Join(dir, "missing.yaml"),
		TenantsDir:    dir,
	}
	cfg.SetDefaults()

	_, err := NewManager(cfg)
	assert.Error(t, err)
}
