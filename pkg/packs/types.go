// Package packs resolves tenant subscriptions into capabilities.
//
// A pack is a named bundle of features, agents, tools, channels and quotas.
// Application packs inherit from base packs; resolution flattens the DAG into
// a single Capabilities value. Resolution is pure: the same pack definitions
// always produce the same capabilities.
package packs

// PackDef is a pack as declared in YAML, either as a base pack or an
// application pack.
type PackDef struct {
	// InheritsBase lists base packs merged in before this pack's own fields.
	InheritsBase []string `yaml:"inherits_base,omitempty"`

	Features []string `yaml:"features,omitempty"`
	Agents   []string `yaml:"agents,omitempty"`
	Tools    []string `yaml:"tools,omitempty"`

	// Channels is ordered; last writer wins on merge.
	Channels []string `yaml:"channels,omitempty"`

	// AutomationLevel 0-100. Nil means "inherit or default".
	AutomationLevel *int `yaml:"automation_level,omitempty"`

	// Limits maps resource name -> numeric cap.
	Limits map[string]float64 `yaml:"limits,omitempty"`
}

// Capabilities is a fully resolved pack.
type Capabilities struct {
	PackName        string
	Features        []string
	Agents          []string
	Tools           []string
	Channels        []string
	AutomationLevel int
	Limits          map[string]float64
}

// HasFeature reports whether the resolved feature set contains name.
func (c Capabilities) HasFeature(name string) bool {
	return contains(c.Features, name)
}

// HasAgent reports whether the resolved agent set contains name.
func (c Capabilities) HasAgent(name string) bool {
	return contains(c.Agents, name)
}

// HasTool reports whether the resolved tool set contains name.
func (c Capabilities) HasTool(name string) bool {
	return contains(c.Tools, name)
}

func contains(items []string, name string) bool {
	for _, item := range items {
		if item == name {
			return true
		}
	}
	return false
}

// BasePacksFile is the YAML shape of the base pack definitions.
type BasePacksFile struct {
	BasePacks map[string]PackDef `yaml:"base_packs"`
}

// TenantAppSubscription is a tenant's record for one application.
type TenantAppSubscription struct {
	Active        bool              `yaml:"active"`
	PackSouscrit  string            `yaml:"pack_souscrit"`
	KnowledgeBase map[string]string `yaml:"knowledge_base,omitempty"`
	Databases     map[string]string `yaml:"databases,omitempty"`
}

// TenantConfig is the per-tenant YAML file.
type TenantConfig struct {
	Filiale struct {
		ID           string                            `yaml:"id"`
		Name         string                            `yaml:"name"`
		Applications map[string]TenantAppSubscription `yaml:"applications"`
	} `yaml:"filiale"`
}
