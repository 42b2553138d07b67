// Package agents assembles role-typed reasoning units into crews and
// executes them against user queries with tiered fallback, so a reply
// always comes back in bounded time even when the language model is down.
package agents

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// AgentDef describes one reasoning unit, loaded from YAML.
type AgentDef struct {
	Role            string   `yaml:"role"`
	Goal            string   `yaml:"goal"`
	Backstory       string   `yaml:"backstory"`
	Tools           []string `yaml:"tools"`
	MaxIter         int      `yaml:"max_iter"`
	Memory          bool     `yaml:"memory"`
	Verbose         bool     `yaml:"verbose"`
	AllowDelegation bool     `yaml:"allow_delegation"`
	RequiredPack    string   `yaml:"required_pack"`
}

// TaskDef describes one unit of crew work. Tasks run sequentially by
// ascending Order, ties broken by name.
type TaskDef struct {
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
	Agent          string `yaml:"agent"`
	Order          int    `yaml:"order"`
}

type agentsFile struct {
	Agents map[string]AgentDef `yaml:"agents"`
}

type tasksFile struct {
	Tasks map[string]TaskDef `yaml:"tasks"`
}

// LoadAgentDefs merges agent definitions from a list of YAML files. Later
// files override earlier ones on name collisions.
func LoadAgentDefs(paths []string) (map[string]AgentDef, error) {
	defs := make(map[string]AgentDef)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read agent file %q: %w", path, err)
		}

		var file agentsFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse agent file %q: %w", path, err)
		}

		for name, def := range file.Agents {
			if def.MaxIter == 0 {
				def.MaxIter = 3
			}
			defs[name] = def
		}
	}
	return defs, nil
}

// LoadTaskDefs reads task definitions from one YAML file.
func LoadTaskDefs(path string) (map[string]TaskDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %q: %w", path, err)
	}

	var file tasksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse task file %q: %w", path, err)
	}
	return file.Tasks, nil
}

// sortedNames gives deterministic iteration over definition maps.
func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
