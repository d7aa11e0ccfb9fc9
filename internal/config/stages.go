package config

import (
	"log/slog"
	"os"
	"regexp"
	"sort"

	"go.yaml.in/yaml/v3"
)

// StageConfig describes the model bound to one routing stage. MaxTokens and
// Temperature are informational defaults carried from the stage table; the
// router does not force them onto requests. A stage with an empty Model
// (direct) cannot be routed.
type StageConfig struct {
	Model       string   `yaml:"model"`
	Description string   `yaml:"description"`
	MaxTokens   *int     `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

// Stages is the immutable stage routing table. Built once at startup and
// read concurrently without locking.
type Stages struct {
	stages       map[string]StageConfig
	defaultStage string
}

// stagesFile is the YAML shape of the stage table.
type stagesFile struct {
	DefaultStage string                 `yaml:"default_stage"`
	Stages       map[string]StageConfig `yaml:"stages"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadStages reads the stage table from a YAML file. A missing, unreadable,
// or malformed file is not fatal: the router must keep serving with the
// compiled-in table, so the error is logged and the fallback returned.
func LoadStages(path string) *Stages {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("stage config unavailable, using built-in table", "path", path, "error", err)
		return fallbackStages()
	}

	var f stagesFile
	if err := yaml.Unmarshal(expandEnv(data), &f); err != nil {
		slog.Warn("stage config unparseable, using built-in table", "path", path, "error", err)
		return fallbackStages()
	}
	if len(f.Stages) == 0 {
		slog.Warn("stage config has no stages, using built-in table", "path", path)
		return fallbackStages()
	}
	if f.DefaultStage == "" {
		f.DefaultStage = "plan"
	}
	if _, ok := f.Stages[f.DefaultStage]; !ok {
		slog.Warn("default stage missing from table, using built-in table",
			"path", path, "default_stage", f.DefaultStage)
		return fallbackStages()
	}

	slog.Info("stage config loaded", "path", path, "stages", len(f.Stages))
	return &Stages{stages: f.Stages, defaultStage: f.DefaultStage}
}

// fallbackStages returns the compiled-in stage table used when no usable
// stage file exists.
func fallbackStages() *Stages {
	return &Stages{
		defaultStage: "plan",
		stages: map[string]StageConfig{
			"plan": {
				Model:       "claude-3-5-sonnet-20241022",
				Description: "Architecture and planning",
				MaxTokens:   intPtr(4096),
				Temperature: floatPtr(0.7),
			},
			"code": {
				Model:       "deepseek-chat",
				Description: "Code generation",
				MaxTokens:   intPtr(16384),
				Temperature: floatPtr(0.3),
			},
			"review": {
				Model:       "gpt-4o-mini",
				Description: "Code review and validation",
				MaxTokens:   intPtr(4096),
				Temperature: floatPtr(0.2),
			},
			// direct is listed but unroutable: requests naming it are rejected.
			"direct": {
				Description: "Direct model access (disabled)",
			},
		},
	}
}

// Stage returns the configuration for the named stage.
func (s *Stages) Stage(name string) (StageConfig, bool) {
	sc, ok := s.stages[name]
	return sc, ok
}

// DefaultStage returns the stage used when the request names none.
func (s *Stages) DefaultStage() string { return s.defaultStage }

// Routable reports whether the named stage exists and maps to a model.
func (s *Stages) Routable(name string) bool {
	sc, ok := s.stages[name]
	return ok && sc.Model != ""
}

// RoutableNames returns the sorted names of all stages that map to a model,
// for use in validation error messages.
func (s *Stages) RoutableNames() []string {
	names := make([]string, 0, len(s.stages))
	for name, sc := range s.stages {
		if sc.Model != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
