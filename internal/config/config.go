// Package config resolves taskrank settings from three layers: the yaml
// config file, TASKRANK_* environment variables, and CLI flags. Later
// layers win, and every resolved scalar remembers where its value came
// from so `taskrank config` can explain the effective configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fernwick/taskrank/internal/rank"
	"github.com/fernwick/taskrank/internal/score"
	"github.com/fernwick/taskrank/internal/vocab"
)

// ValueSource names the layer a resolved value came from.
type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is one scalar setting plus its provenance.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI-layer overrides into resolution.
type ResolveOptions struct {
	ConfigPath string
	CLILLM     string
	CLIDBPath  string
	CLIRoot    string
	CLIMode    string
}

// Query holds the tunables of the retrieval pipeline. Zero values select
// the built-in defaults at the point of use.
type Query struct {
	Mode                      string         `yaml:"mode"`
	Limit                     int            `yaml:"limit"`
	BaseThreshold             float64        `yaml:"base_threshold"`
	DirectCap                 int            `yaml:"direct_cap"`
	SortCriteria              []string       `yaml:"sort_criteria"`
	Languages                 []string       `yaml:"languages"`
	MaxPerLanguage            int            `yaml:"max_per_language"`
	VaguenessThreshold        float64        `yaml:"vagueness_threshold"`
	ExcludeCompletedWhenVague bool           `yaml:"exclude_completed_when_vague"`
	Weights                   *score.Weights `yaml:"weights"`
}

// Snapshot is one immutable resolved configuration. Reloads build a new
// snapshot rather than mutating a shared one.
type Snapshot struct {
	ConfigPath string `json:"config_path"`

	DBPath     ResolvedValue            `json:"db_path"`
	CorpusRoot ResolvedValue            `json:"corpus_root"`
	LLMModel   ResolvedValue            `json:"llm_model"`
	QueryMode  ResolvedValue            `json:"query_mode"`
	LLMKeys    map[string]ResolvedValue `json:"llm_keys,omitempty"`

	Query       Query              `json:"query"`
	Vocabulary  *vocab.Vocabulary  `json:"-"`
	Diagnostics []vocab.Diagnostic `json:"diagnostics,omitempty"`
}

type fileConfig struct {
	DBPath     string `yaml:"db_path"`
	CorpusRoot string `yaml:"corpus_root"`
	LLM        struct {
		Model  string `yaml:"model"`
		APIKey string `yaml:"api_key"`
	} `yaml:"llm"`
	Query    Query               `yaml:"query"`
	Statuses []vocab.StatusEntry `yaml:"statuses"`
}

// DefaultConfigPath is ~/.taskrank/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".taskrank", "config.yaml")
}

// Resolve builds a snapshot from the config file, environment, and CLI
// overrides. A missing config file is not an error; a malformed one is.
func Resolve(opts ResolveOptions) (*Snapshot, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := &Snapshot{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadFile(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.CorpusRoot, cfg.CorpusRoot, SourceConfig, path)
		apply(&out.LLMModel, cfg.LLM.Model, SourceConfig, path)
		apply(&out.QueryMode, cfg.Query.Mode, SourceConfig, path)
		out.Query = cfg.Query

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			p := providerOf(cfg.LLM.Model)
			if p == "" {
				p = "default"
			}
			out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.DBPath, "TASKRANK_DB")
	applyEnv(&out.CorpusRoot, "TASKRANK_ROOT")
	applyEnv(&out.LLMModel, "TASKRANK_LLM")
	applyEnv(&out.QueryMode, "TASKRANK_MODE")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.CorpusRoot, opts.CLIRoot, SourceCLI, "--root")
	apply(&out.LLMModel, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.QueryMode, opts.CLIMode, SourceCLI, "--mode")

	out.DBPath.Value = expandUserPath(out.DBPath.Value)
	out.CorpusRoot.Value = expandUserPath(out.CorpusRoot.Value)

	if err := validateQuery(out.Query); err != nil {
		return out, fmt.Errorf("%s: %w", path, err)
	}

	voc := vocab.Default()
	if cfg != nil && len(cfg.Statuses) > 0 {
		voc = voc.Merge(cfg.Statuses)
	}
	out.Vocabulary = voc
	out.Diagnostics = voc.Validate()

	return out, nil
}

// APIKeyForProvider returns the key for a provider or model string,
// falling back to the file-level default key.
func (s *Snapshot) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := s.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := s.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

// SortCriteria parses the configured sort chain, already validated at
// load time.
func (s *Snapshot) SortCriteria() []rank.Criterion {
	chain, err := rank.ParseCriteria(s.Query.SortCriteria)
	if err != nil {
		return rank.DefaultCriteria()
	}
	return chain
}

// Weights returns the configured scoring weights or the defaults.
func (s *Snapshot) Weights() score.Weights {
	if s.Query.Weights == nil {
		return score.DefaultWeights()
	}
	return *s.Query.Weights
}

// validateQuery rejects settings that would misbehave silently at query
// time. Partial configuration is fine; contradictory configuration is not.
func validateQuery(q Query) error {
	if q.Mode != "" {
		switch strings.ToLower(q.Mode) {
		case "plain", "assisted-match", "assisted-analysis":
		default:
			return fmt.Errorf("query.mode: unknown mode %q", q.Mode)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("query.limit: must not be negative")
	}
	if q.BaseThreshold < 0 || q.BaseThreshold > 100 {
		return fmt.Errorf("query.base_threshold: %v is outside [0, 100]", q.BaseThreshold)
	}
	if q.MaxPerLanguage < 0 {
		return fmt.Errorf("query.max_per_language: must not be negative")
	}
	if _, err := rank.ParseCriteria(q.SortCriteria); err != nil {
		return fmt.Errorf("query.sort_criteria: %w", err)
	}
	if w := q.Weights; w != nil {
		for name, v := range map[string]float64{
			"relevance": w.Relevance,
			"due_date":  w.DueDate,
			"priority":  w.Priority,
			"status":    w.Status,
		} {
			if v < 0 {
				return fmt.Errorf("query.weights.%s: must not be negative", name)
			}
		}
		if w.Relevance+w.DueDate+w.Priority+w.Status == 0 {
			return fmt.Errorf("query.weights: at least one weight must be positive")
		}
	}
	return nil
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
