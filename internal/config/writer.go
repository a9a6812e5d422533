package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/josephgoksu/TriageWing/internal/finding"
)

// Settings is the effective configuration in config-file shape. Field names
// match the viper keys so a written file loads back unchanged.
type Settings struct {
	LLM        LLMSettings        `json:"llm" yaml:"llm"`
	Validation ValidationSettings `json:"validation" yaml:"validation"`
	Cache      CacheSettings      `json:"cache" yaml:"cache"`
	Triage     TriageSettings     `json:"triage" yaml:"triage"`
}

type LLMSettings struct {
	Provider string            `json:"provider" yaml:"provider"`
	Model    string            `json:"model" yaml:"model"`
	BaseURL  string            `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	APIKeys  map[string]string `json:"apiKeys,omitempty" yaml:"apiKeys,omitempty"`
}

type ValidationSettings struct {
	Concurrency         int           `json:"concurrency" yaml:"concurrency"`
	RequestsPerSecond   float64       `json:"requests_per_second" yaml:"requests_per_second"`
	MaxRetries          int           `json:"max_retries" yaml:"max_retries"`
	RetryBaseDelay      time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	Temperature         float32       `json:"temperature" yaml:"temperature"`
	MaxTokens           int           `json:"max_tokens" yaml:"max_tokens"`
	ConfirmedConfidence float64       `json:"confirmed_confidence" yaml:"confirmed_confidence"`
	FailureMultiplier   float64       `json:"failure_multiplier" yaml:"failure_multiplier"`
	ShutdownTimeout     time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type CacheSettings struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Persist      bool          `json:"persist" yaml:"persist"`
	Dir          string        `json:"dir" yaml:"dir"`
	Namespace    string        `json:"namespace" yaml:"namespace"`
	L1MaxEntries int           `json:"l1_max_entries" yaml:"l1_max_entries"`
	L1TTL        time.Duration `json:"l1_ttl" yaml:"l1_ttl"`
	L2TTL        time.Duration `json:"l2_ttl" yaml:"l2_ttl"`
}

type TriageSettings struct {
	Baselines         map[string]float64 `json:"baselines" yaml:"baselines"`
	Triggers          map[string]string  `json:"triggers" yaml:"triggers"`
	Analyzers         map[string]string  `json:"analyzers" yaml:"analyzers"`
	RaceKeywords      []string           `json:"race_keywords" yaml:"race_keywords"`
	ThreadingKeywords []string           `json:"threading_keywords" yaml:"threading_keywords"`
	PoliciesDir       string             `json:"policies_dir" yaml:"policies_dir"`
}

// EffectiveSettings resolves every section. API keys are masked unless
// withSecrets is set.
func EffectiveSettings(withSecrets bool) (Settings, error) {
	llmCfg, err := LoadLLMConfig()
	if err != nil {
		return Settings{}, err
	}
	valCfg, err := LoadValidationConfig()
	if err != nil {
		return Settings{}, err
	}
	triageCfg, err := LoadTriageConfig()
	if err != nil {
		return Settings{}, err
	}
	clientCfg := LoadClientConfig()
	cacheCfg := LoadCacheConfig(nil)

	s := Settings{
		LLM: LLMSettings{
			Provider: string(llmCfg.Provider),
			Model:    llmCfg.Model,
			BaseURL:  llmCfg.BaseURL,
		},
		Validation: ValidationSettings{
			Concurrency:         valCfg.Concurrency,
			RequestsPerSecond:   clientCfg.RequestsPerSecond,
			MaxRetries:          clientCfg.MaxAttempts,
			RetryBaseDelay:      clientCfg.BaseDelay,
			Temperature:         valCfg.Options.Temperature,
			MaxTokens:           valCfg.Options.MaxTokens,
			ConfirmedConfidence: valCfg.ConfirmedConfidence,
			FailureMultiplier:   valCfg.FailureMultiplier,
			ShutdownTimeout:     valCfg.ShutdownTimeout,
		},
		Cache: CacheSettings{
			Enabled:      CacheEnabled(),
			Persist:      cacheCfg.Persist,
			Dir:          cacheCfg.Dir,
			Namespace:    cacheCfg.Namespace,
			L1MaxEntries: cacheCfg.MaxEntries,
			L1TTL:        cacheCfg.MemoryTTL,
			L2TTL:        cacheCfg.DiskTTL,
		},
		Triage: TriageSettings{
			Baselines:         map[string]float64{},
			Triggers:          map[string]string{},
			Analyzers:         map[string]string{},
			RaceKeywords:      triageCfg.RaceKeywords,
			ThreadingKeywords: triageCfg.ThreadingKeywords,
			PoliciesDir:       GetPoliciesDir(),
		},
	}

	if llmCfg.APIKey != "" {
		key := llmCfg.APIKey
		if !withSecrets {
			key = MaskKey(key)
		}
		s.LLM.APIKeys = map[string]string{string(llmCfg.Provider): key}
	}

	for class, rule := range triageCfg.Rules {
		s.Triage.Baselines[class.String()] = rule.Baseline
		s.Triage.Triggers[class.String()] = rule.Trigger.String()
	}
	for name, class := range triageCfg.Analyzers {
		s.Triage.Analyzers[name] = class.String()
	}
	return s, nil
}

// AnalyzerNames lists the registered analyzers of a class, sorted.
func (t TriageSettings) AnalyzerNames(class finding.AnalyzerClass) []string {
	var names []string
	for name, c := range t.Analyzers {
		if c == class.String() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// WriteSettings writes s as YAML to path. The file is replaced atomically.
func WriteSettings(fs afero.Fs, path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, ".triagewing-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("close config: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
