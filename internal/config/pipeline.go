package config

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/josephgoksu/TriageWing/internal/cache"
	"github.com/josephgoksu/TriageWing/internal/finding"
	"github.com/josephgoksu/TriageWing/internal/llm"
	"github.com/josephgoksu/TriageWing/internal/triage"
	"github.com/josephgoksu/TriageWing/internal/validation"
)

// LoadValidationConfig reads validation.* and checks ranges.
func LoadValidationConfig() (validation.Config, error) {
	defaults := validation.DefaultConfig()

	cfg := validation.Config{
		Concurrency:         getIntWithDefault("validation.concurrency", defaults.Concurrency),
		ConfirmedConfidence: getFloat64WithDefault("validation.confirmed_confidence", defaults.ConfirmedConfidence),
		FailureMultiplier:   getFloat64WithDefault("validation.failure_multiplier", defaults.FailureMultiplier),
		ShutdownTimeout:     getDurationWithDefault("validation.shutdown_timeout", defaults.ShutdownTimeout),
		Options: llm.Options{
			Temperature: float32(getFloat64WithDefault("validation.temperature", float64(defaults.Options.Temperature))),
			MaxTokens:   getIntWithDefault("validation.max_tokens", defaults.Options.MaxTokens),
			Format:      llm.FormatJSON,
		},
	}
	if err := cfg.Validate(); err != nil {
		return validation.Config{}, err
	}
	return cfg, nil
}

// LoadClientConfig reads the rate limit and retry settings.
func LoadClientConfig() llm.ClientConfig {
	defaults := llm.DefaultClientConfig()

	return llm.ClientConfig{
		RequestsPerSecond: getFloat64WithDefault("validation.requests_per_second", defaults.RequestsPerSecond),
		MaxAttempts:       getIntWithDefault("validation.max_retries", defaults.MaxAttempts),
		BaseDelay:         getDurationWithDefault("validation.retry_base_delay", defaults.BaseDelay),
	}
}

// CacheEnabled reports whether completions should be cached at all.
func CacheEnabled() bool {
	return getBoolWithDefault("cache.enabled", true)
}

// LoadCacheConfig returns the tiered cache settings backed by fs.
func LoadCacheConfig(fs afero.Fs) cache.Config {
	defaults := cache.DefaultConfig(GetCacheDir())

	return cache.Config{
		Fs:         fs,
		Dir:        defaults.Dir,
		Namespace:  getStringWithDefault("cache.namespace", defaults.Namespace),
		MaxEntries: getIntWithDefault("cache.l1_max_entries", defaults.MaxEntries),
		MemoryTTL:  getDurationWithDefault("cache.l1_ttl", defaults.MemoryTTL),
		DiskTTL:    getDurationWithDefault("cache.l2_ttl", defaults.DiskTTL),
		Persist:    getBoolWithDefault("cache.persist", defaults.Persist),
	}
}

// LoadTriageConfig overlays triage.* on the built-in classification table.
func LoadTriageConfig() (triage.Config, error) {
	cfg := triage.DefaultConfig()

	for _, class := range []finding.AnalyzerClass{
		finding.ClassHighPrecision,
		finding.ClassMediumPrecision,
		finding.ClassLowPrecision,
		finding.ClassUnknown,
	} {
		rule := cfg.Rules[class]
		rule.Baseline = getFloat64WithDefault("triage.baselines."+class.String(), rule.Baseline)
		if rule.Baseline < 0 || rule.Baseline > 1 {
			return triage.Config{}, fmt.Errorf("triage.baselines.%s must be within [0,1], got %v", class, rule.Baseline)
		}

		if key := "triage.triggers." + class.String(); viper.IsSet(key) {
			trigger, err := triage.ParseTrigger(viper.GetString(key))
			if err != nil {
				return triage.Config{}, fmt.Errorf("%s: %w", key, err)
			}
			rule.Trigger = trigger
		}
		cfg.Rules[class] = rule
	}

	for name, value := range viper.GetStringMapString("triage.analyzers") {
		class, err := finding.ParseAnalyzerClass(value)
		if err != nil {
			return triage.Config{}, fmt.Errorf("triage.analyzers.%s: %w", name, err)
		}
		cfg.Analyzers[name] = class
	}

	if viper.IsSet("triage.race_keywords") {
		cfg.RaceKeywords = viper.GetStringSlice("triage.race_keywords")
	}
	if viper.IsSet("triage.threading_keywords") {
		cfg.ThreadingKeywords = viper.GetStringSlice("triage.threading_keywords")
	}
	return cfg, nil
}

// Helper functions for Viper with defaults

func getFloat64WithDefault(key string, defaultVal float64) float64 {
	if viper.IsSet(key) {
		return viper.GetFloat64(key)
	}
	return defaultVal
}

func getIntWithDefault(key string, defaultVal int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return defaultVal
}

func getBoolWithDefault(key string, defaultVal bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return defaultVal
}

func getStringWithDefault(key string, defaultVal string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultVal
}

func getDurationWithDefault(key string, defaultVal time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	return defaultVal
}
