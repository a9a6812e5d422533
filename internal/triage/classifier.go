// Package triage decides which findings need AI validation and what
// confidence the rest keep.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/josephgoksu/TriageWing/internal/finding"
)

// Trigger says when findings of a class are sent for validation.
type Trigger int

const (
	TriggerNever Trigger = iota
	TriggerCriticalOnly
	TriggerAlways
)

func (t Trigger) String() string {
	switch t {
	case TriggerCriticalOnly:
		return "critical"
	case TriggerAlways:
		return "always"
	default:
		return "never"
	}
}

// ParseTrigger maps "never", "critical" or "always" to a Trigger.
func ParseTrigger(s string) (Trigger, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "never":
		return TriggerNever, nil
	case "critical", "critical_only":
		return TriggerCriticalOnly, nil
	case "always":
		return TriggerAlways, nil
	default:
		return TriggerNever, fmt.Errorf("unknown trigger %q (valid: never, critical, always)", s)
	}
}

// Rule is the policy for one analyzer class.
type Rule struct {
	Trigger  Trigger
	Baseline float64
}

// Config is the classification table plus short-circuit keyword classes.
type Config struct {
	Rules map[finding.AnalyzerClass]Rule
	// Analyzers maps a normalized analyzer name to its class.
	Analyzers map[string]finding.AnalyzerClass
	// RaceKeywords mark findings whose wording is known to be noisy.
	RaceKeywords []string
	// ThreadingKeywords are looked for in the code context of noisy findings.
	ThreadingKeywords []string
}

// DefaultConfig returns the built-in table.
func DefaultConfig() Config {
	return Config{
		Rules: map[finding.AnalyzerClass]Rule{
			finding.ClassHighPrecision:   {Trigger: TriggerCriticalOnly, Baseline: 0.90},
			finding.ClassMediumPrecision: {Trigger: TriggerAlways, Baseline: 0.60},
			finding.ClassLowPrecision:    {Trigger: TriggerAlways, Baseline: 0.40},
			finding.ClassUnknown:         {Trigger: TriggerNever, Baseline: 0.50},
		},
		Analyzers: map[string]finding.AnalyzerClass{
			"clang-tidy":            finding.ClassHighPrecision,
			"clang":                 finding.ClassHighPrecision,
			"clang-analyzer":        finding.ClassHighPrecision,
			"clang static analyzer": finding.ClassHighPrecision,
			"semgrep":               finding.ClassMediumPrecision,
			"regex":                 finding.ClassLowPrecision,
			"regexanalyzer":         finding.ClassLowPrecision,
			"regex-analyzer":        finding.ClassLowPrecision,
		},
		RaceKeywords: []string{
			"race condition", "data race", "mutex", "concurrent",
			"thread-safe", "synchronization",
		},
		ThreadingKeywords: []string{
			"pthread_create", "pthread_mutex", "std::thread", "std::async",
			"std::mutex", "boost::thread", "thread pool", "threadpool",
			"concurrent", "async", "atomic",
		},
	}
}

// Override is a policy decision that replaces the table lookup.
type Override int

const (
	OverrideNone Override = iota
	OverrideValidate
	OverrideSkip
)

// Overrider lets an external policy force or suppress validation.
type Overrider interface {
	Override(ctx context.Context, f finding.Finding, class finding.AnalyzerClass) (Override, string, error)
}

// Decision is the triage outcome for one finding.
type Decision struct {
	Class    finding.AnalyzerClass
	Validate bool
	Baseline float64
	Reason   string
}

// Classifier is read-only after construction and safe for concurrent use.
type Classifier struct {
	cfg       Config
	analyzers map[string]finding.AnalyzerClass
	overrider Overrider
}

// NewClassifier builds a classifier. overrider may be nil.
func NewClassifier(cfg Config, overrider Overrider) *Classifier {
	defaults := DefaultConfig()
	if cfg.Rules == nil {
		cfg.Rules = defaults.Rules
	}
	if cfg.Analyzers == nil {
		cfg.Analyzers = defaults.Analyzers
	}
	if cfg.RaceKeywords == nil {
		cfg.RaceKeywords = defaults.RaceKeywords
	}
	if cfg.ThreadingKeywords == nil {
		cfg.ThreadingKeywords = defaults.ThreadingKeywords
	}

	analyzers := make(map[string]finding.AnalyzerClass, len(cfg.Analyzers))
	for name, class := range cfg.Analyzers {
		analyzers[normalize(name)] = class
	}

	return &Classifier{
		cfg:       cfg,
		analyzers: analyzers,
		overrider: overrider,
	}
}

// ClassOf looks the finding's analyzer up in the registry. Unregistered
// analyzers are ClassUnknown.
func (c *Classifier) ClassOf(f finding.Finding) finding.AnalyzerClass {
	return c.analyzers[normalize(f.Analyzer)]
}

// BaselineConfidence is the confidence a finding of class keeps without AI review.
func (c *Classifier) BaselineConfidence(class finding.AnalyzerClass) float64 {
	return c.cfg.Rules[class].Baseline
}

// NeedsValidation applies the table only.
func (c *Classifier) NeedsValidation(f finding.Finding) bool {
	switch c.cfg.Rules[c.ClassOf(f)].Trigger {
	case TriggerAlways:
		return true
	case TriggerCriticalOnly:
		return f.Severity == finding.SeverityCritical
	default:
		return false
	}
}

// Decide consults the overrider first and falls back to the table when it
// has no opinion or fails.
func (c *Classifier) Decide(ctx context.Context, f finding.Finding) Decision {
	class := c.ClassOf(f)
	d := Decision{
		Class:    class,
		Baseline: c.BaselineConfidence(class),
	}

	if c.overrider != nil {
		ov, reason, err := c.overrider.Override(ctx, f, class)
		if err != nil {
			slog.Warn("triage policy failed, using table", "finding", f.ID, "error", err)
		}
		switch ov {
		case OverrideValidate:
			d.Validate, d.Reason = true, "policy: "+reason
			return d
		case OverrideSkip:
			d.Validate, d.Reason = false, "policy: "+reason
			return d
		}
	}

	d.Validate = c.NeedsValidation(f)
	if d.Validate {
		d.Reason = fmt.Sprintf("%s-precision analyzer", class)
	} else {
		d.Reason = fmt.Sprintf("%s-precision analyzer, severity %s", class, f.Severity)
	}
	return d
}

// ShortCircuit reports whether a medium-precision finding with race wording
// can be filtered because its code context shows no threading at all.
// A placeholder context (unreadable file, bad line) is never evidence.
func (c *Classifier) ShortCircuit(f finding.Finding, codeContext string) bool {
	if c.ClassOf(f) != finding.ClassMediumPrecision {
		return false
	}
	body := codeBody(codeContext)
	if body == "" {
		return false
	}
	text := strings.ToLower(f.Title + " " + f.Description)
	if !containsAny(text, c.cfg.RaceKeywords) {
		return false
	}
	return !containsAny(strings.ToLower(body), c.cfg.ThreadingKeywords)
}

// codeBody strips the "// File:" header from an excerpt so the path cannot
// match a keyword. Placeholder contexts yield "".
func codeBody(codeContext string) string {
	trimmed := strings.TrimSpace(codeContext)
	if trimmed == "" || strings.HasPrefix(trimmed, "[Error:") {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(l, "// File:") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
