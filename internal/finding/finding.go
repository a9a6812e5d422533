/*
Package finding defines static-analysis findings and their validated form.
*/
package finding

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSeverity is returned when a severity string is not one of the known levels.
var ErrInvalidSeverity = errors.New("invalid severity")

// Severity is the reported impact of a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

var severityRank = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// ParseSeverity parses s case-insensitively. Surrounding whitespace is ignored.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", false
	}
	return sev, true
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities; higher is more severe. Unknown severities rank 0.
func (s Severity) Rank() int {
	return severityRank[s]
}

// UnmarshalText accepts any casing of a known severity.
func (s *Severity) UnmarshalText(text []byte) error {
	sev, ok := ParseSeverity(string(text))
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, string(text))
	}
	*s = sev
	return nil
}

// Location points at the reported line of a finding.
type Location struct {
	FilePath string `json:"file_path" yaml:"file_path" validate:"required"`
	Line     int    `json:"line" yaml:"line" validate:"gte=0"`
	Column   int    `json:"column,omitempty" yaml:"column,omitempty"`
}

func (l Location) String() string {
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.FilePath, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.FilePath, l.Line)
}

// Finding is a single issue reported by a static analyzer.
// Findings are treated as immutable once produced.
type Finding struct {
	ID          string            `json:"id" yaml:"id" validate:"required"`
	Title       string            `json:"title" yaml:"title" validate:"required"`
	Description string            `json:"description" yaml:"description"`
	Severity    Severity          `json:"severity" yaml:"severity" validate:"required,severity"`
	Category    string            `json:"category" yaml:"category"`
	Location    Location          `json:"location" yaml:"location"`
	Analyzer    string            `json:"analyzer" yaml:"analyzer" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// AnalyzerClass groups analyzers by how much their output can be trusted.
type AnalyzerClass int

const (
	ClassUnknown AnalyzerClass = iota
	ClassHighPrecision
	ClassMediumPrecision
	ClassLowPrecision
)

func (c AnalyzerClass) String() string {
	switch c {
	case ClassHighPrecision:
		return "high"
	case ClassMediumPrecision:
		return "medium"
	case ClassLowPrecision:
		return "low"
	default:
		return "unknown"
	}
}

// ParseAnalyzerClass maps a config value ("high", "medium", "low", "unknown") to a class.
func ParseAnalyzerClass(s string) (AnalyzerClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ClassHighPrecision, nil
	case "medium":
		return ClassMediumPrecision, nil
	case "low":
		return ClassLowPrecision, nil
	case "unknown":
		return ClassUnknown, nil
	default:
		return ClassUnknown, fmt.Errorf("unknown analyzer class %q (valid: high, medium, low, unknown)", s)
	}
}

// Verdict is the outcome of triage and validation for one finding.
type Verdict string

const (
	VerdictSkipped       Verdict = "SKIPPED"
	VerdictLocalFiltered Verdict = "LOCAL_FILTERED"
	VerdictConfirmed     Verdict = "CONFIRMED"
	VerdictRejected      Verdict = "REJECTED"
	VerdictFailed        Verdict = "FAILED"
)

// Kept reports whether findings with this verdict stay in the output.
func (v Verdict) Kept() bool {
	return v != VerdictRejected && v != VerdictLocalFiltered
}

// EnhancedFinding is a Finding plus its validation outcome.
type EnhancedFinding struct {
	Finding `yaml:",inline"`

	Confidence       float64   `json:"confidence" yaml:"confidence"`
	Verdict          Verdict   `json:"verdict" yaml:"verdict"`
	Explanation      string    `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	SeverityOverride *Severity `json:"severity_override,omitempty" yaml:"severity_override,omitempty"`
	OriginalSeverity Severity  `json:"original_severity" yaml:"original_severity"`
	ValidatedBy      string    `json:"validated_by,omitempty" yaml:"validated_by,omitempty"`
}

// EffectiveSeverity returns the override if present, otherwise the analyzer's severity.
func (e EnhancedFinding) EffectiveSeverity() Severity {
	if e.SeverityOverride != nil {
		return *e.SeverityOverride
	}
	return e.Severity
}

// Enhance wraps f with a verdict and confidence. Severity stays as reported.
func Enhance(f Finding, verdict Verdict, confidence float64) EnhancedFinding {
	return EnhancedFinding{
		Finding:          f,
		Confidence:       clamp(confidence),
		Verdict:          verdict,
		OriginalSeverity: f.Severity,
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
