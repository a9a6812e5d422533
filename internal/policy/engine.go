// Package policy lets operators override triage decisions with Rego rules
// evaluated locally through OPA.
//
// A policy module declares set rules in the configured package:
//
//	package triagewing.triage
//
//	import rego.v1
//
//	validate contains msg if {
//	    input.finding.category == "crypto"
//	    msg := "crypto findings are always reviewed"
//	}
//
//	skip contains msg if {
//	    startswith(input.finding.location.file_path, "third_party/")
//	    msg := "vendored code"
//	}
//
// "validate" wins over "skip" when both produce messages.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/spf13/afero"

	"github.com/josephgoksu/TriageWing/internal/finding"
	"github.com/josephgoksu/TriageWing/internal/triage"
)

// DefaultPolicyPackage is the Rego package queried for triage rules.
const DefaultPolicyPackage = "triagewing.triage"

const (
	ruleValidate = "validate"
	ruleSkip     = "skip"
)

// EngineConfig holds configuration for creating an Engine.
type EngineConfig struct {
	// PoliciesDir is the directory containing .rego policy files.
	PoliciesDir string
	// PolicyPackage defaults to DefaultPolicyPackage.
	PolicyPackage string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
}

// Engine evaluates prepared triage rules. It is safe for concurrent use.
type Engine struct {
	policies      []*PolicyFile
	policyPackage string
	queries       map[string]rego.PreparedEvalQuery
}

// Decision is the outcome of one evaluation.
type Decision struct {
	DecisionID  string    `json:"decisionId"`
	Validate    []string  `json:"validate,omitempty"`
	Skip        []string  `json:"skip,omitempty"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Input is what policies see as `input`.
type Input struct {
	Finding FindingInput `json:"finding"`
}

// FindingInput is the finding as exposed to Rego.
type FindingInput struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Severity    string            `json:"severity"`
	Category    string            `json:"category"`
	Analyzer    string            `json:"analyzer"`
	Class       string            `json:"class"`
	Location    finding.Location  `json:"location"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewEngine loads policies from cfg.PoliciesDir and prepares the rule queries.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	policies, err := LoadDir(cfg.Fs, cfg.PoliciesDir)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	return NewEngineWithPolicies(ctx, cfg.PolicyPackage, policies)
}

// NewEngineWithPolicies prepares an engine from in-memory policies.
func NewEngineWithPolicies(ctx context.Context, policyPackage string, policies []*PolicyFile) (*Engine, error) {
	if policyPackage == "" {
		policyPackage = DefaultPolicyPackage
	}
	e := &Engine{
		policies:      policies,
		policyPackage: policyPackage,
		queries:       make(map[string]rego.PreparedEvalQuery),
	}
	if len(policies) == 0 {
		return e, nil
	}

	modules := make([]func(*rego.Rego), len(policies))
	for i, p := range policies {
		modules[i] = rego.Module(p.Path, p.Content)
	}

	for _, rule := range []string{ruleValidate, ruleSkip} {
		opts := append([]func(*rego.Rego){
			rego.Query(fmt.Sprintf("data.%s.%s", policyPackage, rule)),
		}, modules...)

		pq, err := rego.New(opts...).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("prepare %s rule: %w", rule, err)
		}
		e.queries[rule] = pq
	}
	return e, nil
}

// PolicyCount returns the number of loaded policies.
func (e *Engine) PolicyCount() int {
	return len(e.policies)
}

// Evaluate runs both rules against input.
func (e *Engine) Evaluate(ctx context.Context, input any) (*Decision, error) {
	d := &Decision{
		DecisionID:  uuid.New().String(),
		EvaluatedAt: time.Now().UTC(),
	}
	if len(e.queries) == 0 {
		return d, nil
	}

	var err error
	if d.Validate, err = e.querySet(ctx, ruleValidate, input); err != nil {
		return nil, err
	}
	if d.Skip, err = e.querySet(ctx, ruleSkip, input); err != nil {
		return nil, err
	}
	return d, nil
}

// Override implements triage.Overrider.
func (e *Engine) Override(ctx context.Context, f finding.Finding, class finding.AnalyzerClass) (triage.Override, string, error) {
	if len(e.queries) == 0 {
		return triage.OverrideNone, "", nil
	}

	d, err := e.Evaluate(ctx, NewInput(f, class))
	if err != nil {
		return triage.OverrideNone, "", err
	}
	switch {
	case len(d.Validate) > 0:
		return triage.OverrideValidate, strings.Join(d.Validate, "; "), nil
	case len(d.Skip) > 0:
		return triage.OverrideSkip, strings.Join(d.Skip, "; "), nil
	default:
		return triage.OverrideNone, "", nil
	}
}

// NewInput builds the Rego input document for a finding.
func NewInput(f finding.Finding, class finding.AnalyzerClass) Input {
	return Input{Finding: FindingInput{
		ID:          f.ID,
		Title:       f.Title,
		Description: f.Description,
		Severity:    string(f.Severity),
		Category:    f.Category,
		Analyzer:    f.Analyzer,
		Class:       class.String(),
		Location:    f.Location,
		Metadata:    f.Metadata,
	}}
}

// querySet evaluates a set-generating rule and returns its string members.
func (e *Engine) querySet(ctx context.Context, rule string, input any) ([]string, error) {
	pq, ok := e.queries[rule]
	if !ok {
		return nil, nil
	}

	rs, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluate %s rule: %w", rule, err)
	}

	var results []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			if set, ok := expr.Value.([]any); ok {
				for _, item := range set {
					if s, ok := item.(string); ok {
						results = append(results, s)
					}
				}
			}
		}
	}
	return results, nil
}
