// Package validation runs the hybrid triage + AI validation pipeline over a
// batch of static-analysis findings.
//
// Findings from high-precision analyzers skip the model unless critical,
// medium-precision race reports can be filtered locally, and everything
// else is sent to a rate-limited, cached completion client. A failure for
// one finding never fails the batch: it degrades to a FAILED verdict with
// reduced confidence.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/josephgoksu/TriageWing/internal/cache"
	"github.com/josephgoksu/TriageWing/internal/finding"
	"github.com/josephgoksu/TriageWing/internal/llm"
	"github.com/josephgoksu/TriageWing/internal/triage"
	"github.com/josephgoksu/TriageWing/internal/utils"
)

// ContextExtractor returns the source excerpt shown to the model.
type ContextExtractor interface {
	Slice(filePath string, line int) string
}

// CacheStore is the part of the tiered cache the orchestrator reports on and closes.
type CacheStore interface {
	Stats() cache.Stats
	Close() error
}

// Deps are the collaborators an Orchestrator owns.
type Deps struct {
	Classifier *triage.Classifier
	Extractor  ContextExtractor
	Client     llm.Completer
	// Cache is optional; without it no cache stats are reported.
	Cache CacheStore
}

// Orchestrator enhances batches of findings. It is safe for concurrent use;
// each Enhance call builds and tears down its own worker pool.
type Orchestrator struct {
	cfg        Config
	classifier *triage.Classifier
	extractor  ContextExtractor
	client     llm.Completer
	aggregator *Aggregator

	closeOnce sync.Once
}

// New validates cfg and wires the pipeline.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Classifier == nil {
		return nil, errors.New("validation: classifier is required")
	}
	if deps.Extractor == nil {
		return nil, errors.New("validation: context extractor is required")
	}
	if deps.Client == nil {
		return nil, errors.New("validation: completion client is required")
	}
	if cfg.Options.Format == "" {
		cfg.Options = llm.ValidationOptions()
	}

	return &Orchestrator{
		cfg:        cfg,
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		client:     deps.Client,
		aggregator: NewAggregator(deps.Cache),
	}, nil
}

// Batch is the result of one EnhanceBatch call.
type Batch struct {
	ID       uuid.UUID                 `json:"id"`
	Findings []finding.EnhancedFinding `json:"findings"`
	Summary  Summary                   `json:"summary"`
}

// Enhance triages and validates findings and returns the kept ones in input
// order. Rejected and locally filtered findings are dropped.
func (o *Orchestrator) Enhance(ctx context.Context, findings []finding.Finding) []finding.EnhancedFinding {
	batch, _ := o.EnhanceBatch(ctx, findings)
	return batch.Findings
}

// EnhanceBatch is Enhance plus the batch summary. The batch is always
// returned; the error is non-nil only when ctx ended before the batch completed.
func (o *Orchestrator) EnhanceBatch(ctx context.Context, findings []finding.Finding) (*Batch, error) {
	start := time.Now()
	batch := &Batch{ID: uuid.New()}

	outcomes := make([]finding.EnhancedFinding, len(findings))
	var tasks []task
	for i, f := range findings {
		d := o.classifier.Decide(ctx, f)
		if !d.Validate {
			e := finding.Enhance(f, finding.VerdictSkipped, d.Baseline)
			e.Explanation = d.Reason
			e.ValidatedBy = f.Analyzer
			outcomes[i] = e
			continue
		}
		tasks = append(tasks, task{index: i, finding: f, baseline: d.Baseline})
	}

	var aiCalls atomic.Int64
	if len(tasks) > 0 {
		slog.Debug("submitting findings for AI validation",
			"batch", batch.ID, "validate", len(tasks), "skipped", len(findings)-len(tasks))
		o.runPool(ctx, tasks, outcomes, &aiCalls)
	}

	batch.Findings = o.aggregator.Merge(outcomes)
	batch.Summary = o.aggregator.Summarize(batch.ID, outcomes, aiCalls.Load(), time.Since(start))
	if err := ctx.Err(); err != nil {
		return batch, fmt.Errorf("batch %s interrupted: %w", batch.ID, err)
	}
	return batch, nil
}

type task struct {
	index    int
	finding  finding.Finding
	baseline float64
}

type result struct {
	index   int
	outcome finding.EnhancedFinding
}

// runPool fans tasks out to min(Concurrency, len(tasks)) workers and writes
// each outcome at its task's index.
func (o *Orchestrator) runPool(ctx context.Context, tasks []task, outcomes []finding.EnhancedFinding, aiCalls *atomic.Int64) {
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan task, len(tasks))
	results := make(chan result, len(tasks))

	workers := min(o.cfg.Concurrency, len(tasks))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				results <- result{index: t.index, outcome: o.runTask(poolCtx, t, aiCalls)}
			}
		}()
	}

	for _, t := range tasks {
		jobs <- t
	}
	close(jobs)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	resolved := make(map[int]bool, len(tasks))
	collect := func(r result) {
		outcomes[r.index] = r.outcome
		resolved[r.index] = true
	}

wait:
	for len(resolved) < len(tasks) {
		select {
		case r := <-results:
			collect(r)
		case <-ctx.Done():
			break wait
		}
	}

	if len(resolved) == len(tasks) {
		<-done
		return
	}

	// Cancelled: stop the pool and give in-flight tasks a bounded grace period.
	cancel()
	timer := time.NewTimer(o.cfg.ShutdownTimeout)
	defer timer.Stop()
drain:
	for {
		select {
		case r := <-results:
			collect(r)
		case <-done:
			for len(results) > 0 {
				collect(<-results)
			}
			break drain
		case <-timer.C:
			slog.Warn("validation pool did not stop in time", "timeout", o.cfg.ShutdownTimeout)
			break drain
		}
	}

	for _, t := range tasks {
		if !resolved[t.index] {
			err := taskError(t.finding.ID, StageCanceled, context.Cause(ctx))
			outcomes[t.index] = o.failed(t, err)
		}
	}
}

// runTask validates one finding. It never returns an error: failures become FAILED.
func (o *Orchestrator) runTask(ctx context.Context, t task, aiCalls *atomic.Int64) (out finding.EnhancedFinding) {
	f := t.finding
	defer func() {
		if r := recover(); r != nil {
			out = o.failed(t, taskError(f.ID, StagePanic, fmt.Errorf("%v", r)))
		}
	}()

	if err := ctx.Err(); err != nil {
		return o.failed(t, taskError(f.ID, StageCanceled, err))
	}

	code := o.extractor.Slice(f.Location.FilePath, f.Location.Line)

	if o.classifier.ShortCircuit(f, code) {
		e := finding.Enhance(f, finding.VerdictLocalFiltered, t.baseline)
		e.Explanation = "race condition reported but no threading constructs in context"
		e.ValidatedBy = f.Analyzer + " + local heuristic"
		slog.Debug("finding filtered locally", "finding", f.ID)
		return e
	}

	prompt, err := buildPrompt(f, code)
	if err != nil {
		return o.failed(t, taskError(f.ID, StagePrompt, err))
	}

	aiCalls.Add(1)
	raw, err := o.client.Send(ctx, llm.JSONSystemPrompt, prompt, o.cfg.Options)
	if err != nil {
		return o.failed(t, taskError(f.ID, StageComplete, err))
	}

	v, err := parseVerdict(raw)
	if err != nil {
		return o.failed(t, taskError(f.ID, StageParse, err))
	}

	if !*v.IsVulnerability {
		e := finding.Enhance(f, finding.VerdictRejected, 0)
		e.Explanation = v.Reason
		e.ValidatedBy = f.Analyzer + " + AI"
		slog.Debug("finding rejected by AI", "finding", f.ID, "reason", utils.Truncate(v.Reason, 120))
		return e
	}

	e := finding.Enhance(f, finding.VerdictConfirmed, o.cfg.ConfirmedConfidence)
	e.Explanation = v.Reason
	e.ValidatedBy = f.Analyzer + " + AI"
	if sev, ok := v.suggestedSeverity(); ok {
		e.SeverityOverride = &sev
	}
	return e
}

// failed keeps the finding with a reduced confidence and its original severity.
func (o *Orchestrator) failed(t task, err error) finding.EnhancedFinding {
	slog.Error("AI validation failed", "finding", t.finding.ID, "analyzer", t.finding.Analyzer, "error", err)

	e := finding.Enhance(t.finding, finding.VerdictFailed, t.baseline*o.cfg.FailureMultiplier)
	e.Explanation = err.Error()
	e.ValidatedBy = t.finding.Analyzer
	return e
}

// CacheStats reports the shared cache counters, if a cache is attached.
func (o *Orchestrator) CacheStats() (cache.Stats, bool) {
	return o.aggregator.CacheStats()
}

// Close releases the cache and the extractor's file cache.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		if c, ok := o.extractor.(interface{ Clear() }); ok {
			c.Clear()
		}
		err = o.aggregator.close()
	})
	return err
}
