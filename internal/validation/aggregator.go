package validation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josephgoksu/TriageWing/internal/cache"
	"github.com/josephgoksu/TriageWing/internal/finding"
)

// Summary counts the verdicts of one batch.
type Summary struct {
	BatchID       uuid.UUID     `json:"batch_id" yaml:"batch_id"`
	Total         int           `json:"total" yaml:"total"`
	Skipped       int           `json:"skipped" yaml:"skipped"`
	Confirmed     int           `json:"confirmed" yaml:"confirmed"`
	Rejected      int           `json:"rejected" yaml:"rejected"`
	LocalFiltered int           `json:"local_filtered" yaml:"local_filtered"`
	Failed        int           `json:"failed" yaml:"failed"`
	Kept          int           `json:"kept" yaml:"kept"`
	AICalls       int64         `json:"ai_calls" yaml:"ai_calls"`
	Duration      time.Duration `json:"duration_ns" yaml:"duration"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d findings: %d kept (%d confirmed, %d skipped, %d failed), %d rejected, %d filtered locally, %d AI calls",
		s.Total, s.Kept, s.Confirmed, s.Skipped, s.Failed, s.Rejected, s.LocalFiltered, s.AICalls)
}

// Aggregator merges per-finding outcomes and reports on them.
type Aggregator struct {
	cache CacheStore
}

// NewAggregator returns an Aggregator; store may be nil.
func NewAggregator(store CacheStore) *Aggregator {
	return &Aggregator{cache: store}
}

// Merge returns the outcomes that stay in the output, preserving order.
func (a *Aggregator) Merge(outcomes []finding.EnhancedFinding) []finding.EnhancedFinding {
	kept := make([]finding.EnhancedFinding, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Verdict.Kept() {
			kept = append(kept, o)
		}
	}
	return kept
}

// Summarize counts verdicts and logs the summary. Cache statistics are
// logged too when the batch reached the model.
func (a *Aggregator) Summarize(id uuid.UUID, outcomes []finding.EnhancedFinding, aiCalls int64, elapsed time.Duration) Summary {
	s := Summary{BatchID: id, Total: len(outcomes), AICalls: aiCalls, Duration: elapsed}
	for _, o := range outcomes {
		switch o.Verdict {
		case finding.VerdictSkipped:
			s.Skipped++
		case finding.VerdictConfirmed:
			s.Confirmed++
		case finding.VerdictRejected:
			s.Rejected++
		case finding.VerdictLocalFiltered:
			s.LocalFiltered++
		case finding.VerdictFailed:
			s.Failed++
		}
		if o.Verdict.Kept() {
			s.Kept++
		}
	}

	slog.Info("AI enhancement complete",
		"batch", id,
		"total", s.Total,
		"kept", s.Kept,
		"confirmed", s.Confirmed,
		"skipped", s.Skipped,
		"rejected", s.Rejected,
		"local_filtered", s.LocalFiltered,
		"failed", s.Failed,
		"ai_calls", s.AICalls,
		"duration", elapsed.Round(time.Millisecond))

	if stats, ok := a.CacheStats(); ok && aiCalls > 0 {
		slog.Info("AI cache", "stats", stats.String())
	}
	return s
}

// CacheStats returns the attached cache's counters.
func (a *Aggregator) CacheStats() (cache.Stats, bool) {
	if a.cache == nil {
		return cache.Stats{}, false
	}
	return a.cache.Stats(), true
}

func (a *Aggregator) close() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}
