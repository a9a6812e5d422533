package validation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/josephgoksu/TriageWing/internal/cache"
	"github.com/josephgoksu/TriageWing/internal/finding"
)

type fixedStats struct{ stats cache.Stats }

func (f fixedStats) Stats() cache.Stats { return f.stats }
func (f fixedStats) Close() error       { return nil }

func outcome(id string, v finding.Verdict) finding.EnhancedFinding {
	return finding.Enhance(finding.Finding{ID: id, Severity: finding.SeverityHigh}, v, 0.5)
}

func TestAggregator_MergeAndSummarize(t *testing.T) {
	outcomes := []finding.EnhancedFinding{
		outcome("a", finding.VerdictSkipped),
		outcome("b", finding.VerdictRejected),
		outcome("c", finding.VerdictConfirmed),
		outcome("d", finding.VerdictLocalFiltered),
		outcome("e", finding.VerdictFailed),
		outcome("f", finding.VerdictConfirmed),
	}

	a := NewAggregator(nil)
	kept := a.Merge(outcomes)

	var ids []string
	for _, k := range kept {
		ids = append(ids, k.ID)
	}
	assert.Equal(t, []string{"a", "c", "e", "f"}, ids)

	id := uuid.New()
	s := a.Summarize(id, outcomes, 3, time.Second)
	assert.Equal(t, Summary{
		BatchID:       id,
		Total:         6,
		Skipped:       1,
		Confirmed:     2,
		Rejected:      1,
		LocalFiltered: 1,
		Failed:        1,
		Kept:          4,
		AICalls:       3,
		Duration:      time.Second,
	}, s)
	assert.Contains(t, s.String(), "4 kept")
}

func TestAggregator_CacheStats(t *testing.T) {
	_, ok := NewAggregator(nil).CacheStats()
	assert.False(t, ok)

	want := cache.Stats{Hits: 4, Misses: 1}
	got, ok := NewAggregator(fixedStats{want}).CacheStats()
	assert.True(t, ok)
	assert.Equal(t, want, got)
}
