package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephgoksu/TriageWing/internal/cache"
	"github.com/josephgoksu/TriageWing/internal/codeslice"
	"github.com/josephgoksu/TriageWing/internal/finding"
	"github.com/josephgoksu/TriageWing/internal/llm"
	"github.com/josephgoksu/TriageWing/internal/triage"
)

const copySource = `#include <string.h>

void copy(char *dst, const char *src)
{
    strcpy(dst, src);
}
`

const (
	confirmJSON = `{"is_vulnerability": true, "reason": "unbounded strcpy", "suggested_severity": "Critical"}`
	rejectJSON  = `{"is_vulnerability": false, "reason": "caller bounds src", "suggested_severity": "Info"}`
)

// completerFunc adapts a function to llm.Completer and counts calls.
type completerFunc struct {
	fn    func(ctx context.Context, user string) (string, error)
	calls atomic.Int64
}

func (c *completerFunc) Send(ctx context.Context, _, user string, _ llm.Options) (string, error) {
	c.calls.Add(1)
	return c.fn(ctx, user)
}

func answer(s string) *completerFunc {
	return &completerFunc{fn: func(context.Context, string) (string, error) { return s, nil }}
}

// failingChat is an eino chat model whose calls always fail transiently.
type failingChat struct {
	calls atomic.Int64
}

func (f *failingChat) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	f.calls.Add(1)
	return nil, errors.New("503 service unavailable")
}

func (f *failingChat) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

type panicExtractor struct{}

func (panicExtractor) Slice(string, int) string { panic("slicer exploded") }

func newExtractor(t *testing.T) *codeslice.Extractor {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "src/copy.c", []byte(copySource), 0o644))
	return codeslice.NewExtractor(fs)
}

func newOrchestrator(t *testing.T, cfg Config, client llm.Completer, store CacheStore) *Orchestrator {
	t.Helper()
	o, err := New(cfg, Deps{
		Classifier: triage.NewClassifier(triage.DefaultConfig(), nil),
		Extractor:  newExtractor(t),
		Client:     client,
		Cache:      store,
	})
	require.NoError(t, err)
	return o
}

func mkFinding(id, analyzer string, sev finding.Severity, title string) finding.Finding {
	return finding.Finding{
		ID:          id,
		Title:       title,
		Description: title,
		Severity:    sev,
		Category:    "MEMORY",
		Analyzer:    analyzer,
		Location:    finding.Location{FilePath: "src/copy.c", Line: 5},
	}
}

func byID(out []finding.EnhancedFinding) map[string]finding.EnhancedFinding {
	m := make(map[string]finding.EnhancedFinding, len(out))
	for _, e := range out {
		m[e.ID] = e
	}
	return m
}

func TestEnhance_MixedBatch(t *testing.T) {
	client := answer(confirmJSON)
	o := newOrchestrator(t, DefaultConfig(), client, nil)

	findings := []finding.Finding{
		mkFinding("f1", "clang-tidy", finding.SeverityCritical, "Buffer overflow in strcpy"),
		mkFinding("f2", "semgrep", finding.SeverityMedium, "Potential race condition on dst"),
		mkFinding("f3", "regex", finding.SeverityHigh, "Use of strcpy"),
	}

	batch, err := o.EnhanceBatch(context.Background(), findings)
	require.NoError(t, err)

	assert.Equal(t, int64(2), client.calls.Load())
	require.Len(t, batch.Findings, 2)
	assert.Equal(t, "f1", batch.Findings[0].ID)
	assert.Equal(t, "f3", batch.Findings[1].ID)

	for _, e := range batch.Findings {
		assert.Equal(t, finding.VerdictConfirmed, e.Verdict)
		assert.InDelta(t, 0.95, e.Confidence, 1e-9)
		assert.Equal(t, finding.SeverityCritical, e.EffectiveSeverity())
		assert.Equal(t, e.Analyzer+" + AI", e.ValidatedBy)
	}

	assert.Equal(t, 3, batch.Summary.Total)
	assert.Equal(t, 1, batch.Summary.LocalFiltered)
	assert.Equal(t, 2, batch.Summary.Confirmed)
	assert.Equal(t, int64(2), batch.Summary.AICalls)
}

func TestEnhance_EmptyBatch(t *testing.T) {
	client := answer(confirmJSON)
	store := cache.New(cache.Config{Fs: afero.NewMemMapFs(), Dir: "/cache", Persist: true})
	cached := llm.NewCachedClient(client, store)
	o := newOrchestrator(t, DefaultConfig(), cached, store)

	out := o.Enhance(context.Background(), nil)

	assert.Empty(t, out)
	assert.Equal(t, int64(0), client.calls.Load())
	stats := store.Stats()
	assert.Zero(t, stats.Hits+stats.Misses)
}

func TestEnhance_RetriesExhausted(t *testing.T) {
	chat := &failingChat{}
	client := llm.NewClient(chat, llm.ClientConfig{MaxAttempts: 3, BaseDelay: time.Millisecond})
	o := newOrchestrator(t, DefaultConfig(), client, nil)

	f := mkFinding("f1", "regex", finding.SeverityHigh, "Use of strcpy")
	out := o.Enhance(context.Background(), []finding.Finding{f})

	require.Len(t, out, 1)
	assert.Equal(t, finding.VerdictFailed, out[0].Verdict)
	assert.InDelta(t, 0.40*0.8, out[0].Confidence, 1e-9)
	assert.Nil(t, out[0].SeverityOverride)
	assert.Equal(t, finding.SeverityHigh, out[0].EffectiveSeverity())
	assert.Equal(t, int64(3), chat.calls.Load())
}

func TestEnhance_HighPrecisionNonCriticalSkipped(t *testing.T) {
	client := answer(confirmJSON)
	o := newOrchestrator(t, DefaultConfig(), client, nil)

	var findings []finding.Finding
	for i, sev := range []finding.Severity{finding.SeverityHigh, finding.SeverityMedium, finding.SeverityLow, finding.SeverityInfo} {
		findings = append(findings, mkFinding(fmt.Sprintf("f%d", i), "clang-tidy", sev, "Null dereference"))
	}

	out := o.Enhance(context.Background(), findings)

	require.Len(t, out, len(findings))
	for _, e := range out {
		assert.Equal(t, finding.VerdictSkipped, e.Verdict)
		assert.InDelta(t, 0.90, e.Confidence, 1e-9)
	}
	assert.Zero(t, client.calls.Load())
}

func TestEnhance_LowPrecisionNeverSkipped(t *testing.T) {
	o := newOrchestrator(t, DefaultConfig(), answer(confirmJSON), nil)

	for _, sev := range []finding.Severity{finding.SeverityCritical, finding.SeverityHigh, finding.SeverityMedium, finding.SeverityLow, finding.SeverityInfo} {
		out := o.Enhance(context.Background(), []finding.Finding{mkFinding("f", "regex", sev, "Use of strcpy")})
		require.Len(t, out, 1)
		assert.NotEqual(t, finding.VerdictSkipped, out[0].Verdict, "severity %s", sev)
	}
}

func TestEnhance_PoolPreservesEveryFinding(t *testing.T) {
	var inFlight, peak atomic.Int64
	client := &completerFunc{fn: func(_ context.Context, user string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		if strings.Contains(user, "Issue: reject") {
			return rejectJSON, nil
		}
		return confirmJSON, nil
	}}

	cfg := DefaultConfig()
	cfg.Concurrency = 3
	o := newOrchestrator(t, cfg, client, nil)

	const n = 25
	var findings []finding.Finding
	rejected := 0
	for i := 0; i < n; i++ {
		title := fmt.Sprintf("keep %d", i)
		if i%4 == 0 {
			title = fmt.Sprintf("reject %d", i)
			rejected++
		}
		findings = append(findings, mkFinding(fmt.Sprintf("f%02d", i), "regex", finding.SeverityHigh, title))
	}

	batch, err := o.EnhanceBatch(context.Background(), findings)
	require.NoError(t, err)

	assert.Equal(t, n, batch.Summary.Total)
	assert.Equal(t, rejected, batch.Summary.Rejected)
	assert.Len(t, batch.Findings, n-rejected)
	assert.Equal(t, int64(n), client.calls.Load())
	assert.LessOrEqual(t, peak.Load(), int64(3))

	for i := 1; i < len(batch.Findings); i++ {
		assert.Less(t, batch.Findings[i-1].ID, batch.Findings[i].ID, "output keeps input order")
	}
}

func TestEnhance_VerdictMapping(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantKept    bool
		wantVerdict finding.Verdict
		wantSev     finding.Severity
	}{
		{
			name:        "confirmed with suggested severity",
			response:    `{"is_vulnerability": true, "reason": "r", "suggested_severity": "low"}`,
			wantKept:    true,
			wantVerdict: finding.VerdictConfirmed,
			wantSev:     finding.SeverityLow,
		},
		{
			name:        "confirmed with unknown severity keeps original",
			response:    `{"is_vulnerability": true, "reason": "r", "suggested_severity": "Catastrophic"}`,
			wantKept:    true,
			wantVerdict: finding.VerdictConfirmed,
			wantSev:     finding.SeverityHigh,
		},
		{
			name:        "confirmed inside markdown",
			response:    "Sure.\n```json\n" + confirmJSON + "\n```",
			wantKept:    true,
			wantVerdict: finding.VerdictConfirmed,
			wantSev:     finding.SeverityCritical,
		},
		{
			name:     "rejected",
			response: rejectJSON,
			wantKept: false,
		},
		{
			name:        "missing verdict field fails",
			response:    `{"reason": "unsure"}`,
			wantKept:    true,
			wantVerdict: finding.VerdictFailed,
			wantSev:     finding.SeverityHigh,
		},
		{
			name:        "prose only fails",
			response:    "I think this is probably fine.",
			wantKept:    true,
			wantVerdict: finding.VerdictFailed,
			wantSev:     finding.SeverityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, DefaultConfig(), answer(tt.response), nil)
			out := o.Enhance(context.Background(), []finding.Finding{mkFinding("f1", "semgrep", finding.SeverityHigh, "Tainted input reaches strcpy")})

			if !tt.wantKept {
				assert.Empty(t, out)
				return
			}
			require.Len(t, out, 1)
			assert.Equal(t, tt.wantVerdict, out[0].Verdict)
			assert.Equal(t, tt.wantSev, out[0].EffectiveSeverity())
			assert.Equal(t, finding.SeverityHigh, out[0].OriginalSeverity)
			if tt.wantVerdict == finding.VerdictFailed {
				assert.InDelta(t, 0.60*0.8, out[0].Confidence, 1e-9)
			}
		})
	}
}

func TestEnhance_ShortCircuitMakesNoCalls(t *testing.T) {
	client := answer(confirmJSON)
	o := newOrchestrator(t, DefaultConfig(), client, nil)

	out := o.Enhance(context.Background(), []finding.Finding{
		mkFinding("f1", "semgrep", finding.SeverityHigh, "Data race on shared buffer"),
	})

	assert.Empty(t, out)
	assert.Zero(t, client.calls.Load())
}

func TestEnhance_UnreadableFileIsNotFilteredLocally(t *testing.T) {
	client := answer(confirmJSON)
	o := newOrchestrator(t, DefaultConfig(), client, nil)

	f := mkFinding("f1", "semgrep", finding.SeverityHigh, "Data race on shared buffer")
	f.Location.FilePath = "src/missing.c"

	batch, err := o.EnhanceBatch(context.Background(), []finding.Finding{f})
	require.NoError(t, err)

	assert.Equal(t, int64(1), client.calls.Load())
	assert.Zero(t, batch.Summary.LocalFiltered)
	require.Len(t, batch.Findings, 1)
	assert.Equal(t, finding.VerdictConfirmed, batch.Findings[0].Verdict)
}

func TestEnhance_PanicIsolated(t *testing.T) {
	client := answer(confirmJSON)
	o, err := New(DefaultConfig(), Deps{
		Classifier: triage.NewClassifier(triage.DefaultConfig(), nil),
		Extractor:  panicExtractor{},
		Client:     client,
	})
	require.NoError(t, err)

	out := o.Enhance(context.Background(), []finding.Finding{
		mkFinding("f1", "regex", finding.SeverityHigh, "Use of strcpy"),
		mkFinding("f2", "clang-tidy", finding.SeverityLow, "Unused variable"),
	})

	require.Len(t, out, 2)
	got := byID(out)
	assert.Equal(t, finding.VerdictFailed, got["f1"].Verdict)
	assert.Contains(t, got["f1"].Explanation, "slicer exploded")
	assert.Equal(t, finding.VerdictSkipped, got["f2"].Verdict)
}

func TestEnhance_CancelledContext(t *testing.T) {
	started := make(chan struct{}, 16)
	client := &completerFunc{fn: func(ctx context.Context, _ string) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	}}

	cfg := DefaultConfig()
	cfg.Concurrency = 2
	o := newOrchestrator(t, cfg, client, nil)

	var findings []finding.Finding
	for i := 0; i < 6; i++ {
		findings = append(findings, mkFinding(fmt.Sprintf("f%d", i), "regex", finding.SeverityHigh, "Use of strcpy"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	batch, err := o.EnhanceBatch(ctx, findings)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, batch.Findings, len(findings))
	for _, e := range batch.Findings {
		assert.Equal(t, finding.VerdictFailed, e.Verdict)
		assert.InDelta(t, 0.32, e.Confidence, 1e-9)
	}
	assert.LessOrEqual(t, client.calls.Load(), int64(2))
}

func TestEnhance_ShutdownTimeoutBoundsWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{}, 1)
	client := &completerFunc{fn: func(context.Context, string) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return confirmJSON, nil
	}}

	cfg := DefaultConfig()
	cfg.ShutdownTimeout = 20 * time.Millisecond
	o := newOrchestrator(t, cfg, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	begin := time.Now()
	out := o.Enhance(ctx, []finding.Finding{mkFinding("f1", "regex", finding.SeverityHigh, "Use of strcpy")})

	assert.Less(t, time.Since(begin), time.Second)
	require.Len(t, out, 1)
	assert.Equal(t, finding.VerdictFailed, out[0].Verdict)
}

func TestEnhance_CachedRepeatBatch(t *testing.T) {
	client := answer(confirmJSON)
	store := cache.New(cache.Config{Fs: afero.NewMemMapFs(), Dir: "/cache", Persist: true})
	o := newOrchestrator(t, DefaultConfig(), llm.NewCachedClient(client, store), store)

	findings := []finding.Finding{mkFinding("f1", "regex", finding.SeverityHigh, "Use of strcpy")}
	first := o.Enhance(context.Background(), findings)
	second := o.Enhance(context.Background(), findings)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), client.calls.Load())

	stats, ok := o.CacheStats()
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

type closeCounter struct {
	mu     sync.Mutex
	closed int
}

func (c *closeCounter) Stats() cache.Stats { return cache.Stats{} }

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func TestOrchestrator_Close(t *testing.T) {
	store := &closeCounter{}
	extractor := newExtractor(t)
	o, err := New(DefaultConfig(), Deps{
		Classifier: triage.NewClassifier(triage.DefaultConfig(), nil),
		Extractor:  extractor,
		Client:     answer(confirmJSON),
		Cache:      store,
	})
	require.NoError(t, err)

	o.Enhance(context.Background(), []finding.Finding{mkFinding("f1", "regex", finding.SeverityHigh, "Use of strcpy")})
	assert.Equal(t, 1, extractor.CachedFiles())

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	assert.Equal(t, 1, store.closed)
	assert.Zero(t, extractor.CachedFiles())
}

func TestNew_Validation(t *testing.T) {
	classifier := triage.NewClassifier(triage.DefaultConfig(), nil)
	extractor := newExtractor(t)
	client := answer(confirmJSON)

	tests := []struct {
		name string
		cfg  Config
		deps Deps
	}{
		{"zero concurrency", Config{Concurrency: 0, ConfirmedConfidence: 0.95, FailureMultiplier: 0.8}, Deps{classifier, extractor, client, nil}},
		{"confidence above one", Config{Concurrency: 1, ConfirmedConfidence: 1.5, FailureMultiplier: 0.8}, Deps{classifier, extractor, client, nil}},
		{"missing classifier", DefaultConfig(), Deps{nil, extractor, client, nil}},
		{"missing extractor", DefaultConfig(), Deps{classifier, nil, client, nil}},
		{"missing client", DefaultConfig(), Deps{classifier, extractor, nil, nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.deps)
			assert.Error(t, err)
		})
	}
}
