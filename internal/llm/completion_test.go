package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChat replays scripted results; once the script runs out the last entry repeats.
type fakeChat struct {
	mu      sync.Mutex
	script  []fakeResult
	calls   int
	lastIn  []*schema.Message
	lastOpt *model.Options
}

type fakeResult struct {
	content string
	err     error
}

func (f *fakeChat) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := min(f.calls, len(f.script)-1)
	f.calls++
	f.lastIn = input
	f.lastOpt = model.GetCommonOptions(nil, opts...)

	r := f.script[idx]
	if r.err != nil {
		return nil, r.err
	}
	return schema.AssistantMessage(r.content, nil), nil
}

func (f *fakeChat) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (f *fakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfig() ClientConfig {
	return ClientConfig{RequestsPerSecond: 0, MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestClient_Send_BuildsRequest(t *testing.T) {
	chat := &fakeChat{script: []fakeResult{{content: `{"is_vulnerability": true}`}}}
	c := NewClient(chat, fastConfig())

	got, err := c.Send(context.Background(), "", "analyze this", ValidationOptions())
	require.NoError(t, err)
	assert.Equal(t, `{"is_vulnerability": true}`, got)

	require.Len(t, chat.lastIn, 2)
	assert.Equal(t, schema.System, chat.lastIn[0].Role)
	assert.Equal(t, JSONSystemPrompt, chat.lastIn[0].Content)
	assert.Equal(t, schema.User, chat.lastIn[1].Role)

	require.NotNil(t, chat.lastOpt.Temperature)
	assert.Equal(t, DefaultTemperature, *chat.lastOpt.Temperature)
	require.NotNil(t, chat.lastOpt.MaxTokens)
	assert.Equal(t, DefaultMaxTokens, *chat.lastOpt.MaxTokens)
	assert.Equal(t, int64(1), c.Requests())
}

func TestClient_Send_TextModeHasNoDefaultSystemPrompt(t *testing.T) {
	chat := &fakeChat{script: []fakeResult{{content: "hello"}}}
	c := NewClient(chat, fastConfig())

	_, err := c.Send(context.Background(), "", "hi", Options{Format: FormatText})
	require.NoError(t, err)
	require.Len(t, chat.lastIn, 1)
	assert.Equal(t, schema.User, chat.lastIn[0].Role)
}

func TestClient_Send_Retries(t *testing.T) {
	tests := []struct {
		name         string
		script       []fakeResult
		wantErr      bool
		wantCode     ErrorCode
		wantCalls    int
		wantIsTarget error
	}{
		{
			name: "transient then success",
			script: []fakeResult{
				{err: errors.New("connection reset by peer")},
				{err: errors.New("429 too many requests")},
				{content: "ok"},
			},
			wantCalls: 3,
		},
		{
			name:      "exhausted",
			script:    []fakeResult{{err: errors.New("503 service unavailable")}},
			wantErr:   true,
			wantCode:  RetriesExhausted,
			wantCalls: 3,
		},
		{
			name:      "terminal stops immediately",
			script:    []fakeResult{{err: errors.New("401 unauthorized: invalid api key")}},
			wantErr:   true,
			wantCode:  Terminal,
			wantCalls: 1,
		},
		{
			name:         "empty responses are retried",
			script:       []fakeResult{{content: "   "}},
			wantErr:      true,
			wantCode:     RetriesExhausted,
			wantCalls:    3,
			wantIsTarget: ErrEmptyResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{script: tt.script}
			c := NewClient(chat, fastConfig())

			got, err := c.Send(context.Background(), "sys", "user", ValidationOptions())
			assert.Equal(t, tt.wantCalls, chat.Calls())

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "ok", got)
				return
			}

			require.Error(t, err)
			var ce *ClientError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantCode, ce.Code)
			assert.Equal(t, tt.wantCalls, ce.Attempts)
			if tt.wantIsTarget != nil {
				assert.ErrorIs(t, err, tt.wantIsTarget)
			}
		})
	}
}

func TestClient_Send_CanceledWhileWaiting(t *testing.T) {
	chat := &fakeChat{script: []fakeResult{{content: "ok"}}}
	c := NewClient(chat, ClientConfig{RequestsPerSecond: 0.001, MaxAttempts: 3})

	// Drain the single burst token.
	_, err := c.Send(context.Background(), "", "first", Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Send(ctx, "", "second", Options{})
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Canceled, ce.Code)
	assert.Equal(t, 1, chat.Calls(), "no provider call while blocked on the limiter")
}

func TestClient_Send_CanceledDuringBackoff(t *testing.T) {
	chat := &fakeChat{script: []fakeResult{{err: errors.New("timeout")}}}
	c := NewClient(chat, ClientConfig{MaxAttempts: 3, BaseDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, "", "x", Options{})
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Canceled, ce.Code)
	assert.Equal(t, 1, chat.Calls())
}

func TestClient_RateLimitIsGlobal(t *testing.T) {
	chat := &fakeChat{script: []fakeResult{{content: "ok"}}}
	c := NewClient(chat, ClientConfig{RequestsPerSecond: 20, MaxAttempts: 1})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Send(context.Background(), "", "x", Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Burst of one: the remaining four wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 5, chat.Calls())
}

func TestIsTerminalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, true},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), true},
		{"forbidden", errors.New("403 Forbidden: permission denied"), true},
		{"bad request", errors.New("400 bad request"), true},
		{"status code field", errors.New("error, status code: 401, message: invalid key"), true},
		{"sdk url prefix", errors.New(`POST "https://api.example.com/v1/messages": 404 Not Found model not found`), true},
		{"connection reset", errors.New("read tcp: connection reset"), false},
		{"rate limit", errors.New("rate limit exceeded"), false},
		{"port number", errors.New("dial tcp 10.0.0.5:54001: connect: connection refused"), false},
		{"millisecond timeout", errors.New("request timeout after 4000ms"), false},
		{"retry after", errors.New("429 Too Many Requests: retry after 1400ms"), false},
		{"digits in body", errors.New("upstream returned 5400 bytes of garbage"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTerminalError(tt.err))
		})
	}
}

func TestClient_Send_RetriesErrorsContainingStatusDigits(t *testing.T) {
	for _, msg := range []string{
		"dial tcp 10.0.0.5:54001: connect: connection refused",
		"request timeout after 4000ms",
		"429 Too Many Requests: retry after 1400ms",
	} {
		t.Run(msg, func(t *testing.T) {
			chat := &fakeChat{script: []fakeResult{
				{err: errors.New(msg)},
				{err: errors.New(msg)},
				{content: "ok"},
			}}
			c := NewClient(chat, fastConfig())

			got, err := c.Send(context.Background(), "", "hi", ValidationOptions())
			require.NoError(t, err)
			assert.Equal(t, "ok", got)
			assert.Equal(t, 3, chat.Calls())
		})
	}
}
