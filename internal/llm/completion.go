package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"
)

// ResponseFormat selects how the model is asked to answer.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// Options tune a single request.
type Options struct {
	Temperature float32
	MaxTokens   int
	Format      ResponseFormat
}

// ValidationOptions are the settings for verdict classification calls.
func ValidationOptions() Options {
	return Options{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Format:      FormatJSON,
	}
}

// Completer sends one prompt and returns the model's text.
type Completer interface {
	Send(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)
}

// ClientConfig controls admission and retry.
type ClientConfig struct {
	// RequestsPerSecond is the global ceiling across all callers. <= 0 disables throttling.
	RequestsPerSecond float64
	// MaxAttempts includes the first try.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number between tries.
	BaseDelay time.Duration
}

// DefaultClientConfig returns 5 rps, 3 attempts, 1s base delay.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestsPerSecond: DefaultRequestsPerSecond,
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultRetryBaseDelay,
	}
}

// Client is a rate-limited, retrying Completer over an eino chat model.
// One Client shares one limiter across all goroutines using it.
type Client struct {
	chat        model.BaseChatModel
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration

	requests atomic.Int64
}

// NewClient wraps chat with admission control and retries.
func NewClient(chat model.BaseChatModel, cfg ClientConfig) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	return &Client{
		chat:        chat,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}
}

// Send blocks until the limiter admits each attempt, then calls the model.
// After MaxAttempts transient failures it returns a *ClientError carrying the last cause.
func (c *Client) Send(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	if opts.Format == FormatJSON && systemPrompt == "" {
		systemPrompt = JSONSystemPrompt
	}

	messages := make([]*schema.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, schema.SystemMessage(systemPrompt))
	}
	messages = append(messages, schema.UserMessage(userPrompt))

	modelOpts := []model.Option{model.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		modelOpts = append(modelOpts, model.WithMaxTokens(opts.MaxTokens))
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", newClientError(Canceled, attempt-1, err)
		}

		c.requests.Add(1)
		resp, err := c.chat.Generate(ctx, messages, modelOpts...)
		if err == nil {
			if resp != nil && strings.TrimSpace(resp.Content) != "" {
				return resp.Content, nil
			}
			err = ErrEmptyResponse
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", newClientError(Canceled, attempt, err)
		}
		if isTerminalError(err) {
			return "", newClientError(Terminal, attempt, err)
		}
		if attempt < c.maxAttempts {
			delay := c.baseDelay * time.Duration(attempt)
			slog.Debug("completion retry", "attempt", attempt, "delay", delay, "error", err)
			if err := sleepCtx(ctx, delay); err != nil {
				return "", newClientError(Canceled, attempt, err)
			}
		}
	}

	return "", newClientError(RetriesExhausted, c.maxAttempts, lastErr)
}

// Requests returns how many provider calls were issued, retries included.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
