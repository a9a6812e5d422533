package llm

import (
	"context"
	"log/slog"

	"github.com/josephgoksu/TriageWing/internal/cache"
)

// Store is the cache surface CachedClient needs.
type Store interface {
	Get(key string) (string, bool)
	Put(key, value string)
	Stats() cache.Stats
}

// CachedClient serves repeated prompts from a Store and writes misses through.
type CachedClient struct {
	next  Completer
	store Store
}

// NewCachedClient decorates next with store.
func NewCachedClient(next Completer, store Store) *CachedClient {
	return &CachedClient{next: next, store: store}
}

// Send returns a cached answer when present; otherwise it calls the wrapped
// Completer and caches a successful answer. Errors are never cached.
func (c *CachedClient) Send(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	format := opts.Format
	if format == "" {
		format = FormatText
	}
	key := cache.Key(systemPrompt+"\n\n"+userPrompt, string(format))

	if v, ok := c.store.Get(key); ok {
		return v, nil
	}

	resp, err := c.next.Send(ctx, systemPrompt, userPrompt, opts)
	if err != nil {
		return "", err
	}

	c.store.Put(key, resp)
	slog.Debug("cached completion", "format", format, "bytes", len(resp))
	return resp, nil
}

// Stats reports the underlying cache statistics.
func (c *CachedClient) Stats() cache.Stats {
	return c.store.Stats()
}
