// Package quotecache implements the Realtime Quote Cache of spec §4.4: an
// in-memory map of symbol to (Quote, asOf) with a 3-second TTL, falling
// through to the Fallback Executor over the configured quote-provider order
// on a miss. Grounded on internal/cnapi/server.go's sync.Map-keyed cache
// pattern, generalized to per-entry TTL expiry.
package quotecache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"jupitor/internal/domain"
	"jupitor/internal/fallback"
	"jupitor/internal/provider"
)

const ttl = 3 * time.Second

type entry struct {
	quote domain.Quote
	asOf  time.Time
}

// Cache is the Realtime Quote Cache. Thread-safe: all operations under a
// single mutex, matching spec §5's "in-memory caches: single mutex each".
type Cache struct {
	mu        sync.Mutex
	quotes    map[string]entry
	snapshots map[string]snapshotEntry

	providers []provider.QuoteProvider
	log       *slog.Logger
	now       func() time.Time
}

type snapshotEntry struct {
	quotes []domain.Quote
	asOf   time.Time
}

// New builds a Cache with the given provider fallback order (first to
// last).
func New(providers []provider.QuoteProvider, log *slog.Logger) *Cache {
	return &Cache{
		quotes:    make(map[string]entry),
		snapshots: make(map[string]snapshotEntry),
		providers: providers,
		log:       log,
		now:       time.Now,
	}
}

// WithNow overrides the clock used for TTL comparisons; for tests only.
func (c *Cache) WithNow(fn func() time.Time) *Cache {
	c.now = fn
	return c
}

// GetQuote returns the cached quote for symbol if fresh, otherwise fetches
// through the Fallback Executor and caches the result.
func (c *Cache) GetQuote(ctx context.Context, symbol domain.Symbol) (domain.Quote, bool) {
	key := symbol.String()

	c.mu.Lock()
	if e, ok := c.quotes[key]; ok && c.now().Sub(e.asOf) < ttl {
		c.mu.Unlock()
		return e.quote, true
	}
	c.mu.Unlock()

	batch, ok := c.fetchBatch(ctx, []domain.Symbol{symbol})
	if !ok {
		return domain.Quote{}, false
	}
	q, ok := batch[key]
	if !ok {
		return domain.Quote{}, false
	}

	c.mu.Lock()
	c.quotes[key] = entry{quote: q, asOf: c.now()}
	c.mu.Unlock()

	return q, true
}

// GetQuoteBatch returns quotes for up to 50 symbols, sharing the same
// per-symbol cache entries GetQuote populates.
func (c *Cache) GetQuoteBatch(ctx context.Context, symbols []domain.Symbol) []domain.Quote {
	var missing []domain.Symbol
	hits := make(map[string]domain.Quote)

	c.mu.Lock()
	now := c.now()
	for _, s := range symbols {
		key := s.String()
		if e, ok := c.quotes[key]; ok && now.Sub(e.asOf) < ttl {
			hits[key] = e.quote
		} else {
			missing = append(missing, s)
		}
	}
	c.mu.Unlock()

	if len(missing) > 0 {
		if batch, ok := c.fetchBatch(ctx, missing); ok {
			c.mu.Lock()
			for key, q := range batch {
				c.quotes[key] = entry{quote: q, asOf: c.now()}
				hits[key] = q
			}
			c.mu.Unlock()
		}
	}

	out := make([]domain.Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := hits[s.String()]; ok {
			out = append(out, q)
		}
	}
	return out
}

// GetSnapshot returns the top-K market snapshot, sharing a cache entry
// keyed by (snapshot, K) with a 3-second TTL, as spec §4.4 requires.
func (c *Cache) GetSnapshot(ctx context.Context, k int, symbols []domain.Symbol) []domain.Quote {
	key := snapshotKey(k)

	c.mu.Lock()
	if e, ok := c.snapshots[key]; ok && c.now().Sub(e.asOf) < ttl {
		c.mu.Unlock()
		return e.quotes
	}
	c.mu.Unlock()

	quotes := c.GetQuoteBatch(ctx, symbols)
	if len(quotes) > k {
		quotes = quotes[:k]
	}

	c.mu.Lock()
	c.snapshots[key] = snapshotEntry{quotes: quotes, asOf: c.now()}
	c.mu.Unlock()

	return quotes
}

func snapshotKey(k int) string {
	return "snapshot:" + strconv.Itoa(k)
}

func (c *Cache) fetchBatch(ctx context.Context, symbols []domain.Symbol) (map[string]domain.Quote, bool) {
	attempts := make([]fallback.Attempt[map[string]domain.Quote], 0, len(c.providers))
	for _, p := range c.providers {
		p := p
		attempts = append(attempts, fallback.Attempt[map[string]domain.Quote]{
			Name: p.Name(),
			Do: func(ctx context.Context) (map[string]domain.Quote, error) {
				if !p.Available() {
					return nil, provider.ErrUnsupported
				}
				return p.FetchQuote(ctx, symbols)
			},
		})
	}
	return fallback.Execute(ctx, c.log, "quote", attempts, func(v map[string]domain.Quote) bool { return len(v) == 0 })
}
