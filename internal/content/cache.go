package content

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultQuoteCacheSize = 8

// QuoteCache remembers one successfully fetched quote per calendar date, so
// every group firing on the same day shares a single upstream request. The
// upstream "quote of the day" endpoint is rate limited.
type QuoteCache struct {
	next  QuoteFetcher
	now   func() time.Time
	cache *lru.Cache[string, Quote]

	// mu serializes misses so concurrent first-firings do one fetch.
	mu sync.Mutex
}

func NewQuoteCache(next QuoteFetcher, size int, now func() time.Time) *QuoteCache {
	if size <= 0 {
		size = defaultQuoteCacheSize
	}
	if now == nil {
		now = time.Now
	}
	c, err := lru.New[string, Quote](size)
	if err != nil {
		// lru.New only errors on non-positive size which we guard above.
		panic(err)
	}
	return &QuoteCache{next: next, now: now, cache: c}
}

func (c *QuoteCache) FetchQuote(ctx context.Context) (Quote, error) {
	key := c.now().Format("2006-01-02")
	if q, ok := c.cache.Get(key); ok {
		return q, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.cache.Get(key); ok {
		return q, nil
	}
	q, err := c.next.FetchQuote(ctx)
	if err != nil {
		// Failures are not cached; the next firing retries upstream.
		return Quote{}, err
	}
	c.cache.Add(key, q)
	return q, nil
}
