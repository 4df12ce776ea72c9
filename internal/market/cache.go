package market

import (
	"sync"
	"time"
)

type cachedQuote struct {
	quote     Quote
	fetchedAt time.Time
}

// QuoteCache holds recent quotes in process memory for a fixed TTL.
type QuoteCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedQuote
	now     func() time.Time
}

func NewQuoteCache(ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &QuoteCache{
		ttl:     ttl,
		entries: make(map[string]cachedQuote),
		now:     time.Now,
	}
}

func (c *QuoteCache) Get(symbol string) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return Quote{}, false
	}
	if c.now().Sub(entry.fetchedAt) > c.ttl {
		delete(c.entries, symbol)
		return Quote{}, false
	}
	return entry.quote, true
}

func (c *QuoteCache) Set(symbol string, quote Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = cachedQuote{quote: quote, fetchedAt: c.now()}
}
