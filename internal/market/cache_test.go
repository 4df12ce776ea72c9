package market

import (
	"testing"
	"time"
)

func TestQuoteCacheExpiry(t *testing.T) {
	t.Parallel()

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewQuoteCache(30 * time.Second)
	cache.now = func() time.Time { return current }

	cache.Set("AAPL", Quote{Symbol: "AAPL", Price: 123.45})

	quote, ok := cache.Get("AAPL")
	if !ok || quote.Price != 123.45 {
		t.Fatalf("expected fresh hit, got ok=%v quote=%+v", ok, quote)
	}

	current = current.Add(29 * time.Second)
	if _, ok := cache.Get("AAPL"); !ok {
		t.Fatal("entry inside the TTL must still hit")
	}

	current = current.Add(2 * time.Second)
	if _, ok := cache.Get("AAPL"); ok {
		t.Fatal("entry past the TTL must miss")
	}

	// The expired entry was evicted, not just skipped.
	if _, ok := cache.entries["AAPL"]; ok {
		t.Fatal("expired entry must be deleted")
	}
}

func TestQuoteCacheMiss(t *testing.T) {
	t.Parallel()

	cache := NewQuoteCache(0)
	if _, ok := cache.Get("MSFT"); ok {
		t.Fatal("unknown symbol must miss")
	}
}
