// Package market is the thin quote-proxy boundary of the dashboard: it
// forwards symbol lookups to the upstream market-data provider and caches
// responses in memory for a short window.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Quote is one upstream price snapshot.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Currency      string    `json:"currency"`
	AsOf          time.Time `json:"as_of"`
}

// Client calls the upstream quote provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("empty market data base url")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse market data base url: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

type quoteResponse struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Currency      string  `json:"currency"`
	Error         string  `json:"error"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build quote request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Quote{}, fmt.Errorf("read quote response: %w", err)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("decode quote response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != "" {
			return Quote{}, fmt.Errorf("quote upstream failed: %s", parsed.Error)
		}
		return Quote{}, fmt.Errorf("quote upstream failed with status %d", resp.StatusCode)
	}

	return Quote{
		Symbol:        parsed.Symbol,
		Price:         parsed.Price,
		Change:        parsed.Change,
		ChangePercent: parsed.ChangePercent,
		Currency:      parsed.Currency,
		AsOf:          time.Now().UTC(),
	}, nil
}
