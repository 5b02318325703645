// Package quote looks up current prices from an external quote API.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the quote source does not know the symbol.
var ErrNotFound = errors.New("symbol not found")

// Quote is the current price and display name for a symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// Source resolves a symbol to a quote. Implementations return ErrNotFound
// for unknown symbols and a plain error for transport failures.
type Source interface {
	Lookup(ctx context.Context, symbol string) (*Quote, error)
}

// Config holds configuration for the quote API client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// LoadConfig loads quote API configuration from environment variables.
func LoadConfig() Config {
	return Config{
		BaseURL: os.Getenv("QUOTE_URL"),
		APIKey:  os.Getenv("QUOTE_API_KEY"),
		Timeout: 10 * time.Second,
	}
}

type Client struct {
	cfg    Config
	client *http.Client
}

var _ Source = (*Client)(nil)

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type quoteResponse struct {
	Symbol      string      `json:"symbol"`
	CompanyName string      `json:"companyName"`
	LatestPrice json.Number `json:"latestPrice"`
}

// Lookup fetches the latest quote for symbol. An unknown symbol (HTTP 404 or
// an empty body) yields ErrNotFound; other failures are returned as-is for
// the caller to classify.
func (c *Client) Lookup(ctx context.Context, symbol string) (*Quote, error) {
	u := fmt.Sprintf("%s/stock/%s/quote?token=%s", c.cfg.BaseURL, url.PathEscape(symbol), url.QueryEscape(c.cfg.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("quote api http %d", res.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if body.Symbol == "" || body.LatestPrice == "" {
		return nil, ErrNotFound
	}

	price, err := decimal.NewFromString(body.LatestPrice.String())
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", body.LatestPrice, err)
	}

	return &Quote{Symbol: body.Symbol, Name: body.CompanyName, Price: price}, nil
}
