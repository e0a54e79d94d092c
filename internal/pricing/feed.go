package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"peertrade/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Quote is one coin's market snapshot in USD.
type Quote struct {
	Price     decimal.Decimal
	MarketCap decimal.Decimal
	Volume    decimal.Decimal
}

// Feed returns current market quotes for coins, keyed by slug.
type Feed interface {
	Quote(ctx context.Context, slug string) (Quote, error)
}

// HTTPFeed reads quotes from a coingecko-compatible simple-price endpoint.
type HTTPFeed struct {
	BaseURL string
	Client  *http.Client
}

var _ Feed = (*HTTPFeed)(nil)

func NewHTTPFeed(baseURL string, timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFeed{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFeed) Quote(ctx context.Context, slug string) (Quote, error) {
	q := url.Values{}
	q.Set("ids", slug)
	q.Set("vs_currencies", "usd")
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_vol", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return Quote{}, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price feed returned %d", resp.StatusCode)
	}

	var body map[string]struct {
		USD       decimal.Decimal `json:"usd"`
		MarketCap decimal.Decimal `json:"usd_market_cap"`
		Volume    decimal.Decimal `json:"usd_24h_vol"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, err
	}
	entry, ok := body[slug]
	if !ok {
		return Quote{}, fmt.Errorf("price feed has no quote for %q", slug)
	}
	if entry.USD.IsZero() {
		return Quote{}, fmt.Errorf("price feed quoted zero for %q", slug)
	}
	return Quote{Price: entry.USD, MarketCap: entry.MarketCap, Volume: entry.Volume}, nil
}

// Refresher writes feed quotes back to the coin table. Prices only move
// listed coins; a coin whose quote fails keeps its last stored price.
type Refresher struct {
	Store store.Store
	Feed  Feed
}

func (r *Refresher) RefreshOnce(ctx context.Context) error {
	coins, err := r.Store.ListCoins(ctx)
	if err != nil {
		return err
	}
	for _, coin := range coins {
		quote, err := r.Feed.Quote(ctx, coin.Slug)
		if err != nil {
			zap.L().Warn("price refresh failed",
				zap.String("coin", coin.ShortName),
				zap.Error(err))
			continue
		}
		if err := r.Store.UpdateCoinPrice(ctx, coin.ID, quote.Price, quote.MarketCap, quote.Volume); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
