package pricing

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"peertrade/internal/models"
	"peertrade/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func newFeedServer(t *testing.T, body string, status int) *HTTPFeed {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewHTTPFeed(srv.URL, 0)
}

func TestQuote(t *testing.T) {
	feed := newFeedServer(t, `{"bitcoin":{"usd":500.5,"usd_market_cap":1000000,"usd_24h_vol":5000}}`, http.StatusOK)

	quote, err := feed.Quote(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !quote.Price.Equal(decimal.RequireFromString("500.5")) {
		t.Errorf("expected price 500.5, got %s", quote.Price)
	}
	if !quote.Volume.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("expected volume 5000, got %s", quote.Volume)
	}
}

func TestQuoteMissingSlug(t *testing.T) {
	feed := newFeedServer(t, `{}`, http.StatusOK)
	if _, err := feed.Quote(context.Background(), "bitcoin"); err == nil {
		t.Error("expected error for missing slug")
	}
}

func TestQuoteZeroPriceRejected(t *testing.T) {
	feed := newFeedServer(t, `{"bitcoin":{"usd":0}}`, http.StatusOK)
	if _, err := feed.Quote(context.Background(), "bitcoin"); err == nil {
		t.Error("expected error for zero price")
	}
}

func TestQuoteUpstreamError(t *testing.T) {
	feed := newFeedServer(t, `rate limited`, http.StatusTooManyRequests)
	if _, err := feed.Quote(context.Background(), "bitcoin"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

type stubFeed struct {
	quotes map[string]Quote
}

func (f stubFeed) Quote(ctx context.Context, slug string) (Quote, error) {
	q, ok := f.quotes[slug]
	if !ok {
		return Quote{}, context.Canceled
	}
	return q, nil
}

func TestRefreshOnceUpdatesPrices(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewSQLiteWithDB(db)
	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	coins := []*models.Coin{
		{ID: "btc", Name: "Bitcoin", Slug: "bitcoin", ShortName: "BTC", Kind: models.CoinKindUTXO, Price: decimal.NewFromInt(1)},
		{ID: "eth", Name: "Ethereum", Slug: "ethereum", ShortName: "ETH", Kind: models.CoinKindAccount, Price: decimal.NewFromInt(1)},
	}
	for _, c := range coins {
		if err := st.CreateCoin(ctx, c); err != nil {
			t.Fatalf("create coin: %v", err)
		}
	}

	r := &Refresher{
		Store: st,
		// eth missing on purpose: its stored price must survive the failure.
		Feed: stubFeed{quotes: map[string]Quote{
			"bitcoin": {Price: decimal.NewFromInt(500)},
		}},
	}
	if err := r.RefreshOnce(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	btc, _ := st.GetCoin(ctx, "btc")
	if !btc.Price.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected btc price 500, got %s", btc.Price)
	}
	eth, _ := st.GetCoin(ctx, "eth")
	if !eth.Price.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected eth price unchanged, got %s", eth.Price)
	}
}
