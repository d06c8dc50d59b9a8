package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const solFeedID = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

func TestLatestPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/latest_price_feeds" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if got := r.URL.Query()["ids[]"]; len(got) != 1 || got[0] != solFeedID {
			t.Errorf("ids=%v", got)
		}
		w.Header().Set("Content-Type", "application/json")
		// Hermes returns feed ids without the 0x prefix here, but clients
		// may configure them either way.
		w.Write([]byte(`[{
			"id": "` + solFeedID + `",
			"price": {"price": "15025123456", "conf": "1234567", "expo": -8, "publish_time": 1700000000}
		}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, nil)
	prices, err := client.LatestPrices(context.Background(), []Feed{{Symbol: "SOL/USD", FeedID: "0x" + solFeedID}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(prices) != 1 {
		t.Fatalf("prices=%d want 1", len(prices))
	}
	p := prices[0]
	if p.Symbol != "SOL/USD" || p.PublishTime != 1700000000 {
		t.Fatalf("price: %+v", p)
	}
	if !p.Price.Equal(decimal.RequireFromString("150.25123456")) {
		t.Fatalf("scaled price=%s", p.Price)
	}
	if !p.Confidence.Equal(decimal.RequireFromString("0.01234567")) {
		t.Fatalf("confidence=%s", p.Confidence)
	}
}

func TestLatestPrices_SkipsUnknownAndBadFeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": "deadbeef", "price": {"price": "1", "conf": "1", "expo": 0, "publish_time": 1}},
			{"id": "` + solFeedID + `", "price": {"price": "not-a-number", "conf": "1", "expo": 0, "publish_time": 1}}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, nil)
	prices, err := client.LatestPrices(context.Background(), []Feed{{Symbol: "SOL/USD", FeedID: solFeedID}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(prices) != 0 {
		t.Fatalf("prices=%d want 0", len(prices))
	}
}

func TestLatestPrices_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, nil)
	if _, err := client.LatestPrices(context.Background(), []Feed{{Symbol: "SOL/USD", FeedID: solFeedID}}); err == nil {
		t.Fatalf("expected error on http 502")
	}
}

func TestLatestPrices_NoFeeds(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second, nil)
	prices, err := client.LatestPrices(context.Background(), nil)
	if err != nil || prices != nil {
		t.Fatalf("prices=%v err=%v", prices, err)
	}
}

func TestScaledDecimal(t *testing.T) {
	cases := []struct {
		mantissa string
		expo     int32
		want     string
	}{
		{"15025123456", -8, "150.25123456"},
		{"42", 0, "42"},
		{"-5", -2, "-0.05"},
		{"7", 3, "7000"},
	}
	for i, tc := range cases {
		got, err := scaledDecimal(tc.mantissa, tc.expo)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("case %d: got %s want %s", i, got, tc.want)
		}
	}
	if _, err := scaledDecimal("bogus", 0); err == nil {
		t.Fatalf("expected error for non-numeric mantissa")
	}
}

func TestNormalizeFeedID(t *testing.T) {
	if got := normalizeFeedID("0x" + solFeedID); got != solFeedID {
		t.Fatalf("got %s", got)
	}
	if got := normalizeFeedID(solFeedID); got != solFeedID {
		t.Fatalf("got %s", got)
	}
}

func TestCache(t *testing.T) {
	cache := NewCache()
	if _, ok := cache.Get("SOL/USD"); ok {
		t.Fatalf("empty cache returned a price")
	}
	cache.Set(Price{Symbol: "SOL/USD", Price: decimal.NewFromInt(150)})
	cache.Set(Price{Symbol: "BTC/USD", Price: decimal.NewFromInt(60000)})
	cache.Set(Price{Symbol: "SOL/USD", Price: decimal.NewFromInt(151)})

	p, ok := cache.Get("SOL/USD")
	if !ok || !p.Price.Equal(decimal.NewFromInt(151)) {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
	if snap := cache.Snapshot(); len(snap) != 2 {
		t.Fatalf("snapshot=%d want 2", len(snap))
	}
}
