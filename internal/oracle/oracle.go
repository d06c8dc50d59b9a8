package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultHermesURL = "https://hermes.pyth.network"

// Feed binds a human-readable symbol to a Pyth price feed id.
type Feed struct {
	Symbol string
	FeedID string
}

// Price is one oracle observation, already scaled by the feed exponent.
type Price struct {
	Symbol      string          `json:"symbol"`
	FeedID      string          `json:"feed_id"`
	Price       decimal.Decimal `json:"price"`
	Confidence  decimal.Decimal `json:"confidence"`
	PublishTime int64           `json:"publish_time"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultHermesURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type hermesFeed struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

// LatestPrices queries Hermes for the current price of every feed. Feeds
// missing from the response are dropped, not errored, so one stale feed
// does not blind the rest.
func (c *Client) LatestPrices(ctx context.Context, feeds []Feed) ([]Price, error) {
	if len(feeds) == 0 {
		return nil, nil
	}
	query := url.Values{}
	symbolByID := make(map[string]string, len(feeds))
	for _, feed := range feeds {
		query.Add("ids[]", feed.FeedID)
		symbolByID[normalizeFeedID(feed.FeedID)] = feed.Symbol
	}
	endpoint := fmt.Sprintf("%s/api/latest_price_feeds?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hermes http %d: %s", resp.StatusCode, string(raw))
	}
	var parsed []hermesFeed
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode hermes response: %w", err)
	}

	now := time.Now()
	out := make([]Price, 0, len(parsed))
	for _, feed := range parsed {
		symbol, ok := symbolByID[normalizeFeedID(feed.ID)]
		if !ok {
			continue
		}
		price, err := scaledDecimal(feed.Price.Price, feed.Price.Expo)
		if err != nil {
			c.logger.Warn("unparseable oracle price",
				zap.String("feed", feed.ID),
				zap.String("raw", feed.Price.Price),
				zap.Error(err))
			continue
		}
		conf, err := scaledDecimal(feed.Price.Conf, feed.Price.Expo)
		if err != nil {
			conf = decimal.Zero
		}
		out = append(out, Price{
			Symbol:      symbol,
			FeedID:      feed.ID,
			Price:       price,
			Confidence:  conf,
			PublishTime: feed.Price.PublishTime,
			FetchedAt:   now,
		})
	}
	return out, nil
}

func scaledDecimal(mantissa string, expo int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(mantissa)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return d.Shift(expo), nil
}

func normalizeFeedID(id string) string {
	if len(id) > 2 && id[0] == '0' && (id[1] == 'x' || id[1] == 'X') {
		return id[2:]
	}
	return id
}

// Cache holds the latest observation per symbol.
type Cache struct {
	mu       sync.RWMutex
	bySymbol map[string]Price
}

func NewCache() *Cache {
	return &Cache{bySymbol: map[string]Price{}}
}

func (c *Cache) Set(p Price) {
	c.mu.Lock()
	c.bySymbol[p.Symbol] = p
	c.mu.Unlock()
}

func (c *Cache) Get(symbol string) (Price, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.bySymbol[symbol]
	return p, ok
}

func (c *Cache) Snapshot() []Price {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Price, 0, len(c.bySymbol))
	for _, p := range c.bySymbol {
		out = append(out, p)
	}
	return out
}
