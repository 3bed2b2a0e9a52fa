// Package marketdata provides the client for the upstream marketplace price
// API. Reads are cache-first with stale fallback: a fresh cached copy skips
// the network entirely, and when the provider is down an expired copy is
// served rather than nothing. Every outbound call first spends one slot of
// the shared request budget.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/config"
	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/pkg/logger"
)

const (
	// DefaultSeriesDays is the history window requested when the caller
	// doesn't specify one.
	DefaultSeriesDays = 90

	// BudgetKey names the shared request-budget window in the cache store.
	// The sync scheduler reads the same window to size its refresh queue.
	BudgetKey = "marketdata"
)

// Cache is the slice of the cache store the client uses.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	StoreFresh(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetIfFresh(ctx context.Context, key string, dest interface{}) (bool, error)
	GetStale(ctx context.Context, key string, dest interface{}) (bool, error)
}

// Budget gates outbound calls against the shared per-minute request budget.
type Budget interface {
	Allow(ctx context.Context, key string) (bool, int, error)
}

// Client is the upstream marketdata API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	store      Cache
	budget     Budget
	log        zerolog.Logger
}

// NewClient creates a marketdata client. The store and budget are required;
// callers that want uncached access should use short TTLs, not a nil store.
func NewClient(cfg config.MarketdataConfig, store Cache, budget Budget, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		store:  store,
		budget: budget,
		log:    logger.Component(log, "marketdata"),
	}
}

// SeriesKey returns the cache key for a product's price series.
func SeriesKey(ref string, days int) string {
	return fmt.Sprintf("series:%s:%d", ref, days)
}

// PriceKey returns the cache key for a product's live price on one channel.
func PriceKey(ref string, channel domain.Channel) string {
	return fmt.Sprintf("price:%s:%s", ref, channel)
}

func productKey(ref string) string {
	return fmt.Sprintf("product:%s", ref)
}

// GetSeries returns the bounded price history for a product. Serves a fresh
// cached copy when available; falls back to a stale copy if the upstream
// fetch fails.
func (c *Client) GetSeries(ctx context.Context, ref string, days int) (*domain.PriceSeries, error) {
	if err := domain.ValidateProductRef(ref); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultSeriesDays
	}

	key := SeriesKey(ref, days)

	var series domain.PriceSeries
	if found, err := c.store.GetIfFresh(ctx, key, &series); err == nil && found {
		c.log.Debug().Str("ref", ref).Int("days", days).Msg("Series cache hit")
		return &series, nil
	}

	fetched, err := c.fetchSeries(ctx, ref, days)
	if err != nil {
		if found, staleErr := c.store.GetStale(ctx, key, &series); staleErr == nil && found {
			c.log.Warn().Err(err).Str("ref", ref).Msg("Upstream fetch failed, using stale series")
			return &series, nil
		}
		return nil, err
	}

	if err := c.store.StoreFresh(ctx, key, fetched, cache.TTLSeries); err != nil {
		c.log.Warn().Err(err).Str("ref", ref).Msg("Failed to cache series")
	}
	c.cacheCurrentPrices(ctx, fetched)

	return fetched, nil
}

// RefreshSeries fetches a product's price history from upstream
// unconditionally, replacing the cached copy. The sync scheduler uses it for
// tiers whose cadence is shorter than the series freshness window, where
// GetSeries would short-circuit on the still-fresh cache. A failed refresh
// leaves the previous cached copy in place.
func (c *Client) RefreshSeries(ctx context.Context, ref string, days int) (*domain.PriceSeries, error) {
	if err := domain.ValidateProductRef(ref); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultSeriesDays
	}

	fetched, err := c.fetchSeries(ctx, ref, days)
	if err != nil {
		return nil, err
	}

	if err := c.store.StoreFresh(ctx, SeriesKey(ref, days), fetched, cache.TTLSeries); err != nil {
		c.log.Warn().Err(err).Str("ref", ref).Msg("Failed to cache refreshed series")
	}
	c.cacheCurrentPrices(ctx, fetched)

	return fetched, nil
}

// GetCurrentPrice returns the most recent price for one channel. The live
// price mirror (fed by the stream and by series fetches) is checked first.
func (c *Client) GetCurrentPrice(ctx context.Context, ref string, channel domain.Channel) (domain.Money, error) {
	var price domain.Money
	if found, err := c.store.Get(ctx, PriceKey(ref, channel), &price); err == nil && found {
		return price, nil
	}

	series, err := c.GetSeries(ctx, ref, DefaultSeriesDays)
	if err != nil {
		return 0, err
	}

	points := series.Channel(channel)
	if len(points) == 0 {
		return 0, domain.ErrNotFound
	}
	return points[len(points)-1].Price, nil
}

// GetProduct returns catalog metadata for a product.
func (c *Client) GetProduct(ctx context.Context, ref string) (*domain.TrackedProduct, error) {
	if err := domain.ValidateProductRef(ref); err != nil {
		return nil, err
	}

	key := productKey(ref)

	var product domain.TrackedProduct
	if found, err := c.store.GetIfFresh(ctx, key, &product); err == nil && found {
		return &product, nil
	}

	var resp productResponse
	if err := c.doGet(ctx, "/v1/products/"+url.PathEscape(ref), &resp); err != nil {
		if found, staleErr := c.store.GetStale(ctx, key, &product); staleErr == nil && found {
			c.log.Warn().Err(err).Str("ref", ref).Msg("Upstream fetch failed, using stale product metadata")
			return &product, nil
		}
		return nil, err
	}

	result := transformProduct(resp, time.Now().UTC())
	if err := c.store.StoreFresh(ctx, key, result, cache.TTLProductMetadata); err != nil {
		c.log.Warn().Err(err).Str("ref", ref).Msg("Failed to cache product metadata")
	}

	return result, nil
}

// Search queries the upstream catalog. Results are not cached: queries have
// no stable key and the result set shifts constantly.
func (c *Client) Search(ctx context.Context, query string, page int) ([]domain.TrackedProduct, error) {
	if query == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	if page < 1 {
		page = 1
	}

	path := fmt.Sprintf("/v1/search?q=%s&page=%d", url.QueryEscape(query), page)

	var resp searchResponse
	if err := c.doGet(ctx, path, &resp); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	products := make([]domain.TrackedProduct, 0, len(resp.Results))
	for _, r := range resp.Results {
		products = append(products, *transformProduct(r, now))
	}
	return products, nil
}

func (c *Client) fetchSeries(ctx context.Context, ref string, days int) (*domain.PriceSeries, error) {
	path := fmt.Sprintf("/v1/products/%s/history?days=%d", url.PathEscape(ref), days)

	var resp seriesResponse
	if err := c.doGet(ctx, path, &resp); err != nil {
		return nil, err
	}

	return transformSeries(resp), nil
}

// cacheCurrentPrices mirrors the newest point of each channel into the live
// price keys so alert evaluation can read prices without a series fetch.
func (c *Client) cacheCurrentPrices(ctx context.Context, series *domain.PriceSeries) {
	for channel, points := range series.Channels {
		if len(points) == 0 {
			continue
		}
		key := PriceKey(series.ProductRef, channel)
		if err := c.store.Set(ctx, key, points[len(points)-1].Price, cache.TTLCurrentPrice); err != nil {
			c.log.Warn().Err(err).Str("ref", series.ProductRef).Msg("Failed to cache current price")
		}
	}
}

// doGet performs a budget-gated GET and decodes the JSON response into dest.
func (c *Client) doGet(ctx context.Context, path string, dest interface{}) error {
	allowed, used, err := c.budget.Allow(ctx, BudgetKey)
	if err != nil {
		// Budget bookkeeping failure shouldn't take the engine down with it
		c.log.Warn().Err(err).Msg("Request budget check failed, proceeding")
	} else if !allowed {
		c.log.Debug().Int("used", used).Msg("Request budget exhausted")
		return domain.ErrRateLimited
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.UpstreamError{Op: "marketdata_get", Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.UpstreamError{
			Op:        "marketdata_get",
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
			Retryable: true,
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.UpstreamError{
			Op:  "marketdata_get",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &domain.UpstreamError{Op: "marketdata_decode", Err: err}
	}
	return nil
}
