package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/domain"
)

// defaultWindowDays is the history window analyzed when the caller does not
// ask for a specific one.
const defaultWindowDays = 90

// PriceProvider supplies price history and catalog metadata for a product.
type PriceProvider interface {
	GetSeries(ctx context.Context, productRef string, days int) (*domain.PriceSeries, error)
	GetProduct(ctx context.Context, productRef string) (*domain.TrackedProduct, error)
}

// Cache stores computed analysis results with a TTL.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
}

// Tracker records read-path accesses and grades how long derived data for a
// product may live in the cache.
type Tracker interface {
	RecordAccess(ctx context.Context, productRef string)
	AnalysisTTL(ctx context.Context, productRef string) time.Duration
}

// ProductRegistry is the local catalog of tracked products. Get returns
// (nil, nil) when the product is unknown.
type ProductRegistry interface {
	Get(productRef string) (*domain.TrackedProduct, error)
	Upsert(product domain.TrackedProduct) error
}

// Service orchestrates price analysis: fetch, compute, cache, and register
// the product for background syncing.
type Service struct {
	provider PriceProvider
	store    Cache
	tracker  Tracker
	products ProductRegistry
	log      zerolog.Logger
}

// NewService creates an analysis service.
func NewService(provider PriceProvider, store Cache, tracker Tracker, products ProductRegistry, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		store:    store,
		tracker:  tracker,
		products: products,
		log:      log,
	}
}

// ResultKey is the cache key for a computed analysis result.
func ResultKey(ref string, channel domain.Channel, days int) string {
	return fmt.Sprintf("analysis:%s:%s:%d", ref, channel, days)
}

// Analyze returns the statistical read of one price channel over the given
// window. Results are cached with a TTL scaled to the product's importance
// tier; a fresh cached result short-circuits the upstream fetch. Every call
// counts as an access for sync prioritization, cached or not.
func (s *Service) Analyze(ctx context.Context, productRef string, channel domain.Channel, days int) (*domain.AnalysisResult, error) {
	if err := domain.ValidateProductRef(productRef); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = defaultWindowDays
	}

	s.tracker.RecordAccess(ctx, productRef)

	key := ResultKey(productRef, channel, days)
	var cached domain.AnalysisResult
	hit, err := s.store.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn().Err(err).Str("product", productRef).Msg("Analysis cache read failed")
	} else if hit {
		return &cached, nil
	}

	series, err := s.provider.GetSeries(ctx, productRef, days)
	if err != nil {
		return nil, err
	}

	result := Analyze(productRef, channel, series.Channel(channel), time.Now().UTC())

	ttl := s.tracker.AnalysisTTL(ctx, productRef)
	if err := s.store.Set(ctx, key, result, ttl); err != nil {
		s.log.Warn().Err(err).Str("product", productRef).Msg("Analysis cache write failed")
	}

	s.ensureRegistered(ctx, productRef)

	s.log.Debug().
		Str("product", productRef).
		Str("channel", string(channel)).
		Int("points", result.PointCount).
		Str("trend", string(result.Trend)).
		Msg("Analysis computed")

	return &result, nil
}

// ensureRegistered adds the product to the local catalog on first sight so
// the sync scheduler starts watching it. Failures only cost background
// syncing, so they are logged and swallowed.
func (s *Service) ensureRegistered(ctx context.Context, productRef string) {
	existing, err := s.products.Get(productRef)
	if err != nil {
		s.log.Warn().Err(err).Str("product", productRef).Msg("Catalog lookup failed")
		return
	}
	if existing != nil {
		return
	}

	product, err := s.provider.GetProduct(ctx, productRef)
	if err != nil {
		s.log.Debug().Err(err).Str("product", productRef).Msg("No upstream metadata for product")
		return
	}
	if err := s.products.Upsert(*product); err != nil {
		s.log.Warn().Err(err).Str("product", productRef).Msg("Catalog registration failed")
	}
}
