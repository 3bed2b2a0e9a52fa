package profit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/flipwatch/engine/internal/domain"
)

// projectionWindowDays is the history window feeding a projection.
const projectionWindowDays = 90

// PriceProvider supplies price data and catalog metadata.
type PriceProvider interface {
	GetSeries(ctx context.Context, productRef string, days int) (*domain.PriceSeries, error)
	GetCurrentPrice(ctx context.Context, productRef string, channel domain.Channel) (domain.Money, error)
	GetProduct(ctx context.Context, productRef string) (*domain.TrackedProduct, error)
}

// Analyzer produces the statistical read a projection builds on.
type Analyzer interface {
	Analyze(ctx context.Context, productRef string, channel domain.Channel, days int) (*domain.AnalysisResult, error)
}

// Service orchestrates profit projections and break-even analysis.
type Service struct {
	provider PriceProvider
	analyzer Analyzer
	log      zerolog.Logger
}

// NewService creates a profit service.
func NewService(provider PriceProvider, analyzer Analyzer, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		analyzer: analyzer,
		log:      log,
	}
}

// Project builds the full profit projection for a product using the retail
// price channel. Caller inputs override the derived buy price and volume.
func (s *Service) Project(ctx context.Context, productRef string, inputs domain.ProfitInputs) (*domain.ProfitProjection, error) {
	if err := domain.ValidateProductRef(productRef); err != nil {
		return nil, err
	}

	series, err := s.provider.GetSeries(ctx, productRef, projectionWindowDays)
	if err != nil {
		return nil, err
	}
	points := series.Channel(domain.ChannelRetail)
	if len(points) == 0 {
		return nil, fmt.Errorf("product %s has no retail price history: %w", productRef, domain.ErrNotFound)
	}

	result, err := s.analyzer.Analyze(ctx, productRef, domain.ChannelRetail, projectionWindowDays)
	if err != nil {
		return nil, err
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price.Float64()
	}

	projection, err := BuildProjection(ProjectionInput{
		Product:  s.lookupProduct(ctx, productRef),
		Analysis: *result,
		Prices:   prices,
		Current:  points[len(points)-1].Price,
		Average:  domain.MoneyFromFloat(stat.Mean(prices, nil)),
		Inputs:   inputs,
		Now:      time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("product", productRef).
		Str("action", string(projection.OptimalStrategy.RecommendedAction)).
		Str("scenario", string(projection.OptimalStrategy.Scenario)).
		Msg("Profit projection generated")

	return projection, nil
}

// BreakEven computes the standalone break-even analysis for a buy price.
func (s *Service) BreakEven(ctx context.Context, productRef string, buyPrice domain.Money) (*domain.BreakEvenAnalysis, error) {
	if err := domain.ValidateProductRef(productRef); err != nil {
		return nil, err
	}
	if buyPrice <= 0 {
		return nil, domain.NewValidationError("buy_price", "must be positive")
	}

	current, err := s.provider.GetCurrentPrice(ctx, productRef, domain.ChannelRetail)
	if err != nil {
		return nil, err
	}

	return ComputeBreakEven(s.lookupProduct(ctx, productRef), buyPrice, current)
}

// lookupProduct fetches catalog metadata, degrading to an empty record when
// the upstream has none. Metadata only enriches fee rates and risk factors,
// so its absence must not block a projection.
func (s *Service) lookupProduct(ctx context.Context, productRef string) domain.TrackedProduct {
	product, err := s.provider.GetProduct(ctx, productRef)
	if err != nil || product == nil {
		s.log.Debug().Err(err).Str("product", productRef).Msg("No catalog metadata for product")
		return domain.TrackedProduct{Ref: productRef}
	}
	return *product
}
