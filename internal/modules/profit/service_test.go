package profit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/internal/modules/analysis"
	enginetest "github.com/flipwatch/engine/internal/testing"
)

// liveAnalyzer runs the real analyzer over the provider's series, without
// caching. Keeps service tests honest about the analysis coupling.
type liveAnalyzer struct {
	provider *enginetest.FakePriceProvider
}

func (a *liveAnalyzer) Analyze(ctx context.Context, ref string, channel domain.Channel, days int) (*domain.AnalysisResult, error) {
	series, err := a.provider.GetSeries(ctx, ref, days)
	if err != nil {
		return nil, err
	}
	result := analysis.Analyze(ref, channel, series.Channel(channel), time.Now().UTC())
	return &result, nil
}

// failingAnalyzer always errors.
type failingAnalyzer struct{ err error }

func (a *failingAnalyzer) Analyze(ctx context.Context, ref string, channel domain.Channel, days int) (*domain.AnalysisResult, error) {
	return nil, a.err
}

func constantSeries(ref string, price int64, n int) *domain.PriceSeries {
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	points := make([]domain.PricePoint, n)
	for i := range points {
		points[i] = domain.PricePoint{
			Timestamp: end.AddDate(0, 0, i-n),
			Price:     domain.Money(price),
			InStock:   true,
		}
	}
	return &domain.PriceSeries{
		ProductRef: ref,
		Days:       90,
		Channels:   map[domain.Channel][]domain.PricePoint{domain.ChannelRetail: points},
	}
}

func TestServiceProject(t *testing.T) {
	provider := enginetest.NewFakePriceProvider()
	provider.SetSeries("B00FLIP001", constantSeries("B00FLIP001", 20000, 35))
	provider.SetProduct(domain.TrackedProduct{
		Ref:      "B00FLIP001",
		Title:    "Widget Deluxe",
		Category: "electronics",
	})
	svc := NewService(provider, &liveAnalyzer{provider: provider}, zerolog.Nop())

	projection, err := svc.Project(context.Background(), "B00FLIP001",
		domain.ProfitInputs{IntendedBuyPrice: 10000})
	require.NoError(t, err)

	assert.Equal(t, "B00FLIP001", projection.ProductRef)
	require.Len(t, projection.Scenarios, 3)
	assert.Equal(t, domain.ScenarioRealistic, projection.OptimalStrategy.Scenario)
	assert.Equal(t, domain.Money(20000), projection.MarketFactors.AveragePrice)
	assert.False(t, projection.GeneratedAt.IsZero())

	// Electronics referral rate: costs at buy 10000 are
	// 1040 + 500 + 600 + 1300 + 260 = 3700; break-even 13700.
	assert.Equal(t, domain.Money(13700), projection.RiskAssessment.BreakEvenPrice)
}

func TestServiceProject_MissingMetadataDegrades(t *testing.T) {
	provider := enginetest.NewFakePriceProvider()
	provider.SetSeries("B00FLIP001", constantSeries("B00FLIP001", 20000, 35))
	svc := NewService(provider, &liveAnalyzer{provider: provider}, zerolog.Nop())

	projection, err := svc.Project(context.Background(), "B00FLIP001",
		domain.ProfitInputs{IntendedBuyPrice: 10000})
	require.NoError(t, err)

	// Default referral rate applies without catalog metadata: total 4610.
	assert.Equal(t, domain.Money(14610), projection.RiskAssessment.BreakEvenPrice)
}

func TestServiceProject_NoHistory(t *testing.T) {
	provider := enginetest.NewFakePriceProvider()
	provider.SetSeries("B00FLIP001", &domain.PriceSeries{
		ProductRef: "B00FLIP001",
		Days:       90,
		Channels:   map[domain.Channel][]domain.PricePoint{},
	})
	svc := NewService(provider, &liveAnalyzer{provider: provider}, zerolog.Nop())

	_, err := svc.Project(context.Background(), "B00FLIP001", domain.ProfitInputs{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServiceProject_AnalyzerErrorPropagates(t *testing.T) {
	provider := enginetest.NewFakePriceProvider()
	provider.SetSeries("B00FLIP001", constantSeries("B00FLIP001", 20000, 35))
	svc := NewService(provider, &failingAnalyzer{err: errors.New("cache down")}, zerolog.Nop())

	_, err := svc.Project(context.Background(), "B00FLIP001", domain.ProfitInputs{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache down")
}

func TestServiceProject_InvalidRef(t *testing.T) {
	svc := NewService(enginetest.NewFakePriceProvider(), &failingAnalyzer{}, zerolog.Nop())

	_, err := svc.Project(context.Background(), "bad ref!", domain.ProfitInputs{})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

func TestServiceBreakEven(t *testing.T) {
	provider := enginetest.NewFakePriceProvider()
	provider.SetPrice("B00FLIP001", domain.ChannelRetail, domain.Money(3000))
	svc := NewService(provider, &failingAnalyzer{}, zerolog.Nop())

	result, err := svc.BreakEven(context.Background(), "B00FLIP001", domain.Money(1000))
	require.NoError(t, err)

	assert.Equal(t, domain.Money(2451), result.BreakEvenPrice)
	assert.Equal(t, domain.Money(3000), result.CurrentPrice)
	assert.InDelta(t, 18.3, result.MarginOfSafety, 0.001)
}

func TestServiceBreakEven_ValidatesBeforeFetching(t *testing.T) {
	// No price registered: a provider call would return ErrNotFound, so a
	// validation error proves the input check ran first.
	svc := NewService(enginetest.NewFakePriceProvider(), &failingAnalyzer{}, zerolog.Nop())

	_, err := svc.BreakEven(context.Background(), "B00FLIP001", 0)
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}
