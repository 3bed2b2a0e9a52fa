package testing

import (
	"time"

	"github.com/flipwatch/engine/internal/domain"
)

// Series builders for analysis and alert tests. All builders emit one point
// per day, oldest first, with the last point landing on end.

// NewSeriesFromPrices builds a single-channel series from explicit prices.
func NewSeriesFromPrices(ref string, channel domain.Channel, end time.Time, prices ...domain.Money) *domain.PriceSeries {
	points := make([]domain.PricePoint, len(prices))
	for i, price := range prices {
		points[i] = domain.PricePoint{
			Timestamp: end.AddDate(0, 0, -(len(prices) - 1 - i)),
			Price:     price,
			InStock:   true,
		}
	}

	return &domain.PriceSeries{
		ProductRef: ref,
		Days:       len(prices),
		Channels: map[domain.Channel][]domain.PricePoint{
			channel: points,
		},
	}
}

// NewConstantSeries builds a series of n identical prices.
func NewConstantSeries(ref string, channel domain.Channel, n int, price domain.Money, end time.Time) *domain.PriceSeries {
	prices := make([]domain.Money, n)
	for i := range prices {
		prices[i] = price
	}
	return NewSeriesFromPrices(ref, channel, end, prices...)
}

// NewLinearSeries builds a series walking from start in fixed steps.
func NewLinearSeries(ref string, channel domain.Channel, n int, start domain.Money, step int64, end time.Time) *domain.PriceSeries {
	prices := make([]domain.Money, n)
	for i := range prices {
		prices[i] = start + domain.Money(int64(i)*step)
	}
	return NewSeriesFromPrices(ref, channel, end, prices...)
}

// NewTestAlert builds a minimal active alert for one product.
func NewTestAlert(id, ref string, desired domain.Money) *domain.Alert {
	return &domain.Alert{
		ID:               id,
		ProductRef:       ref,
		Channel:          domain.ChannelRetail,
		DesiredPrice:     desired,
		IsActive:         true,
		Priority:         domain.AlertPriorityMedium,
		NotificationsVia: []string{"push"},
		IntervalMinutes:  60,
		CreatedAt:        time.Now().UTC().Add(-24 * time.Hour),
	}
}

// NewTestProduct builds a tracked product with plausible metadata.
func NewTestProduct(ref string) *domain.TrackedProduct {
	return &domain.TrackedProduct{
		Ref:            ref,
		Title:          "Test Product " + ref,
		Category:       "electronics",
		SalesRank:      5000,
		ReviewCount:    120,
		OfferCountNew:  8,
		OfferCountUsed: 3,
		CurrentPrice:   domain.Money(2500),
		CreatedAt:      time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
}
