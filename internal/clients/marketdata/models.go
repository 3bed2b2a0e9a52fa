package marketdata

import (
	"sort"
	"time"

	"github.com/flipwatch/engine/internal/domain"
)

// Wire types for the upstream price-history API. Timestamps are Unix seconds
// and prices are integer minor currency units, transformed into domain types
// at this boundary.

type wirePoint struct {
	Timestamp int64 `json:"t"`
	Price     int64 `json:"p"`
	InStock   bool  `json:"s"`
}

type seriesResponse struct {
	Ref      string                 `json:"ref"`
	Days     int                    `json:"days"`
	Channels map[string][]wirePoint `json:"channels"`
}

type productResponse struct {
	Ref            string `json:"ref"`
	Title          string `json:"title"`
	Category       string `json:"category"`
	SalesRank      int    `json:"sales_rank"`
	ReviewCount    int    `json:"review_count"`
	OfferCountNew  int    `json:"offer_count_new"`
	OfferCountUsed int    `json:"offer_count_used"`
	CurrentPrice   int64  `json:"current_price"`
}

type searchResponse struct {
	Results []productResponse `json:"results"`
	Page    int               `json:"page"`
	Total   int               `json:"total"`
}

// knownChannels filters upstream channels down to the ones the engine reads.
var knownChannels = map[string]domain.Channel{
	"retail": domain.ChannelRetail,
	"new":    domain.ChannelNew,
	"used":   domain.ChannelUsed,
	"rank":   domain.ChannelRank,
}

// transformSeries converts a wire series into the domain model. Unknown
// channels are dropped and points are sorted by timestamp ascending, which
// downstream analysis assumes.
func transformSeries(resp seriesResponse) *domain.PriceSeries {
	series := &domain.PriceSeries{
		ProductRef: resp.Ref,
		Days:       resp.Days,
		Channels:   make(map[domain.Channel][]domain.PricePoint, len(resp.Channels)),
	}

	for name, wirePoints := range resp.Channels {
		channel, ok := knownChannels[name]
		if !ok {
			continue
		}

		points := make([]domain.PricePoint, 0, len(wirePoints))
		for _, wp := range wirePoints {
			points = append(points, domain.PricePoint{
				Timestamp: time.Unix(wp.Timestamp, 0).UTC(),
				Price:     domain.Money(wp.Price),
				InStock:   wp.InStock,
			})
		}

		sort.Slice(points, func(i, j int) bool {
			return points[i].Timestamp.Before(points[j].Timestamp)
		})

		series.Channels[channel] = points
	}

	return series
}

// transformProduct converts wire product metadata into the domain model.
func transformProduct(resp productResponse, now time.Time) *domain.TrackedProduct {
	return &domain.TrackedProduct{
		Ref:            resp.Ref,
		Title:          resp.Title,
		Category:       resp.Category,
		SalesRank:      resp.SalesRank,
		ReviewCount:    resp.ReviewCount,
		OfferCountNew:  resp.OfferCountNew,
		OfferCountUsed: resp.OfferCountUsed,
		CurrentPrice:   domain.Money(resp.CurrentPrice),
		CreatedAt:      now,
	}
}
