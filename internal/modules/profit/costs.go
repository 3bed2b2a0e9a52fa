// Package profit models resale outcomes for tracked products: transaction
// costs, buy/sell scenarios, the optimal strategy pick, risk assessment and
// break-even analysis.
package profit

import (
	"strings"

	"github.com/flipwatch/engine/internal/domain"
)

const (
	// resaleMarkup is the assumed sell price multiple used when estimating
	// costs from a hypothetical buy price.
	resaleMarkup = 1.3

	// defaultReferralRate applies to categories without a specific rate.
	defaultReferralRate = 0.15

	taxRate  = 0.10
	miscRate = 0.02

	// Per-unit fulfillment fees by size tier, in minor units.
	fulfillmentSmall    = domain.Money(300)
	fulfillmentStandard = domain.Money(500)
	fulfillmentLarge    = domain.Money(900)

	// shippingFee is the flat inbound shipping cost per unit.
	shippingFee = domain.Money(600)
)

// referralRates maps marketplace categories to their referral fee rate.
var referralRates = map[string]float64{
	"electronics": 0.08,
	"computers":   0.06,
	"grocery":     0.08,
	"clothing":    0.17,
	"jewelry":     0.20,
}

// Size-tier keywords matched against the product title.
var (
	smallSizeWords = []string{"mini", "small", "compact", "pocket", "travel"}
	largeSizeWords = []string{"large", "big", "xl", "oversized", "heavy", "bulk"}
)

// referralRate returns the referral fee rate for a category.
func referralRate(category string) float64 {
	if rate, ok := referralRates[strings.ToLower(category)]; ok {
		return rate
	}
	return defaultReferralRate
}

// fulfillmentFee infers the size tier from the product title. Unknown or
// ambiguous titles fall back to the standard tier.
func fulfillmentFee(title string) domain.Money {
	lower := strings.ToLower(title)
	for _, w := range smallSizeWords {
		if strings.Contains(lower, w) {
			return fulfillmentSmall
		}
	}
	for _, w := range largeSizeWords {
		if strings.Contains(lower, w) {
			return fulfillmentLarge
		}
	}
	return fulfillmentStandard
}

// EstimateCosts itemizes the per-unit transaction costs for buying at
// buyPrice and reselling. The referral fee, tax and miscellaneous overhead
// are taken against an assumed sell price of buyPrice x 1.3; fulfillment
// and shipping are flat per-unit fees.
func EstimateCosts(category, title string, buyPrice domain.Money) domain.CostBreakdown {
	assumedSell := buyPrice.Float64() * resaleMarkup

	costs := domain.CostBreakdown{
		ReferralFee:    domain.MoneyFromFloat(assumedSell * referralRate(category)),
		FulfillmentFee: fulfillmentFee(title),
		Shipping:       shippingFee,
		Tax:            domain.MoneyFromFloat(assumedSell * taxRate),
		Misc:           domain.MoneyFromFloat(assumedSell * miscRate),
	}
	costs.Total = costs.ReferralFee + costs.FulfillmentFee + costs.Shipping + costs.Tax + costs.Misc
	return costs
}
