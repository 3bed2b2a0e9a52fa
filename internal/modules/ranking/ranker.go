// Package ranking orders profit projections and builds budget-constrained
// portfolio suggestions out of them.
package ranking

import (
	"sort"

	"github.com/flipwatch/engine/internal/domain"
)

// minROIDenominator floors the ROI used to back out a position cost, so
// near-zero ROI candidates do not price as infinitely expensive.
const minROIDenominator = 0.1

// Per-category admission caps by diversification level. Zero means
// unlimited.
var diversificationCaps = map[string]int{
	"high":   2,
	"medium": 3,
}

// Rank orders candidates by expected ROI, best first, and assigns 1-based
// rank positions. Candidates with equal ROI keep their input order.
func Rank(candidates []domain.RankedProduct) []domain.RankedProduct {
	ranked := make([]domain.RankedProduct, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Projection.OptimalStrategy.ExpectedROI >
			ranked[j].Projection.OptimalStrategy.ExpectedROI
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// Filter drops candidates outside the caller's risk and ROI preferences.
func Filter(candidates []domain.RankedProduct, prefs domain.ComparePreferences) []domain.RankedProduct {
	filtered := make([]domain.RankedProduct, 0, len(candidates))
	for _, c := range candidates {
		if prefs.MaxRiskLevel != nil &&
			severityRank(c.Projection.RiskAssessment.OverallRisk) > severityRank(*prefs.MaxRiskLevel) {
			continue
		}
		if prefs.MinROI != nil && c.Projection.OptimalStrategy.ExpectedROI < *prefs.MinROI {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityLow:
		return 0
	case domain.SeverityMedium:
		return 1
	default:
		return 2
	}
}

// BuildPortfolio walks the ranking in order and greedily admits
// buy-recommended products whose estimated cost still fits the budget.
// Greedy admission is a deliberate approximation: it is linear, stable and
// explainable, but it does not solve the underlying knapsack optimally.
func BuildPortfolio(ranked []domain.RankedProduct, budget domain.Money, diversificationLevel string) domain.PortfolioSuggestion {
	suggestion := domain.PortfolioSuggestion{
		SelectedProducts: []domain.RankedProduct{},
		RiskDistribution: make(map[domain.Severity]int),
	}

	categoryCap := diversificationCaps[diversificationLevel]
	perCategory := make(map[string]int)

	var invested, profit domain.Money
	for _, candidate := range ranked {
		strategy := candidate.Projection.OptimalStrategy
		if strategy.RecommendedAction != domain.ActionBuy {
			continue
		}

		category := candidate.Product.Category
		if categoryCap > 0 && perCategory[category] >= categoryCap {
			continue
		}

		cost := estimatedCost(strategy)
		if invested+cost > budget {
			continue
		}

		invested += cost
		profit += strategy.ExpectedProfit
		perCategory[category]++
		suggestion.SelectedProducts = append(suggestion.SelectedProducts, candidate)
		suggestion.RiskDistribution[candidate.Projection.RiskAssessment.OverallRisk]++
	}

	suggestion.TotalInvestment = invested
	suggestion.TotalExpectedProfit = profit
	if invested > 0 {
		suggestion.TotalExpectedROI = profit.Float64() / invested.Float64()
	}
	return suggestion
}

// estimatedCost backs the position cost out of the projection: profit
// divided by ROI recovers the capital the projected profit was computed
// against (buy price x volume).
func estimatedCost(strategy domain.OptimalStrategy) domain.Money {
	roi := strategy.ExpectedROI
	if roi < minROIDenominator {
		roi = minROIDenominator
	}
	return domain.MoneyFromFloat(strategy.ExpectedProfit.Float64() / roi)
}
