package profit

import (
	"fmt"
	"time"

	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/internal/modules/analysis"
)

const (
	defaultVolume      = 10
	derivedBuyFraction = 0.8

	conservativeSellFactor = 0.95
	optimisticSellFactor   = 1.10

	conservativeDays = 30
	realisticDays    = 21
	optimisticDays   = 14

	conservativeProbability = 0.7
	realisticProbability    = 0.6
	optimisticProbability   = 0.3

	buyWindowDays  = 7
	sellWindowDays = 14

	// Risk factor triggers.
	volatilityRiskThreshold = 20.0
	sellerRiskThreshold     = 15
	maxEstimatedSellers     = 50
	saturationReviewCount   = 10000
	saturationSalesRank     = 50000

	// breakEvenSafetyMargin pads the minimum listing price above break-even.
	breakEvenSafetyMargin = 1.1
)

// ProjectionInput bundles everything the engine needs to price a flip.
// Current and Average come from the retail channel of the same window the
// analysis was computed over.
type ProjectionInput struct {
	Product  domain.TrackedProduct
	Analysis domain.AnalysisResult
	Prices   []float64
	Current  domain.Money
	Average  domain.Money
	Inputs   domain.ProfitInputs
	Now      time.Time
}

// BuildProjection generates the three fixed scenarios, picks the optimal
// strategy, grades risk and assembles the full projection. It is pure: all
// market state arrives in the input.
func BuildProjection(in ProjectionInput) (*domain.ProfitProjection, error) {
	if in.Inputs.IntendedBuyPrice < 0 {
		return nil, domain.NewValidationError("intended_buy_price", "must be positive")
	}
	if in.Inputs.IntendedVolume < 0 {
		return nil, domain.NewValidationError("intended_volume", "must be positive")
	}
	if in.Current <= 0 {
		return nil, fmt.Errorf("product %s has no current price: %w", in.Product.Ref, domain.ErrNotFound)
	}

	buy := in.Inputs.IntendedBuyPrice
	if buy == 0 {
		buy = domain.MoneyFromFloat(in.Average.Float64() * derivedBuyFraction)
	}
	if buy <= 0 {
		return nil, domain.NewValidationError("intended_buy_price", "required when the product has no price history")
	}

	volume := in.Inputs.IntendedVolume
	if volume == 0 {
		volume = defaultVolume
	}

	costs := EstimateCosts(in.Product.Category, in.Product.Title, buy)
	scenarios := buildScenarios(in, buy, volume, costs)
	strategy := pickOptimal(scenarios, in.Analysis.Trend, in.Now, in.Inputs.HoldingPeriodDays)
	risk := assessRisk(in, scenarios, buy, costs)

	return &domain.ProfitProjection{
		ProductRef:      in.Product.Ref,
		Scenarios:       scenarios,
		OptimalStrategy: strategy,
		RiskAssessment:  risk,
		MarketFactors:   buildMarketFactors(in),
		Recommendations: buildRecommendations(strategy, risk, in),
		GeneratedAt:     in.Now,
	}, nil
}

// buildScenarios prices the three fixed outcomes. All scenarios share the
// buy price and cost structure; only sell price, timeframe and probability
// differ.
func buildScenarios(in ProjectionInput, buy domain.Money, volume int, costs domain.CostBreakdown) []domain.ProfitScenario {
	conservativeSell := domain.MoneyFromFloat(in.Current.Float64() * conservativeSellFactor)
	optimisticSell := domain.MoneyFromFloat(in.Current.Float64() * optimisticSellFactor)
	if in.Average > optimisticSell {
		optimisticSell = in.Average
	}

	return []domain.ProfitScenario{
		newScenario(domain.ScenarioConservative, buy, conservativeSell, volume, costs,
			conservativeDays, conservativeProbability,
			[]string{"sell 5% below the current price", "30 days to sell through"},
			[]string{"slow sell-through ties up capital"}),
		newScenario(domain.ScenarioRealistic, buy, in.Current, volume, costs,
			realisticDays, realisticProbability,
			[]string{"sell at the current price", "21 days to sell through"},
			[]string{"price drift while listed"}),
		newScenario(domain.ScenarioOptimistic, buy, optimisticSell, volume, costs,
			optimisticDays, optimisticProbability,
			[]string{"sell at the higher of the historical average and 10% above current", "14 days to sell through"},
			[]string{"upside may not materialize"}),
	}
}

func newScenario(name domain.ScenarioName, buy, sell domain.Money, volume int, costs domain.CostBreakdown, days int, probability float64, assumptions, risks []string) domain.ProfitScenario {
	gross := (sell - buy) * domain.Money(volume)
	net := (sell - buy - costs.Total) * domain.Money(volume)

	margin := 0.0
	if sell > 0 {
		margin = net.Float64() / (sell.Float64() * float64(volume))
	}
	roi := net.Float64() / (buy.Float64() * float64(volume))

	return domain.ProfitScenario{
		Name:          name,
		TimeframeDays: days,
		BuyPrice:      buy,
		SellPrice:     sell,
		Volume:        volume,
		GrossProfit:   gross,
		NetProfit:     net,
		ProfitMargin:  margin,
		ROI:           roi,
		Probability:   probability,
		Assumptions:   assumptions,
		Risks:         risks,
	}
}

// pickOptimal chooses the scenario maximizing roi x probability. This is a
// probability-weighted pick, so the highest-ROI scenario does not always win.
func pickOptimal(scenarios []domain.ProfitScenario, trend domain.Trend, now time.Time, holdingDays int) domain.OptimalStrategy {
	best := scenarios[0]
	bestScore := best.ROI * best.Probability
	for _, sc := range scenarios[1:] {
		if score := sc.ROI * sc.Probability; score > bestScore {
			best, bestScore = sc, score
		}
	}

	timeframe := best.TimeframeDays
	if holdingDays > 0 {
		timeframe = holdingDays
	}

	return domain.OptimalStrategy{
		Scenario:          best.Name,
		RecommendedAction: recommendAction(best, trend),
		ExpectedProfit:    best.NetProfit,
		ExpectedROI:       best.ROI,
		Probability:       best.Probability,
		BuyWindow: domain.TimeWindow{
			From: now,
			To:   now.AddDate(0, 0, buyWindowDays),
		},
		SellWindow: domain.TimeWindow{
			From: now.AddDate(0, 0, timeframe),
			To:   now.AddDate(0, 0, timeframe+sellWindowDays),
		},
	}
}

// recommendAction applies the action rules in order: a profitable, likely
// scenario is a buy; a losing one an avoid; a falling trend with neither is
// a sell; everything else holds.
func recommendAction(best domain.ProfitScenario, trend domain.Trend) domain.Action {
	switch {
	case best.NetProfit > 0 && best.Probability > 0.5:
		return domain.ActionBuy
	case best.NetProfit < 0:
		return domain.ActionAvoid
	case trend == domain.TrendFalling:
		return domain.ActionSell
	default:
		return domain.ActionHold
	}
}

// assessRisk collects the triggered risk factors and the downside numbers.
func assessRisk(in ProjectionInput, scenarios []domain.ProfitScenario, buy domain.Money, costs domain.CostBreakdown) domain.RiskAssessment {
	var factors []domain.RiskFactor

	if in.Analysis.Volatility > volatilityRiskThreshold {
		factors = append(factors, domain.RiskFactor{
			Factor:      "price_volatility",
			Impact:      domain.SeverityHigh,
			Probability: 0.7,
			Mitigation:  "wait for the price to settle before committing",
		})
	}
	if estimatedSellers(in.Product) > sellerRiskThreshold {
		factors = append(factors, domain.RiskFactor{
			Factor:      "competition_increase",
			Impact:      domain.SeverityMedium,
			Probability: 0.8,
			Mitigation:  "price aggressively or target a quieter listing window",
		})
	}
	if in.Product.ReviewCount > saturationReviewCount && in.Product.SalesRank > saturationSalesRank {
		factors = append(factors, domain.RiskFactor{
			Factor:      "market_saturation",
			Impact:      domain.SeverityMedium,
			Probability: 0.6,
			Mitigation:  "limit volume and test demand first",
		})
	}

	worst := scenarios[0]
	for _, sc := range scenarios[1:] {
		if sc.NetProfit < worst.NetProfit {
			worst = sc
		}
	}
	var maxLoss domain.Money
	if worst.NetProfit < 0 {
		maxLoss = -worst.NetProfit
	}

	return domain.RiskAssessment{
		OverallRisk:       overallRisk(factors),
		RiskFactors:       factors,
		MaxPotentialLoss:  maxLoss,
		BreakEvenPrice:    buy + costs.Total,
		WorstCaseScenario: string(worst.Name),
	}
}

// overallRisk rolls individual factors up: any high-impact factor makes the
// whole picture high, more than one medium-impact factor makes it medium.
func overallRisk(factors []domain.RiskFactor) domain.Severity {
	highs, mediums := 0, 0
	for _, f := range factors {
		switch f.Impact {
		case domain.SeverityHigh:
			highs++
		case domain.SeverityMedium:
			mediums++
		}
	}
	switch {
	case highs > 0:
		return domain.SeverityHigh
	case mediums > 1:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// estimatedSellers approximates the competing seller count from offer
// listings, capped because offer counts beyond that stop meaning anything.
func estimatedSellers(p domain.TrackedProduct) int {
	sellers := p.OfferCountNew + p.OfferCountUsed
	if sellers > maxEstimatedSellers {
		sellers = maxEstimatedSellers
	}
	return sellers
}

func buildMarketFactors(in ProjectionInput) domain.MarketFactors {
	return domain.MarketFactors{
		SalesRank:        in.Product.SalesRank,
		EstimatedSellers: estimatedSellers(in.Product),
		ReviewCount:      in.Product.ReviewCount,
		AveragePrice:     in.Average,
		Trend:            in.Analysis.Trend,
		Volatility:       in.Analysis.Volatility,
		RSI14:            analysis.CalculateRSI(in.Prices, 14),
		SMA20Distance:    analysis.CalculateSMADistance(in.Prices, 20),
	}
}

func buildRecommendations(strategy domain.OptimalStrategy, risk domain.RiskAssessment, in ProjectionInput) []string {
	var recs []string

	switch strategy.RecommendedAction {
	case domain.ActionBuy:
		recs = append(recs, fmt.Sprintf("Buy below %s to stay ahead of the %s break-even",
			in.Current, risk.BreakEvenPrice))
	case domain.ActionAvoid:
		recs = append(recs, "Costs exceed resale value at current prices; skip this flip")
	case domain.ActionSell:
		recs = append(recs, "Price trend is falling; clear existing inventory")
	case domain.ActionHold:
		recs = append(recs, "Margins are thin right now; wait for a better entry price")
	}

	if risk.OverallRisk == domain.SeverityHigh {
		recs = append(recs, "Overall risk is high; start with a small test lot")
	}
	if in.Inputs.RiskTolerance != nil && *in.Inputs.RiskTolerance == "low" && risk.OverallRisk != domain.SeverityLow {
		recs = append(recs, "Current risk exceeds a low risk tolerance; consider waiting")
	}

	return recs
}

// ComputeBreakEven answers "what would I have to sell at" for a hypothetical
// buy price: the break-even itself, a minimum listing price with a 10%
// safety margin, and how far the current market price sits above break-even.
func ComputeBreakEven(product domain.TrackedProduct, buyPrice, current domain.Money) (*domain.BreakEvenAnalysis, error) {
	if buyPrice <= 0 {
		return nil, domain.NewValidationError("buy_price", "must be positive")
	}

	costs := EstimateCosts(product.Category, product.Title, buyPrice)
	breakEven := buyPrice + costs.Total

	margin := 0.0
	if current > 0 {
		margin = (current.Float64() - breakEven.Float64()) / current.Float64() * 100
	}

	return &domain.BreakEvenAnalysis{
		BuyPrice:         buyPrice,
		CurrentPrice:     current,
		Costs:            costs,
		BreakEvenPrice:   breakEven,
		MinimumSellPrice: domain.MoneyFromFloat(breakEven.Float64() * breakEvenSafetyMargin),
		MarginOfSafety:   margin,
	}, nil
}
