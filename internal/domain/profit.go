package domain

import "time"

// ScenarioName identifies one of the three fixed profit scenarios.
type ScenarioName string

const (
	ScenarioConservative ScenarioName = "conservative"
	ScenarioRealistic    ScenarioName = "realistic"
	ScenarioOptimistic   ScenarioName = "optimistic"
)

// Action is the recommended trading action for a product.
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionHold  Action = "hold"
	ActionAvoid Action = "avoid"
)

// ProfitScenario models one buy/sell outcome under fixed assumptions.
// Scenarios are generated fresh per request and never persisted as
// mutable state.
type ProfitScenario struct {
	Name          ScenarioName `json:"name"`
	TimeframeDays int          `json:"timeframe_days"`
	BuyPrice      Money        `json:"buy_price"`
	SellPrice     Money        `json:"sell_price"`
	Volume        int          `json:"volume"`
	GrossProfit   Money        `json:"gross_profit"`
	NetProfit     Money        `json:"net_profit"`
	ProfitMargin  float64      `json:"profit_margin"`
	ROI           float64      `json:"roi"`
	Probability   float64      `json:"probability"`
	Assumptions   []string     `json:"assumptions"`
	Risks         []string     `json:"risks"`
}

// TimeWindow is a closed [From, To] interval.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// OptimalStrategy is the probability-weighted pick among the scenarios.
type OptimalStrategy struct {
	Scenario          ScenarioName `json:"scenario"`
	RecommendedAction Action       `json:"recommended_action"`
	ExpectedProfit    Money        `json:"expected_profit"`
	ExpectedROI       float64      `json:"expected_roi"`
	Probability       float64      `json:"probability"`
	BuyWindow         TimeWindow   `json:"buy_window"`
	SellWindow        TimeWindow   `json:"sell_window"`
}

// RiskFactor is a single contributor to the overall risk picture.
type RiskFactor struct {
	Factor      string   `json:"factor"`
	Impact      Severity `json:"impact"`
	Probability float64  `json:"probability"`
	Mitigation  string   `json:"mitigation"`
}

// RiskAssessment aggregates risk factors into an overall grade plus the
// downside numbers a trader cares about.
type RiskAssessment struct {
	OverallRisk       Severity     `json:"overall_risk"`
	RiskFactors       []RiskFactor `json:"risk_factors"`
	MaxPotentialLoss  Money        `json:"max_potential_loss"`
	BreakEvenPrice    Money        `json:"break_even_price"`
	WorstCaseScenario string       `json:"worst_case_scenario"`
}

// MarketFactors is the snapshot of marketplace conditions that fed a
// projection: catalog metadata, trend/volatility echo, and technical
// indicators derived from the price history.
type MarketFactors struct {
	SalesRank        int      `json:"sales_rank"`
	EstimatedSellers int      `json:"estimated_sellers"`
	ReviewCount      int      `json:"review_count"`
	AveragePrice     Money    `json:"average_price"`
	Trend            Trend    `json:"trend"`
	Volatility       float64  `json:"volatility"`
	RSI14            *float64 `json:"rsi_14,omitempty"`
	SMA20Distance    *float64 `json:"sma_20_distance,omitempty"`
}

// ProfitProjection is the full output of the profit scenario engine for
// one product.
type ProfitProjection struct {
	ProductRef      string           `json:"product_ref"`
	Scenarios       []ProfitScenario `json:"scenarios"`
	OptimalStrategy OptimalStrategy  `json:"optimal_strategy"`
	RiskAssessment  RiskAssessment   `json:"risk_assessment"`
	MarketFactors   MarketFactors    `json:"market_factors"`
	Recommendations []string         `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// ProfitInputs are the optional caller-supplied overrides for a projection.
// Zero values mean "use the engine default".
type ProfitInputs struct {
	IntendedBuyPrice  Money   `json:"intended_buy_price,omitempty"`
	IntendedVolume    int     `json:"intended_volume,omitempty"`
	HoldingPeriodDays int     `json:"holding_period_days,omitempty"`
	RiskTolerance     *string `json:"risk_tolerance,omitempty"`
}

// CostBreakdown itemizes the modeled per-unit transaction costs for a
// hypothetical buy price.
type CostBreakdown struct {
	ReferralFee    Money `json:"referral_fee"`
	FulfillmentFee Money `json:"fulfillment_fee"`
	Shipping       Money `json:"shipping"`
	Tax            Money `json:"tax"`
	Misc           Money `json:"misc"`
	Total          Money `json:"total"`
}

// BreakEvenAnalysis is the standalone break-even computation for a buy price.
type BreakEvenAnalysis struct {
	BuyPrice         Money         `json:"buy_price"`
	CurrentPrice     Money         `json:"current_price"`
	Costs            CostBreakdown `json:"costs"`
	BreakEvenPrice   Money         `json:"break_even_price"`
	MinimumSellPrice Money         `json:"minimum_sell_price"`
	MarginOfSafety   float64       `json:"margin_of_safety"`
}

// RankedProduct pairs a product with its projection and rank position.
type RankedProduct struct {
	Rank       int              `json:"rank"`
	Product    TrackedProduct   `json:"product"`
	Projection ProfitProjection `json:"projection"`
}

// PortfolioSuggestion is the greedy budget-constrained selection over a
// ranked candidate set. The allocator is a bounded greedy approximation,
// not an optimal solver.
type PortfolioSuggestion struct {
	SelectedProducts    []RankedProduct  `json:"selected_products"`
	TotalInvestment     Money            `json:"total_investment"`
	TotalExpectedProfit Money            `json:"total_expected_profit"`
	TotalExpectedROI    float64          `json:"total_expected_roi"`
	RiskDistribution    map[Severity]int `json:"risk_distribution"`
}

// ComparePreferences filter the candidate set before ranking.
type ComparePreferences struct {
	MaxRiskLevel         *Severity `json:"max_risk_level,omitempty"`
	MinROI               *float64  `json:"min_roi,omitempty"`
	DiversificationLevel string    `json:"diversification_level,omitempty"`
}
