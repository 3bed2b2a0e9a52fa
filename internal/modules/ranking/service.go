package ranking

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/domain"
)

// maxCompareProducts bounds one comparison request; each candidate costs a
// projection, which may cost upstream fetches.
const maxCompareProducts = 50

// Projector produces profit projections for candidate products.
type Projector interface {
	Project(ctx context.Context, productRef string, inputs domain.ProfitInputs) (*domain.ProfitProjection, error)
}

// ProductRegistry resolves catalog metadata for ranked output. Get returns
// (nil, nil) when the product is unknown.
type ProductRegistry interface {
	Get(productRef string) (*domain.TrackedProduct, error)
}

// ComparisonResult pairs the full ranking with the budget-constrained pick.
type ComparisonResult struct {
	Rankings   []domain.RankedProduct     `json:"rankings"`
	Portfolio  domain.PortfolioSuggestion `json:"portfolio"`
	Budget     domain.Money               `json:"budget"`
	ComparedAt time.Time                  `json:"compared_at"`
}

// Service ranks products against each other under a budget.
type Service struct {
	projector Projector
	products  ProductRegistry
	log       zerolog.Logger
}

// NewService creates a ranking service.
func NewService(projector Projector, products ProductRegistry, log zerolog.Logger) *Service {
	return &Service{
		projector: projector,
		products:  products,
		log:       log,
	}
}

// Compare projects every candidate, ranks them by expected ROI and builds a
// greedy portfolio within the budget. A candidate whose projection fails is
// skipped rather than failing the whole comparison; the call errors only
// when no candidate could be projected at all.
func (s *Service) Compare(ctx context.Context, productRefs []string, budget domain.Money, prefs domain.ComparePreferences) (*ComparisonResult, error) {
	if len(productRefs) == 0 {
		return nil, domain.NewValidationError("product_ids", "must not be empty")
	}
	if len(productRefs) > maxCompareProducts {
		return nil, domain.NewValidationError("product_ids", "too many products (max 50)")
	}
	if budget < 0 {
		return nil, domain.NewValidationError("budget", "must not be negative")
	}
	for _, ref := range productRefs {
		if err := domain.ValidateProductRef(ref); err != nil {
			return nil, err
		}
	}

	candidates := make([]domain.RankedProduct, 0, len(productRefs))
	seen := make(map[string]bool)
	var firstErr error
	for _, ref := range productRefs {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		projection, err := s.projector.Project(ctx, ref, domain.ProfitInputs{})
		if err != nil {
			s.log.Warn().Err(err).Str("product", ref).Msg("Skipping product in comparison")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		candidates = append(candidates, domain.RankedProduct{
			Product:    s.lookupProduct(ref),
			Projection: *projection,
		})
	}
	// candidates is empty only if every projection failed, so firstErr is set.
	if len(candidates) == 0 {
		return nil, firstErr
	}

	ranked := Rank(Filter(candidates, prefs))
	portfolio := BuildPortfolio(ranked, budget, prefs.DiversificationLevel)

	s.log.Debug().
		Int("candidates", len(candidates)).
		Int("ranked", len(ranked)).
		Int("selected", len(portfolio.SelectedProducts)).
		Msg("Comparison completed")

	return &ComparisonResult{
		Rankings:   ranked,
		Portfolio:  portfolio,
		Budget:     budget,
		ComparedAt: time.Now().UTC(),
	}, nil
}

func (s *Service) lookupProduct(ref string) domain.TrackedProduct {
	product, err := s.products.Get(ref)
	if err != nil || product == nil {
		return domain.TrackedProduct{Ref: ref}
	}
	return *product
}
