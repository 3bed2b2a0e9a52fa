package syncsched

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/clients/marketdata"
	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/internal/modules/analysis"
)

const (
	// queueKey stores the active refresh queue document.
	queueKey = "sync:queue"

	// queueTTL bounds how long a queue survives a stalled scheduler. A
	// rebuild every five minutes replaces it long before this lapses.
	queueTTL = time.Hour

	// syncWindowDays matches the analyze endpoint's default window so synced
	// series and analysis results land on the cache keys API reads hit.
	syncWindowDays = 90

	// warmWindow is how far ahead the predictive warm looks: products whose
	// predicted next access falls inside it get prefetched.
	warmWindow = 30 * time.Minute

	// warmPerCycleCap bounds prefetches per warm cycle.
	warmPerCycleCap = 10

	// warmJitterMax spreads prefetches out so a warm cycle doesn't burst
	// against the upstream provider.
	warmJitterMax = 15 * time.Second
)

// Provider is the slice of the marketdata client the scheduler drives.
// RefreshSeries bypasses the fresh-cache short-circuit; GetSeries honors it,
// which makes it the right call for warming.
type Provider interface {
	GetSeries(ctx context.Context, productRef string, days int) (*domain.PriceSeries, error)
	RefreshSeries(ctx context.Context, productRef string, days int) (*domain.PriceSeries, error)
	GetProduct(ctx context.Context, productRef string) (*domain.TrackedProduct, error)
}

// Catalog is the tracked-product registry the queue is built from.
type Catalog interface {
	Get(productRef string) (*domain.TrackedProduct, error)
	List() ([]domain.TrackedProduct, error)
	Upsert(product domain.TrackedProduct) error
	TouchSynced(productRef string, syncedAt time.Time) error
}

// Budget reports the remaining upstream request allowance without spending
// any of it.
type Budget interface {
	Remaining(ctx context.Context, key string) (int, error)
	Limit() int
}

// CycleStats summarizes one rebuild-and-drain cycle.
type CycleStats struct {
	Skipped    bool  `json:"skipped"`
	Tracked    int   `json:"tracked"`
	TotalDue   int   `json:"total_due"`
	Queued     int   `json:"queued"`
	Truncated  bool  `json:"truncated"`
	Synced     int   `json:"synced"`
	Failures   int   `json:"failures"`
	DurationMS int64 `json:"duration_ms"`
}

// WarmStats summarizes one predictive warm cycle.
type WarmStats struct {
	Skipped    bool `json:"skipped"`
	Scanned    int  `json:"scanned"`
	Candidates int  `json:"candidates"`
	Warmed     int  `json:"warmed"`
	Failures   int  `json:"failures"`
}

// ForceSyncResult reports an on-demand refresh of one product.
type ForceSyncResult struct {
	ProductRef     string                `json:"product_ref"`
	SyncedAt       time.Time             `json:"synced_at"`
	PriorityScore  float64               `json:"priority_score"`
	ImportanceTier domain.ImportanceTier `json:"importance_tier"`
}

// Service owns the refresh queue: scoring, wholesale rebuilds, draining due
// products through the rate-limited provider, and the predictive cache warm.
type Service struct {
	tracker  *AccessTracker
	catalog  Catalog
	provider Provider
	budget   Budget
	store    Cache
	log      zerolog.Logger
	now      func() time.Time

	// warmJitter spreads warm prefetches out; zeroed in tests.
	warmJitter time.Duration

	// One rebuild and one warm may be in flight at a time; a second caller
	// skips instead of queueing behind the first.
	rebuildRunning atomic.Bool
	warmRunning    atomic.Bool
}

// NewService creates the sync scheduler service.
func NewService(tracker *AccessTracker, catalog Catalog, provider Provider,
	budget Budget, store Cache, log zerolog.Logger) *Service {
	return &Service{
		tracker:    tracker,
		catalog:    catalog,
		provider:   provider,
		budget:     budget,
		store:      store,
		log:        log,
		now:        time.Now,
		warmJitter: warmJitterMax,
	}
}

// SetClock replaces the service clock, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Tracker exposes the access tracker so read-path services can record
// accesses and grade cache TTLs.
func (s *Service) Tracker() *AccessTracker {
	return s.tracker
}

// RunCycle rebuilds the refresh queue and drains it. The queue is replaced
// wholesale, never patched, so priorities can't drift from stale partial
// updates. If a cycle is already in flight the call returns immediately with
// Skipped set.
func (s *Service) RunCycle(ctx context.Context) (*CycleStats, error) {
	if !s.rebuildRunning.CompareAndSwap(false, true) {
		s.log.Warn().Msg("Sync cycle already in flight, skipping")
		return &CycleStats{Skipped: true}, nil
	}
	defer s.rebuildRunning.Store(false)

	started := time.Now()
	stats := &CycleStats{}

	queue, err := s.rebuildQueue(ctx, stats)
	if err != nil {
		return nil, err
	}

	s.drain(ctx, queue, stats)
	stats.DurationMS = time.Since(started).Milliseconds()

	s.log.Info().
		Int("tracked", stats.Tracked).
		Int("due", stats.TotalDue).
		Int("queued", stats.Queued).
		Bool("truncated", stats.Truncated).
		Int("synced", stats.Synced).
		Int("failures", stats.Failures).
		Int64("duration_ms", stats.DurationMS).
		Msg("Sync cycle completed")
	return stats, nil
}

// rebuildQueue recomputes every tracked product's priority, selects the due
// set, truncates it to half the remaining request budget, and stores the
// resulting queue document wholesale.
func (s *Service) rebuildQueue(ctx context.Context, stats *CycleStats) (*domain.SyncQueue, error) {
	now := s.now().UTC()

	products, err := s.catalog.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked products: %w", err)
	}
	stats.Tracked = len(products)

	accesses, err := s.tracker.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load access records: %w", err)
	}
	byRef := make(map[string]domain.ProductAccess, len(accesses))
	for _, a := range accesses {
		byRef[a.ProductRef] = a
	}

	var due []domain.SyncPriority
	for _, product := range products {
		priority := BuildPriority(product, byRef[product.Ref], now)
		if Due(priority, now) {
			due = append(due, priority)
		}
	}
	stats.TotalDue = len(due)

	// Highest priority first; truncation keeps the products that matter most.
	sort.Slice(due, func(i, j int) bool {
		if due[i].PriorityScore != due[j].PriorityScore {
			return due[i].PriorityScore > due[j].PriorityScore
		}
		return due[i].ProductRef < due[j].ProductRef
	})

	// Spend at most half the remaining budget on background refreshes; the
	// other half stays available for interactive reads.
	allowance := s.refreshAllowance(ctx)
	truncated := false
	if len(due) > allowance {
		due = due[:allowance]
		truncated = true
	}
	stats.Queued = len(due)
	stats.Truncated = truncated

	queue := &domain.SyncQueue{
		RebuiltAt:  now,
		Due:        due,
		TotalDue:   stats.TotalDue,
		Truncated:  truncated,
		BudgetUsed: len(due),
	}

	if err := s.store.Set(ctx, queueKey, queue, queueTTL); err != nil {
		return nil, fmt.Errorf("failed to store sync queue: %w", err)
	}
	return queue, nil
}

func (s *Service) refreshAllowance(ctx context.Context) int {
	remaining, err := s.budget.Remaining(ctx, marketdata.BudgetKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("Budget check failed, assuming full window")
		remaining = s.budget.Limit()
	}
	return remaining / 2
}

// drain refreshes each queued product. One product's failure is counted and
// skipped; a rate-limit refusal ends the drain early since every later call
// would be refused too.
func (s *Service) drain(ctx context.Context, queue *domain.SyncQueue, stats *CycleStats) {
	for _, priority := range queue.Due {
		if err := s.syncOne(ctx, priority.ProductRef, priority.ImportanceTier); err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				s.log.Warn().
					Int("synced", stats.Synced).
					Int("left", len(queue.Due)-stats.Synced-stats.Failures).
					Msg("Request budget exhausted mid-drain, stopping")
				return
			}
			stats.Failures++
			s.log.Error().Err(err).Str("product", priority.ProductRef).Msg("Product sync failed")
			continue
		}
		stats.Synced++
	}
}

// syncOne refreshes one product: fetch the series from upstream, recompute
// and cache the per-channel analysis with the tier TTL, enrich the catalog
// metadata, and stamp the sync time.
func (s *Service) syncOne(ctx context.Context, productRef string, tier domain.ImportanceTier) error {
	now := s.now().UTC()

	series, err := s.provider.RefreshSeries(ctx, productRef, syncWindowDays)
	if err != nil {
		return err
	}

	ttl := OptimalTTL(tier)
	for channel, points := range series.Channels {
		result := analysis.Analyze(productRef, channel, points, now)
		key := analysis.ResultKey(productRef, channel, syncWindowDays)
		if err := s.store.Set(ctx, key, result, ttl); err != nil {
			s.log.Warn().Err(err).Str("product", productRef).Msg("Failed to cache synced analysis")
		}
	}

	// Metadata enrichment is best-effort; the series refresh is the part
	// that matters.
	if product, err := s.provider.GetProduct(ctx, productRef); err == nil {
		if err := s.catalog.Upsert(*product); err != nil {
			s.log.Warn().Err(err).Str("product", productRef).Msg("Catalog enrichment failed")
		}
	}

	if err := s.catalog.TouchSynced(productRef, now); err != nil {
		return fmt.Errorf("failed to stamp sync time: %w", err)
	}

	s.log.Debug().
		Str("product", productRef).
		Str("tier", string(tier)).
		Dur("ttl", ttl).
		Msg("Product synced")
	return nil
}

// WarmCache prefetches products predicted to be requested within the warm
// window, so those reads land on a fresh cache instead of spending budget
// interactively. Prefetches are jittered and capped per cycle.
func (s *Service) WarmCache(ctx context.Context) (*WarmStats, error) {
	if !s.warmRunning.CompareAndSwap(false, true) {
		s.log.Warn().Msg("Cache warm already in flight, skipping")
		return &WarmStats{Skipped: true}, nil
	}
	defer s.warmRunning.Store(false)

	now := s.now().UTC()
	stats := &WarmStats{}

	accesses, err := s.tracker.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load access records: %w", err)
	}
	stats.Scanned = len(accesses)

	var candidates []domain.ProductAccess
	for _, access := range accesses {
		next, ok := access.PredictedNextAccess(now)
		if !ok {
			continue
		}
		if next.Before(now) || next.Sub(now) > warmWindow {
			continue
		}
		candidates = append(candidates, access)
	}
	stats.Candidates = len(candidates)

	// Soonest predicted access first, so the cap keeps the most urgent.
	sort.Slice(candidates, func(i, j int) bool {
		ni, _ := candidates[i].PredictedNextAccess(now)
		nj, _ := candidates[j].PredictedNextAccess(now)
		if !ni.Equal(nj) {
			return ni.Before(nj)
		}
		return candidates[i].ProductRef < candidates[j].ProductRef
	})
	if len(candidates) > warmPerCycleCap {
		candidates = candidates[:warmPerCycleCap]
	}

	for _, access := range candidates {
		if !sleepJitter(ctx, s.warmJitter) {
			break
		}
		// GetSeries is cache-first: an already-fresh product costs nothing.
		if _, err := s.provider.GetSeries(ctx, access.ProductRef, syncWindowDays); err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				s.log.Warn().Int("warmed", stats.Warmed).Msg("Request budget exhausted mid-warm, stopping")
				break
			}
			stats.Failures++
			s.log.Debug().Err(err).Str("product", access.ProductRef).Msg("Warm prefetch failed")
			continue
		}
		stats.Warmed++
	}

	s.log.Info().
		Int("scanned", stats.Scanned).
		Int("candidates", stats.Candidates).
		Int("warmed", stats.Warmed).
		Int("failures", stats.Failures).
		Msg("Cache warm completed")
	return stats, nil
}

// Queue returns the current refresh queue document. An engine that has not
// rebuilt yet (or whose queue expired) reports an empty queue.
func (s *Service) Queue(ctx context.Context) (*domain.SyncQueue, error) {
	var queue domain.SyncQueue
	found, err := s.store.Get(ctx, queueKey, &queue)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	if !found {
		return &domain.SyncQueue{Due: []domain.SyncPriority{}}, nil
	}
	if queue.Due == nil {
		queue.Due = []domain.SyncPriority{}
	}
	return &queue, nil
}

// ForceSync refreshes one product immediately, regardless of its schedule.
// The request itself counts as an access: someone asking for a manual
// refresh is the strongest interest signal there is.
func (s *Service) ForceSync(ctx context.Context, productRef string) (*ForceSyncResult, error) {
	if err := domain.ValidateProductRef(productRef); err != nil {
		return nil, err
	}

	s.tracker.RecordAccess(ctx, productRef)
	now := s.now().UTC()

	access, _, err := s.tracker.Get(ctx, productRef)
	if err != nil {
		s.log.Warn().Err(err).Str("product", productRef).Msg("Access record read failed during force sync")
	}
	score := Score(access, now)
	tier := domain.TierForScore(score)

	if err := s.syncOne(ctx, productRef, tier); err != nil {
		return nil, err
	}

	return &ForceSyncResult{
		ProductRef:     productRef,
		SyncedAt:       now,
		PriorityScore:  score,
		ImportanceTier: tier,
	}, nil
}

// sleepJitter waits a random slice of max, returning false if the context
// ended first.
func sleepJitter(ctx context.Context, max time.Duration) bool {
	wait := time.Duration(rand.Float64() * float64(max))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
