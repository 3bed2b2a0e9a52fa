package syncsched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/domain"
)

// accessKeyPrefix namespaces per-product access records in the cache store.
const accessKeyPrefix = "access:"

// Cache is the slice of the cache store the scheduler uses: raw bytes for
// the msgpack access records, JSON for the queue document.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	SetBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

// AccessTracker records read-path accesses per product. Every analyze,
// profit or comparison call counts as one access; the scheduler turns the
// accumulated pattern into sync priorities. Records are msgpack-encoded and
// expire after the retention window, so products nobody asks about fall out
// of the schedule on their own.
type AccessTracker struct {
	store Cache
	log   zerolog.Logger
	now   func() time.Time
}

// NewAccessTracker creates an access tracker over the cache store.
func NewAccessTracker(store Cache, log zerolog.Logger) *AccessTracker {
	return &AccessTracker{
		store: store,
		log:   log.With().Str("component", "access_tracker").Logger(),
		now:   time.Now,
	}
}

// SetClock replaces the tracker's clock, for tests.
func (t *AccessTracker) SetClock(now func() time.Time) {
	t.now = now
}

func accessKey(ref string) string {
	return accessKeyPrefix + ref
}

// RecordAccess counts one access for a product. Failures are logged and
// swallowed: losing an observation must never fail the read that caused it.
// The read-modify-write is not atomic; concurrent accesses can drop a count,
// which the scoring heuristic tolerates.
func (t *AccessTracker) RecordAccess(ctx context.Context, productRef string) {
	now := t.now().UTC()

	access, found, err := t.Get(ctx, productRef)
	if err != nil {
		t.log.Warn().Err(err).Str("product", productRef).Msg("Access record read failed")
		return
	}
	if !found {
		access = domain.ProductAccess{
			ProductRef:  productRef,
			FirstAccess: now,
		}
	}

	access.AccessCount++
	access.LastAccess = now

	if err := t.put(ctx, access); err != nil {
		t.log.Warn().Err(err).Str("product", productRef).Msg("Access record write failed")
	}
}

// AnalysisTTL grades how long derived data for a product may live in the
// cache: the tier TTL for its current priority score, or the default
// analysis TTL for products with no recorded accesses yet.
func (t *AccessTracker) AnalysisTTL(ctx context.Context, productRef string) time.Duration {
	access, found, err := t.Get(ctx, productRef)
	if err != nil || !found {
		return cache.TTLAnalysis
	}
	tier := domain.TierForScore(Score(access, t.now().UTC()))
	return OptimalTTL(tier)
}

// Get returns the access record for one product. found is false when the
// product has never been accessed within the retention window.
func (t *AccessTracker) Get(ctx context.Context, productRef string) (domain.ProductAccess, bool, error) {
	data, found, err := t.store.GetBytes(ctx, accessKey(productRef))
	if err != nil || !found {
		return domain.ProductAccess{}, false, err
	}

	var access domain.ProductAccess
	if err := msgpack.Unmarshal(data, &access); err != nil {
		return domain.ProductAccess{}, false, err
	}
	return access, true, nil
}

// All returns every live access record. Records that fail to decode are
// skipped, not fatal: one corrupt entry must not hide the rest.
func (t *AccessTracker) All(ctx context.Context) ([]domain.ProductAccess, error) {
	keys, err := t.store.ScanKeys(ctx, accessKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	records := make([]domain.ProductAccess, 0, len(keys))
	for _, key := range keys {
		data, found, err := t.store.GetBytes(ctx, key)
		if err != nil || !found {
			continue
		}
		var access domain.ProductAccess
		if err := msgpack.Unmarshal(data, &access); err != nil {
			t.log.Warn().Err(err).Str("key", key).Msg("Skipping undecodable access record")
			continue
		}
		records = append(records, access)
	}
	return records, nil
}

func (t *AccessTracker) put(ctx context.Context, access domain.ProductAccess) error {
	data, err := msgpack.Marshal(access)
	if err != nil {
		return err
	}
	return t.store.SetBytes(ctx, accessKey(access.ProductRef), data, cache.AccessStatsRetention)
}
