// Package syncsched decides, under the shared upstream request budget, which
// tracked products to refresh and at what cadence. It scores products from
// observed access patterns, rebuilds the refresh queue wholesale on a fixed
// interval, drains it through the rate-limited provider, and pre-warms
// entries that are predicted to be requested soon.
package syncsched

import (
	"math"
	"time"

	"github.com/flipwatch/engine/internal/domain"
)

// Priority score weights. The score is the clamped sum of three components:
// how often a product has been accessed overall, how frequently it is being
// accessed per day, and how recently it was last touched.
const (
	maxAccessWeight    = 50.0 // accessCount / 10, capped
	maxFrequencyWeight = 30.0 // accessFrequency * 10, capped
	maxScore           = 100.0
)

// recencyWeight grades how recently the product was last accessed.
func recencyWeight(sinceAccess time.Duration) float64 {
	switch {
	case sinceAccess < time.Hour:
		return 20
	case sinceAccess < 6*time.Hour:
		return 15
	case sinceAccess < 24*time.Hour:
		return 10
	case sinceAccess < 168*time.Hour:
		return 5
	default:
		return 0
	}
}

// Score computes the 0-100 priority score for a product from its observed
// access pattern. A product with no recorded accesses scores 0.
func Score(access domain.ProductAccess, now time.Time) float64 {
	if access.AccessCount == 0 {
		return 0
	}

	accessWeight := math.Min(float64(access.AccessCount)/10, maxAccessWeight)
	frequencyWeight := math.Min(access.Frequency(now)*10, maxFrequencyWeight)
	recency := recencyWeight(now.Sub(access.LastAccess))

	score := accessWeight + frequencyWeight + recency
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// Base sync cadence per tier, in minutes, before the frequency multiplier.
var baseSyncMinutes = map[domain.ImportanceTier]float64{
	domain.TierCritical: 5,
	domain.TierHigh:     15,
	domain.TierMedium:   60,
	domain.TierLow:      240,
}

const (
	minFrequencyMultiplier = 0.5
	maxFrequencyMultiplier = 2.0
)

// SyncFrequencyMinutes returns the refresh cadence for a tier, stretched or
// compressed by the access frequency: heavily accessed products sync up to
// twice as fast as their tier base, idle ones up to twice as slow.
func SyncFrequencyMinutes(tier domain.ImportanceTier, accessFrequency float64) float64 {
	base, ok := baseSyncMinutes[tier]
	if !ok {
		base = baseSyncMinutes[domain.TierLow]
	}

	// 1/log10(freq+1) is +Inf at freq=0; the clamp bounds it.
	multiplier := 1 / math.Log10(accessFrequency+1)
	if multiplier < minFrequencyMultiplier {
		multiplier = minFrequencyMultiplier
	}
	if multiplier > maxFrequencyMultiplier {
		multiplier = maxFrequencyMultiplier
	}

	return base * multiplier
}

// OptimalTTL returns the cache lifetime for a product's derived data. It is
// a pure function of the importance tier: hot tiers get short TTLs so reads
// stay close to live, cold tiers keep entries around longer to save budget.
func OptimalTTL(tier domain.ImportanceTier) time.Duration {
	switch tier {
	case domain.TierCritical, domain.TierHigh:
		return 15 * time.Minute
	case domain.TierMedium:
		return time.Hour
	default:
		return 4 * time.Hour
	}
}

// BuildPriority assembles the full refresh decision for one tracked product.
func BuildPriority(product domain.TrackedProduct, access domain.ProductAccess, now time.Time) domain.SyncPriority {
	score := Score(access, now)
	tier := domain.TierForScore(score)
	freqMin := SyncFrequencyMinutes(tier, access.Frequency(now))

	var lastSynced time.Time
	if product.LastSyncedAt != nil {
		lastSynced = *product.LastSyncedAt
	}

	next := now
	if !lastSynced.IsZero() {
		next = lastSynced.Add(time.Duration(freqMin * float64(time.Minute)))
	}

	return domain.SyncPriority{
		ProductRef:          product.Ref,
		PriorityScore:       score,
		ImportanceTier:      tier,
		SyncFrequencyMin:    freqMin,
		LastSyncedAt:        lastSynced,
		PredictedNextUpdate: next,
	}
}

// Due reports whether a product needs a refresh now: its cadence has elapsed
// since the last sync, or it sits in the critical tier, which always syncs.
func Due(priority domain.SyncPriority, now time.Time) bool {
	if priority.ImportanceTier == domain.TierCritical {
		return true
	}
	if priority.LastSyncedAt.IsZero() {
		return true
	}
	elapsed := now.Sub(priority.LastSyncedAt)
	return elapsed >= time.Duration(priority.SyncFrequencyMin*float64(time.Minute))
}
