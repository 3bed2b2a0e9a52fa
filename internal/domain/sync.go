package domain

import "time"

// ImportanceTier discretizes a priority score into a sync cadence class.
// It is a pure function of the score; no independent mutation.
type ImportanceTier string

const (
	TierCritical ImportanceTier = "critical"
	TierHigh     ImportanceTier = "high"
	TierMedium   ImportanceTier = "medium"
	TierLow      ImportanceTier = "low"
)

// TierForScore maps a priority score (0-100) to its importance tier.
func TierForScore(score float64) ImportanceTier {
	switch {
	case score >= 80:
		return TierCritical
	case score >= 60:
		return TierHigh
	case score >= 40:
		return TierMedium
	default:
		return TierLow
	}
}

// SyncPriority is the refresh decision for one tracked product, recomputed
// wholesale each scheduling cycle.
type SyncPriority struct {
	ProductRef          string         `json:"product_ref"`
	PriorityScore       float64        `json:"priority_score"`
	ImportanceTier      ImportanceTier `json:"importance_tier"`
	SyncFrequencyMin    float64        `json:"sync_frequency_minutes"`
	LastSyncedAt        time.Time      `json:"last_synced_at"`
	PredictedNextUpdate time.Time      `json:"predicted_next_update_at"`
}

// SyncQueue is the active refresh queue. It is replaced wholesale on every
// rebuild (never incrementally patched) to avoid stale-entry drift.
type SyncQueue struct {
	RebuiltAt  time.Time      `json:"rebuilt_at"`
	Due        []SyncPriority `json:"due"`
	TotalDue   int            `json:"total_due"`
	Truncated  bool           `json:"truncated"`
	BudgetUsed int            `json:"budget_used"`
}

// ProductAccess tracks observed access patterns for one product. Stored as a
// compact msgpack record in the cache store; not part of the JSON cache
// payload contract.
type ProductAccess struct {
	ProductRef   string    `msgpack:"ref" json:"product_ref"`
	AccessCount  int64     `msgpack:"n" json:"access_count"`
	FirstAccess  time.Time `msgpack:"first" json:"first_access"`
	LastAccess   time.Time `msgpack:"last" json:"last_access"`
}

// Frequency returns the access frequency used by the priority formulas:
// accesses per day since the last access, or the raw count when the product
// was accessed within the last day.
func (a ProductAccess) Frequency(now time.Time) float64 {
	if a.AccessCount == 0 {
		return 0
	}
	elapsed := now.Sub(a.LastAccess)
	if elapsed < 24*time.Hour {
		return float64(a.AccessCount)
	}
	days := elapsed.Hours() / 24
	return float64(a.AccessCount) / days
}

// PredictedNextAccess estimates when the product will next be requested,
// assuming the observed access cadence continues.
func (a ProductAccess) PredictedNextAccess(now time.Time) (time.Time, bool) {
	freq := a.Frequency(now)
	if freq <= 0 {
		return time.Time{}, false
	}
	interval := time.Duration(float64(24*time.Hour) / freq)
	return a.LastAccess.Add(interval), true
}
