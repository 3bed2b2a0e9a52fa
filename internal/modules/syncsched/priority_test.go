package syncsched

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flipwatch/engine/internal/domain"
)

var scoreNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func accessRecord(count int64, sinceLast time.Duration) domain.ProductAccess {
	return domain.ProductAccess{
		ProductRef:  "B00TEST001",
		AccessCount: count,
		FirstAccess: scoreNow.Add(-30 * 24 * time.Hour),
		LastAccess:  scoreNow.Add(-sinceLast),
	}
}

func TestScore_NoAccessesScoresZero(t *testing.T) {
	assert.Equal(t, 0.0, Score(domain.ProductAccess{}, scoreNow))
}

func TestScore_KnownValues(t *testing.T) {
	tests := []struct {
		name      string
		count     int64
		sinceLast time.Duration
		want      float64
	}{
		{
			// access 20/10=2, frequency min(20*10,30)=30, recency 20
			name:      "hot product accessed within the hour",
			count:     20,
			sinceLast: 30 * time.Minute,
			want:      52,
		},
		{
			// access capped at 50, frequency capped at 30, recency 20
			name:      "heavily accessed product saturates at 100",
			count:     100000,
			sinceLast: time.Minute,
			want:      100,
		},
		{
			// 10 days since last access: frequency 5/10=0.5 -> weight 5,
			// access 0.5, recency 0
			name:      "idle product decays toward zero",
			count:     5,
			sinceLast: 240 * time.Hour,
			want:      5.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(accessRecord(tt.count, tt.sinceLast), scoreNow), 1e-9)
		})
	}
}

func TestScore_AlwaysWithinBounds(t *testing.T) {
	counts := []int64{0, 1, 7, 10, 100, 10000, 1 << 40}
	ages := []time.Duration{
		0, 30 * time.Minute, 2 * time.Hour, 12 * time.Hour,
		3 * 24 * time.Hour, 30 * 24 * time.Hour, 400 * 24 * time.Hour,
	}

	for _, count := range counts {
		for _, age := range ages {
			score := Score(accessRecord(count, age), scoreNow)
			label := fmt.Sprintf("count=%d age=%s", count, age)
			assert.GreaterOrEqual(t, score, 0.0, label)
			assert.LessOrEqual(t, score, 100.0, label)
		}
	}
}

func TestRecencyWeight_Buckets(t *testing.T) {
	tests := []struct {
		sinceAccess time.Duration
		want        float64
	}{
		{59 * time.Minute, 20},
		{time.Hour, 15},
		{5 * time.Hour, 15},
		{6 * time.Hour, 10},
		{23 * time.Hour, 10},
		{24 * time.Hour, 5},
		{167 * time.Hour, 5},
		{168 * time.Hour, 0},
		{1000 * time.Hour, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, recencyWeight(tt.sinceAccess), tt.sinceAccess.String())
	}
}

func TestSyncFrequencyMinutes(t *testing.T) {
	tests := []struct {
		name string
		tier domain.ImportanceTier
		freq float64
		want float64
	}{
		// 1/log10(0+1) is infinite, clamped to the 2.0 multiplier
		{name: "zero frequency doubles the base", tier: domain.TierMedium, freq: 0, want: 120},
		// log10(10) = 1 -> multiplier exactly 1
		{name: "frequency 9 keeps the base", tier: domain.TierHigh, freq: 9, want: 15},
		// log10(100) = 2 -> multiplier 0.5, the floor
		{name: "frequency 99 halves the base", tier: domain.TierCritical, freq: 99, want: 2.5},
		{name: "extreme frequency still floors at half", tier: domain.TierLow, freq: 1e9, want: 120},
		{name: "unknown tier falls back to low", tier: domain.ImportanceTier("bogus"), freq: 9, want: 240},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SyncFrequencyMinutes(tt.tier, tt.freq), 1e-9)
		})
	}
}

func TestSyncFrequencyMinutes_MultiplierStaysClamped(t *testing.T) {
	for _, freq := range []float64{0, 0.1, 0.5, 1, 3, 9, 50, 99, 1e6} {
		got := SyncFrequencyMinutes(domain.TierMedium, freq)
		label := fmt.Sprintf("freq=%g", freq)
		assert.GreaterOrEqual(t, got, 30.0, label)
		assert.LessOrEqual(t, got, 120.0, label)
	}
}

// The TTL depends on the importance tier and nothing else: two products in
// the same tier always share a lifetime, whatever their other fields say.
func TestOptimalTTL_PureFunctionOfTier(t *testing.T) {
	assert.Equal(t, 15*time.Minute, OptimalTTL(domain.TierCritical))
	assert.Equal(t, 15*time.Minute, OptimalTTL(domain.TierHigh))
	assert.Equal(t, time.Hour, OptimalTTL(domain.TierMedium))
	assert.Equal(t, 4*time.Hour, OptimalTTL(domain.TierLow))

	for _, tier := range []domain.ImportanceTier{
		domain.TierCritical, domain.TierHigh, domain.TierMedium, domain.TierLow,
	} {
		first := OptimalTTL(tier)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, OptimalTTL(tier), string(tier))
		}
	}
}

func TestBuildPriority_NeverSyncedIsDueNow(t *testing.T) {
	product := domain.TrackedProduct{Ref: "B00TEST001"}

	priority := BuildPriority(product, accessRecord(20, 30*time.Minute), scoreNow)

	assert.Equal(t, "B00TEST001", priority.ProductRef)
	assert.InDelta(t, 52, priority.PriorityScore, 1e-9)
	assert.Equal(t, domain.TierMedium, priority.ImportanceTier)
	assert.True(t, priority.LastSyncedAt.IsZero())
	assert.Equal(t, scoreNow, priority.PredictedNextUpdate)
	assert.True(t, Due(priority, scoreNow))
}

func TestBuildPriority_PredictsNextUpdateFromCadence(t *testing.T) {
	synced := scoreNow.Add(-10 * time.Minute)
	product := domain.TrackedProduct{Ref: "B00TEST001", LastSyncedAt: &synced}

	// Score = 0.9 + 30 + 15 = 45.9 -> medium tier, and freq = 9 keeps the
	// multiplier at exactly 1, so the cadence is the 60m base.
	priority := BuildPriority(product, accessRecord(9, 3*time.Hour), scoreNow)

	assert.Equal(t, domain.TierMedium, priority.ImportanceTier)
	assert.Equal(t, synced, priority.LastSyncedAt)
	assert.Equal(t, synced.Add(60*time.Minute), priority.PredictedNextUpdate)
	assert.False(t, Due(priority, scoreNow))
}

func TestDue(t *testing.T) {
	justSynced := scoreNow.Add(-time.Minute)
	longAgo := scoreNow.Add(-5 * time.Hour)

	tests := []struct {
		name     string
		priority domain.SyncPriority
		want     bool
	}{
		{
			name: "critical is always due",
			priority: domain.SyncPriority{
				ImportanceTier:   domain.TierCritical,
				SyncFrequencyMin: 5,
				LastSyncedAt:     justSynced,
			},
			want: true,
		},
		{
			name: "cadence not yet elapsed",
			priority: domain.SyncPriority{
				ImportanceTier:   domain.TierMedium,
				SyncFrequencyMin: 60,
				LastSyncedAt:     justSynced,
			},
			want: false,
		},
		{
			name: "cadence elapsed",
			priority: domain.SyncPriority{
				ImportanceTier:   domain.TierMedium,
				SyncFrequencyMin: 60,
				LastSyncedAt:     longAgo,
			},
			want: true,
		},
		{
			name: "never synced",
			priority: domain.SyncPriority{
				ImportanceTier:   domain.TierLow,
				SyncFrequencyMin: 240,
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Due(tt.priority, scoreNow))
		})
	}
}
