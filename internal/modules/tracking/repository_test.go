package tracking

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipwatch/engine/internal/domain"
	enginetest "github.com/flipwatch/engine/internal/testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := enginetest.NewTestDB(t, "catalog")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	product := domain.TrackedProduct{
		Ref:            "B00FLIP001",
		Title:          "Mechanical Keyboard",
		Category:       "electronics",
		SalesRank:      4321,
		ReviewCount:    870,
		OfferCountNew:  12,
		OfferCountUsed: 3,
		CurrentPrice:   12999,
	}
	require.NoError(t, repo.Upsert(product))

	got, err := repo.Get("B00FLIP001")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, product.Title, got.Title)
	assert.Equal(t, product.Category, got.Category)
	assert.Equal(t, product.SalesRank, got.SalesRank)
	assert.Equal(t, product.ReviewCount, got.ReviewCount)
	assert.Equal(t, product.OfferCountNew, got.OfferCountNew)
	assert.Equal(t, product.OfferCountUsed, got.OfferCountUsed)
	assert.Equal(t, product.CurrentPrice, got.CurrentPrice)
	assert.WithinDuration(t, time.Now().UTC(), got.CreatedAt, 5*time.Second)
	assert.Nil(t, got.LastSyncedAt)
}

func TestRepositoryGetMissing(t *testing.T) {
	repo := newTestRepository(t)

	got, err := repo.Get("B00MISSING")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepositoryUpsertPreservesCreatedAt(t *testing.T) {
	repo := newTestRepository(t)

	createdAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(domain.TrackedProduct{
		Ref:       "B00FLIP001",
		Title:     "Mechanical Keyboard",
		SalesRank: 5000,
		CreatedAt: createdAt,
	}))
	require.NoError(t, repo.Upsert(domain.TrackedProduct{
		Ref:       "B00FLIP001",
		Title:     "Mechanical Keyboard v2",
		SalesRank: 2000,
	}))

	got, err := repo.Get("B00FLIP001")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Mechanical Keyboard v2", got.Title)
	assert.Equal(t, 2000, got.SalesRank)
	assert.True(t, got.CreatedAt.Equal(createdAt), "created_at must not change on update")
}

func TestRepositoryTouchSynced(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Upsert(domain.TrackedProduct{Ref: "B00FLIP001"}))

	syncedAt := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, repo.TouchSynced("B00FLIP001", syncedAt))

	got, err := repo.Get("B00FLIP001")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(syncedAt))

	// Upserting fresh metadata keeps the sync stamp.
	require.NoError(t, repo.Upsert(domain.TrackedProduct{Ref: "B00FLIP001", SalesRank: 77}))
	got, err = repo.Get("B00FLIP001")
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(syncedAt))
}

func TestRepositoryListAndCount(t *testing.T) {
	repo := newTestRepository(t)

	for _, ref := range []string{"B00CCC0003", "B00AAA0001", "B00BBB0002"} {
		require.NoError(t, repo.Upsert(domain.TrackedProduct{Ref: ref}))
	}

	products, err := repo.List()
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, "B00AAA0001", products[0].Ref)
	assert.Equal(t, "B00BBB0002", products[1].Ref)
	assert.Equal(t, "B00CCC0003", products[2].Ref)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRepositoryRejectsInvalidRef(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Upsert(domain.TrackedProduct{Ref: "not a ref!"})
	assert.True(t, domain.IsValidationError(err))
}
