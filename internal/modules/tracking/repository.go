// Package tracking maintains the local catalog of tracked products: the
// read-model the sync scheduler and comparison endpoints work from. The
// catalog is enriched during sync cycles; the upstream provider stays the
// source of truth for market data.
package tracking

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/domain"
)

// Repository handles catalog database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new catalog repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "tracking").Logger(),
	}
}

const productColumns = `ref, title, category, sales_rank, review_count,
	offer_count_new, offer_count_used, current_price, created_at, last_synced_at`

// Get returns one tracked product, or (nil, nil) when the product is not
// in the catalog.
func (r *Repository) Get(productRef string) (*domain.TrackedProduct, error) {
	rows, err := r.db.Query(`SELECT `+productColumns+` FROM products WHERE ref = ?`, productRef)
	if err != nil {
		return nil, fmt.Errorf("failed to query product %s: %w", productRef, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read product %s: %w", productRef, err)
		}
		return nil, nil
	}

	product, err := scanProduct(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan product %s: %w", productRef, err)
	}
	return &product, nil
}

// Upsert inserts or updates a product's catalog metadata. created_at and
// last_synced_at are never overwritten here; TouchSynced owns the sync
// stamp.
func (r *Repository) Upsert(product domain.TrackedProduct) error {
	if err := domain.ValidateProductRef(product.Ref); err != nil {
		return err
	}

	createdAt := product.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO products (ref, title, category, sales_rank, review_count,
			offer_count_new, offer_count_used, current_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			sales_rank = excluded.sales_rank,
			review_count = excluded.review_count,
			offer_count_new = excluded.offer_count_new,
			offer_count_used = excluded.offer_count_used,
			current_price = excluded.current_price`,
		product.Ref, product.Title, product.Category, product.SalesRank,
		product.ReviewCount, product.OfferCountNew, product.OfferCountUsed,
		int64(product.CurrentPrice), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", product.Ref, err)
	}
	return nil
}

// List returns every tracked product, ordered by ref.
func (r *Repository) List() ([]domain.TrackedProduct, error) {
	rows, err := r.db.Query(`SELECT ` + productColumns + ` FROM products ORDER BY ref`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []domain.TrackedProduct
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return products, nil
}

// Count returns the number of tracked products.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

// TouchSynced stamps the product's last successful sync time.
func (r *Repository) TouchSynced(productRef string, syncedAt time.Time) error {
	_, err := r.db.Exec(`UPDATE products SET last_synced_at = ? WHERE ref = ?`,
		formatTime(syncedAt), productRef)
	if err != nil {
		return fmt.Errorf("failed to stamp sync time for %s: %w", productRef, err)
	}
	return nil
}

// timeLayout is RFC3339 with fixed-width nanoseconds so stored timestamps
// sort lexicographically. Parsing still goes through time.RFC3339Nano.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func scanProduct(rows *sql.Rows) (domain.TrackedProduct, error) {
	var (
		product      domain.TrackedProduct
		currentPrice int64
		createdAt    string
		lastSynced   sql.NullString
	)
	if err := rows.Scan(&product.Ref, &product.Title, &product.Category,
		&product.SalesRank, &product.ReviewCount, &product.OfferCountNew,
		&product.OfferCountUsed, &currentPrice, &createdAt, &lastSynced); err != nil {
		return domain.TrackedProduct{}, err
	}

	product.CurrentPrice = domain.Money(currentPrice)

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return domain.TrackedProduct{}, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	product.CreatedAt = created

	if lastSynced.Valid {
		synced, err := time.Parse(time.RFC3339Nano, lastSynced.String)
		if err != nil {
			return domain.TrackedProduct{}, fmt.Errorf("bad last_synced_at %q: %w", lastSynced.String, err)
		}
		product.LastSyncedAt = &synced
	}
	return product, nil
}
