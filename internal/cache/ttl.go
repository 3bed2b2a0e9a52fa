package cache

import "time"

// TTL constants for cached data types. Analysis results synced via the
// priority scheduler use per-tier TTLs computed there instead of these
// defaults.
const (
	// Short-lived data (changes frequently)
	TTLCurrentPrice = 5 * time.Minute // Live price mirror used by alert evaluation

	// Derived analytics (recomputed on demand)
	TTLAnalysis = 30 * time.Minute // Default when a product has no sync tier yet

	// Upstream mirrors
	TTLSeries          = time.Hour      // Price-series freshness window
	TTLProductMetadata = 12 * time.Hour // Catalog metadata enrichment

	// AccessStatsRetention bounds how long idle access records survive.
	AccessStatsRetention = 30 * 24 * time.Hour

	// StaleRetention keeps envelope entries readable after their freshness
	// window lapses, for fallback reads during provider outages.
	StaleRetention = 7 * 24 * time.Hour
)
