package monitor

import (
	"context"

	"listing_tracker/models"
	"listing_tracker/storage"
)

// Source is everything the monitor reads. It never writes.
type Source interface {
	RecentRuns(siteID string, limit int) ([]models.ScrapeRun, error)
	RecentLogs(limit int, level models.LogLevel) ([]models.RunLog, error)
	Listings(ctx context.Context) (map[string]models.Listing, error)
}

type storeSource struct {
	*storage.SQLiteStore
	listings storage.ListingStore
}

// NewSource reads run history from the history database and listings from
// whichever store the tracker is configured with.
func NewSource(history *storage.SQLiteStore, listings storage.ListingStore) Source {
	return storeSource{SQLiteStore: history, listings: listings}
}

func (s storeSource) Listings(ctx context.Context) (map[string]models.Listing, error) {
	return s.listings.Load(ctx)
}
