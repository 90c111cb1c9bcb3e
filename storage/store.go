package storage

import (
	"context"
	"errors"
	"fmt"

	"listing_tracker/config"
	"listing_tracker/models"
)

// ErrCorruptStore marks a prior store that exists but cannot be read back.
// A run must stop rather than overwrite it.
var ErrCorruptStore = errors.New("corrupt listing store")

// ListingStore persists the whole listing set between runs. Load of a store
// that was never written returns an empty map. Save replaces the stored set
// atomically; on error the previous contents are left in place.
type ListingStore interface {
	Load(ctx context.Context) (map[string]models.Listing, error)
	Save(ctx context.Context, listings map[string]models.Listing) error
	Location() string
	Close() error
}

// Open returns the listing store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (ListingStore, error) {
	switch cfg.Backend {
	case "", "csv":
		return NewCSVStore(cfg.Path), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("open postgres store: DATABASE_URL is not set")
		}
		return NewPostgresStore(ctx, cfg.DBURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
