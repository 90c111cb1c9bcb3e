package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"listing_tracker/models"
)

// PostgresStore keeps the listing set in a single table; Save swaps its
// contents inside one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	dsn  string
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool, dsn: redactDSN(config.ConnConfig)}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Location() string {
	return s.dsn
}

func redactDSN(cc *pgx.ConnConfig) string {
	return fmt.Sprintf("postgres://%s:%d/%s#listings", cc.Host, cc.Port, cc.Database)
}

var pgColumnTypes = []struct{ name, typ string }{
	{"surface_area", "DOUBLE PRECISION"},
	{"room_count", "INTEGER"},
	{"bathroom_count", "INTEGER"},
	{"energy_class", "TEXT"},
	{"tags", "TEXT[]"},
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL DEFAULT '',
			title TEXT,
			price TEXT,
			address TEXT,
			active BOOLEAN,
			first_seen DATE,
			last_updated DATE,
			disappeared DATE
		)`)
	if err != nil {
		return err
	}
	for _, col := range pgColumnTypes {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(
			"ALTER TABLE listings ADD COLUMN IF NOT EXISTS %s %s", col.name, col.typ)); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

var pgListingColumns = []string{
	"id", "url", "title", "price", "address", "active",
	"first_seen", "last_updated", "disappeared",
	"surface_area", "room_count", "bathroom_count", "energy_class", "tags",
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]models.Listing, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM listings", strings.Join(pgListingColumns, ", ")))
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	listings := make(map[string]models.Listing)
	for rows.Next() {
		var (
			l      models.Listing
			id     string
			active *bool
		)
		err := rows.Scan(&id, &l.URL, &l.Title, &l.Price, &l.Address, &active,
			&l.FirstSeen, &l.LastUpdated, &l.Disappeared,
			&l.SurfaceArea, &l.RoomCount, &l.BathroomCount, &l.EnergyClass, &l.Tags)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.dsn, err)
		}
		l.Record.ID = &id
		if active == nil {
			l.Active = l.Disappeared == nil
		} else {
			l.Active = *active
		}
		listings[id] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read listings: %w", err)
	}
	return listings, nil
}

// Save truncates and bulk-copies the set in one transaction.
func (s *PostgresStore) Save(ctx context.Context, listings map[string]models.Listing) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM listings`); err != nil {
		return fmt.Errorf("clear listings: %w", err)
	}

	ids := sortedIDs(listings)
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"listings"}, pgListingColumns,
		pgx.CopyFromSlice(len(ids), func(i int) ([]any, error) {
			l := listings[ids[i]]
			return []any{
				l.ID(), l.URL, l.Title, l.Price, l.Address, l.Active,
				l.FirstSeen, l.LastUpdated, l.Disappeared,
				l.SurfaceArea, l.RoomCount, l.BathroomCount, l.EnergyClass, l.Tags,
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy listings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
