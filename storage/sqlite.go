package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"listing_tracker/models"
)

// SQLiteStore holds the listing set and the run history in one database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Location() string {
	return s.path
}

// listingColumnTypes must list every entry of listingColumns.
var listingColumnTypes = map[string]string{
	"id":            "TEXT PRIMARY KEY",
	"url":           "TEXT",
	"title":         "TEXT",
	"price":         "TEXT",
	"address":       "TEXT",
	"active":        "BOOLEAN",
	"firstSeen":     "TEXT",
	"lastUpdated":   "TEXT",
	"disappeared":   "TEXT",
	"surfaceArea":   "REAL",
	"roomCount":     "INTEGER",
	"bathroomCount": "INTEGER",
	"energyClass":   "TEXT",
	"tags":          "TEXT",
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		url TEXT,
		title TEXT,
		price TEXT,
		address TEXT,
		active BOOLEAN,
		firstSeen TEXT,
		lastUpdated TEXT,
		disappeared TEXT
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id TEXT PRIMARY KEY,
		site_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		pages_visited INTEGER DEFAULT 0,
		urls_found INTEGER DEFAULT 0,
		records_found INTEGER DEFAULT 0,
		listings_new INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		disappeared INTEGER DEFAULT 0,
		reactivated INTEGER DEFAULT 0,
		unmatchable INTEGER DEFAULT 0,
		total_listings INTEGER DEFAULT 0,
		export_url TEXT,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		site_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_site ON scrape_runs(site_id, started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addMissingColumns()
}

// addMissingColumns brings listings tables created by older versions up to
// the current column set. Rows gain NULLs, which Load backfills.
func (s *SQLiteStore) addMissingColumns() error {
	rows, err := s.db.Query(`PRAGMA table_info(listings)`)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range listingColumns {
		if existing[col] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE listings ADD COLUMN %s %s", col, listingColumnTypes[col])); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM listings", strings.Join(listingColumns, ", ")))
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	listings := make(map[string]models.Listing)
	values := make([]sql.NullString, len(listingColumns))
	dest := make([]any, len(listingColumns))
	for i := range values {
		dest[i] = &values[i]
	}
	index := make(map[string]int, len(listingColumns))
	for i, col := range listingColumns {
		index[col] = i
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.path, err)
		}
		l, err := decodeListing(func(col string) string {
			return values[index[col]].String
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.path, err)
		}
		listings[l.ID()] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read listings: %w", err)
	}
	return listings, nil
}

// Save replaces the listings table contents in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, listings map[string]models.Listing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM listings`); err != nil {
		return fmt.Errorf("clear listings: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(listingColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO listings (%s) VALUES (%s)",
		strings.Join(listingColumns, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, id := range sortedIDs(listings) {
		if _, err := stmt.ExecContext(ctx, listingArgs(listings[id])...); err != nil {
			return fmt.Errorf("insert listing %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// listingArgs follows listingColumns. Dates stay calendar strings.
func listingArgs(l models.Listing) []any {
	var tags any
	if len(l.Tags) > 0 {
		tags = joinTags(l.Tags)
	}
	return []any{
		l.ID(), l.URL, l.Title, l.Price, l.Address, l.Active,
		nullDate(l.FirstSeen), nullDate(l.LastUpdated), nullDate(l.Disappeared),
		l.SurfaceArea, l.RoomCount, l.BathroomCount, l.EnergyClass, tags,
	}
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return models.FormatDate(t)
}

// =============================================================================
// Run history
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_runs (id, site_id, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.SiteID, run.StartedAt, run.Status)
	return err
}

func (s *SQLiteStore) FinishRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET finished_at = ?, status = ?, pages_visited = ?, urls_found = ?,
			records_found = ?, listings_new = ?, updated = ?, disappeared = ?, reactivated = ?,
			unmatchable = ?, total_listings = ?, export_url = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.PagesVisited, run.URLsFound,
		run.RecordsFound, run.ListingsNew, run.Updated, run.Disappeared, run.Reactivated,
		run.Unmatchable, run.TotalListings, run.ExportURL, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) Log(runID string, level models.LogLevel, message, siteID string) error {
	_, err := s.db.Exec(`
		INSERT INTO run_logs (run_id, timestamp, level, message, site_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, siteID)
	return err
}

// RecentRuns returns the latest runs of a site, newest first. An empty
// siteID returns runs of every site.
func (s *SQLiteStore) RecentRuns(siteID string, limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, started_at, finished_at, status, pages_visited, urls_found,
			records_found, listings_new, updated, disappeared, reactivated, unmatchable,
			total_listings, COALESCE(export_url, ''), COALESCE(error_message, '')
		FROM scrape_runs WHERE (? = '' OR site_id = ?)
		ORDER BY started_at DESC LIMIT ?`, siteID, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var r models.ScrapeRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.SiteID, &r.StartedAt, &finished, &r.Status, &r.PagesVisited,
			&r.URLsFound, &r.RecordsFound, &r.ListingsNew, &r.Updated, &r.Disappeared, &r.Reactivated,
			&r.Unmatchable, &r.TotalListings, &r.ExportURL, &r.ErrorMessage); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunLogs returns the persisted log lines of one run in order.
func (s *SQLiteStore) RunLogs(runID string) ([]models.RunLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, site_id
		FROM run_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	return scanRunLogs(rows)
}

// RecentLogs returns the newest log lines across runs, optionally only
// those of one level.
func (s *SQLiteStore) RecentLogs(limit int, level models.LogLevel) ([]models.RunLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, site_id
		FROM run_logs WHERE (? = '' OR level = ?)
		ORDER BY id DESC LIMIT ?`, level, level, limit)
	if err != nil {
		return nil, err
	}
	return scanRunLogs(rows)
}

func scanRunLogs(rows *sql.Rows) ([]models.RunLog, error) {
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var l models.RunLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.SiteID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
