package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"listing_tracker/config"
	"listing_tracker/logging"
	"listing_tracker/models"
	"listing_tracker/services"
	"listing_tracker/storage"
	"listing_tracker/workers"
)

// ErrNothingProduced means the run found no listings at all. The store is
// left untouched so a broken index page cannot mark every listing gone.
var ErrNothingProduced = errors.New("run produced no listings")

// RunHistory persists run records and their log lines.
type RunHistory interface {
	CreateRun(run *models.ScrapeRun) error
	FinishRun(run *models.ScrapeRun) error
	Log(runID string, level models.LogLevel, message, siteID string) error
}

// Exporter delivers a snapshot export and returns where it ended up.
type Exporter interface {
	UploadFile(ctx context.Context, localPath, source string, now time.Time) (string, error)
}

// Options are the per-run knobs; OptionsFor fills them from configuration.
type Options struct {
	StartURL       string
	MaxPages       int // 0 = unbounded
	MaxListings    int // 0 = no cap
	MaxConcurrency int
}

func OptionsFor(cfg *config.Config, site *config.SiteConfig) Options {
	opts := Options{
		StartURL:       site.StartURL,
		MaxPages:       site.MaxPages,
		MaxListings:    site.MaxListings,
		MaxConcurrency: cfg.Scraper.MaxConcurrency,
	}
	if site.MaxConcurrency > 0 {
		opts.MaxConcurrency = site.MaxConcurrency
	}
	return opts
}

// RunResult gathers what each stage of a run reported.
type RunResult struct {
	Run       models.ScrapeRun
	Walk      WalkResult
	Fetch     workers.FetchStats
	Reconcile services.ReconcileStats
}

// Orchestrator runs walk, fetch, reconcile and persist for one site.
type Orchestrator struct {
	cfg       *config.Config
	site      *config.SiteConfig
	opts      Options
	fetcher   Fetcher
	extractor *SelectorExtractor
	store     storage.ListingStore
	history   RunHistory
	exporter  Exporter
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

func NewOrchestrator(cfg *config.Config, site *config.SiteConfig, fetcher Fetcher, store storage.ListingStore, opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		site:      site,
		opts:      opts,
		fetcher:   fetcher,
		extractor: NewSelectorExtractor(site.Selectors),
		store:     store,
		now:       time.Now,
		sleep:     workers.Sleep,
	}
}

// SetHistory enables run bookkeeping; without it runs are only logged.
func (o *Orchestrator) SetHistory(h RunHistory) {
	o.history = h
}

// SetExporter enables upload of snapshot exports; without it the local
// export path is reported instead.
func (o *Orchestrator) SetExporter(e Exporter) {
	o.exporter = e
}

// Run satisfies scheduler.Runner.
func (o *Orchestrator) Run(ctx context.Context) error {
	_, err := o.RunOnce(ctx)
	return err
}

// RunOnce performs one complete run. Errors from loading or saving the store
// are fatal and leave the previous store in place; ErrNothingProduced is
// returned when neither the walk nor the fetch yielded anything.
func (o *Orchestrator) RunOnce(ctx context.Context) (res *RunResult, err error) {
	started := o.now()
	res = &RunResult{Run: models.ScrapeRun{
		ID:        uuid.NewString(),
		SiteID:    o.site.ID,
		StartedAt: started,
		Status:    models.RunStatusRunning,
	}}
	run := &res.Run

	if o.history != nil {
		if herr := o.history.CreateRun(run); herr != nil {
			logging.Warnf("failed to record run start: %v", herr)
		}
	}
	o.log(run, models.LogLevelInfo, fmt.Sprintf("Starting run %s at %s", run.ID, o.opts.StartURL))

	defer func() {
		finished := o.now()
		run.FinishedAt = &finished
		switch {
		case err == nil:
			run.Status = models.RunStatusCompleted
		case errors.Is(err, ErrNothingProduced):
			run.Status = models.RunStatusEmpty
		default:
			run.Status = models.RunStatusFailed
			run.ErrorMessage = err.Error()
			o.log(run, models.LogLevelError, fmt.Sprintf("Run failed: %v", err))
		}
		if o.history != nil {
			if herr := o.history.FinishRun(run); herr != nil {
				logging.Warnf("failed to record run finish: %v", herr)
			}
		}
	}()

	listings, err := o.store.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("load store %s: %w", o.store.Location(), err)
	}
	o.log(run, models.LogLevelInfo, fmt.Sprintf("Loaded %d stored listings from %s", len(listings), o.store.Location()))

	walker := NewPageWalker(o.fetcher, o.extractor, o.site.PageDelay(o.cfg.Scraper.PageDelay))
	walker.sleep = o.sleep
	walker.SetMaxListings(o.opts.MaxListings)
	res.Walk = walker.Walk(ctx, o.opts.StartURL, o.opts.MaxPages)
	run.PagesVisited = res.Walk.Pages
	run.URLsFound = len(res.Walk.URLs)
	o.log(run, models.LogLevelInfo, fmt.Sprintf("Walk %s: %d listing URLs from %d pages in %.2fs",
		res.Walk.Stopped, run.URLsFound, run.PagesVisited, res.Walk.Duration.Seconds()))
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if len(res.Walk.URLs) == 0 {
		return res, o.nothingProduced(run, "walk found no listing URLs")
	}

	pool := workers.NewFetchPool(o.fetcher, o.extractor, workers.FetchPoolConfig{
		MaxConcurrency: o.opts.MaxConcurrency,
		BlockSize:      o.cfg.Scraper.BlockSize,
		BlockPause:     o.cfg.Scraper.BlockPause,
	})
	pool.SetLogger(func(level models.LogLevel, message string) {
		o.log(run, level, message)
	})
	records, fetchStats := pool.FetchAll(ctx, res.Walk.URLs)
	res.Fetch = fetchStats
	run.RecordsFound = len(records)
	o.log(run, models.LogLevelInfo, fmt.Sprintf("Fetched %d/%d detail pages in %.2fs (%d failed)",
		fetchStats.Fetched, fetchStats.Requested, fetchStats.Duration.Seconds(), fetchStats.Failed))
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if len(records) == 0 {
		return res, o.nothingProduced(run, "no detail page could be extracted")
	}

	today := o.now()
	updated, stats := services.Reconcile(listings, records, today)
	res.Reconcile = stats
	run.ListingsNew = stats.New
	run.Updated = stats.Updated
	run.Disappeared = stats.Disappeared
	run.Reactivated = stats.Reactivated
	run.Unmatchable = stats.Unmatchable
	run.TotalListings = stats.Total
	o.log(run, models.LogLevelInfo, fmt.Sprintf("Reconciled: %s", stats.ToJSON()))

	if err := o.store.Save(ctx, updated); err != nil {
		return res, fmt.Errorf("save store %s: %w", o.store.Location(), err)
	}

	run.ExportURL = o.export(ctx, run, records, today)

	err = storage.WriteRunInfo(o.cfg.RunInfoPath, storage.RunInfo{
		StorePath:     o.store.Location(),
		ExportURL:     run.ExportURL,
		ListingsCount: len(updated),
		SnapshotCount: len(records),
		RunID:         run.ID,
		Timestamp:     today,
	})
	if err != nil {
		return res, fmt.Errorf("write run info: %w", err)
	}

	o.logFinalStats(run, updated, o.now().Sub(started))
	return res, nil
}

func (o *Orchestrator) nothingProduced(run *models.ScrapeRun, reason string) error {
	o.log(run, models.LogLevelWarn, fmt.Sprintf("Nothing produced (%s), store left unchanged", reason))
	run.ExportURL = storage.EmptyExport
	err := storage.WriteRunInfo(o.cfg.RunInfoPath, storage.RunInfo{
		StorePath: o.store.Location(),
		ExportURL: storage.EmptyExport,
		RunID:     run.ID,
		Timestamp: o.now(),
	})
	if err != nil {
		logging.Errorf("write run info: %v", err)
	}
	return ErrNothingProduced
}

// export writes the raw snapshot and uploads it when an exporter is set.
// Export problems are not fatal: the store is already saved.
func (o *Orchestrator) export(ctx context.Context, run *models.ScrapeRun, records []models.Record, now time.Time) string {
	path, err := storage.WriteSnapshotCSV(o.cfg.Export.Dir, o.site.ID, records, now)
	if err != nil {
		o.log(run, models.LogLevelWarn, fmt.Sprintf("Snapshot export failed: %v", err))
		return ""
	}
	if o.exporter == nil {
		o.log(run, models.LogLevelInfo, fmt.Sprintf("Snapshot exported to %s", path))
		return path
	}

	source := o.site.BaseURL
	if source == "" {
		source = o.site.ID
	}
	url, err := o.exporter.UploadFile(ctx, path, source, now)
	if err != nil {
		o.log(run, models.LogLevelWarn, fmt.Sprintf("Snapshot upload failed, keeping %s: %v", path, err))
		return path
	}
	if err := os.Remove(path); err != nil {
		logging.Warnf("remove local export %s: %v", path, err)
	}
	o.log(run, models.LogLevelInfo, fmt.Sprintf("Snapshot uploaded to %s", url))
	return url
}

func (o *Orchestrator) logFinalStats(run *models.ScrapeRun, listings map[string]models.Listing, elapsed time.Duration) {
	var active, withPrice, withSurface, withRooms int
	for _, l := range listings {
		if l.Active {
			active++
		}
		if l.Price != nil {
			withPrice++
		}
		if l.SurfaceArea != nil {
			withSurface++
		}
		if l.RoomCount != nil {
			withRooms++
		}
	}
	o.log(run, models.LogLevelInfo, fmt.Sprintf(
		"Completed in %.2fs: %d listings (%d active), %d with price, %d with surface, %d with rooms",
		elapsed.Seconds(), len(listings), active, withPrice, withSurface, withRooms))
}

func (o *Orchestrator) log(run *models.ScrapeRun, level models.LogLevel, message string) {
	switch level {
	case models.LogLevelError:
		logging.Errorf("%s: %s", o.site.ID, message)
	case models.LogLevelWarn:
		logging.Warnf("%s: %s", o.site.ID, message)
	default:
		logging.Infof("%s: %s", o.site.ID, message)
	}
	if o.history != nil {
		o.history.Log(run.ID, level, message, o.site.ID)
	}
}
