package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"listing_tracker/config"
	"listing_tracker/httputil"
	"listing_tracker/logging"
	"listing_tracker/monitor"
	"listing_tracker/scheduler"
	"listing_tracker/scraper"
	"listing_tracker/storage"
)

// exitNothingProduced tells a calling pipeline the run found no listings.
const exitNothingProduced = 2

var (
	scrapeNow   = flag.Bool("scrape", false, "With -daemon, also run once at startup")
	daemon      = flag.Bool("daemon", false, "Run on SCRAPE_CRON or SCRAPE_INTERVAL until interrupted")
	siteID      = flag.String("site", "", "Site config to use (optional with a single site)")
	startURL    = flag.String("start-url", "", "Override the site's first index page")
	maxPages    = flag.Int("max-pages", -1, "Index pages to walk, 0 = unbounded (default: site config)")
	maxListings = flag.Int("max-listings", -1, "Stop collecting after this many listings, 0 = no cap (default: site config)")
	concurrency = flag.Int("concurrency", 0, "Max concurrent detail fetches (default: site config or MAX_CONCURRENCY)")
	storePath   = flag.String("store", "", "Listing store path (default: STORE_PATH)")
	monitorMode = flag.Bool("monitor", false, "Open the terminal dashboard over run history and the listing store")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *monitorMode {
		os.Exit(runMonitor(cfg))
	}
	os.Exit(run(cfg))
}

// runMonitor keeps stdout for the dashboard, so it skips file logging setup.
func runMonitor(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	history, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Printf("Failed to open run history %s: %v", cfg.DBPath, err)
		return 1
	}
	defer history.Close()

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		log.Printf("Failed to open listing store: %v", err)
		return 1
	}
	defer store.Close()

	if err := monitor.Run(ctx, monitor.NewSource(history, store), cfg.LogPath); err != nil {
		log.Printf("Monitor exited: %v", err)
		return 1
	}
	return 0
}

func run(cfg *config.Config) int {
	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}
	logging.SetLevel(cfg.LogLevel)

	log.Println("Starting listing_tracker...")
	log.Printf("Loaded %d site configs", len(cfg.Sites))

	site, err := cfg.Site(*siteID)
	if err != nil {
		log.Printf("Failed to select site: %v", err)
		return 1
	}

	opts := scraper.OptionsFor(cfg, site)
	if *startURL != "" {
		opts.StartURL = *startURL
	}
	if *maxPages >= 0 {
		opts.MaxPages = *maxPages
	}
	if *maxListings >= 0 {
		opts.MaxListings = *maxListings
	}
	if *concurrency > 0 {
		opts.MaxConcurrency = *concurrency
	}
	log.Printf("Site %s (%s): start %s, max pages %d, concurrency %d",
		site.ID, site.Name, opts.StartURL, opts.MaxPages, opts.MaxConcurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients := httputil.NewClients(cfg)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	var fetcher scraper.Fetcher
	switch site.Fetcher {
	case "browser":
		bf := scraper.NewBrowserFetcher(cfg.Scraper.UserAgent, cfg.Scraper.RequestTimeout)
		defer bf.Close()
		fetcher = bf
	default:
		fetcher = scraper.NewHTTPFetcher(clients.Scraping, cfg.Scraper.RequestTimeout)
	}

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		log.Printf("Failed to open listing store: %v", err)
		return 1
	}
	defer store.Close()
	if cfg.Store.Backend == "postgres" {
		log.Printf("Listing store: %s", maskConnectionString(cfg.Store.DBURL))
	} else {
		log.Printf("Listing store (%s): %s", cfg.Store.Backend, store.Location())
	}

	orchestrator := scraper.NewOrchestrator(cfg, site, fetcher, store, opts)

	history, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Printf("Warning: run history disabled, could not open %s: %v", cfg.DBPath, err)
	} else {
		defer history.Close()
		orchestrator.SetHistory(history)
	}

	if cfg.Export.Bucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, cfg.Export, clients.API)
		if err != nil {
			log.Printf("Warning: export upload disabled: %v", err)
		} else {
			orchestrator.SetExporter(uploader)
			log.Printf("Exports go to bucket %s under %s/", cfg.Export.Bucket, cfg.Export.Prefix)
		}
	}

	if !*daemon {
		return exitCode(orchestrator.Run(ctx))
	}

	sched := scheduler.New(cfg.Scheduler, orchestrator)
	if *scrapeNow {
		if err := sched.TriggerNow(ctx); err != nil && !errors.Is(err, scraper.ErrNothingProduced) {
			log.Printf("Startup run failed: %v", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		log.Printf("Failed to start scheduler: %v", err)
		return 1
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
	return 0
}

func exitCode(err error) int {
	switch {
	case err == nil:
		log.Println("Run complete!")
		return 0
	case errors.Is(err, scraper.ErrNothingProduced):
		log.Printf("Run produced nothing: %v", err)
		return exitNothingProduced
	default:
		log.Printf("Run failed: %v", err)
		return 1
	}
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
