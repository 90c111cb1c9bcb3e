package workers

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/PuerkitoBio/goquery"
	"listing_tracker/identity"
	"listing_tracker/models"
)

const progressEvery = 50

// Fetcher downloads a page body; any non-success status is an error.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// Extractor turns a parsed detail page into a Record.
type Extractor interface {
	Extract(doc *goquery.Document, pageURL string) (*models.Record, error)
}

// FetchPool fetches detail pages with at most MaxConcurrency requests in
// flight and extracts one Record per successful page.
type FetchPool struct {
	fetcher        Fetcher
	extractor      Extractor
	maxConcurrency int
	blockSize      int
	blockPause     time.Duration
	logFunc        LogFunc
}

type FetchPoolConfig struct {
	MaxConcurrency int
	BlockSize      int           // completions between pauses, 0 disables
	BlockPause     time.Duration // pause before admitting more work
}

func NewFetchPool(fetcher Fetcher, extractor Extractor, cfg FetchPoolConfig) *FetchPool {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	return &FetchPool{
		fetcher:        fetcher,
		extractor:      extractor,
		maxConcurrency: cfg.MaxConcurrency,
		blockSize:      cfg.BlockSize,
		blockPause:     cfg.BlockPause,
		logFunc:        NoOpLogger,
	}
}

func (p *FetchPool) SetLogger(fn LogFunc) {
	p.logFunc = fn
}

// FetchResult is what one worker hands back to the collector.
type FetchResult struct {
	URL    string
	Record *models.Record
	Err    error

	admitted bool
}

// FetchStats summarises a FetchAll call.
type FetchStats struct {
	Requested int
	Fetched   int
	Failed    int
	Duration  time.Duration
}

// FetchAll fetches every distinct URL and returns the extracted records in
// completion order. Failed URLs are dropped, never retried.
func (p *FetchPool) FetchAll(ctx context.Context, urls []string) ([]models.Record, FetchStats) {
	start := time.Now()
	unique := dedupe(urls)
	stats := FetchStats{Requested: len(unique)}
	if len(unique) == 0 {
		return nil, stats
	}

	gate := NewGate(p.maxConcurrency)
	log.Printf("Fetching %d listings (max %d in flight)", len(unique), gate.Slots())

	results := make(chan FetchResult, len(unique))

	go func() {
		for _, u := range unique {
			if err := gate.Admit(ctx); err != nil {
				results <- FetchResult{URL: u, Err: err}
				continue
			}
			go func(u string) {
				results <- p.fetchOne(ctx, u)
			}(u)
		}
	}()

	records := make([]models.Record, 0, len(unique))
	for completed := 1; completed <= len(unique); completed++ {
		res := <-results

		if res.Err != nil {
			stats.Failed++
			p.logFunc(models.LogLevelWarn, fmt.Sprintf("fetch %s: %v", res.URL, res.Err))
		} else {
			stats.Fetched++
			records = append(records, *res.Record)
		}

		if completed%progressEvery == 0 {
			log.Printf("Completed %d/%d fetches (%d records)", completed, len(unique), stats.Fetched)
		}

		// Pausing before handing the slot back holds further admissions.
		if p.blockSize > 0 && completed%p.blockSize == 0 && completed < len(unique) {
			Sleep(ctx, p.blockPause)
		}
		if res.admitted {
			gate.Release()
		}
	}

	stats.Duration = time.Since(start)
	log.Printf("Fetched %d/%d listings in %.2fs", stats.Fetched, stats.Requested, stats.Duration.Seconds())
	return records, stats
}

func (p *FetchPool) fetchOne(ctx context.Context, pageURL string) (res FetchResult) {
	res = FetchResult{URL: pageURL, admitted: true}

	// The extractor is a collaborator; a panic in it only costs this record.
	defer func() {
		if r := recover(); r != nil {
			res.Record = nil
			res.Err = fmt.Errorf("extract panic: %v", r)
		}
	}()

	body, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		res.Err = err
		return res
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		res.Err = fmt.Errorf("parse html: %w", err)
		return res
	}

	record, err := p.extractor.Extract(doc, pageURL)
	if err != nil {
		res.Err = fmt.Errorf("extract: %w", err)
		return res
	}
	if record == nil {
		res.Err = fmt.Errorf("extract: no record")
		return res
	}
	res.Record = record
	return res
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = identity.CanonicalURL(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
