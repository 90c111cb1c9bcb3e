package scraper

import (
	"bytes"
	"context"
	"log"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"listing_tracker/workers"
)

// PageWalker follows the index's "next page" cursor one request at a time.
type PageWalker struct {
	fetcher     Fetcher
	parser      IndexParser
	delay       time.Duration
	maxListings int
	sleep       func(ctx context.Context, d time.Duration)
}

func NewPageWalker(fetcher Fetcher, parser IndexParser, delay time.Duration) *PageWalker {
	return &PageWalker{
		fetcher: fetcher,
		parser:  parser,
		delay:   delay,
		sleep:   workers.Sleep,
	}
}

// SetMaxListings stops the walk once at least n links are collected (0 = no cap).
func (w *PageWalker) SetMaxListings(n int) {
	w.maxListings = n
}

type StopReason string

const (
	StopExhausted  StopReason = "exhausted"   // no next cursor
	StopPageLimit  StopReason = "page_limit"  // maxPages reached
	StopListingCap StopReason = "listing_cap" // maxListings reached
	StopEmptyPage  StopReason = "empty_page"  // page had no listing links
	StopFailed     StopReason = "failed"      // fetch or parse failure
	StopCancelled  StopReason = "cancelled"
)

type WalkResult struct {
	URLs     []string
	Pages    int // pages successfully fetched and parsed
	Stopped  StopReason
	LastErr  error
	Duration time.Duration
}

// Walk starts a fresh walk at startURL and returns the listing URLs found,
// in page order. maxPages <= 0 means unbounded. Page failures end the walk
// early with the links gathered so far; they are never returned as errors.
func (w *PageWalker) Walk(ctx context.Context, startURL string, maxPages int) WalkResult {
	start := time.Now()
	res := WalkResult{}
	current := startURL

	for pageNum := 1; ; pageNum++ {
		if ctx.Err() != nil {
			res.Stopped = StopCancelled
			res.LastErr = ctx.Err()
			break
		}

		log.Printf("Fetching index page %d: %s", pageNum, current)
		links, next, err := w.fetchPage(ctx, current)
		if err != nil {
			log.Printf("Index page %d failed, stopping walk: %v", pageNum, err)
			res.Stopped = StopFailed
			res.LastErr = err
			break
		}

		res.Pages++
		if len(links) == 0 {
			log.Printf("No listings on page %d, stopping walk", pageNum)
			res.Stopped = StopEmptyPage
			break
		}

		res.URLs = append(res.URLs, links...)
		log.Printf("Page %d: %d listings (total: %d)", pageNum, len(links), len(res.URLs))

		if w.maxListings > 0 && len(res.URLs) >= w.maxListings {
			res.URLs = res.URLs[:w.maxListings]
			res.Stopped = StopListingCap
			break
		}
		if next == "" {
			res.Stopped = StopExhausted
			break
		}
		if maxPages > 0 && pageNum >= maxPages {
			log.Printf("Reached page limit of %d", maxPages)
			res.Stopped = StopPageLimit
			break
		}

		w.sleep(ctx, w.delay)
		current = next
	}

	res.Duration = time.Since(start)
	log.Printf("Walk finished (%s): %d listings from %d pages in %.2fs",
		res.Stopped, len(res.URLs), res.Pages, res.Duration.Seconds())
	return res
}

func (w *PageWalker) fetchPage(ctx context.Context, pageURL string) ([]string, string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", err
	}

	body, err := w.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}

	links, next := w.parser.ParseIndex(doc, base)
	return links, next, nil
}
