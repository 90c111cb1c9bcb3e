package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"listing_tracker/models"
)

type httpFetcher struct {
	client *http.Client
}

func (f httpFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type codeExtractor struct{}

func (codeExtractor) Extract(doc *goquery.Document, pageURL string) (*models.Record, error) {
	code := strings.TrimSpace(doc.Find("#code").Text())
	if code == "panic" {
		panic("unexpected layout")
	}
	if code == "" {
		return nil, errors.New("no code")
	}
	return &models.Record{ID: models.Text(code), URL: pageURL}, nil
}

type detailServer struct {
	*httptest.Server
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	mu          sync.Mutex
	hits        map[string]int
}

func newDetailServer(t *testing.T, delay time.Duration) *detailServer {
	ds := &detailServer{hits: make(map[string]int)}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ds.inFlight.Add(1)
		defer ds.inFlight.Add(-1)
		for {
			max := ds.maxInFlight.Load()
			if n <= max || ds.maxInFlight.CompareAndSwap(max, n) {
				break
			}
		}

		ds.mu.Lock()
		ds.hits[r.URL.Path]++
		ds.mu.Unlock()

		time.Sleep(delay)

		switch {
		case strings.HasPrefix(r.URL.Path, "/fail/"):
			w.WriteHeader(http.StatusInternalServerError)
		case strings.HasPrefix(r.URL.Path, "/blank/"):
			fmt.Fprint(w, `<html><body><p>nothing here</p></body></html>`)
		case strings.HasPrefix(r.URL.Path, "/panic/"):
			fmt.Fprint(w, `<html><body><span id="code">panic</span></body></html>`)
		default:
			fmt.Fprintf(w, `<html><body><span id="code">%s</span></body></html>`, strings.TrimPrefix(r.URL.Path, "/ok/"))
		}
	}))
	t.Cleanup(ds.Close)
	return ds
}

func TestFetchAll_DropsFailures(t *testing.T) {
	srv := newDetailServer(t, 0)

	var urls []string
	for i := 0; i < 7; i++ {
		urls = append(urls, fmt.Sprintf("%s/ok/%d", srv.URL, i))
	}
	urls = append(urls, srv.URL+"/fail/1", srv.URL+"/fail/2", srv.URL+"/blank/1", srv.URL+"/panic/1")

	pool := NewFetchPool(httpFetcher{client: srv.Client()}, codeExtractor{}, FetchPoolConfig{MaxConcurrency: 3})
	records, stats := pool.FetchAll(context.Background(), urls)

	if len(records) != 7 {
		t.Fatalf("expected 7 records, got %d", len(records))
	}
	if stats.Failed != 4 || stats.Fetched != 7 || stats.Requested != 11 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	seen := make(map[string]bool)
	for _, r := range records {
		id, ok := r.Key()
		if !ok {
			t.Fatalf("record without id: %+v", r)
		}
		seen[id] = true
	}
	for i := 0; i < 7; i++ {
		if !seen[fmt.Sprint(i)] {
			t.Fatalf("missing record %d", i)
		}
	}
}

func TestFetchAll_BoundsConcurrency(t *testing.T) {
	srv := newDetailServer(t, 20*time.Millisecond)

	var urls []string
	for i := 0; i < 20; i++ {
		urls = append(urls, fmt.Sprintf("%s/ok/%d", srv.URL, i))
	}

	pool := NewFetchPool(httpFetcher{client: srv.Client()}, codeExtractor{}, FetchPoolConfig{MaxConcurrency: 4})
	records, _ := pool.FetchAll(context.Background(), urls)

	if len(records) != 20 {
		t.Fatalf("expected 20 records, got %d", len(records))
	}
	if max := srv.maxInFlight.Load(); max > 4 {
		t.Fatalf("expected at most 4 requests in flight, saw %d", max)
	}
}

func TestFetchAll_DeduplicatesURLs(t *testing.T) {
	srv := newDetailServer(t, 0)

	urls := []string{
		srv.URL + "/ok/1",
		srv.URL + "/ok/1",
		srv.URL + "/ok/1#photos",
		srv.URL + "/ok/2",
	}

	pool := NewFetchPool(httpFetcher{client: srv.Client()}, codeExtractor{}, FetchPoolConfig{MaxConcurrency: 2})
	records, stats := pool.FetchAll(context.Background(), urls)

	if len(records) != 2 || stats.Requested != 2 {
		t.Fatalf("expected 2 unique fetches, got %d records / %d requested", len(records), stats.Requested)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.hits["/ok/1"] != 1 {
		t.Fatalf("expected /ok/1 fetched once, got %d", srv.hits["/ok/1"])
	}
}

func TestFetchAll_PausesBetweenBlocks(t *testing.T) {
	srv := newDetailServer(t, 0)

	var urls []string
	for i := 0; i < 6; i++ {
		urls = append(urls, fmt.Sprintf("%s/ok/%d", srv.URL, i))
	}

	pool := NewFetchPool(httpFetcher{client: srv.Client()}, codeExtractor{}, FetchPoolConfig{
		MaxConcurrency: 1,
		BlockSize:      2,
		BlockPause:     50 * time.Millisecond,
	})

	start := time.Now()
	records, _ := pool.FetchAll(context.Background(), urls)
	elapsed := time.Since(start)

	if len(records) != 6 {
		t.Fatalf("expected 6 records, got %d", len(records))
	}
	// pauses after the 2nd and 4th completion, none after the last block
	if elapsed < 100*time.Millisecond {
		t.Fatalf("expected at least two block pauses, took %v", elapsed)
	}
}

func TestFetchAll_Empty(t *testing.T) {
	pool := NewFetchPool(httpFetcher{client: http.DefaultClient}, codeExtractor{}, FetchPoolConfig{MaxConcurrency: 2})
	records, stats := pool.FetchAll(context.Background(), nil)
	if len(records) != 0 || stats.Requested != 0 {
		t.Fatalf("expected nothing, got %d records", len(records))
	}
}

func TestFetchAll_CancelledContext(t *testing.T) {
	srv := newDetailServer(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewFetchPool(httpFetcher{client: srv.Client()}, codeExtractor{}, FetchPoolConfig{MaxConcurrency: 2})
	records, stats := pool.FetchAll(ctx, []string{srv.URL + "/ok/1", srv.URL + "/ok/2", srv.URL + "/ok/3"})

	if len(records) != 0 {
		t.Fatalf("expected no records after cancellation, got %d", len(records))
	}
	if stats.Failed != 3 {
		t.Fatalf("expected 3 failures, got %+v", stats)
	}
}

func TestGate_BlocksAtCapacity(t *testing.T) {
	gate := NewGate(1)
	if err := gate.Admit(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.Admit(ctx); err == nil {
		t.Fatal("expected second admission to block until timeout")
	}

	gate.Release()
	if err := gate.Admit(context.Background()); err != nil {
		t.Fatalf("admission after release failed: %v", err)
	}
}

func TestGate_AtLeastOneSlot(t *testing.T) {
	if got := NewGate(0).Slots(); got != 1 {
		t.Fatalf("expected 1 slot for a zero limit, got %d", got)
	}
	if got := NewGate(4).Slots(); got != 4 {
		t.Fatalf("expected 4 slots, got %d", got)
	}
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	Sleep(ctx, time.Minute)
	if time.Since(start) > time.Second {
		t.Fatal("Sleep ignored a cancelled context")
	}
}
