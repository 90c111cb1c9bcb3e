package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"listing_tracker/config"
)

func TestScrapingClient_SetsIdentifyingHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
	}))
	defer srv.Close()

	cfg := &config.Config{Scraper: config.ScraperConfig{
		UserAgent:      "tracker-test/1.0",
		RequestTimeout: 5 * time.Second,
		MaxConcurrency: 2,
	}}
	clients := NewClients(cfg)

	resp, err := clients.Scraping.Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if gotUA != "tracker-test/1.0" {
		t.Fatalf("unexpected user agent %q", gotUA)
	}
	if gotAccept == "" {
		t.Fatal("expected Accept header")
	}
	if clients.Scraping.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout %v", clients.Scraping.Timeout)
	}
}
