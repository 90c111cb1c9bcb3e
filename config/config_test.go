package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSiteConfigs(t *testing.T) {
	dir := t.TempDir()
	site := `
id: example
name: Example
start_url: https://example.com/list
max_pages: 3
page_delay_ms: 100
selectors:
  listing_link: a.card
  next_page: a.next
  labels:
    id: Code
`
	if err := os.WriteFile(filepath.Join(dir, "example.yaml"), []byte(site), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{Sites: make(map[string]*SiteConfig)}
	if err := cfg.loadSiteConfigs(dir); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Sites) != 1 {
		t.Fatalf("expected 1 site, got %d", len(cfg.Sites))
	}

	got, err := cfg.Site("")
	if err != nil {
		t.Fatalf("site lookup failed: %v", err)
	}
	if got.MaxPages != 3 {
		t.Fatalf("expected max_pages 3, got %d", got.MaxPages)
	}
	if got.Selectors.Labels.ID != "Code" {
		t.Fatalf("unexpected id label %q", got.Selectors.Labels.ID)
	}
	if got.PageDelay(time.Second) != 100*time.Millisecond {
		t.Fatalf("unexpected page delay %v", got.PageDelay(time.Second))
	}
}

func TestLoadSiteConfigs_MissingDir(t *testing.T) {
	cfg := &Config{Sites: make(map[string]*SiteConfig)}
	if err := cfg.loadSiteConfigs(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("missing dir should not fail: %v", err)
	}
}

func TestValidate_RejectsUnknownFetcher(t *testing.T) {
	site := &SiteConfig{
		ID:        "x",
		StartURL:  "https://example.com",
		Fetcher:   "carrier-pigeon",
		Selectors: Selectors{ListingLink: "a"},
	}
	if err := site.Validate(); err == nil {
		t.Fatal("expected error for unknown fetcher")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DELAY", "750ms")
	if d := getEnvDuration("TEST_DELAY", time.Second); d != 750*time.Millisecond {
		t.Fatalf("expected 750ms, got %v", d)
	}
	t.Setenv("TEST_DELAY", "garbage")
	if d := getEnvDuration("TEST_DELAY", time.Second); d != time.Second {
		t.Fatalf("expected fallback, got %v", d)
	}
}
