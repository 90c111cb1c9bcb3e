package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"listing_tracker/config"
	"listing_tracker/models"
	"listing_tracker/services"
	"listing_tracker/storage"
)

// fakeSite serves a paginated index and one detail page per listing id.
type fakeSite struct {
	*httptest.Server
	mu      sync.Mutex
	ids     []string
	prices  map[string]string
	perPage int
}

func newFakeSite(t *testing.T, ids ...string) *fakeSite {
	s := &fakeSite{ids: ids, prices: map[string]string{}, perPage: 2}
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		page, _ := strconv.Atoi(r.URL.Query().Get("pag"))
		if page == 0 {
			page = 1
		}
		from := (page - 1) * s.perPage
		fmt.Fprint(w, "<html><body>")
		for i := from; i < from+s.perPage && i < len(s.ids); i++ {
			fmt.Fprintf(w, `<a class="card__title js_link_immobile" href="/annuncio/%s">x</a>`, s.ids[i])
		}
		if from+s.perPage < len(s.ids) {
			fmt.Fprintf(w, `<a class="pager__link next" href="/list?pag=%d">next</a>`, page+1)
		}
		fmt.Fprint(w, "</body></html>")
	})
	mux.HandleFunc("/annuncio/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := strings.TrimPrefix(r.URL.Path, "/annuncio/")
		price, ok := s.prices[id]
		if !ok {
			price = "€ 100.000"
		}
		fmt.Fprintf(w, `<html><body>
			<h1 class="immobile__title headingOne">Bilocale %s</h1>
			<div class="price">%s</div>
			<div class="indirizzo">Via Test %s</div>
			<dl class="row"><dt class="term">Codice annuncio</dt><dd class="description">%s</dd></dl>
			<dl class="row"><dt class="term">Numero locali</dt><dd class="description">2</dd></dl>
			</body></html>`, id, price, id, id)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *fakeSite) setListings(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = ids
}

func (s *fakeSite) setPrice(id, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[id] = price
}

type fakeExporter struct {
	uploaded []string
}

func (e *fakeExporter) UploadFile(ctx context.Context, localPath, source string, now time.Time) (string, error) {
	e.uploaded = append(e.uploaded, filepath.Base(localPath))
	return "https://bucket.example.com/" + storage.ExportKey("scraping-data", filepath.Base(localPath), now), nil
}

type testRig struct {
	dir   string
	cfg   *config.Config
	site  *config.SiteConfig
	store *storage.CSVStore
	srv   *fakeSite
}

func newTestRig(t *testing.T, ids ...string) *testRig {
	dir := t.TempDir()
	srv := newFakeSite(t, ids...)
	cfg := &config.Config{
		Scraper:     config.ScraperConfig{MaxConcurrency: 3, RequestTimeout: 5 * time.Second},
		Export:      config.ExportConfig{Dir: filepath.Join(dir, "exports")},
		RunInfoPath: filepath.Join(dir, "run_info.txt"),
	}
	site := &config.SiteConfig{
		ID:        "testsite",
		StartURL:  srv.URL + "/list",
		Selectors: testSelectors(),
	}
	return &testRig{
		dir:   dir,
		cfg:   cfg,
		site:  site,
		store: storage.NewCSVStore(filepath.Join(dir, "listings.csv")),
		srv:   srv,
	}
}

func (r *testRig) orchestrator(day time.Time) *Orchestrator {
	o := NewOrchestrator(r.cfg, r.site, NewHTTPFetcher(r.srv.Client(), 5*time.Second), r.store, OptionsFor(r.cfg, r.site))
	o.now = func() time.Time { return day }
	return o
}

func (r *testRig) runInfo(t *testing.T) map[string]string {
	t.Helper()
	data, err := os.ReadFile(r.cfg.RunInfoPath)
	if err != nil {
		t.Fatalf("read run info: %v", err)
	}
	info := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		k, v, _ := strings.Cut(line, "=")
		info[k] = v
	}
	return info
}

var (
	runDay1 = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	runDay2 = time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)
)

func TestRunOnce_FirstRunCreatesStore(t *testing.T) {
	rig := newTestRig(t, "A1", "B2", "C3", "D4", "E5")

	res, err := rig.orchestrator(runDay1).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Walk.Pages != 3 || res.Reconcile.New != 5 || res.Run.Status != models.RunStatusCompleted {
		t.Fatalf("result = %+v", res)
	}

	stored, err := rig.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stored) != 5 {
		t.Fatalf("stored %d listings, want 5", len(stored))
	}
	a := stored["A1"]
	if !a.Active || models.FormatDate(a.FirstSeen) != "2024-03-01" || *a.RoomCount != 2 {
		t.Fatalf("A1 = %+v", a)
	}

	info := rig.runInfo(t)
	if info["LISTINGS_COUNT"] != "5" || info["SNAPSHOT_COUNT"] != "5" || info["RUN_ID"] != res.Run.ID {
		t.Fatalf("run info = %v", info)
	}
	if _, err := os.Stat(info["EXPORT_URL"]); err != nil {
		t.Fatalf("export %s not written: %v", info["EXPORT_URL"], err)
	}
}

func TestRunOnce_SecondRunTracksChanges(t *testing.T) {
	rig := newTestRig(t, "A1", "B2", "C3")
	if _, err := rig.orchestrator(runDay1).RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	rig.srv.setListings("A1", "C3", "F6")
	rig.srv.setPrice("A1", "€ 95.000")
	res, err := rig.orchestrator(runDay2).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Reconcile.New != 1 || res.Reconcile.Updated != 1 || res.Reconcile.Disappeared != 1 || res.Reconcile.Unchanged != 1 {
		t.Fatalf("stats = %+v", res.Reconcile)
	}

	stored, _ := rig.store.Load(context.Background())
	if b := stored["B2"]; b.Active || models.FormatDate(b.Disappeared) != "2024-03-02" {
		t.Fatalf("B2 = %+v", b)
	}
	if a := stored["A1"]; *a.Price != "€ 95.000" || models.FormatDate(a.LastUpdated) != "2024-03-02" {
		t.Fatalf("A1 = %+v", a)
	}
	if c := stored["C3"]; models.FormatDate(c.LastUpdated) != "2024-03-01" {
		t.Fatalf("C3 = %+v", c)
	}
}

func TestRunOnce_EmptyWalkLeavesStoreUntouched(t *testing.T) {
	rig := newTestRig(t, "A1")
	if _, err := rig.orchestrator(runDay1).RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _ := os.ReadFile(rig.store.Location())

	rig.srv.setListings()
	res, err := rig.orchestrator(runDay2).RunOnce(context.Background())
	if !errors.Is(err, ErrNothingProduced) {
		t.Fatalf("err = %v, want ErrNothingProduced", err)
	}
	if res.Run.Status != models.RunStatusEmpty {
		t.Fatalf("status = %s", res.Run.Status)
	}

	after, _ := os.ReadFile(rig.store.Location())
	if string(before) != string(after) {
		t.Fatal("empty run modified the store")
	}
	if info := rig.runInfo(t); info["EXPORT_URL"] != storage.EmptyExport {
		t.Fatalf("run info = %v", info)
	}
}

func TestRunOnce_CorruptStoreIsFatal(t *testing.T) {
	rig := newTestRig(t, "A1")
	if err := os.WriteFile(rig.store.Location(), []byte("url,title\nx,y\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := rig.orchestrator(runDay1).RunOnce(context.Background())
	if !errors.Is(err, storage.ErrCorruptStore) {
		t.Fatalf("err = %v, want ErrCorruptStore", err)
	}
	data, _ := os.ReadFile(rig.store.Location())
	if string(data) != "url,title\nx,y\n" {
		t.Fatal("corrupt store was overwritten")
	}
}

func TestRunOnce_UploadsExportAndRecordsHistory(t *testing.T) {
	rig := newTestRig(t, "A1", "B2")
	history, err := storage.NewSQLiteStore(filepath.Join(rig.dir, "tracker.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer history.Close()

	exporter := &fakeExporter{}
	o := rig.orchestrator(runDay1)
	o.SetHistory(history)
	o.SetExporter(exporter)

	res, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(exporter.uploaded) != 1 || exporter.uploaded[0] != "testsite_20240301_060000_2_listings.csv" {
		t.Fatalf("uploaded = %v", exporter.uploaded)
	}
	if want := "https://bucket.example.com/scraping-data/2024/03/testsite_20240301_060000_2_listings.csv"; res.Run.ExportURL != want {
		t.Fatalf("export url = %s", res.Run.ExportURL)
	}
	if entries, _ := os.ReadDir(rig.cfg.Export.Dir); len(entries) != 0 {
		t.Fatalf("local export not removed after upload: %d files", len(entries))
	}

	runs, err := history.RecentRuns("testsite", 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunStatusCompleted || runs[0].ListingsNew != 2 {
		t.Fatalf("runs = %+v", runs)
	}
	logs, _ := history.RunLogs(res.Run.ID)
	if len(logs) == 0 {
		t.Fatal("no run logs persisted")
	}
}

func TestRunOnce_MaxPages(t *testing.T) {
	rig := newTestRig(t, "A1", "B2", "C3", "D4", "E5")
	rig.site.MaxPages = 1

	res, err := rig.orchestrator(runDay1).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Walk.Pages != 1 || res.Reconcile.Total != 2 {
		t.Fatalf("walk pages = %d, total = %d", res.Walk.Pages, res.Reconcile.Total)
	}
}

func TestNotAvailableFieldsSurviveRepeatRuns(t *testing.T) {
	ctx := context.Background()
	e := NewSelectorExtractor(testSelectors())
	r, err := e.Extract(loadFixture(t, "detail_not_available.html"), "https://www.trovacasa.it/annuncio/40017")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	snapshot := []models.Record{*r}

	path := filepath.Join(t.TempDir(), "listings.csv")
	store := storage.NewCSVStore(path)
	first, _ := services.Reconcile(nil, snapshot, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	second, stats := services.Reconcile(loaded, snapshot, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if stats.Updated != 0 || stats.Unchanged != 1 {
		t.Fatalf("second run stats = %+v", stats)
	}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatalf("store changed on repeat run:\n%s\nvs\n%s", before, after)
	}
}
