package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"listing_tracker/models"
)

type fakeSource struct {
	runs     []models.ScrapeRun
	logs     []models.RunLog
	listings map[string]models.Listing
	err      error
	levels   []models.LogLevel
}

func (f *fakeSource) RecentRuns(siteID string, limit int) ([]models.ScrapeRun, error) {
	return f.runs, nil
}

func (f *fakeSource) RecentLogs(limit int, level models.LogLevel) ([]models.RunLog, error) {
	f.levels = append(f.levels, level)
	return f.logs, nil
}

func (f *fakeSource) Listings(ctx context.Context) (map[string]models.Listing, error) {
	return f.listings, f.err
}

func day(s string) *time.Time {
	t, _ := models.ParseDate(s)
	return t
}

func listing(id, title string, active bool, updated string) models.Listing {
	l := models.Listing{
		Record:      models.Record{ID: models.Text(id), URL: "https://example.com/" + id, Title: models.Text(title)},
		Active:      active,
		FirstSeen:   day("2024-03-01"),
		LastUpdated: day(updated),
	}
	if !active {
		l.Disappeared = day(updated)
	}
	return l
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		runs: []models.ScrapeRun{{ID: "run-1", SiteID: "trovacasa", StartedAt: time.Now(), Status: models.RunStatusCompleted, ListingsNew: 2, TotalListings: 3}},
		logs: []models.RunLog{{RunID: "run-1", Level: models.LogLevelWarn, Message: "fetch failed", SiteID: "trovacasa"}},
		listings: map[string]models.Listing{
			"A1": listing("A1", "Bilocale", true, "2024-03-02"),
			"B2": listing("B2", "Trilocale", false, "2024-03-03"),
			"C3": listing("C3", "Attico", true, "2024-03-01"),
		},
	}
}

func TestSortListings_NewestUpdateFirst(t *testing.T) {
	got := sortListings(newFakeSource().listings)
	var ids []string
	for _, l := range got {
		ids = append(ids, l.ID())
	}
	if strings.Join(ids, ",") != "B2,A1,C3" {
		t.Fatalf("order = %v", ids)
	}
}

func TestListingsView_ActiveFilter(t *testing.T) {
	v := newListingsView(newFakeSource())
	v, _ = v.Update(v.Refresh()())
	if len(v.rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(v.rows))
	}

	v, _ = v.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	if len(v.rows) != 2 {
		t.Fatalf("active rows = %d, want 2", len(v.rows))
	}
	for _, l := range v.rows {
		if !l.Active {
			t.Fatalf("inactive listing %s shown with filter on", l.ID())
		}
	}
	if !strings.Contains(v.View(), "Active only") {
		t.Fatal("filter state not rendered")
	}
}

func TestListingsView_Navigation(t *testing.T) {
	v := newListingsView(newFakeSource())
	v, _ = v.Update(v.Refresh()())

	down := tea.KeyMsg{Type: tea.KeyDown}
	for i := 0; i < 5; i++ {
		v, _ = v.Update(down)
	}
	if v.selectedRow != 2 {
		t.Fatalf("selectedRow = %d, want clamp at 2", v.selectedRow)
	}
	if v.selectedURL() != "https://example.com/C3" {
		t.Fatalf("selected url = %s", v.selectedURL())
	}
}

func TestListingsView_StoreError(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("corrupt listing store")
	v := newListingsView(src)
	v, _ = v.Update(v.Refresh()())
	if !strings.Contains(v.View(), "corrupt listing store") {
		t.Fatal("store error not shown")
	}
}

func TestDashboard_Counts(t *testing.T) {
	d := newDashboard(newFakeSource(), "")
	d, _ = d.Update(d.Refresh()())
	if d.total != 3 || d.active != 2 || d.disappeared != 1 {
		t.Fatalf("counts = %d/%d/%d", d.total, d.active, d.disappeared)
	}
	view := d.setSize(120, 40).View()
	if !strings.Contains(view, "trovacasa") || !strings.Contains(view, "completed") {
		t.Fatalf("runs table missing from view:\n%s", view)
	}
}

func TestLogsView_LevelFilter(t *testing.T) {
	src := newFakeSource()
	v := newLogsView(src)
	v, _ = v.Update(v.Refresh()())

	_, cmd := v.Update(tea.KeyMsg{Type: tea.KeyRight})
	if cmd == nil {
		t.Fatal("changing level should refresh")
	}
	cmd()
	if len(src.levels) != 2 || src.levels[0] != "" || src.levels[1] != models.LogLevelInfo {
		t.Fatalf("levels requested = %v", src.levels)
	}
	if !strings.Contains(v.View(), "fetch failed") {
		t.Fatal("log line not rendered")
	}
}

func TestReadLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	lines, mod := readLastLines(path, 2)
	if strings.Join(lines, "|") != "two|three" || mod.IsZero() {
		t.Fatalf("lines = %v", lines)
	}

	lines, _ = readLastLines(filepath.Join(t.TempDir(), "missing.log"), 2)
	if lines[0] != "(no log file)" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Via della Spiga", 8); got != "Via del…" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("città", 10); got != "città" {
		t.Fatalf("got %q", got)
	}
}

func TestModel_TabSwitching(t *testing.T) {
	m := newModel(newFakeSource(), "")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	if next.(model).activeTab != tabListings {
		t.Fatal("p should open the listings tab")
	}
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyTab})
	if next.(model).activeTab != tabLogs {
		t.Fatal("tab should cycle to logs")
	}
}
