package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"listing_tracker/models"
)

type listingsMsg struct {
	listings []models.Listing
	err      error
}

type listingsView struct {
	src           Source
	width, height int
	all           []models.Listing
	rows          []models.Listing // all, filtered
	selectedRow   int
	activeOnly    bool
	err           error
}

func newListingsView(src Source) listingsView {
	return listingsView{src: src}
}

func (v listingsView) Init() tea.Cmd {
	return v.Refresh()
}

func (v listingsView) Refresh() tea.Cmd {
	return func() tea.Msg {
		byID, err := v.src.Listings(context.Background())
		if err != nil {
			return listingsMsg{err: err}
		}
		return listingsMsg{listings: sortListings(byID)}
	}
}

// sortListings orders by last update, newest first, then by id.
func sortListings(byID map[string]models.Listing) []models.Listing {
	out := make([]models.Listing, 0, len(byID))
	for _, l := range byID {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastUpdated, out[j].LastUpdated
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a == nil && b != nil:
			return false
		case a != nil && b == nil:
			return true
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

func (v listingsView) setSize(w, h int) listingsView {
	v.width = w
	v.height = h
	return v
}

func (v listingsView) selectedURL() string {
	if v.selectedRow < len(v.rows) {
		return v.rows[v.selectedRow].URL
	}
	return ""
}

func (v listingsView) applyFilter() listingsView {
	v.rows = v.rows[:0:0]
	for _, l := range v.all {
		if !v.activeOnly || l.Active {
			v.rows = append(v.rows, l)
		}
	}
	if v.selectedRow >= len(v.rows) {
		v.selectedRow = max(len(v.rows)-1, 0)
	}
	return v
}

func (v listingsView) Update(msg tea.Msg) (listingsView, tea.Cmd) {
	switch msg := msg.(type) {
	case listingsMsg:
		v.err = msg.err
		if msg.err == nil {
			v.all = msg.listings
		}
		v = v.applyFilter()

	case tea.KeyMsg:
		last := len(v.rows) - 1
		switch msg.String() {
		case "up", "k":
			v.selectedRow = max(v.selectedRow-1, 0)
		case "down", "j":
			v.selectedRow = max(min(v.selectedRow+1, last), 0)
		case "pgdown", "ctrl+d":
			v.selectedRow = max(min(v.selectedRow+10, last), 0)
		case "pgup", "ctrl+u":
			v.selectedRow = max(v.selectedRow-10, 0)
		case "home", "g":
			v.selectedRow = 0
		case "end", "G":
			v.selectedRow = max(last, 0)
		case "a":
			v.activeOnly = !v.activeOnly
			v.selectedRow = 0
			v = v.applyFilter()
		}
	}
	return v, nil
}

func (v listingsView) visibleRows() int {
	rows := 25
	if v.height > 0 {
		rows = max((v.height*60)/100, 10)
	}
	return rows
}

func (v listingsView) View() string {
	filter := "All"
	if v.activeOnly {
		filter = "Active only"
	}
	position := fmt.Sprintf("  %d/%d", min(v.selectedRow+1, len(v.rows)), len(v.rows))
	header := titleStyle.Render("Listings") +
		statValueStyle.Render(position) +
		"  " + mutedStyle.Render(fmt.Sprintf("[a] Filter: %s", filter))

	if v.err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, errorStyle.Render(v.err.Error()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, v.renderTable(), "", v.renderDetails())
}

func (v listingsView) renderTable() string {
	header := fmt.Sprintf("%-12s %-32s %-14s %-24s %-6s %-10s",
		"ID", "Title", "Price", "Address", "State", "Updated")
	rows := tableHeaderStyle.Render(header) + "\n"

	visible := v.visibleRows()
	offset := 0
	if v.selectedRow >= visible {
		offset = v.selectedRow - visible + 1
	}
	end := min(offset+visible, len(v.rows))

	for i := offset; i < end; i++ {
		l := v.rows[i]
		state := "live"
		if !l.Active {
			state = "gone"
		}
		row := fmt.Sprintf("%-12s %-32s %-14s %-24s %-6s %-10s",
			truncate(l.ID(), 12),
			truncate(text(l.Title), 32),
			truncate(text(l.Price), 14),
			truncate(text(l.Address), 24),
			state,
			models.FormatDate(l.LastUpdated),
		)
		if i == v.selectedRow {
			rows += tableSelectedStyle.Render(row) + "\n"
		} else {
			rows += row + "\n"
		}
	}

	if len(v.rows) > visible {
		rows += mutedStyle.Render(fmt.Sprintf("  [%d-%d of %d]", offset+1, end, len(v.rows)))
	}
	return rows
}

func (v listingsView) renderDetails() string {
	if len(v.rows) == 0 {
		return mutedStyle.Render("No listings")
	}
	l := v.rows[v.selectedRow]

	lines := []string{
		titleStyle.Render(truncate(text(l.Title), max(v.width-8, 20))),
		fmt.Sprintf("Price: %s", text(l.Price)),
		fmt.Sprintf("Address: %s", text(l.Address)),
		fmt.Sprintf("Surface: %s  Rooms: %s  Bathrooms: %s  Energy: %s",
			floatText(l.SurfaceArea), intText(l.RoomCount), intText(l.BathroomCount), text(l.EnergyClass)),
		fmt.Sprintf("First seen: %s  Last updated: %s  Disappeared: %s",
			dateText(l.FirstSeen), dateText(l.LastUpdated), dateText(l.Disappeared)),
	}
	if len(l.Tags) > 0 {
		lines = append(lines, statLabelStyle.Render("Tags: ")+strings.Join(l.Tags, ", "))
	}
	lines = append(lines, "", mutedStyle.Render(truncate(l.URL, max(v.width-8, 20))))

	return detailCardStyle.Width(max(v.width-4, 40)).Render(strings.Join(lines, "\n"))
}

func text(s *string) string {
	if s == nil {
		return "—"
	}
	return *s
}

func floatText(f *float64) string {
	if f == nil {
		return "—"
	}
	return fmt.Sprintf("%g m²", *f)
}

func intText(i *int) string {
	if i == nil {
		return "—"
	}
	return fmt.Sprintf("%d", *i)
}

func dateText(d *time.Time) string {
	if d == nil {
		return "—"
	}
	return models.FormatDate(d)
}
