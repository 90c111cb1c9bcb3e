package monitor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"listing_tracker/models"
)

// liveWindow is how recently the log file must have changed to show LIVE.
const liveWindow = 2 * time.Minute

type dashboardDataMsg struct {
	runs        []models.ScrapeRun
	total       int
	active      int
	disappeared int
	storeErr    error
}

type logTailMsg struct {
	lines   []string
	modTime time.Time
}

type dashboard struct {
	src           Source
	width, height int
	runs          []models.ScrapeRun
	total         int
	active        int
	disappeared   int
	storeErr      error
	logLines      []string
	logPath       string
	logScroll     int // 0 = newest at the bottom
	logViewport   int
	logBuffer     int
	logModTime    time.Time
}

func newDashboard(src Source, logPath string) dashboard {
	return dashboard{
		src:         src,
		logPath:     logPath,
		logViewport: 20,
		logBuffer:   200,
	}
}

func (d dashboard) Init() tea.Cmd {
	return tea.Batch(d.Refresh(), d.tailLog())
}

func (d dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		msg := dashboardDataMsg{}
		msg.runs, _ = d.src.RecentRuns("", 10)
		listings, err := d.src.Listings(context.Background())
		if err != nil {
			msg.storeErr = err
			return msg
		}
		msg.total = len(listings)
		for _, l := range listings {
			if l.Active {
				msg.active++
			} else {
				msg.disappeared++
			}
		}
		return msg
	}
}

func (d dashboard) tailLog() tea.Cmd {
	return func() tea.Msg {
		lines, modTime := readLastLines(d.logPath, d.logBuffer)
		return logTailMsg{lines, modTime}
	}
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	modTime := info.ModTime()

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var allLines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}

	if len(allLines) == 0 {
		return []string{"(empty log)"}, modTime
	}

	start := len(allLines) - n
	if start < 0 {
		start = 0
	}
	return allLines[start:], modTime
}

func (d dashboard) setSize(w, h int) dashboard {
	d.width = w
	d.height = h
	return d
}

func (d dashboard) Update(msg tea.Msg) (dashboard, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.runs = msg.runs
		d.total = msg.total
		d.active = msg.active
		d.disappeared = msg.disappeared
		d.storeErr = msg.storeErr
	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
	case tea.KeyMsg:
		maxScroll := len(d.logLines) - d.logViewport
		if maxScroll < 0 {
			maxScroll = 0
		}
		switch msg.String() {
		case "up", "k":
			d.logScroll = min(d.logScroll+1, maxScroll)
		case "down", "j":
			d.logScroll = max(d.logScroll-1, 0)
		case "pgup":
			d.logScroll = min(d.logScroll+10, maxScroll)
		case "pgdown":
			d.logScroll = max(d.logScroll-10, 0)
		case "home":
			d.logScroll = maxScroll
		case "end":
			d.logScroll = 0
		}
	}
	return d, nil
}

func (d dashboard) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Dashboard"),
		d.renderStatCards(),
		"",
		titleStyle.Render("Recent Runs"),
		d.renderRunsTable(),
		"",
		d.renderLogTail(),
	)
}

func (d dashboard) renderStatCards() string {
	if d.storeErr != nil {
		return errorStyle.Render(fmt.Sprintf("Store unreadable: %v", d.storeErr))
	}

	lastRun := "never"
	lastStatus := "-"
	if len(d.runs) > 0 {
		lastRun = relativeTime(d.runs[0].StartedAt)
		lastStatus = string(d.runs[0].Status)
	}
	cards := []string{
		renderStatCard("Listings", fmt.Sprintf("%d", d.total)),
		renderStatCard("Active", fmt.Sprintf("%d", d.active)),
		renderStatCard("Gone", fmt.Sprintf("%d", d.disappeared)),
		renderStatCard("Last run", lastRun),
		renderStatCard("Status", lastStatus),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func renderStatCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		statValueStyle.Render(value),
		statLabelStyle.Render(label),
	)
	return cardStyle.Width(16).Render(content)
}

func statusStyle(status models.RunStatus) lipgloss.Style {
	switch status {
	case models.RunStatusCompleted:
		return successStyle
	case models.RunStatusFailed:
		return errorStyle
	default:
		return pendingStyle
	}
}

func (d dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return mutedStyle.Render("No runs yet")
	}

	header := fmt.Sprintf("%-14s %-10s %-16s %5s %6s %6s %5s %5s %5s %6s",
		"Site", "Status", "Started", "Pages", "URLs", "Recs", "New", "Upd", "Gone", "Total")
	rows := tableHeaderStyle.Render(header) + "\n"

	for _, r := range d.runs {
		row := fmt.Sprintf("%-14s %s %-16s %5d %6d %6d %5d %5d %5d %6d",
			truncate(r.SiteID, 14),
			statusStyle(r.Status).Render(fmt.Sprintf("%-10s", r.Status)),
			r.StartedAt.Format("2006-01-02 15:04"),
			r.PagesVisited,
			r.URLsFound,
			r.RecordsFound,
			r.ListingsNew,
			r.Updated,
			r.Disappeared,
			r.TotalListings,
		)
		rows += row + "\n"
	}
	return rows
}

func (d dashboard) renderLogTail() string {
	width := max(d.width-4, 20)
	if len(d.logLines) == 0 {
		return logBoxStyle.Width(width).Render(mutedStyle.Render("(waiting for logs...)"))
	}

	total := len(d.logLines)
	endIdx := total - d.logScroll
	startIdx := max(endIdx-d.logViewport, 0)
	endIdx = min(endIdx, total)

	var lines []string
	for _, line := range d.logLines[startIdx:endIdx] {
		lines = append(lines, styleLogLine(line, width-4))
	}

	indicator := mutedStyle.Render(" ○ IDLE ")
	switch {
	case d.logScroll > 0:
		indicator = pendingStyle.Render(fmt.Sprintf(" ↑%d ", d.logScroll))
	case !d.logModTime.IsZero() && time.Since(d.logModTime) < liveWindow:
		indicator = successStyle.Render(" ● LIVE ")
	}

	header := titleStyle.Render("Tracker Log") + indicator +
		mutedStyle.Render(fmt.Sprintf("[%d-%d/%d]", startIdx+1, endIdx, total))
	return logBoxStyle.Width(width).Render(header + "\n" + strings.Join(lines, "\n"))
}

// styleLogLine colours a line by the [info]/[warn]/[error] tag the tracker writes.
func styleLogLine(line string, maxWidth int) string {
	line = truncate(line, maxWidth)
	switch {
	case strings.Contains(line, "[error]"):
		return errorStyle.Render(line)
	case strings.Contains(line, "[warn]"):
		return pendingStyle.Render(line)
	default:
		return line
	}
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
