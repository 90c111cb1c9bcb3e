package monitor

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"listing_tracker/models"
)

// logLevels are the filter choices; "" shows every level.
var logLevels = []models.LogLevel{"", models.LogLevelInfo, models.LogLevelWarn, models.LogLevelError}

type logsMsg struct {
	logs []models.RunLog
}

type logsView struct {
	src           Source
	width, height int
	logs          []models.RunLog
	levelIndex    int
	scrollOffset  int
}

func newLogsView(src Source) logsView {
	return logsView{src: src}
}

func (l logsView) Init() tea.Cmd {
	return l.Refresh()
}

func (l logsView) Refresh() tea.Cmd {
	level := logLevels[l.levelIndex]
	return func() tea.Msg {
		logs, _ := l.src.RecentLogs(200, level)
		return logsMsg{logs}
	}
}

func (l logsView) setSize(w, h int) logsView {
	l.width = w
	l.height = h
	return l
}

func (l logsView) Update(msg tea.Msg) (logsView, tea.Cmd) {
	switch msg := msg.(type) {
	case logsMsg:
		l.logs = msg.logs
		l.scrollOffset = 0

	case tea.KeyMsg:
		maxScroll := max(len(l.logs)-l.visibleLines(), 0)
		switch msg.String() {
		case "left", "h":
			if l.levelIndex > 0 {
				l.levelIndex--
				return l, l.Refresh()
			}
		case "right", "l":
			if l.levelIndex < len(logLevels)-1 {
				l.levelIndex++
				return l, l.Refresh()
			}
		case "up", "k":
			l.scrollOffset = max(l.scrollOffset-1, 0)
		case "down", "j":
			l.scrollOffset = min(l.scrollOffset+1, maxScroll)
		case "g":
			l.scrollOffset = 0
		case "G":
			l.scrollOffset = maxScroll
		}
	}
	return l, nil
}

func (l logsView) visibleLines() int {
	if l.height-6 < 1 {
		return 10
	}
	return l.height - 6
}

func (l logsView) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Run Logs"),
		l.renderFilter(),
		"",
		l.renderLogs(),
	)
}

func (l logsView) renderFilter() string {
	var parts []string
	for i, level := range logLevels {
		name := strings.ToUpper(string(level))
		if level == "" {
			name = "ALL"
		}
		if i == l.levelIndex {
			parts = append(parts, tabActiveStyle.Render("["+name+"]"))
		} else {
			parts = append(parts, tabInactiveStyle.Render(name))
		}
	}
	return "Filter: " + strings.Join(parts, " ") + "  (←/→ to change)"
}

func (l logsView) renderLogs() string {
	if len(l.logs) == 0 {
		return mutedStyle.Render("No logs")
	}

	start := l.scrollOffset
	end := min(start+l.visibleLines(), len(l.logs))

	var lines []string
	for _, entry := range l.logs[start:end] {
		lines = append(lines, l.formatLog(entry))
	}

	header := mutedStyle.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(l.logs)))
	return header + "\n" + strings.Join(lines, "\n")
}

func (l logsView) formatLog(entry models.RunLog) string {
	var levelStyle lipgloss.Style
	switch entry.Level {
	case models.LogLevelInfo:
		levelStyle = successStyle
	case models.LogLevelWarn:
		levelStyle = pendingStyle
	case models.LogLevelError:
		levelStyle = errorStyle
	default:
		levelStyle = lipgloss.NewStyle()
	}

	msg := entry.Message
	if maxLen := l.width - 40; maxLen > 3 {
		msg = truncate(msg, maxLen)
	}

	return fmt.Sprintf("%s %s %s %s",
		mutedStyle.Render(entry.Timestamp.Format("01-02 15:04:05")),
		levelStyle.Render(fmt.Sprintf("%-5s", strings.ToUpper(string(entry.Level)))),
		mutedStyle.Render("["+entry.SiteID+" "+truncate(entry.RunID, 8)+"]"),
		msg,
	)
}
