// Package monitor is a terminal dashboard over the tracker's run history,
// run logs and listing store.
package monitor

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type tab int

const (
	tabDashboard tab = iota
	tabListings
	tabLogs
)

var tabNames = []string{"Dashboard", "Listings", "Logs"}

type model struct {
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time

	dashboard dashboard
	listings  listingsView
	logs      logsView
}

type tickMsg time.Time
type logTickMsg time.Time

func newModel(src Source, logPath string) model {
	return model{
		activeTab: tabDashboard,
		dashboard: newDashboard(src, logPath),
		listings:  newListingsView(src),
		logs:      newLogsView(src),
	}
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, src Source, logPath string) error {
	p := tea.NewProgram(newModel(src, logPath), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.listings.Init(),
		m.logs.Init(),
		tickCmd(),
		logTickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func logTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
			return m, nil
		case "p":
			m.activeTab = tabListings
			return m, nil
		case "L":
			m.activeTab = tabLogs
			return m, nil
		case "tab":
			m.activeTab = (m.activeTab + 1) % tab(len(tabNames))
			return m, nil
		case "r":
			m.notification = "Refreshed"
			m.notifyUntil = time.Now().Add(2 * time.Second)
			return m, m.refreshActive()
		case "c":
			if u := m.listings.selectedURL(); u != "" {
				m.notification = u
				m.notifyUntil = time.Now().Add(5 * time.Second)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.setSize(msg.Width, msg.Height-4)
		m.listings = m.listings.setSize(msg.Width, msg.Height-4)
		m.logs = m.logs.setSize(msg.Width, msg.Height-4)
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshActive(), tickCmd())

	case logTickMsg:
		return m, tea.Batch(m.dashboard.tailLog(), logTickCmd())
	}

	// Keys go to the active tab only; data messages reach every view.
	if _, isKey := msg.(tea.KeyMsg); isKey {
		var cmd tea.Cmd
		switch m.activeTab {
		case tabDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
		case tabListings:
			m.listings, cmd = m.listings.Update(msg)
		case tabLogs:
			m.logs, cmd = m.logs.Update(msg)
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.dashboard, cmd = m.dashboard.Update(msg)
	cmds = append(cmds, cmd)
	m.listings, cmd = m.listings.Update(msg)
	cmds = append(cmds, cmd)
	m.logs, cmd = m.logs.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabListings:
		return m.listings.Refresh()
	case tabLogs:
		return m.logs.Refresh()
	default:
		return m.dashboard.Refresh()
	}
}

func (m model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m model) renderTabs() string {
	var rendered []string
	for i, name := range tabNames {
		if tab(i) == m.activeTab {
			rendered = append(rendered, tabActiveStyle.Render(name))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderContent() string {
	switch m.activeTab {
	case tabListings:
		return m.listings.View()
	case tabLogs:
		return m.logs.View()
	default:
		return m.dashboard.View()
	}
}

func (m model) renderStatusBar() string {
	left := "d Dash  p Listings  L Logs  r Refresh  c URL  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = notificationStyle.Render(m.notification)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}

	return statusBarStyle.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}
