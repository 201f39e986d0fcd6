// Package tui provides interactive terminal UI components.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/crewel-dev/crewel/internal/status"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginLeft(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginLeft(1).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			MarginLeft(1)

	countsStyle = lipgloss.NewStyle().
			Bold(true).
			MarginLeft(1).
			MarginBottom(1)
)

// Model represents the interactive status TUI state.
type Model struct {
	table      table.Model
	collector  *status.Collector
	lastUpdate time.Time
	err        error
	quitting   bool
	totalTasks int
	ready      int
	blocked    int
	done       int
	active     int
}

type tickMsg time.Time
type snapshotMsg struct {
	snapshot status.Snapshot
}
type errMsg error

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// New creates a new interactive status TUI model.
func New(collector *status.Collector) Model {
	columns := []table.Column{
		{Title: "Task", Width: 12},
		{Title: "Status", Width: 11},
		{Title: "Branch", Width: 24},
		{Title: "State", Width: 11},
		{Title: "Drift", Width: 8},
		{Title: "PR", Width: 12},
		{Title: "Title", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("12"))
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		table:     t,
		collector: collector,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.refresh(),
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			// Manual refresh
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		// Reserve space for header, counts, and the help footer.
		m.table.SetHeight(msg.Height - 10)
		return m, nil

	case tickMsg:
		return m, tea.Batch(
			tickCmd(),
			m.refresh(),
		)

	case snapshotMsg:
		m.lastUpdate = time.Now()
		m.err = nil
		m.totalTasks = msg.snapshot.TotalTasks
		m.ready = msg.snapshot.Ready
		m.blocked = msg.snapshot.Blocked
		m.done = msg.snapshot.Done
		m.active = len(msg.snapshot.Rows)

		rows := make([]table.Row, len(msg.snapshot.Rows))
		for i, row := range msg.snapshot.Rows {
			drift := "-"
			if row.Ahead > 0 || row.Behind > 0 {
				drift = fmt.Sprintf("+%d/-%d", row.Ahead, row.Behind)
			}
			pr := string(row.PR.State)
			if row.PR.Number > 0 {
				pr = fmt.Sprintf("#%d %s", row.PR.Number, row.PR.State)
			}
			rows[i] = table.Row{
				row.TaskID,
				string(row.Status),
				row.Branch,
				string(row.BranchState),
				drift,
				pr,
				row.Title,
			}
		}
		m.table.SetRows(rows)
		return m, nil

	case errMsg:
		m.err = msg
		return m, nil
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder

	title := titleStyle.Render("Crewel Status")
	timestamp := timestampStyle.Render(fmt.Sprintf("Last update: %s", m.lastUpdate.Format("15:04:05")))

	header := lipgloss.JoinHorizontal(
		lipgloss.Top,
		title,
		strings.Repeat(" ", 5),
		timestamp,
	)
	b.WriteString(header)
	b.WriteString("\n\n")

	counts := countsStyle.Render(fmt.Sprintf(
		"Tasks: total=%d ready=%d blocked=%d done=%d | Workstreams: %d",
		m.totalTasks, m.ready, m.blocked, m.done, m.active,
	))
	b.WriteString(counts)
	b.WriteString("\n")

	b.WriteString(m.table.View())
	b.WriteString("\n")

	help := helpStyle.Render("↑/↓: navigate • r: refresh • q/esc: quit")
	b.WriteString(help)

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return b.String()
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		snapshot, err := m.collector.Collect(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg{snapshot: snapshot}
	}
}

// Run starts the interactive TUI.
func Run(collector *status.Collector) error {
	p := tea.NewProgram(
		New(collector),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}
