package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/rtcore/kernel"
)

const refreshInterval = 250 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	deadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateBrowse modelState = iota
	stateFilter
)

type monitorModel struct {
	k        *kernel.Kernel
	w        *workload
	rows     []objectRow
	filter   textinput.Model
	selected int
	state    modelState
}

type refreshMsg time.Time

func newMonitorModel(k *kernel.Kernel, w *workload) *monitorModel {
	ti := textinput.New()
	ti.Placeholder = "kind or name"
	ti.Prompt = "filter: "
	ti.Width = 30
	m := &monitorModel{k: k, w: w, filter: ti, state: stateBrowse}
	m.reload()
	return m
}

func (m *monitorModel) Init() tea.Cmd {
	return refresh()
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m *monitorModel) reload() {
	m.rows = filterRows(collect(m.k.Registry()), m.filter.Value())
	if m.selected >= len(m.rows) {
		m.selected = max(len(m.rows)-1, 0)
	}
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshMsg:
		m.reload()
		return m, refresh()

	case tea.KeyMsg:
		if m.state == stateFilter {
			switch msg.String() {
			case "enter", "esc":
				m.filter.Blur()
				m.state = stateBrowse
				m.reload()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.reload()
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.selected < len(m.rows)-1 {
				m.selected++
			}

		case "/":
			m.state = stateFilter
			return m, m.filter.Focus()

		case "esc":
			m.filter.SetValue("")
			m.reload()
		}
	}
	return m, nil
}

func (m *monitorModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("RT Monitor"))
	b.WriteString(fmt.Sprintf(" kernel %s node %d\n", m.k.ID(), m.k.Node()))
	b.WriteString(fmt.Sprintf("uptime %s • %d samples • %d switches • %d objects\n\n",
		m.k.Now().Round(time.Millisecond), m.w.count.Load(),
		m.k.Scheduler().Switches(), m.k.Registry().Len()))

	if m.state == stateFilter || m.filter.Value() != "" {
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
	}

	if len(m.rows) == 0 {
		b.WriteString("No matching objects.\n")
	}
	for i, r := range m.rows {
		line := fmt.Sprintf("%-10s %-12s %-14s refs=%d ", r.kind, r.name, r.handle, r.refs)
		switch {
		case i == m.selected:
			b.WriteString(selectedStyle.Render("> " + line + r.detail))
		case r.dead:
			b.WriteString("  " + deadStyle.Render(line+"deleted"))
		default:
			b.WriteString("  " + kindStyle.Render(line) + detailStyle.Render(r.detail))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.state == stateFilter {
		b.WriteString(helpStyle.Render("enter apply • esc done"))
	} else {
		b.WriteString(helpStyle.Render("↑/↓ select • / filter • esc clear • q quit"))
	}
	return b.String()
}

func runInteractive(k *kernel.Kernel, w *workload) error {
	p := tea.NewProgram(newMonitorModel(k, w), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
