package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ufoo/pkg/bus"
	"ufoo/pkg/daemon"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// dashTickMsg is sent on every refresh interval.
type dashTickMsg time.Time

// snapshotMsg carries one refresh of bus and daemon state.
type snapshotMsg struct {
	status bus.Status
	report daemon.Report
	err    error
}

// statusSource is what the dashboard reads on every refresh.
type statusSource interface {
	Status() (bus.Status, error)
}

// daemonSource reports daemon state.
type daemonSource interface {
	Status() (daemon.Report, error)
}

type dashKeys struct {
	Quit    key.Binding
	Refresh key.Binding
}

func defaultDashKeys() dashKeys {
	return dashKeys{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	}
}

type dashStyles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Running lipgloss.Style
	Stopped lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
}

func defaultDashStyles() dashStyles {
	return dashStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		Running: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Stopped: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// dashModel is the Bubble Tea model behind "ufoo dash".
type dashModel struct {
	bus      statusSource
	daemon   daemonSource
	interval time.Duration

	status    bus.Status
	report    daemon.Report
	err       error
	refreshed time.Time

	table  table.Model
	keys   dashKeys
	styles dashStyles
	width  int
}

func newDashModel(b statusSource, d daemonSource, interval time.Duration) dashModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Subscriber", Width: 32},
			{Title: "Nickname", Width: 16},
			{Title: "Mode", Width: 10},
			{Title: "Unread", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("12"))
	t.SetStyles(styles)

	return dashModel{
		bus:      b,
		daemon:   d,
		interval: interval,
		table:    t,
		keys:     defaultDashKeys(),
		styles:   defaultDashStyles(),
	}
}

func (m dashModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}

func (m dashModel) fetchCmd() tea.Cmd {
	src, dmn := m.bus, m.daemon
	return func() tea.Msg {
		var msg snapshotMsg
		msg.status, msg.err = src.Status()
		if dmn != nil {
			if report, err := dmn.Status(); err == nil {
				msg.report = report
			}
		}
		return msg
	}
}

// Init implements tea.Model.
func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

// Update implements tea.Model.
func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetchCmd()
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}

	case snapshotMsg:
		m.err = msg.err
		m.refreshed = time.Now()
		if msg.err == nil {
			m.status = msg.status
			m.report = msg.report
			m.table.SetRows(subscriberRows(msg.status))
		}

	case dashTickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())
	}
	return m, nil
}

func subscriberRows(st bus.Status) []table.Row {
	rows := make([]table.Row, 0, len(st.Active))
	for _, a := range st.Active {
		nick := a.Nickname
		if nick == "" {
			nick = "-"
		}
		rows = append(rows, table.Row{a.ID, nick, a.LaunchMode, strconv.Itoa(st.Unread.PerSubscriber[a.ID])})
	}
	return rows
}

// View implements tea.Model.
func (m dashModel) View() string {
	var sb strings.Builder

	title := "ufoo"
	if m.status.BusID != "" {
		title += " · " + m.status.BusID
	}
	sb.WriteString(m.styles.Title.Render(title))
	sb.WriteString("  ")
	sb.WriteString(m.daemonBadge())
	sb.WriteString("\n\n")

	if m.err != nil {
		sb.WriteString(m.styles.Error.Render("error: " + m.err.Error()))
		sb.WriteString("\n\n")
	}

	if len(m.status.Active) == 0 {
		sb.WriteString(m.styles.Muted.Render("No active subscribers"))
		sb.WriteString("\n")
	} else {
		sb.WriteString(m.table.View())
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(m.styles.Label.Render("events "))
	sb.WriteString(strconv.Itoa(m.status.TotalEvents))
	sb.WriteString(m.styles.Label.Render("  unread "))
	sb.WriteString(strconv.Itoa(m.status.Unread.Total))
	if !m.refreshed.IsZero() {
		sb.WriteString(m.styles.Muted.Render("  updated " + m.refreshed.Format("15:04:05")))
	}
	sb.WriteString("\n")
	sb.WriteString(m.styles.Muted.Render(fmt.Sprintf("%s · %s · ↑/↓ scroll",
		m.keys.Quit.Help().Key+" "+m.keys.Quit.Help().Desc,
		m.keys.Refresh.Help().Key+" "+m.keys.Refresh.Help().Desc)))
	sb.WriteString("\n")
	return sb.String()
}

func (m dashModel) daemonBadge() string {
	switch m.report.Status {
	case daemon.StatusRunning:
		return m.styles.Running.Render(fmt.Sprintf("daemon running (PID %d)", m.report.PID))
	case daemon.StatusStale:
		return m.styles.Stopped.Render("daemon stale")
	default:
		return m.styles.Stopped.Render("daemon stopped")
	}
}
