package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/hosts"
	"github.com/mattjoyce/hostsmaster/internal/scheduler"
)

const (
	maxEventLog     = 50
	healthInterval  = 5 * time.Second
	reconnectDelay  = 3 * time.Second
	visibleEventCnt = 8
)

type keyMap struct {
	Quit    key.Binding
	Toggle  key.Binding
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

func defaultKeys() keyMap {
	return keyMap{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Toggle:  key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "toggle scheme")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	}
}

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *Client

	width  int
	height int

	health      HealthState
	snapshot    hosts.Snapshot
	rows        []schemeRow
	rules       []scheduler.Rule
	eventLog    []events.Event
	lastEventID int64

	ticker Ticker
	pulse  Pulse
	theme  Theme
	keys   keyMap
	help   help.Model
	table  table.Model

	hubEvents chan events.Event
	now       func() time.Time

	lastError string
}

// New creates a watch model for the API at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		client:    NewClient(apiURL, apiKey),
		eventLog:  make([]events.Event, 0, maxEventLog),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		pulse:     NewPulse(),
		theme:     NewDefaultTheme(),
		keys:      defaultKeys(),
		help:      help.New(),
		table:     newSchemeTable(),
		now:       time.Now,
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchTree,
		m.client.fetchRules,
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, tea.Batch(m.client.fetchTree, m.client.fetchRules, m.client.fetchHealth)
		case key.Matches(msg, m.keys.Toggle):
			if id, ok := m.selectedID(); ok {
				return m, m.client.setActive(toggled(m.snapshot.Active, id))
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(schemeColumns(m.width - 6))
		m.table.SetWidth(m.width - 6)
		m.table.SetHeight(max(5, m.height/3))
		return m, nil

	case tickMsg:
		m.ticker.Tick()
		m.table.SetRows(schemeTableRows(m.rows, m.now()))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastEventID {
			m.lastEventID = e.ID
		}
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.health.Connected = true
		m.lastError = ""

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		switch e.Type {
		case events.HostsWritten:
			m.pulse.Hit(m.now())
			cmds = append(cmds, m.client.fetchHealth)
		case events.HostsChanged, events.WorkspaceSwitched, events.RemoteSynced:
			cmds = append(cmds, m.client.fetchTree)
		case events.ScheduleAdded, events.ScheduleRemoved, events.ScheduleFired:
			cmds = append(cmds, m.client.fetchRules)
		case events.HostsWriteFailed:
			cmds = append(cmds, m.client.fetchHealth)
		}
		return m, tea.Batch(cmds...)

	case healthMsg:
		m.health = HealthState{
			Status:        msg.Status,
			UptimeSeconds: msg.UptimeSeconds,
			Workspace:     msg.Workspace,
			ActiveSchemes: msg.ActiveSchemes,
			Writes:        msg.Writes,
			WriteFailures: msg.WriteFailures,
			WritePending:  msg.WritePending,
			Connected:     true,
			LastCheck:     m.now(),
		}
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })

	case treeMsg:
		m.snapshot = hosts.Snapshot(msg)
		m.rows = flattenSchemes(m.snapshot.Root, m.snapshot.Active)
		m.table.SetRows(schemeTableRows(m.rows, m.now()))
		return m, nil

	case activeMsg:
		m.snapshot.Active = msg.ActiveSchemes
		m.rows = flattenSchemes(m.snapshot.Root, m.snapshot.Active)
		m.table.SetRows(schemeTableRows(m.rows, m.now()))
		return m, nil

	case rulesMsg:
		m.rules = msg.Rules
		return m, nil

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.subscribe(m.lastEventID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) selectedID() (string, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.rows) {
		return "", false
	}
	return m.rows[i].ID, true
}

func (m Model) schemeNames() map[string]string {
	names := make(map[string]string, len(m.rows))
	for _, r := range m.rows {
		names[r.ID] = r.Path
	}
	return names
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to hostsmaster..."
	}
	now := m.now()

	header := renderHeader(m.health, m.snapshot.WorkspaceName, m.ticker, m.pulse, m.theme, m.width, now)
	schemes := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("SCHEMES"), m.table.View()),
	)
	schedules := renderSchedules(m.rules, m.schemeNames(), m.theme, m.width, now)
	stream := renderEventStream(m.eventLog, m.theme, m.width, visibleEventCnt)

	parts := []string{header, schemes, schedules, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, " "+m.help.View(m.keys))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
