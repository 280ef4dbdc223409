// Package watch is a terminal monitor for a running mirrorhost: it follows
// the /v1/events feed and shows query progress as the worker reports it.
package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/mirrorhost/internal/events"
)

const maxLogLines = 200

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusBad     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	timeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
)

type logLine struct {
	at   time.Time
	text string
}

// Model is the bubbletea model for the watch view.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	connected bool
	uptime    int64
	lines     []logLine
	lastError string

	hubEvents chan events.Event
}

// New creates a watch model pointed at a mirrorhost API.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		hubEvents: make(chan events.Event, 100),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case healthMsg:
		m.connected = true
		m.uptime = msg.UptimeSeconds

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.appendEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case sseDisconnectedMsg:
		m.connected = false
		return m, scheduleReconnect()

	case reconnectMsg:
		return m, tea.Batch(
			subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
			func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		)

	case errMsg:
		m.lastError = msg.Error()
	}
	return m, nil
}

func (m *Model) appendEvent(ev events.Event) {
	m.lines = append(m.lines, logLine{at: ev.At, text: renderEvent(ev)})
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

// renderEvent turns an event payload into one display line.
func renderEvent(ev events.Event) string {
	var payload map[string]any
	_ = json.Unmarshal(ev.Data, &payload)

	switch ev.Type {
	case events.TypeQueryStarted:
		talker, _ := payload["talker"].(string)
		question, _ := payload["question"].(string)
		return fmt.Sprintf("query started  talker=%s  %q", talker, question)
	case events.TypeQueryProgress:
		return progressStyle.Render("  " + lastTraceStep(payload))
	case events.TypeQueryResult:
		return statusOK.Render("query completed")
	case events.TypeQueryFailed:
		reason, _ := payload["error"].(string)
		return errorStyle.Render("query failed: " + reason)
	case events.TypeImportCompleted:
		talker, _ := payload["talker_id"].(string)
		return fmt.Sprintf("import completed  talker=%s", talker)
	case events.TypeSessionDeleted:
		talker, _ := payload["talker_id"].(string)
		return fmt.Sprintf("session deleted  talker=%s", talker)
	default:
		return ev.Type
	}
}

// lastTraceStep extracts the newest workflow step from a progress envelope.
func lastTraceStep(payload map[string]any) string {
	steps, _ := payload["trace_steps"].([]any)
	if len(steps) == 0 {
		return "working..."
	}
	last, _ := steps[len(steps)-1].(map[string]any)
	if name, ok := last["node_name_display"].(string); ok && name != "" {
		return name
	}
	if name, ok := last["node_name"].(string); ok && name != "" {
		return name
	}
	return "working..."
}

func (m *Model) View() string {
	var b strings.Builder

	status := statusBad.Render("disconnected")
	if m.connected {
		status = statusOK.Render(fmt.Sprintf("connected  up %ds", m.uptime))
	}
	b.WriteString(titleStyle.Render("mirrorhost watch") + "  " + status + "\n\n")

	visible := m.lines
	if max := m.height - 5; max > 0 && len(visible) > max {
		visible = visible[len(visible)-max:]
	}
	for _, line := range visible {
		b.WriteString(timeStyle.Render(line.at.Format("15:04:05")) + " " + line.text + "\n")
	}

	if m.lastError != "" {
		b.WriteString(errorStyle.Render("error: "+m.lastError) + "\n")
	}
	b.WriteString(helpStyle.Render("q to quit"))
	return b.String()
}
