package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/queueless/queuewatch/internal/conn"
	"github.com/queueless/queuewatch/internal/queue"
)

var (
	logoStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	headerStyle  = lipgloss.NewStyle().Background(lipgloss.Color("236")).Foreground(lipgloss.Color("252"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dangerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	selectStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderBody())
	b.WriteString("\n")
	b.WriteString(m.renderCommandBar())
	if m.statusMsg != "" {
		b.WriteString("\n")
		b.WriteString(m.renderStatus())
	}
	return b.String()
}

// renderHeader renders the top bar: logo, connection state, queue identity.
func (m Model) renderHeader() string {
	parts := []string{logoStyle.Render("queuewatch"), m.renderConnState()}

	if q, ok := m.sess.Queue(m.queueID); ok {
		name := q.ServiceName
		if name == "" {
			name = q.ID
		}
		parts = append(parts, accentStyle.Render(name))
		if q.Active() {
			parts = append(parts, successStyle.Render("ACTIVE"))
		} else {
			parts = append(parts, warnStyle.Render("PAUSED"))
		}
		parts = append(parts, mutedStyle.Render(fmt.Sprintf("tokens issued: %d", q.TokenCounter)))
	} else {
		parts = append(parts, mutedStyle.Render(m.queueID))
	}

	return headerStyle.Width(m.width).Render(" " + strings.Join(parts, "  "))
}

// renderConnState renders the connection state. It is always visible, in
// every screen, so a provider never acts on a stale view unknowingly.
func (m Model) renderConnState() string {
	switch m.connState {
	case conn.StateConnected:
		return successStyle.Render("● live")
	case conn.StateConnecting:
		return warnStyle.Render(m.spin.View() + "connecting")
	case conn.StateError:
		return dangerStyle.Render("● gave up (r to retry)")
	default:
		return dangerStyle.Render("● offline")
	}
}

// renderBody renders the now-serving panel and the waiting list.
func (m Model) renderBody() string {
	q, ok := m.sess.Queue(m.queueID)
	if !ok {
		return mutedStyle.Render("\n  waiting for first snapshot...")
	}

	facts := queue.Derive(q, m.sess.UserID())

	serving := "nobody"
	if facts.NowServing != nil {
		serving = describeToken(*facts.NowServing)
	}
	nowServing := panelStyle.Render(
		accentStyle.Render("Now serving") + "\n" + serving,
	)

	var rows []string
	waiting := q.TokensByStatus(queue.StatusWaiting)
	if len(waiting) == 0 {
		rows = append(rows, mutedStyle.Render("  queue is empty"))
	}
	for i, t := range waiting {
		line := fmt.Sprintf("%2d. %s", i+1, describeToken(t))
		if i == m.cursor {
			line = selectStyle.Render(line)
		}
		rows = append(rows, line)
	}

	stats := mutedStyle.Render(fmt.Sprintf(
		"waiting: %d  in service: %d  completed: %d",
		facts.Waiting, facts.InService, facts.Completed,
	))
	if facts.ServiceAnomaly {
		stats += "  " + dangerStyle.Render("! inconsistent snapshot, showing lowest token")
	}

	waitingPanel := panelStyle.Render(
		accentStyle.Render("Waiting") + "\n" + strings.Join(rows, "\n") + "\n\n" + stats,
	)

	return lipgloss.JoinVertical(lipgloss.Left, nowServing, waitingPanel)
}

// describeToken formats one token line.
func describeToken(t queue.Token) string {
	label := t.TokenID
	if t.UserDetails != nil && t.UserDetails.UserName != "" {
		label += "  " + t.UserDetails.UserName
	} else if t.UserID != "" {
		label += "  " + t.UserID
	}
	if t.IsGroup {
		label += mutedStyle.Render(fmt.Sprintf(" (group of %d)", len(t.GroupMembers)+1))
	}
	if t.IsEmergency {
		label += "  " + dangerStyle.Render("EMERGENCY")
	}
	return label
}

// renderCommandBar renders the key hints.
func (m Model) renderCommandBar() string {
	type cmd struct{ key, desc string }
	commands := []cmd{
		{"j/k", "navigate"},
		{"n", "serve next"},
		{"c", "complete"},
		{"x", "cancel"},
		{"J/K", "move"},
		{"a", "pause/resume"},
		{"q", "quit"},
	}
	if m.connState == conn.StateError {
		commands = append(commands, cmd{"r", "reconnect"})
	}

	segments := make([]string, 0, len(commands))
	for _, c := range commands {
		segments = append(segments, accentStyle.Render(c.key)+mutedStyle.Render(":"+c.desc))
	}
	return headerStyle.Width(m.width).Render(" " + strings.Join(segments, "  "))
}

// renderStatus renders the transient action result line.
func (m Model) renderStatus() string {
	if m.statusIsErr {
		return dangerStyle.Render(" " + m.statusMsg)
	}
	return mutedStyle.Render(" " + m.statusMsg)
}
