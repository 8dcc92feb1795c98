// Package ui is the Bubble Tea provider dashboard: a live view of one
// queue with keyboard-driven serve/complete/cancel/reorder actions.
package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/queueless/queuewatch/internal/conn"
	"github.com/queueless/queuewatch/internal/queue"
	"github.com/queueless/queuewatch/internal/session"
)

// actionTimeout bounds every mutation triggered from a keypress.
const actionTimeout = 10 * time.Second

// Options configures the dashboard.
type Options struct {
	Session *session.Session
	QueueID string
	Logger  *zap.Logger
}

// Model is the root Bubble Tea model.
type Model struct {
	sess    *session.Session
	queueID string
	logger  *zap.Logger

	width  int
	height int
	ready  bool

	connState conn.State
	spin      spinner.Model

	// cursor indexes into the WAITING sub-list of the current snapshot.
	cursor int

	// statusMsg is a transient one-line result of the last action.
	statusMsg   string
	statusIsErr bool
}

// New creates the dashboard model.
func New(opts Options) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		sess:      opts.Session,
		queueID:   opts.QueueID,
		logger:    opts.Logger,
		connState: opts.Session.State(),
		spin:      sp,
	}
}

// Messages

type sessionEventMsg session.Event

type actionResultMsg struct {
	label string
	err   error
}

// waitEventCmd blocks on the session's event stream and forwards the next
// event into the Bubble Tea loop.
func waitEventCmd(s *session.Session) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-s.Events()
		if !ok {
			return nil
		}
		return sessionEventMsg(e)
	}
}

// actionCmd runs a mutation off the UI goroutine and reports the result.
func actionCmd(label string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionResultMsg{label: label, err: fn(ctx)}
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		m.spin.Tick,
		waitEventCmd(m.sess),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case sessionEventMsg:
		e := session.Event(msg)
		switch e.Kind {
		case session.EventStateChanged:
			m.connState = e.State
		case session.EventQueueUpdated:
			m.clampCursor()
		case session.EventLoggedOut:
			return m, tea.Quit
		}
		// Re-arm for the next event.
		return m, waitEventCmd(m.sess)

	case actionResultMsg:
		if msg.err != nil {
			m.statusMsg = msg.label + ": " + msg.err.Error()
			m.statusIsErr = true
		} else {
			m.statusMsg = msg.label
			m.statusIsErr = false
		}
		return m, nil
	}

	return m, nil
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	d := m.sess.Dispatcher()

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "j", "down":
		if m.cursor < len(m.waiting())-1 {
			m.cursor++
		}
		return m, nil

	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "n":
		return m, actionCmd("serve next requested", func(context.Context) error {
			return d.ServeNext(m.queueID)
		})

	case "c":
		tok := m.nowServing()
		if tok == nil {
			m.statusMsg = "no token in service"
			m.statusIsErr = true
			return m, nil
		}
		id := tok.TokenID
		return m, actionCmd("completed "+id, func(ctx context.Context) error {
			return d.CompleteToken(ctx, m.queueID, id)
		})

	case "x":
		tok := m.selectedWaiting()
		if tok == nil {
			return m, nil
		}
		id := tok.TokenID
		return m, actionCmd("cancelled "+id, func(ctx context.Context) error {
			return d.CancelToken(ctx, m.queueID, id)
		})

	case "J", "shift+down":
		return m.moveSelected(1)

	case "K", "shift+up":
		return m.moveSelected(-1)

	case "a":
		q, ok := m.sess.Queue(m.queueID)
		if !ok {
			return m, nil
		}
		if q.Active() {
			return m, actionCmd("queue paused", func(ctx context.Context) error {
				return d.Deactivate(ctx, m.queueID)
			})
		}
		return m, actionCmd("queue resumed", func(ctx context.Context) error {
			return d.Activate(ctx, m.queueID)
		})

	case "r":
		if m.connState == conn.StateError || m.connState == conn.StateDisconnected {
			return m, actionCmd("reconnecting", func(ctx context.Context) error {
				return m.sess.Reconnect(ctx)
			})
		}
		return m, nil
	}

	return m, nil
}

// moveSelected swaps the selected WAITING token with its neighbor and
// submits the full reorder.
func (m Model) moveSelected(delta int) (tea.Model, tea.Cmd) {
	waiting := m.waiting()
	target := m.cursor + delta
	if m.cursor < 0 || m.cursor >= len(waiting) || target < 0 || target >= len(waiting) {
		return m, nil
	}

	order := make([]string, len(waiting))
	for i, t := range waiting {
		order[i] = t.TokenID
	}
	order[m.cursor], order[target] = order[target], order[m.cursor]
	m.cursor = target

	d := m.sess.Dispatcher()
	return m, actionCmd("reordered", func(ctx context.Context) error {
		return d.Reorder(ctx, m.queueID, order)
	})
}

// waiting returns the WAITING tokens of the current snapshot, in queue
// order.
func (m Model) waiting() []queue.Token {
	q, ok := m.sess.Queue(m.queueID)
	if !ok {
		return nil
	}
	return q.TokensByStatus(queue.StatusWaiting)
}

// nowServing returns the token currently in service, if any.
func (m Model) nowServing() *queue.Token {
	q, ok := m.sess.Queue(m.queueID)
	if !ok {
		return nil
	}
	facts := queue.Derive(q, m.sess.UserID())
	return facts.NowServing
}

// selectedWaiting returns the WAITING token under the cursor.
func (m Model) selectedWaiting() *queue.Token {
	waiting := m.waiting()
	if m.cursor < 0 || m.cursor >= len(waiting) {
		return nil
	}
	return &waiting[m.cursor]
}

func (m *Model) clampCursor() {
	if n := len(m.waiting()); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// Run starts the dashboard and blocks until it exits.
func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
