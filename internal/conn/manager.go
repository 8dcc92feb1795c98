// Package conn owns the single physical broker connection: the STOMP
// handshake, heart-beats, reconnect-with-backoff, and the send primitives
// the rest of the sync layer builds on.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/queueless/queuewatch/internal/metrics"
	"github.com/queueless/queuewatch/internal/stomp"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from the broker.
	maxMessageSize = 512 * 1024 // 512KB

	// Read deadline is this multiple of the negotiated inbound heart-beat
	// interval; a silent connection older than that is treated as dead.
	heartbeatGrace = 3

	// Upper bound on the backoff delay between reconnect attempts.
	maxReconnectDelay = time.Minute
)

var (
	// ErrNotConnected is returned by Send when no live connection exists.
	// The caller decides whether to retry; nothing is queued.
	ErrNotConnected = errors.New("not connected to broker")

	// ErrNoCredential is returned by Connect when no bearer credential is
	// available. This is fatal: connecting is not retried.
	ErrNoCredential = errors.New("no bearer credential for broker handshake")

	// ErrAuthRejected is surfaced when the broker refuses the credential.
	ErrAuthRejected = errors.New("broker rejected credential")
)

// State is the externally visible connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// CredentialSource supplies the bearer credential at connect time.
type CredentialSource interface {
	Credential() string
}

// Callbacks are the event hooks the session layer wires in. All of them are
// invoked from the manager's goroutines; OnMessage calls are sequential, in
// broker delivery order.
type Callbacks struct {
	// OnConnect fires after the CONNECTED frame, before the manager reports
	// StateConnected, so subscriptions are replayed before UI-facing state
	// flips to connected.
	OnConnect func()

	// OnMessage delivers a MESSAGE frame body.
	OnMessage func(subscriptionID, destination string, body []byte)

	// OnDisconnect fires on any teardown of a live connection.
	OnDisconnect func()

	// OnAuthError fires when the broker rejects the credential. The session
	// layer reacts with a full logout.
	OnAuthError func(message string)

	// OnStateChange reports every externally visible state transition.
	OnStateChange func(State)
}

// Options configure a Manager.
type Options struct {
	URL                  string
	Heartbeat            time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// Manager owns one physical connection. Connect is idempotent; Send fails
// fast when the connection is down.
type Manager struct {
	opts   Options
	creds  CredentialSource
	cb     Callbacks
	logger *zap.Logger
	dialer *websocket.Dialer

	state    atomic.Int32
	attempts atomic.Int32
	closing  atomic.Bool

	mu      sync.Mutex // guards ws, live, generation
	ws      *websocket.Conn
	live    bool
	gen     int // increments per physical connection, stales old pumps
	writeMu sync.Mutex

	stopHeartbeat chan struct{}
}

// NewManager creates a manager. Connect must be called to open the
// connection.
func NewManager(opts Options, creds CredentialSource, logger *zap.Logger) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	return &Manager{
		opts:   opts,
		creds:  creds,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{"v12.stomp", "v11.stomp"},
		},
	}
}

// SetCallbacks installs the event hooks. Must be called before Connect.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.cb = cb
}

// State returns the externally visible connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	metrics.ConnectionState.Set(float64(s))
	if old != s && m.cb.OnStateChange != nil {
		m.cb.OnStateChange(s)
	}
}

// casState transitions from -> to atomically, reporting the change. Used
// where two paths may race for the same transition.
func (m *Manager) casState(from, to State) bool {
	if !m.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	metrics.ConnectionState.Set(float64(to))
	if m.cb.OnStateChange != nil {
		m.cb.OnStateChange(to)
	}
	return true
}

// Connect opens the physical connection and performs the STOMP handshake.
// No-op when already connected or while a connect, including a scheduled
// reconnect, is in flight. A missing credential is a hard failure that is
// not retried.
func (m *Manager) Connect(ctx context.Context) error {
	credential := m.creds.Credential()
	if credential == "" {
		m.logger.Error("cannot connect: no bearer credential")
		return ErrNoCredential
	}

	// Only one caller wins the transition to Connecting; a Connect racing
	// a scheduled reconnect must not double-dial.
	if !m.casState(StateDisconnected, StateConnecting) &&
		!m.casState(StateError, StateConnecting) {
		return nil
	}
	m.closing.Store(false)

	if err := m.dial(ctx, credential); err != nil {
		m.setState(StateDisconnected)
		return err
	}
	return nil
}

// dial performs one connection attempt: WebSocket dial, CONNECT frame,
// CONNECTED reply, then pump startup and subscription replay.
func (m *Manager) dial(ctx context.Context, credential string) error {
	ws, resp, err := m.dialer.DialContext(ctx, m.opts.URL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			// Same failure as a broker-level credential rejection, just
			// caught earlier. The session reacts with a full logout.
			if m.cb.OnAuthError != nil {
				m.cb.OnAuthError("handshake rejected with 401")
			}
			return fmt.Errorf("%w: handshake returned 401", ErrAuthRejected)
		}
		return fmt.Errorf("dialing broker: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	offer := stomp.HeartBeat{SendInterval: m.opts.Heartbeat, RecvInterval: m.opts.Heartbeat}
	connect := stomp.NewFrame(stomp.CmdConnect, nil,
		stomp.HdrAcceptVersion, "1.1,1.2",
		stomp.HdrHost, hostOf(m.opts.URL),
		stomp.HdrAuthorization, "Bearer "+credential,
		stomp.HdrHeartBeat, offer.String(),
	)
	if err := m.writeFrame(ws, connect.Marshal()); err != nil {
		ws.Close()
		return fmt.Errorf("sending CONNECT: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(writeWait))
	reply, err := m.readFrame(ws)
	if err != nil {
		ws.Close()
		return fmt.Errorf("waiting for CONNECTED: %w", err)
	}

	switch reply.Command {
	case stomp.CmdConnected:
		// fall through
	case stomp.CmdError:
		ws.Close()
		msg := reply.Header(stomp.HdrMessage)
		if isAuthError(msg) {
			if m.cb.OnAuthError != nil {
				m.cb.OnAuthError(msg)
			}
			return fmt.Errorf("%w: %s", ErrAuthRejected, msg)
		}
		return fmt.Errorf("broker error during handshake: %s", msg)
	default:
		ws.Close()
		return fmt.Errorf("unexpected %s frame during handshake", reply.Command)
	}

	hb := offer
	if v := reply.Header(stomp.HdrHeartBeat); v != "" {
		server, err := stomp.ParseHeartBeat(v)
		if err != nil {
			m.logger.Warn("ignoring malformed server heart-beat header", zap.String("value", v))
		} else {
			hb = stomp.Negotiate(offer, server)
		}
	}

	m.mu.Lock()
	m.ws = ws
	m.live = true
	m.gen++
	gen := m.gen
	m.stopHeartbeat = make(chan struct{})
	m.mu.Unlock()

	m.attempts.Store(0)

	m.logger.Info("broker connected",
		zap.String("url", m.opts.URL),
		zap.String("heartbeat", hb.String()),
	)

	// Replay subscriptions before reporting connected, so no UI-facing
	// consumer observes a connected state with dead subscriptions.
	if m.cb.OnConnect != nil {
		m.cb.OnConnect()
	}
	m.setState(StateConnected)

	go m.readPump(ws, gen, hb.RecvInterval)
	if hb.SendInterval > 0 {
		go m.heartbeatPump(ws, m.stopHeartbeat, hb.SendInterval)
	}
	return nil
}

// Disconnect closes the physical connection. It does not touch logical
// subscriptions; the session layer owns those. Safe to call when already
// disconnected.
func (m *Manager) Disconnect() {
	m.closing.Store(true)

	m.mu.Lock()
	ws := m.ws
	m.ws = nil
	wasLive := m.live
	m.live = false
	if m.stopHeartbeat != nil {
		close(m.stopHeartbeat)
		m.stopHeartbeat = nil
	}
	m.mu.Unlock()

	if ws != nil {
		frame := stomp.NewFrame(stomp.CmdDisconnect, nil)
		_ = m.writeFrame(ws, frame.Marshal())
		ws.Close()
	}

	m.setState(StateDisconnected)
	if wasLive && m.cb.OnDisconnect != nil {
		m.cb.OnDisconnect()
	}
	m.logger.Info("broker disconnected")
}

// Send publishes body as JSON to an application destination. Fails with
// ErrNotConnected when the connection is down; the message is never queued.
func (m *Manager) Send(destination string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding message body: %w", err)
	}
	frame := stomp.NewFrame(stomp.CmdSend, payload,
		stomp.HdrDestination, destination,
		stomp.HdrContentType, "application/json",
	)
	return m.sendFrame(frame)
}

// SendSubscribe issues a SUBSCRIBE frame for the given subscription id and
// destination.
func (m *Manager) SendSubscribe(id, destination string) error {
	frame := stomp.NewFrame(stomp.CmdSubscribe, nil,
		stomp.HdrID, id,
		stomp.HdrDestination, destination,
	)
	return m.sendFrame(frame)
}

// SendUnsubscribe issues an UNSUBSCRIBE frame for the given subscription id.
func (m *Manager) SendUnsubscribe(id string) error {
	frame := stomp.NewFrame(stomp.CmdUnsubscribe, nil,
		stomp.HdrID, id,
	)
	return m.sendFrame(frame)
}

func (m *Manager) sendFrame(frame *stomp.Frame) error {
	m.mu.Lock()
	ws := m.ws
	live := m.live
	m.mu.Unlock()

	if !live || ws == nil {
		return ErrNotConnected
	}
	if err := m.writeFrame(ws, frame.Marshal()); err != nil {
		return fmt.Errorf("writing %s frame: %w", frame.Command, err)
	}
	return nil
}

func (m *Manager) writeFrame(ws *websocket.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// readFrame reads websocket messages until a non-heartbeat STOMP frame
// arrives.
func (m *Manager) readFrame(ws *websocket.Conn) (*stomp.Frame, error) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if stomp.IsHeartbeat(data) {
			continue
		}
		return stomp.Parse(data)
	}
}

// readPump is the single delivery path for broker traffic on one physical
// connection. Message handlers run on this goroutine, so application order
// equals delivery order.
func (m *Manager) readPump(ws *websocket.Conn, gen int, recvInterval time.Duration) {
	readDeadline := func() {
		if recvInterval > 0 {
			ws.SetReadDeadline(time.Now().Add(heartbeatGrace * recvInterval))
		} else {
			ws.SetReadDeadline(time.Time{})
		}
	}
	readDeadline()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !m.closing.Load() {
				m.logger.Debug("broker read error", zap.Error(err))
			}
			m.handleConnectionLoss(ws, gen)
			return
		}
		readDeadline()

		if stomp.IsHeartbeat(data) {
			continue
		}

		frame, err := stomp.Parse(data)
		if err != nil {
			// Parse failures never take down the connection.
			metrics.ParseFailures.Inc()
			m.logger.Warn("dropping unparseable broker frame", zap.Error(err))
			continue
		}

		switch frame.Command {
		case stomp.CmdMessage:
			if m.cb.OnMessage != nil {
				m.cb.OnMessage(frame.Header(stomp.HdrSubscription), frame.Header(stomp.HdrDestination), frame.Body)
			}
		case stomp.CmdError:
			msg := frame.Header(stomp.HdrMessage)
			m.logger.Error("broker ERROR frame", zap.String("message", msg))
			if isAuthError(msg) {
				if m.cb.OnAuthError != nil {
					m.cb.OnAuthError(msg)
				}
				m.Disconnect()
				return
			}
		case stomp.CmdReceipt:
			m.logger.Debug("broker receipt", zap.String("receiptID", frame.Header("receipt-id")))
		default:
			m.logger.Debug("ignoring broker frame", zap.String("command", string(frame.Command)))
		}
	}
}

// heartbeatPump emits outbound heart-beats at the negotiated interval.
func (m *Manager) heartbeatPump(ws *websocket.Conn, stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.writeFrame(ws, stomp.Heartbeat()); err != nil {
				m.logger.Debug("heartbeat write failed", zap.Error(err))
				return
			}
		}
	}
}

// handleConnectionLoss reacts to an unexpected drop of connection gen:
// tears down local state and schedules a reconnect with backoff, up to the
// attempt ceiling. ws is the failed pump's socket; nil when the caller has
// no socket of its own.
func (m *Manager) handleConnectionLoss(ws *websocket.Conn, gen int) {
	m.mu.Lock()
	if m.gen != gen {
		// A newer connection already exists; this pump is stale. Its
		// socket still has to go.
		m.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}
	cur := m.ws
	m.ws = nil
	wasLive := m.live
	m.live = false
	if m.stopHeartbeat != nil {
		close(m.stopHeartbeat)
		m.stopHeartbeat = nil
	}
	m.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	if wasLive && m.cb.OnDisconnect != nil {
		m.cb.OnDisconnect()
	}

	if m.closing.Load() {
		m.setState(StateDisconnected)
		return
	}

	attempt := int(m.attempts.Inc())
	if attempt > m.opts.MaxReconnectAttempts {
		// Terminal: stay down until an explicit Connect call.
		m.logger.Error("max reconnect attempts reached, giving up",
			zap.Int("attempts", m.opts.MaxReconnectAttempts),
		)
		m.setState(StateError)
		return
	}

	delay := backoffDelay(m.opts.ReconnectDelay, attempt)
	m.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Int("maxAttempts", m.opts.MaxReconnectAttempts),
		zap.Duration("delay", delay),
	)
	m.setState(StateConnecting)
	metrics.Reconnects.Inc()

	time.AfterFunc(delay, func() {
		if m.closing.Load() || m.State() == StateConnected {
			return
		}
		credential := m.creds.Credential()
		if credential == "" {
			m.logger.Error("cannot reconnect: credential gone")
			m.setState(StateDisconnected)
			return
		}
		if err := m.dial(context.Background(), credential); err != nil {
			m.logger.Warn("reconnect attempt failed", zap.Error(err))
			if errors.Is(err, ErrAuthRejected) {
				m.setState(StateDisconnected)
				return
			}
			m.handleConnectionLoss(nil, gen)
		}
	})
}

// backoffDelay computes exponential backoff with jitter: base * 2^(n-1)
// plus up to half of that, capped at maxReconnectDelay.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > maxReconnectDelay || d <= 0 {
		d = maxReconnectDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	if d+jitter > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d + jitter
}

// isAuthError classifies a broker ERROR message as credential-related.
func isAuthError(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "jwt") ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "credential")
}

// hostOf extracts the host for the CONNECT frame's host header.
func hostOf(wsURL string) string {
	rest := wsURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
