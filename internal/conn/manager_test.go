package conn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/queueless/queuewatch/internal/stomp"
)

type staticCreds string

func (s staticCreds) Credential() string { return string(s) }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeBroker is a minimal STOMP-over-WebSocket broker for tests.
type fakeBroker struct {
	t *testing.T

	mu        sync.Mutex
	conns     []*websocket.Conn
	frames    []*stomp.Frame
	rejected  bool   // reply ERROR to CONNECT
	refuse    bool   // refuse the websocket upgrade entirely
	heartbeat string // CONNECTED heart-beat header, "0,0" when empty
}

func (b *fakeBroker) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		refuse := b.refuse
		b.mu.Unlock()
		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, ws)
		b.mu.Unlock()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if stomp.IsHeartbeat(data) {
				continue
			}
			frame, err := stomp.Parse(data)
			if err != nil {
				b.t.Errorf("broker received malformed frame: %v", err)
				continue
			}
			b.mu.Lock()
			b.frames = append(b.frames, frame)
			rejected := b.rejected
			hb := b.heartbeat
			b.mu.Unlock()
			if hb == "" {
				hb = "0,0"
			}

			if frame.Command == stomp.CmdConnect {
				var reply *stomp.Frame
				if rejected {
					reply = stomp.NewFrame(stomp.CmdError, nil, stomp.HdrMessage, "Invalid JWT token")
				} else {
					reply = stomp.NewFrame(stomp.CmdConnected, nil,
						stomp.HdrVersion, "1.2",
						stomp.HdrHeartBeat, hb,
					)
				}
				ws.WriteMessage(websocket.TextMessage, reply.Marshal())
			}
		}
	}
}

// publish sends a MESSAGE frame on the most recent connection.
func (b *fakeBroker) publish(subID, destination string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		b.t.Fatal("no broker connection to publish on")
	}
	ws := b.conns[len(b.conns)-1]
	frame := stomp.NewFrame(stomp.CmdMessage, body,
		stomp.HdrSubscription, subID,
		stomp.HdrDestination, destination,
	)
	ws.WriteMessage(websocket.TextMessage, frame.Marshal())
}

func (b *fakeBroker) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ws := range b.conns {
		ws.Close()
	}
	b.conns = nil
}

func (b *fakeBroker) framesByCommand(cmd stomp.Command) []*stomp.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*stomp.Frame
	for _, f := range b.frames {
		if f.Command == cmd {
			out = append(out, f)
		}
	}
	return out
}

func newTestManager(t *testing.T, brokerURL string, creds CredentialSource) *Manager {
	t.Helper()
	return NewManager(Options{
		URL:                  brokerURL,
		Heartbeat:            0, // disabled in most tests
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}, creds, zap.NewNop())
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConnect_HandshakeCarriesBearer(t *testing.T) {
	broker := &fakeBroker{t: t}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	m := newTestManager(t, wsURL(server), staticCreds("cred-abc"))
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Disconnect()

	if m.State() != StateConnected {
		t.Errorf("expected connected, got %s", m.State())
	}

	connects := broker.framesByCommand(stomp.CmdConnect)
	if len(connects) != 1 {
		t.Fatalf("expected 1 CONNECT frame, got %d", len(connects))
	}
	if got := connects[0].Header(stomp.HdrAuthorization); got != "Bearer cred-abc" {
		t.Errorf("unexpected Authorization header: %q", got)
	}

	// Idempotent: a second Connect is a no-op.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if len(broker.framesByCommand(stomp.CmdConnect)) != 1 {
		t.Error("second Connect must not open a new connection")
	}
}

func TestConnect_NoCredential(t *testing.T) {
	broker := &fakeBroker{t: t}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	m := newTestManager(t, wsURL(server), staticCreds(""))
	if err := m.Connect(context.Background()); err != ErrNoCredential {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestConnect_AuthRejected(t *testing.T) {
	broker := &fakeBroker{t: t, rejected: true}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	var authErr string
	m := newTestManager(t, wsURL(server), staticCreds("expired"))
	m.SetCallbacks(Callbacks{
		OnAuthError: func(msg string) { authErr = msg },
	})

	err := m.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if authErr == "" {
		t.Error("OnAuthError callback not invoked")
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected after auth rejection, got %s", m.State())
	}
}

func TestConnect_Handshake401(t *testing.T) {
	// The upgrade itself is rejected, before any STOMP traffic.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer server.Close()

	var authErr string
	m := newTestManager(t, wsURL(server), staticCreds("revoked"))
	m.SetCallbacks(Callbacks{
		OnAuthError: func(msg string) { authErr = msg },
	})

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if authErr == "" {
		t.Error("OnAuthError callback not invoked for a 401 handshake")
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected after 401, got %s", m.State())
	}
}

func TestSend_NotConnected(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1/ws", staticCreds("cred"))
	if err := m.Send("/app/queue/serve-next", map[string]string{"queueId": "q-1"}); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSend_DeliversJSONBody(t *testing.T) {
	broker := &fakeBroker{t: t}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	m := newTestManager(t, wsURL(server), staticCreds("cred"))
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	if err := m.Send("/app/queue/connect", map[string]string{"queueId": "q-1"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return len(broker.framesByCommand(stomp.CmdSend)) == 1
	})
	sent := broker.framesByCommand(stomp.CmdSend)[0]
	if got := sent.Header(stomp.HdrDestination); got != "/app/queue/connect" {
		t.Errorf("unexpected destination: %q", got)
	}
	if string(sent.Body) != `{"queueId":"q-1"}` {
		t.Errorf("unexpected body: %s", sent.Body)
	}
}

func TestOnMessage_Delivery(t *testing.T) {
	broker := &fakeBroker{t: t}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	var mu sync.Mutex
	var got [][]byte
	m := newTestManager(t, wsURL(server), staticCreds("cred"))
	m.SetCallbacks(Callbacks{
		OnMessage: func(subID, dest string, body []byte) {
			mu.Lock()
			got = append(got, body)
			mu.Unlock()
		},
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	broker.publish("sub-1", "/topic/queues/q-1", []byte(`{"id":"q-1"}`))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
}

func TestReconnect_AfterDrop(t *testing.T) {
	broker := &fakeBroker{t: t}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	var mu sync.Mutex
	connects := 0
	m := newTestManager(t, wsURL(server), staticCreds("cred"))
	m.SetCallbacks(Callbacks{
		OnConnect: func() {
			mu.Lock()
			connects++
			mu.Unlock()
		},
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	broker.dropAll()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 2 && m.State() == StateConnected
	})
}

func TestHeartbeatTimeout_TriggersReconnect(t *testing.T) {
	// Broker negotiates 20ms heart-beats but never sends any; the silent
	// connection must be declared dead and redialed.
	broker := &fakeBroker{t: t, heartbeat: "20,20"}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	var mu sync.Mutex
	connects, disconnects := 0, 0
	m := NewManager(Options{
		URL:                  wsURL(server),
		Heartbeat:            20 * time.Millisecond,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 10,
	}, staticCreds("cred"), zap.NewNop())
	m.SetCallbacks(Callbacks{
		OnConnect: func() {
			mu.Lock()
			connects++
			mu.Unlock()
		},
		OnDisconnect: func() {
			mu.Lock()
			disconnects++
			mu.Unlock()
		},
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnects >= 1 && connects >= 2
	})
}

func TestConnectionLoss_StaleGenerationClosesSocket(t *testing.T) {
	broker := &fakeBroker{t: t}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	m := newTestManager(t, wsURL(server), staticCreds("cred"))
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	// Stands in for the socket of a pump that was superseded by a newer
	// connection.
	stale, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dialing stale socket: %v", err)
	}

	m.handleConnectionLoss(stale, 0)

	if m.State() != StateConnected {
		t.Errorf("live connection must be untouched, got %s", m.State())
	}
	stale.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := stale.ReadMessage(); err == nil {
		t.Error("stale socket must be closed")
	}
}

func TestConnect_ConcurrentCallsDialOnce(t *testing.T) {
	broker := &fakeBroker{t: t}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	m := newTestManager(t, wsURL(server), staticCreds("cred"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Connect(context.Background()); err != nil {
				t.Errorf("connect: %v", err)
			}
		}()
	}
	wg.Wait()
	defer m.Disconnect()

	if m.State() != StateConnected {
		t.Fatalf("expected connected, got %s", m.State())
	}
	if n := len(broker.framesByCommand(stomp.CmdConnect)); n != 1 {
		t.Errorf("expected exactly 1 CONNECT frame, got %d", n)
	}
}

func TestReconnect_BoundedAttempts(t *testing.T) {
	broker := &fakeBroker{t: t}
	server := httptest.NewServer(broker.handler())

	m := newTestManager(t, wsURL(server), staticCreds("cred"))
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Refuse all further upgrades, then drop the live connection.
	broker.mu.Lock()
	broker.refuse = true
	broker.mu.Unlock()
	broker.dropAll()

	waitFor(t, 5*time.Second, func() bool {
		return m.State() == StateError
	})

	// Terminal state: no spontaneous recovery even after the broker heals.
	broker.mu.Lock()
	broker.refuse = false
	broker.mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	if m.State() != StateError {
		t.Errorf("expected terminal error state, got %s", m.State())
	}

	// Explicit Connect recovers.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("explicit reconnect: %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("expected connected after explicit reconnect, got %s", m.State())
	}
	m.Disconnect()
	server.Close()
}

func TestDisconnect_Idempotent(t *testing.T) {
	m := newTestManager(t, "ws://localhost:1/ws", staticCreds("cred"))
	m.Disconnect()
	m.Disconnect()
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestMalformedFrame_DoesNotKillConnection(t *testing.T) {
	broker := &fakeBroker{t: t}
	server := httptest.NewServer(broker.handler())
	defer server.Close()

	var mu sync.Mutex
	var bodies [][]byte
	m := newTestManager(t, wsURL(server), staticCreds("cred"))
	m.SetCallbacks(Callbacks{
		OnMessage: func(_, _ string, body []byte) {
			mu.Lock()
			bodies = append(bodies, body)
			mu.Unlock()
		},
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	// Garbage, then a valid message: the valid one must still arrive.
	broker.mu.Lock()
	ws := broker.conns[len(broker.conns)-1]
	broker.mu.Unlock()
	ws.WriteMessage(websocket.TextMessage, []byte("GARBAGE\nframe"))
	broker.publish("sub-1", "/topic/queues/q-1", []byte(`{"id":"q-1"}`))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 1
	})
	if m.State() != StateConnected {
		t.Errorf("connection should survive malformed frames, got %s", m.State())
	}
}

func TestBackoffDelay_Capped(t *testing.T) {
	for attempt := 1; attempt < 20; attempt++ {
		d := backoffDelay(5*time.Second, attempt)
		if d > maxReconnectDelay {
			t.Fatalf("attempt %d: delay %v exceeds cap", attempt, d)
		}
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempt, d)
		}
	}
}
