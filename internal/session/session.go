// Package session is the top-level lifecycle object: it owns the broker
// connection, the subscription registry, the local queue state, and the
// polling fallback, and exposes one coherent surface to the UI.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/queueless/queuewatch/internal/auth"
	"github.com/queueless/queuewatch/internal/config"
	"github.com/queueless/queuewatch/internal/conn"
	"github.com/queueless/queuewatch/internal/dispatch"
	"github.com/queueless/queuewatch/internal/metrics"
	"github.com/queueless/queuewatch/internal/queue"
	"github.com/queueless/queuewatch/internal/rest"
	"github.com/queueless/queuewatch/internal/subs"
)

// EventKind labels a session event.
type EventKind int

const (
	// EventStateChanged reports a connection state transition.
	EventStateChanged EventKind = iota

	// EventQueueUpdated reports that a queue snapshot was applied.
	EventQueueUpdated

	// EventLoggedOut reports a full logout, voluntary or forced by a
	// rejected credential.
	EventLoggedOut
)

// Event is a session notification for the UI layer.
type Event struct {
	Kind    EventKind
	State   conn.State
	QueueID string
}

// Session wires the connection manager, subscription registry, state store,
// REST client and dispatcher into one object with a login/logout lifecycle.
type Session struct {
	creds    *auth.Store
	claims   *auth.Claims
	manager  *conn.Manager
	registry *subs.Registry
	store    *queue.Store
	api      *rest.Client
	dispatch *dispatch.Dispatcher
	logger   *zap.Logger

	pollInterval time.Duration
	pollStop     chan struct{}

	events chan Event
}

// New assembles a session from configuration. Start must be called to go
// online.
func New(cfg *config.Config, creds *auth.Store, logger *zap.Logger) *Session {
	s := &Session{
		creds:  creds,
		store:  queue.NewStore(logger),
		logger: logger,
		events: make(chan Event, 64),
	}

	s.manager = conn.NewManager(conn.Options{
		URL:                  cfg.Broker.URL,
		Heartbeat:            cfg.Broker.Heartbeat(),
		ReconnectDelay:       cfg.Broker.ReconnectDelay(),
		MaxReconnectAttempts: cfg.Broker.MaxReconnectAttempts,
	}, creds, logger)

	s.registry = subs.NewRegistry(s.manager, logger)

	s.api = rest.NewClient(cfg.API.BaseURL, creds, cfg.API.RatePerSecond,
		cfg.API.Timeout(), cfg.API.RetryDelay(), cfg.API.RetryCount, logger)

	s.dispatch = dispatch.New(s.manager, s.api, s.store, logger)

	if cfg.Poll.Enabled {
		s.pollInterval = cfg.Poll.Interval()
	}

	s.manager.SetCallbacks(conn.Callbacks{
		OnConnect: s.registry.ResubscribeAll,
		OnMessage: s.registry.HandleMessage,
		OnAuthError: func(message string) {
			logger.Error("credential rejected by broker, logging out",
				zap.String("message", message))
			s.Logout()
		},
		OnStateChange: func(state conn.State) {
			s.emit(Event{Kind: EventStateChanged, State: state})
		},
	})

	return s
}

// Start validates the stored credential, subscribes the user-private topic,
// connects to the broker, and starts the polling fallback.
func (s *Session) Start(ctx context.Context) error {
	claims, err := auth.ParseClaims(s.creds.Credential())
	if err != nil {
		return err
	}
	if claims.Expired(time.Now()) {
		return fmt.Errorf("stored credential expired at %s", claims.ExpiresAt)
	}
	s.claims = claims

	s.registry.Subscribe(subs.KindUser, claims.UserID, s.applySnapshot)

	if err := s.manager.Connect(ctx); err != nil {
		// Stay up on transport failures: the poller covers the gap and a
		// later explicit Connect can recover. Credential failures are
		// fatal; a rejected credential has already forced a logout via
		// the auth error hook.
		if errors.Is(err, conn.ErrNoCredential) || errors.Is(err, conn.ErrAuthRejected) {
			return err
		}
		s.logger.Warn("initial broker connect failed, relying on polling",
			zap.Error(err))
	}

	if s.pollInterval > 0 {
		s.pollStop = make(chan struct{})
		go s.pollLoop(s.pollStop)
	}

	s.logger.Info("session started",
		zap.String("userID", claims.UserID),
		zap.String("role", claims.Role),
	)
	return nil
}

// Login validates and stores a new bearer credential. The next Start or
// Reconnect uses it.
func (s *Session) Login(credential string) error {
	claims, err := auth.ParseClaims(credential)
	if err != nil {
		return err
	}
	if claims.Expired(time.Now()) {
		return fmt.Errorf("credential already expired at %s", claims.ExpiresAt)
	}
	if err := s.creds.SetCredential(credential); err != nil {
		return err
	}
	s.claims = claims
	return nil
}

// WatchAll lists every visible queue and watches each one. Used by
// dashboard views that show all queues of a place.
func (s *Session) WatchAll(ctx context.Context) ([]*queue.Queue, error) {
	queues, err := s.api.ListQueues(ctx)
	if err != nil {
		return nil, err
	}
	for _, q := range queues {
		s.registry.Subscribe(subs.KindQueue, q.ID, s.applySnapshot)
		s.applySnapshot(q)
		if err := s.dispatch.RequestSnapshot(q.ID); err != nil {
			s.logger.Debug("snapshot request deferred", zap.String("queueID", q.ID), zap.Error(err))
		}
	}
	return queues, nil
}

// WatchQueue subscribes to a queue's broadcast topic, requests a fresh
// broadcast, and primes local state with a direct fetch so the caller is
// never staring at an empty queue while the broadcast is in flight.
func (s *Session) WatchQueue(ctx context.Context, queueID string) error {
	s.registry.Subscribe(subs.KindQueue, queueID, s.applySnapshot)

	if err := s.dispatch.RequestSnapshot(queueID); err != nil {
		s.logger.Debug("snapshot request deferred", zap.String("queueID", queueID), zap.Error(err))
	}

	q, err := s.api.GetQueue(ctx, queueID)
	if err != nil {
		return fmt.Errorf("priming queue %s: %w", queueID, err)
	}
	s.applySnapshot(q)
	return nil
}

// UnwatchQueue drops the queue's subscription. Cached state is kept; a
// later WatchQueue refreshes it.
func (s *Session) UnwatchQueue(queueID string) {
	s.registry.Unsubscribe(subs.KindQueue, queueID)
}

// Logout tears the session down completely: connection, subscriptions,
// cached state and the stored credential.
func (s *Session) Logout() {
	s.stopPolling()
	s.registry.Clear()
	s.manager.Disconnect()
	s.store.Clear()
	if err := s.creds.ClearCredential(); err != nil {
		s.logger.Warn("clearing stored credential failed", zap.Error(err))
	}
	s.claims = nil
	s.emit(Event{Kind: EventLoggedOut})
	s.logger.Info("logged out")
}

// Close disconnects and stops background work but keeps the stored
// credential, so the next run can resume without a fresh login.
func (s *Session) Close() {
	s.stopPolling()
	s.manager.Disconnect()
}

// Reconnect forces a fresh connection attempt, recovering from the
// terminal give-up state after exhausted reconnects.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.manager.Connect(ctx)
}

// State returns the connection state.
func (s *Session) State() conn.State {
	return s.manager.State()
}

// UserID returns the authenticated user's id, or "" before Start.
func (s *Session) UserID() string {
	if s.claims == nil {
		return ""
	}
	return s.claims.UserID
}

// Queue returns the cached snapshot for queueID.
func (s *Session) Queue(queueID string) (*queue.Queue, bool) {
	return s.store.Get(queueID)
}

// Queues returns every cached snapshot.
func (s *Session) Queues() []*queue.Queue {
	return s.store.All()
}

// Facts derives the authenticated user's view of queueID from cached state.
func (s *Session) Facts(queueID string) (queue.Facts, bool) {
	q, ok := s.store.Get(queueID)
	if !ok {
		return queue.Facts{}, false
	}
	return queue.Derive(q, s.UserID()), true
}

// Dispatcher exposes the mutation surface.
func (s *Session) Dispatcher() *dispatch.Dispatcher {
	return s.dispatch
}

// Store exposes the state store for read-only consumers.
func (s *Session) Store() *queue.Store {
	return s.store
}

// Events is the notification stream for the UI. Events are dropped, never
// blocked on, when the consumer falls behind.
func (s *Session) Events() <-chan Event {
	return s.events
}

// applySnapshot is the single sink for snapshots from every source: broker
// broadcasts, user-topic updates, REST primes and poll fetches.
func (s *Session) applySnapshot(q *queue.Queue) {
	s.store.Apply(q)
	s.emit(Event{Kind: EventQueueUpdated, QueueID: q.ID})
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Debug("dropping session event, consumer behind",
			zap.Int("kind", int(e.Kind)))
	}
}

// pollLoop is the REST fallback: while the broker connection is down it
// re-fetches every watched queue at a fixed interval and feeds the same
// snapshot sink the broadcasts use.
func (s *Session) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.manager.State() == conn.StateConnected {
				continue
			}
			s.pollOnce()
		}
	}
}

func (s *Session) pollOnce() {
	ids := s.registry.QueueIDs()
	if len(ids) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.pollInterval)
	defer cancel()

	for _, id := range ids {
		q, err := s.api.GetQueue(ctx, id)
		if err != nil {
			s.logger.Warn("poll fetch failed",
				zap.String("queueID", id),
				zap.Error(err),
			)
			continue
		}
		metrics.PollFetches.Inc()
		s.applySnapshot(q)
	}
}

func (s *Session) stopPolling() {
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
}
