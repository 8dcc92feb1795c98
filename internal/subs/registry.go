// Package subs tracks the logical set of topics the client wants to hear
// and owns the physical subscription lifecycle: dedup, deferral while
// offline, and replay after every reconnect.
package subs

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/queueless/queuewatch/internal/metrics"
	"github.com/queueless/queuewatch/internal/queue"
)

// Kind is a topic kind.
type Kind string

const (
	// KindQueue is the per-queue broadcast topic. Any number of local
	// components may care about the same queue; the registry dedupes to one
	// physical subscription per queue id.
	KindQueue Kind = "queue"

	// KindUser is the authenticated user's private topic. Exactly one per
	// identity; the id parameter is ignored for topic naming.
	KindUser Kind = "user"
)

// Topic returns the broker destination for a (kind, id) pair.
func Topic(kind Kind, id string) string {
	if kind == KindUser {
		return "/user/queue/provider-updates"
	}
	return "/topic/queues/" + id
}

// Handler receives a normalized queue snapshot delivered on a subscription.
type Handler func(*queue.Queue)

// Sender is the slice of the connection manager the registry needs.
type Sender interface {
	SendSubscribe(id, destination string) error
	SendUnsubscribe(id string) error
}

type entry struct {
	kind    Kind
	id      string
	subID   string
	handler Handler
	live    bool
}

// Registry is the single owner of the physical subscription set. At most
// one physical subscription exists per (kind, id) pair at any time.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // registration order, for deterministic replay
	sender  Sender
	logger  *zap.Logger
}

// NewRegistry creates an empty registry talking to sender.
func NewRegistry(sender Sender, logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		sender:  sender,
		logger:  logger,
	}
}

func key(kind Kind, id string) string {
	if kind == KindUser {
		return string(KindUser)
	}
	return string(kind) + "/" + id
}

// Subscribe registers a logical subscription and attempts the physical one.
// While the connection is down, the registration is kept and replayed on
// the next successful connect rather than lost. Subscribing to an already
// registered topic only swaps the handler.
func (r *Registry) Subscribe(kind Kind, id string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(kind, id)
	if e, ok := r.entries[k]; ok {
		e.handler = h
		return
	}

	e := &entry{
		kind:    kind,
		id:      id,
		subID:   uuid.NewString(),
		handler: h,
	}
	r.entries[k] = e
	r.order = append(r.order, k)

	if err := r.sender.SendSubscribe(e.subID, Topic(kind, id)); err != nil {
		// Deferred: replayed by ResubscribeAll on the next connect.
		r.logger.Debug("subscription deferred until connect",
			zap.String("topic", Topic(kind, id)),
			zap.Error(err),
		)
		return
	}
	e.live = true
	r.logger.Info("subscribed", zap.String("topic", Topic(kind, id)))
}

// Unsubscribe removes the registration and cancels any live physical
// subscription. No-op when absent.
func (r *Registry) Unsubscribe(kind Kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(kind, id)
	e, ok := r.entries[k]
	if !ok {
		return
	}
	delete(r.entries, k)
	for i, ord := range r.order {
		if ord == k {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if e.live {
		if err := r.sender.SendUnsubscribe(e.subID); err != nil {
			r.logger.Debug("unsubscribe frame failed", zap.Error(err))
		}
	}
	r.logger.Info("unsubscribed", zap.String("topic", Topic(kind, id)))
}

// ResubscribeAll re-establishes every logical subscription, in registration
// order. Called once per successful (re)connect. Live physical
// subscriptions are cancelled first so a topic is never doubly subscribed.
func (r *Registry) ResubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range r.order {
		e := r.entries[k]
		if e.live {
			if err := r.sender.SendUnsubscribe(e.subID); err != nil {
				r.logger.Debug("stale unsubscribe failed", zap.Error(err))
			}
			e.live = false
		}
	}

	for _, k := range r.order {
		e := r.entries[k]
		if err := r.sender.SendSubscribe(e.subID, Topic(e.kind, e.id)); err != nil {
			r.logger.Warn("resubscribe failed",
				zap.String("topic", Topic(e.kind, e.id)),
				zap.Error(err),
			)
			continue
		}
		e.live = true
		metrics.Resubscribes.Inc()
	}

	r.logger.Info("subscriptions replayed", zap.Int("count", len(r.order)))
}

// HandleMessage routes an inbound MESSAGE body to the matching handler.
// Wire this to the connection manager's OnMessage hook. Unparseable bodies
// are logged and dropped; they never affect the connection or other topics.
func (r *Registry) HandleMessage(subID, destination string, body []byte) {
	r.mu.Lock()
	var target *entry
	for _, e := range r.entries {
		if e.subID == subID {
			target = e
			break
		}
	}
	if target == nil {
		// Fall back to destination matching for brokers that do not echo
		// the subscription id.
		for _, e := range r.entries {
			if Topic(e.kind, e.id) == destination {
				target = e
				break
			}
		}
	}
	handler := Handler(nil)
	if target != nil {
		handler = target.handler
	}
	r.mu.Unlock()

	if handler == nil {
		r.logger.Debug("message for unknown subscription",
			zap.String("subscriptionID", subID),
			zap.String("destination", destination),
		)
		return
	}

	q, err := queue.Decode(body)
	if err != nil {
		metrics.ParseFailures.Inc()
		r.logger.Warn("dropping unparseable snapshot",
			zap.String("destination", destination),
			zap.Error(err),
		)
		return
	}
	handler(q)
}

// QueueIDs lists the queue ids currently registered, in registration order.
// The polling fallback uses this as its fetch set.
func (r *Registry) QueueIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, k := range r.order {
		if e := r.entries[k]; e.kind == KindQueue {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// Clear cancels every live subscription and drops all registrations.
// Called on logout.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range r.order {
		e := r.entries[k]
		if e.live {
			if err := r.sender.SendUnsubscribe(e.subID); err != nil {
				r.logger.Debug("unsubscribe frame failed", zap.Error(err))
			}
		}
	}
	r.entries = make(map[string]*entry)
	r.order = nil
}
