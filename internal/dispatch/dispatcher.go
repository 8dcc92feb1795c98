// Package dispatch binds user-initiated queue mutations to their transport:
// broadcast triggers over the messaging channel for serve-next and snapshot
// requests, request/response REST calls for everything else.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/queueless/queuewatch/internal/queue"
	"github.com/queueless/queuewatch/internal/rest"
)

// Broker destinations for broadcast triggers.
const (
	destConnect   = "/app/queue/connect"
	destServeNext = "/app/queue/serve-next"
)

var (
	// ErrUnknownQueue is returned when a mutation references a queue the
	// local store has never seen.
	ErrUnknownQueue = errors.New("queue not in local state")

	// ErrBadReorder is returned when the requested waiting order is not a
	// permutation of the queue's WAITING tokens.
	ErrBadReorder = errors.New("reorder list does not match waiting tokens")
)

// BroadcastSender sends fire-and-forget messages over the real-time
// channel.
type BroadcastSender interface {
	Send(destination string, body any) error
}

// Dispatcher routes mutations and reconciles their outcome into the local
// store. After every successful REST mutation it feeds the authoritative
// response (or a re-fetch) to the store; the broadcast snapshot that
// follows applies idempotently on top.
type Dispatcher struct {
	sender BroadcastSender
	api    *rest.Client
	store  *queue.Store
	logger *zap.Logger
}

// New creates a dispatcher.
func New(sender BroadcastSender, api *rest.Client, store *queue.Store, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, api: api, store: store, logger: logger}
}

// RequestSnapshot asks the backend to publish the queue's current state on
// its topic. Fire-and-forget; the reply arrives as a broadcast.
func (d *Dispatcher) RequestSnapshot(queueID string) error {
	return d.sender.Send(destConnect, map[string]string{"queueId": queueID})
}

// ServeNext triggers IN_SERVICE assignment of the next WAITING token. The
// updated state arrives as a broadcast snapshot, not as a reply.
func (d *Dispatcher) ServeNext(queueID string) error {
	return d.sender.Send(destServeNext, map[string]string{"queueId": queueID})
}

// AddToken joins the queue as userID.
func (d *Dispatcher) AddToken(ctx context.Context, queueID, userID string) (*queue.Token, error) {
	tok, err := d.api.AddToken(ctx, queueID, userID)
	if err != nil {
		return nil, err
	}
	d.refresh(ctx, queueID)
	return tok, nil
}

// AddGroupToken joins the queue with a group token.
func (d *Dispatcher) AddGroupToken(ctx context.Context, queueID, userID string, members []queue.GroupMember) (*queue.Token, error) {
	tok, err := d.api.AddGroupToken(ctx, queueID, userID, members)
	if err != nil {
		return nil, err
	}
	d.refresh(ctx, queueID)
	return tok, nil
}

// AddEmergencyToken joins the queue with an emergency token.
func (d *Dispatcher) AddEmergencyToken(ctx context.Context, queueID, userID, details string) (*queue.Token, error) {
	tok, err := d.api.AddEmergencyToken(ctx, queueID, userID, details)
	if err != nil {
		return nil, err
	}
	d.refresh(ctx, queueID)
	return tok, nil
}

// AddTokenWithDetails joins the queue attaching a details block.
func (d *Dispatcher) AddTokenWithDetails(ctx context.Context, queueID string, req rest.TokenDetailsRequest) (*queue.Token, error) {
	tok, err := d.api.AddTokenWithDetails(ctx, queueID, req)
	if err != nil {
		return nil, err
	}
	d.refresh(ctx, queueID)
	return tok, nil
}

// CancelToken removes a WAITING token.
func (d *Dispatcher) CancelToken(ctx context.Context, queueID, tokenID string) error {
	if err := d.api.CancelToken(ctx, queueID, tokenID); err != nil {
		return err
	}
	d.refresh(ctx, queueID)
	return nil
}

// CompleteToken completes the token in service.
func (d *Dispatcher) CompleteToken(ctx context.Context, queueID, tokenID string) error {
	if err := d.api.CompleteToken(ctx, queueID, tokenID); err != nil {
		return err
	}
	d.refresh(ctx, queueID)
	return nil
}

// Activate resumes a paused queue.
func (d *Dispatcher) Activate(ctx context.Context, queueID string) error {
	q, err := d.api.Activate(ctx, queueID)
	if err != nil {
		return err
	}
	d.store.Apply(q)
	return nil
}

// Deactivate pauses a queue.
func (d *Dispatcher) Deactivate(ctx context.Context, queueID string) error {
	q, err := d.api.Deactivate(ctx, queueID)
	if err != nil {
		return err
	}
	d.store.Apply(q)
	return nil
}

// Reorder permutes the WAITING sub-list of the queue to waitingOrder (a
// list of token ids). The full desired ordering of all tokens is computed
// locally (non-WAITING tokens keep their relative order, ahead of the
// waiting block) and submitted wholesale for the backend to validate. The
// local ordering is not authoritative until the backend's snapshot
// confirms it.
func (d *Dispatcher) Reorder(ctx context.Context, queueID string, waitingOrder []string) error {
	q, ok := d.store.Get(queueID)
	if !ok {
		return ErrUnknownQueue
	}

	full, err := spliceWaiting(q.Tokens, waitingOrder)
	if err != nil {
		return err
	}

	updated, err := d.api.Reorder(ctx, queueID, full)
	if err != nil {
		return err
	}
	d.store.Apply(updated)
	return nil
}

// spliceWaiting builds the complete token list with the WAITING sub-list
// permuted to waitingOrder and every non-WAITING token retaining its
// relative position ahead of the waiting block.
func spliceWaiting(tokens []queue.Token, waitingOrder []string) ([]queue.Token, error) {
	waiting := make(map[string]queue.Token)
	var others []queue.Token
	for _, t := range tokens {
		if t.Status == queue.StatusWaiting {
			waiting[t.TokenID] = t
		} else {
			others = append(others, t)
		}
	}

	if len(waitingOrder) != len(waiting) {
		return nil, fmt.Errorf("%w: got %d ids, queue has %d waiting tokens",
			ErrBadReorder, len(waitingOrder), len(waiting))
	}

	full := make([]queue.Token, 0, len(tokens))
	full = append(full, others...)
	for _, id := range waitingOrder {
		t, ok := waiting[id]
		if !ok {
			return nil, fmt.Errorf("%w: token %s is not waiting", ErrBadReorder, id)
		}
		delete(waiting, id)
		full = append(full, t)
	}
	return full, nil
}

// refresh proactively re-fetches the queue after a mutation and feeds the
// reconciler, instead of waiting for the broadcast. Applying both is safe:
// snapshot application is idempotent. Failures are logged only; the
// broadcast path will converge the state.
func (d *Dispatcher) refresh(ctx context.Context, queueID string) {
	q, err := d.api.GetQueue(ctx, queueID)
	if err != nil {
		d.logger.Warn("post-mutation refresh failed",
			zap.String("queueID", queueID),
			zap.Error(err),
		)
		return
	}
	d.store.Apply(q)
}
