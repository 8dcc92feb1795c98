package queue

import (
	"sort"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/queueless/queuewatch/internal/metrics"
)

// Store is the local cache of queue snapshots. Every application is a full
// replace of the queue with that id: snapshots carry no sequence number, so
// last-delivered-wins and applying the same snapshot twice is a no-op.
// Safe for concurrent readers; applied snapshots are never mutated in place.
type Store struct {
	mu        sync.RWMutex
	queues    map[string]*Queue
	anomalies atomic.Int64
	logger    *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		queues: make(map[string]*Queue),
		logger: logger,
	}
}

// Apply replaces the cached snapshot for q.ID wholesale. Snapshots with an
// empty id are dropped. A snapshot carrying more than one IN_SERVICE token
// is still applied; the violation is logged and counted, and Derive picks a
// deterministic winner.
func (s *Store) Apply(q *Queue) {
	if q == nil || q.ID == "" {
		return
	}

	if n := len(q.TokensByStatus(StatusInService)); n > 1 {
		s.anomalies.Inc()
		metrics.DuplicateInService.Inc()
		s.logger.Warn("snapshot violates at-most-one IN_SERVICE invariant",
			zap.String("queueID", q.ID),
			zap.Int("inService", n),
		)
	}

	s.mu.Lock()
	s.queues[q.ID] = q
	s.mu.Unlock()

	metrics.SnapshotsApplied.Inc()
	s.logger.Debug("snapshot applied",
		zap.String("queueID", q.ID),
		zap.Int("tokens", len(q.Tokens)),
	)
}

// Get returns the current snapshot for id. The returned queue must be
// treated as read-only.
func (s *Store) Get(id string) (*Queue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[id]
	return q, ok
}

// All returns every cached snapshot, sorted by queue id.
func (s *Store) All() []*Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Queue, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear drops all cached state. Called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.queues = make(map[string]*Queue)
	s.mu.Unlock()
}

// Anomalies returns how many applied snapshots violated the at-most-one
// IN_SERVICE invariant.
func (s *Store) Anomalies() int64 {
	return s.anomalies.Load()
}
