package queue

import "sort"

// Facts are the values derived on demand from a snapshot. Position is never
// stored; it is always 1 + the index of the user's token among WAITING
// tokens in list order.
type Facts struct {
	// Position of the user's WAITING token, 1-based. Zero when the user
	// holds no WAITING token.
	Position int

	// NowServing is the IN_SERVICE token, nil when nobody is being served.
	NowServing *Token

	// IsBeingServed reports whether the user owns the IN_SERVICE token.
	IsBeingServed bool

	// ServiceAnomaly is set when the snapshot carried more than one
	// IN_SERVICE token and a deterministic winner was chosen.
	ServiceAnomaly bool

	// Per-status counts for dashboard statistics.
	Waiting   int
	InService int
	Completed int

	// EstimatedWaitMinutes is the queue's per-token estimate multiplied by
	// the number of WAITING tokens ahead of the user's token. Zero when the
	// user is not waiting.
	EstimatedWaitMinutes int
}

// Derive computes Facts for userID against q. Pure: it never mutates the
// snapshot and never fails, whatever the snapshot contains. When the
// at-most-one IN_SERVICE invariant is violated the token with the lowest
// TokenID wins, so every client derives the same answer.
func Derive(q *Queue, userID string) Facts {
	var f Facts
	if q == nil {
		return f
	}

	var inService []*Token
	position := 0
	for i := range q.Tokens {
		t := &q.Tokens[i]
		switch t.Status {
		case StatusWaiting:
			f.Waiting++
			if t.UserID == userID && f.Position == 0 {
				f.Position = f.Waiting
				position = f.Waiting
			}
		case StatusInService:
			f.InService++
			inService = append(inService, t)
		case StatusCompleted:
			f.Completed++
		}
	}

	if len(inService) > 0 {
		if len(inService) > 1 {
			f.ServiceAnomaly = true
			sort.Slice(inService, func(i, j int) bool {
				return inService[i].TokenID < inService[j].TokenID
			})
		}
		f.NowServing = inService[0]
		f.IsBeingServed = f.NowServing.UserID == userID
	}

	if position > 0 && q.EstimatedWaitTime > 0 {
		f.EstimatedWaitMinutes = (position - 1) * q.EstimatedWaitTime
	}

	return f
}
