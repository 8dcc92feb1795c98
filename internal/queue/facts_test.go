package queue

import "testing"

func TestDerive_Position(t *testing.T) {
	q := testQueue("q-1",
		Token{TokenID: "A", Status: StatusWaiting, UserID: "u-a"},
		Token{TokenID: "B", Status: StatusWaiting, UserID: "u-b"},
		Token{TokenID: "C", Status: StatusWaiting, UserID: "u-c"},
		Token{TokenID: "D", Status: StatusInService, UserID: "u-d"},
	)

	facts := Derive(q, "u-b")
	if facts.Position != 2 {
		t.Errorf("expected position 2, got %d", facts.Position)
	}
	if facts.IsBeingServed {
		t.Error("waiting user should not be marked as being served")
	}

	served := Derive(q, "u-d")
	if !served.IsBeingServed {
		t.Error("expected IsBeingServed for IN_SERVICE holder")
	}
	if served.Position != 0 {
		t.Errorf("served user should have no waiting position, got %d", served.Position)
	}
	if served.NowServing == nil || served.NowServing.TokenID != "D" {
		t.Errorf("unexpected now serving: %+v", served.NowServing)
	}
}

func TestDerive_Counts(t *testing.T) {
	q := testQueue("q-1",
		Token{TokenID: "A", Status: StatusWaiting},
		Token{TokenID: "B", Status: StatusWaiting},
		Token{TokenID: "C", Status: StatusInService},
		Token{TokenID: "D", Status: StatusCompleted},
		Token{TokenID: "E", Status: StatusCompleted},
	)

	facts := Derive(q, "")
	if facts.Waiting != 2 || facts.InService != 1 || facts.Completed != 2 {
		t.Errorf("unexpected counts: %+v", facts)
	}
}

func TestDerive_DuplicateInService(t *testing.T) {
	// Two IN_SERVICE tokens is a backend data-integrity violation; the
	// lowest tokenId must win deterministically and nothing may panic.
	q := testQueue("q-1",
		Token{TokenID: "T-9", Status: StatusInService, UserID: "u-9"},
		Token{TokenID: "T-2", Status: StatusInService, UserID: "u-2"},
	)

	facts := Derive(q, "u-2")
	if !facts.ServiceAnomaly {
		t.Error("expected ServiceAnomaly to be set")
	}
	if facts.NowServing == nil || facts.NowServing.TokenID != "T-2" {
		t.Errorf("expected lowest tokenId to win, got %+v", facts.NowServing)
	}
	if !facts.IsBeingServed {
		t.Error("owner of the winning token should be marked served")
	}
}

func TestDerive_EstimatedWait(t *testing.T) {
	q := testQueue("q-1",
		Token{TokenID: "A", Status: StatusWaiting, UserID: "u-a"},
		Token{TokenID: "B", Status: StatusWaiting, UserID: "u-b"},
		Token{TokenID: "C", Status: StatusWaiting, UserID: "u-c"},
	)
	q.EstimatedWaitTime = 5

	if got := Derive(q, "u-a").EstimatedWaitMinutes; got != 0 {
		t.Errorf("front of queue should wait 0 minutes, got %d", got)
	}
	if got := Derive(q, "u-c").EstimatedWaitMinutes; got != 10 {
		t.Errorf("expected 10 minutes for position 3, got %d", got)
	}
}

func TestDerive_NilQueue(t *testing.T) {
	facts := Derive(nil, "u-1")
	if facts.Position != 0 || facts.NowServing != nil {
		t.Errorf("expected zero facts for nil queue, got %+v", facts)
	}
}
