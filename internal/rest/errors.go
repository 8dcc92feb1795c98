package rest

import "errors"

// Business errors surfaced to the caller. They are user-actionable and
// never destabilize the connection layer.
var (
	ErrConflict     = errors.New("conflicting request (active token already held or queue paused)")
	ErrBadRequest   = errors.New("invalid mutation payload")
	ErrForbidden    = errors.New("not authorized for this queue")
	ErrUnauthorized = errors.New("credential missing or rejected")
	ErrNotFound     = errors.New("queue or token not found")
)
