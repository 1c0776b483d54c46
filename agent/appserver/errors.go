package appserver

import "errors"

// Sentinel errors surfaced by the adapter.
var (
	ErrLoginTimeout  = errors.New("login flow timed out")
	ErrLoginFailed   = errors.New("login flow failed")
	ErrLoginActive   = errors.New("a login flow is already in progress")
	ErrTurnActive    = errors.New("a turn is already in progress")
	ErrStreamMissing = errors.New("no user message to stream")
)
