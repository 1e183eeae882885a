package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrDuplicateIntent    = errors.New("duplicate intent")
	ErrPositionLimit      = errors.New("position limit reached")
	ErrNotionalLimit      = errors.New("notional limit exceeded")
)

// ConnectError is a handshake or authentication failure on a feed. It is
// retried with backoff and is never fatal by itself.
type ConnectError struct {
	Feed     string
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (%s): %v", e.Feed, e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// DecodeError reports a message whose shape does not match the venue codec.
type DecodeError struct {
	Source string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Source, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SequenceError reports an out-of-order or duplicate observation.
type SequenceError struct {
	Source Source
	Last   uint64
	Got    uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence %s: got %d, last applied %d", e.Source, e.Got, e.Last)
}

// ExecutionError is a gateway rejection or timeout for one intent.
type ExecutionError struct {
	IdempotencyKey string
	Direction      Direction
	Err            error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s %s: %v", e.Direction, e.IdempotencyKey, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
