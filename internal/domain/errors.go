package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrNoEligibleVenue     = errors.New("no eligible venue")
	ErrSliceDispatchFailed = errors.New("slice dispatch failed")
	ErrExecutionTimeout    = errors.New("execution timeout")
	ErrCancelled           = errors.New("execution cancelled")
	ErrRateLimited         = errors.New("rate limited")
	ErrStaleSnapshot       = errors.New("stale liquidity snapshot")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrContextDone         = errors.New("context cancelled")
)
