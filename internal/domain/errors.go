package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrCredentialAbsent = errors.New("credential absent")
	ErrConfiguration    = errors.New("invalid configuration")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrLockHeld         = errors.New("lock already held")
)
