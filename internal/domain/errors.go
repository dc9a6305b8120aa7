package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConfig           = errors.New("invalid configuration")
	ErrSigning          = errors.New("signing failed")
	ErrNetwork          = errors.New("network request failed")
	ErrParse            = errors.New("malformed stream document")
	ErrOrder            = errors.New("order rejected")
	ErrInsufficientData = errors.New("insufficient data")
	ErrLockHeld         = errors.New("lock already held")
	ErrAlreadyRunning   = errors.New("already running")
	ErrWSDisconnect     = errors.New("websocket disconnected")
)
