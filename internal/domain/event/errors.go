package event

import "errors"

// Sentinel errors for window enforcement.
var (
	ErrEventClosed   = errors.New("event is not running")
	ErrBettingClosed = errors.New("betting window is closed")
)
