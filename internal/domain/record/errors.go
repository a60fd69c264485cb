package record

import "errors"

// Sentinel errors for run record validation.
var (
	ErrInvalidTime        = errors.New("invalid time format")
	ErrDistanceOutOfRange = errors.New("distance out of range")
	ErrPaceOutOfRange     = errors.New("pace out of range")
	ErrInvalidTransition  = errors.New("invalid record status transition")
)
