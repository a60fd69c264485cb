package service

import "errors"

// Sentinel errors returned by the service in addition to the domain and
// repository ones it passes through.
var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidLimit  = errors.New("invalid limit")
	ErrUnknownDriver = errors.New("unknown store driver")
)
