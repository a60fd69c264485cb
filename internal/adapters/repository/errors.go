package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound       = errors.New("user not found")
	ErrRecordNotFound = errors.New("record not found")
	ErrStatusConflict = errors.New("record status changed concurrently")
	ErrInvalidLimit   = errors.New("invalid leaderboard limit")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidName    = errors.New("user name must not be empty")
	ErrAlreadyGranted = errors.New("points already granted for record")
)
