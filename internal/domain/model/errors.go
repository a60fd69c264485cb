package model

import "errors"

// Errors shared between the domain and storage layers.
var (
	// ErrInsufficientBalance means a conditional debit found too few points.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
