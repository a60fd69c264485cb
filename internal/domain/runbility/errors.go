package runbility

import "errors"

// Sentinel errors for grid loading.
var (
	ErrInvalidGrid = errors.New("invalid runbility grid")
)
