package api

import (
	"fmt"
	"net/http"
	"strconv"

	service "github.com/okian/runac/internal/app"
	"github.com/okian/runac/internal/domain/record"
)

// LookupDependencies scores a single run.
type LookupDependencies interface {
	Lookup(timeSec, distanceKm float64) service.LookupResult
}

// LookupHandler handles runbility queries.
type LookupHandler struct {
	deps LookupDependencies
}

// NewLookupHandler creates a new lookup handler.
func NewLookupHandler(deps LookupDependencies) *LookupHandler {
	return &LookupHandler{deps: deps}
}

// HandleLookup handles GET /api/runbility?time=HH:MM:SS&distance=km.
// Times may also be given in seconds.
func (h *LookupHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	const op = "api.lookup"
	q := r.URL.Query()
	timeSec, err := record.ParseHMS(q.Get("time"))
	if err != nil {
		fail(w, op, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	km, err := strconv.ParseFloat(q.Get("distance"), 64)
	if err != nil {
		fail(w, op, fmt.Errorf("%w: distance must be a number of km", ErrBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Lookup(timeSec, km))
}
