package api

import (
	"errors"
	"net/http"

	"github.com/okian/runac/internal/adapters/repository"
	service "github.com/okian/runac/internal/app"
	"github.com/okian/runac/internal/domain/event"
	"github.com/okian/runac/internal/domain/market"
	"github.com/okian/runac/internal/domain/model"
	"github.com/okian/runac/internal/domain/record"
	"github.com/okian/runac/internal/domain/wager"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("missing or invalid X-User-Seq")
	ErrRateLimited  = errors.New("too many requests")
)

// Error tags an error with the handler operation that produced it.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	case e.Kind != nil:
		return e.Op + ": " + e.Kind.Error()
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op
}

func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap tags err with op.
func Wrap(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// NewKind returns a bare error of kind for op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind classifies err as kind for op.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// classify maps an error to its HTTP status and response code.
func classify(err error) (int, string) {
	var serr *wager.SettlementError
	switch {
	case errors.As(err, &serr):
		return http.StatusInternalServerError, "persistence_failure"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, model.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient_balance"
	case errors.Is(err, wager.ErrInvalidStake):
		return http.StatusBadRequest, "invalid_stake"
	case errors.Is(err, record.ErrInvalidTime),
		errors.Is(err, record.ErrDistanceOutOfRange),
		errors.Is(err, record.ErrPaceOutOfRange):
		return http.StatusBadRequest, "invalid_record"
	case errors.Is(err, event.ErrEventClosed):
		return http.StatusBadRequest, "event_closed"
	case errors.Is(err, event.ErrBettingClosed):
		return http.StatusBadRequest, "betting_closed"
	case errors.Is(err, service.ErrInvalidLimit), errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "invalid_limit"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, repository.ErrInvalidName):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, record.ErrInvalidTransition), errors.Is(err, repository.ErrStatusConflict):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, market.ErrAlreadyPurchased):
		return http.StatusConflict, "already_purchased"
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrRecordNotFound),
		errors.Is(err, market.ErrUnknownItem):
		return http.StatusNotFound, "not_found"
	}
	return http.StatusInternalServerError, "internal_error"
}
