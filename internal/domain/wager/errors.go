package wager

import (
	"errors"
	"fmt"

	"github.com/okian/runac/internal/domain/model"
)

// Sentinel errors returned by the engine.
var (
	ErrInvalidStake        = errors.New("invalid stake")
	ErrInsufficientBalance = model.ErrInsufficientBalance
	ErrPersistence         = errors.New("wager persistence failure")
	ErrInvalidDistribution = errors.New("invalid multiplier distribution")
	ErrUnknownTable        = errors.New("unknown multiplier table")
)

// Stage names the settlement step that failed.
type Stage string

// Settlement stages that can fail against storage.
const (
	// StageDebit: nothing was applied.
	StageDebit Stage = "debit"
	// StageCredit: the stake was taken and the multiplier drawn, the payout was not credited.
	StageCredit Stage = "credit"
	// StageAudit: the balance is settled, the audit record is missing.
	StageAudit Stage = "audit"
)

// SettlementError reports a storage failure during Settle.
// Outcome carries whatever was decided before the failure.
type SettlementError struct {
	Stage   Stage
	Outcome model.WagerOutcome
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settle wager for user %d failed at %s: %v", e.Outcome.UserSeq, e.Stage, e.Err)
}

// Unwrap exposes both ErrPersistence and the storage error.
func (e *SettlementError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// NeedsReconciliation reports whether points moved without a matching record.
func (e *SettlementError) NeedsReconciliation() bool {
	return e.Stage == StageCredit || e.Stage == StageAudit
}
