package wager

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/okian/runac/internal/domain/model"
	"github.com/okian/runac/pkg/keylock"
	"github.com/okian/runac/pkg/logger"
	"github.com/okian/runac/pkg/metrics"
)

// settleTimeout bounds the credit and audit writes that follow a debit.
const settleTimeout = 10 * time.Second

// Ledger is the storage the engine settles against. Debit must be an atomic
// conditional decrement that fails with ErrInsufficientBalance and changes
// nothing when the balance is below amount.
type Ledger interface {
	Debit(ctx context.Context, userSeq int64, amount int64) (balance float64, err error)
	Credit(ctx context.Context, userSeq int64, amount int64) (balance float64, err error)
	AppendWager(ctx context.Context, outcome model.WagerOutcome) error
}

// Quote is the pure result of settling a stake against a balance.
type Quote struct {
	Multiplier float64 `json:"multiplier"`
	Payout     int64   `json:"payout"`
	NewBalance float64 `json:"new_balance"`
}

// Engine samples multipliers and settles wagers.
type Engine struct {
	ledger Ledger
	dist   Distribution
	src    Source
	locks  *keylock.Map[int64]
	logger logger.Logger
	now    func() time.Time
	slot   func(time.Time) string
	newID  func() string
}

// NewEngine creates an engine over ledger. A nil ledger only allows Quote.
func NewEngine(ledger Ledger, opts ...Option) *Engine {
	e := &Engine{
		ledger: ledger,
		dist:   Standard(),
		src:    DefaultSource(),
		locks:  keylock.New[int64](),
		logger: logger.Get().Named("wager"),
		now:    time.Now,
		slot:   func(time.Time) string { return "" },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Distribution returns the active multiplier table.
func (e *Engine) Distribution() Distribution { return e.dist }

// Quote settles stake against balance without touching storage.
// On error the balance is unchanged.
func (e *Engine) Quote(balance, stake float64) (Quote, error) {
	amount, err := ValidateStake(stake)
	if err != nil {
		return Quote{}, err
	}
	if math.IsNaN(balance) || math.IsInf(balance, 0) || balance < float64(amount) {
		return Quote{}, ErrInsufficientBalance
	}
	m := e.dist.Sample(e.src)
	p := Payout(amount, m)
	return Quote{Multiplier: m, Payout: p, NewBalance: balance - float64(amount) + float64(p)}, nil
}

// Settle debits stake, draws a multiplier, credits the payout and appends the
// audit record. Calls for the same user are serialized. Storage failures
// return a *SettlementError naming the failed stage.
func (e *Engine) Settle(ctx context.Context, userSeq int64, stake float64) (model.WagerOutcome, error) {
	amount, err := ValidateStake(stake)
	if err != nil {
		metrics.RecordWagerRejected("invalid_stake")
		return model.WagerOutcome{}, err
	}

	unlock := e.locks.Lock(userSeq)
	defer unlock()

	out := model.WagerOutcome{ID: e.newID(), UserSeq: userSeq, Stake: amount}

	balance, err := e.ledger.Debit(ctx, userSeq, amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			metrics.RecordWagerRejected("insufficient_balance")
			return model.WagerOutcome{}, err
		}
		return out, e.fail(ctx, StageDebit, out, err)
	}

	// The stake is gone; the rest must land even if the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	out.ResolvedAt = e.now()
	out.SlotID = e.slot(out.ResolvedAt)
	out.Multiplier = e.dist.Sample(e.src)
	out.Payout = Payout(amount, out.Multiplier)
	out.BalanceAfter = balance

	if out.Payout > 0 {
		balance, err = e.ledger.Credit(ctx, userSeq, out.Payout)
		if err != nil {
			return out, e.fail(ctx, StageCredit, out, err)
		}
		out.BalanceAfter = balance
	}

	if err := e.ledger.AppendWager(ctx, out); err != nil {
		return out, e.fail(ctx, StageAudit, out, err)
	}

	metrics.RecordWagerSettled(out.Multiplier, out.Stake, out.Payout)
	e.logger.Debug(ctx, "wager settled",
		logger.Int64("user_seq", userSeq),
		logger.Int64("stake", out.Stake),
		logger.Float64("multiplier", out.Multiplier),
		logger.Int64("payout", out.Payout),
	)
	return out, nil
}

func (e *Engine) fail(ctx context.Context, stage Stage, out model.WagerOutcome, err error) error {
	serr := &SettlementError{Stage: stage, Outcome: out, Err: err}
	fields := []logger.Field{
		logger.String("stage", string(stage)),
		logger.String("wager_id", out.ID),
		logger.Int64("user_seq", out.UserSeq),
		logger.Int64("stake", out.Stake),
		logger.Float64("multiplier", out.Multiplier),
		logger.Int64("payout", out.Payout),
		logger.Error(err),
	}
	if serr.NeedsReconciliation() {
		metrics.RecordReconciliationRequired(string(stage))
		e.logger.Error(ctx, "wager settlement needs reconciliation", fields...)
	} else {
		metrics.RecordErrorByComponent("wager", "debit_failed")
		e.logger.Error(ctx, "wager debit failed", fields...)
	}
	return serr
}
