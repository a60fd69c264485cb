package wager

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ValidateStake accepts finite, positive, whole-point stakes.
func ValidateStake(stake float64) (int64, error) {
	if math.IsNaN(stake) || math.IsInf(stake, 0) || stake <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidStake, stake)
	}
	if stake != math.Trunc(stake) || stake > math.MaxInt64/16 {
		return 0, fmt.Errorf("%w: %v is not a whole number of points", ErrInvalidStake, stake)
	}
	return int64(stake), nil
}

// Payout is stake*multiplier rounded to the nearest point, halves away from zero.
func Payout(stake int64, multiplier float64) int64 {
	return decimal.NewFromInt(stake).Mul(decimal.NewFromFloat(multiplier)).Round(0).IntPart()
}

// Merge folds a new score into existing points: (old^1.5 + score^1.5)^(2/3).
// Negative operands count as zero. The result is never below max(old, score)
// and only approaches old+score when one side dominates.
func Merge(old, score float64) float64 {
	old, score = clampPoints(old), clampPoints(score)
	if old == 0 {
		return score
	}
	if score == 0 {
		return old
	}
	merged := math.Pow(math.Pow(old, 1.5)+math.Pow(score, 1.5), 2.0/3.0)
	return max(merged, old, score)
}

func clampPoints(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
