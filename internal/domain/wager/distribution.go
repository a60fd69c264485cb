// Package wager implements the betting minigame: multiplier sampling, payout
// and settlement against a point ledger, plus the point merge formula.
package wager

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// TotalWeight is 100% expressed in basis points.
const TotalWeight = 10_000

// Table names accepted by ByName.
const (
	TableStandard = "standard"
	TableClassic  = "classic"
)

// Bin maps a multiplier to its probability in basis points.
type Bin struct {
	Multiplier float64 `json:"multiplier"`
	Weight     int     `json:"weight"`
}

// Probability returns the bin weight as a fraction of 1.
func (b Bin) Probability() float64 {
	return float64(b.Weight) / TotalWeight
}

// Source yields uniform floats in [0,1). It must be safe for concurrent use.
type Source interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// DefaultSource draws from the math/rand/v2 global generator.
func DefaultSource() Source { return globalSource{} }

// Distribution is an ordered, validated set of bins.
type Distribution struct {
	name string
	bins []Bin
}

// NewDistribution checks that weights are non-negative and sum to TotalWeight.
func NewDistribution(name string, bins []Bin) (Distribution, error) {
	if len(bins) == 0 {
		return Distribution{}, fmt.Errorf("%w: no bins", ErrInvalidDistribution)
	}
	sum := 0
	for _, b := range bins {
		if b.Weight < 0 || b.Multiplier < 0 {
			return Distribution{}, fmt.Errorf("%w: negative bin %+v", ErrInvalidDistribution, b)
		}
		sum += b.Weight
	}
	if sum != TotalWeight {
		return Distribution{}, fmt.Errorf("%w: weights sum to %d, want %d", ErrInvalidDistribution, sum, TotalWeight)
	}
	return Distribution{name: name, bins: append([]Bin(nil), bins...)}, nil
}

func mustDistribution(name string, bins []Bin) Distribution {
	d, err := NewDistribution(name, bins)
	if err != nil {
		panic(err)
	}
	return d
}

// Standard is the default table: ten multipliers, 94.5% expected return.
func Standard() Distribution {
	return mustDistribution(TableStandard, []Bin{
		{0, 2000}, {0.25, 1000}, {0.5, 1500}, {0.75, 1200}, {1, 1300},
		{1.25, 1000}, {1.5, 800}, {2, 700}, {4, 400}, {8, 100},
	})
}

// Classic is the earlier coarse table. Its top 10% splits 60/36/4 over 2x, 4x and 8x.
func Classic() Distribution {
	return mustDistribution(TableClassic, []Bin{
		{0, 3000}, {0.5, 2500}, {1, 2000}, {1.5, 1500}, {2, 600}, {4, 360}, {8, 40},
	})
}

// ByName resolves a configured table name.
func ByName(name string) (Distribution, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TableStandard:
		return Standard(), nil
	case TableClassic:
		return Classic(), nil
	}
	return Distribution{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

// Name returns the table name.
func (d Distribution) Name() string { return d.name }

// Bins returns a copy of the bins in draw order.
func (d Distribution) Bins() []Bin { return append([]Bin(nil), d.bins...) }

// ExpectedMultiplier is the probability-weighted mean multiplier.
func (d Distribution) ExpectedMultiplier() float64 {
	var e float64
	for _, b := range d.bins {
		e += b.Multiplier * b.Probability()
	}
	return e
}

// Sample draws one multiplier. Each call is independent.
func (d Distribution) Sample(src Source) float64 {
	r := src.Float64() * TotalWeight
	cum := 0
	for _, b := range d.bins {
		cum += b.Weight
		if r < float64(cum) {
			return b.Multiplier
		}
	}
	return d.bins[len(d.bins)-1].Multiplier
}
