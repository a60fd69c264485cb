package runbility

import (
	"slices"
)

// Calculator scores a run. Implemented by *Table.
type Calculator interface {
	Lookup(totalTimeSec, distanceKm float64) float64
}

// axisSample pairs a sorted sample with its column or row in Grid.Values.
type axisSample struct {
	value float64
	index int
}

// Table is an immutable, concurrency-safe lookup over a Grid.
type Table struct {
	paces     []axisSample
	distances []axisSample
	values    [][]float64

	minValue float64
	maxValue float64
}

// NewTable validates g and builds the sorted axis permutations once.
func NewTable(g Grid) (*Table, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	t := &Table{
		paces:     sortAxis(g.Paces),
		distances: sortAxis(g.Distances),
		values:    make([][]float64, len(g.Values)),
	}
	t.minValue, t.maxValue = g.Values[0][0], g.Values[0][0]
	for i, row := range g.Values {
		t.values[i] = slices.Clone(row)
		t.minValue = min(t.minValue, slices.Min(row))
		t.maxValue = max(t.maxValue, slices.Max(row))
	}
	return t, nil
}

// MustDefault builds a Table from the embedded grid and panics on failure.
func MustDefault() *Table {
	t, err := NewTable(DefaultGrid())
	if err != nil {
		panic(err)
	}
	return t
}

func sortAxis(axis []float64) []axisSample {
	out := make([]axisSample, len(axis))
	for i, v := range axis {
		out[i] = axisSample{value: v, index: i}
	}
	slices.SortFunc(out, func(a, b axisSample) int {
		switch {
		case a.value < b.value:
			return -1
		case a.value > b.value:
			return 1
		}
		return 0
	})
	return out
}

// Lookup returns the interpolated score for a run of totalTimeSec seconds
// over distanceKm kilometers. Non-finite or non-positive inputs yield 0.
func (t *Table) Lookup(totalTimeSec, distanceKm float64) float64 {
	if !finite(totalTimeSec) || totalTimeSec <= 0 {
		return 0
	}
	if !finite(distanceKm) || distanceKm <= 0 {
		return 0
	}

	pace := totalTimeSec / distanceKm
	distanceM := distanceKm * 1000

	pi0, pi1, pt := bounds(t.paces, pace)
	di0, di1, dt := bounds(t.distances, distanceM)

	col0, col1 := t.paces[pi0].index, t.paces[pi1].index
	row0, row1 := t.distances[di0].index, t.distances[di1].index

	q00 := t.values[row0][col0]
	q10 := t.values[row0][col1]
	q01 := t.values[row1][col0]
	q11 := t.values[row1][col1]

	switch {
	case pt == 0 && dt == 0:
		return q00
	case pt == 0:
		return q00*(1-dt) + q01*dt
	case dt == 0:
		return q00*(1-pt) + q10*pt
	default:
		r0 := q00*(1-pt) + q10*pt
		r1 := q01*(1-pt) + q11*pt
		return r0*(1-dt) + r1*dt
	}
}

// Range reports the smallest and largest sample in the grid.
func (t *Table) Range() (lo, hi float64) {
	return t.minValue, t.maxValue
}

// PaceRange reports the sampled pace bounds in seconds per km.
func (t *Table) PaceRange() (lo, hi float64) {
	return t.paces[0].value, t.paces[len(t.paces)-1].value
}

// DistanceRange reports the sampled distance bounds in meters.
func (t *Table) DistanceRange() (lo, hi float64) {
	return t.distances[0].value, t.distances[len(t.distances)-1].value
}

// bounds locates the bracketing sorted indices of v and its interpolation
// fraction. Out-of-range values clamp to an edge with fraction 0, and an
// exact sample hit also yields fraction 0.
func bounds(axis []axisSample, v float64) (lo, hi int, frac float64) {
	n := len(axis)
	if v <= axis[0].value {
		return 0, 0, 0
	}
	if v >= axis[n-1].value {
		return n - 1, n - 1, 0
	}

	lo, hi = 0, n-1
	for lo+1 < hi {
		mid := int(uint(lo+hi) >> 1)
		mv := axis[mid].value
		if mv == v {
			return mid, mid, 0
		}
		if mv < v {
			lo = mid
		} else {
			hi = mid
		}
	}
	if axis[hi].value == v {
		return hi, hi, 0
	}
	return lo, hi, (v - axis[lo].value) / (axis[hi].value - axis[lo].value)
}
