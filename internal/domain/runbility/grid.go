// Package runbility maps a run's pace and distance to a score by bilinear
// interpolation over a precomputed sample grid.
package runbility

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

//go:embed default_grid.json
var defaultGridJSON []byte

// Grid is the raw sample table.
// Paces are seconds per km, distances are meters. Values is indexed
// [distanceIndex][paceIndex]. Axes need not be sorted.
type Grid struct {
	Paces     []float64   `json:"paces"`
	Distances []float64   `json:"distances"`
	Values    [][]float64 `json:"values"`
}

// Validate checks the grid shape and sample values.
func (g Grid) Validate() error {
	if len(g.Paces) == 0 || len(g.Distances) == 0 {
		return fmt.Errorf("%w: empty axis", ErrInvalidGrid)
	}
	if len(g.Values) != len(g.Distances) {
		return fmt.Errorf("%w: %d rows for %d distances", ErrInvalidGrid, len(g.Values), len(g.Distances))
	}
	for i, row := range g.Values {
		if len(row) != len(g.Paces) {
			return fmt.Errorf("%w: row %d has %d values for %d paces", ErrInvalidGrid, i, len(row), len(g.Paces))
		}
		for j, v := range row {
			if !finite(v) {
				return fmt.Errorf("%w: value[%d][%d] is not finite", ErrInvalidGrid, i, j)
			}
		}
	}
	if err := checkAxis("pace", g.Paces); err != nil {
		return err
	}
	return checkAxis("distance", g.Distances)
}

func checkAxis(name string, axis []float64) error {
	seen := make(map[float64]struct{}, len(axis))
	for i, v := range axis {
		if !finite(v) {
			return fmt.Errorf("%w: %s[%d] is not finite", ErrInvalidGrid, name, i)
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("%w: duplicate %s sample %v", ErrInvalidGrid, name, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// LoadGrid decodes a JSON grid of the form {"paces":[],"distances":[],"values":[[]]}.
func LoadGrid(r io.Reader) (Grid, error) {
	var g Grid
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return Grid{}, fmt.Errorf("%w: %w", ErrInvalidGrid, err)
	}
	if err := g.Validate(); err != nil {
		return Grid{}, err
	}
	return g, nil
}

// LoadGridFile reads a JSON grid from disk.
func LoadGridFile(path string) (Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return Grid{}, fmt.Errorf("open grid %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return LoadGrid(f)
}

// DefaultGrid returns the grid compiled into the binary.
func DefaultGrid() Grid {
	var g Grid
	if err := json.Unmarshal(defaultGridJSON, &g); err != nil {
		panic(fmt.Sprintf("runbility: embedded grid is corrupt: %v", err))
	}
	return g
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
