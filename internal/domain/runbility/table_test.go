package runbility

import (
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func smallGrid() Grid {
	return Grid{
		Paces:     []float64{200, 300},
		Distances: []float64{1000, 2000},
		Values:    [][]float64{{100, 50}, {200, 100}},
	}
}

func TestLookup(t *testing.T) {
	Convey("Given the 2x2 grid", t, func() {
		table, err := NewTable(smallGrid())
		So(err, ShouldBeNil)

		Convey("When querying the cell midpoint", func() {
			Convey("Then bilinear interpolation gives 112.5", func() {
				So(table.Lookup(375, 1.5), ShouldEqual, 112.5)
			})
		})

		Convey("When querying an exact grid point", func() {
			Convey("Then the stored value is returned exactly", func() {
				So(table.Lookup(200, 1), ShouldEqual, 100)
				So(table.Lookup(300, 1), ShouldEqual, 50)
				So(table.Lookup(400, 2), ShouldEqual, 200)
				So(table.Lookup(600, 2), ShouldEqual, 100)
			})
		})

		Convey("When only the distance is between samples", func() {
			Convey("Then it interpolates along distance", func() {
				So(table.Lookup(200*1.5, 1.5), ShouldEqual, 150)
			})
		})

		Convey("When only the pace is between samples", func() {
			Convey("Then it interpolates along pace", func() {
				So(table.Lookup(250, 1), ShouldEqual, 75)
			})
		})

		Convey("When the pace is below the smallest sample", func() {
			Convey("Then it clamps to the minimum pace", func() {
				So(table.Lookup(100*1.5, 1.5), ShouldEqual, table.Lookup(200*1.5, 1.5))
				So(table.Lookup(50, 1), ShouldEqual, 100)
			})
		})

		Convey("When both axes are above their largest sample", func() {
			Convey("Then it clamps to the far corner", func() {
				So(table.Lookup(5000*10, 10), ShouldEqual, 100)
			})
		})

		Convey("When inputs are zero, negative or not finite", func() {
			Convey("Then the guard returns 0", func() {
				So(table.Lookup(0, 5), ShouldEqual, 0)
				So(table.Lookup(300, 0), ShouldEqual, 0)
				So(table.Lookup(-1, 5), ShouldEqual, 0)
				So(table.Lookup(300, -2), ShouldEqual, 0)
				So(table.Lookup(math.NaN(), 1), ShouldEqual, 0)
				So(table.Lookup(300, math.Inf(1)), ShouldEqual, 0)
				So(table.Lookup(math.Inf(1), 1), ShouldEqual, 0)
			})
		})
	})
}

func TestLookupUnsortedAxes(t *testing.T) {
	Convey("Given the same samples stored in reverse axis order", t, func() {
		sorted, err := NewTable(smallGrid())
		So(err, ShouldBeNil)
		reversed, err := NewTable(Grid{
			Paces:     []float64{300, 200},
			Distances: []float64{2000, 1000},
			Values:    [][]float64{{100, 200}, {50, 100}},
		})
		So(err, ShouldBeNil)

		Convey("Then every query matches the sorted grid", func() {
			r := rand.New(rand.NewPCG(1, 2))
			for range 500 {
				d := 0.5 + r.Float64()*2
				tm := d * (150 + r.Float64()*200)
				So(reversed.Lookup(tm, d), ShouldAlmostEqual, sorted.Lookup(tm, d), 1e-9)
			}
			So(reversed.Lookup(375, 1.5), ShouldEqual, 112.5)
		})
	})
}

func TestLookupProperties(t *testing.T) {
	Convey("Given the default grid", t, func() {
		table := MustDefault()
		lo, hi := table.Range()
		r := rand.New(rand.NewPCG(7, 11))

		Convey("Then results stay within the sample range", func() {
			for range 2000 {
				d := 0.1 + r.Float64()*15
				tm := d * (100 + r.Float64()*500)
				v := table.Lookup(tm, d)
				So(v, ShouldBeBetweenOrEqual, lo-1e-9, hi+1e-9)
			}
		})

		Convey("Then repeated lookups are identical", func() {
			for range 100 {
				d := 0.5 + r.Float64()*9.5
				tm := d * (180 + r.Float64()*240)
				So(table.Lookup(tm, d), ShouldEqual, table.Lookup(tm, d))
			}
		})

		Convey("Then a faster run over the same distance never scores lower", func() {
			So(table.Lookup(5*240, 5), ShouldBeGreaterThanOrEqualTo, table.Lookup(5*300, 5))
			So(table.Lookup(10*200, 10), ShouldBeGreaterThanOrEqualTo, table.Lookup(5*200, 5))
		})

		Convey("Then concurrent lookups are safe", func() {
			want := table.Lookup(1500, 5)
			var wg sync.WaitGroup
			results := make(chan float64, 64)
			for range 64 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results <- table.Lookup(1500, 5)
				}()
			}
			wg.Wait()
			close(results)
			for got := range results {
				So(got, ShouldEqual, want)
			}
		})
	})
}

func TestGridValidate(t *testing.T) {
	Convey("Given malformed grids", t, func() {
		cases := []struct {
			name string
			grid Grid
		}{
			{"empty paces", Grid{Distances: []float64{1}, Values: [][]float64{{}}}},
			{"row count", Grid{Paces: []float64{1}, Distances: []float64{1, 2}, Values: [][]float64{{1}}}},
			{"row width", Grid{Paces: []float64{1, 2}, Distances: []float64{1}, Values: [][]float64{{1}}}},
			{"nan value", Grid{Paces: []float64{1}, Distances: []float64{1}, Values: [][]float64{{math.NaN()}}}},
			{"duplicate pace", Grid{Paces: []float64{1, 1}, Distances: []float64{1}, Values: [][]float64{{1, 2}}}},
			{"inf distance", Grid{Paces: []float64{1}, Distances: []float64{math.Inf(-1)}, Values: [][]float64{{1}}}},
		}
		for _, tc := range cases {
			Convey("When the grid has "+tc.name, func() {
				_, err := NewTable(tc.grid)

				Convey("Then construction fails", func() {
					So(errors.Is(err, ErrInvalidGrid), ShouldBeTrue)
				})
			})
		}
	})
}

func TestLoadGrid(t *testing.T) {
	Convey("Given JSON grid sources", t, func() {
		Convey("When decoding a valid document", func() {
			g, err := LoadGrid(strings.NewReader(`{"paces":[200,300],"distances":[1000,2000],"values":[[100,50],[200,100]]}`))

			Convey("Then the grid round-trips into a working table", func() {
				So(err, ShouldBeNil)
				table, err := NewTable(g)
				So(err, ShouldBeNil)
				So(table.Lookup(375, 1.5), ShouldEqual, 112.5)
			})
		})

		Convey("When the document is truncated", func() {
			_, err := LoadGrid(strings.NewReader(`{"paces":[200`))

			Convey("Then an invalid grid error is returned", func() {
				So(errors.Is(err, ErrInvalidGrid), ShouldBeTrue)
			})
		})

		Convey("When reading from a file", func() {
			path := filepath.Join(t.TempDir(), "grid.json")
			So(os.WriteFile(path, defaultGridJSON, 0o600), ShouldBeNil)
			g, err := LoadGridFile(path)

			Convey("Then it matches the embedded grid", func() {
				So(err, ShouldBeNil)
				So(g, ShouldResemble, DefaultGrid())
			})
		})

		Convey("When the file does not exist", func() {
			_, err := LoadGridFile(filepath.Join(t.TempDir(), "missing.json"))

			Convey("Then an error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestDefaultGrid(t *testing.T) {
	Convey("The embedded grid is valid and covers the accepted run band", t, func() {
		table := MustDefault()
		lo, hi := table.PaceRange()
		So(lo, ShouldBeLessThanOrEqualTo, 180)
		So(hi, ShouldBeGreaterThanOrEqualTo, 420)
		dlo, dhi := table.DistanceRange()
		So(dlo, ShouldBeLessThanOrEqualTo, 500)
		So(dhi, ShouldBeGreaterThanOrEqualTo, 10000)
	})
}

func TestBounds(t *testing.T) {
	Convey("Given a sorted axis", t, func() {
		axis := sortAxis([]float64{40, 10, 30, 20})

		Convey("Then exact hits at interior and upper samples have zero weight", func() {
			lo, hi, f := bounds(axis, 20)
			So([]any{lo, hi, f}, ShouldResemble, []any{1, 1, 0.0})
			lo, hi, f = bounds(axis, 30)
			So([]any{lo, hi, f}, ShouldResemble, []any{2, 2, 0.0})
		})

		Convey("Then values between samples carry a fraction", func() {
			lo, hi, f := bounds(axis, 25)
			So(lo, ShouldEqual, 1)
			So(hi, ShouldEqual, 2)
			So(f, ShouldAlmostEqual, 0.5)
		})

		Convey("Then sorted samples remember their original index", func() {
			So(axis[0].index, ShouldEqual, 1)
			So(axis[3].index, ShouldEqual, 0)
		})
	})
}
