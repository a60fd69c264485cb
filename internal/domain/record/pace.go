package record

import (
	"fmt"
	"math"
)

// FormatPace renders seconds per km as m:ss, rounding to the nearest second.
func FormatPace(secPerKm float64) string {
	if math.IsNaN(secPerKm) || math.IsInf(secPerKm, 0) || secPerKm <= 0 {
		return "0:00"
	}
	total := int64(math.Round(secPerKm))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
