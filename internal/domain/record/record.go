// Package record validates submitted runs and their moderation lifecycle.
package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/okian/runac/internal/domain/model"
)

// Band is the accepted range for a submitted run.
type Band struct {
	MinDistanceKm   float64
	MaxDistanceKm   float64
	MinPaceSecPerKm float64
	MaxPaceSecPerKm float64
}

// DefaultBand accepts 0.5 to 10 km at a pace between 3:00 and 7:00 per km.
func DefaultBand() Band {
	return Band{MinDistanceKm: 0.5, MaxDistanceKm: 10, MinPaceSecPerKm: 180, MaxPaceSecPerKm: 420}
}

// Validate checks distance first, then pace.
func (b Band) Validate(timeSec, distanceKm float64) error {
	if !finite(distanceKm) || distanceKm < b.MinDistanceKm || distanceKm > b.MaxDistanceKm {
		return fmt.Errorf("%w: %v km not in [%v, %v]", ErrDistanceOutOfRange, distanceKm, b.MinDistanceKm, b.MaxDistanceKm)
	}
	if !finite(timeSec) || timeSec <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTime, timeSec)
	}
	pace := timeSec / distanceKm
	if pace < b.MinPaceSecPerKm || pace > b.MaxPaceSecPerKm {
		return fmt.Errorf("%w: %s/km not in [%s, %s]", ErrPaceOutOfRange,
			FormatPace(pace), FormatPace(b.MinPaceSecPerKm), FormatPace(b.MaxPaceSecPerKm))
	}
	return nil
}

// maxLeadingPart caps the first field of a colon-separated time.
const maxLeadingPart = 99_999

// ParseHMS converts "HH:MM:SS", "MM:SS" or "SS" to seconds. A bare number
// with a fractional part is also accepted as seconds. In the colon forms the
// trailing fields must be below 60.
func ParseHMS(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	if len(parts) == 1 {
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil || !finite(v) || v < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		return v, nil
	}
	var total int64
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || n < 0 || n > maxLeadingPart || (i > 0 && n >= 60) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		total = total*60 + n
	}
	return float64(total), nil
}

// CanTransition reports whether a record may move from one status to another.
// Only pending records can be decided.
func CanTransition(from, to model.RecordStatus) bool {
	return from == model.StatusPending && (to == model.StatusApproved || to == model.StatusRejected)
}

// Transition validates a status change.
func Transition(from, to model.RecordStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
