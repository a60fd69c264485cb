// Package event holds the full moon event calendar: KST slots, the event
// period and the nightly betting window.
package event

import (
	"fmt"
	"time"
)

// KST is Korea Standard Time. Korea has no daylight saving.
var KST = time.FixedZone("KST", 9*60*60) //nolint:gochecknoglobals // fixed zone

// SlotMinutes is the width of a betting slot.
const SlotMinutes = 10

// Betting opens at 21:00 KST and closes at midnight.
const (
	bettingStartHour = 21
	bettingEndHour   = 23
)

// Calendar answers time questions about the event.
type Calendar struct {
	start, end     time.Time
	now            func() time.Time
	enforceEvent   bool
	enforceBetting bool
}

// Status is a snapshot of the calendar at one instant.
type Status struct {
	EventOpen     bool      `json:"event_open"`
	BettingWindow bool      `json:"betting_window"`
	NowSlotID     string    `json:"now_slot_id"`
	NextResultAt  time.Time `json:"next_result_at"`
}

// NewCalendar creates a calendar with an open period and no enforcement.
func NewCalendar(opts ...Option) *Calendar {
	c := &Calendar{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the calendar clock in KST.
func (c *Calendar) Now() time.Time {
	return c.now().In(KST)
}

// Within reports whether t falls inside the event period, bounds inclusive.
func (c *Calendar) Within(t time.Time) bool {
	if !c.start.IsZero() && t.Before(c.start) {
		return false
	}
	if !c.end.IsZero() && t.After(c.end) {
		return false
	}
	return true
}

// Status reports the calendar state at the current clock.
func (c *Calendar) Status() Status {
	now := c.Now()
	return Status{
		EventOpen:     c.Within(now),
		BettingWindow: BettingWindow(now),
		NowSlotID:     SlotID(now),
		NextResultAt:  NextResultTime(now),
	}
}

// CheckBet returns an error when enforcement forbids betting now.
func (c *Calendar) CheckBet() error {
	now := c.Now()
	if c.enforceEvent && !c.Within(now) {
		return ErrEventClosed
	}
	if c.enforceBetting && !BettingWindow(now) {
		return fmt.Errorf("%w: %s KST", ErrBettingClosed, now.Format("15:04"))
	}
	return nil
}

// CheckPurchase returns an error when enforcement forbids buying now.
func (c *Calendar) CheckPurchase() error {
	if c.enforceEvent && !c.Within(c.Now()) {
		return ErrEventClosed
	}
	return nil
}

// SlotID names the 10-minute KST slot containing t, e.g. "20251006-21-10".
func SlotID(t time.Time) string {
	k := t.In(KST)
	slot := k.Minute() / SlotMinutes * SlotMinutes
	return fmt.Sprintf("%s-%02d-%02d", k.Format("20060102"), k.Hour(), slot)
}

// BettingWindow reports whether t is between 21:00 and 23:59 KST and not on
// a slot boundary minute (:00, :10, ...), when results are announced.
func BettingWindow(t time.Time) bool {
	k := t.In(KST)
	if k.Hour() < bettingStartHour || k.Hour() > bettingEndHour {
		return false
	}
	return k.Minute()%SlotMinutes != 0
}

// NextResultTime is the first slot boundary strictly after t's minute, in KST.
func NextResultTime(t time.Time) time.Time {
	k := t.In(KST)
	hour := time.Date(k.Year(), k.Month(), k.Day(), k.Hour(), 0, 0, 0, KST)
	next := (k.Minute()/SlotMinutes + 1) * SlotMinutes
	return hour.Add(time.Duration(next) * time.Minute)
}
