package event

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func kst(y int, m time.Month, d, h, mi int) time.Time {
	return time.Date(y, m, d, h, mi, 0, 0, KST)
}

func TestSlotID(t *testing.T) {
	Convey("Given instants in different zones", t, func() {
		Convey("Then the slot floors to 10 minutes in KST", func() {
			So(SlotID(kst(2025, 10, 6, 21, 10)), ShouldEqual, "20251006-21-10")
			So(SlotID(kst(2025, 10, 6, 21, 19)), ShouldEqual, "20251006-21-10")
			So(SlotID(kst(2025, 10, 6, 9, 5)), ShouldEqual, "20251006-09-00")
		})

		Convey("Then UTC instants are converted first", func() {
			utc := time.Date(2025, 10, 6, 15, 42, 0, 0, time.UTC)
			So(SlotID(utc), ShouldEqual, "20251007-00-40")
		})
	})
}

func TestBettingWindow(t *testing.T) {
	Convey("Given evening times in KST", t, func() {
		So(BettingWindow(kst(2025, 10, 6, 20, 59)), ShouldBeFalse)
		So(BettingWindow(kst(2025, 10, 6, 21, 0)), ShouldBeFalse)
		So(BettingWindow(kst(2025, 10, 6, 21, 1)), ShouldBeTrue)
		So(BettingWindow(kst(2025, 10, 6, 21, 9)), ShouldBeTrue)
		So(BettingWindow(kst(2025, 10, 6, 21, 10)), ShouldBeFalse)
		So(BettingWindow(kst(2025, 10, 6, 23, 59)), ShouldBeTrue)
		So(BettingWindow(kst(2025, 10, 7, 0, 1)), ShouldBeFalse)
	})
}

func TestNextResultTime(t *testing.T) {
	Convey("Given times within a slot", t, func() {
		So(NextResultTime(kst(2025, 10, 6, 21, 3)), ShouldEqual, kst(2025, 10, 6, 21, 10))
		So(NextResultTime(kst(2025, 10, 6, 21, 9)), ShouldEqual, kst(2025, 10, 6, 21, 10))
		So(NextResultTime(kst(2025, 10, 6, 21, 10)), ShouldEqual, kst(2025, 10, 6, 21, 20))
		So(NextResultTime(kst(2025, 10, 6, 23, 55)), ShouldEqual, kst(2025, 10, 7, 0, 0))
	})
}

func TestCalendar(t *testing.T) {
	Convey("Given the October event calendar", t, func() {
		start := kst(2025, 10, 6, 0, 0)
		end := time.Date(2025, 10, 12, 23, 59, 59, 0, KST)
		now := kst(2025, 10, 8, 21, 4)
		clock := func() time.Time { return now }

		Convey("When enforcement is off", func() {
			c := NewCalendar(WithPeriod(start, end), WithClock(clock))

			Convey("Then bets and purchases are allowed at any time", func() {
				now = kst(2025, 11, 1, 12, 0)
				So(c.CheckBet(), ShouldBeNil)
				So(c.CheckPurchase(), ShouldBeNil)
			})
		})

		Convey("When enforcement is on", func() {
			c := NewCalendar(WithPeriod(start, end), WithClock(clock), WithEnforcement(true, true))

			Convey("Then a bet inside the window passes", func() {
				So(c.CheckBet(), ShouldBeNil)
				st := c.Status()
				So(st.EventOpen, ShouldBeTrue)
				So(st.BettingWindow, ShouldBeTrue)
				So(st.NowSlotID, ShouldEqual, "20251008-21-00")
				So(st.NextResultAt, ShouldEqual, kst(2025, 10, 8, 21, 10))
			})

			Convey("Then a bet on a boundary minute is refused", func() {
				now = kst(2025, 10, 8, 21, 10)
				So(errors.Is(c.CheckBet(), ErrBettingClosed), ShouldBeTrue)
			})

			Convey("Then activity after the event is refused", func() {
				now = kst(2025, 10, 13, 21, 4)
				So(errors.Is(c.CheckBet(), ErrEventClosed), ShouldBeTrue)
				So(errors.Is(c.CheckPurchase(), ErrEventClosed), ShouldBeTrue)
			})

			Convey("Then the last second of the event is inside", func() {
				So(c.Within(end), ShouldBeTrue)
				So(c.Within(end.Add(time.Second)), ShouldBeFalse)
				So(c.Within(start.Add(-time.Second)), ShouldBeFalse)
			})
		})

		Convey("When no period is configured", func() {
			c := NewCalendar(WithClock(clock))

			Convey("Then every instant is within the event", func() {
				So(c.Within(time.Time{}.Add(time.Hour)), ShouldBeTrue)
				So(c.Within(kst(2099, 1, 1, 0, 0)), ShouldBeTrue)
			})
		})
	})
}
