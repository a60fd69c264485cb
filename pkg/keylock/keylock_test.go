package keylock

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestKeyLock(t *testing.T) {
	Convey("Given a key lock map", t, func() {
		m := New[int64]()

		Convey("When many goroutines increment a counter under the same key", func() {
			counter := 0
			var wg sync.WaitGroup
			for range 200 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock := m.Lock(7)
					defer unlock()
					counter++
				}()
			}
			wg.Wait()

			Convey("Then no update is lost and the entry is released", func() {
				So(counter, ShouldEqual, 200)
				So(m.Len(), ShouldEqual, 0)
			})
		})

		Convey("When different keys are held at once", func() {
			a := m.Lock(1)
			b := m.Lock(2)

			Convey("Then both are tracked until released", func() {
				So(m.Len(), ShouldEqual, 2)
				a()
				b()
				So(m.Len(), ShouldEqual, 0)
			})
		})

		Convey("When unlock is called twice", func() {
			unlock := m.Lock(5)
			unlock()

			Convey("Then the second call is a no-op", func() {
				So(unlock, ShouldNotPanic)
				So(m.Len(), ShouldEqual, 0)
			})
		})
	})
}
