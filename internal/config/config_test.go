package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/runac/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.MinDistanceKm, convey.ShouldEqual, 0.5)
			convey.So(cfg.MaxDistanceKm, convey.ShouldEqual, 10)
			convey.So(cfg.MinPaceSecPerKm, convey.ShouldEqual, 180)
			convey.So(cfg.MaxPaceSecPerKm, convey.ShouldEqual, 420)
			convey.So(cfg.EnforceEventWindow, convey.ShouldBeFalse)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then derived durations follow the seconds fields", func() {
			convey.So(cfg.DedupeTTL(), convey.ShouldEqual, time.Hour)
			convey.So(cfg.RankingCacheTTL(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.ShutdownTimeout(), convey.ShouldEqual, 10*time.Second)
		})

		convey.Convey("Then seq 1 is the default admin", func() {
			convey.So(cfg.IsAdmin(1), convey.ShouldBeTrue)
			convey.So(cfg.IsAdmin(2), convey.ShouldBeFalse)
		})
	})
}

func TestConfig_EventBounds(t *testing.T) {
	convey.Convey("Given event bounds", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When both are set", func() {
			start, end, err := cfg.EventBounds()

			convey.Convey("Then they parse in KST", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(start.UTC(), convey.ShouldEqual, time.Date(2025, 10, 5, 15, 0, 0, 0, time.UTC))
				convey.So(end.After(start), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When both are empty", func() {
			cfg.EventStart, cfg.EventEnd = "", ""
			start, end, err := cfg.EventBounds()

			convey.Convey("Then zero times are returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(start.IsZero(), convey.ShouldBeTrue)
				convey.So(end.IsZero(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the end precedes the start", func() {
			cfg.EventEnd = "2025-10-01T00:00:00+09:00"

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a bound is malformed", func() {
			cfg.EventStart = "yesterday"

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}
