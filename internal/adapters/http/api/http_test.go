package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/runac/internal/adapters/http/api"
	"github.com/okian/runac/internal/adapters/repository"
	service "github.com/okian/runac/internal/app"
	"github.com/okian/runac/internal/config"
	"github.com/okian/runac/internal/domain/event"
	"github.com/okian/runac/internal/domain/model"
	"github.com/okian/runac/internal/domain/runbility"
	"github.com/okian/runac/internal/domain/wager"
	"github.com/okian/runac/pkg/logger"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

// failingBets fails every settlement after the debit.
type failingBets struct {
	*service.Service
}

func (failingBets) PlaceBet(_ context.Context, seq int64, stake float64) (model.WagerOutcome, error) {
	return model.WagerOutcome{}, &wager.SettlementError{
		Stage:   wager.StageCredit,
		Outcome: model.WagerOutcome{UserSeq: seq, Stake: int64(stake)},
		Err:     errors.New("disk full"),
	}
}

// testGrid scores 5 km at 3:20/km as 2000.
func testGrid() *runbility.Table {
	t, err := runbility.NewTable(runbility.Grid{
		Paces:     []float64{200, 400},
		Distances: []float64{5000, 10000},
		Values:    [][]float64{{2000, 1000}, {3000, 1500}},
	})
	if err != nil {
		panic(err)
	}
	return t
}

type harness struct {
	handler http.Handler
}

func newHarness(wrap func(*service.Service) api.Dependencies, opts ...api.Option) harness {
	ctx := context.Background()
	cfg := config.New(ctx)
	cfg.AdminSeqs = []int64{1}
	now := func() time.Time { return time.Date(2025, 10, 6, 21, 5, 0, 0, event.KST) }
	svc, err := service.New(ctx, cfg,
		service.WithStore(repository.NewMemoryStore(repository.WithClock(now))),
		service.WithTable(testGrid()),
		service.WithClock(now),
		service.WithWagerOptions(wager.WithSource(fixedSource(0.5))),
		service.WithLogger(logger.Nop()),
	)
	So(err, ShouldBeNil)

	var deps api.Dependencies = svc
	if wrap != nil {
		deps = wrap(svc)
	}
	opts = append([]api.Option{api.WithLogger(logger.Nop())}, opts...)
	return harness{handler: api.NewServer(deps, opts...).Routes(ctx)}
}

// do sends a request as user (0 for anonymous) and returns the recorder.
func (h harness) do(method, path string, user int64, body string) *httptest.ResponseRecorder {
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != 0 {
		req.Header.Set(api.UserHeader, strconv.FormatInt(user, 10))
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
	return v
}

type errBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`
}

// seed creates admin 1 and runner 2 and approves a 5 km run worth 2000
// points for the runner.
func (h harness) seed() {
	So(h.do(http.MethodPost, "/api/users", 0, `{"name":"admin"}`).Code, ShouldEqual, http.StatusCreated)
	So(h.do(http.MethodPost, "/api/users", 0, `{"name":"runner"}`).Code, ShouldEqual, http.StatusCreated)

	w := h.do(http.MethodPost, "/api/records", 2, `{"time":"16:40","distance_km":5,"date":"2025-10-06"}`)
	So(w.Code, ShouldEqual, http.StatusCreated)
	rec := decodeBody[model.RunRecord](w)
	So(h.do(http.MethodPut, "/api/records/"+rec.ID+"/approve", 1, "").Code, ShouldEqual, http.StatusOK)
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given the API server", t, func() {
		h := newHarness(nil)

		Convey("When probing health", func() {
			w := h.do(http.MethodGet, "/healthz", 0, "")

			Convey("Then it reports ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})
		})

		Convey("When scraping metrics after a request", func() {
			h.do(http.MethodGet, "/healthz", 0, "")
			w := h.do(http.MethodGet, "/metrics", 0, "")

			Convey("Then request counters are exposed by route", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "runac_core_http_requests_total")
				So(w.Body.String(), ShouldContainSubstring, `endpoint="/healthz"`)
			})
		})

		Convey("When reading stats", func() {
			w := h.do(http.MethodGet, "/stats", 0, "")

			Convey("Then the service stats are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				stats := decodeBody[map[string]any](w)
				So(stats["store"], ShouldEqual, "memory")
			})
		})
	})
}

func TestLookupRoute(t *testing.T) {
	Convey("Given the API server", t, func() {
		h := newHarness(nil)

		Convey("When looking up a run in H:MM:SS", func() {
			w := h.do(http.MethodGet, "/api/runbility?time=0:16:40&distance=5", 0, "")

			Convey("Then its runbility and pace are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				res := decodeBody[service.LookupResult](w)
				So(res.TimeSec, ShouldEqual, 1000)
				So(res.Pace, ShouldEqual, "3:20")
				So(res.Runbility, ShouldEqual, 2000)
			})
		})

		Convey("When the query is malformed", func() {
			badTime := h.do(http.MethodGet, "/api/runbility?time=abc&distance=5", 0, "")
			badDist := h.do(http.MethodGet, "/api/runbility?time=1500&distance=far", 0, "")

			Convey("Then it is a bad request", func() {
				So(badTime.Code, ShouldEqual, http.StatusBadRequest)
				So(badDist.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody[errBody](badDist).Code, ShouldEqual, "bad_request")
			})
		})
	})
}

func TestUserAndRecordRoutes(t *testing.T) {
	Convey("Given the API server with an admin and a runner", t, func() {
		h := newHarness(nil)
		h.seed()

		Convey("When a runner lists and fetches users", func() {
			list := h.do(http.MethodGet, "/api/users", 0, "")
			one := h.do(http.MethodGet, "/api/users/1", 0, "")
			missing := h.do(http.MethodGet, "/api/users/42", 0, "")
			bad := h.do(http.MethodGet, "/api/users/x", 0, "")

			Convey("Then the statuses follow the lookups", func() {
				So(list.Code, ShouldEqual, http.StatusOK)
				So(len(decodeBody[[]model.User](list)), ShouldEqual, 2)
				So(decodeBody[model.User](one).IsAdmin, ShouldBeTrue)
				So(missing.Code, ShouldEqual, http.StatusNotFound)
				So(bad.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When profiles are edited", func() {
			self := h.do(http.MethodPut, "/api/users/2", 2, `{"name":"runner","intro":"hi"}`)
			other := h.do(http.MethodPut, "/api/users/1", 2, `{"intro":"pwned"}`)
			anon := h.do(http.MethodPut, "/api/users/2", 0, `{"intro":"?"}`)

			Convey("Then only the owner or an admin may", func() {
				So(self.Code, ShouldEqual, http.StatusOK)
				So(other.Code, ShouldEqual, http.StatusForbidden)
				So(anon.Code, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When the identity header is malformed", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/event/status", http.NoBody)
			req.Header.Set(api.UserHeader, "admin")
			w := httptest.NewRecorder()
			h.handler.ServeHTTP(w, req)

			Convey("Then the request is unauthorized", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When submitting invalid runs", func() {
			pace := h.do(http.MethodPost, "/api/records", 2, `{"time":"10:00","distance_km":5,"date":"2025-10-06"}`)
			date := h.do(http.MethodPost, "/api/records", 2, `{"time":"25:00","distance_km":5,"date":"yesterday"}`)

			Convey("Then they are rejected", func() {
				So(pace.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody[errBody](pace).Code, ShouldEqual, "invalid_record")
				So(date.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When moderating", func() {
			w := h.do(http.MethodPost, "/api/records", 2, `{"time":"26:00","distance_km":5,"date":"2025-10-07"}`)
			rec := decodeBody[model.RunRecord](w)

			pendingAsRunner := h.do(http.MethodGet, "/api/records/pending", 2, "")
			pendingAsAdmin := h.do(http.MethodGet, "/api/records/pending", 1, "")
			rejected := h.do(http.MethodPut, "/api/records/"+rec.ID+"/reject", 1, "")
			again := h.do(http.MethodPut, "/api/records/"+rec.ID+"/approve", 1, "")

			Convey("Then only admins decide and decisions are final", func() {
				So(pendingAsRunner.Code, ShouldEqual, http.StatusForbidden)
				So(pendingAsAdmin.Code, ShouldEqual, http.StatusOK)
				So(len(decodeBody[[]model.RunRecord](pendingAsAdmin)), ShouldEqual, 1)
				So(rejected.Code, ShouldEqual, http.StatusOK)
				So(again.Code, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("When reading the runner's records and rankings", func() {
			recs := h.do(http.MethodGet, "/api/records/user/2", 0, "")
			rank := h.do(http.MethodGet, "/api/rank/2", 0, "")
			board := h.do(http.MethodGet, "/api/leaderboard?limit=5", 0, "")
			rating := h.do(http.MethodGet, "/api/rankings/rating", 0, "")
			best := h.do(http.MethodGet, "/api/rankings/best-runs?limit=1", 0, "")
			runners := h.do(http.MethodGet, "/api/rankings/runners", 0, "")
			badLimit := h.do(http.MethodGet, "/api/rankings/rating?limit=1000", 0, "")
			unranked := h.do(http.MethodGet, "/api/rank/1", 0, "")

			Convey("Then the approved run is everywhere", func() {
				So(recs.Code, ShouldEqual, http.StatusOK)
				So(recs.Body.String(), ShouldContainSubstring, `"runbility"`)
				So(rank.Code, ShouldEqual, http.StatusOK)
				So(decodeBody[api.Entry](rank).Rank, ShouldEqual, 1)
				So(len(decodeBody[[]api.Entry](board)), ShouldEqual, 1)
				So(rating.Code, ShouldEqual, http.StatusOK)
				So(best.Code, ShouldEqual, http.StatusOK)
				So(runners.Code, ShouldEqual, http.StatusOK)
				So(badLimit.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody[errBody](badLimit).Code, ShouldEqual, "invalid_limit")
				So(unranked.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestEventRoutes(t *testing.T) {
	Convey("Given a runner with 2000 points", t, func() {
		h := newHarness(nil)
		h.seed()

		Convey("When betting 100 on a 0.75x draw", func() {
			w := h.do(http.MethodPost, "/api/event/bet", 2, `{"stake":100}`)

			Convey("Then the settled outcome is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeBody[model.WagerOutcome](w)
				So(out.Payout, ShouldEqual, 75)
				So(out.BalanceAfter, ShouldEqual, 1975)

				status := decodeBody[service.EventStatus](h.do(http.MethodGet, "/api/event/status", 2, ""))
				So(status.Points, ShouldEqual, 1975)

				logs := decodeBody[[]service.SlotLog](h.do(http.MethodGet, "/api/event/logs", 0, ""))
				So(len(logs), ShouldEqual, 1)

				slot := decodeBody[service.SlotLog](h.do(http.MethodGet, "/api/event/logs/"+out.SlotID, 0, ""))
				So(len(slot.Participants), ShouldEqual, 1)

				mine := decodeBody[[]model.WagerOutcome](h.do(http.MethodGet, "/api/event/wagers", 2, ""))
				So(len(mine), ShouldEqual, 1)
			})
		})

		Convey("When the bet is invalid", func() {
			frac := h.do(http.MethodPost, "/api/event/bet", 2, `{"stake":1.5}`)
			broke := h.do(http.MethodPost, "/api/event/bet", 2, `{"stake":5000}`)
			anon := h.do(http.MethodPost, "/api/event/bet", 0, `{"stake":10}`)

			Convey("Then each maps to its code", func() {
				So(frac.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody[errBody](frac).Code, ShouldEqual, "invalid_stake")
				So(broke.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody[errBody](broke).Code, ShouldEqual, "insufficient_balance")
				So(anon.Code, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When buying from the market", func() {
			bought := h.do(http.MethodPost, "/api/event/market/buy", 2, `{"item_id":"majjj"}`)
			twice := h.do(http.MethodPost, "/api/event/market/buy", 2, `{"item_id":"majjj"}`)
			unknown := h.do(http.MethodPost, "/api/event/market/buy", 2, `{"item_id":"caviar"}`)
			listing := h.do(http.MethodGet, "/api/event/market", 2, "")
			purchases := h.do(http.MethodGet, "/api/event/market/purchases", 1, "")
			forbidden := h.do(http.MethodGet, "/api/event/market/purchases", 2, "")

			Convey("Then the purchase is recorded once", func() {
				So(bought.Code, ShouldEqual, http.StatusOK)
				So(bought.Body.String(), ShouldContainSubstring, `"balance":994`)
				So(twice.Code, ShouldEqual, http.StatusConflict)
				So(unknown.Code, ShouldEqual, http.StatusNotFound)
				So(listing.Body.String(), ShouldContainSubstring, `"bought":true`)
				So(len(decodeBody[[]model.Purchase](purchases)), ShouldEqual, 1)
				So(forbidden.Code, ShouldEqual, http.StatusForbidden)
			})
		})
	})

	Convey("Given a tight per-user rate limit", t, func() {
		h := newHarness(nil, api.WithRateLimit(0.001, 2))
		h.seed()

		Convey("When a user bets three times at once", func() {
			codes := make([]int, 3)
			for i := range codes {
				codes[i] = h.do(http.MethodPost, "/api/event/bet", 2, `{"stake":1}`).Code
			}
			other := h.do(http.MethodPost, "/api/event/bet", 1, `{"stake":1}`)

			Convey("Then the third is throttled and other users are not", func() {
				So(codes[0], ShouldEqual, http.StatusOK)
				So(codes[1], ShouldEqual, http.StatusOK)
				So(codes[2], ShouldEqual, http.StatusTooManyRequests)
				So(other.Code, ShouldNotEqual, http.StatusTooManyRequests)
			})
		})
	})

	Convey("Given storage that fails mid-settlement", t, func() {
		h := newHarness(func(s *service.Service) api.Dependencies { return failingBets{s} })
		h.seed()

		Convey("When betting", func() {
			w := h.do(http.MethodPost, "/api/event/bet", 2, `{"stake":100}`)

			Convey("Then the failure and its stage are reported", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				body := decodeBody[errBody](w)
				So(body.Code, ShouldEqual, "persistence_failure")
				So(body.Stage, ShouldEqual, "credit")
			})
		})
	})
}
