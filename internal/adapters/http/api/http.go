// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/runac/internal/domain/types"
	"github.com/okian/runac/internal/domain/wager"
	"github.com/okian/runac/pkg/logger"
	"github.com/okian/runac/pkg/metrics"
)

// Dependencies required by HTTP handlers. *service.Service implements it.
type Dependencies interface {
	LookupDependencies
	UserDependencies
	RecordDependencies
	RankingDependencies
	EventDependencies
	StatsProvider
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	lookupHandler  *LookupHandler
	userHandler    *UserHandler
	recordHandler  *RecordHandler
	rankingHandler *RankingHandler
	eventHandler   *EventHandler

	limiter *userLimiter
	logger  logger.Logger
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit bounds bets and purchases per user to rps with burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.limiter = newUserLimiter(rps, burst)
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds each request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		lookupHandler:  NewLookupHandler(deps),
		userHandler:    NewUserHandler(deps),
		recordHandler:  NewRecordHandler(deps),
		rankingHandler: NewRankingHandler(deps),
		eventHandler:   NewEventHandler(deps),
		limiter:        newUserLimiter(2, 5),
		logger:         logger.Get().Named("http"),
		timeout:        30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/api", func(r chi.Router) {
		r.Use(Identify)

		r.Get("/runbility", s.lookupHandler.HandleLookup)

		r.Post("/users", s.userHandler.HandleCreate)
		r.Get("/users", s.userHandler.HandleList)
		r.Get("/users/{seq}", s.userHandler.HandleGet)
		r.With(RequireUser).Put("/users/{seq}", s.userHandler.HandleUpdate)

		r.Route("/records", func(r chi.Router) {
			r.Get("/user/{seq}", s.recordHandler.HandleUserRecords)
			r.Group(func(r chi.Router) {
				r.Use(RequireUser)
				r.Post("/", s.recordHandler.HandleSubmit)
				r.Get("/pending", s.recordHandler.HandlePending)
				r.Put("/{id}/approve", s.recordHandler.HandleApprove)
				r.Put("/{id}/reject", s.recordHandler.HandleReject)
			})
		})

		r.Get("/rankings/rating", s.rankingHandler.HandleRating)
		r.Get("/rankings/best-runs", s.rankingHandler.HandleBestRuns)
		r.Get("/rankings/runners", s.rankingHandler.HandleRunners)
		r.Get("/leaderboard", s.rankingHandler.HandleLeaderboard)
		r.Get("/rank/{seq}", s.rankingHandler.HandleRank)

		r.Route("/event", func(r chi.Router) {
			r.Get("/logs", s.eventHandler.HandleLogs)
			r.Get("/logs/{slotID}", s.eventHandler.HandleSlotLogs)
			r.Get("/market", s.eventHandler.HandleMarket)
			r.Group(func(r chi.Router) {
				r.Use(RequireUser)
				r.Get("/status", s.eventHandler.HandleStatus)
				r.Get("/wagers", s.eventHandler.HandleMyWagers)
				r.Get("/market/purchases", s.eventHandler.HandlePurchases)
				r.With(s.limiter.middleware).Post("/bet", s.eventHandler.HandleBet)
				r.With(s.limiter.middleware).Post("/market/buy", s.eventHandler.HandleBuy)
			})
		})
	})
}

// Routes returns a router with every route registered.
func (s *Server) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	s.Register(ctx, r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	resp := errorResponse{Code: code, Message: msg}
	var serr *wager.SettlementError
	if errors.As(err, &serr) {
		resp.Stage = string(serr.Stage)
	}
	writeJSON(w, status, resp)
}

// fail writes err with the status its kind maps to.
func fail(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	writeError(w, status, code, Wrap(op, err))
}

var validate = validator.New(validator.WithRequiredStructEnabled()) //nolint:gochecknoglobals // validator caches struct metadata

// decode reads a JSON body into v and validates its struct tags.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// pathSeq parses a positive user sequence from the named URL parameter.
func pathSeq(r *http.Request, name string) (int64, error) {
	seq, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || seq < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrBadRequest, name)
	}
	return seq, nil
}

// queryLimit reads ?limit=, where a missing value means 0.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: limit must be an integer", ErrBadRequest)
	}
	return n, nil
}
