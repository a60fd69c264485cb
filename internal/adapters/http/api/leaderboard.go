package api

import (
	"context"
	"net/http"

	"github.com/okian/runac/internal/domain/rating"
)

// RankingDependencies serves the rankings.
type RankingDependencies interface {
	RatingRanking(ctx context.Context, limit int) ([]rating.UserRating, error)
	BestRuns(ctx context.Context, limit int) ([]rating.BestRun, error)
	MostRunners(ctx context.Context, limit int) ([]rating.RunnerCount, error)
	TopN(ctx context.Context, n int) ([]Entry, error)
	Rank(ctx context.Context, seq int64) (Entry, error)
}

// RankingHandler handles ranking and leaderboard requests.
type RankingHandler struct {
	deps RankingDependencies
}

// NewRankingHandler creates a new ranking handler.
func NewRankingHandler(deps RankingDependencies) *RankingHandler {
	return &RankingHandler{deps: deps}
}

// limited runs a ?limit= query against fetch.
func limited[T any](w http.ResponseWriter, r *http.Request, op string, fetch func(context.Context, int) ([]T, error)) {
	n, err := queryLimit(r)
	if err != nil {
		fail(w, op, err)
		return
	}
	rows, err := fetch(r.Context(), n)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleRating handles GET /api/rankings/rating?limit=N.
func (h *RankingHandler) HandleRating(w http.ResponseWriter, r *http.Request) {
	limited(w, r, "api.rating_ranking", h.deps.RatingRanking)
}

// HandleBestRuns handles GET /api/rankings/best-runs?limit=N.
func (h *RankingHandler) HandleBestRuns(w http.ResponseWriter, r *http.Request) {
	limited(w, r, "api.best_runs", h.deps.BestRuns)
}

// HandleRunners handles GET /api/rankings/runners?limit=N.
func (h *RankingHandler) HandleRunners(w http.ResponseWriter, r *http.Request) {
	limited(w, r, "api.most_runners", h.deps.MostRunners)
}

// HandleLeaderboard handles GET /api/leaderboard?limit=N.
func (h *RankingHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limited(w, r, "api.get_leaderboard", h.deps.TopN)
}

// HandleRank handles GET /api/rank/{seq}.
func (h *RankingHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	seq, err := pathSeq(r, "seq")
	if err != nil {
		fail(w, op, err)
		return
	}
	entry, err := h.deps.Rank(r.Context(), seq)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
