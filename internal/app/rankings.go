package service

import (
	"context"
	"fmt"

	"github.com/patrickmn/go-cache"

	"github.com/okian/runac/internal/domain/rating"
	"github.com/okian/runac/internal/domain/types"
	"github.com/okian/runac/pkg/metrics"
)

// Ranking cache keys.
const (
	rankingRating  = "rating"
	rankingBest    = "best-runs"
	rankingRunners = "runners"
)

// defaultLimit is used when a ranking is requested with limit 0.
const defaultLimit = 10

// RatingRanking returns the top users by rating.
func (s *Service) RatingRanking(ctx context.Context, limit int) ([]rating.UserRating, error) {
	n, err := s.limit(limit)
	if err != nil {
		return nil, err
	}
	all, err := cached(s, rankingRating, func() ([]rating.UserRating, error) {
		runs, err := s.approvedRuns(ctx)
		if err != nil {
			return nil, err
		}
		return rating.Ratings(s.table, runs), nil
	})
	return head(all, n), err
}

// BestRuns returns the highest scoring individual runs.
func (s *Service) BestRuns(ctx context.Context, limit int) ([]rating.BestRun, error) {
	n, err := s.limit(limit)
	if err != nil {
		return nil, err
	}
	all, err := cached(s, rankingBest, func() ([]rating.BestRun, error) {
		runs, err := s.approvedRuns(ctx)
		if err != nil {
			return nil, err
		}
		return rating.BestRuns(s.table, runs), nil
	})
	return head(all, n), err
}

// MostRunners returns the users with the most approved runs.
func (s *Service) MostRunners(ctx context.Context, limit int) ([]rating.RunnerCount, error) {
	n, err := s.limit(limit)
	if err != nil {
		return nil, err
	}
	all, err := cached(s, rankingRunners, func() ([]rating.RunnerCount, error) {
		runs, err := s.approvedRuns(ctx)
		if err != nil {
			return nil, err
		}
		return rating.MostRunners(runs), nil
	})
	return head(all, n), err
}

// TopN returns the top n leaderboard entries.
func (s *Service) TopN(ctx context.Context, limit int) ([]types.Entry, error) {
	n, err := s.limit(limit)
	if err != nil {
		return nil, err
	}
	return s.board.TopN(ctx, n)
}

// Rank returns a user's leaderboard entry.
func (s *Service) Rank(ctx context.Context, seq int64) (types.Entry, error) {
	return s.board.Rank(ctx, seq)
}

func (s *Service) limit(n int) (int, error) {
	switch {
	case n == 0:
		return min(defaultLimit, s.cfg.MaxLeaderboardLimit), nil
	case n < 0 || n > s.cfg.MaxLeaderboardLimit:
		return 0, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidLimit, n, s.cfg.MaxLeaderboardLimit)
	}
	return n, nil
}

// cached returns the full ranking under key, computing it on a miss.
func cached[T any](s *Service, key string, compute func() ([]T, error)) ([]T, error) {
	if s.rankings != nil {
		if v, ok := s.rankings.Get(key); ok {
			metrics.RecordRankingCache(true)
			return v.([]T), nil
		}
		metrics.RecordRankingCache(false)
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	if s.rankings != nil {
		s.rankings.Set(key, v, cache.DefaultExpiration)
	}
	return v, nil
}

func (s *Service) invalidateRankings() {
	if s.rankings != nil {
		s.rankings.Flush()
	}
}

func head[T any](all []T, n int) []T {
	out := make([]T, min(len(all), n))
	copy(out, all)
	return out
}
