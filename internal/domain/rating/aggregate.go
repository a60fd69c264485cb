package rating

import (
	"cmp"
	"slices"

	"github.com/okian/runac/internal/domain/model"
	"github.com/okian/runac/internal/domain/record"
)

// Scorer scores a single run. Implemented by *runbility.Table.
type Scorer interface {
	Lookup(totalTimeSec, distanceKm float64) float64
}

// UserRuns groups a user's approved records.
type UserRuns struct {
	User    model.User
	Records []model.RunRecord
}

// UserRating is one row of the rating ranking.
type UserRating struct {
	UserSeq int64   `json:"user_seq"`
	Name    string  `json:"name"`
	Rating  float64 `json:"rating"`
	Tier    string  `json:"tier"`
	Title   string  `json:"title"`
	Runs    int     `json:"runs"`
}

// BestRun is one row of the best single runs ranking.
type BestRun struct {
	UserSeq    int64   `json:"user_seq"`
	Name       string  `json:"name"`
	RecordID   string  `json:"record_id"`
	TimeSec    float64 `json:"time_sec"`
	DistanceKm float64 `json:"distance_km"`
	Pace       string  `json:"pace"`
	Runbility  float64 `json:"runbility"`
	Tier       string  `json:"tier"`
}

// RunnerCount is one row of the most active runners ranking.
type RunnerCount struct {
	UserSeq int64  `json:"user_seq"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
}

// ForUser scores every record and rates the user.
func ForUser(s Scorer, u UserRuns) UserRating {
	scores := make([]float64, len(u.Records))
	for i, r := range u.Records {
		scores[i] = s.Lookup(r.TimeSec, r.DistanceKm)
	}
	v := Rating(scores)
	return UserRating{
		UserSeq: u.User.Seq,
		Name:    u.User.Name,
		Rating:  v,
		Tier:    Tier(v),
		Title:   Title(v),
		Runs:    len(u.Records),
	}
}

// Ratings ranks users with at least one run by rating, highest first.
func Ratings(s Scorer, all []UserRuns) []UserRating {
	out := make([]UserRating, 0, len(all))
	for _, u := range all {
		if len(u.Records) == 0 {
			continue
		}
		out = append(out, ForUser(s, u))
	}
	slices.SortStableFunc(out, func(a, b UserRating) int {
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return cmp.Compare(a.UserSeq, b.UserSeq)
	})
	return out
}

// BestRuns ranks every individual run by runbility, highest first.
func BestRuns(s Scorer, all []UserRuns) []BestRun {
	var out []BestRun
	for _, u := range all {
		for _, r := range u.Records {
			v := s.Lookup(r.TimeSec, r.DistanceKm)
			out = append(out, BestRun{
				UserSeq:    u.User.Seq,
				Name:       u.User.Name,
				RecordID:   r.ID,
				TimeSec:    r.TimeSec,
				DistanceKm: r.DistanceKm,
				Pace:       record.FormatPace(r.PaceSecPerKm()),
				Runbility:  v,
				Tier:       Tier(v),
			})
		}
	}
	slices.SortStableFunc(out, func(a, b BestRun) int { return cmp.Compare(b.Runbility, a.Runbility) })
	return out
}

// MostRunners ranks users by approved run count, highest first.
func MostRunners(all []UserRuns) []RunnerCount {
	out := make([]RunnerCount, 0, len(all))
	for _, u := range all {
		if len(u.Records) == 0 {
			continue
		}
		out = append(out, RunnerCount{UserSeq: u.User.Seq, Name: u.User.Name, Count: len(u.Records)})
	}
	slices.SortStableFunc(out, func(a, b RunnerCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.UserSeq, b.UserSeq)
	})
	return out
}
