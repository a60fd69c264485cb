// Package types contains common types used across the application
package types

// Entry represents a leaderboard entry
type Entry struct {
	Rank    int     `json:"rank"`
	UserSeq int64   `json:"user_seq"`
	Name    string  `json:"name,omitempty"`
	Score   float64 `json:"score"`
	Tier    string  `json:"tier,omitempty"`
}

// Less orders entries by score descending, then user ascending.
func (e Entry) Less(o Entry) bool {
	if e.Score != o.Score {
		return e.Score > o.Score
	}
	return e.UserSeq < o.UserSeq
}
