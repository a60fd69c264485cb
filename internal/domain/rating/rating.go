// Package rating aggregates per-run runbility into user rankings.
package rating

import (
	"cmp"
	"slices"
)

// TopN is how many of a user's best runs count toward the rating.
const TopN = 5

// Rating averages a user's TopN best scores. The sum is always divided by
// TopN, so users with fewer runs are rated as if the rest scored 0.
func Rating(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := slices.Clone(scores)
	slices.SortFunc(sorted, func(a, b float64) int { return cmp.Compare(b, a) })
	var sum float64
	for _, s := range sorted[:min(TopN, len(sorted))] {
		sum += s
	}
	return sum / TopN
}

type threshold struct {
	min  float64
	name string
}

// Colour classes, highest first.
var tiers = []threshold{ //nolint:gochecknoglobals // static ladder
	{25000, "gradient2"},
	{15000, "legend"},
	{10000, "gradient1"},
	{7500, "ruby"},
	{5500, "diamond"},
	{4000, "platinum"},
	{3000, "gold"},
	{2000, "silver"},
	{1000, "bronze"},
}

// Title ladder, highest first.
var titles = []threshold{ //nolint:gochecknoglobals // static ladder
	{15000, "The Lord of Running"},
	{10000, "Master"},
	{9300, "Ruby I"}, {8700, "Ruby II"}, {8100, "Ruby III"}, {7500, "Ruby IV"},
	{7000, "Diamond I"}, {6500, "Diamond II"}, {6000, "Diamond III"}, {5500, "Diamond IV"},
	{5100, "Platinum I"}, {4700, "Platinum II"}, {4300, "Platinum III"}, {4000, "Platinum IV"},
	{3750, "Gold I"}, {3500, "Gold II"}, {3250, "Gold III"}, {3000, "Gold IV"},
	{2750, "Silver I"}, {2500, "Silver II"}, {2250, "Silver III"}, {2000, "Silver IV"},
	{1750, "Bronze I"}, {1500, "Bronze II"}, {1250, "Bronze III"}, {1000, "Bronze IV"},
}

// Unrated is the title below the lowest rung.
const Unrated = "Unrated"

// Tier returns the colour class for a score, or "" below 1000.
func Tier(value float64) string {
	return lookup(tiers, value, "")
}

// Title returns the ladder title for a rating.
func Title(avg float64) string {
	return lookup(titles, avg, Unrated)
}

func lookup(ladder []threshold, v float64, fallback string) string {
	for _, t := range ladder {
		if v >= t.min {
			return t.name
		}
	}
	return fallback
}
