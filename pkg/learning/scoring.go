package learning

import (
	"sort"
	"time"
)

// Rank is a learner's tier, derived from total points.
type Rank string

// Ranks in ascending order.
const (
	RankNovice       Rank = "Novice"
	RankApprentice   Rank = "Apprentice"
	RankPractitioner Rank = "Practitioner"
	RankExpert       Rank = "Expert"
	RankMaster       Rank = "Master"
	RankArchitect    Rank = "Architect"
)

const (
	hintPenalty      = 5
	minimumPointsPct = 30
)

var rankThresholds = []struct {
	rank Rank
	min  int
}{
	{RankArchitect, 5000},
	{RankMaster, 3000},
	{RankExpert, 1500},
	{RankPractitioner, 500},
	{RankApprentice, 100},
	{RankNovice, 0},
}

// RankFor returns the rank for a points total.
func RankFor(points int) Rank {
	for _, t := range rankThresholds {
		if points >= t.min {
			return t.rank
		}
	}
	return RankNovice
}

// PointsEarned scores a progress update. Only completions earn points; each
// hint costs 5 points, but a completion always keeps at least 30% of the
// challenge's value.
func PointsEarned(challengePoints, hintsUsed int, status string) int {
	if status != StatusCompleted {
		return 0
	}
	if hintsUsed < 0 {
		hintsUsed = 0
	}
	return max(challengePoints-hintsUsed*hintPenalty, challengePoints*minimumPointsPct/100)
}

// Streak counts consecutive completion days ending today or yesterday.
// Days are "YYYY-MM-DD" strings in UTC; duplicates count once.
func Streak(days []string, today time.Time) int {
	if len(days) == 0 {
		return 0
	}

	uniq := make(map[string]struct{}, len(days))
	for _, d := range days {
		uniq[d] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for d := range uniq {
		sorted = append(sorted, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))

	todayStr := today.UTC().Format(dayLayout)
	yesterday := today.UTC().AddDate(0, 0, -1).Format(dayLayout)
	if sorted[0] != todayStr && sorted[0] != yesterday {
		return 0
	}

	streak := 1
	for i := 1; i < len(sorted); i++ {
		prev, err1 := time.Parse(dayLayout, sorted[i-1])
		cur, err2 := time.Parse(dayLayout, sorted[i])
		if err1 != nil || err2 != nil || prev.Sub(cur) != 24*time.Hour {
			break
		}
		streak++
	}
	return streak
}

// Day formats t as a UTC calendar day.
func Day(t time.Time) string {
	return t.UTC().Format(dayLayout)
}
