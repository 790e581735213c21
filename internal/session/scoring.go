package session

import (
	"math"
	"time"
)

// Scoring primitives shared by all minigames. These are pure functions:
// deterministic given their numeric inputs, no clock or state access.

// speedBonusBase is the award for an instant answer before the speed
// multiplier is applied.
const speedBonusBase = 100

// SpeedBonus awards points that decay linearly with the time taken to
// act, scaled by the per-game multiplier and floored at zero. An answer
// at elapsed=0 earns the full base award times the multiplier; an
// answer at or past the limit earns nothing.
func SpeedBonus(elapsed, limit time.Duration, multiplier float64) int {
	if limit <= 0 || elapsed >= limit || multiplier <= 0 {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	fraction := 1 - float64(elapsed)/float64(limit)
	bonus := int(math.Round(speedBonusBase * fraction * multiplier))
	if bonus < 0 {
		return 0
	}
	return bonus
}

// AccuracyBonus awards a fixed number of points for a correct binary
// outcome and nothing otherwise.
func AccuracyBonus(correct bool, award int) int {
	if !correct || award < 0 {
		return 0
	}
	return award
}

// MajorityAwards computes per-player awards for a voting round. Every
// player whose choice matches the most-picked option receives
// majorityAward. Any player who picked an option chosen by exactly one
// player additionally receives uniqueAward.
func MajorityAwards(picks map[string]string, majorityAward, uniqueAward int) map[string]int {
	awards := make(map[string]int, len(picks))
	if len(picks) == 0 {
		return awards
	}

	counts := make(map[string]int)
	for _, choice := range picks {
		counts[choice]++
	}
	top := 0
	for _, n := range counts {
		if n > top {
			top = n
		}
	}

	for identity, choice := range picks {
		total := 0
		if counts[choice] == top {
			total += majorityAward
		}
		if counts[choice] == 1 {
			total += uniqueAward
		}
		awards[identity] = total
	}
	return awards
}

// Guess is one numeric submission in a closest-without-exceeding round.
// Order is the submission sequence within the round and breaks ties in
// favor of the earliest guess.
type Guess struct {
	Identity string
	Value    float64
	Order    int
}

// ClosestWithoutExceeding selects the winning guess for a target value:
// the guess with the smallest gap among guesses that do not exceed the
// target. If every guess overshoots, it falls back to the closest by
// absolute difference. Ties go to the first-submitted guess. Returns
// false when there are no guesses.
func ClosestWithoutExceeding(guesses []Guess, actual float64) (Guess, bool) {
	var best Guess
	found := false
	for _, g := range guesses {
		if g.Value > actual {
			continue
		}
		if !found || better(actual-g.Value, g.Order, actual-best.Value, best.Order) {
			best = g
			found = true
		}
	}
	if found {
		return best, true
	}

	// Every guess exceeded the target: closest absolute difference wins.
	for _, g := range guesses {
		diff := math.Abs(g.Value - actual)
		if !found || better(diff, g.Order, math.Abs(best.Value-actual), best.Order) {
			best = g
			found = true
		}
	}
	return best, found
}

func better(diff float64, order int, bestDiff float64, bestOrder int) bool {
	if diff != bestDiff {
		return diff < bestDiff
	}
	return order < bestOrder
}
