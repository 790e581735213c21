package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeedBonusDecaysLinearly(t *testing.T) {
	limit := 15 * time.Second

	instant := SpeedBonus(0, limit, 1.0)
	assert.Equal(t, 100, instant)

	half := SpeedBonus(limit/2, limit, 1.0)
	assert.Equal(t, 50, half)

	late := SpeedBonus(14*time.Second, limit, 1.0)
	assert.Greater(t, instant, late)
	assert.GreaterOrEqual(t, late, 0)
}

func TestSpeedBonusMultiplier(t *testing.T) {
	limit := 15 * time.Second
	assert.Equal(t, 150, SpeedBonus(0, limit, 1.5))
	assert.Equal(t, 0, SpeedBonus(0, limit, 0))
}

func TestSpeedBonusBounds(t *testing.T) {
	limit := 10 * time.Second
	assert.Equal(t, 0, SpeedBonus(limit, limit, 1.0), "answer at the limit earns nothing")
	assert.Equal(t, 0, SpeedBonus(limit+time.Second, limit, 1.0))
	assert.Equal(t, 0, SpeedBonus(time.Second, 0, 1.0), "zero limit")
	assert.Equal(t, 100, SpeedBonus(-time.Second, limit, 1.0), "negative elapsed clamps to zero")
}

func TestAccuracyBonus(t *testing.T) {
	assert.Equal(t, 100, AccuracyBonus(true, 100))
	assert.Equal(t, 0, AccuracyBonus(false, 100))
	assert.Equal(t, 0, AccuracyBonus(true, -5))
}

func TestMajorityAwards(t *testing.T) {
	picks := map[string]string{
		"a": "pizza",
		"b": "pizza",
		"c": "sushi",
	}
	awards := MajorityAwards(picks, 100, 50)

	assert.Equal(t, 100, awards["a"])
	assert.Equal(t, 100, awards["b"])
	assert.Equal(t, 50, awards["c"], "unique pick earns the unique award only")
}

func TestMajorityAwardsUnanimousAndEmpty(t *testing.T) {
	awards := MajorityAwards(map[string]string{"a": "x", "b": "x"}, 100, 50)
	assert.Equal(t, 100, awards["a"])
	assert.Equal(t, 100, awards["b"])

	assert.Empty(t, MajorityAwards(nil, 100, 50))
}

func TestMajorityAwardsSinglePlayer(t *testing.T) {
	// One player is both the majority and unique.
	awards := MajorityAwards(map[string]string{"a": "x"}, 100, 50)
	assert.Equal(t, 150, awards["a"])
}

func TestClosestWithoutExceeding(t *testing.T) {
	guesses := []Guess{
		{Identity: "a", Value: 80, Order: 0},
		{Identity: "b", Value: 95, Order: 1},
		{Identity: "c", Value: 110, Order: 2},
	}
	winner, ok := ClosestWithoutExceeding(guesses, 100)
	require.True(t, ok)
	assert.Equal(t, "b", winner.Identity, "closest guess not exceeding the target wins")
}

func TestClosestWithoutExceedingAllOvershoot(t *testing.T) {
	guesses := []Guess{
		{Identity: "a", Value: 130, Order: 0},
		{Identity: "b", Value: 105, Order: 1},
	}
	winner, ok := ClosestWithoutExceeding(guesses, 100)
	require.True(t, ok)
	assert.Equal(t, "b", winner.Identity, "fallback picks the closest overshoot")
}

func TestClosestWithoutExceedingTieGoesToFirstSubmitted(t *testing.T) {
	guesses := []Guess{
		{Identity: "late", Value: 90, Order: 3},
		{Identity: "early", Value: 90, Order: 1},
	}
	winner, ok := ClosestWithoutExceeding(guesses, 100)
	require.True(t, ok)
	assert.Equal(t, "early", winner.Identity)
}

func TestClosestWithoutExceedingNoGuesses(t *testing.T) {
	_, ok := ClosestWithoutExceeding(nil, 100)
	assert.False(t, ok)
}
