package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("five fields", func(t *testing.T) {
		fields := Parse("*/15 * * * *")
		require.NotNil(t, fields)
		assert.Equal(t, []string{"*/15", "*", "*", "*", "*"}, fields)
	})

	t.Run("extra whitespace", func(t *testing.T) {
		fields := Parse("  0   9  * *   1  ")
		require.NotNil(t, fields)
		assert.Equal(t, []string{"0", "9", "*", "*", "1"}, fields)
	})

	t.Run("wrong field count", func(t *testing.T) {
		assert.Nil(t, Parse("* * * *"))
		assert.Nil(t, Parse("* * * * * *"))
		assert.Nil(t, Parse(""))
	})
}

func TestValidate(t *testing.T) {
	t.Run("all wildcards", func(t *testing.T) {
		result := Validate("* * * * *")
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
	})

	t.Run("steps and literals", func(t *testing.T) {
		result := Validate("*/5 9 1 12 0")
		assert.True(t, result.Valid)
	})

	t.Run("wrong field count", func(t *testing.T) {
		result := Validate("* * *")
		assert.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "exactly 5 fields")
	})

	t.Run("hour out of range", func(t *testing.T) {
		result := Validate("0 24 * * *")
		assert.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "hour")
	})

	t.Run("weekday out of range", func(t *testing.T) {
		result := Validate("0 0 * * 7")
		assert.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "weekday")
	})

	t.Run("zero step", func(t *testing.T) {
		result := Validate("*/0 * * * *")
		assert.False(t, result.Valid)
		assert.Contains(t, result.Errors[0], "minute")
	})

	t.Run("garbage field", func(t *testing.T) {
		result := Validate("banana * * * *")
		assert.False(t, result.Valid)
	})

	t.Run("multiple violations reported per field", func(t *testing.T) {
		result := Validate("60 24 0 13 9")
		assert.False(t, result.Valid)
		assert.Len(t, result.Errors, 5)
	})
}

func TestMatches(t *testing.T) {
	// Monday 2024-01-15 10:15.
	monday := time.Date(2024, 1, 15, 10, 15, 0, 0, time.UTC)

	t.Run("all wildcards match any instant", func(t *testing.T) {
		instants := []time.Time{
			monday,
			time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC),
			time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC),
		}
		for _, at := range instants {
			assert.True(t, Matches("* * * * *", at))
		}
	})

	t.Run("step matches on modulo", func(t *testing.T) {
		assert.True(t, Matches("*/15 * * * *", monday)) // 15 % 15 == 0
		assert.False(t, Matches("*/15 * * * *", monday.Add(time.Minute)))
		assert.True(t, Matches("*/15 * * * *", monday.Add(-15*time.Minute))) // minute 0
	})

	t.Run("literal minute and hour", func(t *testing.T) {
		assert.True(t, Matches("15 10 * * *", monday))
		assert.False(t, Matches("15 11 * * *", monday))
	})

	t.Run("weekday literal", func(t *testing.T) {
		assert.True(t, Matches("* * * * 1", monday))  // Monday
		assert.False(t, Matches("* * * * 2", monday)) // Tuesday
	})

	t.Run("day and weekday combine with AND", func(t *testing.T) {
		// 2024-01-15 is both the 15th and a Monday, so both restrictions
		// must hold together.
		assert.True(t, Matches("15 10 15 * 1", monday))
		// The 16th is a Tuesday; day matches on the 16th but weekday 1 does not.
		tuesday := monday.AddDate(0, 0, 1)
		assert.False(t, Matches("* * 16 * 1", tuesday))
	})

	t.Run("malformed expression never matches", func(t *testing.T) {
		assert.False(t, Matches("* * * *", monday))
		assert.False(t, Matches("nope * * * *", monday))
	})
}

func TestNextRuns(t *testing.T) {
	from := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("every minute", func(t *testing.T) {
		runs := nextRunsFrom("* * * * *", 3, from)
		require.Len(t, runs, 3)
		assert.Equal(t, from.Add(time.Minute), runs[0])
		assert.Equal(t, from.Add(2*time.Minute), runs[1])
		assert.Equal(t, from.Add(3*time.Minute), runs[2])
	})

	t.Run("quarter hours", func(t *testing.T) {
		runs := nextRunsFrom("*/15 * * * *", 2, from)
		require.Len(t, runs, 2)
		assert.Equal(t, 15, runs[0].Minute())
		assert.Equal(t, 30, runs[1].Minute())
	})

	t.Run("impossible expression terminates short", func(t *testing.T) {
		// Day 30 in February only: the probe horizon bounds the search.
		runs := nextRunsFrom("0 0 30 2 *", 2, from)
		assert.Empty(t, runs)
	})

	t.Run("malformed expression yields nil", func(t *testing.T) {
		assert.Nil(t, nextRunsFrom("* *", 5, from))
	})

	t.Run("non-positive count yields nil", func(t *testing.T) {
		assert.Nil(t, nextRunsFrom("* * * * *", 0, from))
	})
}

func TestMatchesQuarterHourScenario(t *testing.T) {
	at1015 := time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC)
	at1016 := time.Date(2024, 3, 4, 10, 16, 0, 0, time.UTC)

	assert.True(t, Matches("*/15 * * * *", at1015))
	assert.False(t, Matches("*/15 * * * *", at1016))
}
