package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpulse/taskpulse/internal/domain"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 17, 0, 0, 0, time.UTC)
}

func TestCalculator_Next(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern domain.RecurringPattern
		dueAt   time.Time
		want    time.Time
	}{
		{
			name:    "daily interval 1",
			pattern: domain.RecurringPattern{PatternType: domain.PatternDaily, Interval: 1},
			dueAt:   date(2026, time.March, 10),
			want:    date(2026, time.March, 11),
		},
		{
			name:    "daily interval 3",
			pattern: domain.RecurringPattern{PatternType: domain.PatternDaily, Interval: 3},
			dueAt:   date(2026, time.March, 30),
			want:    date(2026, time.April, 2),
		},
		{
			name:    "weekly interval 2",
			pattern: domain.RecurringPattern{PatternType: domain.PatternWeekly, Interval: 2},
			dueAt:   date(2026, time.March, 10),
			want:    date(2026, time.March, 24),
		},
		{
			name:    "monthly plain step",
			pattern: domain.RecurringPattern{PatternType: domain.PatternMonthly, Interval: 1},
			dueAt:   date(2026, time.March, 15),
			want:    date(2026, time.April, 15),
		},
		{
			name:    "monthly clamp january 31 to february 28",
			pattern: domain.RecurringPattern{PatternType: domain.PatternMonthly, Interval: 1},
			dueAt:   date(2026, time.January, 31),
			want:    date(2026, time.February, 28),
		},
		{
			name:    "monthly clamp to leap day",
			pattern: domain.RecurringPattern{PatternType: domain.PatternMonthly, Interval: 1},
			dueAt:   date(2028, time.January, 31),
			want:    date(2028, time.February, 29),
		},
		{
			name:    "monthly clamp may 31 to june 30",
			pattern: domain.RecurringPattern{PatternType: domain.PatternMonthly, Interval: 1},
			dueAt:   date(2026, time.May, 31),
			want:    date(2026, time.June, 30),
		},
		{
			name:    "monthly interval 2 across year boundary",
			pattern: domain.RecurringPattern{PatternType: domain.PatternMonthly, Interval: 2},
			dueAt:   date(2026, time.December, 31),
			want:    date(2027, time.February, 28),
		},
		{
			name:    "custom interval as days",
			pattern: domain.RecurringPattern{PatternType: domain.PatternCustom, Interval: 10},
			dueAt:   date(2026, time.March, 25),
			want:    date(2026, time.April, 4),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calc Calculator
			got, err := calc.Next(&tt.pattern, tt.dueAt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculator_Next_PreservesTimeOfDay(t *testing.T) {
	t.Parallel()

	pattern := domain.RecurringPattern{PatternType: domain.PatternMonthly, Interval: 1}
	dueAt := time.Date(2026, time.January, 31, 9, 30, 15, 0, time.UTC)

	var calc Calculator
	got, err := calc.Next(&pattern, dueAt)
	require.NoError(t, err)

	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, 30, got.Minute())
	assert.Equal(t, 15, got.Second())
	assert.Equal(t, time.February, got.Month())
	assert.Equal(t, 28, got.Day())
}

func TestCalculator_Next_OverflowSkip(t *testing.T) {
	t.Parallel()

	calc := Calculator{Overflow: OverflowSkip}
	pattern := domain.RecurringPattern{PatternType: domain.PatternMonthly, Interval: 1}

	got, err := calc.Next(&pattern, date(2026, time.January, 31))
	require.NoError(t, err)

	// February cannot hold the 31st, so the occurrence lands in March.
	assert.Equal(t, date(2026, time.March, 31), got)
}

func TestCalculator_Next_EndDate(t *testing.T) {
	t.Parallel()

	t.Run("expired pattern yields no successor", func(t *testing.T) {
		t.Parallel()

		end := date(2026, time.March, 15)
		pattern := domain.RecurringPattern{
			PatternType: domain.PatternWeekly,
			Interval:    1,
			EndAt:       &end,
		}

		var calc Calculator
		_, err := calc.Next(&pattern, date(2026, time.March, 10))
		assert.ErrorIs(t, err, ErrPatternExpired)
	})

	t.Run("occurrence exactly on end date is allowed", func(t *testing.T) {
		t.Parallel()

		end := date(2026, time.March, 17)
		pattern := domain.RecurringPattern{
			PatternType: domain.PatternWeekly,
			Interval:    1,
			EndAt:       &end,
		}

		var calc Calculator
		got, err := calc.Next(&pattern, date(2026, time.March, 10))
		require.NoError(t, err)
		assert.Equal(t, date(2026, time.March, 17), got)
	})
}

func TestCalculator_Next_InvalidPattern(t *testing.T) {
	t.Parallel()

	var calc Calculator

	t.Run("nil pattern", func(t *testing.T) {
		t.Parallel()

		_, err := calc.Next(nil, date(2026, time.March, 10))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("zero interval", func(t *testing.T) {
		t.Parallel()

		pattern := domain.RecurringPattern{PatternType: domain.PatternDaily, Interval: 0}
		_, err := calc.Next(&pattern, date(2026, time.March, 10))
		assert.ErrorIs(t, err, domain.ErrIntervalNotPositive)
	})

	t.Run("unknown pattern type", func(t *testing.T) {
		t.Parallel()

		pattern := domain.RecurringPattern{PatternType: "yearly", Interval: 1}
		_, err := calc.Next(&pattern, date(2026, time.March, 10))
		assert.ErrorIs(t, err, domain.ErrInvalidPatternType)
	})
}
