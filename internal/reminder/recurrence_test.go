package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	christmas := model.SpecialDate{Date: day(1990, time.December, 25), Annual: true}
	leap := model.SpecialDate{Date: day(2000, time.February, 29), Annual: true}
	oneOff := model.SpecialDate{Date: day(2025, time.June, 1)}

	tests := []struct {
		name   string
		date   model.SpecialDate
		now    time.Time
		want   time.Time
		wantOK bool
	}{
		{"annual later this year", christmas, day(2025, time.December, 1), day(2025, time.December, 25), true},
		{"annual on the day", christmas, time.Date(2025, time.December, 25, 23, 59, 0, 0, time.UTC), day(2025, time.December, 25), true},
		{"annual day after rolls to next year", christmas, day(2025, time.December, 26), day(2026, time.December, 25), true},
		{"feb 29 in non-leap year", leap, day(2025, time.January, 10), day(2025, time.February, 28), true},
		{"feb 29 in leap year", leap, day(2028, time.January, 10), day(2028, time.February, 29), true},
		{"feb 29 after feb 28 in non-leap year", leap, day(2025, time.March, 1), day(2026, time.February, 28), true},
		{"one-off in future", oneOff, day(2025, time.May, 14), day(2025, time.June, 1), true},
		{"one-off on the day", oneOff, time.Date(2025, time.June, 1, 18, 0, 0, 0, time.UTC), day(2025, time.June, 1), true},
		{"one-off in past", oneOff, day(2025, time.June, 2), time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextOccurrence(tt.date, tt.now, time.UTC)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			}
		})
	}
}

func TestNextOccurrence_UsesLocationCalendarDay(t *testing.T) {
	sast := time.FixedZone("SAST", 2*60*60)
	birthday := model.SpecialDate{Date: day(1980, time.May, 15), Annual: true}

	// 23:30 UTC on the 14th is already the 15th two hours east.
	now := time.Date(2025, time.May, 14, 23, 30, 0, 0, time.UTC)

	got, ok := NextOccurrence(birthday, now, sast)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, time.May, 15, 0, 0, 0, 0, sast), got)

	got, ok = NextOccurrence(birthday, now, time.UTC)
	require.True(t, ok)
	assert.Equal(t, day(2025, time.May, 15), got)
}

func TestUpcomingWithin(t *testing.T) {
	dates := []model.SpecialDate{
		{ID: 1, Label: "far", Date: day(1990, time.August, 1), Annual: true},
		{ID: 2, Label: "soon", Date: day(1990, time.May, 20), Annual: true},
		{ID: 3, Label: "today", Date: day(1990, time.May, 14), Annual: true},
		{ID: 4, Label: "gone", Date: day(2024, time.May, 20)},
	}
	now := time.Date(2025, time.May, 14, 9, 0, 0, 0, time.UTC)

	got := UpcomingWithin(dates, now, 30, time.UTC)
	require.Len(t, got, 2)
	assert.Equal(t, "today", got[0].Date.Label)
	assert.Equal(t, 0, got[0].DaysAway)
	assert.Equal(t, "soon", got[1].Date.Label)
	assert.Equal(t, 6, got[1].DaysAway)
}
