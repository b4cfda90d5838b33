package reminder

import (
	"sort"
	"time"

	"welfare/internal/model"
)

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// onDay builds midnight of year/month/day in loc. February 29 falls back to
// February 28 in non-leap years.
func onDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	if month == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// NextOccurrence is the single place where a special date is turned into a
// concrete calendar day. It returns the first occurrence on or after the
// calendar day of now (in loc). Annual dates use only month and day; one-off
// dates occur once and report false once that day has passed.
func NextOccurrence(d model.SpecialDate, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	today := StartOfDay(now, loc)
	_, month, day := d.Date.Date()

	if !d.Annual {
		occ := onDay(d.Date.Year(), month, day, loc)
		if occ.Before(today) {
			return time.Time{}, false
		}
		return occ, true
	}

	occ := onDay(today.Year(), month, day, loc)
	if occ.Before(today) {
		occ = onDay(today.Year()+1, month, day, loc)
	}
	return occ, true
}

type Upcoming struct {
	Date       model.SpecialDate
	Occurrence time.Time
	DaysAway   int
}

// UpcomingWithin lists dates whose next occurrence is at most days calendar
// days after now, soonest first.
func UpcomingWithin(dates []model.SpecialDate, now time.Time, days int, loc *time.Location) []Upcoming {
	if loc == nil {
		loc = time.UTC
	}
	today := StartOfDay(now, loc)
	var out []Upcoming
	for _, d := range dates {
		occ, ok := NextOccurrence(d, now, loc)
		if !ok {
			continue
		}
		away := daysBetween(today, occ)
		if away > days {
			continue
		}
		out = append(out, Upcoming{Date: d, Occurrence: occ, DaysAway: away})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Occurrence.Equal(out[j].Occurrence) {
			return out[i].Occurrence.Before(out[j].Occurrence)
		}
		return out[i].Date.ID < out[j].Date.ID
	})
	return out
}

// daysBetween counts calendar days, immune to DST-length days.
func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
