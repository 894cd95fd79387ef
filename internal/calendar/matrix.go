// Package calendar builds the week-major month grid the calendar view
// walks over, plus the month arithmetic used by navigation and the
// history fetch window.
package calendar

import (
	"time"

	"presencecal/internal/model"
)

// BuildMonthGrid returns the MonthGrid for (year, month) in loc.
//
// The grid is ISO Monday-first: the first row is left-padded with empty
// cells so that day 1 lands in column ISOWeekday(day 1)-1, and the last
// row is right-padded with empty cells after the final day. Every
// non-empty cell is midnight of its day in loc.
//
// Any (year, month) pair is accepted; time.Date normalizes out-of-range
// months, so the function is total and deterministic.
func BuildMonthGrid(year int, month time.Month, loc *time.Location) model.MonthGrid {
	if loc == nil {
		loc = time.Local
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	days := DaysInMonth(year, month, loc)

	grid := make(model.MonthGrid, 0, 6)
	var week model.WeekRow
	col := ISOWeekday(first) - 1

	for day := 1; day <= days; day++ {
		week[col] = model.CalendarCell{
			Date: time.Date(year, month, day, 0, 0, 0, 0, loc),
		}
		col++
		if col == 7 {
			grid = append(grid, week)
			week = model.WeekRow{}
			col = 0
		}
	}
	if col != 0 {
		grid = append(grid, week)
	}

	return grid
}

// DaysInMonth returns the number of days in (year, month).
func DaysInMonth(year int, month time.Month, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// ISOWeekday returns the ISO weekday of t: Monday=1 .. Sunday=7.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// MonthBounds returns the inclusive fetch window for (year, month):
// the first instant of the month and 23:59:59 of its last day, both in
// loc with second precision, matching the history feed contract.
func MonthBounds(year int, month time.Month, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.Local
	}
	start = time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end = time.Date(year, month, DaysInMonth(year, month, loc), 23, 59, 59, 0, loc)
	return start, end
}

// AddMonths shifts (year, month) by delta calendar months. Navigation
// is unbounded in both directions.
func AddMonths(year int, month time.Month, delta int) (int, time.Month) {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return t.Year(), t.Month()
}
