package calendar

import (
	"testing"
	"time"
)

func TestBuildMonthGrid_ReconstructsMonth(t *testing.T) {
	cases := []struct {
		year  int
		month time.Month
	}{
		{2025, time.June},      // starts on a Sunday (column 7)
		{2025, time.September}, // starts on a Monday
		{2024, time.February},  // leap month
		{2026, time.February},  // non-leap, 28 days
		{2025, time.December},
	}

	for _, tc := range cases {
		grid := BuildMonthGrid(tc.year, tc.month, time.UTC)

		var days []int
		for _, week := range grid {
			for _, cell := range week {
				if !cell.Empty() {
					days = append(days, cell.Date.Day())
				}
			}
		}

		want := DaysInMonth(tc.year, tc.month, time.UTC)
		if len(days) != want {
			t.Fatalf("%d-%02d: got %d cells, want %d", tc.year, tc.month, len(days), want)
		}
		for i, d := range days {
			if d != i+1 {
				t.Fatalf("%d-%02d: cell %d holds day %d, want %d", tc.year, tc.month, i, d, i+1)
			}
		}
	}
}

func TestBuildMonthGrid_FirstDayColumn(t *testing.T) {
	for year := 2020; year <= 2027; year++ {
		for m := time.January; m <= time.December; m++ {
			grid := BuildMonthGrid(year, m, time.UTC)
			if len(grid) == 0 {
				t.Fatalf("%d-%02d: empty grid", year, m)
			}

			first := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
			wantCol := ISOWeekday(first) - 1

			for col, cell := range grid[0] {
				if cell.Empty() {
					if col >= wantCol {
						t.Fatalf("%d-%02d: padding cell at column %d, first day belongs at %d", year, m, col, wantCol)
					}
					continue
				}
				if col != wantCol {
					t.Fatalf("%d-%02d: day 1 in column %d, want %d", year, m, col, wantCol)
				}
				break
			}
		}
	}
}

func TestBuildMonthGrid_Deterministic(t *testing.T) {
	a := BuildMonthGrid(2025, time.June, time.UTC)
	b := BuildMonthGrid(2025, time.June, time.UTC)
	if len(a) != len(b) {
		t.Fatalf("grids differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("week %d differs between runs", i)
		}
	}
}

func TestISOWeekday(t *testing.T) {
	// 2025-06-02 is a Monday, 2025-06-08 a Sunday.
	mon := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)
	sun := time.Date(2025, time.June, 8, 0, 0, 0, 0, time.UTC)
	if got := ISOWeekday(mon); got != 1 {
		t.Fatalf("Monday: got %d, want 1", got)
	}
	if got := ISOWeekday(sun); got != 7 {
		t.Fatalf("Sunday: got %d, want 7", got)
	}
}

func TestMonthBounds(t *testing.T) {
	start, end := MonthBounds(2025, time.June, time.UTC)
	if !start.Equal(time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", start)
	}
	if !end.Equal(time.Date(2025, time.June, 30, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("end = %v", end)
	}
}

func TestAddMonths_Unbounded(t *testing.T) {
	year, month := AddMonths(2025, time.January, -1)
	if year != 2024 || month != time.December {
		t.Fatalf("prev from 2025-01: got %d-%02d", year, month)
	}
	year, month = AddMonths(2025, time.December, 1)
	if year != 2026 || month != time.January {
		t.Fatalf("next from 2025-12: got %d-%02d", year, month)
	}
	year, month = AddMonths(2025, time.June, -30)
	if year != 2022 || month != time.December {
		t.Fatalf("30 months back from 2025-06: got %d-%02d", year, month)
	}
}
