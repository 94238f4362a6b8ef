package tariff

import (
	"time"

	"github.com/egaugemx/tarifador/pkg/types"
)

// MexicanHolidays returns the statutory rest days of the Ley Federal del
// Trabajo for year, including the presidential transmission day.
func MexicanHolidays(year int) types.HolidaySet {
	hs := types.NewHolidaySet(
		types.Date{Year: year, Month: time.January, Day: 1},
		nthWeekday(year, time.February, time.Monday, 1),
		nthWeekday(year, time.March, time.Monday, 3),
		types.Date{Year: year, Month: time.May, Day: 1},
		types.Date{Year: year, Month: time.September, Day: 16},
		nthWeekday(year, time.November, time.Monday, 3),
		types.Date{Year: year, Month: time.December, Day: 25},
	)
	switch {
	case year >= 2024 && (year-2024)%6 == 0:
		hs[types.Date{Year: year, Month: time.October, Day: 1}] = struct{}{}
	case year < 2024 && (year-2018)%6 == 0:
		hs[types.Date{Year: year, Month: time.December, Day: 1}] = struct{}{}
	}
	return hs
}

// MexicanHolidaysBetween merges MexicanHolidays for every year in [from, to].
func MexicanHolidaysBetween(from, to int) types.HolidaySet {
	hs := types.HolidaySet{}
	for y := from; y <= to; y++ {
		for d := range MexicanHolidays(y) {
			hs[d] = struct{}{}
		}
	}
	return hs
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) types.Date {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return types.Date{Year: year, Month: month, Day: 1 + offset + (n-1)*7}
}
