package tariff

import (
	"time"

	"github.com/egaugemx/tarifador/pkg/types"
)

// SummerBounds returns the CFE summer season of year in loc: local midnight
// of the first Sunday of April up to, but excluding, local midnight of the
// last Sunday of October.
func SummerBounds(year int, loc *time.Location) (time.Time, time.Time) {
	april := time.Date(year, time.April, 1, 0, 0, 0, 0, time.UTC)
	forward := (7 - int(april.Weekday())) % 7

	october := time.Date(year, time.October, 31, 0, 0, 0, 0, time.UTC)
	back := int(october.Weekday())

	start := time.Date(year, time.April, 1+forward, 0, 0, 0, 0, loc)
	end := time.Date(year, time.October, 31-back, 0, 0, 0, 0, loc)
	return start, end
}

// SeasonOf returns the season of t, using t's own location and year.
func SeasonOf(t time.Time) types.Season {
	start, end := SummerBounds(t.Year(), t.Location())
	return seasonBetween(t, start, end)
}

func seasonBetween(t, start, end time.Time) types.Season {
	if !t.Before(start) && t.Before(end) {
		return types.SeasonSummer
	}
	return types.SeasonWinter
}
