package tariff

import "github.com/egaugemx/tarifador/pkg/types"

// MinutesPerDay bounds the minute-of-day used for interval lookups.
const MinutesPerDay = 24 * 60

// Interval is a half-open [Start, End) range of minutes after local midnight.
type Interval struct {
	Start  int          `json:"start"`
	End    int          `json:"end"`
	Period types.Period `json:"period"`
}

// gdmth holds the GDMTH interval tables indexed by season and day bucket.
// Each table is sorted and partitions [0, MinutesPerDay).
var gdmth = [2][3][]Interval{
	types.SeasonSummer: {
		types.DayWeekday: {
			{0, 360, types.PeriodBase},
			{360, 1200, types.PeriodIntermedio},
			{1200, 1320, types.PeriodPunta},
			{1320, 1440, types.PeriodIntermedio},
		},
		types.DaySaturday: {
			{0, 420, types.PeriodBase},
			{420, 1440, types.PeriodIntermedio},
		},
		types.DaySundayOrHoliday: {
			{0, 1140, types.PeriodBase},
			{1140, 1440, types.PeriodIntermedio},
		},
	},
	types.SeasonWinter: {
		types.DayWeekday: {
			{0, 360, types.PeriodBase},
			{360, 1080, types.PeriodIntermedio},
			{1080, 1320, types.PeriodPunta},
			{1320, 1440, types.PeriodIntermedio},
		},
		types.DaySaturday: {
			{0, 480, types.PeriodBase},
			{480, 1140, types.PeriodIntermedio},
			{1140, 1260, types.PeriodPunta},
			{1260, 1440, types.PeriodIntermedio},
		},
		types.DaySundayOrHoliday: {
			{0, 1080, types.PeriodBase},
			{1080, 1440, types.PeriodIntermedio},
		},
	},
}

// Intervals returns a copy of the table for season and day.
func Intervals(season types.Season, day types.DayBucket) []Interval {
	return append([]Interval(nil), gdmth[season][day]...)
}

// PeriodAt returns the period containing minute, or PeriodNone when minute is
// outside [0, MinutesPerDay).
func PeriodAt(season types.Season, day types.DayBucket, minute int) types.Period {
	for _, iv := range gdmth[season][day] {
		if minute >= iv.Start && minute < iv.End {
			return iv.Period
		}
	}
	return types.PeriodNone
}
