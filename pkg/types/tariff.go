package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Period is a GDMTH time-of-use rate period.
type Period uint8

const (
	// PeriodNone marks a reading that could not be classified.
	PeriodNone Period = iota
	PeriodBase
	PeriodIntermedio
	PeriodPunta
)

// Periods lists the billable periods in receipt order.
var Periods = []Period{PeriodBase, PeriodIntermedio, PeriodPunta}

func (p Period) String() string {
	switch p {
	case PeriodBase:
		return "Base"
	case PeriodIntermedio:
		return "Intermedio"
	case PeriodPunta:
		return "Punta"
	default:
		return ""
	}
}

// Valid returns true for Base, Intermedio and Punta.
func (p Period) Valid() bool {
	return p >= PeriodBase && p <= PeriodPunta
}

// ParsePeriod parses a period label. The empty string is PeriodNone.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PeriodNone, nil
	case "base":
		return PeriodBase, nil
	case "intermedio":
		return PeriodIntermedio, nil
	case "punta":
		return PeriodPunta, nil
	}
	return PeriodNone, fmt.Errorf("unknown period: %q", s)
}

// MarshalJSON encodes PeriodNone as null and the rest as their label.
func (p Period) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts null, "" or a label.
func (p *Period) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = PeriodNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Season is the CFE tariff season.
type Season uint8

const (
	SeasonWinter Season = iota
	SeasonSummer
)

func (s Season) String() string {
	if s == SeasonSummer {
		return "summer"
	}
	return "winter"
}

// DayBucket groups days that share an interval table.
type DayBucket uint8

const (
	DayWeekday DayBucket = iota
	DaySaturday
	DaySundayOrHoliday
)

func (d DayBucket) String() string {
	switch d {
	case DaySaturday:
		return "saturday"
	case DaySundayOrHoliday:
		return "sunday_or_holiday"
	default:
		return "weekday"
	}
}

// Date is a calendar date without a time or a location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// DateOf returns the date of t's wall clock in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// In returns local midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Weekday returns the day of the week of d.
func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

// Before reports whether d is earlier than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// HolidaySet is a set of dates billed with the Sunday table. The nil set is
// empty and safe to read.
type HolidaySet map[Date]struct{}

// NewHolidaySet builds a set from dates.
func NewHolidaySet(dates ...Date) HolidaySet {
	hs := make(HolidaySet, len(dates))
	for _, d := range dates {
		hs[d] = struct{}{}
	}
	return hs
}

// ParseHolidays parses YYYY-MM-DD strings into a set. Blank entries are
// skipped.
func ParseHolidays(values []string) (HolidaySet, error) {
	hs := make(HolidaySet, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		d, err := ParseDate(v)
		if err != nil {
			return nil, err
		}
		hs[d] = struct{}{}
	}
	return hs, nil
}

// Contains reports whether d is a holiday.
func (hs HolidaySet) Contains(d Date) bool {
	_, ok := hs[d]
	return ok
}

// Union returns a new set with the dates of both sets.
func (hs HolidaySet) Union(o HolidaySet) HolidaySet {
	out := make(HolidaySet, len(hs)+len(o))
	for d := range hs {
		out[d] = struct{}{}
	}
	for d := range o {
		out[d] = struct{}{}
	}
	return out
}

// Sorted returns the dates in ascending order.
func (hs HolidaySet) Sorted() []Date {
	out := make([]Date, 0, len(hs))
	for d := range hs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
