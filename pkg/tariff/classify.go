package tariff

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/egaugemx/tarifador/pkg/types"
)

// ResultKind says how a result was obtained.
type ResultKind uint8

const (
	// ResultMissing means no label could be assigned.
	ResultMissing ResultKind = iota
	// ResultResolved means the timestamp was localised to the tariff zone.
	ResultResolved
	// ResultDegraded means the zone could not be loaded and the timestamp's
	// wall clock was used as is.
	ResultDegraded
)

func (k ResultKind) String() string {
	switch k {
	case ResultResolved:
		return "resolved"
	case ResultDegraded:
		return "degraded"
	default:
		return "missing"
	}
}

func (k ResultKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ResultKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "resolved":
		*k = ResultResolved
	case "degraded":
		*k = ResultDegraded
	case "missing":
		*k = ResultMissing
	default:
		return fmt.Errorf("unknown result kind: %q", s)
	}
	return nil
}

// Reason explains a missing or degraded result.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonInvalidTimestamp
	ReasonAmbiguousLocalTime
	ReasonUnknownTimezone
)

func (r Reason) String() string {
	switch r {
	case ReasonInvalidTimestamp:
		return "invalid_timestamp"
	case ReasonAmbiguousLocalTime:
		return "ambiguous_local_time"
	case ReasonUnknownTimezone:
		return "unknown_timezone"
	default:
		return ""
	}
}

func (r Reason) MarshalJSON() ([]byte, error) {
	if r == ReasonNone {
		return []byte("null"), nil
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts null, "" or a reason string.
func (r *Reason) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = ReasonNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, v := range []Reason{ReasonNone, ReasonInvalidTimestamp, ReasonAmbiguousLocalTime, ReasonUnknownTimezone} {
		if v.String() == s {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("unknown reason: %q", s)
}

// Result is the classification of a single timestamp.
type Result struct {
	Period types.Period `json:"period"`
	Kind   ResultKind   `json:"kind"`
	Reason Reason       `json:"reason"`
	// Shifted is set when a nonexistent local time was moved forward to the
	// end of the DST gap.
	Shifted bool            `json:"shifted,omitempty"`
	Local   time.Time       `json:"local,omitzero"`
	Season  types.Season    `json:"-"`
	Day     types.DayBucket `json:"-"`
}

// OK reports whether r carries a period.
func (r Result) OK() bool {
	return r.Kind != ResultMissing
}

func missing(reason Reason) Result {
	return Result{Kind: ResultMissing, Reason: reason}
}

type summer struct {
	start, end time.Time
}

// Classifier assigns GDMTH periods in a fixed timezone with a fixed holiday
// set. It is safe for concurrent use.
type Classifier struct {
	loc      *time.Location
	tz       string
	holidays types.HolidaySet
	// degraded holds the configuration error of a naive classifier
	degraded error

	mu    sync.RWMutex
	years map[int]summer
}

// NewClassifier loads tz and returns a classifier for it. An unknown or empty
// zone returns a *ConfigurationError.
func NewClassifier(tz string, holidays types.HolidaySet) (*Classifier, error) {
	tz, loc, err := loadZone(tz)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		loc:      loc,
		tz:       tz,
		holidays: holidays,
		years:    map[int]summer{},
	}, nil
}

func loadZone(tz string) (string, *time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return tz, nil, &ConfigurationError{Timezone: tz, Err: errors.New("timezone is required")}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return tz, nil, &ConfigurationError{Timezone: tz, Err: err}
	}
	return tz, loc, nil
}

// NewNaiveClassifier returns a classifier that reads every timestamp's wall
// clock as local time. Its results are ResultDegraded.
func NewNaiveClassifier(holidays types.HolidaySet, reason error) *Classifier {
	if reason == nil {
		reason = errors.New("naive wall-clock classification")
	}
	return &Classifier{
		loc:      time.UTC,
		holidays: holidays,
		degraded: reason,
		years:    map[int]summer{},
	}
}

// Resolve returns a classifier for tz, falling back to the naive strategy
// when tz cannot be loaded.
func Resolve(tz string, holidays types.HolidaySet) *Classifier {
	c, err := NewClassifier(tz, holidays)
	if err != nil {
		return NewNaiveClassifier(holidays, err)
	}
	return c
}

// Classify classifies a single timestamp in tz.
func Classify(ts Timestamp, tz string, holidays types.HolidaySet) (Result, error) {
	c, err := NewClassifier(tz, holidays)
	if err != nil {
		return Result{}, err
	}
	return c.Classify(ts), nil
}

// Timezone returns the zone name, empty for a naive classifier.
func (c *Classifier) Timezone() string {
	return c.tz
}

// Location returns the zone timestamps are localised to.
func (c *Classifier) Location() *time.Location {
	return c.loc
}

// Degraded returns the error that forced the naive strategy, or nil.
func (c *Classifier) Degraded() error {
	return c.degraded
}

// Classify localises ts and looks up its period.
func (c *Classifier) Classify(ts Timestamp) Result {
	local, shifted, reason := c.localize(ts)
	if reason != ReasonNone {
		return missing(reason)
	}
	return c.label(local, shifted)
}

// SummerBounds returns the cached summer season of year in the classifier's
// zone.
func (c *Classifier) SummerBounds(year int) (time.Time, time.Time) {
	s := c.summer(year)
	return s.start, s.end
}

func (c *Classifier) summer(year int) summer {
	c.mu.RLock()
	s, ok := c.years[year]
	c.mu.RUnlock()
	if ok {
		return s
	}

	start, end := SummerBounds(year, c.loc)
	s = summer{start: start, end: end}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.years[year]; ok {
		return existing
	}
	c.years[year] = s
	return s
}

func (c *Classifier) label(local time.Time, shifted bool) Result {
	s := c.summer(local.Year())
	season := seasonBetween(local, s.start, s.end)
	day := c.dayBucket(local)

	r := Result{
		Period:  PeriodAt(season, day, local.Hour()*60+local.Minute()),
		Kind:    ResultResolved,
		Shifted: shifted,
		Local:   local,
		Season:  season,
		Day:     day,
	}
	if c.degraded != nil {
		r.Kind = ResultDegraded
		r.Reason = ReasonUnknownTimezone
	}
	return r
}

func (c *Classifier) dayBucket(local time.Time) types.DayBucket {
	switch {
	case local.Weekday() == time.Sunday || c.holidays.Contains(types.DateOf(local)):
		return types.DaySundayOrHoliday
	case local.Weekday() == time.Saturday:
		return types.DaySaturday
	default:
		return types.DayWeekday
	}
}

// localize returns ts in the classifier's zone.
func (c *Classifier) localize(ts Timestamp) (time.Time, bool, Reason) {
	if !ts.Valid() {
		return time.Time{}, false, ReasonInvalidTimestamp
	}
	if c.degraded != nil {
		return wallClock(ts.Time, time.UTC), false, ReasonNone
	}
	if !ts.Naive {
		return ts.Time.In(c.loc), false, ReasonNone
	}
	return resolveWall(ts.Time, c.loc)
}

func wallClock(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), loc)
}

func sameWall(a, b time.Time) bool {
	ay, amo, ad := a.Date()
	by, bmo, bd := b.Date()
	ah, ami, as := a.Clock()
	bh, bmi, bs := b.Clock()
	return ay == by && amo == bmo && ad == bd &&
		ah == bh && ami == bmi && as == bs &&
		a.Nanosecond() == b.Nanosecond()
}

// resolveWall maps naive wall-clock fields onto an instant in loc. A wall
// clock inside a DST gap is moved to the first instant after the gap and a
// wall clock that occurs twice is reported as ambiguous.
func resolveWall(t time.Time, loc *time.Location) (time.Time, bool, Reason) {
	wall := wallClock(t, time.UTC)

	_, before := wall.Add(-36 * time.Hour).In(loc).Zone()
	_, after := wall.Add(36 * time.Hour).In(loc).Zone()
	offsets := []int{before}
	if after != before {
		offsets = append(offsets, after)
	}

	var found []time.Time
	for _, off := range offsets {
		cand := wall.Add(-time.Duration(off) * time.Second).In(loc)
		if sameWall(cand, wall) {
			found = append(found, cand)
		}
	}
	switch len(found) {
	case 1:
		return found[0], false, ReasonNone
	case 2:
		return time.Time{}, false, ReasonAmbiguousLocalTime
	}

	probe := wall.Add(-time.Duration(after) * time.Second).In(loc)
	_, end := probe.ZoneBounds()
	if end.IsZero() {
		return wallClock(t, loc), false, ReasonNone
	}
	return end.In(loc), true, ReasonNone
}
