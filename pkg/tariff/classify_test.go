package tariff

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egaugemx/tarifador/pkg/types"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func naiveAt(y int, m time.Month, d, h, min int) Timestamp {
	return Naive(time.Date(y, m, d, h, min, 0, 0, time.UTC))
}

func TestSummerBounds(t *testing.T) {
	loc := mustLoad(t, "America/Mexico_City")

	for _, tc := range []struct {
		year       int
		start, end int
	}{
		{2024, 7, 27},
		{2023, 2, 29},
		{2022, 3, 30},
		{2018, 1, 28},
		{2021, 4, 31},
	} {
		t.Run(fmt.Sprint(tc.year), func(t *testing.T) {
			start, end := SummerBounds(tc.year, loc)
			assert.Equal(t, time.Date(tc.year, time.April, tc.start, 0, 0, 0, 0, loc), start)
			assert.Equal(t, time.Date(tc.year, time.October, tc.end, 0, 0, 0, 0, loc), end)
			assert.Equal(t, time.Sunday, start.Weekday())
			assert.Equal(t, time.Sunday, end.Weekday())
		})
	}

	t.Run("half-open", func(t *testing.T) {
		start, end := SummerBounds(2024, loc)
		assert.Equal(t, types.SeasonSummer, SeasonOf(start))
		assert.Equal(t, types.SeasonWinter, SeasonOf(start.Add(-time.Nanosecond)))
		assert.Equal(t, types.SeasonSummer, SeasonOf(end.Add(-time.Nanosecond)))
		assert.Equal(t, types.SeasonWinter, SeasonOf(end))
	})
}

func TestIntervalsPartitionDay(t *testing.T) {
	for _, season := range []types.Season{types.SeasonWinter, types.SeasonSummer} {
		for _, day := range []types.DayBucket{types.DayWeekday, types.DaySaturday, types.DaySundayOrHoliday} {
			t.Run(season.String()+"/"+day.String(), func(t *testing.T) {
				ivs := Intervals(season, day)
				require.NotEmpty(t, ivs)
				assert.Equal(t, 0, ivs[0].Start)
				assert.Equal(t, MinutesPerDay, ivs[len(ivs)-1].End)
				for i := 1; i < len(ivs); i++ {
					assert.Equal(t, ivs[i-1].End, ivs[i].Start)
				}

				for m := 0; m < MinutesPerDay; m++ {
					hits := 0
					for _, iv := range ivs {
						if m >= iv.Start && m < iv.End {
							hits++
						}
					}
					require.Equal(t, 1, hits, "minute %d", m)
					require.True(t, PeriodAt(season, day, m).Valid(), "minute %d", m)
				}
				assert.Equal(t, types.PeriodNone, PeriodAt(season, day, -1))
				assert.Equal(t, types.PeriodNone, PeriodAt(season, day, MinutesPerDay))
			})
		}
	}
}

func TestClassify(t *testing.T) {
	c, err := NewClassifier("America/Mexico_City", nil)
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		ts   Timestamp
		want types.Period
	}{
		{"summer weekday night", naiveAt(2024, time.July, 1, 5, 59), types.PeriodBase},
		{"summer weekday morning", naiveAt(2024, time.July, 1, 6, 0), types.PeriodIntermedio},
		{"summer weekday before punta", naiveAt(2024, time.July, 1, 19, 59), types.PeriodIntermedio},
		{"summer weekday punta", naiveAt(2024, time.July, 1, 20, 30), types.PeriodPunta},
		{"summer weekday late", naiveAt(2024, time.July, 1, 22, 0), types.PeriodIntermedio},
		{"summer saturday", naiveAt(2024, time.July, 6, 6, 59), types.PeriodBase},
		{"summer saturday day", naiveAt(2024, time.July, 6, 7, 0), types.PeriodIntermedio},
		{"summer sunday", naiveAt(2024, time.July, 7, 18, 59), types.PeriodBase},
		{"summer sunday evening", naiveAt(2024, time.July, 7, 19, 0), types.PeriodIntermedio},
		{"winter weekday", naiveAt(2024, time.January, 2, 17, 59), types.PeriodIntermedio},
		{"winter weekday punta", naiveAt(2024, time.January, 2, 18, 0), types.PeriodPunta},
		{"winter saturday base", naiveAt(2024, time.January, 6, 7, 59), types.PeriodBase},
		{"winter saturday punta", naiveAt(2024, time.January, 6, 19, 0), types.PeriodPunta},
		{"winter saturday late", naiveAt(2024, time.January, 6, 21, 0), types.PeriodIntermedio},
		{"winter sunday", naiveAt(2024, time.January, 7, 18, 0), types.PeriodIntermedio},
		{"season starts at midnight", naiveAt(2024, time.April, 7, 0, 0), types.PeriodBase},
		{"last winter minute", naiveAt(2024, time.April, 6, 23, 59), types.PeriodIntermedio},
		{"aware converts", Aware(time.Date(2024, time.July, 2, 2, 30, 0, 0, time.UTC)), types.PeriodPunta},
		{"seconds truncated", Naive(time.Date(2024, time.July, 1, 19, 59, 59, 999, time.UTC)), types.PeriodIntermedio},
		{"new year eve", naiveAt(2024, time.December, 31, 23, 59), types.PeriodIntermedio},
		{"new year", naiveAt(2025, time.January, 1, 0, 0), types.PeriodBase},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := c.Classify(tc.ts)
			assert.Equal(t, ResultResolved, r.Kind)
			assert.Equal(t, tc.want, r.Period)
			assert.False(t, r.Shifted)
		})
	}

	t.Run("season field", func(t *testing.T) {
		assert.Equal(t, types.SeasonSummer, c.Classify(naiveAt(2024, time.April, 7, 0, 0)).Season)
		assert.Equal(t, types.SeasonWinter, c.Classify(naiveAt(2024, time.October, 27, 0, 0)).Season)
		assert.Equal(t, types.SeasonSummer, c.Classify(naiveAt(2024, time.October, 26, 23, 59)).Season)
	})

	t.Run("invalid", func(t *testing.T) {
		r := c.Classify(Timestamp{})
		assert.Equal(t, ResultMissing, r.Kind)
		assert.Equal(t, ReasonInvalidTimestamp, r.Reason)
		assert.Equal(t, types.PeriodNone, r.Period)
	})

	t.Run("idempotent", func(t *testing.T) {
		ts := naiveAt(2024, time.March, 15, 18, 45)
		first := c.Classify(ts)
		assert.Equal(t, first, c.Classify(ts))
		assert.Equal(t, first.Period, c.Classify(Aware(first.Local)).Period)
	})
}

func TestClassifyHolidays(t *testing.T) {
	ts := naiveAt(2024, time.January, 1, 10, 0)

	r, err := Classify(ts, "America/Mexico_City", nil)
	require.NoError(t, err)
	assert.Equal(t, types.PeriodIntermedio, r.Period)
	assert.Equal(t, types.DayWeekday, r.Day)

	r, err = Classify(ts, "America/Mexico_City", types.NewHolidaySet(types.Date{Year: 2024, Month: time.January, Day: 1}))
	require.NoError(t, err)
	assert.Equal(t, types.PeriodBase, r.Period)
	assert.Equal(t, types.DaySundayOrHoliday, r.Day)

	// a holiday on a Saturday uses the Sunday table
	sat := naiveAt(2024, time.January, 6, 19, 0)
	r, err = Classify(sat, "America/Mexico_City", types.NewHolidaySet(types.Date{Year: 2024, Month: time.January, Day: 6}))
	require.NoError(t, err)
	assert.Equal(t, types.PeriodIntermedio, r.Period)

	// the holiday is matched on the local date, not the UTC date
	aware := Aware(time.Date(2024, time.January, 2, 3, 0, 0, 0, time.UTC))
	r, err = Classify(aware, "America/Mexico_City", MexicanHolidays(2024))
	require.NoError(t, err)
	assert.Equal(t, types.DaySundayOrHoliday, r.Day)
	assert.Equal(t, types.PeriodIntermedio, r.Period)
}

func TestClassifyDST(t *testing.T) {
	loc := mustLoad(t, "America/Tijuana")
	c, err := NewClassifier("America/Tijuana", nil)
	require.NoError(t, err)

	t.Run("gap shifts forward", func(t *testing.T) {
		r := c.Classify(naiveAt(2024, time.March, 10, 2, 30))
		assert.Equal(t, ResultResolved, r.Kind)
		assert.True(t, r.Shifted)
		assert.True(t, r.Local.Equal(time.Date(2024, time.March, 10, 3, 0, 0, 0, loc)))
		assert.Equal(t, 3, r.Local.Hour())
		assert.Equal(t, types.PeriodBase, r.Period)
	})

	t.Run("ambiguous is missing", func(t *testing.T) {
		r := c.Classify(naiveAt(2024, time.November, 3, 1, 30))
		assert.Equal(t, ResultMissing, r.Kind)
		assert.Equal(t, ReasonAmbiguousLocalTime, r.Reason)
		assert.Equal(t, types.PeriodNone, r.Period)
	})

	t.Run("after overlap", func(t *testing.T) {
		r := c.Classify(naiveAt(2024, time.November, 3, 2, 30))
		assert.Equal(t, ResultResolved, r.Kind)
		_, offset := r.Local.Zone()
		assert.Equal(t, -8*3600, offset)
	})

	t.Run("regular time", func(t *testing.T) {
		r := c.Classify(naiveAt(2024, time.July, 1, 20, 30))
		assert.Equal(t, ResultResolved, r.Kind)
		_, offset := r.Local.Zone()
		assert.Equal(t, -7*3600, offset)
		assert.Equal(t, types.PeriodPunta, r.Period)
	})

	t.Run("batch counts", func(t *testing.T) {
		b := c.ClassifyMany([]Timestamp{
			naiveAt(2024, time.March, 10, 2, 30),
			naiveAt(2024, time.November, 3, 1, 30),
			naiveAt(2024, time.July, 1, 20, 30),
		})
		assert.Equal(t, Counts{Total: 3, Resolved: 2, Missing: 1, Shifted: 1, Ambiguous: 1}, b.Counts)
	})
}

func TestConfigurationError(t *testing.T) {
	_, err := Classify(naiveAt(2024, time.July, 1, 20, 30), "Mars/Olympus_Mons", nil)
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "Mars/Olympus_Mons", cerr.Timezone)

	_, err = NewClassifier("  ", nil)
	assert.True(t, errors.As(err, &cerr))
}

func TestResolveDegraded(t *testing.T) {
	c := Resolve("Mars/Olympus_Mons", nil)
	var cerr *ConfigurationError
	require.True(t, errors.As(c.Degraded(), &cerr))
	assert.Empty(t, c.Timezone())

	r := c.Classify(naiveAt(2024, time.July, 1, 20, 30))
	assert.Equal(t, ResultDegraded, r.Kind)
	assert.Equal(t, ReasonUnknownTimezone, r.Reason)
	assert.Equal(t, types.PeriodPunta, r.Period)

	// the wall clock of an aware timestamp is used unchanged
	r = c.Classify(Aware(time.Date(2024, time.July, 1, 20, 30, 0, 0, time.FixedZone("", -6*3600))))
	assert.Equal(t, types.PeriodPunta, r.Period)

	b := c.ClassifyStrings([]string{"2024-07-01T20:30:00", "nope"})
	assert.Equal(t, Counts{Total: 2, Degraded: 1, Missing: 1, Invalid: 1}, b.Counts)

	ok := Resolve("America/Mexico_City", nil)
	assert.NoError(t, ok.Degraded())
	assert.Equal(t, "America/Mexico_City", ok.Timezone())
}

func TestClassifyStringsNullPropagation(t *testing.T) {
	c, err := NewClassifier("America/Mexico_City", nil)
	require.NoError(t, err)

	start := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	var values []string
	for i := 0; i < 100; i++ {
		values = append(values, start.Add(time.Duration(i)*15*time.Minute).Format("2006-01-02 15:04:05"))
	}
	values = append(values, "not-a-date")

	b := c.ClassifyStrings(values)
	require.Len(t, b.Results, 101)
	labels := b.Labels()
	for i := 0; i < 100; i++ {
		assert.True(t, labels[i].Valid(), "index %d", i)
	}
	assert.Equal(t, types.PeriodNone, labels[100])
	assert.Equal(t, ReasonInvalidTimestamp, b.Results[100].Reason)
	assert.Equal(t, 100, b.Counts.Resolved)
	assert.Equal(t, 1, b.Counts.Missing)
	assert.Equal(t, 1, b.Counts.Invalid)

	empty := c.ClassifyStrings(nil)
	assert.Empty(t, empty.Results)
	assert.Equal(t, Counts{}, empty.Counts)
}

func TestClassifyManyCachesYears(t *testing.T) {
	c, err := NewClassifier("America/Mexico_City", nil)
	require.NoError(t, err)

	b := c.ClassifyMany([]Timestamp{
		naiveAt(2023, time.December, 31, 12, 0),
		naiveAt(2024, time.January, 1, 12, 0),
		naiveAt(2024, time.July, 1, 12, 0),
		{},
	})
	assert.Len(t, b.Results, 4)
	c.mu.RLock()
	assert.Len(t, c.years, 2)
	c.mu.RUnlock()

	start, end := c.SummerBounds(2024)
	assert.Equal(t, 7, start.Day())
	assert.Equal(t, 27, end.Day())
}

func TestClassifierConcurrent(t *testing.T) {
	c, err := NewClassifier("America/Mexico_City", MexicanHolidays(2024))
	require.NoError(t, err)

	var timestamps []Timestamp
	for y := 2020; y <= 2030; y++ {
		timestamps = append(timestamps, naiveAt(y, time.June, 3, 20, 15))
	}
	want := c.ClassifyMany(timestamps)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, c.ClassifyMany(timestamps))
		}()
	}
	wg.Wait()
}

func TestParseTimestamp(t *testing.T) {
	for _, tc := range []struct {
		in    string
		naive bool
		want  time.Time
	}{
		{"2024-07-01T20:30:00", true, time.Date(2024, 7, 1, 20, 30, 0, 0, time.UTC)},
		{"2024-07-01 20:30", true, time.Date(2024, 7, 1, 20, 30, 0, 0, time.UTC)},
		{"2024-07-01 20:30:15.5", true, time.Date(2024, 7, 1, 20, 30, 15, 500000000, time.UTC)},
		{"2024-07-01", true, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-07-01T20:30:00-06:00", false, time.Date(2024, 7, 2, 2, 30, 0, 0, time.UTC)},
		{"2024-07-02T02:30:00Z", false, time.Date(2024, 7, 2, 2, 30, 0, 0, time.UTC)},
		{"2024-07-01 20:30:00-0600", false, time.Date(2024, 7, 2, 2, 30, 0, 0, time.UTC)},
		{"1719887400", false, time.Date(2024, 7, 2, 2, 30, 0, 0, time.UTC)},
	} {
		t.Run(tc.in, func(t *testing.T) {
			ts, err := ParseTimestamp(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.naive, ts.Naive)
			assert.True(t, tc.want.Equal(ts.Time), "got %s", ts.Time)
		})
	}

	for _, in := range []string{"", "  ", "yesterday", "2024-13-01", "-"} {
		_, err := ParseTimestamp(in)
		assert.Error(t, err, in)
	}
}

func TestClassifierHolidays(t *testing.T) {
	hs := MexicanHolidays(2024)
	c, err := NewClassifier("America/Mexico_City", hs)
	require.NoError(t, err)
	assert.Equal(t, hs, c.Holidays())
}

func TestBatchJSONRoundTrip(t *testing.T) {
	c, err := NewClassifier("America/Tijuana", nil)
	require.NoError(t, err)

	batches := []Batch{
		c.ClassifyStrings([]string{"2024-07-01T20:30:00", "nope", "2024-11-03T01:30:00", "2024-03-10T02:30:00"}),
		Resolve("Mars/Olympus_Mons", nil).ClassifyStrings([]string{"2024-07-01T20:30:00"}),
	}
	for _, b := range batches {
		raw, err := json.Marshal(b)
		require.NoError(t, err)

		var got Batch
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, b.Counts, got.Counts)
		require.Len(t, got.Results, len(b.Results))
		for i, want := range b.Results {
			assert.Equal(t, want.Kind, got.Results[i].Kind, i)
			assert.Equal(t, want.Reason, got.Results[i].Reason, i)
			assert.Equal(t, want.Period, got.Results[i].Period, i)
			assert.Equal(t, want.Shifted, got.Results[i].Shifted, i)
			assert.True(t, want.Local.Equal(got.Results[i].Local), i)
		}
	}
	assert.Equal(t, ResultMissing, batches[0].Results[1].Kind)
	assert.Equal(t, ReasonAmbiguousLocalTime, batches[0].Results[2].Reason)
	assert.Equal(t, ResultDegraded, batches[1].Results[0].Kind)
}

func TestResultJSONErrors(t *testing.T) {
	var k ResultKind
	assert.ErrorContains(t, json.Unmarshal([]byte(`"guessed"`), &k), "unknown result kind")
	assert.Error(t, json.Unmarshal([]byte(`1`), &k))

	var r Reason
	require.NoError(t, json.Unmarshal([]byte(`null`), &r))
	assert.Equal(t, ReasonNone, r)
	require.NoError(t, json.Unmarshal([]byte(`"unknown_timezone"`), &r))
	assert.Equal(t, ReasonUnknownTimezone, r)
	assert.ErrorContains(t, json.Unmarshal([]byte(`"late"`), &r), "unknown reason")
}
