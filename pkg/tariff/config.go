package tariff

import (
	"fmt"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/egaugemx/tarifador/pkg/types"
)

const (
	// DefaultTimezone is the zone of central Mexico.
	DefaultTimezone = "America/Mexico_City"

	firstHolidayYear  = 2015
	holidayYearsAhead = 5
)

// Configured registers the tariff flags and returns the classifier they
// configure.
func Configured() *Classifier {
	c := &Classifier{years: map[int]summer{}}

	tz := lflag.String("tariff-timezone", DefaultTimezone, "IANA timezone readings are billed in")
	holidays := lflag.String("holidays", "", "Comma-separated YYYY-MM-DD dates billed with the Sunday table")
	mexican := lflag.Bool("mexican-holidays", true, "Add the Mexican statutory holidays to --holidays")

	lflag.Do(func() {
		hs, err := types.ParseHolidays(strings.Split(*holidays, ","))
		if err != nil {
			panic(fmt.Errorf("invalid --holidays: %w", err))
		}
		if *mexican {
			hs = hs.Union(MexicanHolidaysBetween(firstHolidayYear, time.Now().Year()+holidayYearsAhead))
		}
		name, loc, err := loadZone(*tz)
		if err != nil {
			panic(err)
		}
		c.tz = name
		c.loc = loc
		c.holidays = hs
	})
	return c
}

// Holidays returns the classifier's holiday set.
func (c *Classifier) Holidays() types.HolidaySet {
	return c.holidays
}
