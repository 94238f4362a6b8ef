package tariff

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp is a meter timestamp. A naive timestamp carries only wall-clock
// fields, which are read as local to the tariff timezone.
type Timestamp struct {
	Time  time.Time
	Naive bool
}

// Aware returns an absolute timestamp.
func Aware(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// Naive returns a wall-clock timestamp. Only the date and clock fields of t
// are used.
func Naive(t time.Time) Timestamp {
	return Timestamp{Time: t, Naive: true}
}

// Valid reports whether ts holds a time.
func (ts Timestamp) Valid() bool {
	return !ts.Time.IsZero()
}

var awareLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses ISO-8601 text or integer epoch seconds. Text without
// an offset is naive; epoch seconds are absolute.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, fmt.Errorf("empty timestamp")
	}
	if isDigits(s) {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Timestamp{}, fmt.Errorf("invalid epoch timestamp %q: %w", s, err)
		}
		return Aware(time.Unix(sec, 0).UTC()), nil
	}
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Aware(t), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Naive(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

func isDigits(s string) bool {
	if s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
