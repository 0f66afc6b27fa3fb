package xsd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateTime wraps a time.Time plus whether the lexical form carried an
// explicit timezone, since xsd:dateTime values with and without a timezone
// are drawn from different (if overlapping) value spaces. Ordering here
// uses UnixNano of the UTC-normalized instant, treating timezone-less
// values as UTC — a documented simplification of the full XSD partial
// order, acceptable because spec.md §3.2(b) only requires a total order
// within the type, not XSD's exact (sometimes indeterminate) comparison.
type DateTime struct {
	T       time.Time
	HasZone bool
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func ParseDateTime(s string) (DateTime, error) {
	s = strings.TrimSpace(s)
	hasZone := strings.HasSuffix(s, "Z") || hasNumericOffset(s)
	for i, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if !hasZone {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
			}
			_ = i
			return DateTime{T: t, HasZone: hasZone}, nil
		}
	}
	return DateTime{}, fmt.Errorf("xsd:dateTime: invalid lexical form %q", s)
}

func hasNumericOffset(s string) bool {
	// look for a +HH:MM or -HH:MM after the time-of-day's seconds field
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		rest := s[i:]
		if j := strings.LastIndexAny(rest, "+-"); j > 0 {
			return true
		}
	}
	return false
}

func (d DateTime) String() string {
	if d.HasZone {
		return d.T.Format(time.RFC3339Nano)
	}
	return d.T.Format("2006-01-02T15:04:05.999999999")
}

func (d DateTime) Cmp(o DateTime) int {
	switch {
	case d.T.Before(o.T):
		return -1
	case d.T.After(o.T):
		return 1
	default:
		return 0
	}
}

func (d DateTime) UnixNanoOrdering() int64 { return d.T.UnixNano() }

// Date is the xsd:date value space: a calendar day, optionally zoned.
type Date struct {
	T       time.Time
	HasZone bool
}

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	hasZone := strings.HasSuffix(s, "Z") || strings.LastIndexAny(s, "+-") >= 10
	layout := "2006-01-02"
	body := s
	zone := ""
	if strings.HasSuffix(s, "Z") {
		body = s[:len(s)-1]
	} else if idx := strings.LastIndexAny(s, "+-"); idx >= 10 {
		body, zone = s[:idx], s[idx:]
	}
	t, err := time.Parse(layout, body)
	if err != nil {
		return Date{}, fmt.Errorf("xsd:date: invalid lexical form %q", s)
	}
	_ = zone
	if !hasZone {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return Date{T: t, HasZone: hasZone}, nil
}

func (d Date) String() string { return d.T.Format("2006-01-02") }

func (d Date) Cmp(o Date) int {
	switch {
	case d.T.Before(o.T):
		return -1
	case d.T.After(o.T):
		return 1
	default:
		return 0
	}
}

func (d Date) DaysSinceEpoch() int64 { return d.T.Unix() / 86400 }

// TimeOfDay is the xsd:time value space.
type TimeOfDay struct {
	T       time.Time
	HasZone bool
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	hasZone := strings.HasSuffix(s, "Z") || strings.LastIndexAny(s, "+-") > 0
	for _, layout := range []string{"15:04:05.999999999Z07:00", "15:04:05Z07:00", "15:04:05.999999999", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			if !hasZone {
				t = time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
			}
			return TimeOfDay{T: t, HasZone: hasZone}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("xsd:time: invalid lexical form %q", s)
}

func (t TimeOfDay) String() string {
	if t.HasZone {
		return t.T.Format("15:04:05.999999999Z07:00")
	}
	return t.T.Format("15:04:05.999999999")
}

func (t TimeOfDay) Cmp(o TimeOfDay) int {
	switch {
	case t.T.Before(o.T):
		return -1
	case t.T.After(o.T):
		return 1
	default:
		return 0
	}
}

func (t TimeOfDay) NanosSinceMidnight() int64 {
	return int64(t.T.Hour())*3600e9 + int64(t.T.Minute())*60e9 + int64(t.T.Second())*1e9 + int64(t.T.Nanosecond())
}

// GYear is the xsd:gYear value space: a signed proleptic-Gregorian year.
type GYear int64

func ParseGYear(s string) (GYear, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")
	body = strings.TrimPrefix(body, "+")
	// Drop a trailing timezone, if present, after the (at least 4-digit)
	// year: "Z", or a "+HH:MM"/"-HH:MM" offset past position 4.
	if i := strings.IndexByte(body, 'Z'); i >= 4 {
		body = body[:i]
	} else if i := strings.LastIndexAny(body, "+-"); i >= 4 {
		body = body[:i]
	}
	y, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("xsd:gYear: invalid lexical form %q", s)
	}
	if neg {
		y = -y
	}
	return GYear(y), nil
}

func (g GYear) String() string { return fmt.Sprintf("%04d", int64(g)) }
func (g GYear) Cmp(o GYear) int {
	switch {
	case g < o:
		return -1
	case g > o:
		return 1
	default:
		return 0
	}
}
